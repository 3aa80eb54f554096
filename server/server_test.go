package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookahead/pkg/labeler"
	"github.com/cyclopcam/lookahead/pkg/nn"
	"github.com/cyclopcam/lookahead/pkg/speech"
	"github.com/cyclopcam/lookahead/server/model"
	"github.com/cyclopcam/lookahead/server/storage"
	"github.com/stretchr/testify/require"
)

var (
	red  = color.RGBA{255, 0, 0, 255}
	gray = color.RGBA{64, 64, 64, 255}
)

// A person in the forward path, and a larger tree in the top-left corner
var streetDetections = []nn.Detection{
	{Label: "person", Confidence: 95, Boxes: []nn.NormalizedBox{{Left: 0.4, Top: 0.4, Width: 0.1, Height: 0.1}}},
	{Label: "tree", Confidence: 70, Boxes: []nn.NormalizedBox{{Left: 0, Top: 0, Width: 0.1, Height: 0.2}}},
}

type testServer struct {
	*Server
	labeler *labeler.Fixed
	speech  *speech.Echo
}

func newTestServer(t *testing.T, configure func(cfg *Config)) *testServer {
	dir := t.TempDir()
	cfg := &Config{
		DB:       dbh.MakeSqliteConfig(filepath.Join(dir, "lookahead.sqlite")),
		Storage:  StorageConfig{Filesystem: &StorageConfigFS{Root: filepath.Join(dir, "images")}},
		TempPath: filepath.Join(dir, "tmp"),
		Labeler:  LabelerConfig{Backend: LabelerNone},
		Speech:   SpeechConfig{Backend: SpeechNone},
	}
	if configure != nil {
		configure(cfg)
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	ts := &testServer{
		labeler: &labeler.Fixed{Detections: streetDetections},
		speech:  &speech.Echo{},
	}
	s, err := NewServerWithConfig(logs.NewTestingLog(t), cfg, Collaborators{
		Labeler:     ts.labeler,
		Synthesizer: ts.speech,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.fonts.Wait(ctx))
	t.Cleanup(func() {
		if sqlDB, err := s.DB.DB(); err == nil {
			sqlDB.Close()
		}
	})
	ts.Server = s
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	return ts.do(t, httptest.NewRequest("GET", path, nil))
}

func (ts *testServer) upload(t *testing.T, path, field, filename string, content []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		fw.Write(content)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest("POST", path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(t, req)
}

func streetPNG(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1000, 500))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []byte{gray.R, gray.G, gray.B, 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestPing(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.get(t, "/api/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := struct {
		Time      int64 `json:"time"`
		FontReady bool  `json:"fontReady"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Greater(t, resp.Time, int64(0))
	require.True(t, resp.FontReady)
}

func TestUploadAnalyzeSpeak(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	uploaded := struct {
		ImageName string `json:"imageName"`
		ID        int64  `json:"id"`
		Message   string `json:"message"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	require.Equal(t, "street.png", uploaded.ImageName)
	require.Equal(t, "success", uploaded.Message)
	require.NotZero(t, uploaded.ID)

	rec = ts.get(t, "/api/analyze/street.png?showObjects=true")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	announcement, err := url.PathUnescape(rec.Header().Get(HeaderAnnouncement))
	require.NoError(t, err)
	// The tree is outside the forward path, but it's still the most prominent object
	require.Equal(t, "There is a tree ahead.", announcement)
	analysisID, err := strconv.ParseInt(rec.Header().Get(HeaderAnalysisID), 10, 64)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 1000, img.Bounds().Dx())
	require.Equal(t, 500, img.Bounds().Dy())
	require.Equal(t, red, rgbaAt(img, 400, 200))
	require.Equal(t, gray, rgbaAt(img, 0, 0))

	rec = ts.get(t, "/api/analysis/"+strconv.FormatInt(analysisID, 10))
	require.Equal(t, http.StatusOK, rec.Code)
	analysis := model.Analysis{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	require.Equal(t, "street.png", analysis.ImageKey)
	require.Equal(t, "tree", analysis.Label)
	require.Equal(t, 2, analysis.NumDetections)
	require.Equal(t, 1, analysis.NumDrawn)
	require.True(t, analysis.ShowObjects)

	rec = ts.get(t, "/api/speech?analysis="+strconv.FormatInt(analysisID, 10))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, "There is a tree ahead.", rec.Body.String())
}

func TestAnalyzeShrinksLargeImages(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.MaxImageSize = 500
	})
	ts.labeler.Detections = nil
	require.Equal(t, http.StatusOK, ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t)).Code)

	rec := ts.get(t, "/api/analyze/street.png")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err := png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 500, cfg.Width)
	require.Equal(t, 250, cfg.Height)
	announcement, _ := url.PathUnescape(rec.Header().Get(HeaderAnnouncement))
	require.Equal(t, "There is nothing ahead.", announcement)
}

func TestUploadErrors(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.MaxUploadMB = 1
	})
	require.Equal(t, http.StatusBadRequest, ts.upload(t, "/api/upload", "", "", nil).Code)
	require.Equal(t, http.StatusBadRequest, ts.upload(t, "/api/upload", "wrongfield", "a.png", []byte("x")).Code)
	require.Equal(t, http.StatusBadRequest, ts.upload(t, "/api/upload", "image", "..", []byte("x")).Code)
	require.Equal(t, http.StatusRequestEntityTooLarge, ts.upload(t, "/api/upload", "image", "big.png", make([]byte, 1024*1024+1)).Code)
}

func TestAnalyzeErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusNotFound, ts.get(t, "/api/analyze/missing.png").Code)

	require.Equal(t, http.StatusOK, ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t)).Code)
	ts.labeler.Err = errors.New("quota exceeded")
	require.Equal(t, http.StatusInternalServerError, ts.get(t, "/api/analyze/street.png").Code)

	ts.labeler.Err = nil
	require.Equal(t, http.StatusOK, ts.upload(t, "/api/upload", "image", "notes.txt", []byte("not an image")).Code)
	require.Equal(t, http.StatusInternalServerError, ts.get(t, "/api/analyze/notes.txt").Code)

	require.Equal(t, http.StatusBadRequest, ts.get(t, "/api/analysis/abc").Code)
	require.Equal(t, http.StatusNotFound, ts.get(t, "/api/analysis/999").Code)
}

func TestSpeechRequiresAnalysisByDefault(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusBadRequest, ts.get(t, "/api/speech").Code)
	require.Equal(t, http.StatusNotFound, ts.get(t, "/api/speech?analysis=5").Code)

	require.Equal(t, http.StatusOK, ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t)).Code)
	rec := ts.get(t, "/api/analyze/street.png")
	require.Equal(t, http.StatusOK, rec.Code)
	ts.speech.Err = errors.New("TTS is down")
	rec = ts.get(t, "/api/speech?analysis="+rec.Header().Get(HeaderAnalysisID))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSharedSelectedLabel(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.SharedSelectedLabel = true
		cfg.Announce.Found = "전방에 %s 있습니다."
		cfg.Announce.Nothing = "전방에 아무 것도 없습니다."
	})
	// Nothing analyzed yet
	require.Equal(t, http.StatusNotFound, ts.get(t, "/tts").Code)

	require.Equal(t, http.StatusOK, ts.upload(t, "/upload", "image", "street.png", streetPNG(t)).Code)
	require.Equal(t, http.StatusOK, ts.get(t, "/analyze/street.png").Code)
	rec := ts.get(t, "/tts")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "전방에 tree 있습니다.", rec.Body.String())

	// The most recent analysis wins
	ts.labeler.Detections = nil
	require.Equal(t, http.StatusOK, ts.get(t, "/analyze/street.png").Code)
	require.Equal(t, "전방에 아무 것도 없습니다.", ts.get(t, "/tts").Body.String())
}

func TestSpeechDisabled(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		DB:       dbh.MakeSqliteConfig(filepath.Join(dir, "lookahead.sqlite")),
		Storage:  StorageConfig{Filesystem: &StorageConfigFS{Root: filepath.Join(dir, "images")}},
		TempPath: filepath.Join(dir, "tmp"),
		Labeler:  LabelerConfig{Backend: LabelerNone},
		Speech:   SpeechConfig{Backend: SpeechNone},
	}
	cfg.SetDefaults()
	s, err := NewServerWithConfig(logs.NewTestingLog(t), cfg, Collaborators{})
	require.NoError(t, err)
	defer func() {
		if sqlDB, err := s.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/speech?analysis=1", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStaticIndex(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Lookahead")
}

func TestUploadKey(t *testing.T) {
	require.Equal(t, "cat.jpg", uploadKey("cat.jpg"))
	require.Equal(t, "cat.jpg", uploadKey("C:\\Users\\me\\cat.jpg"))
	require.Equal(t, "cat.jpg", uploadKey("/tmp/cat.jpg"))
	require.Equal(t, "사진.png", uploadKey("사진.png"))
	require.Equal(t, "", uploadKey(""))
	require.Equal(t, "", uploadKey(".."))
	require.Equal(t, "", uploadKey("/"))
}

func TestLabelSlot(t *testing.T) {
	slot := &LabelSlot{}
	_, _, ok := slot.Get()
	require.False(t, ok)

	done := make(chan bool)
	for i := 0; i < 8; i++ {
		go func(i int) {
			for j := 0; j < 100; j++ {
				slot.Set(int64(i), "x")
			}
			done <- true
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	_, sentence, ok := slot.Get()
	require.True(t, ok)
	require.Equal(t, "x", sentence)
}

// analyzeWith runs one upload+analyze cycle with the given detections, and returns the stored record
func analyzeWith(t *testing.T, ts *testServer, dets []nn.Detection) (model.Analysis, image.Image) {
	ts.labeler.Detections = dets
	require.Equal(t, http.StatusOK, ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t)).Code)
	rec := ts.get(t, "/api/analyze/street.png")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	rec = ts.get(t, "/api/analysis/"+rec.Header().Get(HeaderAnalysisID))
	require.Equal(t, http.StatusOK, rec.Code)
	analysis := model.Analysis{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	return analysis, img
}

func box(left, top, width, height float64) []nn.NormalizedBox {
	return []nn.NormalizedBox{{Left: left, Top: top, Width: width, Height: height}}
}

// Two overlapping "car" boxes, where the second one is the most prominent object.
// Their IoU is 0.04/0.0484 = 0.83.
var overlappingCars = []nn.Detection{
	{Label: "car", Confidence: 90, Boxes: []nn.NormalizedBox{
		{Left: 0.4, Top: 0.4, Width: 0.2, Height: 0.2},
		{Left: 0.4, Top: 0.4, Width: 0.22, Height: 0.22},
	}},
	{Label: "dog", Confidence: 80, Boxes: box(0, 0, 0.21, 0.21)},
}

func TestSelectionWithDefaultConfig(t *testing.T) {
	ts := newTestServer(t, nil)
	cases := []struct {
		name     string
		dets     []nn.Detection
		sentence string
	}{
		{"largest of 0.3, 0.9, 0.5", []nn.Detection{
			{Label: "cone", Confidence: 50, Boxes: box(0.4, 0.4, 0.15, 0.15)},
			{Label: "bus", Confidence: 50, Boxes: box(0.4, 0.4, 0.45, 0.45)},
			{Label: "bench", Confidence: 50, Boxes: box(0.4, 0.4, 0.25, 0.25)},
		}, "There is a bus ahead."},
		{"tie keeps the first", []nn.Detection{
			{Label: "cat", Confidence: 50, Boxes: box(0.1, 0.1, 0.2, 0.2)},
			{Label: "dog", Confidence: 99, Boxes: box(0.5, 0.5, 0.2, 0.2)},
		}, "There is a cat ahead."},
		{"every instance counts", overlappingCars, "There is a car ahead."},
		{"nothing", nil, "There is nothing ahead."},
	}
	for _, c := range cases {
		analysis, _ := analyzeWith(t, ts, c.dets)
		require.Equal(t, c.sentence, analysis.Sentence, c.name)
	}
}

func TestOverlappingInstancesAreAllDrawnByDefault(t *testing.T) {
	ts := newTestServer(t, nil)
	analysis, img := analyzeWith(t, ts, overlappingCars)
	require.Equal(t, "car", analysis.Label)
	require.Equal(t, 3, analysis.NumDetections)
	require.Equal(t, 2, analysis.NumDrawn)
	// Right edge of the second car box, which spans x 400..619
	require.Equal(t, red, rgbaAt(img, 619, 250))
	require.Equal(t, red, rgbaAt(img, 599, 250))
}

func TestDuplicateMergeIsOptIn(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.DuplicateIoU = 0.7
	})
	analysis, img := analyzeWith(t, ts, overlappingCars)
	// The second car box is dropped, so the dog is now the largest object
	require.Equal(t, "There is a dog ahead.", analysis.Sentence)
	require.Equal(t, 2, analysis.NumDetections)
	require.Equal(t, 1, analysis.NumDrawn)
	require.Equal(t, gray, rgbaAt(img, 619, 250))
	require.Equal(t, red, rgbaAt(img, 599, 250))
}

func TestConcurrentAnalyze(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t)).Code)

	var wg sync.WaitGroup
	codes := make([]int, 4)
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = ts.get(t, "/api/analyze/street.png").Code
		}()
	}
	wg.Wait()
	require.Equal(t, []int{200, 200, 200, 200}, codes)
	require.Equal(t, int64(4), ts.labeler.Calls.Load())
}

func TestUploadRolledBackWhenRecordFails(t *testing.T) {
	ts := newTestServer(t, nil)
	sqlDB, err := ts.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	rec := ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	_, err = os.Stat(filepath.Join(ts.config.Storage.Filesystem.Root, "street.png"))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, 0, ts.imageCache.Stats().Items)
}

// publicStorage pretends that its files are served by a CDN
type publicStorage struct {
	storage.Storage
}

func (p *publicStorage) URL(name string) (string, error) {
	return "https://images.example.com/" + name, nil
}

func TestUploadPublicURL(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotContains(t, resp, "url")

	ts.storage = &publicStorage{Storage: ts.storage}
	rec = ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "https://images.example.com/street.png", resp["url"])
}

func TestHotReloadWWW(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "server", "www"), 0770))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server", "www", "index.html"), []byte("<html>edited on disk</html>"), 0660))
	t.Chdir(dir)

	ts := newTestServer(t, func(cfg *Config) {
		cfg.HotReloadWWW = true
	})
	rec := ts.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "edited on disk")
}

func TestTempPathSharedWithData(t *testing.T) {
	var dataDir string
	ts := newTestServer(t, func(cfg *Config) {
		dataDir = filepath.Dir(cfg.DB.Database)
		cfg.TempPath = dataDir
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, "notes.txt"), []byte("keep"), 0660))
	})
	_, err := os.Stat(filepath.Join(dataDir, "lookahead.sqlite"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dataDir, "notes.txt"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, ts.upload(t, "/api/upload", "image", "street.png", streetPNG(t)).Code)
}

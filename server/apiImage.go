package server

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/lookahead/pkg/iox"
	"github.com/cyclopcam/lookahead/server/model"
	"github.com/cyclopcam/lookahead/server/storage"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"gorm.io/gorm"
)

// Upload form field that holds the image
const uploadField = "image"

// Response headers of the analyze endpoint
const (
	HeaderAnalysisID   = "X-Analysis-Id"
	HeaderAnnouncement = "X-Announcement" // URL-escaped, because it's usually not ASCII
)

// uploadKey turns a client-supplied filename into a storage key.
// Returns an empty string if nothing usable remains.
func uploadKey(filename string) string {
	key := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	key = strings.TrimSpace(key)
	if key == "." || key == "/" || strings.Contains(key, "..") {
		return ""
	}
	return key
}

func (s *Server) httpUpload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	maxBytes := int64(s.config.MaxUploadMB) * 1024 * 1024
	// Leave some room for the rest of the multipart body
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+64*1024)

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			www.Panic(http.StatusRequestEntityTooLarge, "Image is too large")
		}
		www.PanicBadRequestf("No files chosen")
	}
	defer file.Close()

	key := uploadKey(header.Filename)
	if key == "" {
		www.PanicBadRequestf("Invalid file name '%v'", header.Filename)
	}

	// Stage the upload on disk, so that a slow client doesn't hold a blob store write open
	tempFile := s.tempFiles.Get()
	defer func() {
		if err := os.Remove(tempFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.Log.Warnf("Failed to delete temporary upload file %v: %v", tempFile, err)
		}
	}()
	if _, err := iox.WriteStreamToFile(tempFile, file, maxBytes); err != nil {
		if errors.Is(err, iox.ErrTooLarge) {
			www.Panic(http.StatusRequestEntityTooLarge, "Image is too large")
		}
		s.Log.Errorf("Failed to stage upload %v: %v", key, err)
		www.PanicServerError("Error reading file")
	}
	raw, err := os.ReadFile(tempFile)
	if err != nil {
		s.Log.Errorf("Failed to read staged upload %v: %v", tempFile, err)
		www.PanicServerError("Error reading file")
	}

	if err := storage.WriteFile(s.storage, key, bytes.NewReader(raw)); err != nil {
		s.Log.Errorf("Failed to store %v: %v", key, err)
		www.PanicServerError("Error uploading image")
	}
	s.imageCache.Put(key, raw)

	upload := model.Upload{
		Key:         key,
		Size:        int64(len(raw)),
		ContentType: http.DetectContentType(raw),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.DB.Create(&upload).Error; err != nil {
		s.Log.Errorf("Failed to record upload %v: %v", key, err)
		s.removeUpload(key)
		www.PanicServerError("Error uploading image")
	}
	s.Log.Infof("Uploaded %v (%v bytes, %v)", key, upload.Size, upload.ContentType)

	// Public buckets let clients fetch the original directly
	publicURL, err := s.storage.URL(key)
	if err != nil && !errors.Is(err, storage.ErrNoPublicUrl) {
		s.Log.Warnf("Failed to get public URL of %v: %v", key, err)
	}

	type response struct {
		ImageName string `json:"imageName"`
		ID        int64  `json:"id"`
		URL       string `json:"url,omitempty"`
		Message   string `json:"message"`
	}
	www.SendJSON(w, &response{
		ImageName: key,
		ID:        upload.ID,
		URL:       publicURL,
		Message:   "success",
	})
}

// removeUpload undoes the blob store write and cache insert of a failed upload
func (s *Server) removeUpload(key string) {
	s.imageCache.Invalidate(key)
	if err := s.storage.DeleteFile(key); err != nil {
		s.Log.Warnf("Failed to delete %v after failed upload: %v", key, err)
	}
}

func (s *Server) httpAnalyze(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	imageKey := params.ByName("imageName")
	showObjects := www.QueryValue(r, "showObjects") == "true"

	result, err := s.analyze(r.Context(), imageKey, showObjects)
	if errors.Is(err, storage.ErrNotFound) {
		www.PanicNotFound()
	} else if errors.Is(err, storage.ErrInvalidName) {
		www.PanicBadRequestf("Invalid image name '%v'", imageKey)
	} else if err != nil {
		s.Log.Errorf("Error analyzing %v: %v", imageKey, err)
		www.PanicServerError("Error analyzing image")
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set(HeaderAnalysisID, strconv.FormatInt(result.Record.ID, 10))
	w.Header().Set(HeaderAnnouncement, url.PathEscape(result.Record.Sentence))
	www.CacheNever(w)
	w.Write(result.Rendered.PNG)
}

func (s *Server) httpGetAnalysis(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	analysis := s.getAnalysis(params.ByName("id"))
	www.SendJSON(w, analysis)
}

// getAnalysis panics with 400 or 404 if the ID is invalid or unknown
func (s *Server) getAnalysis(idStr string) *model.Analysis {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		www.PanicBadRequestf("Invalid analysis ID '%v'", idStr)
	}
	analysis := model.Analysis{}
	err = s.DB.First(&analysis, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	return &analysis
}

package annotate

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cyclopcam/logs"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
)

// DefaultFontSize is the caption font size, in pixels
const DefaultFontSize = 32

// FontLoader loads the caption font once, in the background.
// Until loading has finished, NewFace returns false, and callers must render
// without captions. Callers never observe a partially loaded font, because the
// parsed font is published with a single atomic store.
//
// A font.Face is not safe for concurrent use (it caches glyphs), so every request
// gets its own face from NewFace.
type FontLoader struct {
	log  logs.Log
	path string // Empty means the embedded Go Bold font
	size float64

	font    atomic.Pointer[truetype.Font]
	done    chan struct{}
	start   sync.Once
	loadErr error // Only valid after done is closed
}

func NewFontLoader(log logs.Log, path string, size float64) *FontLoader {
	if size <= 0 {
		size = DefaultFontSize
	}
	return &FontLoader{
		log:  log,
		path: path,
		size: size,
		done: make(chan struct{}),
	}
}

// Start begins loading the font on a background goroutine.
// Calling Start more than once has no effect.
func (f *FontLoader) Start() {
	f.start.Do(func() {
		go f.load()
	})
}

// Load loads the font on the calling goroutine, and returns when it's ready.
func (f *FontLoader) Load() error {
	f.start.Do(f.load)
	<-f.done
	return f.loadErr
}

func (f *FontLoader) load() {
	defer close(f.done)
	ttf := gobold.TTF
	source := "embedded Go Bold"
	if f.path != "" {
		raw, err := os.ReadFile(f.path)
		if err != nil {
			f.loadErr = fmt.Errorf("Failed to read font %v: %w", f.path, err)
			f.log.Errorf("%v. Captions will be disabled", f.loadErr)
			return
		}
		ttf = raw
		source = f.path
	}
	parsed, err := truetype.Parse(ttf)
	if err != nil {
		f.loadErr = fmt.Errorf("Failed to parse font %v: %w", source, err)
		f.log.Errorf("%v. Captions will be disabled", f.loadErr)
		return
	}
	f.font.Store(parsed)
	f.log.Infof("Loaded caption font %v (%v px)", source, f.size)
}

// Wait blocks until the font has finished loading (successfully or not), or ctx expires.
func (f *FontLoader) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready returns true once the font has been successfully loaded
func (f *FontLoader) Ready() bool {
	return f.font.Load() != nil
}

// Size returns the font size in pixels
func (f *FontLoader) Size() float64 {
	return f.size
}

// NewFace returns a new face for the loaded font, or false if the font is not ready.
func (f *FontLoader) NewFace() (font.Face, bool) {
	parsed := f.font.Load()
	if parsed == nil {
		return nil, false
	}
	return truetype.NewFace(parsed, &truetype.Options{
		Size:    f.size,
		DPI:     72,
		Hinting: font.HintingFull,
	}), true
}

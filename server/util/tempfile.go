package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TempFiles assigns temporary filenames, and automatically deletes old temporary files.
// Uploads are staged here before being copied to the blob store. Callers are expected
// to delete their own files, so the periodic sweep only catches files that were
// orphaned by a failed delete or a crash.
type TempFiles struct {
	Root string

	lock            sync.Mutex // guards access to all internal state
	lastCleanup     time.Time
	cleanupInterval time.Duration
	maxAge          time.Duration
	counter         int64
}

// Creates the root directory, and deletes any of our files left behind by a previous run.
// Other files in root are never touched.
func NewTempFiles(root string) (*TempFiles, error) {
	if err := os.MkdirAll(root, 0770); err != nil {
		return nil, fmt.Errorf("Failed to create temporary file directory '%v': %w", root, err)
	}

	all, _ := filepath.Glob(filepath.Join(root, "*"))
	for _, fn := range all {
		if _, ok := parseTempName(fn); ok {
			os.Remove(fn)
		}
	}
	return &TempFiles{
		Root:            root,
		lastCleanup:     time.Now(),
		cleanupInterval: 1 * time.Minute,
		maxAge:          10 * time.Minute,
	}, nil
}

// Get a new temporary filename.
// The name is "<unix nanoseconds>-<counter>", so that concurrent callers never collide.
func (t *TempFiles) Get() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	if time.Since(t.lastCleanup) > t.cleanupInterval {
		t.lastCleanup = time.Now()
		go t.cleanOld()
	}
	t.counter++
	return filepath.Join(t.Root, fmt.Sprintf("%d-%d", time.Now().UnixNano(), t.counter))
}

// this must not touch any shared mutable state, or take the lock
func (t *TempFiles) cleanOld() {
	all, _ := filepath.Glob(filepath.Join(t.Root, "*"))
	now := time.Now().UnixNano()
	threshold := t.maxAge.Nanoseconds()
	for _, fn := range all {
		createdAt, ok := parseTempName(fn)
		if ok && now-createdAt > threshold {
			os.Remove(fn)
		}
	}
}

// parseTempName returns the creation time (unix nanoseconds) of a file named by Get
func parseTempName(fn string) (int64, bool) {
	stamp, counter, found := strings.Cut(filepath.Base(fn), "-")
	if !found {
		return 0, false
	}
	createdAt, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return 0, false
	}
	if _, err := strconv.ParseInt(counter, 10, 64); err != nil {
		return 0, false
	}
	return createdAt, true
}

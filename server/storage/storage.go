package storage

import (
	"errors"
	"io"
	"time"
)

var ErrNoPublicUrl = errors.New("No public URL available")
var ErrNotFound = errors.New("File not found")
var ErrInvalidName = errors.New("Invalid file name")

// Storage is an abstraction of a blob store (eg GCS)
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader.
	// Returns an error wrapping ErrNotFound if the file does not exist.
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error

	// Returns ErrNoPublicUrl if the file cannot be fetched directly by a client
	URL(name string) (string, error)
}

// ObjectURIer is implemented by stores whose objects can be read directly by
// other cloud services (eg gs://bucket/name for Cloud Vision).
type ObjectURIer interface {
	ObjectURI(name string) string
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}

// ObjectURI returns the cloud URI of name, or an empty string if s has no such concept
func ObjectURI(s Storage, name string) string {
	if u, ok := s.(ObjectURIer); ok {
		return u.ObjectURI(name)
	}
	return ""
}

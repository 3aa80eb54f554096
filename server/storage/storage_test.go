package storage

import (
	"bytes"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestFilesystemRoundTrip(t *testing.T) {
	fs, err := NewStorageFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)

	content := []byte("not really a jpeg")
	require.NoError(t, WriteFile(fs, "photos/cat.jpg", bytes.NewReader(content)))

	got, err := ReadFile(fs, "photos/cat.jpg")
	require.NoError(t, err)
	require.Equal(t, content, got)

	f, err := fs.ReadFile("photos/cat.jpg")
	require.NoError(t, err)
	require.EqualValues(t, len(content), f.Size)
	f.Reader.Close()

	_, err = fs.URL("photos/cat.jpg")
	require.ErrorIs(t, err, ErrNoPublicUrl)
	require.Equal(t, "", ObjectURI(fs, "photos/cat.jpg"))

	require.NoError(t, fs.DeleteFile("photos/cat.jpg"))
	_, err = fs.ReadFile("photos/cat.jpg")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemRejectsEscapes(t *testing.T) {
	fs, err := NewStorageFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"", "../x", "a/../../b", "/etc/passwd"} {
		_, err := fs.WriteFile(name)
		require.ErrorIs(t, err, ErrInvalidName, name)
		_, err = fs.ReadFile(name)
		require.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestGCSURLs(t *testing.T) {
	// No network access needed to build URLs
	s := &StorageGCS{bucketName: "photos", isPublic: true}
	u, err := s.URL("a.jpg")
	require.NoError(t, err)
	require.Equal(t, "https://storage.googleapis.com/photos/a.jpg", u)
	require.Equal(t, "gs://photos/a.jpg", ObjectURI(s, "a.jpg"))

	s.isPublic = false
	_, err = s.URL("a.jpg")
	require.ErrorIs(t, err, ErrNoPublicUrl)
}

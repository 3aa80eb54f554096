package iox

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrTooLarge = errors.New("Stream exceeds size limit")

// WriteStreamToFile copies src into a new file, and returns the number of bytes written.
// If src holds more than maxBytes, the file is removed and ErrTooLarge is returned.
// maxBytes <= 0 means no limit.
func WriteStreamToFile(dstFilename string, src io.Reader, maxBytes int64) (int64, error) {
	dstFile, err := os.Create(dstFilename)
	if err != nil {
		return 0, err
	}
	if maxBytes > 0 {
		// Read one extra byte, so we can tell "exactly maxBytes" apart from "too large"
		src = io.LimitReader(src, maxBytes+1)
	}
	n, err := io.Copy(dstFile, src)
	if err == nil && maxBytes > 0 && n > maxBytes {
		err = fmt.Errorf("%w (%v bytes)", ErrTooLarge, maxBytes)
	}
	errClose := dstFile.Close()
	if err == nil {
		err = errClose
	}
	if err != nil {
		os.Remove(dstFilename)
		return 0, err
	}
	return n, nil
}

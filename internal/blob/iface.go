// Package blob stores job media (original uploads and transcoded audio)
// in an object store.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
)

// ErrNoObject is returned when the requested key does not exist.
var ErrNoObject = errors.New("blob: no object")

// Store is an object store addressed by slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, r io.ReadSeeker, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// UploadKey is where an uploaded original lives. Only the base name of
// filename is used.
func UploadKey(jobID, filename string) string {
	return path.Join("uploads", jobID, filepath.Base(filename))
}

// AudioKey is where the transcoded audio for a job lives.
func AudioKey(jobID string) string {
	return path.Join("audio", jobID, "audio.mp3")
}

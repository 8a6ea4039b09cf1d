package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local is a Store backed by a directory on the local filesystem.
type Local struct {
	path string
}

// NewLocal initializes a local store, creating the directory if necessary.
func NewLocal(dir string) (*Local, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("blob.NewLocal: failed to make path %q absolute: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("blob.NewLocal: failed to create path %q: %w", dir, err)
	}
	return &Local{path: dir}, nil
}

func (s *Local) pathForKey(key string) (string, error) {
	p := filepath.Join(s.path, filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if p == s.path || !strings.HasPrefix(p, s.path+string(filepath.Separator)) {
		return "", fmt.Errorf("blob.Local: invalid key %q", key)
	}
	return p, nil
}

func (s *Local) Put(ctx context.Context, key string, r io.ReadSeeker, contentType string) error {
	p, err := s.pathForKey(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(p)
		return err
	}
	if err := f.Sync(); err != nil {
		os.Remove(p)
		return err
	}
	return nil
}

func (s *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.pathForKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoObject, key)
	}
	return f, err
}

func (s *Local) Delete(ctx context.Context, key string) error {
	p, err := s.pathForKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore keeps files under a directory.
type LocalStore struct {
	dir string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) path(handle string) (string, error) {
	if err := checkHandle(handle); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(handle)), nil
}

// Open retrieves a file for reading.
func (s *LocalStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	p, err := s.path(handle)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Put writes r under handle, creating directories as needed. A partial file
// is removed on error.
func (s *LocalStore) Put(_ context.Context, handle string, r io.Reader) error {
	p, err := s.path(handle)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create upload directory: %w", err)
	}

	dst, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(p)
		return fmt.Errorf("copy file content: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(p)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

// Delete removes a file; a missing file is not an error.
func (s *LocalStore) Delete(_ context.Context, handle string) error {
	p, err := s.path(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

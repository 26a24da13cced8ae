package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps images in a directory served by the HTTP handler
type LocalStore struct {
	dir       string
	urlPrefix string
}

// NewLocalStore creates dir if needed
func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &LocalStore{dir: dir, urlPrefix: urlPrefix}, nil
}

// Dir returns the directory images are written to
func (s *LocalStore) Dir() string {
	return s.dir
}

// URLPrefix returns the path images are served under
func (s *LocalStore) URLPrefix() string {
	return s.urlPrefix
}

func (s *LocalStore) path(name string) (string, error) {
	safe := SafeName(name)
	if safe == "" {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	return filepath.Join(s.dir, safe), nil
}

// Save writes the image to disk
func (s *LocalStore) Save(ctx context.Context, name string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return s.urlPrefix + url.PathEscape(filepath.Base(path)), nil
}

// Delete removes the image; a missing file is not an error
func (s *LocalStore) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing image: %w", err)
	}
	return nil
}

// Package storage persists submitted images so they can be shown on the leaderboard.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/grass-leaderboard/internal/config"
)

// Store writes and removes images by name
type Store interface {
	// Save stores data under name and returns the public URL of the image
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, name string) error
}

// New builds the store selected by cfg.Driver
func New(cfg *config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "local", "":
		return NewLocalStore(cfg.Dir, cfg.URLPrefix)
	case "s3":
		return NewS3Store(&cfg.S3)
	case "cloudinary":
		return NewCloudinaryStore(&cfg.Cloudinary, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// SafeName strips any directory components and characters that do not
// belong in an object key, keeping the original extension.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}

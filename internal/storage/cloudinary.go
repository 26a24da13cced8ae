package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/grass-leaderboard/internal/config"
)

// CloudinaryStore uploads images to a Cloudinary folder
type CloudinaryStore struct {
	cld    *cloudinary.Cloudinary
	folder string
	logger *slog.Logger
}

// NewCloudinaryStore creates a Cloudinary client from credentials
func NewCloudinaryStore(cfg *config.CloudinaryConfig, logger *slog.Logger) (*CloudinaryStore, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary configuration is missing")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("initializing cloudinary: %w", err)
	}

	return &CloudinaryStore{
		cld:    cld,
		folder: cfg.Folder,
		logger: logger.With("component", "cloudinary_store"),
	}, nil
}

func publicID(name string) string {
	safe := SafeName(name)
	return strings.TrimSuffix(safe, path.Ext(safe))
}

// Save uploads the image and returns its secure URL
func (s *CloudinaryStore) Save(ctx context.Context, name string, data []byte, _ string) (string, error) {
	id := publicID(name)
	if id == "" {
		return "", fmt.Errorf("invalid image name %q", name)
	}

	result, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     id,
		Folder:       s.folder,
		ResourceType: "image",
	})
	if err != nil {
		return "", fmt.Errorf("uploading to cloudinary: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("uploading to cloudinary: %s", result.Error.Message)
	}
	return result.SecureURL, nil
}

// Delete destroys the uploaded asset
func (s *CloudinaryStore) Delete(ctx context.Context, name string) error {
	id := publicID(name)
	if s.folder != "" {
		id = s.folder + "/" + id
	}
	result, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: id})
	if err != nil {
		return fmt.Errorf("deleting from cloudinary: %w", err)
	}
	if result.Error.Message != "" {
		return fmt.Errorf("deleting from cloudinary: %s", result.Error.Message)
	}
	s.logger.Debug("image destroyed", "public_id", id, "result", result.Result)
	return nil
}

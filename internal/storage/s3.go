package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/grass-leaderboard/internal/config"
)

// S3Store keeps images in an S3 (or S3-compatible) bucket
type S3Store struct {
	client    *s3.S3
	bucket    string
	publicURL string
}

// NewS3Store creates a session from static credentials
func NewS3Store(cfg *config.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		DisableSSL:       aws.Bool(!cfg.UseSSL),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("creating s3 session: %w", err)
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		host := cfg.Endpoint
		if host == "" {
			host = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		}
		if !strings.Contains(host, "://") {
			host = scheme + "://" + host
		}
		publicURL = strings.TrimRight(host, "/") + "/" + cfg.Bucket
	}

	return &S3Store{
		client:    s3.New(sess),
		bucket:    cfg.Bucket,
		publicURL: publicURL,
	}, nil
}

// Save uploads the image
func (s *S3Store) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := SafeName(name)
	if key == "" {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return "", fmt.Errorf("uploading to s3: %w", err)
	}
	return s.publicURL + "/" + key, nil
}

// Delete removes the object
func (s *S3Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(SafeName(name)),
	})
	if err != nil {
		return fmt.Errorf("deleting from s3: %w", err)
	}
	return nil
}

// Package client sends a reading and a photo to the leaderboard server.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/domain"
)

// Client-side errors. The first four are raised before any network call.
var (
	ErrMissingUsername  = errors.New("please enter a username")
	ErrNoReading        = errors.New("no device data received yet")
	ErrMissingImage     = errors.New("no image selected")
	ErrUnsupportedImage = errors.New("file is not a supported image")
	ErrTransport        = errors.New("failed to connect or send data")
	ErrRejected         = errors.New("server rejected submission")
)

// maxResponseBytes bounds how much of a reply is read
const maxResponseBytes = 1 << 20

// Request is one submission as collected from the user and the device
type Request struct {
	Username   string
	Reading    string
	HasReading bool
	ImagePath  string
}

// Validate checks the request without touching the network or the disk
func (r Request) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return ErrMissingUsername
	}
	if !r.HasReading {
		return ErrNoReading
	}
	if strings.TrimSpace(r.ImagePath) == "" {
		return ErrMissingImage
	}
	return nil
}

// Submitter posts submissions to the server's receive endpoint
type Submitter struct {
	serverURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSubmitter creates a submitter with the configured timeout
func NewSubmitter(cfg *config.ClientConfig, logger *slog.Logger) *Submitter {
	return &Submitter{
		serverURL:  cfg.ServerURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "submitter"),
	}
}

// ServerURL returns the endpoint submissions are posted to
func (s *Submitter) ServerURL() string {
	return s.serverURL
}

// Submit validates req, encodes the image and performs a single POST.
// There is no retry.
func (s *Submitter) Submit(ctx context.Context, req Request) (*domain.SubmitResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	s.logger.Info("sending submission",
		"username", payload.Username,
		"arduino_data", string(payload.ArduinoData),
		"image_name", payload.ImageName,
		"url", s.serverURL,
	)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	var result domain.SubmitResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := strings.TrimSpace(string(raw))
		if decodeErr == nil && result.Message != "" {
			message = result.Message
		}
		return nil, fmt.Errorf("%w: %d %s: %s", ErrRejected, resp.StatusCode, http.StatusText(resp.StatusCode), message)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: invalid response body: %v", ErrTransport, decodeErr)
	}
	return &result, nil
}

func buildPayload(req Request) (domain.Submission, error) {
	data, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("%w: %v", ErrMissingImage, err)
	}
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return domain.Submission{}, fmt.Errorf("%w: %s is %s", ErrUnsupportedImage, filepath.Base(req.ImagePath), mt.String())
	}

	return domain.Submission{
		Username:    strings.TrimSpace(req.Username),
		ArduinoData: domain.RawReading(req.Reading),
		ImageName:   filepath.Base(req.ImagePath),
		ImageData:   base64.StdEncoding.EncodeToString(data),
	}, nil
}

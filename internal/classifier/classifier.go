// Package classifier decides whether a photo shows outdoor grass.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/domain"
)

// ErrUnavailable is returned when no classifier backend is configured
var ErrUnavailable = errors.New("grass classifier not available")

// Classifier labels an image as domain.GrassYes, domain.GrassNo or
// domain.GrassUncertain. An error means no verdict could be obtained.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (string, error)
}

// Func adapts a plain function to the Classifier interface
type Func func(ctx context.Context, image []byte) (string, error)

// Classify calls f
func (f Func) Classify(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// Static always answers with the same label
type Static struct {
	Label string
}

// Classify returns the configured label
func (s Static) Classify(ctx context.Context, _ []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Label, nil
}

// Unavailable is used when classification is switched off
type Unavailable struct{}

// Classify always fails with ErrUnavailable
func (Unavailable) Classify(context.Context, []byte) (string, error) {
	return "", ErrUnavailable
}

// Normalize maps a model reply onto the label set. Replies outside the set
// become Uncertain; an empty reply means the analysis failed.
func Normalize(reply string) string {
	reply = strings.TrimSpace(reply)
	switch reply {
	case "":
		return domain.AnalysisFailed
	case domain.GrassYes, domain.GrassNo, domain.GrassUncertain:
		return reply
	default:
		return domain.GrassUncertain
	}
}

// IsDefinitive reports whether label is a real verdict rather than a failure marker
func IsDefinitive(label string) bool {
	switch label {
	case domain.GrassYes, domain.GrassNo, domain.GrassUncertain:
		return true
	}
	return false
}

// New builds the classifier selected by cfg.Provider
func New(cfg *config.ClassifierConfig, logger *slog.Logger) (Classifier, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAI(cfg, logger)
	case "static":
		if !IsDefinitive(cfg.StaticLabel) {
			return nil, fmt.Errorf("static classifier label %q is not one of Yes, No, Uncertain", cfg.StaticLabel)
		}
		return Static{Label: cfg.StaticLabel}, nil
	case "none", "":
		return Unavailable{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
}

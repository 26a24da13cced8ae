package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/grass-leaderboard/internal/classifier"
	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/domain"
	"github.com/grass-leaderboard/internal/leaderboard"
	"github.com/grass-leaderboard/internal/observability"
	"github.com/grass-leaderboard/internal/storage"
)

// AuditRecorder keeps a history of created and evicted entries
type AuditRecorder interface {
	RecordEntry(ctx context.Context, entry domain.LeaderboardEntry, metadata map[string]any) error
	MarkEvicted(ctx context.Context, entryIDs []string) error
}

// Notifier is told about every leaderboard change
type Notifier interface {
	BroadcastLeaderboard(entries []domain.LeaderboardEntry, latest *domain.LeaderboardEntry)
}

// ImageReaper deletes images that are no longer referenced by the board
type ImageReaper interface {
	Enqueue(names ...string)
}

// IngestService turns submissions into leaderboard entries
type IngestService struct {
	board      *leaderboard.Board
	classifier classifier.Classifier
	store      storage.Store
	validate   *validator.Validate
	timeout    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	audit    AuditRecorder
	notifier Notifier
	reaper   ImageReaper
}

// NewIngestService creates the ingest service. The board is owned by the
// caller and only mutated through this service.
func NewIngestService(
	board *leaderboard.Board,
	cls classifier.Classifier,
	store storage.Store,
	cfg *config.ClassifierConfig,
	logger *slog.Logger,
) *IngestService {
	if cls == nil {
		cls = classifier.Unavailable{}
	}
	return &IngestService{
		board:      board,
		classifier: cls,
		store:      store,
		validate:   validator.New(),
		timeout:    cfg.Timeout,
		logger:     logger.With("component", "ingest_service"),
		tracer:     otel.Tracer("github.com/grass-leaderboard/internal/service"),
		now:        time.Now,
	}
}

// SetAudit sets the audit recorder
func (s *IngestService) SetAudit(audit AuditRecorder) {
	s.audit = audit
}

// SetNotifier sets the receiver of leaderboard updates
func (s *IngestService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// SetReaper sets the receiver of evicted image names
func (s *IngestService) SetReaper(reaper ImageReaper) {
	s.reaper = reaper
}

// Leaderboard returns the current ranking
func (s *IngestService) Leaderboard() []domain.LeaderboardEntry {
	return s.board.Entries()
}

// Submit validates a submission, derives the entry and inserts it into the
// board. Only invalid payloads are rejected: image and classifier failures
// produce a bonus-less entry instead.
func (s *IngestService) Submit(ctx context.Context, sub domain.Submission) (domain.LeaderboardEntry, error) {
	return s.submit(ctx, sub, "http")
}

// SubmitFrom is Submit with the ingestion source recorded in metrics
func (s *IngestService) SubmitFrom(ctx context.Context, sub domain.Submission, source string) (domain.LeaderboardEntry, error) {
	return s.submit(ctx, sub, source)
}

func (s *IngestService) submit(ctx context.Context, sub domain.Submission, source string) (domain.LeaderboardEntry, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.submit", trace.WithAttributes(
		attribute.String("source", source),
	))
	defer span.End()

	sub.Username = strings.TrimSpace(sub.Username)
	if err := s.validate.Struct(sub); err != nil {
		observability.Submissions().WithLabelValues(source, "rejected").Inc()
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Username" {
			return domain.LeaderboardEntry{}, domain.ErrInvalidUsername
		}
		return domain.LeaderboardEntry{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	rawCount, ok := domain.ParseReading(sub.ArduinoData)
	if !ok {
		s.logger.Warn("could not parse reading as integer, using 0", "arduino_data", string(sub.ArduinoData))
	}

	created := s.now()
	params := domain.EntryParams{
		Username:      sub.Username,
		RawCount:      rawCount,
		GrassAnalysis: domain.NoImage,
		CreatedAt:     created,
	}
	if sub.HasImage() {
		s.processImage(ctx, sub, created, &params)
	} else {
		s.logger.Info("no image data received in payload", "username", sub.Username)
	}

	entry := domain.NewEntry(params)
	evicted := s.board.Insert(entry)

	span.SetAttributes(
		attribute.Int64("entry.score", entry.Score),
		attribute.String("entry.grass_analysis", entry.GrassAnalysis),
		attribute.Int("board.evicted", len(evicted)),
	)
	s.afterInsert(ctx, entry, sub, evicted)
	observability.Submissions().WithLabelValues(source, "accepted").Inc()

	s.logger.Info("submission processed",
		"entry_id", entry.ID,
		"username", entry.Username,
		"raw_count", entry.RawCount,
		"grass_analysis", entry.GrassAnalysis,
		"bonus", entry.Bonus,
		"score", entry.Score,
		"board_size", s.board.Len(),
	)

	return entry, nil
}

// processImage decodes, stores and classifies the image, recording the
// outcome in params. Any failure downgrades the analysis label.
func (s *IngestService) processImage(ctx context.Context, sub domain.Submission, created time.Time, params *domain.EntryParams) {
	image, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sub.ImageData))
	if err != nil {
		s.logger.Warn("error decoding base64 image data", "error", err)
		params.GrassAnalysis = domain.ImageError
		return
	}

	name := sub.ImageName
	if strings.TrimSpace(name) == "" {
		name = domain.DefaultImageName
	}
	filename := created.Format("20060102_150405") + "_" + storage.SafeName(name)
	contentType := mimetype.Detect(image).String()

	url, err := s.store.Save(ctx, filename, image, contentType)
	if err != nil {
		s.logger.Error("error storing image", "filename", filename, "error", err)
		params.GrassAnalysis = domain.ImageError
		return
	}
	params.ImageFilename = filename
	params.ImageURL = url
	s.logger.Debug("image saved", "filename", filename, "content_type", contentType, "bytes", len(image))

	params.GrassAnalysis = s.classify(ctx, image)
}

// classify asks the classifier for a verdict, bounded by the configured timeout
func (s *IngestService) classify(ctx context.Context, image []byte) string {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	label, err := s.classifier.Classify(ctx, image)
	if err != nil {
		s.logger.Error("error analyzing image", "error", err)
		return domain.AnalysisError
	}
	if label == "" {
		return domain.AnalysisFailed
	}
	return label
}

// afterInsert fans the change out to the optional collaborators. None of
// them can fail the submission.
func (s *IngestService) afterInsert(ctx context.Context, entry domain.LeaderboardEntry, sub domain.Submission, evicted []domain.LeaderboardEntry) {
	observability.AnalysisLabels().WithLabelValues(entry.GrassAnalysis).Inc()
	observability.Evictions().Add(float64(len(evicted)))
	if top := s.board.Top(1); len(top) > 0 {
		observability.TopScore().Set(float64(top[0].Score))
	}

	if s.audit != nil {
		metadata := map[string]any{
			"arduino_data": string(sub.ArduinoData),
			"image_name":   sub.ImageName,
		}
		if err := s.audit.RecordEntry(ctx, entry, metadata); err != nil {
			s.logger.Warn("failed to record submission event", "error", err)
		}
		if len(evicted) > 0 {
			ids := make([]string, len(evicted))
			for i, e := range evicted {
				ids[i] = e.ID
			}
			if err := s.audit.MarkEvicted(ctx, ids); err != nil {
				s.logger.Warn("failed to mark evicted entries", "error", err)
			}
		}
	}

	if s.reaper != nil {
		var names []string
		for _, e := range evicted {
			if e.ImageFilename != "" && !s.board.References(e.ImageFilename) {
				names = append(names, e.ImageFilename)
			}
		}
		if len(names) > 0 {
			s.reaper.Enqueue(names...)
		}
	}

	if s.notifier != nil {
		latest := entry
		s.notifier.BroadcastLeaderboard(s.board.Entries(), &latest)
	}
}

package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grass-leaderboard/internal/classifier"
	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/domain"
	"github.com/grass-leaderboard/internal/leaderboard"
)

var pngImage = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type storeStub struct {
	mu      sync.Mutex
	saved   map[string][]byte
	types   map[string]string
	deleted []string
	err     error
}

func newStoreStub() *storeStub {
	return &storeStub{saved: map[string][]byte{}, types: map[string]string{}}
}

func (s *storeStub) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.saved[name] = data
	s.types[name] = contentType
	return "/uploads/" + name, nil
}

func (s *storeStub) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, name)
	return nil
}

type auditStub struct {
	entries []domain.LeaderboardEntry
	evicted []string
	err     error
}

func (a *auditStub) RecordEntry(ctx context.Context, entry domain.LeaderboardEntry, metadata map[string]any) error {
	a.entries = append(a.entries, entry)
	return a.err
}

func (a *auditStub) MarkEvicted(ctx context.Context, ids []string) error {
	a.evicted = append(a.evicted, ids...)
	return a.err
}

type notifierStub struct {
	boards [][]domain.LeaderboardEntry
	latest []domain.LeaderboardEntry
}

func (n *notifierStub) BroadcastLeaderboard(entries []domain.LeaderboardEntry, latest *domain.LeaderboardEntry) {
	n.boards = append(n.boards, entries)
	n.latest = append(n.latest, *latest)
}

type reaperStub struct {
	names []string
}

func (r *reaperStub) Enqueue(names ...string) {
	r.names = append(r.names, names...)
}

type fixture struct {
	svc   *IngestService
	board *leaderboard.Board
	store *storeStub
	clock time.Time
}

func newFixture(t *testing.T, cls classifier.Classifier, size int) *fixture {
	t.Helper()
	f := &fixture{
		board: leaderboard.New(size),
		store: newStoreStub(),
		clock: time.Date(2025, 4, 12, 9, 30, 15, 0, time.UTC),
	}
	f.svc = NewIngestService(f.board, cls, f.store, &config.ClassifierConfig{Timeout: time.Second}, testLogger())
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func submission(username, reading string, image []byte) domain.Submission {
	sub := domain.Submission{Username: username, ArduinoData: domain.RawReading(reading), ImageName: "lawn.png"}
	if image != nil {
		sub.ImageData = base64.StdEncoding.EncodeToString(image)
	}
	return sub
}

func TestSubmitGrassBonus(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassYes}, 10)

	entry, err := f.svc.Submit(context.Background(), submission("alice", "12", pngImage))
	require.NoError(t, err)

	assert.Equal(t, "alice", entry.Username)
	assert.Equal(t, "alice", entry.Name)
	assert.Equal(t, int64(12), entry.RawCount)
	assert.True(t, entry.Bonus)
	assert.Equal(t, int64(24), entry.Score)
	assert.Equal(t, domain.GrassYes, entry.GrassAnalysis)
	assert.Equal(t, "20250412_093016_lawn.png", entry.ImageFilename)
	assert.Equal(t, "/uploads/20250412_093016_lawn.png", entry.ImageURL)
	assert.Equal(t, "20250412093016000000", entry.ID)
	assert.Equal(t, "2025-04-12 09:30:16", entry.Timestamp)

	assert.Equal(t, pngImage, f.store.saved[entry.ImageFilename])
	assert.Equal(t, "image/png", f.store.types[entry.ImageFilename])
	assert.Equal(t, []domain.LeaderboardEntry{entry}, f.svc.Leaderboard())
}

func TestSubmitBadReadingScoresZero(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassYes}, 10)

	entry, err := f.svc.Submit(context.Background(), submission("bob", "bad", pngImage))
	require.NoError(t, err)

	assert.Equal(t, int64(0), entry.RawCount)
	assert.Equal(t, int64(0), entry.Score)
	assert.True(t, entry.Bonus)
}

func TestSubmitNegativeReadingIsPreserved(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassYes}, 10)

	entry, err := f.svc.Submit(context.Background(), submission("neg", "-4", pngImage))
	require.NoError(t, err)
	assert.Equal(t, int64(-8), entry.Score)
}

func TestSubmitWithoutImage(t *testing.T) {
	calls := 0
	cls := classifier.Func(func(ctx context.Context, image []byte) (string, error) {
		calls++
		return domain.GrassYes, nil
	})
	f := newFixture(t, cls, 10)

	entry, err := f.svc.Submit(context.Background(), submission("carol", "9", nil))
	require.NoError(t, err)

	assert.Equal(t, domain.NoImage, entry.GrassAnalysis)
	assert.False(t, entry.Bonus)
	assert.Equal(t, int64(9), entry.Score)
	assert.Empty(t, entry.ImageFilename)
	assert.Zero(t, calls)
}

func TestSubmitInvalidBase64(t *testing.T) {
	calls := 0
	cls := classifier.Func(func(ctx context.Context, image []byte) (string, error) {
		calls++
		return domain.GrassYes, nil
	})
	f := newFixture(t, cls, 10)

	sub := submission("dave", "7", nil)
	sub.ImageData = "not*base64!"

	entry, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, domain.ImageError, entry.GrassAnalysis)
	assert.False(t, entry.Bonus)
	assert.Equal(t, int64(7), entry.Score)
	assert.Empty(t, entry.ImageFilename)
	assert.Zero(t, calls)
	assert.Empty(t, f.store.saved)
}

func TestSubmitStoreFailure(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassYes}, 10)
	f.store.err = errors.New("disk full")

	entry, err := f.svc.Submit(context.Background(), submission("erin", "5", pngImage))
	require.NoError(t, err)

	assert.Equal(t, domain.ImageError, entry.GrassAnalysis)
	assert.Equal(t, int64(5), entry.Score)
	assert.Empty(t, entry.ImageFilename)
}

func TestSubmitClassifierLabels(t *testing.T) {
	tests := []struct {
		name      string
		cls       classifier.Classifier
		wantLabel string
		wantBonus bool
	}{
		{"yes", classifier.Static{Label: domain.GrassYes}, domain.GrassYes, true},
		{"no", classifier.Static{Label: domain.GrassNo}, domain.GrassNo, false},
		{"uncertain", classifier.Static{Label: domain.GrassUncertain}, domain.GrassUncertain, false},
		{"failed", classifier.Static{Label: domain.AnalysisFailed}, domain.AnalysisFailed, false},
		{"empty", classifier.Static{Label: ""}, domain.AnalysisFailed, false},
		{"error", classifier.Func(func(context.Context, []byte) (string, error) {
			return "", errors.New("quota exceeded")
		}), domain.AnalysisError, false},
		{"unavailable", classifier.Unavailable{}, domain.AnalysisError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cls, 10)

			entry, err := f.svc.Submit(context.Background(), submission("frank", "5", pngImage))
			require.NoError(t, err)

			assert.Equal(t, tt.wantLabel, entry.GrassAnalysis)
			assert.Equal(t, tt.wantBonus, entry.Bonus)
			if tt.wantBonus {
				assert.Equal(t, int64(10), entry.Score)
			} else {
				assert.Equal(t, int64(5), entry.Score)
			}
			assert.NotEmpty(t, entry.ImageFilename)
		})
	}
}

func TestSubmitClassifierTimeout(t *testing.T) {
	slow := classifier.Func(func(ctx context.Context, image []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, slow, 10)
	f.svc.timeout = 20 * time.Millisecond

	start := time.Now()
	entry, err := f.svc.Submit(context.Background(), submission("gina", "3", pngImage))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.AnalysisError, entry.GrassAnalysis)
	assert.Equal(t, int64(3), entry.Score)
}

func TestSubmitAcceptsMissingUsername(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassYes}, 10)

	entry, err := f.svc.Submit(context.Background(), submission("   ", "3", nil))
	require.NoError(t, err)
	assert.Empty(t, entry.Username)
	assert.Equal(t, int64(3), entry.Score)
	assert.Equal(t, 1, f.board.Len())
}

func TestSubmitRejectsLongUsername(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassYes}, 10)

	_, err := f.svc.Submit(context.Background(), submission(strings.Repeat("a", 65), "3", nil))
	require.ErrorIs(t, err, domain.ErrInvalidUsername)
	assert.True(t, domain.IsClientError(err))
	assert.Zero(t, f.board.Len())
}

func TestSubmitRejectsLongImageName(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassYes}, 10)

	sub := submission("hank", "3", nil)
	sub.ImageName = string(make([]byte, 300))
	_, err := f.svc.Submit(context.Background(), sub)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSubmitDefaultsImageName(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassNo}, 10)

	sub := submission("ivy", "3", pngImage)
	sub.ImageName = ""
	entry, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "20250412_093016_image.jpg", entry.ImageFilename)
}

func TestSubmitNotifiesCollaborators(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassNo}, 2)
	audit := &auditStub{}
	notifier := &notifierStub{}
	reaper := &reaperStub{}
	f.svc.SetAudit(audit)
	f.svc.SetNotifier(notifier)
	f.svc.SetReaper(reaper)

	low, err := f.svc.Submit(context.Background(), submission("low", "1", pngImage))
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), submission("mid", "5", nil))
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), submission("high", "9", nil))
	require.NoError(t, err)

	assert.Len(t, audit.entries, 3)
	assert.Equal(t, []string{low.ID}, audit.evicted)
	assert.Equal(t, []string{low.ImageFilename}, reaper.names)

	require.Len(t, notifier.boards, 3)
	last := notifier.boards[2]
	require.Len(t, last, 2)
	assert.Equal(t, "high", last[0].Username)
	assert.Equal(t, "mid", last[1].Username)
	assert.Equal(t, "high", notifier.latest[2].Username)
}

func TestSubmitAuditFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassNo}, 10)
	f.svc.SetAudit(&auditStub{err: errors.New("db down")})

	_, err := f.svc.Submit(context.Background(), submission("jack", "4", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, f.board.Len())
}

func TestSubmitKeepsTopTen(t *testing.T) {
	f := newFixture(t, classifier.Static{Label: domain.GrassNo}, 10)

	for i := 0; i < 25; i++ {
		_, err := f.svc.Submit(context.Background(), submission(fmt.Sprintf("u%d", i), fmt.Sprint(i%7), nil))
		require.NoError(t, err)
	}

	board := f.svc.Leaderboard()
	require.Len(t, board, 10)
	for i := 1; i < len(board); i++ {
		assert.False(t, domain.RanksAbove(board[i], board[i-1]))
	}
	assert.Equal(t, int64(6), board[0].Score)
	// Latest 6 was u20; it must outrank the earlier u13 and u6.
	assert.Equal(t, "u20", board[0].Username)
}

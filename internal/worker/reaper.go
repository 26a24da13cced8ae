package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/observability"
	"github.com/grass-leaderboard/internal/storage"
)

// ImageReaper deletes the stored images of entries that fell off the
// leaderboard. Names are queued by the ingest path and removed in batches.
// A queued name that the board references again by the time of the flush
// is kept.
type ImageReaper struct {
	store   storage.Store
	inUse   func(name string) bool
	config  *config.ReaperConfig
	logger  *slog.Logger
	queue   chan string
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewImageReaper creates a new image reaper. inUse may be nil.
func NewImageReaper(store storage.Store, inUse func(name string) bool, cfg *config.ReaperConfig, logger *slog.Logger) *ImageReaper {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	return &ImageReaper{
		store:  store,
		inUse:  inUse,
		config: cfg,
		logger: logger.With("component", "image_reaper"),
		queue:  make(chan string, size),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Enqueue schedules images for deletion. It never blocks: when the queue is
// full the name is dropped and the file is left behind.
func (w *ImageReaper) Enqueue(names ...string) {
	for _, name := range names {
		if name == "" {
			continue
		}
		select {
		case w.queue <- name:
		default:
			observability.ImagesReaped().WithLabelValues("dropped").Inc()
			w.logger.Warn("reaper queue full, image not deleted", "filename", name)
		}
	}
}

// Start begins the background deletion loop
func (w *ImageReaper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("image reaper started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the loop after deleting whatever is still queued
func (w *ImageReaper) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("image reaper stopped")
	return nil
}

// IsRunning returns whether the reaper is currently running
func (w *ImageReaper) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *ImageReaper) run(ctx context.Context) {
	defer close(w.doneCh)

	interval := w.config.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush(context.Background())
			return
		case <-w.stopCh:
			w.Flush(context.Background())
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush deletes every queued image and returns how many were removed
func (w *ImageReaper) Flush(ctx context.Context) int {
	deleted, failed := 0, 0
	for {
		select {
		case name := <-w.queue:
			if w.inUse != nil && w.inUse(name) {
				observability.ImagesReaped().WithLabelValues("kept").Inc()
				w.logger.Debug("image referenced again, keeping", "filename", name)
				continue
			}
			if err := w.store.Delete(ctx, name); err != nil {
				failed++
				observability.ImagesReaped().WithLabelValues("failed").Inc()
				w.logger.Error("failed to delete image", "filename", name, "error", err)
				continue
			}
			deleted++
			observability.ImagesReaped().WithLabelValues("deleted").Inc()
		default:
			if deleted > 0 || failed > 0 {
				w.logger.Info("reaper cycle completed", "deleted", deleted, "errors", failed)
			}
			return deleted
		}
	}
}

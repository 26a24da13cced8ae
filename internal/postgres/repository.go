package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/domain"
)

// execer is the subset of *pgxpool.Pool the repository writes through
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository appends an audit trail of created and evicted entries. The
// leaderboard itself is never rebuilt from it.
type Repository struct {
	pool   *pgxpool.Pool
	db     execer
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		db:     pool,
		logger: logger.With("component", "audit_repository"),
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS submission_events (
			id BIGSERIAL PRIMARY KEY,
			entry_id VARCHAR(32) NOT NULL UNIQUE,
			username VARCHAR(64) NOT NULL,
			raw_count BIGINT NOT NULL,
			score BIGINT NOT NULL,
			bonus BOOLEAN NOT NULL,
			grass_analysis VARCHAR(64) NOT NULL,
			image_filename TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			evicted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submission_events_username ON submission_events(username, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_submission_events_score ON submission_events(score DESC, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.db.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RecordEntry stores a newly created leaderboard entry
func (r *Repository) RecordEntry(ctx context.Context, entry domain.LeaderboardEntry, metadata map[string]any) error {
	var metadataJSON []byte
	var err error
	if metadata != nil {
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	var imageFilename *string
	if entry.ImageFilename != "" {
		imageFilename = &entry.ImageFilename
	}

	query := `
		INSERT INTO submission_events
			(entry_id, username, raw_count, score, bonus, grass_analysis, image_filename, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entry_id) DO NOTHING
	`
	_, err = r.db.Exec(ctx, query,
		entry.ID,
		entry.Username,
		entry.RawCount,
		entry.Score,
		entry.Bonus,
		entry.GrassAnalysis,
		imageFilename,
		metadataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording entry: %w", err)
	}
	return nil
}

// MarkEvicted stamps entries that dropped off the leaderboard
func (r *Repository) MarkEvicted(ctx context.Context, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}

	query := `UPDATE submission_events SET evicted_at = $2 WHERE entry_id = ANY($1) AND evicted_at IS NULL`
	result, err := r.db.Exec(ctx, query, entryIDs, time.Now())
	if err != nil {
		return fmt.Errorf("marking evicted entries: %w", err)
	}
	r.logger.Debug("marked evicted entries", "requested", len(entryIDs), "updated", result.RowsAffected())
	return nil
}

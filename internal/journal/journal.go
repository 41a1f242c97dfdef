// Package journal keeps a queryable record of saved captures in
// PostgreSQL. The media files themselves stay on the storage root.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/capture"
	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/logging"
)

// Entry is one journal row.
type Entry struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Kind       string     `db:"kind" json:"kind"`
	SizeBytes  int64      `db:"size_bytes" json:"size"`
	Frames     int        `db:"frames" json:"frames"`
	Skipped    int        `db:"skipped" json:"skipped"`
	Truncated  bool       `db:"truncated" json:"truncated"`
	DurationMS int64      `db:"duration_ms" json:"duration_ms"`
	Reason     string     `db:"reason" json:"reason"`
	SavedAt    time.Time  `db:"saved_at" json:"saved_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// EntryFromResult maps a capture result onto a journal row.
func EntryFromResult(r capture.Result) Entry {
	saved := r.SavedAt
	if saved.IsZero() {
		saved = time.Now()
	}
	return Entry{
		ID:         r.ID,
		Name:       r.Name,
		Kind:       string(r.Kind),
		SizeBytes:  int64(r.Size),
		Frames:     r.Frames,
		Skipped:    r.Skipped,
		Truncated:  r.Truncated,
		DurationMS: r.Duration.Milliseconds(),
		Reason:     r.Reason,
		SavedAt:    saved.UTC(),
	}
}

// DSN builds a lib/pq connection string.
func DSN(cfg config.JournalConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.User, cfg.Password, cfg.Database, sslMode,
	)
}

// PostgresJournal implements the journal on PostgreSQL
type PostgresJournal struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects, checks the connection and creates the schema.
func Open(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (*PostgresJournal, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j := &PostgresJournal{db: db, logger: logging.OrGlobal(logger, "journal")}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	j.logger.Info("Capture journal connected", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return j, nil
}

func (j *PostgresJournal) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS captures (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		kind VARCHAR(10) NOT NULL CHECK (kind IN ('photo', 'video')),
		size_bytes BIGINT NOT NULL,
		frames INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		truncated BOOLEAN NOT NULL DEFAULT FALSE,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		reason VARCHAR(32) NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_captures_saved_at ON captures(saved_at DESC);
	CREATE INDEX IF NOT EXISTS idx_captures_name ON captures(name) WHERE deleted_at IS NULL;
	`
	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// Record inserts the entry for a saved capture.
func (j *PostgresJournal) Record(ctx context.Context, r capture.Result) error {
	const q = `
		INSERT INTO captures (id, name, kind, size_bytes, frames, skipped, truncated, duration_ms, reason, saved_at)
		VALUES (:id, :name, :kind, :size_bytes, :frames, :skipped, :truncated, :duration_ms, :reason, :saved_at)
		ON CONFLICT (id) DO NOTHING`
	if _, err := j.db.NamedExecContext(ctx, q, EntryFromResult(r)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("failed to record %s (%s): %w", r.Name, pqErr.Code.Name(), err)
		}
		return fmt.Errorf("failed to record %s: %w", r.Name, err)
	}
	return nil
}

// Observer adapts Record to the capture controller's observer hook.
// Failures are logged; the capture itself already succeeded.
func (j *PostgresJournal) Observer() capture.Observer {
	return func(ctx context.Context, r capture.Result) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := j.Record(ctx, r); err != nil {
			j.logger.Warn("Journal write failed", zap.String("name", r.Name), zap.Error(err))
		}
	}
}

// Recent lists up to limit entries that have not been deleted, newest first.
func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries := make([]Entry, 0, limit)
	const q = `
		SELECT id, name, kind, size_bytes, frames, skipped, truncated, duration_ms, reason, saved_at, deleted_at
		FROM captures
		WHERE deleted_at IS NULL
		ORDER BY saved_at DESC
		LIMIT $1`
	if err := j.db.SelectContext(ctx, &entries, q, limit); err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	return entries, nil
}

// Forget marks entries for a deleted file. An empty name marks all.
func (j *PostgresJournal) Forget(ctx context.Context, name string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if name == "" {
		res, err = j.db.ExecContext(ctx, `UPDATE captures SET deleted_at = NOW() WHERE deleted_at IS NULL`)
	} else {
		res, err = j.db.ExecContext(ctx, `UPDATE captures SET deleted_at = NOW() WHERE name = $1 AND deleted_at IS NULL`, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to mark %q deleted: %w", name, err)
	}
	return res.RowsAffected()
}

func (j *PostgresJournal) HealthCheck(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *PostgresJournal) Close() error {
	return j.db.Close()
}

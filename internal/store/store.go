// Package store persists assessments and feedback to Postgres for offline
// review. The store is optional: an empty DSN disables it, and write
// failures are logged, never propagated into the pipeline.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archiegate/guardian/internal/model"
)

const initSQL = `
CREATE TABLE IF NOT EXISTS assessments (
    id         BIGSERIAL PRIMARY KEY,
    event_id   TEXT NOT NULL,
    source     TEXT NOT NULL,
    event_type TEXT NOT NULL,
    score      INT NOT NULL,
    level      TEXT NOT NULL,
    degraded   BOOLEAN NOT NULL,
    rationale  TEXT,
    payload    JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feedback (
    id         BIGSERIAL PRIMARY KEY,
    event_id   TEXT NOT NULL,
    source     TEXT NOT NULL,
    event_type TEXT NOT NULL,
    verdict    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store writes pipeline records to Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects, pings, and ensures the schema exists.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pool.Exec(initCtx, initSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// SaveAssessment records one assessment. Best-effort: failure is logged and
// swallowed so persistence problems never block a decision.
func (s *Store) SaveAssessment(ctx context.Context, ev model.Event, a model.ThreatAssessment) {
	payload, _ := json.Marshal(ev.Payload)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assessments (event_id, source, event_type, score, level, degraded, rationale, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.EventID, ev.Source, ev.Type, a.Score, string(a.Level), a.Degraded,
		strings.Join(a.Rationale, "; "), payload)
	if err != nil {
		s.logger.Warn("assessment not persisted", "event_id", a.EventID, "error", err)
	}
}

// SaveFeedback records one feedback entry.
func (s *Store) SaveFeedback(ctx context.Context, fb model.FeedbackRecord) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (event_id, source, event_type, verdict) VALUES ($1, $2, $3, $4)`,
		fb.EventID, fb.Source, fb.Type, string(fb.Verdict))
	if err != nil {
		s.logger.Warn("feedback not persisted", "event_id", fb.EventID, "error", err)
	}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

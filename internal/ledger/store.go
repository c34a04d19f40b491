package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SourceEngine marks rows written through this service. The
// location_recorded trigger ignores them so the listener never evaluates
// the same update twice.
const SourceEngine = "engine"

// PGStore persists locations in Postgres: one row per user in
// user_locations plus an append-only location_history.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed location store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// PutLocation upserts the latest sample and appends it to the history.
func (s *PGStore) PutLocation(ctx context.Context, userID string, sample Sample) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "put_location",
			userID, sample.Latitude, sample.Longitude, sample.Accuracy,
			sample.Altitude, sample.Speed, sample.ObservedAt, sample.ReceivedAt, SourceEngine,
		); err != nil {
			return fmt.Errorf("upsert location: %w", err)
		}
		if _, err := tx.Exec(ctx, "append_location_history",
			userID, sample.Latitude, sample.Longitude, sample.Accuracy,
			sample.ObservedAt, sample.ReceivedAt,
		); err != nil {
			return fmt.Errorf("append location history: %w", err)
		}
		return nil
	})
}

// GetLatestLocation returns ErrNotFound when the user has no row.
func (s *PGStore) GetLatestLocation(ctx context.Context, userID string) (Sample, error) {
	out := Sample{OwnerID: userID}
	err := s.pool.QueryRow(ctx, "latest_location", userID).Scan(
		&out.Latitude, &out.Longitude, &out.Accuracy,
		&out.Altitude, &out.Speed, &out.ObservedAt, &out.ReceivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sample{}, ErrNotFound
	}
	if err != nil {
		return Sample{}, fmt.Errorf("query latest location: %w", err)
	}
	return out, nil
}

// PurgeUser deletes the user's latest location and history.
func (s *PGStore) PurgeUser(ctx context.Context, userID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_locations WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete latest location: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM location_history WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete location history: %w", err)
		}
		return nil
	})
}

// HistoryPruner deletes location_history rows older than a cutoff.
type HistoryPruner struct {
	pool *pgxpool.Pool
}

// NewHistoryPruner creates a pruner for location_history.
func NewHistoryPruner(pool *pgxpool.Pool) *HistoryPruner {
	return &HistoryPruner{pool: pool}
}

// Prune implements maintenance.Pruner.
func (p *HistoryPruner) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM location_history WHERE received_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune location history: %w", err)
	}
	return tag.RowsAffected(), nil
}

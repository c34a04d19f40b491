package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/proximity-alerts/internal/notifications"
)

// PGStore persists alerts in emergency_alerts and delivery attempts in
// emergency_deliveries.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed alert store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) CreateAlert(ctx context.Context, a Alert) error {
	_, err := s.pool.Exec(ctx, "create_alert",
		a.ID, a.SenderID, a.Location.Latitude, a.Location.Longitude,
		a.Message, a.BatteryLevel, a.CreatedAt, a.RecipientIDs, string(a.Status))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PGStore) GetAlert(ctx context.Context, id string) (Alert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, "get_alert", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// ResolveAlert is a compare-and-set on status; concurrent resolves
// update at most one row.
func (s *PGStore) ResolveAlert(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, "resolve_alert", id, at)
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) RecordDeliveries(ctx context.Context, alertID string, kind notifications.Kind, ds []notifications.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"emergency_deliveries"},
		[]string{"alert_id", "recipient_id", "kind", "outcome", "attempted_at"},
		pgx.CopyFromSlice(len(ds), func(i int) ([]any, error) {
			d := ds[i]
			return []any{alertID, d.RecipientID, string(kind), string(d.Outcome), d.AttemptedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy deliveries: %w", err)
	}
	return nil
}

func (s *PGStore) ActiveAlertsFor(ctx context.Context, userID string) ([]Alert, error) {
	rows, err := s.pool.Query(ctx, "active_alerts_for", userID)
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}
	defer rows.Close()

	out := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune deletes alerts resolved before the cutoff. Delivery rows go with
// them (ON DELETE CASCADE).
func (s *PGStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM emergency_alerts WHERE status = 'resolved' AND resolved_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		a      Alert
		status string
	)
	err := row.Scan(&a.ID, &a.SenderID, &a.Location.Latitude, &a.Location.Longitude,
		&a.Message, &a.BatteryLevel, &a.CreatedAt, &a.RecipientIDs, &status, &a.ResolvedAt)
	if err != nil {
		return Alert{}, err
	}
	a.Status = Status(status)
	if a.RecipientIDs == nil {
		a.RecipientIDs = []string{}
	}
	return a, nil
}

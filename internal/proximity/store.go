package proximity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGPairStore keeps pair state in proximity_pair_state and serializes
// updates with SELECT ... FOR UPDATE, so several engine processes can
// share it.
type PGPairStore struct {
	pool *pgxpool.Pool
}

// NewPGPairStore creates a Postgres-backed pair store.
func NewPGPairStore(pool *pgxpool.Pool) *PGPairStore {
	return &PGPairStore{pool: pool}
}

func (s *PGPairStore) Update(ctx context.Context, key PairKey, fn func(*PairState) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO proximity_pair_state (pair_key) VALUES ($1) ON CONFLICT (pair_key) DO NOTHING`,
			string(key)); err != nil {
			return fmt.Errorf("ensure pair state: %w", err)
		}

		state, err := scanPairState(tx.QueryRow(ctx, `
			SELECT last_alert_at, in_range_since, logged, last_evaluated_at
			FROM proximity_pair_state WHERE pair_key = $1 FOR UPDATE`, string(key)), key)
		if err != nil {
			return fmt.Errorf("lock pair state: %w", err)
		}

		if err := fn(&state); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE proximity_pair_state
			SET last_alert_at = $2, in_range_since = $3, logged = $4, last_evaluated_at = $5
			WHERE pair_key = $1`,
			string(key), nullTime(state.LastAlertAt), nullTime(state.InRangeSince),
			state.Logged, nullTime(state.LastEvaluatedAt)); err != nil {
			return fmt.Errorf("write pair state: %w", err)
		}
		return nil
	})
}

func (s *PGPairStore) Get(ctx context.Context, key PairKey) (PairState, bool, error) {
	state, err := scanPairState(s.pool.QueryRow(ctx, `
		SELECT last_alert_at, in_range_since, logged, last_evaluated_at
		FROM proximity_pair_state WHERE pair_key = $1`, string(key)), key)
	if errors.Is(err, pgx.ErrNoRows) {
		return PairState{}, false, nil
	}
	if err != nil {
		return PairState{}, false, fmt.Errorf("query pair state: %w", err)
	}
	return state, true, nil
}

// Prune deletes pairs not evaluated or alerted since before.
func (s *PGPairStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM proximity_pair_state
		WHERE COALESCE(last_evaluated_at, 'epoch') < $1
		  AND COALESCE(last_alert_at, 'epoch') < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune pair state: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPairState(row pgx.Row, key PairKey) (PairState, error) {
	var lastAlert, inRange, lastEval *time.Time
	state := PairState{Key: key}
	if err := row.Scan(&lastAlert, &inRange, &state.Logged, &lastEval); err != nil {
		return PairState{}, err
	}
	if lastAlert != nil {
		state.LastAlertAt = *lastAlert
	}
	if inRange != nil {
		state.InRangeSince = *inRange
	}
	if lastEval != nil {
		state.LastEvaluatedAt = *lastEval
	}
	return state, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// PGMeetingStore persists meeting records in the meetings table.
type PGMeetingStore struct {
	pool *pgxpool.Pool
}

// NewPGMeetingStore creates a Postgres-backed meeting history.
func NewPGMeetingStore(pool *pgxpool.Pool) *PGMeetingStore {
	return &PGMeetingStore{pool: pool}
}

func (s *PGMeetingStore) AppendMeeting(ctx context.Context, m Meeting) error {
	_, err := s.pool.Exec(ctx, "append_meeting",
		m.ID, m.Participants[0], m.Participants[1], m.StartedAt, m.DurationMs,
		m.Location.Latitude, m.Location.Longitude, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

func (s *PGMeetingStore) MeetingsOf(ctx context.Context, userID string, limit int) ([]Meeting, error) {
	rows, err := s.pool.Query(ctx, "meetings_of", userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	var out []Meeting
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.Participants[0], &m.Participants[1], &m.StartedAt,
			&m.DurationMs, &m.Location.Latitude, &m.Location.Longitude, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

package contacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads users and contact_edges from Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed contact store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) GetUser(ctx context.Context, userID string) (User, error) {
	u := User{ID: userID}
	err := s.pool.QueryRow(ctx, "get_user", userID).Scan(&u.DisplayName, &u.BatteryLevel, &u.GhostMode, &u.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// Relationships joins each outgoing edge with its reverse edge and the
// contact's user row in a single query.
func (s *PGStore) Relationships(ctx context.Context, userID string) ([]Relationship, error) {
	rows, err := s.pool.Query(ctx, "user_relationships", userID)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var (
			r          Relationship
			inState    *string
			inBlocked  *bool
			ghost      *bool
			deleted    *bool
			outState   string
			contactID  string
			contactNam *string
		)
		if err := rows.Scan(
			&contactID, &outState, &r.Outgoing.Blocked,
			&inState, &inBlocked,
			&contactNam, &ghost, &deleted,
		); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Outgoing.OwnerID = userID
		r.Outgoing.ContactID = contactID
		r.Outgoing.State = EdgeState(outState)
		if inState != nil {
			r.Incoming = &Edge{OwnerID: contactID, ContactID: userID, State: EdgeState(*inState)}
			if inBlocked != nil {
				r.Incoming.Blocked = *inBlocked
			}
		}
		r.Contact.ID = contactID
		if contactNam != nil {
			r.Contact.DisplayName = *contactNam
		}
		if ghost != nil {
			r.Contact.GhostMode = *ghost
		}
		if deleted != nil {
			r.Contact.Deleted = *deleted
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeUser removes every edge touching the user and flags the account
// deleted. The user row itself is kept.
func (s *PGStore) PurgeUser(ctx context.Context, userID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM contact_edges WHERE owner_id = $1 OR contact_id = $1`, userID); err != nil {
			return fmt.Errorf("delete contact edges: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE users SET deleted_at = NOW(), ghost_mode = true WHERE id = $1`, userID); err != nil {
			return fmt.Errorf("flag user deleted: %w", err)
		}
		return nil
	})
}

// PutUser creates or updates a user row. Used by operator seeding.
func (s *PGStore) PutUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, display_name, battery_level, ghost_mode)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    battery_level = EXCLUDED.battery_level,
		    ghost_mode = EXCLUDED.ghost_mode`,
		u.ID, u.DisplayName, u.BatteryLevel, u.GhostMode)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// Befriend writes both directed edges as accepted and unblocked.
func (s *PGStore) Befriend(ctx context.Context, a, b string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, e := range [][2]string{{a, b}, {b, a}} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO contact_edges (owner_id, contact_id, state, blocked)
				VALUES ($1, $2, 'accepted', false)
				ON CONFLICT (owner_id, contact_id) DO UPDATE
				SET state = 'accepted', blocked = false, updated_at = NOW()`,
				e[0], e[1]); err != nil {
				return fmt.Errorf("upsert edge %s->%s: %w", e[0], e[1], err)
			}
		}
		return nil
	})
}

// SetGhostMode toggles the user's ghost flag.
func (s *PGStore) SetGhostMode(ctx context.Context, userID string, on bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET ghost_mode = $2 WHERE id = $1`, userID, on)
	if err != nil {
		return fmt.Errorf("update ghost mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

package notifications

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenStore resolves push device tokens for a user.
type TokenStore interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
	DeactivateToken(ctx context.Context, token string) error
}

// PGTokenStore reads user_devices from Postgres.
type PGTokenStore struct {
	pool *pgxpool.Pool
}

// NewPGTokenStore creates a Postgres-backed token store.
func NewPGTokenStore(pool *pgxpool.Pool) *PGTokenStore {
	return &PGTokenStore{pool: pool}
}

// DeviceTokens returns the user's active device tokens (possibly none).
func (s *PGTokenStore) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, "get_user_device_tokens", userID)
	if err != nil {
		return nil, fmt.Errorf("query device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// DeactivateToken marks a token the push service reported as unregistered.
func (s *PGTokenStore) DeactivateToken(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `UPDATE user_devices SET is_active = false WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	return nil
}

// Package db provides a pgxpool-based connection pool with prepared statement
// registration, health checking and schema migrations.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/proximity-alerts/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

const alertColumns = "id, sender_id, latitude, longitude, message, battery_level, created_at, recipient_ids, status, resolved_at"

// Statements maps every prepared statement name to its SQL. The stores
// call them by name.
var Statements = map[string]string{
	// Health
	"health_check": "SELECT 1",

	// Contact graph
	"get_user": "SELECT display_name, battery_level, ghost_mode, deleted_at IS NOT NULL FROM users WHERE id = $1",
	"user_relationships": `
		SELECT o.contact_id, o.state, o.blocked, i.state, i.blocked,
		       u.display_name, u.ghost_mode, u.deleted_at IS NOT NULL
		FROM contact_edges o
		LEFT JOIN contact_edges i ON i.owner_id = o.contact_id AND i.contact_id = o.owner_id
		LEFT JOIN users u ON u.id = o.contact_id
		WHERE o.owner_id = $1
		ORDER BY o.contact_id`,

	// Location ledger
	"put_location": `
		INSERT INTO user_locations (user_id, latitude, longitude, accuracy, altitude, speed, observed_at, received_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, accuracy = EXCLUDED.accuracy,
			altitude = EXCLUDED.altitude, speed = EXCLUDED.speed, observed_at = EXCLUDED.observed_at,
			received_at = EXCLUDED.received_at, source = EXCLUDED.source`,
	"append_location_history": `
		INSERT INTO location_history (user_id, latitude, longitude, accuracy, observed_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
	"latest_location": "SELECT latitude, longitude, accuracy, altitude, speed, observed_at, received_at FROM user_locations WHERE user_id = $1",

	// Meetings
	"append_meeting": `
		INSERT INTO meetings (id, user_a, user_b, started_at, duration_ms, latitude, longitude, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"meetings_of": `
		SELECT id, user_a, user_b, started_at, duration_ms, latitude, longitude, created_at
		FROM meetings WHERE user_a = $1 OR user_b = $1
		ORDER BY started_at DESC LIMIT NULLIF($2::int, 0)`,

	// Emergencies
	"create_alert": `
		INSERT INTO emergency_alerts (id, sender_id, latitude, longitude, message, battery_level, created_at, recipient_ids, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_alert":     "SELECT " + alertColumns + " FROM emergency_alerts WHERE id = $1",
	"resolve_alert": "UPDATE emergency_alerts SET status = 'resolved', resolved_at = $2 WHERE id = $1 AND status = 'active'",
	"active_alerts_for": "SELECT " + alertColumns + ` FROM emergency_alerts
		WHERE status = 'active' AND (sender_id = $1 OR $1 = ANY(recipient_ids))
		ORDER BY created_at DESC`,

	// Notifications
	"get_user_device_tokens": "SELECT token FROM user_devices WHERE user_id = $1 AND is_active = true",
}

// registerPreparedStatements registers all statements the stores use.
// Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range Statements {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}

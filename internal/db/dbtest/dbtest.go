// Package dbtest opens migrated Postgres pools for store tests.
//
// Tests skip unless TEST_DATABASE_URL is set. Packages run against the
// same database concurrently, so tests only touch rows keyed by ids from
// ID and never truncate.
package dbtest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/proximity-alerts/internal/config"
	"github.com/albapepper/proximity-alerts/internal/db"
)

// EnvURL names the variable holding the test database URL.
const EnvURL = "TEST_DATABASE_URL"

// migrateLock is the advisory lock key held while migrating, so parallel
// test binaries do not race on goose's version table.
const migrateLock = 7_202_604

var (
	migrateOnce sync.Once
	migrateErr  error
)

// Open returns a pool with at most maxConns connections on a migrated
// schema. The pool is closed when the test ends.
func Open(t testing.TB, maxConns int) *db.Pool {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set", EnvURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrateOnce.Do(func() { migrateErr = migrate(ctx, url) })
	if migrateErr != nil {
		t.Fatalf("migrate test database: %v", migrateErr)
	}

	pool, err := db.New(ctx, poolConfig(url, maxConns))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func migrate(ctx context.Context, url string) error {
	pool, err := db.New(ctx, poolConfig(url, 4))
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrateLock); err != nil {
		return err
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrateLock)

	return db.Migrate(ctx, pool, "up")
}

func poolConfig(url string, maxConns int) *config.Config {
	return &config.Config{
		DatabaseURL:    url,
		DBPoolMinConns: 1,
		DBPoolMaxConns: maxConns,
		DBPoolMaxLife:  30 * time.Minute,
	}
}

// ID returns a fresh identifier starting with prefix.
func ID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Users inserts bare user rows for ids that do not exist yet.
func Users(t testing.TB, pool *db.Pool, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := pool.Exec(context.Background(),
			`INSERT INTO users (id, display_name) VALUES ($1, $1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
			t.Fatalf("insert user %s: %v", id, err)
		}
	}
}

// Time truncates t to the microsecond precision Postgres stores.
func Time(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

package db

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestStore wraps a Store with test cleanup functionality.
type TestStore struct {
	*Store
	pool *pgxpool.Pool
}

// NewTestStore creates a new Store connected to the test database.
// It reads the TEST_DATABASE_URL environment variable and skips the test
// when unset, so the unit suite runs without a database.
func NewTestStore(t *testing.T) *TestStore {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("failed to ping test database: %v", err)
	}

	store := NewStore(pool)

	ts := &TestStore{Store: store, pool: pool}
	t.Cleanup(ts.Close)
	return ts
}

// Truncate clears the mint transaction cache between tests.
func (ts *TestStore) Truncate(t *testing.T) {
	t.Helper()
	if _, err := ts.pool.Exec(context.Background(), "TRUNCATE mint_transactions"); err != nil {
		t.Fatalf("failed to truncate mint_transactions: %v", err)
	}
}

// Close releases the underlying connection pool.
func (ts *TestStore) Close() {
	ts.pool.Close()
}

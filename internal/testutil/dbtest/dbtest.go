package dbtest

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayo6706/author-payouts/internal/db"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/stretchr/testify/require"
)

// SQLiteStore returns a migrated store backed by a fresh file in t.TempDir.
func SQLiteStore(t *testing.T) *repository.Store {
	t.Helper()
	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "payouts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store := repository.NewSQLiteStore(sqlDB)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// PostgresStore returns a migrated, emptied store for DATABASE_URL.
// The test is skipped when DATABASE_URL is unset.
func PostgresStore(t *testing.T) *repository.Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	lockDatabase(t)

	ctx := context.Background()
	pool, err := db.Connect(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := repository.NewStore(pool)
	require.NoError(t, store.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE audit_log, payout_items, payout_batches, recipients, idempotency_keys`)
	require.NoError(t, err)
	return store
}

// lockDatabase serialises postgres tests across packages, which go test runs as
// separate processes, by holding a local TCP port for the life of the test.
func lockDatabase(t *testing.T) {
	t.Helper()
	addr := os.Getenv("PAYOUTS_TEST_DB_LOCK_ADDR")
	if addr == "" {
		addr = "127.0.0.1:45432"
	}
	deadline := time.Now().Add(2 * time.Minute)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			t.Cleanup(func() { ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("waiting for database lock on %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

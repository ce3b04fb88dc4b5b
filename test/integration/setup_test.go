//go:build integration

// Package integration exercises the Postgres store against a real database.
// Run with: go test -tags integration ./test/integration/...
package integration

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carelink/internal/platform/db"
	"github.com/ehr/carelink/migrations"
)

// globalPool is the shared database, migrated once in TestMain.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := startPostgresContainer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, connStr, db.PoolOptions{MaxConns: 10, MinConns: 1})
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx, "public"); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// resetTables empties the fabric and read-view tables between tests.
func resetTables(t *testing.T) {
	t.Helper()
	_, err := globalPool.Exec(context.Background(),
		`TRUNCATE chat_message, notification, app_user, medical_request, pharmacy_order`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func mustExec(t *testing.T, sql string, args ...interface{}) {
	t.Helper()
	if _, err := globalPool.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

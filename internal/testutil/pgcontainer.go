package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PGContainer starts a throwaway Postgres container, runs all migrations,
// and returns the connected *sql.DB plus a cleanup that terminates the
// container. Use this when no shared database is available; PGTest with
// POSTGRES_URL is faster for local iteration.
//
// Skipped unless PGCONTAINER_TESTS is set, so `go test ./...` stays fast
// on machines without Docker.
func PGContainer(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	if os.Getenv("PGCONTAINER_TESTS") == "" {
		t.Skip("PGCONTAINER_TESTS not set, skipping container test")
	}

	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("examwatch_test"),
		postgres.WithUsername("examwatch"),
		postgres.WithPassword("examwatch"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("pgcontainer: start postgres: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		t.Fatalf("pgcontainer: connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		t.Fatalf("pgcontainer: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = testcontainers.TerminateContainer(ctr)
		t.Fatalf("pgcontainer: connect to database: %v", err)
	}

	if err := Migrate(ctx, db, findMigrationsDir(t)); err != nil {
		_ = db.Close()
		_ = testcontainers.TerminateContainer(ctr)
		t.Fatalf("pgcontainer: run migrations: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("pgcontainer: terminate: %v", err)
		}
	}

	return db, cleanup
}

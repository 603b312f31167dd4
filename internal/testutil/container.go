package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PGContainer starts a disposable Postgres container, runs all migrations,
// and returns a connected *sql.DB. The container is terminated via t.Cleanup.
//
// Unlike PGTest this needs no external database, only a Docker daemon.
// Skipped under -short.
func PGContainer(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("greenlight_test"),
		tcpostgres.WithUsername("greenlight"),
		tcpostgres.WithPassword("greenlight"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("pgcontainer: could not start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = ctr.Terminate(context.Background())
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pgcontainer: connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgcontainer: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("pgcontainer: connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := runMigrations(ctx, db, findMigrationsDir(t)); err != nil {
		t.Fatalf("pgcontainer: run migrations: %v", err)
	}

	return db
}

//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers Postgres instance with both a
// pgx pool (reading store) and a database/sql handle (stage store).
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	Pool      *pgxpool.Pool
	DB        *sql.DB
}

// NewPostgresContainer starts a Postgres container and registers cleanup.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("crono_test"),
		tcpostgres.WithUsername("crono"),
		tcpostgres.WithPassword("crono"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open sql db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return &PostgresContainer{Container: container, DSN: dsn, Pool: pool, DB: db}
}

// TruncateTables clears the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(tables, ", ")))
	return err
}

//go:build postgres

package storage_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"streamforge/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresRepositoryFactory opens a Postgres-backed repository for integration
// scenarios. NewPostgresRepository bootstraps the schema on first connect, so
// the factory only has to truncate tables between tests. It requires
// STREAMFORGE_TEST_POSTGRES_DSN to point at a database dedicated to automated
// runs.
func postgresRepositoryFactory(t *testing.T, opts ...storage.Option) (storage.Repository, func(), error) {
	t.Helper()
	dsn := os.Getenv("STREAMFORGE_TEST_POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("STREAMFORGE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	repo, err := storage.NewPostgresRepository(dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse postgres config: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		t.Fatalf("open postgres pool: %v", err)
	}

	if err := truncatePostgresTables(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("truncate tables: %v", err)
	}

	t.Cleanup(func() {
		if err := truncatePostgresTables(context.Background(), pool); err != nil {
			t.Fatalf("truncate tables: %v", err)
		}
	})
	t.Cleanup(func() {
		if closer, ok := repo.(interface{ Close(context.Context) error }); ok {
			if err := closer.Close(context.Background()); err != nil {
				t.Fatalf("close repository: %v", err)
			}
		}
	})
	t.Cleanup(func() { pool.Close() })

	return repo, nil, nil
}

func TestPostgresRepositoryConnection(t *testing.T) {
	repo, _, err := postgresRepositoryFactory(t)
	if errors.Is(err, storage.ErrPostgresUnavailable) {
		t.Skip("postgres repository unavailable in this build")
	}
	if err != nil {
		t.Fatalf("failed to open postgres repository: %v", err)
	}
	if repo == nil {
		t.Fatalf("expected postgres repository instance")
	}
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("ping postgres repository: %v", err)
	}
}

func TestPostgresVideoLifecycle(t *testing.T) {
	storage.RunRepositoryVideoLifecycle(t, postgresRepositoryFactory)
}

func TestPostgresPipelineClaim(t *testing.T) {
	storage.RunRepositoryPipelineClaim(t, postgresRepositoryFactory)
}

func TestPostgresSegmentStreaming(t *testing.T) {
	storage.RunRepositorySegmentStreaming(t, postgresRepositoryFactory)
}

func TestPostgresThumbnailLifecycle(t *testing.T) {
	storage.RunRepositoryThumbnailLifecycle(t, postgresRepositoryFactory)
}

func TestPostgresCascadeDelete(t *testing.T) {
	storage.RunRepositoryCascadeDelete(t, postgresRepositoryFactory)
}

func TestPostgresStuckVideoRecovery(t *testing.T) {
	storage.RunRepositoryStuckVideoRecovery(t, postgresRepositoryFactory)
}

var postgresTables = []string{
	"thumbnails",
	"segments",
	"renditions",
	"videos",
}

func truncatePostgresTables(ctx context.Context, pool *pgxpool.Pool) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(postgresTables, ", "))
	_, err := pool.Exec(ctx, query)
	return err
}

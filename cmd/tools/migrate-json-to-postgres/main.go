// Command migrate-json-to-postgres migrates stored data from JSON into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"streamforge/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	jsonPath := flag.String("json", "data/store.json", "path to the JSON datastore to migrate")
	blobDir := flag.String("blob-dir", "", "directory holding segment and thumbnail payloads (defaults to the JSON file's directory)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("STREAMFORGE_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, STREAMFORGE_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	snapshot, err := storage.LoadSnapshotFromJSON(*jsonPath)
	if err != nil {
		logger.Error("failed to load JSON snapshot", "error", err)
		os.Exit(1)
	}
	if dir := strings.TrimSpace(*blobDir); dir != "" {
		snapshot.BlobDir = dir
	}
	counts := snapshot.Counts()
	logger.Info("loaded JSON snapshot",
		"path", *jsonPath,
		"blobDir", snapshot.BlobDir,
		"videos", counts.Videos,
		"renditions", counts.Renditions,
		"segments", counts.Segments,
		"thumbnails", counts.Thumbnails,
	)

	repo, err := storage.NewPostgresRepository(dsn)
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closer, ok := repo.(interface{ Close(context.Context) error }); ok {
			_ = closer.Close(context.Background())
		}
	}()

	if err := storage.ImportSnapshotToPostgres(context.Background(), repo, snapshot); err != nil {
		logger.Error("failed to import snapshot", "error", err)
		os.Exit(1)
	}

	if err := verifyCounts(context.Background(), dsn, counts); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed",
		"videos", counts.Videos,
		"renditions", counts.Renditions,
		"segments", counts.Segments,
		"thumbnails", counts.Thumbnails,
	)
}

func verifyCounts(ctx context.Context, dsn string, counts storage.SnapshotCounts) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	checks := []struct {
		name     string
		query    string
		expected int
	}{
		{"videos", "SELECT COUNT(*) FROM videos", counts.Videos},
		{"renditions", "SELECT COUNT(*) FROM renditions", counts.Renditions},
		{"segments", "SELECT COUNT(*) FROM segments", counts.Segments},
		{"thumbnails", "SELECT COUNT(*) FROM thumbnails", counts.Thumbnails},
	}

	for _, check := range checks {
		var actual int
		if err := pool.QueryRow(ctx, check.query).Scan(&actual); err != nil {
			return fmt.Errorf("query %s: %w", check.name, err)
		}
		if actual < check.expected {
			return fmt.Errorf("mismatch for %s: expected at least %d, got %d", check.name, check.expected, actual)
		}
	}
	return nil
}

// backfill-embeddings queues an embed_chunks job for every completed file that still has
// chunks without a vector, for example after a provider outage or after turning embeddings
// on for an existing deployment. The API's River workers do the embedding.
//
// Usage:
//
//	backfill-embeddings [-dry-run]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/retailiq/hub/internal/jobs"
	"github.com/retailiq/hub/internal/observability"
	"github.com/retailiq/hub/internal/repository"
	"github.com/retailiq/hub/pkg/database"
)

const defaultEmbeddingMaxAttempts = 3

var errDatabaseURLRequired = errors.New("DATABASE_URL is required")

func main() {
	os.Exit(execute())
}

func execute() int {
	dryRun := flag.Bool("dry-run", false, "list the files that would be queued without queuing them")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	slog.SetDefault(observability.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, jobs.BackfillOptions{DryRun: *dryRun})
	if err != nil {
		slog.Error("backfill failed", "error", err)

		return 1
	}

	if *dryRun {
		fmt.Printf("%d file(s) need embeddings.\n", stats.FilesFound)

		return 0
	}

	fmt.Printf("Enqueued %d of %d embedding job(s).\n", stats.FilesEnqueued, stats.FilesFound)

	if stats.Errors > 0 {
		return 1
	}

	return 0
}

func run(ctx context.Context, opts jobs.BackfillOptions) (jobs.BackfillStats, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return jobs.BackfillStats{}, errDatabaseURLRequired
	}

	if os.Getenv("EMBEDDING_PROVIDER") == "" && os.Getenv("PLACEHOLDER_EMBEDDINGS") == "" {
		slog.Warn("EMBEDDING_PROVIDER is not set here; queued jobs only do work if the API has embeddings enabled")
	}

	db, err := database.NewPostgresPool(ctx, databaseURL, database.WithApplicationName("retailiq-hub-backfill"))
	if err != nil {
		return jobs.BackfillStats{}, err
	}
	defer db.Close()

	// Insert-only: no queues or workers are configured.
	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{})
	if err != nil {
		return jobs.BackfillStats{}, fmt.Errorf("create river client: %w", err)
	}

	enqueuer := jobs.NewEnqueuer(riverClient, jobs.EnqueuerConfig{
		EmbeddingMaxAttempts: embeddingMaxAttempts(),
	})

	stats, err := jobs.Backfill(ctx, repository.NewUploadedFilesRepository(db), enqueuer, opts)

	slog.Info("backfill finished",
		"found", stats.FilesFound,
		"enqueued", stats.FilesEnqueued,
		"errors", stats.Errors,
		"dry_run", opts.DryRun,
	)

	return stats, err
}

func embeddingMaxAttempts() int {
	n, err := strconv.Atoi(os.Getenv("EMBEDDING_MAX_ATTEMPTS"))
	if err != nil || n <= 0 {
		return defaultEmbeddingMaxAttempts
	}

	return n
}

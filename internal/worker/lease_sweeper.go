// Package worker provides background workers for the Hub API that run outside River.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/observability"
)

// LeaseExpiredMessage is the error stored on files failed by the sweeper.
const LeaseExpiredMessage = "processing lease expired"

const (
	defaultSweepInterval = time.Minute
	defaultLease         = 15 * time.Minute
)

// ExpiredFilesRepository fails files stuck in processing.
type ExpiredFilesRepository interface {
	FailExpiredProcessing(ctx context.Context, cutoff time.Time, msg string) ([]models.UploadedFile, error)
}

// StatusNotifier is told about files the sweeper moved to failed.
type StatusNotifier interface {
	NotifyFileStatus(ctx context.Context, file *models.UploadedFile)
}

// LeaseSweeperConfig configures a LeaseSweeper. Zero values fall back to defaults.
type LeaseSweeperConfig struct {
	Interval time.Duration
	Lease    time.Duration
	// Notifier and Metrics may be nil.
	Notifier StatusNotifier
	Metrics  observability.IngestionMetrics
}

// LeaseSweeper periodically fails files whose processing started longer than the lease ago,
// so a crashed or killed worker cannot leave a file in processing forever.
type LeaseSweeper struct {
	repo     ExpiredFilesRepository
	interval time.Duration
	lease    time.Duration
	notifier StatusNotifier
	metrics  observability.IngestionMetrics
	now      func() time.Time
}

// NewLeaseSweeper creates a new lease sweeper.
func NewLeaseSweeper(repo ExpiredFilesRepository, cfg LeaseSweeperConfig) *LeaseSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}

	return &LeaseSweeper{
		repo:     repo,
		interval: cfg.Interval,
		lease:    cfg.Lease,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *LeaseSweeper) Start(ctx context.Context) {
	slog.Info("lease sweeper: started",
		"interval", s.interval,
		"lease", s.lease,
	)

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("lease sweeper: stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce fails every file whose lease expired and returns how many were failed.
func (s *LeaseSweeper) SweepOnce(ctx context.Context) int {
	cutoff := s.now().Add(-s.lease)

	files, err := s.repo.FailExpiredProcessing(ctx, cutoff, LeaseExpiredMessage)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("lease sweeper: sweep failed", "error", err)
		}

		return 0
	}

	if len(files) == 0 {
		return 0
	}

	for i := range files {
		slog.Warn("lease sweeper: processing lease expired",
			"file_id", files[i].ID,
			"user_id", files[i].UserID,
		)

		if s.notifier != nil {
			s.notifier.NotifyFileStatus(ctx, &files[i])
		}
	}

	if s.metrics != nil {
		s.metrics.RecordLeaseExpired(ctx, int64(len(files)))
	}

	return len(files)
}

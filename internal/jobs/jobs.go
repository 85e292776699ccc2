/**
 * @description
 * Scheduled job implementations for the donation-service.
 */
package jobs

import (
	"context"
	"log/slog"
	"time"
)

const staleSweepTimeout = 2 * time.Minute

// StaleExpirer fails pending donations whose confirmation window has passed.
type StaleExpirer interface {
	ExpireStalePending(ctx context.Context) (int, error)
}

// SweepRecorder receives the number of records a sweep expired.
type SweepRecorder interface {
	RecordStaleExpired(n int)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	expirer  StaleExpirer
	recorder SweepRecorder
	logger   *slog.Logger
}

// NewJobs creates a new Jobs runner. recorder may be nil.
func NewJobs(expirer StaleExpirer, recorder SweepRecorder, logger *slog.Logger) *Jobs {
	return &Jobs{
		expirer:  expirer,
		recorder: recorder,
		logger:   logger,
	}
}

// ExpireStalePending runs one sweep over old pending donations.
func (j *Jobs) ExpireStalePending() {
	j.logger.Info("starting stale pending sweep")
	ctx, cancel := context.WithTimeout(context.Background(), staleSweepTimeout)
	defer cancel()

	expired, err := j.expirer.ExpireStalePending(ctx)
	if expired > 0 && j.recorder != nil {
		j.recorder.RecordStaleExpired(expired)
	}
	if err != nil {
		j.logger.Error("stale pending sweep failed", "expired", expired, "error", err)
		return
	}

	j.logger.Info("stale pending sweep finished", "expired", expired)
}

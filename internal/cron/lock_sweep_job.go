package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medisync-labs/medisync-backend/pkg/locks"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/metrics"
)

const defaultScanLimit = 500

// LockSweepJobParams configures the orphaned-lock scan.
type LockSweepJobParams struct {
	Logger           *logger.Logger
	Locks            *locks.Manager
	Metrics          *metrics.PaymentMetrics
	ScanLimit        int64
	LongHoldWarnSpan time.Duration
}

// NewLockSweepJob builds the scan that re-arms expiry on orphaned leases and
// surfaces leases held suspiciously long.
func NewLockSweepJob(params LockSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock manager required")
	}
	scanLimit := params.ScanLimit
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}
	return &lockSweepJob{
		logg:      params.Logger,
		locks:     params.Locks,
		metrics:   params.Metrics,
		scanLimit: scanLimit,
		warnSpan:  params.LongHoldWarnSpan,
	}, nil
}

type lockSweepJob struct {
	logg      *logger.Logger
	locks     *locks.Manager
	metrics   *metrics.PaymentMetrics
	scanLimit int64
	warnSpan  time.Duration
}

func (j *lockSweepJob) Name() string { return "lock-sweep" }

func (j *lockSweepJob) Run(ctx context.Context) error {
	held, err := j.locks.SweepOrphans(ctx, j.scanLimit)
	if err != nil {
		return fmt.Errorf("sweep lock keys: %w", err)
	}

	clamped := 0
	longHeld := 0
	// A lease's age is its TTL minus what remains; operation leases taking
	// longer than the warn span are gateway calls dragging toward timeout.
	warnBelow := j.locks.TTL() - j.warnSpan
	for _, lock := range held {
		keyCtx := j.logg.WithField(ctx, "lock_key", lock.Key)
		if lock.Clamped {
			clamped++
			j.metrics.IncOrphanedLock()
			j.logg.Warn(keyCtx, "lease had no expiry; ttl re-armed")
			continue
		}
		if isWorkerLockKey(lock.Key) {
			continue
		}
		if j.warnSpan > 0 && warnBelow > 0 && lock.Remaining < warnBelow {
			longHeld++
			j.logg.Warn(j.logg.WithField(keyCtx, "remaining_ms", lock.Remaining.Milliseconds()),
				"lease held unusually long")
		}
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"held":      len(held),
		"clamped":   clamped,
		"long_held": longHeld,
	})
	j.logg.Info(reportCtx, "lock sweep complete")
	return nil
}

// isWorkerLockKey filters worker-cycle leases out of the long-hold warning;
// worker leases run minutes, not seconds.
func isWorkerLockKey(key string) bool {
	return strings.Contains(key, ":"+locks.KindWorker+":")
}

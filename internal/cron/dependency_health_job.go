package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/metrics"
)

const (
	defaultHealthInterval = 15 * time.Minute
	probeTimeout          = 10 * time.Second
)

// DependencyProbe is one named health check the worker runs on its slower
// cadence.
type DependencyProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthNotifier interface {
	DependencyAlert(ctx context.Context, dependency string, cause error)
}

// DependencyHealthJobParams configures the dependency health sweep.
type DependencyHealthJobParams struct {
	Logger   *logger.Logger
	Probes   []DependencyProbe
	Notifier healthNotifier
	Metrics  *metrics.PaymentMetrics
	Interval time.Duration
	Now      func() time.Time
}

// NewDependencyHealthJob builds the probe sweep. It registers on every cron
// cycle but throttles itself to the configured interval.
func NewDependencyHealthJob(params DependencyHealthJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(params.Probes) == 0 {
		return nil, fmt.Errorf("at least one probe required")
	}
	for _, probe := range params.Probes {
		if probe.Name == "" || probe.Check == nil {
			return nil, fmt.Errorf("probe needs a name and a check")
		}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &dependencyHealthJob{
		logg:     params.Logger,
		probes:   params.Probes,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		interval: interval,
		now:      now,
		down:     map[string]bool{},
	}, nil
}

type dependencyHealthJob struct {
	logg     *logger.Logger
	probes   []DependencyProbe
	notifier healthNotifier
	metrics  *metrics.PaymentMetrics
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	down    map[string]bool
}

func (j *dependencyHealthJob) Name() string { return "dependency-health" }

func (j *dependencyHealthJob) Run(ctx context.Context) error {
	j.mu.Lock()
	now := j.now().UTC()
	if !j.lastRun.IsZero() && now.Sub(j.lastRun) < j.interval {
		j.mu.Unlock()
		return nil
	}
	j.lastRun = now
	j.mu.Unlock()

	var errs error
	healthy := 0
	for _, probe := range j.probes {
		if err := j.runProbe(ctx, probe); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		healthy++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"probed":  len(j.probes),
		"healthy": healthy,
	})
	j.logg.Info(reportCtx, "dependency health sweep complete")
	return errs
}

// runProbe pings one dependency and alerts only when it flips from healthy to
// down, so a long outage pages once instead of every interval.
func (j *dependencyHealthJob) runProbe(ctx context.Context, probe DependencyProbe) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := probe.Check(probeCtx)
	cancel()

	j.metrics.SetDependencyUp(probe.Name, err == nil)

	j.mu.Lock()
	wasDown := j.down[probe.Name]
	j.down[probe.Name] = err != nil
	j.mu.Unlock()

	depCtx := j.logg.WithField(ctx, "dependency", probe.Name)
	if err != nil {
		if !wasDown {
			j.logg.Error(depCtx, "dependency went down", err)
			if j.notifier != nil {
				j.notifier.DependencyAlert(ctx, probe.Name, err)
			}
		}
		return fmt.Errorf("%s: %w", probe.Name, err)
	}
	if wasDown {
		j.logg.Info(depCtx, "dependency recovered")
	}
	return nil
}

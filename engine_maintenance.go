package authgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RunMaintenance evicts idle quota buckets, closed attempt windows, expired
// known origins, dead sessions and expired account locks. Every step runs
// even if an earlier one failed; the errors are joined.
func (e *Engine) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	start := e.now()
	var (
		report MaintenanceReport
		errs   []error
	)

	if n, err := e.limiter.Sweep(ctx, e.config.MaintenanceIdleHorizon); err != nil {
		errs = append(errs, fmt.Errorf("quota sweep: %w", err))
	} else {
		report.Buckets = n
	}

	if w, o, err := e.guard.Sweep(ctx); err != nil {
		errs = append(errs, fmt.Errorf("attempt sweep: %w", err))
	} else {
		report.AttemptWindows, report.Origins = w, o
	}

	if n, err := e.sessions.Purge(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session purge: %w", err))
	} else {
		report.Sessions = n
	}

	if n, err := e.lockout.UnlockExpired(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unlock expired: %w", err))
	} else {
		report.Unlocked = n
	}

	report.Duration = e.now().Sub(start)
	e.metrics.Inc(MetricMaintenanceRun)

	err := errors.Join(errs...)
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	e.logger.LogAttrs(ctx, level, "maintenance finished",
		slog.Int("buckets", report.Buckets),
		slog.Int("attempt_windows", report.AttemptWindows),
		slog.Int("origins", report.Origins),
		slog.Int("sessions", report.Sessions),
		slog.Int("unlocked", report.Unlocked),
		slog.Duration("took", report.Duration),
		slog.Any("error", err),
	)
	return report, err
}

// RunMaintenanceLoop calls RunMaintenance every interval until ctx ends.
func (e *Engine) RunMaintenanceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = e.RunMaintenance(ctx)
		}
	}
}

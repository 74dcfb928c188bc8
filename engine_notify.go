package authgate

import (
	"context"
	"log/slog"
)

// deliverAlert runs on the notification dispatcher goroutine.
func (e *Engine) deliverAlert(ctx context.Context, alert AnomalyAlert) {
	alert.Location = UnknownLocation
	if e.locator != nil {
		cctx, cancel := e.bounded(ctx)
		loc, err := e.locator.Locate(cctx, alert.OriginIP)
		cancel()
		if err != nil {
			e.logger.LogAttrs(ctx, slog.LevelDebug, "location lookup failed",
				slog.String("ip", alert.OriginIP),
				slog.String("error", err.Error()),
			)
		} else if loc != "" {
			alert.Location = loc
		}
	}

	cctx, cancel := e.bounded(ctx)
	defer cancel()
	if err := e.notifier.NotifyAnomalousLogin(cctx, alert); err != nil {
		e.metrics.Inc(MetricNotificationFailed)
		e.logger.LogAttrs(ctx, slog.LevelError, "anomaly notification failed",
			slog.String("principal_id", alert.PrincipalID),
			slog.String("ip", alert.OriginIP),
			slog.String("error", err.Error()),
		)
	}
}

package anomaly

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/canvasgate/canvasgate/internal/model"
)

// AlertSink consumes security alerts. Implementations must not block.
type AlertSink interface {
	Alert(ctx context.Context, a model.SecurityAlert)
}

// AlertSinkFunc adapts a function to AlertSink.
type AlertSinkFunc func(ctx context.Context, a model.SecurityAlert)

func (f AlertSinkFunc) Alert(ctx context.Context, a model.SecurityAlert) { f(ctx, a) }

// LogSink writes alerts as structured log lines. High severity logs at
// error level, everything else at warn.
func LogSink(logger *slog.Logger) AlertSink {
	return AlertSinkFunc(func(ctx context.Context, a model.SecurityAlert) {
		level := slog.LevelWarn
		if a.Severity == model.SeverityHigh {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "security alert",
			"kind", a.Kind,
			"subject_id", a.SubjectID,
			"metric", a.Metric,
			"value", a.Value,
			"threshold", a.Threshold,
			"severity", string(a.Severity),
		)
	})
}

// CounterSink increments a counter vector labelled by metric and severity.
func CounterSink(alerts *prometheus.CounterVec) AlertSink {
	return AlertSinkFunc(func(_ context.Context, a model.SecurityAlert) {
		alerts.WithLabelValues(a.Metric, string(a.Severity)).Inc()
	})
}

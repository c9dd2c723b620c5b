package services

import (
	"context"
	"log/slog"

	"github.com/triagestack/triage-engine/internal/models"
)

// Notifier delivers run lifecycle notifications to the application's
// distribution lists.
type Notifier interface {
	RunCompleted(ctx context.Context, run models.RunRecord, cfg models.AppConfig)
	ApprovalRequested(ctx context.Context, run models.RunRecord, cfg models.AppConfig)
}

// LogNotifier is the default delivery channel: structured log lines that the
// notification relay tails. Real transports implement Notifier directly.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier builds the log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) RunCompleted(_ context.Context, run models.RunRecord, cfg models.AppConfig) {
	n.logger.Info("run completed",
		slog.String("run_id", run.RunID),
		slog.String("state", string(run.State)),
		slog.String("application", cfg.ApplicationName),
		slog.String("environment", cfg.Environment),
		slog.Float64("confidence", run.Confidence),
		slog.String("notify", cfg.NotificationDLs))
}

func (n *LogNotifier) ApprovalRequested(_ context.Context, run models.RunRecord, cfg models.AppConfig) {
	n.logger.Info("run awaiting approval",
		slog.String("run_id", run.RunID),
		slog.String("application", cfg.ApplicationName),
		slog.String("environment", cfg.Environment),
		slog.String("notify", cfg.NotificationDLs))
}

package service

import (
	"context"
	"log/slog"

	"github.com/reelcut/reelcut/internal/models"
)

// Notifier is told about terminal job outcomes. The production deployment
// plugs an email sender in here; the default just logs.
type Notifier interface {
	JobCompleted(ctx context.Context, job *models.Job, clipCount int)
	JobFailed(ctx context.Context, job *models.Job, reason string)
}

// LogNotifier records terminal outcomes in the service log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "notifier"))}
}

func (n *LogNotifier) JobCompleted(_ context.Context, job *models.Job, clipCount int) {
	n.logger.Info("job completed",
		slog.String("job_id", job.ID.String()),
		slog.String("principal_id", job.PrincipalID),
		slog.Int("clips", clipCount),
	)
}

func (n *LogNotifier) JobFailed(_ context.Context, job *models.Job, reason string) {
	n.logger.Warn("job failed",
		slog.String("job_id", job.ID.String()),
		slog.String("principal_id", job.PrincipalID),
		slog.String("reason", reason),
	)
}

var _ Notifier = (*LogNotifier)(nil)

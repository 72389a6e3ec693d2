package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/schoolhub/schoolhub/internal/audit"
	jobmetrics "github.com/schoolhub/schoolhub/internal/jobs"
)

// RetentionScanSpec runs the scan daily at 02:30 UTC.
const RetentionScanSpec = "30 2 * * *"

// RetentionScanJob counts audit entries past retain-until. Deletion is left to the
// records team's archival process; this job only reports.
type RetentionScanJob struct {
	Reader  audit.Reader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRetentionScanJob initialises the retention scan handler.
func NewRetentionScanJob(reader audit.Reader, logger *slog.Logger, metrics *jobmetrics.Metrics) *RetentionScanJob {
	return &RetentionScanJob{
		Reader:  reader,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *RetentionScanJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Reader == nil {
		return errors.New("retention scan: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAuditRetentionScan)
	defer func() {
		err = tracker.End(err)
	}()

	asOf := j.now()
	count, err := j.Reader.CountExpired(ctx, asOf)
	if err != nil {
		j.logger().Error("retention scan failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetExpiredEntries(count)
	level := slog.LevelInfo
	if count > 0 {
		level = slog.LevelWarn
	}
	j.logger().Log(ctx, level, "retention scan complete",
		slog.Int64("expired_entries", count),
		slog.Time("as_of", asOf))
	return nil
}

func (j *RetentionScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *RetentionScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/schoolhub/schoolhub/internal/audit"
	jobmetrics "github.com/schoolhub/schoolhub/internal/jobs"
)

// AuditPersistJob writes dispatched audit entries to the compliance store.
type AuditPersistJob struct {
	Store   audit.Writer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditPersistJob initialises the persist handler.
func NewAuditPersistJob(store audit.Writer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPersistJob {
	return &AuditPersistJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle appends one entry. Store errors are returned so asynq retries; the store
// ignores replays of an id already written.
func (j *AuditPersistJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("audit persist: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAuditPersist)
	defer func() {
		err = tracker.End(err)
	}()

	var entry audit.Entry
	if uerr := json.Unmarshal(t.Payload(), &entry); uerr != nil || entry.ID == "" {
		j.logger().Error("audit persist: undecodable payload dropped", slog.Int("bytes", len(t.Payload())))
		return asynq.SkipRetry
	}
	if err = j.Store.Append(ctx, entry); err != nil {
		j.logger().Warn("audit persist: append failed",
			slog.String("entry_id", entry.ID),
			slog.String("data_classification", entry.Classification.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (j *AuditPersistJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/schoolhub/schoolhub/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries compliance writes and is served before the default queue.
	QueueAudit = "audit"
	// TaskAuditPersist writes one audit entry to the compliance store.
	TaskAuditPersist = "audit:persist"
	// TaskAuditRetentionScan reports entries past their retention window.
	TaskAuditRetentionScan = "audit:retention_scan"

	auditMaxRetry = 25
)

// NewAuditPersistTask wraps an entry. The entry id doubles as the task id so a
// retried dispatch never queues the same entry twice.
func NewAuditPersistTask(e audit.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPersist, data,
		asynq.Queue(QueueAudit),
		asynq.TaskID(e.ID),
		asynq.MaxRetry(auditMaxRetry),
	), nil
}

// NewRetentionScanTask builds the daily retention scan task.
func NewRetentionScanTask() *asynq.Task {
	return asynq.NewTask(TaskAuditRetentionScan, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

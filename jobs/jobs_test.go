package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/audit"
	jobmetrics "github.com/schoolhub/schoolhub/internal/jobs"
	_ "github.com/schoolhub/schoolhub/testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEntry(id string, retainUntil time.Time) audit.Entry {
	return audit.Entry{
		ID:                  id,
		Operation:           "access.read",
		ResourceType:        "safeguarding",
		ResourceID:          audit.StudentIDPlaceholder,
		ProtectedResourceID: "stu-1",
		PrincipalID:         "u-1",
		PrincipalRole:       "safeguarding-lead",
		Granted:             true,
		Reason:              "ok",
		Timestamp:           time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Classification:      audit.ClassRestricted,
		RetainUntil:         retainUntil,
	}
}

func TestNewAuditPersistTaskUsesEntryID(t *testing.T) {
	entry := sampleEntry("0b8f6a4e-6f7c-4d0e-9a7e-1b2c3d4e5f60", time.Now().AddDate(7, 0, 0))
	task, err := NewAuditPersistTask(entry)
	require.NoError(t, err)
	require.Equal(t, TaskAuditPersist, task.Type())
	require.Contains(t, string(task.Payload()), `"protected_resource_id":"stu-1"`)
}

func TestAuditPersistJobAppendsEntry(t *testing.T) {
	store := audit.NewMemoryStore()
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewAuditPersistJob(store, quietLogger(), metrics)

	entry := sampleEntry("0b8f6a4e-6f7c-4d0e-9a7e-1b2c3d4e5f61", time.Now().AddDate(7, 0, 0))
	task, err := NewAuditPersistTask(entry)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	// redelivery of the same task must not duplicate the entry
	require.NoError(t, job.Handle(context.Background(), task))

	stored := store.Entries()
	require.Len(t, stored, 1)
	require.Equal(t, "stu-1", stored[0].ProtectedResourceID)
	require.Equal(t, audit.ClassRestricted, stored[0].Classification)
	require.True(t, stored[0].Timestamp.Equal(entry.Timestamp))
}

func TestAuditPersistJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewAuditPersistJob(audit.NewMemoryStore(), quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskAuditPersist, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskAuditPersist, []byte(`{"operation":"x"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAuditPersistJobReturnsStoreError(t *testing.T) {
	store := audit.NewMemoryStore()
	boom := errors.New("connection refused")
	store.FailWith(boom)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewAuditPersistJob(store, quietLogger(), metrics)

	task, err := NewAuditPersistTask(sampleEntry("0b8f6a4e-6f7c-4d0e-9a7e-1b2c3d4e5f62", time.Now()))
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)

	count, err := testutil.GatherAndCount(reg, "schoolhub_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRetentionScanReportsExpiredWithoutDeleting(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store := audit.NewMemoryStore()
	require.NoError(t, store.Append(context.Background(), sampleEntry("a", now.Add(-time.Hour))))
	require.NoError(t, store.Append(context.Background(), sampleEntry("b", now.Add(-48*time.Hour))))
	require.NoError(t, store.Append(context.Background(), sampleEntry("c", now.Add(time.Hour))))

	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewRetentionScanJob(store, quietLogger(), metrics)
	job.clock = func() time.Time { return now }

	require.NoError(t, job.Handle(context.Background(), NewRetentionScanTask()))
	require.Len(t, store.Entries(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)
	var gauge float64
	for _, mf := range families {
		if mf.GetName() == "schoolhub_audit_expired_entries" {
			gauge = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	require.Equal(t, float64(2), gauge)
}

func TestRetentionScanRequiresReader(t *testing.T) {
	job := &RetentionScanJob{}
	require.Error(t, job.Handle(context.Background(), NewRetentionScanTask()))
}

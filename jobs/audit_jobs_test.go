package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/sentinel/internal/audit"
	jobmetrics "github.com/odyssey-erp/sentinel/internal/jobs"
)

type failingAppender struct{}

func (failingAppender) Append(context.Context, audit.Event) (audit.Event, error) {
	return audit.Event{}, errors.New("db down")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seriesCount(t *testing.T, registry *prometheus.Registry, name string) int {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return len(mf.GetMetric())
		}
	}
	return 0
}

func TestAuditAppendJobPersists(t *testing.T) {
	store := audit.NewMemoryStore()
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewAuditAppendJob(store, quietLogger(), metrics)

	ev := sampleEvent()
	ev.ID = "evt-1"
	task, err := NewAuditAppendTask(ev)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, store.Len())

	found, err := store.Find(context.Background(), audit.Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, audit.EventPermissionDenied, found[0].EventType)
	assert.Equal(t, "u-1", found[0].ActorID)

	assert.Equal(t, 1, seriesCount(t, registry, "sentinel_jobs_total"))
}

func TestAuditAppendJobRetriesOnStoreError(t *testing.T) {
	job := NewAuditAppendJob(failingAppender{}, quietLogger(), nil)
	ev := sampleEvent()
	ev.ID = "evt-2"
	task, err := NewAuditAppendTask(ev)
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestAuditAppendJobSkipsMalformedPayload(t *testing.T) {
	job := NewAuditAppendJob(audit.NewMemoryStore(), quietLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskAuditAppend, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskAuditAppend, []byte(`{"event":{}}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSecurityAlertJobCountsAlerts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewSecurityAlertJob(quietLogger(), metrics)

	ev := sampleEvent()
	ev.ID = "evt-3"
	task, err := NewSecurityAlertTask(ev)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, 1, seriesCount(t, registry, "sentinel_security_alerts_total"))
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)
}

func TestNewWorkerRoutesRegisteredTasks(t *testing.T) {
	noop := func(context.Context, *asynq.Task) error { return nil }
	w, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers: []TaskHandler{
			{Type: TaskAuditAppend, Handler: noop},
			{Type: "", Handler: noop},
		},
	})
	require.NoError(t, err)

	_, pattern := w.mux.Handler(asynq.NewTask(TaskAuditAppend, nil))
	assert.Equal(t, TaskAuditAppend, pattern)
	_, pattern = w.mux.Handler(asynq.NewTask(TaskSecurityAlert, nil))
	assert.Empty(t, pattern)
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/sentinel/internal/audit"
	jobmetrics "github.com/odyssey-erp/sentinel/internal/jobs"
)

// AuditAppendJob persists events produced by AuditSink.
type AuditAppendJob struct {
	Store   audit.Appender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditAppendJob initialises the append handler.
func NewAuditAppendJob(store audit.Appender, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditAppendJob {
	return &AuditAppendJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle writes the event to the store. Malformed payloads are not retried.
func (j *AuditAppendJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("audit append: handler not configured")
	}
	var payload AuditAppendPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Event.ID == "" || payload.Event.EventType == "" {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskAuditAppend)
	defer func() {
		err = tracker.End(err)
	}()

	if _, err = j.Store.Append(ctx, payload.Event); err != nil {
		loggerOrDefault(j.Logger).Error("audit append failed",
			slog.String("event_id", payload.Event.ID),
			slog.String("event_type", string(payload.Event.EventType)),
			slog.Any("error", err))
		return err
	}
	return nil
}

// SecurityAlertJob reports critical security events to operators.
type SecurityAlertJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSecurityAlertJob initialises the alert handler.
func NewSecurityAlertJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *SecurityAlertJob {
	return &SecurityAlertJob{Logger: logger, Metrics: metrics}
}

// Handle logs the alert at error level with the event context.
func (j *SecurityAlertJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("security alert: handler not configured")
	}
	var payload SecurityAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskSecurityAlert)
	defer func() {
		err = tracker.End(err)
	}()

	ev := payload.Event
	attrs := []any{
		slog.String("event_id", ev.ID),
		slog.String("event_type", string(ev.EventType)),
		slog.String("severity", string(ev.Severity)),
		slog.String("actor_id", ev.ActorID),
		slog.String("actor_role", ev.ActorRole),
		slog.String("client_ip", ev.ClientIP),
		slog.Time("occurred_at", ev.Timestamp),
	}
	if original, ok := ev.Details["originalEventType"].(string); ok {
		attrs = append(attrs, slog.String("original_event_type", original))
	}
	loggerOrDefault(j.Logger).ErrorContext(ctx, "security alert", attrs...)
	j.Metrics.AddSecurityAlert(string(ev.EventType))
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

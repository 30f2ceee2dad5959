package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/sentinel/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries security alerts ahead of regular work.
	QueueCritical = "critical"
	// TaskAuditAppend persists an audit event enqueued by the API.
	TaskAuditAppend = "audit:append"
	// TaskSecurityAlert delivers an alert for a critical security event.
	TaskSecurityAlert = "audit:security-alert"
)

// AuditAppendPayload wraps the event to persist.
type AuditAppendPayload struct {
	Event audit.Event `json:"event"`
}

// SecurityAlertPayload wraps the event that triggered the alert.
type SecurityAlertPayload struct {
	Event audit.Event `json:"event"`
}

// NewAuditAppendTask builds the task persisting ev. The event id doubles as
// the task id so a duplicate enqueue is rejected by the broker.
func NewAuditAppendTask(ev audit.Event) (*asynq.Task, error) {
	data, err := json.Marshal(AuditAppendPayload{Event: ev})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditAppend, data, asynq.TaskID(ev.ID), asynq.Queue(QueueDefault), asynq.MaxRetry(10)), nil
}

// NewSecurityAlertTask builds the alert task for ev.
func NewSecurityAlertTask(ev audit.Event) (*asynq.Task, error) {
	data, err := json.Marshal(SecurityAlertPayload{Event: ev})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSecurityAlert, data, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), nil
}

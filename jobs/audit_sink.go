package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/sentinel/internal/audit"
)

// Enqueuer is the subset of the Asynq client used by the audit sink.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AuditSink is an audit.Appender that hands events to the worker instead of
// writing them inline. A successful Append means the event was enqueued.
type AuditSink struct {
	queue Enqueuer
}

// NewAuditSink wires the sink to a queue client.
func NewAuditSink(queue Enqueuer) *AuditSink {
	return &AuditSink{queue: queue}
}

// Append implements audit.Appender.
func (s *AuditSink) Append(ctx context.Context, ev audit.Event) (audit.Event, error) {
	if s == nil || s.queue == nil {
		return audit.Event{}, fmt.Errorf("%w: audit queue not configured", audit.ErrPersistence)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	task, err := NewAuditAppendTask(ev)
	if err != nil {
		return audit.Event{}, fmt.Errorf("%w: encode task: %v", audit.ErrPersistence, err)
	}
	if _, err := s.queue.EnqueueContext(ctx, task); err != nil {
		return audit.Event{}, fmt.Errorf("%w: enqueue: %v", audit.ErrPersistence, err)
	}
	return ev, nil
}

// SecurityAlerter is an audit.Alerter that enqueues alert tasks.
type SecurityAlerter struct {
	queue Enqueuer
}

// NewSecurityAlerter wires the alerter to a queue client.
func NewSecurityAlerter(queue Enqueuer) *SecurityAlerter {
	return &SecurityAlerter{queue: queue}
}

// SecurityAlert implements audit.Alerter.
func (a *SecurityAlerter) SecurityAlert(ctx context.Context, ev audit.Event) error {
	if a == nil || a.queue == nil {
		return fmt.Errorf("security alert: queue not configured")
	}
	task, err := NewSecurityAlertTask(ev)
	if err != nil {
		return err
	}
	_, err = a.queue.EnqueueContext(ctx, task)
	return err
}

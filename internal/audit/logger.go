package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/sentinel/internal/identity"
)

// MaxBulkIDs caps the ids embedded in bulk operation details.
const MaxBulkIDs = 100

const defaultIPTimeout = 2 * time.Second

// ClientInfo describes the client a Recorder acts for.
type ClientInfo struct {
	IP        string
	UserAgent string
	SessionID string
}

// Alerter is notified after a security escalation is persisted.
type Alerter interface {
	SecurityAlert(ctx context.Context, ev Event) error
}

// MetricsRecorder counts audit writes.
type MetricsRecorder interface {
	ObserveAuditWrite(eventType EventType, severity Severity, ok bool)
}

// Options configures a Logger.
type Options struct {
	Rules      *SeverityRules
	IPResolver IPResolver
	IPTimeout  time.Duration
	Alerter    Alerter
	Metrics    MetricsRecorder
	Logger     *slog.Logger
	Source     string
	Now        func() time.Time
}

// Logger is the process-wide audit writer. Bind it to a session with For.
type Logger struct {
	store     Appender
	rules     SeverityRules
	ips       IPResolver
	ipTimeout time.Duration
	alerter   Alerter
	metrics   MetricsRecorder
	logger    *slog.Logger
	source    string
	now       func() time.Time
}

// NewLogger constructs a Logger writing to store.
func NewLogger(store Appender, opts Options) *Logger {
	l := &Logger{
		store:     store,
		rules:     DefaultSeverityRules(),
		ips:       opts.IPResolver,
		ipTimeout: opts.IPTimeout,
		alerter:   opts.Alerter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		source:    opts.Source,
		now:       opts.Now,
	}
	if opts.Rules != nil {
		l.rules = *opts.Rules
	}
	if l.ipTimeout <= 0 {
		l.ipTimeout = defaultIPTimeout
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.source == "" {
		l.source = "sentinel"
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Rules returns the severity table in use.
func (l *Logger) Rules() SeverityRules {
	return l.rules
}

// For binds the logger to one session's identity and client.
func (l *Logger) For(id *identity.Context, client ClientInfo) *Recorder {
	return &Recorder{logger: l, identity: id, client: client}
}

// Recorder writes audit events on behalf of one session. Every method logs
// and continues: failures are reported through the boolean result only.
type Recorder struct {
	logger   *Logger
	identity *identity.Context
	client   ClientInfo

	ipOnce sync.Once
	ip     string
}

// LogEvent persists one event. Critical events are additionally persisted as
// a SECURITY_ESCALATION event.
func (r *Recorder) LogEvent(ctx context.Context, eventType EventType, details Details, severity Severity) bool {
	if r == nil || r.logger == nil {
		return false
	}
	return r.record(ctx, eventType, details, severity, true)
}

// LogDataChange records the difference between before and after of one
// resource. action defaults to UPDATED.
func (r *Recorder) LogDataChange(ctx context.Context, resourceType, resourceID string, before, after Snapshot, action string) bool {
	if r == nil || r.logger == nil {
		return false
	}
	if strings.TrimSpace(action) == "" {
		action = "UPDATED"
	}
	changes := Diff(before, after)
	severity := r.logger.rules.Classify(resourceType, changes)
	eventType := EventType(strings.ToUpper(resourceType) + "_" + strings.ToUpper(action))
	details := Details{
		"resourceType": resourceType,
		"resourceId":   resourceID,
		"action":       strings.ToUpper(action),
		"changes":      changes.Redact(),
		"changedCount": len(changes),
		"before":       before.Redact(),
		"after":        after.Redact(),
	}
	return r.LogEvent(ctx, eventType, details, severity)
}

// LogRecordChange is LogDataChange over the declared audit fields of two
// typed records.
func LogRecordChange[T any](ctx context.Context, r *Recorder, resourceType, resourceID string, before, after T, action string) bool {
	return r.LogDataChange(ctx, resourceType, resourceID, SnapshotOf(before), SnapshotOf(after), action)
}

// LogBulkOperation records one operation over many resources.
func (r *Recorder) LogBulkOperation(ctx context.Context, operationType, resourceType string, affectedIDs []string, extra Details) bool {
	if r == nil || r.logger == nil {
		return false
	}
	details := extra.Clone()
	ids := affectedIDs
	if len(ids) > MaxBulkIDs {
		ids = ids[:MaxBulkIDs]
	}
	details["affectedCount"] = len(affectedIDs)
	details["affectedIds"] = append([]string(nil), ids...)
	details["totalCount"] = len(affectedIDs)
	details["resourceType"] = resourceType
	severity := SeverityMedium
	if len(affectedIDs) > MaxBulkIDs {
		severity = SeverityHigh
	}
	return r.LogEvent(ctx, EventType("BULK_"+strings.ToUpper(operationType)), details, severity)
}

// LogSecurityEvent records a security event at Critical severity with review
// markers. It is not escalated a second time.
func (r *Recorder) LogSecurityEvent(ctx context.Context, eventType EventType, details Details) bool {
	if r == nil || r.logger == nil {
		return false
	}
	return r.record(ctx, eventType, withSecurityMarkers(details), SeverityCritical, false)
}

func withSecurityMarkers(details Details) Details {
	out := details.Clone()
	out["securityLevel"] = "HIGH"
	out["requiresReview"] = true
	out["alertSent"] = false
	return out
}

func (r *Recorder) record(ctx context.Context, eventType EventType, details Details, severity Severity, escalate bool) bool {
	if !severity.Valid() {
		severity = SeverityLow
	}
	ev := r.newEvent(ctx, eventType, details, severity)
	stored, ok := r.persist(ctx, ev)
	if severity != SeverityCritical {
		return ok
	}
	if !escalate {
		// Already a security event.
		if ok {
			r.alert(ctx, stored)
		}
		return ok
	}

	escalation := ev
	escalation.EventType = EventSecurityEscalation
	escalation.Details = withSecurityMarkers(ev.Details)
	escalation.Details["originalEventType"] = string(eventType)
	if stored.ID != "" {
		escalation.Details["originalEventId"] = stored.ID
	}
	escalated, escOK := r.persist(ctx, escalation)
	if escOK {
		r.alert(ctx, escalated)
	}
	return ok && escOK
}

func (r *Recorder) alert(ctx context.Context, ev Event) {
	if r.logger.alerter == nil {
		return
	}
	if err := r.logger.alerter.SecurityAlert(ctx, ev); err != nil {
		r.logger.logger.Warn("audit security alert failed", slog.String("event_type", string(ev.EventType)), slog.Any("error", err))
	}
}

func (r *Recorder) newEvent(ctx context.Context, eventType EventType, details Details, severity Severity) Event {
	ev := Event{
		EventType:   eventType,
		Severity:    severity,
		ActorID:     AnonymousID,
		ActorLabel:  AnonymousLabel,
		ActorRole:   "none",
		Timestamp:   r.logger.now().UTC(),
		Details:     details.Clone().Bound(MaxDetailsBytes),
		ClientIP:    r.clientIP(ctx),
		ClientAgent: r.client.UserAgent,
		SessionID:   r.client.SessionID,
		Source:      r.logger.source,
	}
	if id, ok := r.identity.Current(); ok {
		ev.ActorID = id.ID()
		ev.ActorLabel = id.Label()
		ev.ActorRole = id.Role().String()
	}
	return ev
}

func (r *Recorder) persist(ctx context.Context, ev Event) (Event, bool) {
	l := r.logger
	if l.store == nil {
		l.logger.Error("audit store not configured", slog.String("event_type", string(ev.EventType)))
		l.observe(ev, false)
		return Event{}, false
	}
	stored, err := l.store.Append(ctx, ev)
	if err != nil {
		l.logger.Error("audit write failed",
			slog.String("event_type", string(ev.EventType)),
			slog.String("severity", string(ev.Severity)),
			slog.Any("error", err))
		l.observe(ev, false)
		return Event{}, false
	}
	l.observe(ev, true)
	return stored, true
}

func (l *Logger) observe(ev Event, ok bool) {
	if l.metrics != nil {
		l.metrics.ObserveAuditWrite(ev.EventType, ev.Severity, ok)
	}
}

// clientIP prefers the address seen on the connection. Recorders without one
// (seed runs, background work) ask the resolver once.
func (r *Recorder) clientIP(ctx context.Context) string {
	if r.client.IP != "" {
		return r.client.IP
	}
	r.ipOnce.Do(func() {
		r.ip = resolveIP(ctx, r.logger.ips, r.logger.ipTimeout)
	})
	return r.ip
}

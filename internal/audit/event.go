// Package audit records security and business events in an append-only trail
// and answers filtered queries and windowed statistics over it.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrPersistence wraps store read and write failures.
	ErrPersistence = errors.New("audit: persistence failure")
	// ErrValidation marks a malformed filter field.
	ErrValidation = errors.New("audit: invalid filter")
)

// Severity grades an event.
type Severity string

// Severities from least to most serious.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// ParseSeverity accepts any letter case.
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, ok := ParseSeverity(string(text))
	if !ok {
		return fmt.Errorf("audit: unknown severity %q", string(text))
	}
	*s = parsed
	return nil
}

// EventType names what happened. Data changes produce RESOURCE_ACTION names
// outside the constants below.
type EventType string

// Known event types.
const (
	EventLogin       EventType = "LOGIN"
	EventLogout      EventType = "LOGOUT"
	EventLoginFailed EventType = "LOGIN_FAILED"

	EventUserCreated       EventType = "USER_CREATED"
	EventUserUpdated       EventType = "USER_UPDATED"
	EventUserDeleted       EventType = "USER_DELETED"
	EventUserRoleChanged   EventType = "USER_ROLE_CHANGED"
	EventUserStatusChanged EventType = "USER_STATUS_CHANGED"

	EventOrderCreated     EventType = "ORDER_CREATED"
	EventOrderUpdated     EventType = "ORDER_UPDATED"
	EventOrderDeleted     EventType = "ORDER_DELETED"
	EventCustomerCreated  EventType = "CUSTOMER_CREATED"
	EventCustomerUpdated  EventType = "CUSTOMER_UPDATED"
	EventCustomerDeleted  EventType = "CUSTOMER_DELETED"
	EventInventoryUpdated EventType = "INVENTORY_UPDATED"

	EventSystemSettingsChanged EventType = "SYSTEM_SETTINGS_CHANGED"
	EventCommunicationSent     EventType = "COMMUNICATION_SENT"
	EventSEOUpdated            EventType = "SEO_UPDATED"

	EventPermissionDenied   EventType = "PERMISSION_DENIED"
	EventSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
	EventPasswordChanged    EventType = "PASSWORD_CHANGED"
	EventSecurityBreach     EventType = "SECURITY_BREACH"
	EventSecurityEscalation EventType = "SECURITY_ESCALATION"

	EventAuditExported EventType = "AUDIT_EXPORTED"
)

// Category groups an event type for reporting.
func (t EventType) Category() string {
	switch t {
	case EventLogin, EventLogout, EventLoginFailed:
		return "authentication"
	case EventPermissionDenied, EventSuspiciousActivity, EventPasswordChanged, EventSecurityBreach, EventSecurityEscalation:
		return "security"
	}
	name := string(t)
	switch {
	case strings.HasPrefix(name, "AUDIT_"):
		return "compliance"
	case strings.HasPrefix(name, "BULK_"):
		return "bulk"
	case strings.HasPrefix(name, "USER_"):
		return "user_management"
	case strings.HasPrefix(name, "ORDER_"), strings.HasPrefix(name, "CUSTOMER_"), strings.HasPrefix(name, "INVENTORY_"):
		return "business"
	case strings.HasPrefix(name, "SYSTEM_"), strings.HasPrefix(name, "COMMUNICATION_"), strings.HasPrefix(name, "SEO_"):
		return "system"
	default:
		return "other"
	}
}

// IsSecurityRelated reports whether statistics count t as a security event.
func (t EventType) IsSecurityRelated() bool {
	name := string(t)
	return strings.Contains(name, "SECURITY") || strings.Contains(name, "LOGIN")
}

// Anonymous actor placeholder used when no identity is signed in.
const (
	AnonymousID    = "anonymous"
	AnonymousLabel = "Anonymous"
)

// Event is one persisted audit record. It is never mutated once stored.
type Event struct {
	ID          string    `json:"id"`
	EventType   EventType `json:"eventType"`
	Severity    Severity  `json:"severity"`
	ActorID     string    `json:"actorId"`
	ActorLabel  string    `json:"actorLabel"`
	ActorRole   string    `json:"actorRole"`
	Timestamp   time.Time `json:"timestamp"`
	Details     Details   `json:"details"`
	ClientIP    string    `json:"clientIp"`
	ClientAgent string    `json:"clientAgent"`
	SessionID   string    `json:"sessionId"`
	Source      string    `json:"source"`
}

// Actor returns the label used in reports, falling back to the id.
func (e Event) Actor() string {
	if e.ActorLabel != "" {
		return e.ActorLabel
	}
	return e.ActorID
}

// MaxDetailsBytes bounds the encoded size of event details.
const MaxDetailsBytes = 16 << 10

// Details is the structured payload of an event.
type Details map[string]any

// Clone returns a shallow copy safe to extend.
func (d Details) Clone() Details {
	out := make(Details, len(d)+4)
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Bound keeps the encoded payload under limit bytes. Keys are kept in sorted
// order while they fit; dropped keys are listed under "truncatedKeys".
func (d Details) Bound(limit int) Details {
	raw, err := json.Marshal(d)
	if err == nil && len(raw) <= limit {
		return d
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Details, len(d))
	var dropped []string
	// Reserve room for the truncation markers.
	budget := limit - 256
	for _, k := range keys {
		encoded, err := json.Marshal(d[k])
		size := len(k) + len(encoded) + 4
		if err != nil || size > budget {
			dropped = append(dropped, k)
			continue
		}
		out[k] = d[k]
		budget -= size
	}
	out["truncated"] = true
	if len(dropped) > 0 {
		if len(dropped) > 10 {
			dropped = dropped[:10]
		}
		out["truncatedKeys"] = dropped
	}
	return out
}

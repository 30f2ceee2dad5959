package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Batas hasil query audit.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
	// StatisticsScanLimit membatasi jumlah event yang dipindai statistik.
	StatisticsScanLimit = 1000
)

// Filter menampung filter query audit dari pemanggil. Field yang tidak valid
// diabaikan satu per satu sehingga query tetap berjalan dengan batas.
type Filter struct {
	ActorID   string     `validate:"omitempty,max=128"`
	EventType string     `validate:"omitempty,max=128,eventtype"`
	Severity  string     `validate:"omitempty,severity"`
	StartDate *time.Time `validate:"omitempty"`
	EndDate   *time.Time `validate:"omitempty"`
	Limit     int        `validate:"gte=0"`
}

// Window is a statistics period ending now.
type Window string

// Supported windows.
const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

// ParseWindow maps a name to a Window, defaulting to a day.
func ParseWindow(v string) (Window, bool) {
	switch Window(strings.ToLower(strings.TrimSpace(v))) {
	case WindowDay:
		return WindowDay, true
	case WindowWeek:
		return WindowWeek, true
	case WindowMonth:
		return WindowMonth, true
	default:
		return WindowDay, false
	}
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Statistics is derived from a window scan and never cached.
type Statistics struct {
	Window           Window         `json:"window"`
	From             time.Time      `json:"from"`
	To               time.Time      `json:"to"`
	TotalEvents      int            `json:"totalEvents"`
	EventsByType     map[string]int `json:"eventsByType"`
	EventsBySeverity map[string]int `json:"eventsBySeverity"`
	EventsByActor    map[string]int `json:"eventsByActor"`
	EventsByDay      map[string]int `json:"eventsByDay"`
	CriticalEvents   int            `json:"criticalEvents"`
	SecurityEvents   int            `json:"securityEvents"`
}

func emptyStatistics(w Window, from, to time.Time) Statistics {
	return Statistics{
		Window:           w,
		From:             from,
		To:               to,
		EventsByType:     map[string]int{},
		EventsBySeverity: map[string]int{},
		EventsByActor:    map[string]int{},
		EventsByDay:      map[string]int{},
	}
}

// Service mengoordinasikan pengambilan log dan statistik audit.
type Service struct {
	reader   Reader
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService membuat service query audit baru.
func NewService(reader Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{reader: reader, logger: logger, validate: newValidator(), now: time.Now}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		_, ok := ParseSeverity(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("eventtype", func(fl validator.FieldLevel) bool {
		for _, c := range fl.Field().String() {
			if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_') {
				return false
			}
		}
		return true
	})
	return v
}

// Normalize turns f into a store query. Invalid fields are dropped and
// reported in the returned error, which wraps ErrValidation.
func (s *Service) Normalize(f Filter) (Query, error) {
	var problems []error
	invalid := map[string]bool{}
	if err := s.validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Query{Limit: DefaultLimit}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		for _, fe := range verrs {
			invalid[fe.Field()] = true
			problems = append(problems, fmt.Errorf("%w: %s failed %s", ErrValidation, fe.Field(), fe.Tag()))
		}
	}

	q := Query{Limit: DefaultLimit}
	if !invalid["ActorID"] {
		q.ActorID = strings.TrimSpace(f.ActorID)
	}
	if !invalid["EventType"] {
		q.EventType = EventType(strings.ToUpper(strings.TrimSpace(f.EventType)))
	}
	if !invalid["Severity"] && f.Severity != "" {
		q.Severity, _ = ParseSeverity(f.Severity)
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		problems = append(problems, fmt.Errorf("%w: startDate after endDate", ErrValidation))
	} else {
		if f.StartDate != nil {
			q.From = f.StartDate.UTC()
		}
		if f.EndDate != nil {
			q.To = f.EndDate.UTC()
		}
	}
	if !invalid["Limit"] && f.Limit > 0 {
		q.Limit = f.Limit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q, errors.Join(problems...)
}

// GetAuditLogs mengembalikan event terbaru lebih dulu dan tidak pernah
// mengembalikan error; kegagalan store menghasilkan slice kosong.
func (s *Service) GetAuditLogs(ctx context.Context, f Filter) []Event {
	q, verr := s.Normalize(f)
	if verr != nil {
		s.logger.Warn("audit filter degraded", slog.Any("error", verr))
	}
	return s.find(ctx, q)
}

func (s *Service) find(ctx context.Context, q Query) []Event {
	if s.reader == nil {
		s.logger.Error("audit reader not configured")
		return []Event{}
	}
	events, err := s.reader.Find(ctx, q)
	if err != nil {
		s.logger.Error("audit query failed", slog.Any("error", err))
		return []Event{}
	}
	if events == nil {
		return []Event{}
	}
	SortNewestFirst(events)
	if len(events) > q.Limit {
		events = events[:q.Limit]
	}
	return events
}

// GetStatistics menghitung statistik dari pemindaian jendela waktu.
func (s *Service) GetStatistics(ctx context.Context, w Window) Statistics {
	w, _ = ParseWindow(string(w))
	to := s.now().UTC()
	from := to.Add(-w.Duration())
	events := s.find(ctx, Query{From: from, To: to, Limit: StatisticsScanLimit})

	stats := emptyStatistics(w, from, to)
	for _, ev := range events {
		stats.TotalEvents++
		stats.EventsByType[string(ev.EventType)]++
		stats.EventsBySeverity[string(ev.Severity)]++
		stats.EventsByActor[ev.Actor()]++
		stats.EventsByDay[ev.Timestamp.UTC().Format("2006-01-02")]++
		if ev.Severity == SeverityCritical {
			stats.CriticalEvents++
		}
		if ev.EventType.IsSecurityRelated() {
			stats.SecurityEvents++
		}
	}
	return stats
}

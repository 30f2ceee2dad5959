package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/rbac"
)

// QueryService defines the read contract of the audit trail.
type QueryService interface {
	GetAuditLogs(ctx context.Context, f audit.Filter) []audit.Event
	GetStatistics(ctx context.Context, w audit.Window) audit.Statistics
}

// Handler menangani permintaan log, statistik dan ekspor audit.
type Handler struct {
	logger  *slog.Logger
	service QueryService
	rbac    rbac.Middleware
	stats   singleflight.Group
	now     func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service QueryService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, now: time.Now}
}

type logsResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	events := h.service.GetAuditLogs(r.Context(), h.parseFilter(r))
	httpx.JSON(w, http.StatusOK, logsResponse{Events: events, Count: len(events)})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	window, ok := audit.ParseWindow(r.URL.Query().Get("window"))
	if !ok && r.URL.Query().Get("window") != "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "window must be day, week or month")
		return
	}
	// Concurrent requests for the same window share one scan.
	v, _, _ := h.stats.Do(string(window), func() (any, error) {
		return h.service.GetStatistics(context.WithoutCancel(r.Context()), window), nil
	})
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	events := h.service.GetAuditLogs(r.Context(), h.parseFilter(r))
	filename := "audit-log-" + h.now().UTC().Format("20060102") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	if err := audit.WriteCSV(w, events); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
	if rec := audit.RecorderFromContext(r.Context()); rec != nil {
		rec.LogEvent(r.Context(), audit.EventAuditExported, audit.Details{
			"rows":   len(events),
			"filter": r.URL.RawQuery,
		}, audit.SeverityMedium)
	}
}

// parseFilter reads query parameters. Malformed values are logged and left
// out so the query degrades to a broader, still bounded, result.
func (h *Handler) parseFilter(r *http.Request) audit.Filter {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID:   strings.TrimSpace(q.Get("actor")),
		EventType: strings.TrimSpace(q.Get("event_type")),
		Severity:  strings.TrimSpace(q.Get("severity")),
	}
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		if t, ok := parseDate(v, false); ok {
			f.StartDate = &t
		} else {
			h.logger.Warn("audit filter ignored", slog.String("field", "from"), slog.String("value", v))
		}
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		if t, ok := parseDate(v, true); ok {
			f.EndDate = &t
		} else {
			h.logger.Warn("audit filter ignored", slog.String("field", "to"), slog.String("value", v))
		}
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		} else {
			h.logger.Warn("audit filter ignored", slog.String("field", "limit"), slog.String("value", v))
		}
	}
	return f
}

// parseDate accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func parseDate(v string, endOfDay bool) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), true
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true
}

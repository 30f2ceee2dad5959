package audit

import (
	"context"
	"net"
	"net/http"

	"github.com/odyssey-erp/sentinel/internal/identity"
	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

type recorderKey struct{}

// WithRecorder stores rec in ctx.
func WithRecorder(ctx context.Context, rec *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

// RecorderFromContext returns the request recorder. A nil Recorder is safe
// to call and reports every write as failed.
func RecorderFromContext(ctx context.Context) *Recorder {
	rec, _ := ctx.Value(recorderKey{}).(*Recorder)
	return rec
}

// ClientFromRequest collects the client metadata of r. RemoteAddr is expected
// to be normalised by the RealIP middleware. An unusable address is recorded
// as UnknownIP; the public IP lookup would only report this server's address.
func ClientFromRequest(r *http.Request) ClientInfo {
	client := ClientInfo{IP: UnknownIP, UserAgent: r.UserAgent()}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		client.IP = host
	} else if net.ParseIP(r.RemoteAddr) != nil {
		client.IP = r.RemoteAddr
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		client.SessionID = sess.AuditSessionID()
	}
	return client
}

// Middleware attaches a Recorder bound to the request identity. It must run
// after the session and identity middleware.
func (l *Logger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := l.For(identity.FromContext(r.Context()), ClientFromRequest(r))
		next.ServeHTTP(w, r.WithContext(WithRecorder(r.Context(), rec)))
	})
}

// RecordDenied logs a PERMISSION_DENIED security event for r. It matches
// rbac.DeniedFunc.
func RecordDenied(r *http.Request, req rbac.Requirement) {
	rec := RecorderFromContext(r.Context())
	if rec == nil {
		return
	}
	rec.LogSecurityEvent(r.Context(), EventPermissionDenied, Details{
		"requirement": req.String(),
		"method":      r.Method,
		"path":        r.URL.Path,
	})
}

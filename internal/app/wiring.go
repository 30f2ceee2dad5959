package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/identity"
	"github.com/odyssey-erp/sentinel/internal/platform/cache"
	"github.com/odyssey-erp/sentinel/internal/rbac"
)

// NewRBACMiddleware binds requirement checks to the request identity. Every
// denial is written to the audit trail as PERMISSION_DENIED.
func NewRBACMiddleware(registry *rbac.Registry, logger *slog.Logger, observer rbac.DecisionObserver) rbac.Middleware {
	return rbac.Middleware{
		Evaluator: rbac.NewEvaluator(registry),
		Principal: identity.PrincipalFromRequest,
		Denied:    audit.RecordDenied,
		Observer:  observer,
		Logger:    logger,
	}
}

// AuditDeps collects the collaborators of the audit logger that differ
// between the inline and queued write paths.
type AuditDeps struct {
	Store   audit.Appender
	Alerter audit.Alerter
	Metrics audit.MetricsRecorder
	IPCache *cache.JSON
}

// NewAuditLogger builds the process-wide audit logger from configuration.
func NewAuditLogger(cfg *Config, logger *slog.Logger, deps AuditDeps) (*audit.Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: audit logger requires config")
	}
	opts := audit.Options{
		Alerter:   deps.Alerter,
		Metrics:   deps.Metrics,
		Logger:    logger,
		Source:    cfg.AuditSource,
		IPTimeout: cfg.AuditIPLookupTimeout,
	}
	if cfg.AuditSeverityRules != "" {
		rules, err := audit.LoadSeverityRules(cfg.AuditSeverityRules)
		if err != nil {
			return nil, fmt.Errorf("app: load severity rules: %w", err)
		}
		opts.Rules = &rules
	}
	if cfg.AuditIPLookupURL != "" {
		var resolver audit.IPResolver = audit.HTTPIPResolver{
			URL:    cfg.AuditIPLookupURL,
			Client: &http.Client{Timeout: cfg.AuditIPLookupTimeout},
		}
		if deps.IPCache != nil {
			resolver = audit.CachedIPResolver{Resolver: resolver, Cache: deps.IPCache}
		}
		opts.IPResolver = resolver
	}
	return audit.NewLogger(deps.Store, opts), nil
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/sentinel/internal/platform/cache"
)

// UnknownIP is recorded when the client address cannot be resolved.
const UnknownIP = "unknown"

// IPResolver looks up the public address of the client.
type IPResolver interface {
	ResolveIP(ctx context.Context) (string, error)
}

// HTTPIPResolver asks an external echo service for the caller's address. The
// endpoint may answer with a bare address or JSON of the form {"ip": "..."}.
// Called from a server the answer is the process's egress address, so it only
// serves recorders created outside an HTTP request.
type HTTPIPResolver struct {
	URL    string
	Client *http.Client
}

// ResolveIP implements IPResolver.
func (r HTTPIPResolver) ResolveIP(ctx context.Context) (string, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("audit: ip lookup status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", err
	}
	raw := strings.TrimSpace(string(body))
	if strings.HasPrefix(raw, "{") {
		var payload struct {
			IP string `json:"ip"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", err
		}
		raw = payload.IP
	}
	if net.ParseIP(raw) == nil {
		return "", fmt.Errorf("audit: ip lookup returned %q", raw)
	}
	return raw, nil
}

// resolveIP runs the resolver under timeout and never fails.
func resolveIP(ctx context.Context, resolver IPResolver, timeout time.Duration) string {
	if resolver == nil {
		return UnknownIP
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ip, err := resolver.ResolveIP(ctx)
	if err != nil || ip == "" {
		return UnknownIP
	}
	return ip
}

// CachedIPResolver keeps the last resolved egress address in Redis so
// recorders across processes share one lookup per TTL.
type CachedIPResolver struct {
	Resolver IPResolver
	Cache    *cache.JSON
}

// ResolveIP implements IPResolver.
func (r CachedIPResolver) ResolveIP(ctx context.Context) (string, error) {
	if r.Resolver == nil {
		return "", fmt.Errorf("audit: ip resolver not configured")
	}
	var ip string
	err := r.Cache.Fetch(ctx, r.Cache.Key("public-ip"), &ip, func(ctx context.Context) (any, error) {
		return r.Resolver.ResolveIP(ctx)
	})
	return ip, err
}

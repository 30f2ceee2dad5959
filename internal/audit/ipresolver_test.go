package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/sentinel/internal/platform/cache"
)

func TestHTTPIPResolverFormats(t *testing.T) {
	cases := map[string]struct {
		body    string
		status  int
		want    string
		wantErr bool
	}{
		"plain":      {body: "203.0.113.7\n", status: http.StatusOK, want: "203.0.113.7"},
		"json":       {body: `{"ip":"2001:db8::1"}`, status: http.StatusOK, want: "2001:db8::1"},
		"garbage":    {body: "not-an-ip", status: http.StatusOK, wantErr: true},
		"http error": {body: "", status: http.StatusBadGateway, wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			ip, err := HTTPIPResolver{URL: srv.URL, Client: srv.Client()}.ResolveIP(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, ip)
		})
	}
}

func TestResolveIPFallsBackToUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("203.0.113.7"))
	}))
	defer srv.Close()

	got := resolveIP(context.Background(), HTTPIPResolver{URL: srv.URL}, 20*time.Millisecond)
	assert.Equal(t, UnknownIP, got)
	assert.Equal(t, UnknownIP, resolveIP(context.Background(), nil, time.Second))
}

func TestCachedIPResolverSharesLookup(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("198.51.100.4"))
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	resolver := CachedIPResolver{
		Resolver: HTTPIPResolver{URL: srv.URL},
		Cache:    cache.NewJSON(client, "audit", time.Minute),
	}
	for i := 0; i < 3; i++ {
		ip, err := resolver.ResolveIP(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "198.51.100.4", ip)
	}
	assert.Equal(t, int32(1), hits.Load())
}

type countingResolver struct{ calls atomic.Int32 }

func (r *countingResolver) ResolveIP(context.Context) (string, error) {
	r.calls.Add(1)
	return "203.0.113.9", nil
}

func TestRequestRecorderNeverUsesEgressLookup(t *testing.T) {
	resolver := &countingResolver{}
	store := NewMemoryStore()
	logger := NewLogger(store, Options{IPResolver: resolver})

	withAddr := httptest.NewRequest(http.MethodGet, "/", nil)
	withAddr.RemoteAddr = "198.51.100.4:5555"
	noAddr := httptest.NewRequest(http.MethodGet, "/", nil)
	noAddr.RemoteAddr = ""

	ctx := context.Background()
	require.True(t, logger.For(nil, ClientFromRequest(withAddr)).LogEvent(ctx, EventLogin, nil, SeverityLow))
	require.True(t, logger.For(nil, ClientFromRequest(noAddr)).LogEvent(ctx, EventLogin, nil, SeverityLow))

	events, err := store.Find(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	ips := []string{events[0].ClientIP, events[1].ClientIP}
	assert.ElementsMatch(t, []string{"198.51.100.4", UnknownIP}, ips)
	assert.Zero(t, resolver.calls.Load())
}

package serv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sqlops/sqlconsole/core"
	"github.com/sqlops/sqlconsole/core/coretest"
)

func TestRateLimit(t *testing.T) {
	te := newTestEnv(t, `
rate_limiter:
  rate: 1
  bucket: 1
  ip_header: X-Forwarded-For
`, nil)

	get := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, healthRoute, nil)
		if ip != "" {
			req.Header.Set("X-Forwarded-For", ip)
		}
		w := httptest.NewRecorder()
		te.h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.2, 172.16.0.1"))
	assert.Equal(t, http.StatusOK, get(""))
}

func TestClientIP(t *testing.T) {
	l, err := newIPLimiter(RateLimiter{Rate: 1, Bucket: 1, IPHeader: "X-Real-IP"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", l.clientIP(req))

	req.Header.Set("X-Real-IP", " 203.0.113.7 ")
	assert.Equal(t, "203.0.113.7", l.clientIP(req))
}

func TestRateLimit_ConcurrentFirstRequests(t *testing.T) {
	l, err := newIPLimiter(RateLimiter{Rate: 0.001, Bucket: 1})
	require.NoError(t, err)

	h := l.rateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	const n = 50
	codes := make(chan int, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			req := httptest.NewRequest(http.MethodGet, healthRoute, nil)
			req.RemoteAddr = "198.51.100.4:4000"
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			codes <- w.Code
		}()
	}
	close(start)
	wg.Wait()
	close(codes)

	allowed := 0
	for c := range codes {
		if c == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)
}

type countingResolver struct {
	labels map[string]string
	calls  int
}

func (r *countingResolver) Resolve(ctx context.Context, server string) (string, error) {
	r.calls++
	if l, ok := r.labels[server]; ok {
		return l, nil
	}
	return "", &core.Error{Kind: core.ErrEnvironmentNotFound, Message: "not found"}
}

func TestCachedResolver(t *testing.T) {
	next := &countingResolver{labels: map[string]string{"devbox": "DEV"}}
	r, err := newCachedResolver(next, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		label, err := r.Resolve(context.Background(), "devbox")
		require.NoError(t, err)
		assert.Equal(t, "DEV", label)
	}
	assert.Equal(t, 1, next.calls)

	// keys are case-insensitive
	label, err := r.Resolve(context.Background(), "DEVBOX")
	require.NoError(t, err)
	assert.Equal(t, "DEV", label)
	assert.Equal(t, 1, next.calls)

	// misses are not cached
	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), "ghost")
		assert.ErrorIs(t, err, core.ErrEnvironmentNotFound)
	}
	assert.Equal(t, 3, next.calls)
}

func TestService_InventoryClassifierWithCache(t *testing.T) {
	opener := coretest.NewOpener()
	opener.On("inv01", coretest.Rule{
		Match: "vw_InstanceOverview",
		Sets:  []core.ResultSet{coretest.Set([]string{"EnvironmentName"}, []any{"PROD"})},
	})

	s, err := NewService(newTestConfig(t, `
inventory:
  server: inv01
  database: Inventory
guard:
  cache_ttl: 1m
`), OptionSetLogger(zap.NewNop()), OptionSetOpener(opener))
	require.NoError(t, err)
	h, err := s.Handler()
	require.NoError(t, err)

	te := &testEnv{s: s, h: h, opener: opener}
	for i := 0; i < 2; i++ {
		w := te.post(routeEnvironment, map[string]string{"serverName": "prod01"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"environment":"PROD","isProduction":true}`, w.Body.String())
	}

	w := te.post(routeExecute, map[string]string{
		"serverName": "prod01",
		"query":      "SELECT 1",
		"action":     "execute",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// one inventory lookup, never a connection to the target
	assert.Equal(t, []string{"inv01"}, opener.Opened())
}

func TestService_InventoryNotConfigured(t *testing.T) {
	opener := coretest.NewOpener()
	s, err := NewService(newTestConfig(t, ""), OptionSetLogger(zap.NewNop()), OptionSetOpener(opener))
	require.NoError(t, err)
	h, err := s.Handler()
	require.NoError(t, err)

	te := &testEnv{s: s, h: h, opener: opener}
	w := te.post(routeExecute, map[string]string{
		"serverName": "devbox",
		"query":      "SELECT 1",
		"action":     "execute",
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"Inventory server is not configured"}`, w.Body.String())
	assert.Empty(t, opener.Opened())
}

func TestMetrics(t *testing.T) {
	te := newTestEnv(t, "metrics:\n  enable: true\n", map[string]string{"prod01": "PROD"})

	te.do(http.MethodGet, healthRoute, "")
	te.post(routeExecute, map[string]string{
		"serverName": "prod01",
		"query":      "SELECT 1",
		"action":     "execute",
	})

	w := te.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `sqlconsole_http_requests_total{code="200",route="/health"} 1`)
	assert.Contains(t, body, `sqlconsole_query_actions_total{action="execute",outcome="blocked"} 1`)
	assert.Contains(t, body, `sqlconsole_guard_rejections_total 1`)
}

func TestMetrics_Disabled(t *testing.T) {
	te := newTestEnv(t, "", nil)

	// falls through to the web client, which has no such file
	w := te.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	te := newTestEnv(t, `
cors_allowed_origins: ["http://localhost:3000"]
`, nil)

	req := httptest.NewRequest(http.MethodGet, healthRoute, nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	te.h.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, healthRoute, nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	te.h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestTracing_ExportsSpansToLog(t *testing.T) {
	zc, logs := observer.New(zap.DebugLevel)

	te := newTestEnv(t, "enable_tracing: true\n", map[string]string{"devbox": "DEV"},
		OptionSetLogger(zap.New(zc)))
	t.Cleanup(func() {
		te.s.closeFn(context.Background()) //nolint:errcheck
	})

	w := te.post(routeEnvironment, map[string]string{"serverName": "devbox"})
	require.Equal(t, http.StatusOK, w.Code)

	spans := logs.FilterMessage("span").All()
	require.NotEmpty(t, spans)

	var names []string
	for _, e := range spans {
		names = append(names, e.ContextMap()["span"].(string))
	}
	assert.Contains(t, names, "console.environment")
	assert.Contains(t, names, serverName)
}

func TestWriteTimeout(t *testing.T) {
	c := &Config{Console: Console{QueryTimeout: 30 * time.Second, RestoreTimeout: time.Hour}}
	assert.Equal(t, time.Hour+time.Minute, c.writeTimeout())
}

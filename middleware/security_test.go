package middleware

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() sca.Config {
	cfg := sca.DefaultConfig()
	cfg.Security.SigningKey = append([]byte(nil), testKey...)
	cfg.Security.MaxBodyBytes = 64
	cfg.RateLimit.Default = sca.RateLimitClass{MaxRequests: 3, Window: time.Minute}
	cfg.RateLimit.SensitivePayment = sca.RateLimitClass{MaxRequests: 10, Window: time.Minute}
	return cfg
}

type fixture struct {
	sec     *Security
	clock   *testClock
	metrics *sca.Metrics
	audit   *sca.ChannelSink
	calls   int
	body    string
}

func newFixture(t *testing.T, cfg sca.Config, st store.Store) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
		metrics: sca.NewMetrics(sca.MetricsConfig{Enabled: true}),
		audit:   sca.NewChannelSink(64),
	}
	if st == nil {
		st = store.NewMemory(f.clock.Now)
	}
	sec, err := NewSecurity(cfg, st,
		WithClock(f.clock.Now),
		WithMetrics(f.metrics),
		WithAuditSink(f.audit),
	)
	require.NoError(t, err)
	f.sec = sec
	return f
}

func (f *fixture) handler() http.Handler {
	return f.sec.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		b, _ := io.ReadAll(r.Body)
		f.body = string(b)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler().ServeHTTP(rr, req)
	return rr
}

func (f *fixture) signed(method, target, body string, at time.Time) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ts, sig := Sign(testKey, method, req.URL.Path, req.URL.RawQuery, []byte(body), at)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)
	return req
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body sca.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.CorrelationID)
	return body.Code
}

func TestNewSecurityValidates(t *testing.T) {
	_, err := NewSecurity(testConfig(), nil)
	require.Error(t, err)

	cfg := testConfig()
	cfg.Security.SigningKey = nil
	_, err = NewSecurity(cfg, store.NewMemory(nil))
	require.Error(t, err)
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	ok := f.do(httptest.NewRequest(http.MethodGet, "/v1/orders/1", nil))
	require.Equal(t, http.StatusOK, ok.Code)

	rejected := f.do(httptest.NewRequest(http.MethodPost, "/v1/payments/1", strings.NewReader("{}")))
	require.Equal(t, http.StatusUnauthorized, rejected.Code)

	for _, rr := range []*httptest.ResponseRecorder{ok, rejected} {
		require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
		require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
		require.NotEmpty(t, rr.Header().Get(HeaderCorrelationID))
		require.Empty(t, rr.Header().Get("Strict-Transport-Security"))
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/orders/1", nil)
	req.TLS = &tls.ConnectionState{}
	rr := f.do(req)
	require.Contains(t, rr.Header().Get("Strict-Transport-Security"), "max-age=31536000")
}

func TestCorrelationIDPropagated(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set(HeaderCorrelationID, "abc-123")
	rr := f.do(req)
	require.Equal(t, "abc-123", rr.Header().Get(HeaderCorrelationID))

	req = httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set(HeaderCorrelationID, "bad id\n")
	rr = f.do(req)
	require.NotEqual(t, "bad id\n", rr.Header().Get(HeaderCorrelationID))
	require.Len(t, rr.Header().Get(HeaderCorrelationID), 36)
}

func TestPayloadTooLarge(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	rr := f.do(httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(strings.Repeat("a", 65))))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Equal(t, "PAYLOAD_TOO_LARGE", errorCode(t, rr))

	req := httptest.NewRequest(http.MethodPost, "/v1/orders", io.NopCloser(strings.NewReader(strings.Repeat("a", 100))))
	req.ContentLength = -1
	rr = f.do(req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(strings.Repeat("a", 64))))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, strings.Repeat("a", 64), f.body)
	require.Equal(t, uint64(2), f.metrics.Value(sca.MetricRequestPayloadTooLarge))
}

func TestRateLimitWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Heuristics.Enabled = false
	f := newFixture(t, cfg, nil)

	for i := 0; i < 3; i++ {
		rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/orders/"+strconv.Itoa(i+1), nil))
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "3", rr.Header().Get("X-RateLimit-Limit"))
	}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/orders/9", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, rr))
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "60", rr.Header().Get("Retry-After"))
	require.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
	require.Equal(t, 3, f.calls)

	f.clock.Advance(time.Minute + time.Second)
	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/orders/9", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitStoreOutageFailsClosed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := newFixture(t, testConfig(), store.NewRedis(client, "sca"))
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	mr.Close()
	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, rr))
	require.NotContains(t, rr.Body.String(), "127.0.0.1")
	require.Equal(t, uint64(1), f.metrics.Value(sca.MetricRequestRejectedInternal))
}

func TestSignatureVerification(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	now := f.clock.Now()
	body := `{"amount":"600.00"}`

	rr := f.do(f.signed(http.MethodPost, "/v1/payments/authorize?b=2&a=1", body, now))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, body, f.body)

	stale := f.signed(http.MethodPost, "/v1/payments/authorize", body, now.Add(-6*time.Minute))
	rr = f.do(stale)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "SIGNATURE_INVALID", errorCode(t, rr))

	future := f.signed(http.MethodPost, "/v1/payments/authorize", body, now.Add(6*time.Minute))
	require.Equal(t, http.StatusUnauthorized, f.do(future).Code)

	tampered := f.signed(http.MethodPost, "/v1/payments/authorize", body, now)
	tampered.Body = io.NopCloser(strings.NewReader(`{"amount":"6.00"}`))
	tampered.ContentLength = int64(len(`{"amount":"6.00"}`))
	require.Equal(t, http.StatusUnauthorized, f.do(tampered).Code)

	missing := httptest.NewRequest(http.MethodPost, "/v1/payments/authorize", strings.NewReader(body))
	require.Equal(t, http.StatusUnauthorized, f.do(missing).Code)

	require.Equal(t, 1, f.calls)
	require.Equal(t, uint64(4), f.metrics.Value(sca.MetricRequestSignatureInvalid))
}

func TestSignatureQueryOrderIsCanonical(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	_, a := Sign(testKey, "GET", "/v1/sca/x", "b=2&a=1", nil, at)
	_, b := Sign(testKey, "get", "/v1/sca/x", "a=1&b=2", nil, at)
	require.Equal(t, a, b)

	_, c := Sign(testKey, "GET", "/v1/sca/y", "a=1&b=2", nil, at)
	require.NotEqual(t, a, c)
}

func TestHeuristicsSingleSignalIsFlagged(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set("User-Agent", "python-requests/2.31")
	rr := f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, uint64(1), f.metrics.Value(sca.MetricRequestSuspiciousFlagged))

	var flagged bool
	for len(f.audit.Events()) > 0 {
		ev := <-f.audit.Events()
		if ev.EventType == sca.AuditEventSuspiciousFlagged {
			flagged = true
			require.Equal(t, signalBotUserAgent, ev.Metadata["signals"])
		}
	}
	require.True(t, flagged)
}

func TestHeuristicsCompoundSignalsBlock(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/orders?q=1%27%20UNION%20SELECT%20password%20FROM%20users", nil)
	req.Header.Set("User-Agent", "curl/8.0")
	rr := f.do(req)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "SUSPICIOUS_ACTIVITY_BLOCKED", errorCode(t, rr))
	require.Equal(t, 0, f.calls)

	req = httptest.NewRequest(http.MethodGet, "/v1/orders?card_number=4111&x=%3Cscript%3E", nil)
	rr = f.do(req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHeuristicsFrequencySignal(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	cfg.Heuristics.FrequencyThreshold = 3
	f := newFixture(t, cfg, nil)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/v1/orders", nil)).Code)
	}
	require.Zero(t, f.metrics.Value(sca.MetricRequestSuspiciousFlagged))

	require.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/v1/orders", nil)).Code)
	require.Equal(t, uint64(1), f.metrics.Value(sca.MetricRequestSuspiciousFlagged))

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set("User-Agent", "Googlebot")
	require.Equal(t, http.StatusForbidden, f.do(req).Code)
}

// heuristicFailStore fails only the frequency counters.
type heuristicFailStore struct {
	store.Store
}

func (s heuristicFailStore) AtomicIncrement(ctx context.Context, key string, limit int64, window time.Duration) (store.Counter, error) {
	if strings.HasPrefix(key, "hf:") {
		return store.Counter{}, errors.New("boom")
	}
	return s.Store.AtomicIncrement(ctx, key, limit, window)
}

func TestHeuristicsFailOpen(t *testing.T) {
	f := newFixture(t, testConfig(), heuristicFailStore{Store: store.NewMemory(nil)})

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rr := f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Zero(t, f.metrics.Value(sca.MetricRequestRejectedInternal))
}

func TestForwardedForOnlyWhenTrusted(t *testing.T) {
	cfg := testConfig()
	cfg.Heuristics.Enabled = false
	f := newFixture(t, cfg, nil)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i+1))
		require.Equal(t, http.StatusOK, f.do(req).Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	require.Equal(t, http.StatusTooManyRequests, f.do(req).Code)

	cfg.Security.TrustForwardedFor = true
	f = newFixture(t, cfg, nil)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i+1)+", 10.0.0.1")
		require.Equal(t, http.StatusOK, f.do(req).Code)
	}
}

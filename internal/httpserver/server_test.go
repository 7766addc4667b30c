package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/enhanced-attribution/internal/attribution"
	"github.com/radiusdt/enhanced-attribution/internal/config"
	"github.com/radiusdt/enhanced-attribution/internal/httpserver"
	"github.com/radiusdt/enhanced-attribution/internal/metrics"
	"github.com/radiusdt/enhanced-attribution/internal/models"
	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

const apiKey = "test-key"

var testNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

type env struct {
	handler http.Handler
	rows    *storage.InMemoryEventStore
	archive *storage.InMemoryRollupStore
	metrics *metrics.Metrics
}

type failingCheck struct{}

func (failingCheck) Health(context.Context) error { return errors.New("down") }

func newEnv(t *testing.T, mutate func(*config.Config, *httpserver.Dependencies)) *env {
	t.Helper()

	rows := storage.NewInMemoryEventStore()
	rows.AddGoal(models.Goal{SiteID: 1, GoalID: 1, Name: "Purchase"})
	rows.AddConversions(
		conversion(1, "/a", "2025-05-15 08:00:00", models.ReferrerTypeSearchEngine, "Google", 20),
		conversion(2, "/a", "2025-05-15 09:00:00", models.ReferrerTypeDirectEntry, "", 0),
		conversion(3, "/b", "2025-05-15 10:00:00", models.ReferrerTypeWebsite, "blog.example", 5),
	)
	archive := storage.NewInMemoryRollupStore()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)

	cfg := &config.Config{
		Server:    config.ServerConfig{RequestTimeout: 5 * time.Second},
		Auth:      config.AuthConfig{Enabled: true, MasterKey: apiKey, SkipPaths: []string{"/health", "/metrics"}},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	deps := &httpserver.Dependencies{
		Service:        attribution.NewService(rows, rows, archive).WithClock(func() time.Time { return testNow }),
		Config:         cfg,
		Logger:         zap.NewNop(),
		Metrics:        m,
		MetricsHandler: metrics.HandlerFor(reg),
	}
	if mutate != nil {
		mutate(cfg, deps)
	}

	return &env{handler: httpserver.NewServer(deps), rows: rows, archive: archive, metrics: m}
}

func conversion(visit int64, url, at string, refType int, refName string, revenue float64) models.ConversionRecord {
	ts, err := time.Parse("2006-01-02 15:04:05", at)
	if err != nil {
		panic(err)
	}
	return models.ConversionRecord{ConversionEvent: models.ConversionEvent{
		SiteID:       1,
		GoalID:       1,
		VisitID:      visit,
		VisitorID:    "ab12",
		Timestamp:    ts,
		URL:          url,
		ReferrerType: refType,
		ReferrerName: refName,
		Revenue:      revenue,
	}}
}

func (e *env) build(t *testing.T, seg string) {
	t.Helper()
	w := period.MustParse(period.Day, "2025-05-15", testNow)
	_, err := attribution.NewBuilder(e.rows, e.archive).Build(context.Background(), 1, w, segment.MustParse(seg))
	require.NoError(t, err)
}

func (e *env) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Route string            `json:"route"`
	Rows  []json.RawMessage `json:"rows"`
	Value *int64            `json:"value"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestDetailedLive(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.get("/api/v1/sites/1/goal-urls/detailed?period=day&date=2025-05-15&filter_limit=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decode(t, rec)
	assert.Equal(t, "live", body.Route)
	require.Len(t, body.Rows, 2)

	var first models.DetailedConversionRow
	require.NoError(t, json.Unmarshal(body.Rows[0], &first))
	assert.Equal(t, "/b", first.ConversionURL)
	assert.Equal(t, models.ChannelWebsite, first.Channel)
	assert.Equal(t, "Purchase", first.GoalName)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Requests.WithLabelValues("detailed", "live")))
}

func TestDetailedWithSegmentServesArchive(t *testing.T) {
	e := newEnv(t, nil)
	e.build(t, "referrerType==direct")

	rec := e.get("/api/v1/sites/1/goal-urls/detailed?period=day&date=2025-05-15&segment=referrerType%3D%3Ddirect")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "archived", body.Route)
	require.Len(t, body.Rows, 1)

	var row models.UrlRollupRow
	require.NoError(t, json.Unmarshal(body.Rows[0], &row))
	assert.Equal(t, "/a", row.ConversionURL)
	assert.Equal(t, int64(1), row.NbConversions)
}

func TestArchivedTables(t *testing.T) {
	e := newEnv(t, nil)
	e.build(t, "")

	for path, want := range map[string]int{
		"aggregate":  2,
		"by-channel": 3,
		"by-source":  3,
	} {
		rec := e.get("/api/v1/sites/1/goal-urls/" + path + "?period=day&date=2025-05-15")
		require.Equal(t, http.StatusOK, rec.Code, path)
		body := decode(t, rec)
		assert.Equal(t, "archived", body.Route, path)
		assert.Len(t, body.Rows, want, path)
	}

	rec := e.get("/api/v1/sites/1/goal-urls/aggregate?period=day&date=2025-05-15&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec).Rows, 1)
}

func TestArchivedScalars(t *testing.T) {
	e := newEnv(t, nil)
	e.build(t, "")

	rec := e.get("/api/v1/sites/1/goal-urls/total-conversions?period=day&date=2025-05-15")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "archived", body.Route)
	require.NotNil(t, body.Value)
	assert.Equal(t, int64(3), *body.Value)

	rec = e.get("/api/v1/sites/1/goal-urls/unique-urls?period=day&date=2025-05-15")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	require.NotNil(t, body.Value)
	assert.Equal(t, int64(2), *body.Value)
}

func TestArchivedWithoutBuildIsEmpty(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.get("/api/v1/sites/1/goal-urls/aggregate?period=month&date=2025-05-15")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"route":"archived","rows":[]}`, rec.Body.String())
}

func TestBadRequests(t *testing.T) {
	e := newEnv(t, nil)

	for _, path := range []string{
		"/api/v1/sites/abc/goal-urls/aggregate?period=day&date=2025-05-15",
		"/api/v1/sites/0/goal-urls/aggregate?period=day&date=2025-05-15",
		"/api/v1/sites/1/goal-urls/aggregate?period=fortnight&date=2025-05-15",
		"/api/v1/sites/1/goal-urls/aggregate?period=day&date=15.05.2025",
		"/api/v1/sites/1/goal-urls/by-channel?period=day&date=2025-05-15&segment=bogus",
		"/api/v1/sites/1/goal-urls/detailed?period=day&date=2025-05-15&limit=ten",
	} {
		rec := e.get(path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RequestErrors.WithLabelValues("by_channel", "invalid_request")))
}

func TestStorageUnavailable(t *testing.T) {
	e := newEnv(t, nil)
	e.rows.FailWith(errors.New("connection refused"))

	rec := e.get("/api/v1/sites/1/goal-urls/detailed?period=day&date=2025-05-15")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RequestErrors.WithLabelValues("detailed", "storage")))
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites/1/goal-urls/aggregate?period=day&date=2025-05-15", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sites/1/goal-urls/aggregate?period=day&date=2025-05-15&api_key="+apiKey, nil)
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	e.get("/api/v1/sites/1/goal-urls/detailed?period=day&date=2025-05-15")
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_report_requests_total")
}

func TestHealthDegraded(t *testing.T) {
	e := newEnv(t, func(_ *config.Config, d *httpserver.Dependencies) {
		d.Checks = map[string]httpserver.HealthChecker{"postgres": failingCheck{}}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","postgres":"down"}`, rec.Body.String())
}

func TestRateLimited(t *testing.T) {
	e := newEnv(t, func(c *config.Config, _ *httpserver.Dependencies) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	})

	first := e.get("/api/v1/sites/1/goal-urls/detailed?period=day&date=2025-05-15")
	assert.Equal(t, http.StatusOK, first.Code)

	second := e.get("/api/v1/sites/1/goal-urls/detailed?period=day&date=2025-05-15")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RateLimitHits.WithLabelValues("/api/v1/sites/1/goal-urls/detailed")))
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.get("/api/v1/sites/1/goal-urls/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// stalledRows blocks every raw query until the request context ends and
// reports it the way the SQL stores do.
type stalledRows struct {
	storage.RowStore
}

func (stalledRows) FetchConversions(ctx context.Context, _ storage.ConversionQuery) ([]models.ConversionRecord, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("fetch conversions: %w: %w", storage.ErrUnavailable, ctx.Err())
}

func TestRequestTimeout(t *testing.T) {
	e := newEnv(t, func(c *config.Config, d *httpserver.Dependencies) {
		c.Server.RequestTimeout = 20 * time.Millisecond
		goals := storage.NewInMemoryEventStore()
		d.Service = attribution.NewService(stalledRows{}, goals, storage.NewInMemoryRollupStore()).
			WithClock(func() time.Time { return testNow })
	})

	rec := e.get("/api/v1/sites/1/goal-urls/detailed?period=day&date=2025-05-15")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RequestErrors.WithLabelValues("detailed", "timeout")))
	assert.Zero(t, testutil.ToFloat64(e.metrics.RequestErrors.WithLabelValues("detailed", "storage")))
}

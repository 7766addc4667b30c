package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radiusdt/enhanced-attribution/internal/attribution"
	"github.com/radiusdt/enhanced-attribution/internal/config"
	"github.com/radiusdt/enhanced-attribution/internal/metrics"
	"github.com/radiusdt/enhanced-attribution/internal/middleware"
)

// errBadParam marks a malformed path or query parameter.
var errBadParam = errors.New("invalid parameter")

// HealthChecker is a backend that /health pings.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Service *attribution.Service
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// MetricsHandler serves the metrics path; nil uses the default registry.
	MetricsHandler http.Handler
	// RateLimiter is shared with the caller so it can clean it up.
	RateLimiter *middleware.RateLimitMiddleware
	Checks      map[string]HealthChecker
}

// Server wraps HTTP handlers around the attribution service.
type Server struct {
	service *attribution.Service
	logger  *zap.Logger
	config  *config.Config
	metrics *metrics.Metrics
	checks  map[string]HealthChecker
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		service: deps.Service,
		logger:  deps.Logger,
		config:  deps.Config,
		metrics: deps.Metrics,
		checks:  deps.Checks,
	}

	rl := deps.RateLimiter
	if rl == nil {
		rl = middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Logger)
	}
	if deps.Metrics != nil {
		rl.SetMetrics(deps.Metrics)
	}

	mux := chi.NewRouter()
	mux.Use(middleware.NewRecoveryMiddleware(deps.Logger).Handler)
	mux.Use(middleware.NewRequestIDMiddleware().Handler)
	mux.Use(middleware.NewLoggingMiddleware(deps.Logger).Handler)
	mux.Use(rl.Handler)
	mux.Use(middleware.NewAuthMiddleware(deps.Config.Auth, deps.Logger).Handler)

	mux.Get("/health", s.handleHealth)

	if deps.Config.Metrics.Enabled {
		h := deps.MetricsHandler
		if h == nil {
			h = metrics.Handler()
		}
		mux.Method(http.MethodGet, deps.Config.Metrics.Path, h)
	}

	mux.Route("/api/v1/sites/{siteID}/goal-urls", func(r chi.Router) {
		if t := deps.Config.Server.RequestTimeout; t > 0 {
			r.Use(chimw.Timeout(t))
		}
		r.Get("/detailed", s.report(attribution.OpDetailed, s.detailed))
		r.Get("/aggregate", s.report(attribution.OpAggregate, s.aggregate))
		r.Get("/by-channel", s.report(attribution.OpByChannel, s.byChannel))
		r.Get("/by-source", s.report(attribution.OpBySource, s.bySource))
		r.Get("/total-conversions", s.report(attribution.OpTotalConversions, s.totalConversions))
		r.Get("/unique-urls", s.report(attribution.OpUniqueURLs, s.uniqueURLs))
	})

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, "not found", http.StatusNotFound)
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, c := range s.checks {
		if err := c.Health(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.String("backend", name), zap.Error(err))
			status[name] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "up"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// ---- Reports ----

// tableResponse is the envelope of table reports.
type tableResponse struct {
	Route attribution.Route `json:"route"`
	Rows  any               `json:"rows"`
}

// scalarResponse is the envelope of count reports.
type scalarResponse struct {
	Route attribution.Route `json:"route"`
	Value int64             `json:"value"`
}

// result is what a report handler hands back for encoding.
type result struct {
	body  any
	route attribution.Route
	rows  int
}

type reportFunc func(ctx context.Context, req attribution.Request) (result, error)

func (s *Server) report(op attribution.Operation, run reportFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		req, err := parseRequest(r)
		if err != nil {
			s.fail(w, r, op, err)
			return
		}

		res, err := run(r.Context(), req)
		if err != nil {
			s.fail(w, r, op, err)
			return
		}

		if s.metrics != nil {
			s.metrics.RecordRequest(string(op), string(res.route), res.rows, time.Since(start))
		}
		s.jsonResponse(w, res.body)
	}
}

func (s *Server) detailed(ctx context.Context, req attribution.Request) (result, error) {
	res, err := s.service.GoalUrlsDetailed(ctx, req)
	if err != nil {
		return result{}, err
	}
	var rows any = res.Rows
	if res.Route == attribution.RouteArchived {
		rows = res.URLs
	}
	return result{body: tableResponse{Route: res.Route, Rows: rows}, route: res.Route, rows: res.Len()}, nil
}

func (s *Server) aggregate(ctx context.Context, req attribution.Request) (result, error) {
	rows, err := s.service.GoalUrlsAggregate(ctx, req)
	return table(req, attribution.OpAggregate, rows, err)
}

func (s *Server) byChannel(ctx context.Context, req attribution.Request) (result, error) {
	rows, err := s.service.GoalUrlsByChannel(ctx, req)
	return table(req, attribution.OpByChannel, rows, err)
}

func (s *Server) bySource(ctx context.Context, req attribution.Request) (result, error) {
	rows, err := s.service.GoalUrlsBySource(ctx, req)
	return table(req, attribution.OpBySource, rows, err)
}

func (s *Server) totalConversions(ctx context.Context, req attribution.Request) (result, error) {
	n, err := s.service.TotalGoalConversions(ctx, req)
	return scalar(req, attribution.OpTotalConversions, n, err)
}

func (s *Server) uniqueURLs(ctx context.Context, req attribution.Request) (result, error) {
	n, err := s.service.UniqueGoalUrls(ctx, req)
	return scalar(req, attribution.OpUniqueURLs, n, err)
}

func table[T any](req attribution.Request, op attribution.Operation, rows []T, err error) (result, error) {
	if err != nil {
		return result{}, err
	}
	route := attribution.RouteFor(req, op)
	return result{body: tableResponse{Route: route, Rows: rows}, route: route, rows: len(rows)}, nil
}

func scalar(req attribution.Request, op attribution.Operation, n int64, err error) (result, error) {
	if err != nil {
		return result{}, err
	}
	route := attribution.RouteFor(req, op)
	return result{body: scalarResponse{Route: route, Value: n}, route: route, rows: 1}, nil
}

// parseRequest reads the site from the path and the report selection from
// the query string. A positive filter_limit overrides limit.
func parseRequest(r *http.Request) (attribution.Request, error) {
	q := r.URL.Query()

	siteID, err := strconv.ParseInt(chi.URLParam(r, "siteID"), 10, 64)
	if err != nil {
		return attribution.Request{}, fmt.Errorf("%w: siteID %q", errBadParam, chi.URLParam(r, "siteID"))
	}

	req := attribution.Request{
		SiteID:  siteID,
		Period:  q.Get("period"),
		Date:    q.Get("date"),
		Segment: q.Get("segment"),
	}
	if req.Period == "" {
		req.Period = "day"
	}
	if req.Date == "" {
		req.Date = "today"
	}

	for _, name := range []string{"limit", "filter_limit"} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return attribution.Request{}, fmt.Errorf("%w: %s %q", errBadParam, name, v)
		}
		if name == "limit" || n > 0 {
			req.Limit = n
		}
	}
	return req, nil
}

// fail maps err to a status code and records it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op attribution.Operation, err error) {
	code, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, errBadParam) || attribution.IsRequestError(err):
		code, kind = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, context.DeadlineExceeded):
		// stores wrap the deadline in ErrStorageUnavailable
		code, kind = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, attribution.ErrStorageUnavailable):
		code, kind = http.StatusServiceUnavailable, "storage"
	}

	if s.metrics != nil {
		s.metrics.RecordRequestError(string(op), kind)
	}

	if code == http.StatusBadRequest {
		s.errorResponse(w, err.Error(), code)
		return
	}
	s.logger.Error("report failed",
		zap.String("operation", string(op)),
		zap.String("request_id", middleware.RequestID(r.Context())),
		zap.Error(err),
	)
	s.errorResponse(w, http.StatusText(code), code)
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

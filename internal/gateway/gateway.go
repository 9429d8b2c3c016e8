// Package gateway serves the Wolfpack JSON REST API consumed by the
// storefront SPA.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/wolfpack/internal/audit"
	"github.com/basket/wolfpack/internal/bus"
	"github.com/basket/wolfpack/internal/config"
	"github.com/basket/wolfpack/internal/engine"
	otelPkg "github.com/basket/wolfpack/internal/otel"
	"github.com/basket/wolfpack/internal/persistence"
	"github.com/basket/wolfpack/internal/shared"
	"github.com/basket/wolfpack/internal/telemetry"
)

type Config struct {
	Engine  *engine.Service
	Bus     *bus.Bus // nil disables /api/events/stream
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otelPkg.Metrics

	CORS         config.CORSConfig
	RateLimit    config.RateLimitConfig
	MaxBodyBytes int64

	// ConfigFingerprint is the hash of the active config exposed in /healthz.
	ConfigFingerprint string

	// Heartbeat is the SSE keep-alive interval. Zero means 25s.
	Heartbeat time.Duration
}

type Server struct {
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	validator *validator
	limiter   *RateLimiter
	heartbeat time.Duration
	startedAt time.Time
}

func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("gateway: engine is required")
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otelPkg.Noop().Tracer
	}
	return &Server{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "gateway"),
		tracer:    cfg.Tracer,
		validator: v,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.Metrics),
		heartbeat: cfg.Heartbeat,
		startedAt: time.Now(),
	}, nil
}

// RateLimiter exposes the limiter so the caller can start bucket eviction.
func (s *Server) RateLimiter() *RateLimiter {
	return s.limiter
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)

	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/cards", s.handleCards)
	mux.HandleFunc("/api/products", s.handleProducts)

	mux.HandleFunc("/api/me", s.requireUser(false, s.handleMe))
	mux.HandleFunc("/api/cards/select", s.requireUser(false, s.handleSelectCard))
	mux.HandleFunc("/api/products/select", s.requireUser(false, s.handleSelectProduct))
	mux.HandleFunc("/api/me/onboarding", s.requireUser(false, s.handleOnboarding))
	mux.HandleFunc("/api/me/self-stats", s.requireUser(false, s.handleSelfStats))
	mux.HandleFunc("/api/tasks", s.requireUser(false, s.handleTasks))
	mux.HandleFunc("/api/tasks/grind", s.requireUser(false, s.handleGrind))
	mux.HandleFunc("/api/tasks/update", s.requireUser(false, s.handleTaskUpdate))
	mux.HandleFunc("/api/matches", s.requireUser(false, s.handleMatches))
	mux.HandleFunc("/api/wolfpack", s.requireUser(false, s.handleWolfpack))
	mux.HandleFunc("/api/wolfpack/", s.requireUser(false, s.handleWolfpackByID))
	mux.HandleFunc("/api/wolves/", s.requireUser(false, s.handleRateWolf))
	mux.HandleFunc("/api/events", s.requireUser(false, s.handleEvents))
	mux.HandleFunc("/api/events/stream", s.requireUser(true, s.handleEventStream))
	mux.HandleFunc("/api/leaderboard", s.requireUser(false, s.handleLeaderboard))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no route for " + r.URL.Path})
	})

	var h http.Handler = mux
	h = s.limiter.Wrap(h)
	h = RequestSizeLimitMiddleware(s.cfg.MaxBodyBytes)(h)
	h = NewCORSMiddleware(s.cfg.CORS)(h)
	return s.observe(h)
}

// --- observability ---

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// observe assigns the trace ID, opens the server span and records the
// request duration for every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if traceID == "" || len(traceID) > 64 {
			traceID = shared.NewTraceID()
		}
		route := routeOf(r.URL.Path)
		ctx := shared.WithTraceID(r.Context(), traceID)
		ctx, span := otelPkg.StartServerSpan(ctx, s.tracer, r.Method+" "+route,
			otelPkg.AttrRoute.String(route))
		w.Header().Set("X-Request-ID", traceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(otelPkg.AttrStatus.Int(rec.status))
		var spanErr error
		if rec.status >= http.StatusInternalServerError {
			spanErr = fmt.Errorf("http status %d", rec.status)
		}
		otelPkg.EndSpan(span, spanErr)
		elapsed := time.Since(start)
		s.cfg.Metrics.RecordRequest(ctx, route, rec.status, elapsed.Seconds())
		telemetry.FromContext(ctx, s.logger).Debug("request",
			"method", r.Method, "route", route, "status", rec.status, "duration_ms", elapsed.Milliseconds())
	})
}

// routeOf maps a path to its route template so IDs never become span
// names or metric labels.
func routeOf(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/wolfpack/"):
		return "/api/wolfpack/{id}"
	case strings.HasPrefix(path, "/api/wolves/"):
		return "/api/wolves/{id}/rate"
	}
	switch path {
	case "/healthz", "/metrics", "/api/auth/register", "/api/auth/login",
		"/api/cards", "/api/products", "/api/me", "/api/cards/select",
		"/api/products/select", "/api/me/onboarding", "/api/me/self-stats",
		"/api/tasks", "/api/tasks/grind", "/api/tasks/update", "/api/matches",
		"/api/wolfpack", "/api/events", "/api/events/stream", "/api/leaderboard":
		return path
	}
	return "other"
}

// --- responses ---

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine, store and decoding errors to HTTP statuses.
// Internal errors are logged with the trace ID and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
			Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		})
		return
	case errors.Is(err, errBadBody), errors.Is(err, engine.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrConflict), errors.Is(err, persistence.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		telemetry.FromContext(r.Context(), slog.Default()).Error("request failed",
			"path", r.URL.Path, "error", err)
		writeJSON(w, status, errorBody{Error: "internal error (trace " + shared.TraceID(r.Context()) + ")"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method " + r.Method + " not allowed"})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeMethodNotAllowed(w, r, method)
		return false
	}
	return true
}

// --- health and metrics ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	storeOK := true
	storeErr := ""
	if err := s.cfg.Engine.Ping(ctx); err != nil {
		storeOK = false
		storeErr = err.Error()
	}
	payload := map[string]any{
		"healthy":         storeOK,
		"store_ok":        storeOK,
		"catalog_version": s.cfg.Engine.Catalog().Version,
		"config_hash":     s.cfg.ConfigFingerprint,
		"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
	}
	status := http.StatusOK
	if !storeOK {
		payload["store_error"] = storeErr
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	st, err := s.cfg.Engine.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)
	subscribers := 0
	if s.cfg.Bus != nil {
		subscribers = s.cfg.Bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"members":            st.Members,
		"candidates":         st.Candidates,
		"tasks_by_status":    st.TasksByStatus,
		"members_by_role":    st.MembersByRole,
		"total_ivp":          st.TotalIVP,
		"catalog_version":    st.CatalogVersion,
		"auth_denies":        audit.DenyCount(),
		"stream_subscribers": subscribers,
		"rate_limit_buckets": s.limiter.BucketCount(),
		"alloc_bytes":        mem.Alloc,
	})
}

// --- auth and catalog ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var in engine.RegisterInput
	if err := s.validator.decode(r, schemaRegister, &in); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.cfg.Engine.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var in engine.LoginInput
	if err := s.validator.decode(r, schemaLogin, &in); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.cfg.Engine.Login(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": s.cfg.Engine.Cards()})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": s.cfg.Engine.Products()})
}

// --- the caller's document ---

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	u, err := s.cfg.Engine.Me(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleSelectCard(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		CardID string `json:"cardId"`
	}
	if err := s.validator.decode(r, schemaSelectCard, &body); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.cfg.Engine.SelectCard(r.Context(), userID, body.CardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleSelectProduct(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		ProductID string `json:"productId"`
	}
	if err := s.validator.decode(r, schemaSelectProduct, &body); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.cfg.Engine.SelectProduct(r.Context(), userID, body.ProductID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}
	var body struct {
		Step int `json:"step"`
	}
	if err := s.validator.decode(r, schemaOnboarding, &body); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.cfg.Engine.SetOnboardingStep(r.Context(), userID, body.Step)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleSelfStats(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}
	var stats persistence.Stats
	if err := s.validator.decode(r, schemaSelfStats, &stats); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.cfg.Engine.SetSelfStats(r.Context(), userID, stats)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- tasks ---

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	tasks, err := s.cfg.Engine.Tasks(r.Context(), userID, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGrind(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		TaskID string `json:"taskId"`
	}
	if err := s.validator.decode(r, schemaGrind, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.cfg.Engine.Grind(r.Context(), userID, body.TaskID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var upd engine.TaskUpdate
	if err := s.validator.decode(r, schemaTaskUpdate, &upd); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.cfg.Engine.UpdateTask(r.Context(), userID, upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- social ---

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	matches, err := s.cfg.Engine.Matches(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleWolfpack(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		pack, err := s.cfg.Engine.Pack(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"wolfpack": pack})
	case http.MethodPost:
		var body struct {
			WolfID string `json:"wolfId"`
		}
		if err := s.validator.decode(r, schemaConnect, &body); err != nil {
			writeError(w, r, err)
			return
		}
		pack, err := s.cfg.Engine.Connect(r.Context(), userID, body.WolfID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"wolfpack": pack})
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleWolfpackByID(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}
	wolfID := strings.TrimPrefix(r.URL.Path, "/api/wolfpack/")
	if wolfID == "" || strings.Contains(wolfID, "/") {
		writeError(w, r, fmt.Errorf("%w: expected /api/wolfpack/{id}", engine.ErrInvalid))
		return
	}
	pack, err := s.cfg.Engine.Disconnect(r.Context(), userID, wolfID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wolfpack": pack})
}

func (s *Server) handleRateWolf(w http.ResponseWriter, r *http.Request, userID string) {
	// Path: /api/wolves/{id}/rate
	path := strings.TrimPrefix(r.URL.Path, "/api/wolves/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[1] != "rate" || parts[0] == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "expected /api/wolves/{id}/rate"})
		return
	}
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Score int `json:"score"`
	}
	if err := s.validator.decode(r, schemaRate, &body); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.cfg.Engine.Rate(r.Context(), userID, parts[0], body.Score)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, userID string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	events, err := s.cfg.Engine.Events(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request, _ string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", engine.ErrInvalid))
			return
		}
		limit = n
	}
	board, err := s.cfg.Engine.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": board})
}

package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"fleet-fuel-review/internal/metrics"
	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/parser"
	"fleet-fuel-review/internal/review"
	"fleet-fuel-review/internal/temporal"
)

// TelemetrySource is the read/write surface the API needs over stored
// telemetry. *db.Database satisfies it.
type TelemetrySource interface {
	Ping(ctx context.Context) error
	InsertTelemetryBatch(ctx context.Context, records []models.TelemetrySample) (int64, error)
	QueryTelemetry(ctx context.Context, q models.TelemetryQuery) ([]models.TelemetrySample, error)
	ListPlates(ctx context.Context) ([]string, error)
	GetVehicleSummary(ctx context.Context, plate string) (*models.VehicleSummary, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// Server represents the API server
type Server struct {
	telemetry   TelemetrySource
	reviews     *review.Store
	metrics     *metrics.Metrics
	router      *mux.Router
	corsOrigins []string
}

// Option configures a Server
type Option func(*Server)

// WithMetrics records request metrics and exposes them on /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCORSOrigins sets the allowed CORS origins
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer creates a new API server
func NewServer(telemetry TelemetrySource, reviews *review.Store, opts ...Option) *Server {
	s := &Server{
		telemetry:   telemetry,
		reviews:     reviews,
		router:      mux.NewRouter(),
		corsOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// Vehicle endpoints
	s.router.HandleFunc("/api/v1/vehicles", s.handleListVehicles).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles/{plate}", s.handleVehicleSummary).Methods("GET")

	// Telemetry endpoints
	s.router.HandleFunc("/api/v1/telemetry", s.handleQueryTelemetry).Methods("GET")
	s.router.HandleFunc("/api/v1/telemetry/batch", s.handleBatchTelemetry).Methods("POST")
	s.router.HandleFunc("/api/v1/timeline", s.handleTimeline).Methods("GET")

	// Review endpoints
	s.router.HandleFunc("/api/v1/reviews", s.handleQueryReviews).Methods("GET")
	s.router.HandleFunc("/api/v1/reviews", s.handleCreateReview).Methods("POST")
	s.router.HandleFunc("/api/v1/reviews/{id}", s.handleGetReview).Methods("GET")
	s.router.HandleFunc("/api/v1/reviews/{id}/chain", s.handleReviewChain).Methods("GET")

	// Stats endpoint
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	// Add middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

// Middleware
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RecordRequest(route, rec.status)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total    int      `json:"total,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	QueryMs  int64    `json:"query_ms,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

// respondStoreError maps review store errors onto HTTP statuses
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case review.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case review.IsTransient(err):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.telemetry.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	plates, err := s.telemetry.ListPlates(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, plates)
}

func (s *Server) handleVehicleSummary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	plate := mux.Vars(r)["plate"]

	summary, err := s.telemetry.GetVehicleSummary(r.Context(), plate)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "no telemetry found for vehicle")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithMeta(w, summary, &meta{QueryMs: time.Since(start).Milliseconds()})
}

// telemetryQuery reads plate/from/to and rejects dates the store cannot key
func telemetryQuery(r *http.Request) (models.TelemetryQuery, string) {
	q := models.TelemetryQuery{
		Plate:    r.URL.Query().Get("plate"),
		FromDate: r.URL.Query().Get("from"),
		ToDate:   r.URL.Query().Get("to"),
	}
	if q.FromDate != "" {
		if _, ok := temporal.DayKey(q.FromDate); !ok {
			return q, "from must be a DD/MM/YYYY date"
		}
	}
	if q.ToDate != "" {
		if _, ok := temporal.DayKey(q.ToDate); !ok {
			return q, "to must be a DD/MM/YYYY date"
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, "limit must be a non-negative integer"
		}
		q.Limit = n
	}
	return q, ""
}

func (s *Server) handleQueryTelemetry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q, msg := telemetryQuery(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	results, err := s.telemetry.QueryTelemetry(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if skip, _ := strconv.ParseBool(r.URL.Query().Get("skip_reviewed")); skip {
		if q.Plate == "" {
			respondError(w, http.StatusBadRequest, "skip_reviewed requires plate")
			return
		}
		results, err = s.reviews.Unreviewed(r.Context(), q.Plate, results)
		if err != nil {
			respondStoreError(w, err)
			return
		}
	}

	respondWithMeta(w, results, &meta{
		Total:   len(results),
		Limit:   q.Limit,
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleBatchTelemetry(w http.ResponseWriter, r *http.Request) {
	var records []models.TelemetrySample
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON array")
		return
	}

	if len(records) == 0 {
		respondError(w, http.StatusBadRequest, "empty array")
		return
	}

	for i := range records {
		if errs := parser.ValidateSample(&records[i]); len(errs) > 0 {
			respondError(w, http.StatusBadRequest, "record "+strconv.Itoa(i)+": "+errs[0])
			return
		}
	}

	count, err := s.telemetry.InsertTelemetryBatch(r.Context(), records)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]int64{"inserted": count})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.telemetry.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rs, err := s.reviews.Stats(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	stats["total_reviews"] = rs.Total
	stats["suspicious_reviews"] = rs.Suspicious
	stats["revisions"] = rs.Revisions

	respondJSON(w, http.StatusOK, stats)
}

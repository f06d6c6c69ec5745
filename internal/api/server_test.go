package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-fuel-review/internal/db"
	"fleet-fuel-review/internal/metrics"
	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/review"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Meta    *meta           `json:"meta"`
}

func setupServer(t *testing.T) (*Server, *db.Database, *metrics.Metrics) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	m, err := metrics.New()
	require.NoError(t, err)

	store := review.NewStore(database, review.WithMetrics(m))
	return NewServer(database, store, WithMetrics(m)), database, m
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

var samples = []models.TelemetrySample{
	{Plate: "71-8623", Date: "14/12/2025", Time: "08:00:00", FuelLevel: 60},
	{Plate: "71-8623", Date: "14/12/2025", Time: "08:03:00", FuelLevel: 59},
	{Plate: "71-8623", Date: "14/12/2025", Time: "08:05:00", FuelLevel: 58},
	{Plate: "71-8623", Date: "14/12/2025", Time: "08:10:00", FuelLevel: 45},
	{Plate: "71-8623", Date: "14/12/2025", Time: "08:15:00", FuelLevel: 44},
}

func TestHealthAndMetrics(t *testing.T) {
	s, _, _ := setupServer(t)

	rr, env := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, env.Success)

	rr, _ = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestTelemetryBatchAndQuery(t *testing.T) {
	s, _, _ := setupServer(t)

	rr, env := do(t, s, http.MethodPost, "/api/v1/telemetry/batch", samples)
	require.Equal(t, http.StatusCreated, rr.Code, env.Error)

	rr, env = do(t, s, http.MethodPost, "/api/v1/telemetry/batch", []models.TelemetrySample{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env = do(t, s, http.MethodPost, "/api/v1/telemetry/batch",
		[]models.TelemetrySample{{Plate: "", Date: "14/12/2025", Time: "08:00:00"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, env.Error, "plate is required")

	rr, env = do(t, s, http.MethodGet, "/api/v1/telemetry?plate=71-8623&from=14/12/2025&to=14/12/2025", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got []models.TelemetrySample
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got, 5)
	assert.Equal(t, 5, env.Meta.Total)

	rr, env = do(t, s, http.MethodGet, "/api/v1/telemetry?from=31/02/2025", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env = do(t, s, http.MethodGet, "/api/v1/vehicles", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["71-8623"]`, string(env.Data))

	rr, _ = do(t, s, http.MethodGet, "/api/v1/vehicles/71-8623", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = do(t, s, http.MethodGet, "/api/v1/vehicles/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestReviewLifecycle(t *testing.T) {
	s, _, m := setupServer(t)
	do(t, s, http.MethodPost, "/api/v1/telemetry/batch", samples)

	draft := models.ReviewDraft{
		Plate:     "71-8623",
		StartDate: "14/12/2025",
		StartTime: "08:10:00",
		EndDate:   "14/12/2025",
		EndTime:   "08:05:00",
		FuelStart: 58,
		FuelEnd:   45,
		Decision:  models.DecisionSuspicious,
		Note:      "drop while parked",
	}
	rr, env := do(t, s, http.MethodPost, "/api/v1/reviews", draft)
	require.Equal(t, http.StatusCreated, rr.Code, env.Error)
	var created models.ReviewRecord
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "08:05:00", created.StartTime, "reversed endpoints are normalized")
	assert.Equal(t, 13.0, created.FuelDiff)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "review_creates_total"))

	rr, _ = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Contains(t, rr.Body.String(), `review_creates_total{decision="reviewed_suspicious",status="success"} 1`)

	rr, env = do(t, s, http.MethodGet, "/api/v1/reviews/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env = do(t, s, http.MethodGet, "/api/v1/reviews/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	revision := draft
	revision.Decision = models.DecisionFalsePositive
	revision.Note = ""
	revision.RevisionOf = &created.ID
	rr, env = do(t, s, http.MethodPost, "/api/v1/reviews", revision)
	require.Equal(t, http.StatusCreated, rr.Code, env.Error)
	var revised models.ReviewRecord
	require.NoError(t, json.Unmarshal(env.Data, &revised))

	rr, env = do(t, s, http.MethodGet, "/api/v1/reviews/"+revised.ID+"/chain", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var chain []models.ReviewRecord
	require.NoError(t, json.Unmarshal(env.Data, &chain))
	require.Len(t, chain, 2)
	assert.Equal(t, created.ID, chain[1].ID)

	path := "/api/v1/reviews?plate=71-8623&start_ts=" + strconv.FormatInt(created.EndTS, 10) + "&end_ts=" + strconv.FormatInt(created.EndTS+60000, 10)
	rr, env = do(t, s, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var hits []models.ReviewRecord
	require.NoError(t, json.Unmarshal(env.Data, &hits))
	assert.Len(t, hits, 2, "boundary touch overlaps")
	assert.Equal(t, revised.ID, hits[0].ID, "newest first")

	rr, env = do(t, s, http.MethodGet, "/api/v1/telemetry?plate=71-8623&skip_reviewed=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var remaining []models.TelemetrySample
	require.NoError(t, json.Unmarshal(env.Data, &remaining))
	require.Len(t, remaining, 3)
	assert.Equal(t, "08:15:00", remaining[2].Time)
}

func TestCreateReviewValidation(t *testing.T) {
	s, _, _ := setupServer(t)

	tests := []struct {
		name    string
		draft   models.ReviewDraft
		wantMsg string
	}{
		{
			name:    "suspicious without note",
			draft:   models.ReviewDraft{Plate: "A", StartDate: "14/12/2025", StartTime: "08:00", EndDate: "14/12/2025", EndTime: "08:10", Decision: models.DecisionSuspicious},
			wantMsg: "note",
		},
		{
			name:    "missing plate",
			draft:   models.ReviewDraft{StartDate: "14/12/2025", StartTime: "08:00", EndDate: "14/12/2025", EndTime: "08:10", Decision: models.DecisionOK},
			wantMsg: "plate",
		},
		{
			name:    "unknown decision",
			draft:   models.ReviewDraft{Plate: "A", StartDate: "14/12/2025", StartTime: "08:00", EndDate: "14/12/2025", EndTime: "08:10", Decision: "maybe"},
			wantMsg: "decision",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, env := do(t, s, http.MethodPost, "/api/v1/reviews", tt.draft)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.False(t, env.Success)
			assert.Contains(t, env.Error, tt.wantMsg)
		})
	}

	rr, _ := do(t, s, http.MethodGet, "/api/v1/reviews?start_ts=1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

type failingRepo struct{}

func (failingRepo) InsertReview(ctx context.Context, rec *models.ReviewRecord) error {
	return errors.New("database is locked")
}

func (failingRepo) QueryReviews(ctx context.Context, q models.ReviewQuery) ([]models.ReviewRecord, error) {
	return nil, errors.New("database is locked")
}

func (failingRepo) GetReview(ctx context.Context, id string) (*models.ReviewRecord, error) {
	return nil, errors.New("database is locked")
}

func TestTransientErrorsReturn503(t *testing.T) {
	_, database, _ := setupServer(t)
	s := NewServer(database, review.NewStore(failingRepo{}))

	rr, env := do(t, s, http.MethodPost, "/api/v1/reviews", models.ReviewDraft{
		Plate: "A", StartDate: "14/12/2025", StartTime: "08:00", EndDate: "14/12/2025", EndTime: "08:10",
		Decision: models.DecisionOK,
	})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.False(t, env.Success)
}

func TestStatsWithMemoryReviews(t *testing.T) {
	_, database, _ := setupServer(t)
	s := NewServer(database, review.NewStore(review.NewMemoryRepository()))
	do(t, s, http.MethodPost, "/api/v1/telemetry/batch", samples)

	for _, d := range []models.ReviewDraft{
		{Plate: "71-8623", StartDate: "14/12/2025", StartTime: "08:00", EndDate: "14/12/2025", EndTime: "08:05",
			Decision: models.DecisionOK},
		{Plate: "71-8623", StartDate: "14/12/2025", StartTime: "08:05", EndDate: "14/12/2025", EndTime: "08:10",
			Decision: models.DecisionSuspicious, Note: "drop while parked"},
	} {
		rr, env := do(t, s, http.MethodPost, "/api/v1/reviews", d)
		require.Equal(t, http.StatusCreated, rr.Code, env.Error)
	}

	rr, env := do(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats map[string]float64
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 5.0, stats["total_telemetry_records"])
	assert.Equal(t, 1.0, stats["total_vehicles"])
	assert.Equal(t, 2.0, stats["total_reviews"])
	assert.Equal(t, 1.0, stats["suspicious_reviews"])
	assert.Equal(t, 0.0, stats["revisions"])

	broken := NewServer(database, review.NewStore(failingRepo{}))
	rr, _ = do(t, broken, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestTimeline(t *testing.T) {
	s, _, _ := setupServer(t)
	do(t, s, http.MethodPost, "/api/v1/telemetry/batch", samples)
	do(t, s, http.MethodPost, "/api/v1/reviews", models.ReviewDraft{
		Plate: "71-8623", StartDate: "14/12/2025", StartTime: "08:05:00", EndDate: "14/12/2025", EndTime: "08:10:00",
		Decision: models.DecisionSuspicious, Note: "drop",
	})

	rr, env := do(t, s, http.MethodGet, "/api/v1/timeline?plate=71-8623&from=14/12/2025&to=14/12/2025", nil)
	require.Equal(t, http.StatusOK, rr.Code, env.Error)
	assert.Empty(t, env.Meta.Warnings)

	var tl timelineResponse
	require.NoError(t, json.Unmarshal(env.Data, &tl))
	require.Len(t, tl.Samples, 4, "08:03 shares the 08:00 bucket")
	assert.Equal(t, "08:00:00", tl.Samples[0].Time)
	require.Len(t, tl.Layers, 3)
	assert.Equal(t, "suspicious", string(tl.Layers[2].Kind))
	require.Len(t, tl.Layers[2].Windows, 1)
	assert.Equal(t, 1, tl.Layers[2].Windows[0].From)
	assert.Equal(t, 2, tl.Layers[2].Windows[0].To)
	assert.Len(t, tl.Reviews, 1)

	rr, _ = do(t, s, http.MethodGet, "/api/v1/timeline", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

type brokenTelemetry struct {
	*db.Database
}

func (brokenTelemetry) QueryTelemetry(ctx context.Context, q models.TelemetryQuery) ([]models.TelemetrySample, error) {
	return nil, errors.New("disk I/O error")
}

func TestTimelineDegrades(t *testing.T) {
	_, database, _ := setupServer(t)
	s := NewServer(brokenTelemetry{database}, review.NewStore(failingRepo{}))

	rr, env := do(t, s, http.MethodGet, "/api/v1/timeline?plate=71-8623", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, env.Meta)
	assert.Len(t, env.Meta.Warnings, 2)

	var tl timelineResponse
	require.NoError(t, json.Unmarshal(env.Data, &tl))
	assert.Empty(t, tl.Samples)
	assert.Empty(t, tl.Reviews)
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/reviews", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

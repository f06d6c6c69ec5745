package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"fleet-fuel-review/internal/downsample"
	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/windows"
)

// timelineResponse is the downsampled timeline with its band layers
type timelineResponse struct {
	Plate   string                  `json:"plate"`
	Samples []models.TimelineSample `json:"samples"`
	Layers  []windows.Layer         `json:"layers"`
	Reviews []models.ReviewRecord   `json:"reviews"`
}

// reviewQuery reads plate, start_ts, end_ts and limit
func reviewQuery(r *http.Request) (models.ReviewQuery, string) {
	v := r.URL.Query()
	q := models.ReviewQuery{Plate: v.Get("plate")}

	startRaw, endRaw := v.Get("start_ts"), v.Get("end_ts")
	if (startRaw == "") != (endRaw == "") {
		return q, "start_ts and end_ts must be given together"
	}
	if startRaw != "" {
		start, err := strconv.ParseInt(startRaw, 10, 64)
		if err != nil {
			return q, "start_ts must be epoch milliseconds"
		}
		end, err := strconv.ParseInt(endRaw, 10, 64)
		if err != nil {
			return q, "end_ts must be epoch milliseconds"
		}
		q.Interval = &models.Interval{Start: start, End: end}
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, "limit must be a non-negative integer"
		}
		q.Limit = n
	}
	return q, ""
}

func (s *Server) handleQueryReviews(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q, msg := reviewQuery(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	records, err := s.reviews.Query(r.Context(), q)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondWithMeta(w, records, &meta{
		Total:   len(records),
		Limit:   q.Limit,
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var draft models.ReviewDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rec, err := s.reviews.Create(r.Context(), draft)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reviews.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReviewChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.reviews.Chain(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondWithMeta(w, chain, &meta{Total: len(chain)})
}

// handleTimeline fetches telemetry and reviews concurrently. A failed fetch
// degrades that half to empty and is reported in meta.warnings.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	tq, msg := telemetryQuery(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	if tq.Plate == "" {
		respondError(w, http.StatusBadRequest, "plate is required")
		return
	}

	rq := models.ReviewQuery{Plate: tq.Plate}
	parser := s.reviews.Parser()
	if tq.FromDate != "" && tq.ToDate != "" {
		from, okFrom := parser.Parse(tq.FromDate, "00:00:00")
		to, okTo := parser.Parse(tq.ToDate, "23:59:59")
		if okFrom && okTo {
			rq.Interval = &models.Interval{Start: from, End: to + 999}
		}
	}

	var (
		raw      []models.TelemetrySample
		reviews  []models.ReviewRecord
		warnings []string
		rawErr   error
		revErr   error
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		raw, rawErr = s.telemetry.QueryTelemetry(ctx, tq)
		return nil
	})
	g.Go(func() error {
		reviews, revErr = s.reviews.Query(ctx, rq)
		return nil
	})
	_ = g.Wait()

	if rawErr != nil {
		log.Warn().Err(rawErr).Str("plate", tq.Plate).Msg("timeline telemetry fetch failed")
		warnings = append(warnings, "telemetry unavailable: "+rawErr.Error())
		raw = nil
	}
	if revErr != nil {
		log.Warn().Err(revErr).Str("plate", tq.Plate).Msg("timeline review fetch failed")
		warnings = append(warnings, "reviews unavailable: "+revErr.Error())
	}
	if reviews == nil || revErr != nil {
		reviews = []models.ReviewRecord{}
	}

	samples := downsample.New(parser).Downsample(raw)
	s.metrics.RecordTimeline(len(raw), len(samples))

	respondWithMeta(w, timelineResponse{
		Plate:   tq.Plate,
		Samples: samples,
		Layers:  windows.Compose(samples, reviews).Layers(),
		Reviews: reviews,
	}, &meta{
		Total:    len(samples),
		QueryMs:  time.Since(start).Milliseconds(),
		Warnings: warnings,
	})
}

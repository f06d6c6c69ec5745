// Package review persists operator judgments about time intervals of a
// vehicle's telemetry and answers overlap queries against them.
package review

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fleet-fuel-review/internal/metrics"
	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/temporal"
)

// DefaultPageSize caps queries that carry no filter
const DefaultPageSize = 200

// Repository is the durable persistence behind a Store. Implementations must
// make InsertReview atomic and must not block QueryReviews on writers.
// GetReview returns (nil, nil) when the id is unknown.
type Repository interface {
	InsertReview(ctx context.Context, r *models.ReviewRecord) error
	QueryReviews(ctx context.Context, q models.ReviewQuery) ([]models.ReviewRecord, error)
	GetReview(ctx context.Context, id string) (*models.ReviewRecord, error)
}

// Store validates, normalizes and records ReviewRecords. Records are never
// updated or deleted; a correction is a new record with RevisionOf set.
type Store struct {
	repo     Repository
	parser   *temporal.Parser
	metrics  *metrics.Metrics
	pageSize int
	now      func() time.Time
	newID    func() string
}

// Option configures a Store
type Option func(*Store)

// WithParser sets the parser used to resolve draft endpoints
func WithParser(p *temporal.Parser) Option {
	return func(s *Store) { s.parser = p }
}

// WithMetrics records store operations on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithPageSize sets the cap for unfiltered queries
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock overrides the created_at source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides record id assignment
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// NewStore creates a store over repo
func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		parser:   temporal.NewParser(nil),
		pageSize: DefaultPageSize,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Parser returns the parser the store resolves endpoints with
func (s *Store) Parser() *temporal.Parser {
	return s.parser
}

// CheckNote enforces that a suspicious decision carries a non-blank note
func CheckNote(decision models.Decision, note string) error {
	if decision == models.DecisionSuspicious && strings.TrimSpace(note) == "" {
		return invalid("note", "a note is required when the decision is %s", models.DecisionSuspicious)
	}
	return nil
}

// Create validates the draft and persists it as a new immutable record
func (s *Store) Create(ctx context.Context, d models.ReviewDraft) (*models.ReviewRecord, error) {
	rec, err := s.build(d)
	if err != nil {
		s.metrics.RecordCreate(decisionLabel(d.Decision), "invalid")
		return nil, err
	}

	if rec.RevisionOf != nil {
		prior, err := s.repo.GetReview(ctx, *rec.RevisionOf)
		if err != nil {
			s.metrics.RecordCreate(string(rec.Decision), "transient")
			return nil, Transient("create", err)
		}
		if prior == nil {
			s.metrics.RecordCreate(string(rec.Decision), "invalid")
			return nil, invalid("revision_of", "unknown review %s", *rec.RevisionOf)
		}
	}

	rec.ID = s.newID()
	rec.CreatedAt = s.now().UTC()

	if err := s.repo.InsertReview(ctx, rec); err != nil {
		log.Error().Err(err).Str("plate", rec.Plate).Str("decision", string(rec.Decision)).Msg("review insert failed")
		s.metrics.RecordCreate(string(rec.Decision), "transient")
		return nil, Transient("create", err)
	}

	s.metrics.RecordCreate(string(rec.Decision), "success")
	evt := log.Info().Str("id", rec.ID).Str("plate", rec.Plate).Str("decision", string(rec.Decision)).
		Int64("start_ts", rec.StartTS).Int64("end_ts", rec.EndTS)
	if rec.RevisionOf != nil {
		evt = evt.Str("revision_of", *rec.RevisionOf)
	}
	evt.Msg("review created")

	return rec, nil
}

func (s *Store) build(d models.ReviewDraft) (*models.ReviewRecord, error) {
	plate := strings.TrimSpace(d.Plate)
	if plate == "" {
		return nil, invalid("plate", "plate is required")
	}

	startTS, ok := s.parser.Parse(d.StartDate, d.StartTime)
	if !ok {
		return nil, invalid("start", "unparsable date/time %q %q", d.StartDate, d.StartTime)
	}
	endTS, ok := s.parser.Parse(d.EndDate, d.EndTime)
	if !ok {
		return nil, invalid("end", "unparsable date/time %q %q", d.EndDate, d.EndTime)
	}

	if !d.Decision.Valid() {
		return nil, invalid("decision", "unknown decision %q", d.Decision)
	}
	if err := CheckNote(d.Decision, d.Note); err != nil {
		return nil, err
	}

	rec := &models.ReviewRecord{
		Plate:     plate,
		StartTS:   startTS,
		EndTS:     endTS,
		StartDate: strings.TrimSpace(d.StartDate),
		StartTime: strings.TrimSpace(d.StartTime),
		EndDate:   strings.TrimSpace(d.EndDate),
		EndTime:   strings.TrimSpace(d.EndTime),
		FuelStart: d.FuelStart,
		FuelEnd:   d.FuelEnd,
		Decision:  d.Decision,
		Note:      strings.TrimSpace(d.Note),
		Reviewer:  strings.TrimSpace(d.Reviewer),
	}

	// reversed selections are stored forward, display copies included
	if rec.StartTS > rec.EndTS {
		rec.StartTS, rec.EndTS = rec.EndTS, rec.StartTS
		rec.StartDate, rec.EndDate = rec.EndDate, rec.StartDate
		rec.StartTime, rec.EndTime = rec.EndTime, rec.StartTime
	}

	if d.FuelDiff != nil {
		rec.FuelDiff = *d.FuelDiff
	} else {
		rec.FuelDiff = d.FuelStart - d.FuelEnd
	}

	if d.DurationMin != nil {
		rec.DurationMin = *d.DurationMin
	} else {
		rec.DurationMin = DurationMinutes(rec.StartTS, rec.EndTS)
	}

	if d.RevisionOf != nil {
		if id := strings.TrimSpace(*d.RevisionOf); id != "" {
			rec.RevisionOf = &id
		}
	}

	return rec, nil
}

// decisionLabel keeps caller-supplied decisions out of metric labels
func decisionLabel(d models.Decision) string {
	if !d.Valid() {
		return "unknown"
	}
	return string(d)
}

// DurationMinutes returns the rounded number of minutes between two instants
func DurationMinutes(startTS, endTS int64) int64 {
	return int64(math.Round(float64(endTS-startTS) / 60000))
}

// Query returns records overlapping the filter interval, newest first. A
// query with neither plate nor interval is capped at the page size.
func (s *Store) Query(ctx context.Context, q models.ReviewQuery) ([]models.ReviewRecord, error) {
	start := time.Now()

	q.Plate = strings.TrimSpace(q.Plate)
	if q.Interval != nil && q.Interval.Start > q.Interval.End {
		q.Interval = &models.Interval{Start: q.Interval.End, End: q.Interval.Start}
	}
	if q.Plate == "" && q.Interval == nil {
		if q.Limit <= 0 || q.Limit > s.pageSize {
			q.Limit = s.pageSize
		}
	}

	records, err := s.repo.QueryReviews(ctx, q)
	if err != nil {
		s.metrics.RecordQuery("error", time.Since(start))
		return nil, Transient("query", err)
	}
	s.metrics.RecordQuery("success", time.Since(start))

	if records == nil {
		records = []models.ReviewRecord{}
	}
	return records, nil
}

// Get returns the record with id
func (s *Store) Get(ctx context.Context, id string) (*models.ReviewRecord, error) {
	rec, err := s.repo.GetReview(ctx, id)
	if err != nil {
		return nil, Transient("get", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Chain returns the record with id followed by every record it revises,
// newest first. A dangling back-reference ends the chain.
func (s *Store) Chain(ctx context.Context, id string) ([]models.ReviewRecord, error) {
	head, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	chain := []models.ReviewRecord{*head}
	seen := map[string]bool{head.ID: true}
	for cur := head; cur.RevisionOf != nil && !seen[*cur.RevisionOf]; {
		prior, err := s.repo.GetReview(ctx, *cur.RevisionOf)
		if err != nil {
			return nil, Transient("chain", err)
		}
		if prior == nil {
			break
		}
		seen[prior.ID] = true
		chain = append(chain, *prior)
		cur = prior
	}
	return chain, nil
}

// Stats counts reviews by kind
type Stats struct {
	Total      int64 `json:"total_reviews"`
	Suspicious int64 `json:"suspicious_reviews"`
	Revisions  int64 `json:"revisions"`
}

// Stats counts every stored review, ignoring the page size
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	records, err := s.repo.QueryReviews(ctx, models.ReviewQuery{})
	if err != nil {
		return Stats{}, Transient("stats", err)
	}

	var st Stats
	for _, r := range records {
		st.Total++
		if r.Decision == models.DecisionSuspicious {
			st.Suspicious++
		}
		if r.RevisionOf != nil {
			st.Revisions++
		}
	}
	return st, nil
}

// Suppressed reports whether at least one record for plate overlaps ts
func (s *Store) Suppressed(ctx context.Context, plate string, ts int64) (bool, error) {
	records, err := s.Query(ctx, models.ReviewQuery{
		Plate:    plate,
		Interval: &models.Interval{Start: ts, End: ts},
		Limit:    1,
	})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// Unreviewed drops the samples that fall inside any review for plate.
// Samples whose date or time cannot be parsed are kept.
func (s *Store) Unreviewed(ctx context.Context, plate string, samples []models.TelemetrySample) ([]models.TelemetrySample, error) {
	stamps := make([]int64, len(samples))
	parsed := make([]bool, len(samples))
	var span *models.Interval
	for i, smp := range samples {
		ts, ok := s.parser.Parse(smp.Date, smp.Time)
		if !ok {
			continue
		}
		stamps[i], parsed[i] = ts, true
		if span == nil {
			span = &models.Interval{Start: ts, End: ts}
		}
		span.Start = min(span.Start, ts)
		span.End = max(span.End, ts)
	}
	if span == nil {
		return samples, nil
	}

	reviews, err := s.Query(ctx, models.ReviewQuery{Plate: plate, Interval: span})
	if err != nil {
		return nil, err
	}

	out := make([]models.TelemetrySample, 0, len(samples))
	for i, smp := range samples {
		if parsed[i] && covered(stamps[i], reviews) {
			continue
		}
		out = append(out, smp)
	}
	return out, nil
}

func covered(ts int64, reviews []models.ReviewRecord) bool {
	for _, r := range reviews {
		if temporal.Overlaps(ts, ts, r.StartTS, r.EndTS) {
			return true
		}
	}
	return false
}

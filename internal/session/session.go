// Package session models an operator's two-click range selection over a
// downsampled timeline and turns it into a new review record.
//
// A Session belongs to one operator and is not safe for concurrent use.
package session

import (
	"context"
	stderrors "errors"
	"fmt"

	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/review"
	"fleet-fuel-review/internal/temporal"
	"fleet-fuel-review/internal/windows"
)

var (
	// ErrOutOfRange is returned when a selected index is not on the timeline
	ErrOutOfRange = stderrors.New("index out of range")
	// ErrNoRange is returned by operations that need a selected range
	ErrNoRange = stderrors.New("no range selected")
	// ErrNoOverlap is returned when a loaded review covers no timeline sample
	ErrNoOverlap = stderrors.New("review does not overlap the timeline")
)

// Creator persists a review draft
type Creator interface {
	Create(ctx context.Context, d models.ReviewDraft) (*models.ReviewRecord, error)
}

// Viewport is the chart's zoom/pan window, owned by the chart surface
type Viewport struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// RenderModel is everything the chart surface needs to paint one frame
type RenderModel struct {
	Layers    []windows.Layer `json:"layers"`
	Selection *IndexRange     `json:"selection,omitempty"`
	Anchor    *int            `json:"anchor,omitempty"`
	Viewport  Viewport        `json:"viewport"`
}

// Session is the selection state machine for one plate's timeline
type Session struct {
	plate    string
	timeline []models.TimelineSample
	reviews  []models.ReviewRecord
	store    Creator
	reviewer string

	state    State
	lastErr  error
	viewport Viewport
}

// New creates an idle session over a downsampled timeline and the reviews
// already known for it
func New(plate string, timeline []models.TimelineSample, reviews []models.ReviewRecord, store Creator) *Session {
	return &Session{
		plate:    plate,
		timeline: timeline,
		reviews:  append([]models.ReviewRecord(nil), reviews...),
		store:    store,
		state:    Idle{},
	}
}

// SetDefaultReviewer sets the reviewer stamped on new selections
func (s *Session) SetDefaultReviewer(name string) {
	s.reviewer = name
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Timeline returns the samples the session selects over
func (s *Session) Timeline() []models.TimelineSample {
	return s.timeline
}

// Reviews returns the reviews painted on the timeline, including ones saved
// through this session
func (s *Session) Reviews() []models.ReviewRecord {
	return s.reviews
}

// LastError returns the error from the last failed save, if the range it
// applied to is still selected
func (s *Session) LastError() error {
	return s.lastErr
}

// Select handles a click on timeline index i
func (s *Session) Select(i int) error {
	if i < 0 || i >= len(s.timeline) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, i, len(s.timeline))
	}

	s.lastErr = nil
	switch st := s.state.(type) {
	case AnchorSet:
		s.state = RangeSelected{
			From:  min(st.Anchor, i),
			To:    max(st.Anchor, i),
			Draft: Draft{Decision: models.DecisionOK, Reviewer: s.reviewer},
		}
	default:
		// Idle starts a gesture; a completed range is discarded for a new one
		s.state = AnchorSet{Anchor: i}
	}
	return nil
}

// Load selects the timeline span covered by an existing review and prefills
// its decision and note. Saving afterwards creates a revision of rec.
func (s *Session) Load(rec models.ReviewRecord) error {
	from, to := -1, -1
	for i, smp := range s.timeline {
		if temporal.Overlaps(smp.Timestamp, smp.Timestamp, rec.StartTS, rec.EndTS) {
			if from < 0 {
				from = i
			}
			to = i
		}
	}
	if from < 0 {
		return ErrNoOverlap
	}

	id := rec.ID
	reviewer := s.reviewer
	if reviewer == "" {
		reviewer = rec.Reviewer
	}
	s.lastErr = nil
	s.state = RangeSelected{
		From: from,
		To:   to,
		Draft: Draft{
			Decision:   rec.Decision,
			Note:       rec.Note,
			Reviewer:   reviewer,
			RevisionOf: &id,
		},
	}
	return nil
}

// Cancel discards any selection and draft
func (s *Session) Cancel() {
	s.state = Idle{}
	s.lastErr = nil
}

func (s *Session) editDraft(fn func(*Draft)) error {
	st, ok := s.state.(RangeSelected)
	if !ok {
		return ErrNoRange
	}
	fn(&st.Draft)
	s.state = st
	return nil
}

// SetDecision sets the decision of the draft
func (s *Session) SetDecision(d models.Decision) error {
	return s.editDraft(func(dr *Draft) { dr.Decision = d })
}

// SetNote sets the note of the draft
func (s *Session) SetNote(note string) error {
	return s.editDraft(func(dr *Draft) { dr.Note = note })
}

// SetReviewer sets who is making the call
func (s *Session) SetReviewer(name string) error {
	return s.editDraft(func(dr *Draft) { dr.Reviewer = name })
}

// Summary returns the computed fields of the current draft
func (s *Session) Summary() (Summary, bool) {
	st, ok := s.state.(RangeSelected)
	if !ok {
		return Summary{}, false
	}

	start, end := s.timeline[st.From], s.timeline[st.To]
	return Summary{
		Plate:       s.plateOf(start),
		StartDate:   start.Date,
		StartTime:   start.Time,
		EndDate:     end.Date,
		EndTime:     end.Time,
		FuelStart:   start.FuelLevel,
		FuelEnd:     end.FuelLevel,
		FuelDiff:    start.FuelLevel - end.FuelLevel,
		DurationMin: review.DurationMinutes(start.Timestamp, end.Timestamp),
		Decision:    st.Draft.Decision,
		Note:        st.Draft.Note,
		RevisionOf:  st.Draft.RevisionOf,
	}, true
}

func (s *Session) plateOf(smp models.TimelineSample) string {
	if smp.Plate != "" {
		return smp.Plate
	}
	return s.plate
}

// Save submits the draft. On success the session returns to Idle and the new
// record joins the painted reviews; on failure the selection and draft are
// kept so the operator can retry.
func (s *Session) Save(ctx context.Context) (*models.ReviewRecord, error) {
	st, ok := s.state.(RangeSelected)
	if !ok {
		return nil, ErrNoRange
	}

	sum, _ := s.Summary()
	if err := review.CheckNote(st.Draft.Decision, st.Draft.Note); err != nil {
		s.lastErr = err
		return nil, err
	}

	fuelDiff, duration := sum.FuelDiff, sum.DurationMin
	rec, err := s.store.Create(ctx, models.ReviewDraft{
		Plate:       sum.Plate,
		StartDate:   sum.StartDate,
		StartTime:   sum.StartTime,
		EndDate:     sum.EndDate,
		EndTime:     sum.EndTime,
		FuelStart:   sum.FuelStart,
		FuelEnd:     sum.FuelEnd,
		FuelDiff:    &fuelDiff,
		DurationMin: &duration,
		Decision:    st.Draft.Decision,
		Note:        st.Draft.Note,
		Reviewer:    st.Draft.Reviewer,
		RevisionOf:  st.Draft.RevisionOf,
	})
	if err != nil {
		s.lastErr = err
		return nil, err
	}

	s.reviews = append(s.reviews, *rec)
	s.state = Idle{}
	s.lastErr = nil
	return rec, nil
}

// SetViewport records the chart's current zoom/pan
func (s *Session) SetViewport(v Viewport) {
	s.viewport = v
}

// View returns the bands, selection and viewport for the chart surface
func (s *Session) View() RenderModel {
	m := RenderModel{
		Layers:   windows.Compose(s.timeline, s.reviews).Layers(),
		Viewport: s.viewport,
	}

	switch st := s.state.(type) {
	case AnchorSet:
		a := st.Anchor
		m.Anchor = &a
	case RangeSelected:
		m.Selection = &IndexRange{From: st.From, To: st.To}
	}
	return m
}

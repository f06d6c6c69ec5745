package review

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/temporal"
)

// MemoryRepository keeps records in process. Readers load an immutable
// snapshot without locking; writers serialize and publish a new snapshot.
type MemoryRepository struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]models.ReviewRecord]
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{}
	empty := []models.ReviewRecord{}
	r.snapshot.Store(&empty)
	return r
}

// InsertReview appends a copy of rec
func (m *MemoryRepository) InsertReview(ctx context.Context, rec *models.ReviewRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := *m.snapshot.Load()
	next := make([]models.ReviewRecord, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, cloneRecord(*rec))
	m.snapshot.Store(&next)
	return nil
}

// QueryReviews filters the current snapshot, newest created_at first
func (m *MemoryRepository) QueryReviews(ctx context.Context, q models.ReviewQuery) ([]models.ReviewRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := *m.snapshot.Load()
	out := []models.ReviewRecord{}
	// walk backwards so equal created_at keeps latest-inserted first
	for i := len(snap) - 1; i >= 0; i-- {
		r := snap[i]
		if q.Plate != "" && r.Plate != q.Plate {
			continue
		}
		if q.Interval != nil && !temporal.Overlaps(q.Interval.Start, q.Interval.End, r.StartTS, r.EndTS) {
			continue
		}
		out = append(out, cloneRecord(r))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetReview returns the record with id, or nil when absent
func (m *MemoryRepository) GetReview(ctx context.Context, id string) (*models.ReviewRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, r := range *m.snapshot.Load() {
		if r.ID == id {
			c := cloneRecord(r)
			return &c, nil
		}
	}
	return nil, nil
}

func cloneRecord(r models.ReviewRecord) models.ReviewRecord {
	if r.RevisionOf != nil {
		id := *r.RevisionOf
		r.RevisionOf = &id
	}
	return r
}

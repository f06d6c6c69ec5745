package windows

import (
	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/temporal"
)

// Kind names a band layer
type Kind string

const (
	KindUnreviewed Kind = "unreviewed"
	KindReviewed   Kind = "reviewed"
	KindSuspicious Kind = "suspicious"
)

// Bands holds the three window sets painted over a timeline. Suspicious is a
// subset of Reviewed; Unreviewed is the complement of Reviewed.
type Bands struct {
	Unreviewed []Window `json:"unreviewed"`
	Reviewed   []Window `json:"reviewed"`
	Suspicious []Window `json:"suspicious"`
}

// Layer is one band set with its paint order
type Layer struct {
	Kind    Kind     `json:"kind"`
	Z       int      `json:"z"`
	Windows []Window `json:"windows"`
}

// Layers returns the bands bottom to top. Suspicious is always painted last
// so reviewed shading never hides it.
func (b Bands) Layers() []Layer {
	return []Layer{
		{Kind: KindUnreviewed, Z: 0, Windows: b.Unreviewed},
		{Kind: KindReviewed, Z: 1, Windows: b.Reviewed},
		{Kind: KindSuspicious, Z: 2, Windows: b.Suspicious},
	}
}

// Compose flags each timeline sample against the reviews and encodes the
// three band sets. Any overlapping review marks a sample reviewed regardless
// of its decision.
func Compose(timeline []models.TimelineSample, reviews []models.ReviewRecord) Bands {
	reviewed := make([]bool, len(timeline))
	suspicious := make([]bool, len(timeline))
	unreviewed := make([]bool, len(timeline))

	for i, s := range timeline {
		for _, r := range reviews {
			if !temporal.Overlaps(s.Timestamp, s.Timestamp, r.StartTS, r.EndTS) {
				continue
			}
			reviewed[i] = true
			if r.Decision == models.DecisionSuspicious {
				suspicious[i] = true
				break
			}
		}
		unreviewed[i] = !reviewed[i]
	}

	return Bands{
		Unreviewed: Build(unreviewed),
		Reviewed:   Build(reviewed),
		Suspicious: Build(suspicious),
	}
}

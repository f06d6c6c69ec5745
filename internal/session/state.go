package session

import "fleet-fuel-review/internal/models"

// State is one of Idle, AnchorSet or RangeSelected
type State interface {
	state()
}

// Idle has no selection
type Idle struct{}

// AnchorSet has one endpoint chosen
type AnchorSet struct {
	Anchor int
}

// RangeSelected has both endpoints chosen, From <= To, with the draft being
// edited for them
type RangeSelected struct {
	From  int
	To    int
	Draft Draft
}

func (Idle) state()          {}
func (AnchorSet) state()     {}
func (RangeSelected) state() {}

// Draft holds the operator-editable part of a review in progress
type Draft struct {
	Decision   models.Decision
	Note       string
	Reviewer   string
	RevisionOf *string
}

// IndexRange is an inclusive range over the downsampled timeline
type IndexRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Summary is the read-only confirmation panel view of a selection
type Summary struct {
	Plate       string          `json:"plate"`
	StartDate   string          `json:"start_date"`
	StartTime   string          `json:"start_time"`
	EndDate     string          `json:"end_date"`
	EndTime     string          `json:"end_time"`
	FuelStart   float64         `json:"fuel_start"`
	FuelEnd     float64         `json:"fuel_end"`
	FuelDiff    float64         `json:"fuel_diff"`
	DurationMin int64           `json:"duration_min"`
	Decision    models.Decision `json:"decision"`
	Note        string          `json:"note"`
	RevisionOf  *string         `json:"revision_of,omitempty"`
}

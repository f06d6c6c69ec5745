package models

import "time"

// Decision is the operator's verdict on a reviewed interval
type Decision string

const (
	DecisionOK            Decision = "reviewed_ok"
	DecisionSuspicious    Decision = "reviewed_suspicious"
	DecisionFalsePositive Decision = "false_positive"
	DecisionFollowUp      Decision = "need_follow_up"
)

// Decisions lists the closed set of accepted decisions.
var Decisions = []Decision{DecisionOK, DecisionSuspicious, DecisionFalsePositive, DecisionFollowUp}

// Valid reports whether d is one of the accepted decisions.
func (d Decision) Valid() bool {
	for _, known := range Decisions {
		if d == known {
			return true
		}
	}
	return false
}

// ReviewRecord is an immutable operator judgment about a vehicle over a time
// interval. Corrections are new records pointing back through RevisionOf.
type ReviewRecord struct {
	ID          string    `json:"id"`
	Plate       string    `json:"plate"`
	StartTS     int64     `json:"start_ts"`
	EndTS       int64     `json:"end_ts"`
	StartDate   string    `json:"start_date"`
	StartTime   string    `json:"start_time"`
	EndDate     string    `json:"end_date"`
	EndTime     string    `json:"end_time"`
	FuelStart   float64   `json:"fuel_start"`
	FuelEnd     float64   `json:"fuel_end"`
	FuelDiff    float64   `json:"fuel_diff"`
	DurationMin int64     `json:"duration_min"`
	Decision    Decision  `json:"decision"`
	Note        string    `json:"note,omitempty"`
	Reviewer    string    `json:"reviewer,omitempty"`
	RevisionOf  *string   `json:"revision_of,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReviewDraft is the unpersisted input to a review create. Endpoints are the
// locale date/time strings the operator picked; they may be out of order.
type ReviewDraft struct {
	Plate       string   `json:"plate"`
	StartDate   string   `json:"start_date"`
	StartTime   string   `json:"start_time"`
	EndDate     string   `json:"end_date"`
	EndTime     string   `json:"end_time"`
	FuelStart   float64  `json:"fuel_start"`
	FuelEnd     float64  `json:"fuel_end"`
	FuelDiff    *float64 `json:"fuel_diff,omitempty"`
	DurationMin *int64   `json:"duration_min,omitempty"`
	Decision    Decision `json:"decision"`
	Note        string   `json:"note,omitempty"`
	Reviewer    string   `json:"reviewer,omitempty"`
	RevisionOf  *string  `json:"revision_of,omitempty"`
}

// Interval is a closed range of epoch milliseconds
type Interval struct {
	Start int64 `json:"start_ts"`
	End   int64 `json:"end_ts"`
}

// ReviewQuery represents query parameters for review searches
type ReviewQuery struct {
	Plate    string
	Interval *Interval
	Limit    int
}

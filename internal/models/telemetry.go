package models

// TelemetrySample represents a single raw reading from a vehicle.
// Date and Time are kept in the locale format the trackers report
// (DD/MM/YYYY and HH:MM:SS).
type TelemetrySample struct {
	ID        int64   `json:"id,omitempty"`
	Plate     string  `json:"plate"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	Speed     float64 `json:"speed"`      // km/h
	FuelLevel float64 `json:"fuel_level"` // litres
	Status    string  `json:"status,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TimelineSample is the downsampled projection of a TelemetrySample that
// operators scan and select on. It is derived per request and never stored.
type TimelineSample struct {
	TelemetrySample
	Timestamp int64 `json:"ts"`     // epoch milliseconds
	Bucket    int   `json:"bucket"` // minute-of-day bucket start
}

// TelemetryQuery represents query parameters for telemetry searches
type TelemetryQuery struct {
	Plate    string
	FromDate string // inclusive, DD/MM/YYYY
	ToDate   string // inclusive, DD/MM/YYYY
	Limit    int
}

// VehicleSummary provides aggregated statistics for one plate
type VehicleSummary struct {
	Plate        string  `json:"plate"`
	TotalRecords int     `json:"total_records"`
	FirstDate    string  `json:"first_date"`
	LastDate     string  `json:"last_date"`
	AvgSpeed     float64 `json:"avg_speed"`
	MinFuel      float64 `json:"min_fuel"`
	MaxFuel      float64 `json:"max_fuel"`
}

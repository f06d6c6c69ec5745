// Package downsample reduces a vehicle's telemetry stream to at most one
// sample per fixed bucket of each day, keeping the first reading seen in each
// bucket.
package downsample

import (
	"sort"

	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/temporal"
)

// BucketMinutes is the width of a timeline bucket
const BucketMinutes = 5

// Downsampler keeps the first sample of each bucket per date group
type Downsampler struct {
	parser *temporal.Parser
}

// New creates a downsampler that stamps instants with the given parser
func New(parser *temporal.Parser) *Downsampler {
	if parser == nil {
		parser = temporal.NewParser(nil)
	}
	return &Downsampler{parser: parser}
}

// Downsample reduces samples using UTC instants
func Downsample(samples []models.TelemetrySample) []models.TimelineSample {
	return New(nil).Downsample(samples)
}

type keyed struct {
	sample models.TelemetrySample
	minute int
}

// Downsample groups samples by date, sorts each group by minute-of-day and
// emits the first sample of every new bucket. Groups keep their first-seen
// order and are not re-sorted against each other. Samples with an unparsable
// date or time are skipped.
func (d *Downsampler) Downsample(samples []models.TelemetrySample) []models.TimelineSample {
	if len(samples) == 0 {
		return []models.TimelineSample{}
	}

	var order []string
	groups := make(map[string][]keyed)
	for _, s := range samples {
		minute, ok := temporal.MinuteOfDay(s.Time)
		if !ok {
			continue
		}
		date := temporal.DateOnly(s.Date)
		if _, seen := groups[date]; !seen {
			order = append(order, date)
		}
		groups[date] = append(groups[date], keyed{sample: s, minute: minute})
	}

	out := make([]models.TimelineSample, 0, len(samples))
	for _, date := range order {
		group := groups[date]
		// stable: ties keep arrival order, so the first-arrived wins its bucket
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].minute < group[j].minute
		})

		lastBucket := -1
		for _, k := range group {
			bucket := (k.minute / BucketMinutes) * BucketMinutes
			if bucket == lastBucket {
				continue
			}
			ts, ok := d.parser.Parse(date, k.sample.Time)
			if !ok {
				continue
			}
			lastBucket = bucket
			out = append(out, models.TimelineSample{
				TelemetrySample: k.sample,
				Timestamp:       ts,
				Bucket:          bucket,
			})
		}
	}

	return out
}

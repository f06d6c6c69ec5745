package downsample

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/temporal"
)

func sample(plate, date, clock string, fuel float64) models.TelemetrySample {
	return models.TelemetrySample{Plate: plate, Date: date, Time: clock, FuelLevel: fuel}
}

func TestDownsampleDropsSameBucket(t *testing.T) {
	t.Parallel()

	in := []models.TelemetrySample{
		sample("71-8623", "14/12/2025", "08:00:00", 60),
		sample("71-8623", "14/12/2025", "08:02:00", 59),
		sample("71-8623", "14/12/2025", "08:06:00", 58),
	}

	out := Downsample(in)
	require.Len(t, out, 2)
	assert.Equal(t, "08:00:00", out[0].Time)
	assert.Equal(t, 480, out[0].Bucket)
	assert.Equal(t, "08:06:00", out[1].Time)
	assert.Equal(t, 485, out[1].Bucket)

	ts, _ := temporal.Parse("14/12/2025", "08:06:00")
	assert.Equal(t, ts, out[1].Timestamp)
}

func TestDownsampleEmpty(t *testing.T) {
	t.Parallel()

	out := Downsample(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestDownsampleSortsWithinDate(t *testing.T) {
	t.Parallel()

	in := []models.TelemetrySample{
		sample("A", "14/12/2025", "08:07:00", 1),
		sample("A", "14/12/2025", "08:01:00", 2),
		sample("A", "14/12/2025", "08:03:00", 3),
	}

	out := Downsample(in)
	require.Len(t, out, 2)
	assert.Equal(t, "08:01:00", out[0].Time, "earliest sample of the bucket is kept")
	assert.Equal(t, "08:07:00", out[1].Time)
}

func TestDownsampleKeepsGroupOrder(t *testing.T) {
	t.Parallel()

	in := []models.TelemetrySample{
		sample("A", "15/12/2025", "09:00:00", 1),
		sample("A", "14/12/2025", "08:00:00", 2),
		sample("A", "15/12/2025", "00:00:00", 3),
	}

	out := Downsample(in)
	require.Len(t, out, 3)
	assert.Equal(t, "15/12/2025", out[0].Date)
	assert.Equal(t, "00:00:00", out[0].Time)
	assert.Equal(t, "15/12/2025", out[1].Date)
	assert.Equal(t, "14/12/2025", out[2].Date, "groups are concatenated in first-seen order")
}

func TestDownsampleSameBucketAcrossDates(t *testing.T) {
	t.Parallel()

	in := []models.TelemetrySample{
		sample("A", "14/12/2025", "08:00:00", 1),
		sample("A", "15/12/2025", "08:01:00", 2),
	}

	out := Downsample(in)
	assert.Len(t, out, 2, "each date starts with no prior bucket")
}

func TestDownsampleTieKeepsArrivalOrder(t *testing.T) {
	t.Parallel()

	in := []models.TelemetrySample{
		sample("A", "14/12/2025", "08:00:10", 10),
		sample("A", "14/12/2025", "08:00:00", 20),
	}

	out := Downsample(in)
	require.Len(t, out, 1)
	assert.Equal(t, 10.0, out[0].FuelLevel, "identical minute-of-day: first arrival wins")
}

func TestDownsampleSkipsMalformed(t *testing.T) {
	t.Parallel()

	in := []models.TelemetrySample{
		sample("A", "14/12/2025", "garbage", 1),
		sample("A", "14/12/2025", "08:00:00", 2),
		sample("A", "not-a-date", "08:00:00", 3),
	}

	out := Downsample(in)
	require.Len(t, out, 1)
	assert.Equal(t, 2.0, out[0].FuelLevel)
}

func TestDownsampleOneEarliestPerBucket(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	dates := []string{"13/12/2025", "14/12/2025", "15/12/2025"}

	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(400)
		in := make([]models.TelemetrySample, n)
		for i := range in {
			// whole minutes keep minute-of-day free of rounding
			in[i] = sample("A", dates[rng.Intn(len(dates))],
				fmt.Sprintf("%02d:%02d:00", rng.Intn(24), rng.Intn(60)), float64(i))
		}

		out := Downsample(in)
		require.LessOrEqual(t, len(out), len(in))

		type key struct {
			date   string
			bucket int
		}
		earliest := make(map[key]int)
		for _, s := range in {
			m, _ := temporal.MinuteOfDay(s.Time)
			k := key{s.Date, m / BucketMinutes * BucketMinutes}
			if prev, ok := earliest[k]; !ok || m < prev {
				earliest[k] = m
			}
		}

		seen := make(map[key]int)
		for _, s := range out {
			k := key{s.Date, s.Bucket}
			seen[k]++
			m, _ := temporal.MinuteOfDay(s.Time)
			assert.Equal(t, earliest[k], m, "round %d: kept sample is the earliest of its bucket", round)
		}
		assert.Len(t, seen, len(earliest), "round %d: every populated bucket appears", round)
		for k, c := range seen {
			assert.Equal(t, 1, c, "round %d: bucket %v emitted once", round, k)
		}
	}
}

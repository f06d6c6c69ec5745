package windows

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/temporal"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		flags []bool
		want  []Window
	}{
		{"empty", nil, []Window{}},
		{"all false", []bool{false, false, false}, []Window{}},
		{"all true", []bool{true, true, true}, []Window{{0, 2}}},
		{"single", []bool{false, true, false}, []Window{{1, 1}}},
		{"edges", []bool{true, false, false, true}, []Window{{0, 0}, {3, 3}}},
		{"runs", []bool{true, true, false, true, true, true, false}, []Window{{0, 1}, {3, 5}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Build(tt.flags))
		})
	}
}

func TestBuildRoundTripAndCompleteness(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		flags := make([]bool, rng.Intn(64))
		for i := range flags {
			flags[i] = rng.Intn(3) == 0
		}

		ws := Build(flags)
		assert.Equal(t, ws, Build(Flags(len(flags), ws)), "round %d: idempotent", round)

		for i, f := range flags {
			covered := 0
			for _, w := range ws {
				if w.Contains(i) {
					covered++
				}
			}
			if f {
				assert.Equal(t, 1, covered, "round %d: index %d covered once", round, i)
			} else {
				assert.Zero(t, covered, "round %d: index %d not covered", round, i)
			}
		}

		for k := 1; k < len(ws); k++ {
			assert.Greater(t, ws[k].From, ws[k-1].To+1, "round %d: runs are maximal", round)
		}
	}
}

func TestFlagsIgnoresOutOfRange(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []bool{true, true, false}, Flags(3, []Window{{-2, 1}, {5, 9}}))
}

func timelineAt(t *testing.T, clocks ...string) []models.TimelineSample {
	t.Helper()
	out := make([]models.TimelineSample, len(clocks))
	for i, c := range clocks {
		ts, ok := temporal.Parse("14/12/2025", c)
		require.True(t, ok)
		out[i] = models.TimelineSample{
			TelemetrySample: models.TelemetrySample{Plate: "71-8623", Date: "14/12/2025", Time: c},
			Timestamp:       ts,
		}
	}
	return out
}

func review(t *testing.T, from, to string, d models.Decision) models.ReviewRecord {
	t.Helper()
	start, ok := temporal.Parse("14/12/2025", from)
	require.True(t, ok)
	end, ok := temporal.Parse("14/12/2025", to)
	require.True(t, ok)
	return models.ReviewRecord{Plate: "71-8623", StartTS: start, EndTS: end, Decision: d}
}

func TestCompose(t *testing.T) {
	t.Parallel()

	timeline := timelineAt(t, "08:00:00", "08:05:00", "08:10:00", "08:15:00", "08:20:00", "08:25:00")
	reviews := []models.ReviewRecord{
		review(t, "08:05:00", "08:15:00", models.DecisionOK),
		review(t, "08:10:00", "08:10:00", models.DecisionSuspicious),
		review(t, "08:25:00", "09:00:00", models.DecisionFalsePositive),
	}

	bands := Compose(timeline, reviews)
	assert.Equal(t, []Window{{0, 0}, {4, 4}}, bands.Unreviewed)
	assert.Equal(t, []Window{{1, 3}, {5, 5}}, bands.Reviewed)
	assert.Equal(t, []Window{{2, 2}}, bands.Suspicious)
}

func TestComposeNoReviews(t *testing.T) {
	t.Parallel()

	timeline := timelineAt(t, "08:00:00", "08:05:00")
	bands := Compose(timeline, nil)
	assert.Equal(t, []Window{{0, 1}}, bands.Unreviewed)
	assert.Empty(t, bands.Reviewed)
	assert.Empty(t, bands.Suspicious)
}

func TestLayersOrder(t *testing.T) {
	t.Parallel()

	layers := Bands{}.Layers()
	require.Len(t, layers, 3)
	assert.Equal(t, KindUnreviewed, layers[0].Kind)
	assert.Equal(t, KindReviewed, layers[1].Kind)
	assert.Equal(t, KindSuspicious, layers[2].Kind)
	for i, l := range layers {
		assert.Equal(t, i, l.Z)
	}
}

package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// evalsFor builds synthetic evaluations with fixed crisp scores, bypassing
// inference so clustering behaviour can be pinned exactly.
func evalsFor(values []float64, cat Category) []Evaluation {
	evals := make([]Evaluation, len(values))
	for i, v := range values {
		evals[i] = Evaluation{Value: v, Category: cat}
	}
	return evals
}

func obsFor(n int, expected string) []SensorObservation {
	obs := make([]SensorObservation, n)
	for i := range obs {
		obs[i] = SensorObservation{
			VehiclesPerMinute: 20,
			AvgSpeedKmh:       40,
			Density:           80,
			Expected:          expected,
		}
	}
	return obs
}

func TestClusterSensorsEmpty(t *testing.T) {
	_, err := ClusterSensors(nil, nil, DefaultClusterParams())
	require.Error(t, err)

	var invalid *InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestClusterSensorsCountMismatch(t *testing.T) {
	_, err := ClusterSensors(obsFor(3, "none"), evalsFor([]float64{1, 2}, CategoryNone), DefaultClusterParams())
	require.Error(t, err)

	var invalid *InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestClusterSingleSensor(t *testing.T) {
	obs := []SensorObservation{{VehiclesPerMinute: 15, AvgSpeedKmh: 50, Density: 60, Expected: "none"}}
	evals := evalsFor([]float64{1.5}, CategoryNone)

	c, err := ClusterSensors(obs, evals, DefaultClusterParams())
	require.NoError(t, err)

	assert.Equal(t, []int{1}, c.Assignments)
	require.Len(t, c.Clusters, 1)
	assert.Empty(t, c.Linkage)

	stats := c.Clusters[0]
	assert.Equal(t, 1, stats.ClusterID)
	assert.Equal(t, []int{0}, stats.MemberIndices)
	assert.Equal(t, "unknown", stats.ExpectedMode)
	assert.Equal(t, CategoryNone, stats.PredictedMode)
	assert.Equal(t, 1.5, stats.CongestionMean)
	assert.Equal(t, 0.0, stats.CongestionStd)
}

func TestClusterSeparation(t *testing.T) {
	// Two tight groups far apart on the congestion axis must split at the
	// default cut threshold.
	values := []float64{1.0, 1.1, 1.2, 8.0, 8.1, 8.2}
	obs := obsFor(len(values), "mixed")
	evals := evalsFor(values, CategoryNone)
	for i := 3; i < 6; i++ {
		evals[i].Category = CategorySevere
	}

	c, err := ClusterSensors(obs, evals, DefaultClusterParams())
	require.NoError(t, err)

	require.Len(t, c.Clusters, 2)
	assert.Equal(t, []int{1, 1, 1, 2, 2, 2}, c.Assignments)
	assert.Equal(t, []int{0, 1, 2}, c.Clusters[0].MemberIndices)
	assert.Equal(t, []int{3, 4, 5}, c.Clusters[1].MemberIndices)
	assert.Equal(t, CategoryNone, c.Clusters[0].PredictedMode)
	assert.Equal(t, CategorySevere, c.Clusters[1].PredictedMode)
	assert.InDelta(t, 1.1, c.Clusters[0].CongestionMean, 1e-9)
	assert.InDelta(t, 8.1, c.Clusters[1].CongestionMean, 1e-9)
}

func TestClusterPartitionInvariant(t *testing.T) {
	values := []float64{0.5, 2.3, 2.4, 5.0, 5.1, 7.9, 8.0, 8.4, 3.3, 1.0}
	obs := obsFor(len(values), "any")
	evals := evalsFor(values, CategoryMild)

	c, err := ClusterSensors(obs, evals, DefaultClusterParams())
	require.NoError(t, err)

	seen := make(map[int]int)
	for _, stats := range c.Clusters {
		for _, m := range stats.MemberIndices {
			seen[m]++
			assert.Equal(t, stats.ClusterID, c.Assignments[m])
		}
	}
	require.Len(t, seen, len(values), "member indices must cover the batch")
	for i, n := range seen {
		assert.Equal(t, 1, n, "sensor %d appears in more than one cluster", i)
	}
}

func TestClusterLabelsOrderedByFirstAppearance(t *testing.T) {
	// The high-score group appears first in the batch and must receive
	// cluster ID 1 regardless of merge order.
	values := []float64{9.0, 9.1, 0.5, 0.6}
	obs := obsFor(len(values), "any")
	evals := evalsFor(values, CategorySevere)

	c, err := ClusterSensors(obs, evals, DefaultClusterParams())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2}, c.Assignments)
}

func TestWardLinkageThreePoints(t *testing.T) {
	steps := wardLinkage([]float64{0, 1, 5})
	require.Len(t, steps, 2)

	assert.Equal(t, 0, steps[0].I)
	assert.Equal(t, 1, steps[0].J)
	assert.InDelta(t, 1.0, steps[0].Distance, 1e-9)
	assert.Equal(t, 2, steps[0].Size)

	// Lance-Williams update: sqrt((2*25 + 2*16 - 1) / 3).
	assert.Equal(t, 2, steps[1].I)
	assert.Equal(t, 3, steps[1].J)
	assert.InDelta(t, 5.196152423, steps[1].Distance, 1e-6)
	assert.Equal(t, 3, steps[1].Size)
}

func TestWardLinkageTieBreak(t *testing.T) {
	// Equidistant candidate pairs: (0,1) and (2,3) both at distance 1. The
	// scan picks the lowest-index pair first, deterministically.
	steps := wardLinkage([]float64{0, 1, 10, 11})
	require.Len(t, steps, 3)
	assert.Equal(t, 0, steps[0].I)
	assert.Equal(t, 1, steps[0].J)
	assert.Equal(t, 2, steps[1].I)
	assert.Equal(t, 3, steps[1].J)
}

func TestCutTreeThreshold(t *testing.T) {
	values := []float64{1.0, 1.5, 8.0}
	steps := wardLinkage(values)

	// A generous threshold collapses everything into one cluster.
	all := cutTree(len(values), steps, 100)
	assert.Equal(t, []int{1, 1, 1}, all)

	// A tiny threshold keeps every sensor separate.
	none := cutTree(len(values), steps, 0.01)
	assert.Equal(t, []int{1, 2, 3}, none)
}

func TestCategoryModeTieBreak(t *testing.T) {
	assert.Equal(t, CategoryMild, categoryMode([]Category{CategoryNone, CategoryMild}))
	assert.Equal(t, CategorySevere, categoryMode([]Category{CategorySevere, CategoryMild}))
	assert.Equal(t, CategoryNone, categoryMode([]Category{CategoryNone, CategoryNone, CategoryMild}))
}

func TestStringModeTieBreak(t *testing.T) {
	assert.Equal(t, "mild", stringMode([]string{"none", "mild"}))
	assert.Equal(t, "none", stringMode([]string{"none", "none", "severe"}))
}

func TestClusterStatsRounding(t *testing.T) {
	obs := []SensorObservation{
		{VehiclesPerMinute: 10, AvgSpeedKmh: 30, Density: 70},
		{VehiclesPerMinute: 11, AvgSpeedKmh: 31, Density: 71},
		{VehiclesPerMinute: 12, AvgSpeedKmh: 32, Density: 72},
	}
	evals := evalsFor([]float64{1.11, 1.12, 1.14}, CategoryNone)

	c, err := ClusterSensors(obs, evals, DefaultClusterParams())
	require.NoError(t, err)
	require.Len(t, c.Clusters, 1)

	stats := c.Clusters[0]
	assert.InDelta(t, 1.12, stats.CongestionMean, 1e-9) // (1.11+1.12+1.14)/3 = 1.12333 -> 1.12
	assert.InDelta(t, 11.0, stats.VPMMean, 1e-9)
	assert.InDelta(t, 31.0, stats.SpeedMean, 1e-9)
	assert.InDelta(t, 71.0, stats.DensityMean, 1e-9)
}

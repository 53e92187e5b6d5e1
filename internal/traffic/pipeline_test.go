package traffic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipeline() *Pipeline {
	engine := NewEngine(DefaultFuzzyParams())
	params := DefaultPipelineParams()
	params.PSO = testPSOParams()
	return NewPipeline(engine, params)
}

func pipelineBatch() []SensorObservation {
	return []SensorObservation{
		{VehiclesPerMinute: 15, AvgSpeedKmh: 50, Density: 60, Expected: "none"},
		{VehiclesPerMinute: 30, AvgSpeedKmh: 35, Density: 90, Expected: "mild"},
		{VehiclesPerMinute: 45, AvgSpeedKmh: 20, Density: 130, Expected: "severe"},
		{VehiclesPerMinute: 25, AvgSpeedKmh: 40, Density: 70, Expected: "mild"},
		{VehiclesPerMinute: 30, AvgSpeedKmh: 50, Density: 60, Expected: "none"},
		{VehiclesPerMinute: 35, AvgSpeedKmh: 15, Density: 100, Expected: "severe"},
	}
}

func TestPipelineRun(t *testing.T) {
	res, err := testPipeline().Run(context.Background(), pipelineBatch())
	require.NoError(t, err)

	require.Len(t, res.Evaluations, 6)
	require.Len(t, res.Assignments, 6)
	assert.Empty(t, res.SensorFailures)
	assert.Empty(t, res.ClusterFailures)

	for i, ev := range res.Evaluations {
		require.NotNil(t, ev, "sensor %d", i)
		assert.Greater(t, res.Assignments[i], 0, "sensor %d must belong to a cluster", i)
	}

	// Every cluster gets exactly one timing recommendation.
	require.Len(t, res.Timings, len(res.Clusters))
	for i, timing := range res.Timings {
		assert.Equal(t, res.Clusters[i].ClusterID, timing.ClusterID)
		assert.InDelta(t, timing.CycleTime, timing.GreenTime+timing.RedTime, 1e-9)
	}
}

func TestPipelineEmptyBatch(t *testing.T) {
	_, err := testPipeline().Run(context.Background(), nil)
	require.Error(t, err)

	var invalid *InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestPipelineIsolatesSensorFailures(t *testing.T) {
	// A classifier with dead vehicle sets fails every sensor except those at
	// the origin, so the batch proceeds with a subset.
	params := DefaultFuzzyParams()
	params.Vehicles = FuzzySets{
		Low:  Trapezoid(0, 0, 20, 28),
		Mid:  Trapezoid(0, 0, 20, 28),
		High: Trapezoid(0, 0, 20, 28),
	}
	engine := NewEngine(params)
	pparams := DefaultPipelineParams()
	pparams.PSO = testPSOParams()
	pipe := NewPipeline(engine, pparams)

	obs := []SensorObservation{
		{VehiclesPerMinute: 15, AvgSpeedKmh: 50, Density: 60}, // classifiable
		{VehiclesPerMinute: 45, AvgSpeedKmh: 20, Density: 130}, // dead vehicle sets
		{VehiclesPerMinute: 20, AvgSpeedKmh: 35, Density: 90}, // classifiable
	}
	res, err := pipe.Run(context.Background(), obs)
	require.NoError(t, err)

	require.Len(t, res.SensorFailures, 1)
	assert.Equal(t, 1, res.SensorFailures[0].SensorIndex)
	assert.Nil(t, res.Evaluations[1])
	assert.Equal(t, 0, res.Assignments[1], "failed sensor stays unassigned")

	assert.NotNil(t, res.Evaluations[0])
	assert.NotNil(t, res.Evaluations[2])
	assert.Greater(t, res.Assignments[0], 0)
	assert.Greater(t, res.Assignments[2], 0)

	// Member indices refer to positions in the original batch.
	for _, c := range res.Clusters {
		for _, m := range c.MemberIndices {
			assert.NotEqual(t, 1, m)
			assert.Equal(t, c.ClusterID, res.Assignments[m])
		}
	}
}

func TestPipelineAllSensorsFail(t *testing.T) {
	params := DefaultFuzzyParams()
	dead := FuzzySets{
		Low:  Trapezoid(0, 0, 0.5, 1),
		Mid:  Trapezoid(0, 0, 0.5, 1),
		High: Trapezoid(0, 0, 0.5, 1),
	}
	params.Vehicles = dead
	pipe := NewPipeline(NewEngine(params), DefaultPipelineParams())

	_, err := pipe.Run(context.Background(), pipelineBatch())
	require.Error(t, err)

	var invalid *InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestPipelineCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testPipeline().Run(ctx, pipelineBatch())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSensorRows(t *testing.T) {
	res, err := testPipeline().Run(context.Background(), pipelineBatch())
	require.NoError(t, err)

	rows := res.SensorRows()
	require.Len(t, rows, 6)
	for i, row := range rows {
		assert.Equal(t, i, row.Sensor)
		assert.Equal(t, res.Observations[i].Expected, row.Expected)
		assert.Equal(t, res.Assignments[i], row.Cluster)
		assert.Equal(t, res.Evaluations[i].Value, row.Congestion)
		assert.Greater(t, row.GreenTime, 0.0)
		assert.InDelta(t, DefaultCycleTime, row.GreenTime+row.RedTime, 1e-9)
		assert.Empty(t, row.Error)
	}
}

func TestPipelineBaselineVariant(t *testing.T) {
	engine := NewEngine(DefaultFuzzyParams())
	params := DefaultPipelineParams()
	params.PSO = testPSOParams()
	params.Baseline = true
	pipe := NewPipeline(engine, params)

	res, err := pipe.Run(context.Background(), pipelineBatch())
	require.NoError(t, err)
	for _, timing := range res.Timings {
		assert.Equal(t, params.PSO.MaxIterations, timing.Iterations)
		assert.False(t, timing.Converged)
	}
}

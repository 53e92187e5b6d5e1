package viz

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/congestion.report/internal/traffic"
)

func sampleRun() *traffic.RunResult {
	evals := []*traffic.Evaluation{
		{Value: 1.2, Category: traffic.CategoryNone},
		{Value: 1.4, Category: traffic.CategoryNone},
		{Value: 8.1, Category: traffic.CategorySevere},
	}
	return &traffic.RunResult{
		Observations: make([]traffic.SensorObservation, 3),
		Evaluations:  evals,
		Assignments:  []int{1, 1, 2},
		Clusters: []traffic.ClusterStats{
			{ClusterID: 1, MemberIndices: []int{0, 1}, CongestionMean: 1.3},
			{ClusterID: 2, MemberIndices: []int{2}, CongestionMean: 8.1},
		},
		Linkage: []traffic.LinkageStep{
			{I: 0, J: 1, Distance: 0.2, Size: 2},
			{I: 2, J: 3, Distance: 7.1, Size: 3},
		},
		Timings: []traffic.OptimizationResult{
			{ClusterID: 1, GreenTime: 12.5, RedTime: 77.5, BaseGreen: 10.6},
			{ClusterID: 2, GreenTime: 48.0, RedTime: 42.0, BaseGreen: 10.9},
		},
	}
}

func TestHashParams(t *testing.T) {
	a1, err := HashParams(map[string]int{"x": 1})
	require.NoError(t, err)
	a2, err := HashParams(map[string]int{"x": 1})
	require.NoError(t, err)
	b, err := HashParams(map[string]int{"x": 2})
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.Len(t, a1, 64)
}

func TestHashParamsRejectsFuncValues(t *testing.T) {
	// Membership functions are not JSON-encodable; cache keys must be built
	// from serializable descriptors, never from FuzzyParams directly.
	_, err := HashParams(traffic.DefaultFuzzyParams())
	require.Error(t, err)

	_, err = HashParams(struct {
		Fn traffic.MembershipFunc
	}{traffic.Trapezoid(0, 0, 1, 2)})
	require.Error(t, err)
}

func TestMembershipPlotPNG(t *testing.T) {
	params := traffic.DefaultFuzzyParams()
	for _, v := range MembershipVariables {
		t.Run(string(v), func(t *testing.T) {
			png, err := MembershipPlotPNG(params, v)
			require.NoError(t, err)
			require.NotEmpty(t, png)
			assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "output is a PNG image")
		})
	}
}

func TestMembershipPlotUnknownVariable(t *testing.T) {
	_, err := MembershipPlotPNG(traffic.DefaultFuzzyParams(), MembershipVariable("weather"))
	require.Error(t, err)
}

func TestRenderClusterScatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderClusterScatter(&buf, sampleRun()))
	html := buf.String()
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "cluster 1")
	assert.Contains(t, html, "cluster 2")
}

func TestRenderTimingBars(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderTimingBars(&buf, sampleRun()))
	html := buf.String()
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "optimized green")
}

func TestRenderLinkageBars(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderLinkageBars(&buf, sampleRun(), 2.0))
	assert.Contains(t, buf.String(), "merge distance")
}

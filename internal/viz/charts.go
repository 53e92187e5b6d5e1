package viz

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/congestion.report/internal/traffic"
)

// HashParams returns a stable hex digest of v's JSON encoding, used as the
// chart-artifact cache key. Any change in the underlying inputs changes the
// digest, so cached artifacts can never be served for differing inputs.
func HashParams(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("viz: failed to hash params: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// RenderClusterScatter writes an HTML scatter chart of per-sensor congestion
// scores, one series per cluster.
func RenderClusterScatter(w io.Writer, res *traffic.RunResult) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Congestion by Sensor", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Congestion scores by cluster",
			Subtitle: fmt.Sprintf("sensors=%d clusters=%d", len(res.Observations), len(res.Clusters)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sensor", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "congestion", Min: 0, Max: traffic.MaxCongestion}),
	)

	for _, c := range res.Clusters {
		data := make([]opts.ScatterData, 0, len(c.MemberIndices))
		for _, idx := range c.MemberIndices {
			ev := res.Evaluations[idx]
			if ev == nil {
				continue
			}
			data = append(data, opts.ScatterData{Value: []interface{}{idx, ev.Value}})
		}
		scatter.AddSeries(fmt.Sprintf("cluster %d", c.ClusterID), data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	}

	return scatter.Render(w)
}

// RenderTimingBars writes an HTML bar chart comparing the closed-form base
// green estimate against the optimized green time per cluster.
func RenderTimingBars(w io.Writer, res *traffic.RunResult) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Signal Timings", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Green time per cluster", Subtitle: "base estimate vs optimized"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)

	labels := make([]string, 0, len(res.Timings))
	base := make([]opts.BarData, 0, len(res.Timings))
	green := make([]opts.BarData, 0, len(res.Timings))
	for _, t := range res.Timings {
		labels = append(labels, fmt.Sprintf("cluster %d", t.ClusterID))
		base = append(base, opts.BarData{Value: t.BaseGreen})
		green = append(green, opts.BarData{Value: t.GreenTime})
	}

	bar.SetXAxis(labels).
		AddSeries("base green", base).
		AddSeries("optimized green", green)

	return bar.Render(w)
}

// RenderLinkageBars writes an HTML bar chart of the clustering merge heights,
// a flat stand-in for the dendrogram: each bar is one merge step at its Ward
// distance, with the cut threshold visible as a marked line.
func RenderLinkageBars(w io.Writer, res *traffic.RunResult, threshold float64) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cluster Linkage", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Agglomerative merge distances",
			Subtitle: fmt.Sprintf("cut threshold = %.2f", threshold),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ward distance"}),
	)

	labels := make([]string, 0, len(res.Linkage))
	heights := make([]opts.BarData, 0, len(res.Linkage))
	for i, s := range res.Linkage {
		labels = append(labels, fmt.Sprintf("merge %d (%d+%d)", i+1, s.I, s.J))
		heights = append(heights, opts.BarData{Value: s.Distance})
	}

	bar.SetXAxis(labels).AddSeries("merge distance", heights)
	return bar.Render(w)
}

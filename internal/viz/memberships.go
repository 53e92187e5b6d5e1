// Package viz renders visualization artifacts from the analysis engines:
// membership-function plots via gonum/plot and interactive result charts via
// go-echarts. It reads engine state, never mutates it, and has no influence
// on the numeric pipeline.
package viz

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/congestion.report/internal/traffic"
)

// membershipSamples is the curve resolution for membership plots.
const membershipSamples = 400

var setColors = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}, // low / none
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}, // mid / mild
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}, // high / severe
}

// MembershipVariable names a plottable fuzzy variable.
type MembershipVariable string

const (
	VarVehicles   MembershipVariable = "vehicles"
	VarSpeed      MembershipVariable = "speed"
	VarDensity    MembershipVariable = "density"
	VarCongestion MembershipVariable = "congestion"
)

// MembershipVariables lists all plottable variables.
var MembershipVariables = []MembershipVariable{VarVehicles, VarSpeed, VarDensity, VarCongestion}

type curve struct {
	name string
	fn   traffic.MembershipFunc
}

func variableCurves(params traffic.FuzzyParams, v MembershipVariable) (curves []curve, xMax float64, title string, err error) {
	switch v {
	case VarVehicles:
		return []curve{
			{"low", params.Vehicles.Low},
			{"mid", params.Vehicles.Mid},
			{"high", params.Vehicles.High},
		}, traffic.MaxVehiclesPerMinute, "Vehicles per minute", nil
	case VarSpeed:
		return []curve{
			{"low", params.Speed.Low},
			{"mid", params.Speed.Mid},
			{"high", params.Speed.High},
		}, traffic.MaxSpeedKmh, "Average speed (km/h)", nil
	case VarDensity:
		return []curve{
			{"low", params.Density.Low},
			{"mid", params.Density.Mid},
			{"high", params.Density.High},
		}, traffic.MaxDensity, "Density (veh/km)", nil
	case VarCongestion:
		return []curve{
			{"none", params.Output.None},
			{"mild", params.Output.Mild},
			{"severe", params.Output.Severe},
		}, traffic.MaxCongestion, "Congestion level", nil
	default:
		return nil, 0, "", fmt.Errorf("viz: unknown membership variable %q", v)
	}
}

// MembershipPlotPNG renders the membership functions of one fuzzy variable to
// a PNG image.
func MembershipPlotPNG(params traffic.FuzzyParams, v MembershipVariable) ([]byte, error) {
	curves, xMax, title, err := variableCurves(params, v)
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = string(v)
	p.Y.Label.Text = "membership degree"
	p.Y.Min, p.Y.Max = 0, 1.05
	p.Legend.Top = true

	for ci, c := range curves {
		pts := make(plotter.XYs, membershipSamples+1)
		for i := 0; i <= membershipSamples; i++ {
			x := xMax * float64(i) / membershipSamples
			pts[i].X = x
			pts[i].Y = c.fn(x)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to build line for %q: %w", c.name, err)
		}
		line.Width = vg.Points(1.5)
		line.Color = setColors[ci%len(setColors)]
		p.Add(line)
		p.Legend.Add(c.name, line)
	}

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render membership plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package traffic

import (
	"math"
)

// Constants for fuzzy inference configuration
const (
	// DefaultResolution is the number of samples taken over the output
	// universe for centroid defuzzification. Coarse sampling quantises the
	// crisp score visibly; anything above ~500 samples is stable.
	DefaultResolution = 1001
)

// MembershipFunc maps a crisp value to a truth degree in [0,1]. Functions are
// total: values outside the nominal universe still produce a degree, so
// out-of-domain inputs degrade gracefully instead of failing.
type MembershipFunc func(x float64) float64

// Trapezoid returns a trapezoidal membership function with feet at a and d
// and shoulders at b and c. Degenerate edges (a==b or c==d) produce a crisp
// step, matching the conventional trapmf definition.
func Trapezoid(a, b, c, d float64) MembershipFunc {
	return func(x float64) float64 {
		switch {
		case x < a || x > d:
			return 0
		case x >= b && x <= c:
			return 1
		case x < b:
			if a == b {
				return 1
			}
			return (x - a) / (b - a)
		default:
			if c == d {
				return 1
			}
			return (d - x) / (d - c)
		}
	}
}

// Triangle returns a triangular membership function with feet at a and c and
// peak at b.
func Triangle(a, b, c float64) MembershipFunc {
	return Trapezoid(a, b, b, c)
}

// Gaussian returns a Gaussian membership function centred at mu.
func Gaussian(mu, sigma float64) MembershipFunc {
	return func(x float64) float64 {
		d := x - mu
		return math.Exp(-d * d / (2 * sigma * sigma))
	}
}

// FuzzySets groups the three linguistic sets of one input variable.
type FuzzySets struct {
	Low  MembershipFunc
	Mid  MembershipFunc
	High MembershipFunc
}

// level selects one set out of a FuzzySets triple.
type level int

const (
	levelLow level = iota
	levelMid
	levelHigh
)

func (s FuzzySets) at(l level, x float64) float64 {
	switch l {
	case levelLow:
		return s.Low(x)
	case levelMid:
		return s.Mid(x)
	default:
		return s.High(x)
	}
}

// OutputSets groups the congestion output sets.
type OutputSets struct {
	None   MembershipFunc
	Mild   MembershipFunc
	Severe MembershipFunc
}

// At returns the membership degree of category c at crisp value x.
func (s OutputSets) At(c Category, x float64) float64 {
	switch c {
	case CategoryNone:
		return s.None(x)
	case CategoryMild:
		return s.Mild(x)
	default:
		return s.Severe(x)
	}
}

// FuzzyParams is the immutable configuration of a classifier Engine:
// membership functions for the three inputs and the output, the output
// universe, and the defuzzification resolution. Construct with
// DefaultFuzzyParams and adjust before building the Engine; the Engine never
// mutates it, so one Params value can back many concurrent engines.
type FuzzyParams struct {
	Vehicles FuzzySets
	Speed    FuzzySets
	Density  FuzzySets
	Output   OutputSets

	// Output universe bounds.
	OutputMin float64
	OutputMax float64

	// Resolution is the sample count for centroid defuzzification.
	Resolution int
}

// DefaultFuzzyParams returns the canonical membership function definitions
// for the congestion classifier.
func DefaultFuzzyParams() FuzzyParams {
	return FuzzyParams{
		Vehicles: FuzzySets{
			Low:  Trapezoid(0, 0, 15, 25),
			Mid:  Gaussian(30, 5),
			High: Trapezoid(35, 40, 50, 50),
		},
		Speed: FuzzySets{
			Low:  Trapezoid(0, 0, 20, 30),
			Mid:  Gaussian(35, 5),
			High: Trapezoid(40, 50, 60, 60),
		},
		Density: FuzzySets{
			Low:  Trapezoid(0, 0, 50, 80),
			Mid:  Gaussian(100, 15),
			High: Trapezoid(120, 130, 150, 150),
		},
		Output: OutputSets{
			None:   Trapezoid(0, 0, 2, 4),
			Mild:   Triangle(3, 5, 7),
			Severe: Trapezoid(6, 8, 10, 10),
		},
		OutputMin:  0,
		OutputMax:  MaxCongestion,
		Resolution: DefaultResolution,
	}
}

// Engine is a Mamdani fuzzy inference engine for traffic congestion. It is
// stateless apart from its immutable parameters: Evaluate is a pure function
// and safe for concurrent callers.
type Engine struct {
	params FuzzyParams
	rules  []rule
}

// NewEngine builds a classifier from params. A zero or negative resolution
// falls back to DefaultResolution.
func NewEngine(params FuzzyParams) *Engine {
	if params.Resolution <= 0 {
		params.Resolution = DefaultResolution
	}
	return &Engine{params: params, rules: ruleTable}
}

// Params returns the engine's configuration. Visualization collaborators read
// membership definitions from here; they must not be mutated.
func (e *Engine) Params() FuzzyParams { return e.params }

// Evaluate runs Mamdani inference on one observation: rule antecedents
// combine by min, rules sharing an output label aggregate by max, and the
// aggregated output set defuzzifies by centroid. The category is derived from
// the membership degrees re-evaluated at the crisp score, never from raw rule
// firing strengths; degree ties resolve to the most severe category.
func (e *Engine) Evaluate(obs SensorObservation) (Evaluation, error) {
	// Firing strength per output label: max over rules of min over
	// antecedents.
	var strength [len(ruleOutputs)]float64
	for _, r := range e.rules {
		s := e.params.Vehicles.at(r.vehicles, obs.VehiclesPerMinute)
		if v := e.params.Speed.at(r.speed, obs.AvgSpeedKmh); v < s {
			s = v
		}
		if v := e.params.Density.at(r.density, obs.Density); v < s {
			s = v
		}
		if s > strength[r.out] {
			strength[r.out] = s
		}
	}

	if strength[0] == 0 && strength[1] == 0 && strength[2] == 0 {
		return Evaluation{}, &InferenceError{
			VPM:     obs.VehiclesPerMinute,
			Speed:   obs.AvgSpeedKmh,
			Density: obs.Density,
		}
	}

	value := e.centroid(strength)

	membership := make(map[Category]float64, len(Categories))
	best := Categories[0]
	bestDegree := math.Inf(-1)
	for _, c := range Categories {
		d := e.params.Output.At(c, value)
		membership[c] = round2(d)
		// >= so later (more severe) categories win ties.
		if d >= bestDegree {
			bestDegree = d
			best = c
		}
	}

	return Evaluation{
		Value:      round2(value),
		Category:   best,
		Membership: membership,
	}, nil
}

// Categorize maps a crisp congestion score to its linguistic category by
// evaluating the output membership functions at the score. Degree ties
// resolve to the most severe category, identically to Evaluate.
func (e *Engine) Categorize(value float64) Category {
	best := Categories[0]
	bestDegree := math.Inf(-1)
	for _, c := range Categories {
		if d := e.params.Output.At(c, value); d >= bestDegree {
			bestDegree = d
			best = c
		}
	}
	return best
}

// centroid computes the centre of mass of the aggregated output set, sampled
// uniformly over the output universe.
func (e *Engine) centroid(strength [len(ruleOutputs)]float64) float64 {
	n := e.params.Resolution
	step := (e.params.OutputMax - e.params.OutputMin) / float64(n-1)

	var num, den float64
	for i := 0; i < n; i++ {
		x := e.params.OutputMin + float64(i)*step
		mu := 0.0
		for out, s := range strength {
			if s == 0 {
				continue
			}
			m := e.params.Output.At(ruleOutputs[out], x)
			if m > s {
				m = s // clip at firing strength
			}
			if m > mu {
				mu = m
			}
		}
		num += x * mu
		den += mu
	}
	return num / den
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

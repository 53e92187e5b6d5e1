package traffic

// Green-time seed formula weights. The closed-form estimate is both the
// swarm's initialization centre and a baseline reference in reported results.
const (
	// Alpha weighs the normalised density term.
	Alpha = 0.4
	// Beta weighs the normalised (inverse) speed term.
	Beta = 0.4
	// Gamma weighs the normalised vehicle-rate term.
	Gamma = 0.2

	// DefaultTMin is the minimum allowable green time in seconds.
	DefaultTMin = 10.0
	// DefaultCycleTime is the fixed signal cycle length in seconds.
	DefaultCycleTime = 90.0
	// greenUpperMargin keeps at least this much of the cycle for the red
	// phase: green never exceeds cycle − greenUpperMargin.
	greenUpperMargin = 20.0
)

// BaseGreenTime computes the closed-form green-time seed for a cluster:
// tMin plus weighted normalised contributions of density, speed deficit and
// vehicle rate.
func BaseGreenTime(c ClusterStats, tMin float64) float64 {
	return tMin +
		Alpha*(c.DensityMean/MaxDensity) +
		Beta*(1-c.SpeedMean/MaxSpeedKmh) +
		Gamma*(c.VPMMean/MaxVehiclesPerMinute)
}

// AdjustTimings simulates a cluster's traffic metrics under a candidate green
// time: throughput scales with the green share of the cycle, speed rises one
// percent per second of green above tMin, and density scales with the red
// share.
func AdjustTimings(c ClusterStats, green, cycle, tMin float64) (vpm, speed, density float64) {
	red := cycle - green
	vpm = c.VPMMean * (green / cycle)
	speed = c.SpeedMean * (1 + 0.01*(green-tMin))
	density = c.DensityMean * (red / cycle)
	return vpm, speed, density
}

// FitnessFunc scores one candidate green time; lower is better.
type FitnessFunc func(green float64) (float64, error)

// ClusterFitness builds the optimization objective for one cluster: adjust
// the cluster's mean metrics for the candidate timing and feed them through
// the fuzzy classifier, returning its crisp congestion score.
func ClusterFitness(engine *Engine, c ClusterStats, cycle, tMin float64) FitnessFunc {
	return func(green float64) (float64, error) {
		vpm, speed, density := AdjustTimings(c, green, cycle, tMin)
		ev, err := engine.Evaluate(SensorObservation{
			VehiclesPerMinute: vpm,
			AvgSpeedKmh:       speed,
			Density:           density,
		})
		if err != nil {
			return 0, err
		}
		return ev.Value, nil
	}
}

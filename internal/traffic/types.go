// Package traffic implements the congestion analysis pipeline: fuzzy
// congestion classification of sensor observations, hierarchical grouping of
// sensors by congestion score, and PSO-based optimization of traffic-signal
// green times per group.
package traffic

import "fmt"

// Input universe maxima. Membership functions are defined over these ranges
// and the green-time seed formula normalises against them.
const (
	MaxVehiclesPerMinute = 50.0
	MaxSpeedKmh          = 60.0
	MaxDensity           = 150.0
	MaxCongestion        = 10.0
)

// Category is the linguistic congestion label produced by the classifier.
type Category string

const (
	CategoryNone   Category = "none"
	CategoryMild   Category = "mild"
	CategorySevere Category = "severe"
)

// Categories lists all output categories in severity order. The ordering is
// load-bearing: ties in membership degree or cluster-mode frequency resolve
// to the most severe candidate, so severity rank is the index in this slice.
var Categories = []Category{CategoryNone, CategoryMild, CategorySevere}

// severityRank returns the position of c in the severity ordering, or -1 for
// labels outside the output vocabulary (e.g. ground-truth "unknown").
func severityRank(c Category) int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return -1
}

// SensorObservation is one sensor's raw metrics for a single evaluation
// cycle. Expected carries an optional ground-truth label and is never read by
// the inference engine itself.
type SensorObservation struct {
	VehiclesPerMinute float64 `json:"vpm"`
	AvgSpeedKmh       float64 `json:"spd"`
	Density           float64 `json:"den"`
	Expected          string  `json:"expected,omitempty"`
}

// Evaluation is the classifier output for one observation.
type Evaluation struct {
	Value      float64              `json:"value"`    // crisp congestion score in [0,10]
	Category   Category             `json:"category"` // argmax of Membership at Value
	Membership map[Category]float64 `json:"membership"`
}

// ClusterStats summarises one cluster of behaviourally similar sensors.
// MemberIndices index into the observation batch; across all clusters they
// form an exact partition of the batch.
type ClusterStats struct {
	ClusterID      int      `json:"cluster"`
	MemberIndices  []int    `json:"members"`
	ExpectedMode   string   `json:"expected_mode"`
	PredictedMode  Category `json:"predicted_mode"`
	CongestionMean float64  `json:"congestion_mean"`
	CongestionStd  float64  `json:"congestion_std"` // population std (ddof=0)
	VPMMean        float64  `json:"vpm_mean"`
	SpeedMean      float64  `json:"speed_mean"`
	DensityMean    float64  `json:"density_mean"`
}

// LinkageStep is one merge in the agglomerative clustering tree, in the
// conventional linkage-matrix form: clusters I and J (leaves are 0..n-1,
// merged clusters n, n+1, ... in merge order) joined at the given Ward
// distance, producing a cluster of Size members. Exposed for visualization
// only; flat cluster assignment derives from cutting these steps at the
// dissimilarity threshold.
type LinkageStep struct {
	I        int     `json:"i"`
	J        int     `json:"j"`
	Distance float64 `json:"distance"`
	Size     int     `json:"size"`
}

// OptimizationResult is the recommended signal timing for one cluster,
// together with the congestion metrics re-simulated under that timing.
type OptimizationResult struct {
	ClusterID           int      `json:"cluster"`
	GreenTime           float64  `json:"green"`
	RedTime             float64  `json:"red"`
	CycleTime           float64  `json:"cycle"`
	BaseGreen           float64  `json:"base_green"`
	OptimizedCongestion float64  `json:"optimized_congestion"`
	OptimizedCategory   Category `json:"optimized_category"`
	ImprovementPct      float64  `json:"improvement_pct"`
	OptimizedVPM        float64  `json:"optimized_vpm"`
	OptimizedSpeed      float64  `json:"optimized_speed"`
	OptimizedDensity    float64  `json:"optimized_density"`
	Iterations          int      `json:"iterations"`
	Restarts            int      `json:"restarts"`
	Converged           bool     `json:"converged"`
}

// InferenceError reports that no fuzzy rule attained nonzero activation for
// an input triple, leaving the centroid defuzzification undefined.
type InferenceError struct {
	VPM, Speed, Density float64
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("traffic: no rule activation for vpm=%.2f speed=%.2f density=%.2f",
		e.VPM, e.Speed, e.Density)
}

// InvalidInputError reports a structurally invalid batch handed to the
// clustering engine.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "traffic: invalid input: " + e.Reason
}

// ClusterOptimizationError wraps a failure inside one cluster's optimization.
// The failure is fatal to that cluster only; sibling clusters proceed.
type ClusterOptimizationError struct {
	ClusterID int
	Err       error
}

func (e *ClusterOptimizationError) Error() string {
	return fmt.Sprintf("traffic: optimization of cluster %d failed: %v", e.ClusterID, e.Err)
}

func (e *ClusterOptimizationError) Unwrap() error { return e.Err }

package traffic

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/banshee-data/congestion.report/internal/monitoring"
)

// PipelineParams selects pipeline-level behaviour.
type PipelineParams struct {
	Cluster ClusterParams
	PSO     PSOParams
	// Baseline selects the baseline swarm variant (uniform init, fixed
	// iteration budget) instead of the seeded variant with stagnation
	// control.
	Baseline bool
	// ClusterWorkers bounds how many cluster optimizations run
	// concurrently. Zero means one worker per cluster.
	ClusterWorkers int
}

// DefaultPipelineParams returns the pipeline defaults.
func DefaultPipelineParams() PipelineParams {
	return PipelineParams{
		Cluster: DefaultClusterParams(),
		PSO:     DefaultPSOParams(),
	}
}

// Pipeline wires the three analysis stages together: classify every
// observation, cluster the batch by congestion score, then optimize signal
// timing per cluster. It holds no mutable state and is safe for concurrent
// runs.
type Pipeline struct {
	engine    *Engine
	optimizer *Optimizer
	params    PipelineParams
}

// NewPipeline builds a pipeline around one classifier engine.
func NewPipeline(engine *Engine, params PipelineParams) *Pipeline {
	if params.Cluster.Dissimilarity <= 0 {
		params.Cluster = DefaultClusterParams()
	}
	return &Pipeline{
		engine:    engine,
		optimizer: NewOptimizer(engine, params.PSO),
		params:    params,
	}
}

// Engine returns the classifier the pipeline evaluates with.
func (p *Pipeline) Engine() *Engine { return p.engine }

// SensorFailure records a classification failure for one sensor. The sensor
// is excluded from clustering; the rest of the batch proceeds.
type SensorFailure struct {
	SensorIndex int    `json:"sensor"`
	Error       string `json:"error"`
}

// ClusterFailure records an optimization failure for one cluster. Sibling
// clusters are unaffected.
type ClusterFailure struct {
	ClusterID int    `json:"cluster"`
	Error     string `json:"error"`
}

// RunResult is the complete output of one pipeline run. Assignments is
// indexed like the input batch; a zero entry marks a sensor whose
// classification failed (cluster IDs are 1-based).
type RunResult struct {
	Observations []SensorObservation  `json:"observations"`
	Evaluations  []*Evaluation        `json:"evaluations"`
	Assignments  []int                `json:"assignments"`
	Clusters     []ClusterStats       `json:"clusters"`
	Linkage      []LinkageStep        `json:"linkage,omitempty"`
	Timings      []OptimizationResult `json:"timings"`

	SensorFailures  []SensorFailure  `json:"sensor_failures,omitempty"`
	ClusterFailures []ClusterFailure `json:"cluster_failures,omitempty"`
}

// Run executes the full pipeline over a batch of observations. Per-sensor
// classification failures and per-cluster optimization failures are isolated
// and reported in the result; Run itself fails only when the batch is
// structurally unusable (empty, or no sensor classified) or the context is
// cancelled.
func (p *Pipeline) Run(ctx context.Context, obs []SensorObservation) (*RunResult, error) {
	if len(obs) == 0 {
		return nil, &InvalidInputError{Reason: "zero sensors"}
	}

	res := &RunResult{
		Observations: obs,
		Evaluations:  make([]*Evaluation, len(obs)),
		Assignments:  make([]int, len(obs)),
	}

	// Stage 1: classify. A failed evaluation is fatal to that sensor only.
	valid := make([]int, 0, len(obs))
	for i, o := range obs {
		ev, err := p.engine.Evaluate(o)
		if err != nil {
			monitoring.Logf("classification failed for sensor %d: %v", i, err)
			res.SensorFailures = append(res.SensorFailures, SensorFailure{
				SensorIndex: i,
				Error:       err.Error(),
			})
			continue
		}
		evCopy := ev
		res.Evaluations[i] = &evCopy
		valid = append(valid, i)
	}
	if len(valid) == 0 {
		return nil, &InvalidInputError{Reason: "no sensor classified successfully"}
	}

	// Stage 2: cluster the classified subset, then map member indices back
	// to batch positions.
	subObs := make([]SensorObservation, len(valid))
	subEvals := make([]Evaluation, len(valid))
	for k, i := range valid {
		subObs[k] = obs[i]
		subEvals[k] = *res.Evaluations[i]
	}
	clustering, err := ClusterSensors(subObs, subEvals, p.params.Cluster)
	if err != nil {
		return nil, err
	}
	for k, id := range clustering.Assignments {
		res.Assignments[valid[k]] = id
	}
	res.Clusters = clustering.Clusters
	for ci := range res.Clusters {
		members := res.Clusters[ci].MemberIndices
		for mi, m := range members {
			members[mi] = valid[m]
		}
	}
	res.Linkage = clustering.Linkage

	// Stage 3: optimize each cluster independently. Failures carry the
	// cluster ID and never abort siblings.
	timings, failures := p.optimizeClusters(ctx, res.Clusters)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Timings = timings
	res.ClusterFailures = failures
	return res, nil
}

// optimizeClusters fans cluster optimizations out over a bounded worker pool
// and collects results ordered by cluster ID.
func (p *Pipeline) optimizeClusters(ctx context.Context, clusters []ClusterStats) ([]OptimizationResult, []ClusterFailure) {
	type slot struct {
		result *OptimizationResult
		err    error
	}
	slots := make([]slot, len(clusters))

	workers := p.params.ClusterWorkers
	if workers <= 0 || workers > len(clusters) {
		workers = len(clusters)
	}
	next := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				if ctx.Err() != nil {
					slots[i].err = ctx.Err()
					continue
				}
				var r OptimizationResult
				var err error
				if p.params.Baseline {
					r, err = p.optimizer.OptimizeBaseline(ctx, clusters[i])
				} else {
					r, err = p.optimizer.Optimize(ctx, clusters[i])
				}
				if err != nil {
					slots[i].err = err
					continue
				}
				slots[i].result = &r
			}
		}()
	}
	for i := range clusters {
		next <- i
	}
	close(next)
	wg.Wait()

	timings := make([]OptimizationResult, 0, len(clusters))
	var failures []ClusterFailure
	for i, s := range slots {
		switch {
		case s.result != nil:
			timings = append(timings, *s.result)
		case s.err != nil && !errors.Is(s.err, context.Canceled):
			monitoring.Logf("cluster %d optimization failed: %v", clusters[i].ClusterID, s.err)
			failures = append(failures, ClusterFailure{
				ClusterID: clusters[i].ClusterID,
				Error:     s.err.Error(),
			})
		}
	}
	sort.Slice(timings, func(a, b int) bool { return timings[a].ClusterID < timings[b].ClusterID })
	return timings, failures
}

// SensorRow is one consolidated per-sensor output row: the observation, its
// classification, its cluster, and the cluster's recommended timing.
type SensorRow struct {
	Sensor              int      `json:"sensor"`
	VPM                 float64  `json:"vpm"`
	Speed               float64  `json:"spd"`
	Density             float64  `json:"den"`
	Expected            string   `json:"expected,omitempty"`
	Predicted           Category `json:"predicted,omitempty"`
	Congestion          float64  `json:"congestion"`
	Cluster             int      `json:"cluster"`
	GreenTime           float64  `json:"green,omitempty"`
	RedTime             float64  `json:"red,omitempty"`
	OptimizedCongestion float64  `json:"optimized_congestion,omitempty"`
	OptimizedCategory   Category `json:"optimized_category,omitempty"`
	Error               string   `json:"error,omitempty"`
}

// SensorRows consolidates the run into one row per input sensor, joining each
// sensor with its cluster's statistics and timing recommendation.
func (r *RunResult) SensorRows() []SensorRow {
	byCluster := make(map[int]OptimizationResult, len(r.Timings))
	for _, t := range r.Timings {
		byCluster[t.ClusterID] = t
	}
	failed := make(map[int]string, len(r.SensorFailures))
	for _, f := range r.SensorFailures {
		failed[f.SensorIndex] = f.Error
	}

	rows := make([]SensorRow, len(r.Observations))
	for i, o := range r.Observations {
		row := SensorRow{
			Sensor:   i,
			VPM:      o.VehiclesPerMinute,
			Speed:    o.AvgSpeedKmh,
			Density:  o.Density,
			Expected: o.Expected,
			Cluster:  r.Assignments[i],
		}
		if ev := r.Evaluations[i]; ev != nil {
			row.Predicted = ev.Category
			row.Congestion = ev.Value
		}
		if t, ok := byCluster[r.Assignments[i]]; ok {
			row.GreenTime = t.GreenTime
			row.RedTime = t.RedTime
			row.OptimizedCongestion = t.OptimizedCongestion
			row.OptimizedCategory = t.OptimizedCategory
		}
		if msg, ok := failed[i]; ok {
			row.Error = msg
		}
		rows[i] = row
	}
	return rows
}

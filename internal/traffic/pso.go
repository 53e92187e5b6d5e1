package traffic

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Constants for swarm optimization configuration
const (
	// DefaultParticles is the swarm size.
	DefaultParticles = 30
	// DefaultMaxIterations is the iteration budget per cluster.
	DefaultMaxIterations = 100
	// DefaultInertia damps the carry-over of particle velocity.
	DefaultInertia = 0.8
	// DefaultCognitive weighs attraction to a particle's personal best.
	DefaultCognitive = 1.5
	// DefaultSocial weighs attraction to the swarm's global best.
	DefaultSocial = 1.5
	// DefaultPatience is the stagnation streak length that triggers the
	// restart-or-stop decision.
	DefaultPatience = 10
	// DefaultImprovementThreshold is the minimum change in global best
	// score that counts as progress.
	DefaultImprovementThreshold = 1e-3
	// DefaultInitSigma is the spread of the seeded initial swarm around the
	// base green time.
	DefaultInitSigma = 5.0
	// DefaultRestartSigma is the wider spread used when re-diversifying a
	// stagnant swarm.
	DefaultRestartSigma = 10.0
	// DefaultSevereThreshold separates an acceptable converged score from
	// one still in the severe range; stagnating above it restarts, at or
	// below it stops.
	DefaultSevereThreshold = 5.0
)

// PSOParams contains the hyperparameters of the particle swarm optimizer.
// A zero Workers uses one worker per CPU; a zero Seed draws a random seed.
type PSOParams struct {
	Particles            int     `json:"particles"`
	MaxIterations        int     `json:"max_iterations"`
	Inertia              float64 `json:"inertia"`
	Cognitive            float64 `json:"cognitive"`
	Social               float64 `json:"social"`
	Patience             int     `json:"patience"`
	ImprovementThreshold float64 `json:"improvement_threshold"`
	InitSigma            float64 `json:"init_sigma"`
	RestartSigma         float64 `json:"restart_sigma"`
	SevereThreshold      float64 `json:"severe_threshold"`
	CycleTime            float64 `json:"cycle_time"`
	TMin                 float64 `json:"t_min"`
	Workers              int     `json:"workers,omitempty"`
	Seed                 uint64  `json:"seed,omitempty"`
}

// DefaultPSOParams returns the optimizer defaults used by the pipeline.
func DefaultPSOParams() PSOParams {
	return PSOParams{
		Particles:            DefaultParticles,
		MaxIterations:        DefaultMaxIterations,
		Inertia:              DefaultInertia,
		Cognitive:            DefaultCognitive,
		Social:               DefaultSocial,
		Patience:             DefaultPatience,
		ImprovementThreshold: DefaultImprovementThreshold,
		InitSigma:            DefaultInitSigma,
		RestartSigma:         DefaultRestartSigma,
		SevereThreshold:      DefaultSevereThreshold,
		CycleTime:            DefaultCycleTime,
		TMin:                 DefaultTMin,
	}
}

// greenBounds returns the hard clip range for green time. Positions never
// leave it, not even transiently.
func (p PSOParams) greenBounds() (lo, hi float64) {
	return p.TMin, p.CycleTime - greenUpperMargin
}

// Optimizer searches green-time values that minimise predicted congestion for
// a cluster, using the fuzzy classifier as its fitness oracle. Optimizations
// of distinct clusters share no mutable state and may run concurrently.
type Optimizer struct {
	engine *Engine
	params PSOParams
}

// NewOptimizer builds an optimizer around the given classifier. Zero-valued
// hyperparameters are filled from the defaults.
func NewOptimizer(engine *Engine, params PSOParams) *Optimizer {
	d := DefaultPSOParams()
	if params.Particles <= 0 {
		params.Particles = d.Particles
	}
	if params.MaxIterations <= 0 {
		params.MaxIterations = d.MaxIterations
	}
	if params.Patience <= 0 {
		params.Patience = d.Patience
	}
	if params.ImprovementThreshold <= 0 {
		params.ImprovementThreshold = d.ImprovementThreshold
	}
	if params.InitSigma <= 0 {
		params.InitSigma = d.InitSigma
	}
	if params.RestartSigma <= 0 {
		params.RestartSigma = d.RestartSigma
	}
	if params.SevereThreshold <= 0 {
		params.SevereThreshold = d.SevereThreshold
	}
	if params.CycleTime <= 0 {
		params.CycleTime = d.CycleTime
	}
	if params.TMin <= 0 {
		params.TMin = d.TMin
	}
	if params.Workers <= 0 {
		params.Workers = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{engine: engine, params: params}
}

// Params returns the optimizer's effective hyperparameters.
func (o *Optimizer) Params() PSOParams { return o.params }

// newRand derives an independent random source per cluster so concurrent
// cluster optimizations never contend on a shared generator.
func (o *Optimizer) newRand(clusterID int) *rand.Rand {
	seed := o.params.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, uint64(clusterID)+1))
}

// swarm is the ephemeral particle state of one cluster's optimization. It is
// created at optimization start and discarded at its end; nothing persists
// across runs.
type swarm struct {
	positions     []float64
	velocities    []float64
	bestPositions []float64 // personal bests
	bestScores    []float64
	bestIdx       int // index of the global best among personal bests
}

func (s *swarm) globalBest() (pos, score float64) {
	return s.bestPositions[s.bestIdx], s.bestScores[s.bestIdx]
}

// step applies the standard velocity and position update to every particle,
// with fresh uniform r1/r2 draws per particle and hard clipping to bounds.
func (s *swarm) step(p PSOParams, rng *rand.Rand) {
	lo, hi := p.greenBounds()
	gBest, _ := s.globalBest()
	for i := range s.positions {
		r1, r2 := rng.Float64(), rng.Float64()
		s.velocities[i] = p.Inertia*s.velocities[i] +
			p.Cognitive*r1*(s.bestPositions[i]-s.positions[i]) +
			p.Social*r2*(gBest-s.positions[i])
		s.positions[i] = clip(s.positions[i]+s.velocities[i], lo, hi)
	}
}

// absorb folds a freshly evaluated score vector into the personal and global
// bests. It runs after the evaluation barrier, so it always sees a complete,
// consistent sweep.
func (s *swarm) absorb(scores []float64) {
	for i, sc := range scores {
		if sc < s.bestScores[i] {
			s.bestScores[i] = sc
			s.bestPositions[i] = s.positions[i]
		}
	}
	s.bestIdx = floats.MinIdx(s.bestScores)
}

// OptimizeBaseline runs the baseline swarm variant: particles initialise
// uniformly over the green-time bounds, fitness is evaluated sequentially,
// and the loop always runs the full iteration budget.
func (o *Optimizer) OptimizeBaseline(ctx context.Context, c ClusterStats) (OptimizationResult, error) {
	p := o.params
	rng := o.newRand(c.ClusterID)
	fit := ClusterFitness(o.engine, c, p.CycleTime, p.TMin)
	baseGreen := BaseGreenTime(c, p.TMin)

	lo, hi := p.greenBounds()
	sw := newSwarm(p.Particles)
	for i := range sw.positions {
		sw.positions[i] = lo + rng.Float64()*(hi-lo)
	}
	if err := o.seedBests(sw, fit, c.ClusterID, false); err != nil {
		return OptimizationResult{}, err
	}

	scores := make([]float64, p.Particles)
	for iter := 0; iter < p.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return OptimizationResult{}, &ClusterOptimizationError{ClusterID: c.ClusterID, Err: err}
		}
		sw.step(p, rng)
		for i, pos := range sw.positions {
			sc, err := fit(pos)
			if err != nil {
				return OptimizationResult{}, &ClusterOptimizationError{ClusterID: c.ClusterID, Err: err}
			}
			scores[i] = sc
		}
		sw.absorb(scores)
	}

	return o.finalize(c, baseGreen, sw, p.MaxIterations, 0, false), nil
}

// Optimize runs the seeded swarm variant: particles initialise from a normal
// distribution centred on the base green estimate, fitness evaluation is
// spread over a stateless worker pool, and a stagnation state machine either
// re-diversifies part of the swarm or terminates early.
//
// The per-iteration states are: ITERATING while the global best keeps
// improving; STAGNANT once the no-improvement streak reaches patience;
// STAGNANT resolves to a partial RESTART when the best score is still in the
// severe range, or to DONE when it is acceptable. Exhausting the iteration
// budget is also DONE.
func (o *Optimizer) Optimize(ctx context.Context, c ClusterStats) (OptimizationResult, error) {
	p := o.params
	rng := o.newRand(c.ClusterID)
	fit := ClusterFitness(o.engine, c, p.CycleTime, p.TMin)
	baseGreen := BaseGreenTime(c, p.TMin)

	lo, hi := p.greenBounds()
	seedDist := distuv.Normal{Mu: baseGreen, Sigma: p.InitSigma, Src: rng}
	sw := newSwarm(p.Particles)
	for i := range sw.positions {
		sw.positions[i] = clip(seedDist.Rand(), lo, hi)
	}
	if err := o.seedBests(sw, fit, c.ClusterID, true); err != nil {
		return OptimizationResult{}, err
	}

	restartDist := distuv.Normal{Mu: baseGreen, Sigma: p.RestartSigma, Src: rng}
	_, lastBest := sw.globalBest()
	streak := 0
	restarts := 0
	converged := false
	iters := 0

	for iter := 0; iter < p.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return OptimizationResult{}, &ClusterOptimizationError{ClusterID: c.ClusterID, Err: err}
		}
		iters = iter + 1

		sw.step(p, rng)
		scores, err := o.evaluateSwarm(sw.positions, fit)
		if err != nil {
			return OptimizationResult{}, &ClusterOptimizationError{ClusterID: c.ClusterID, Err: err}
		}
		sw.absorb(scores)

		_, best := sw.globalBest()
		if delta := lastBest - best; delta < p.ImprovementThreshold && delta > -p.ImprovementThreshold {
			streak++
		} else {
			streak = 0
		}
		lastBest = best

		if streak < p.Patience {
			continue
		}
		// Stagnant: decide between a partial restart and early termination.
		if best > p.SevereThreshold {
			for _, idx := range rng.Perm(p.Particles)[:p.Particles/5] {
				sw.positions[idx] = clip(restartDist.Rand(), lo, hi)
				sw.velocities[idx] = 0
			}
			streak = 0
			restarts++
			continue
		}
		converged = true
		break
	}

	return o.finalize(c, baseGreen, sw, iters, restarts, converged), nil
}

func newSwarm(n int) *swarm {
	return &swarm{
		positions:     make([]float64, n),
		velocities:    make([]float64, n),
		bestPositions: make([]float64, n),
		bestScores:    make([]float64, n),
	}
}

// seedBests evaluates the initial swarm and installs the starting personal
// and global bests.
func (o *Optimizer) seedBests(sw *swarm, fit FitnessFunc, clusterID int, parallel bool) error {
	var scores []float64
	var err error
	if parallel {
		scores, err = o.evaluateSwarm(sw.positions, fit)
	} else {
		scores = make([]float64, len(sw.positions))
		for i, pos := range sw.positions {
			scores[i], err = fit(pos)
			if err != nil {
				break
			}
		}
	}
	if err != nil {
		return &ClusterOptimizationError{ClusterID: clusterID, Err: err}
	}
	copy(sw.bestPositions, sw.positions)
	copy(sw.bestScores, scores)
	sw.bestIdx = floats.MinIdx(sw.bestScores)
	return nil
}

// evaluateSwarm maps positions to fitness scores over a stateless worker
// pool. Workers share no accumulator: each writes only its own index, and the
// WaitGroup provides the barrier before best-score bookkeeping runs.
func (o *Optimizer) evaluateSwarm(positions []float64, fit FitnessFunc) ([]float64, error) {
	workers := o.params.Workers
	if workers > len(positions) {
		workers = len(positions)
	}

	scores := make([]float64, len(positions))
	errs := make([]error, len(positions))
	next := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				scores[i], errs[i] = fit(positions[i])
			}
		}()
	}
	for i := range positions {
		next <- i
	}
	close(next)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return scores, nil
}

// finalize assembles the cluster's timing recommendation from the swarm's
// global best, re-simulating the cluster metrics under the chosen timing.
func (o *Optimizer) finalize(c ClusterStats, baseGreen float64, sw *swarm, iters, restarts int, converged bool) OptimizationResult {
	p := o.params
	rawGreen, best := sw.globalBest()
	vpm, speed, density := AdjustTimings(c, rawGreen, p.CycleTime, p.TMin)

	// Round green first and derive red from the rounded value so the
	// green + red = cycle identity holds exactly in reported output.
	green := round2(rawGreen)

	return OptimizationResult{
		ClusterID:           c.ClusterID,
		GreenTime:           green,
		RedTime:             p.CycleTime - green,
		CycleTime:           p.CycleTime,
		BaseGreen:           round2(baseGreen),
		OptimizedCongestion: round2(best),
		OptimizedCategory:   o.engine.Categorize(best),
		ImprovementPct:      round2((c.CongestionMean - best) * 10),
		OptimizedVPM:        round2(vpm),
		OptimizedSpeed:      round2(speed),
		OptimizedDensity:    round2(density),
		Iterations:          iters,
		Restarts:            restarts,
		Converged:           converged,
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

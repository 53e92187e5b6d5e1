package traffic

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Constants for clustering configuration
const (
	// DefaultDissimilarity is the Ward distance at which the dendrogram is
	// cut to form flat clusters.
	DefaultDissimilarity = 2.0
)

// ClusterParams contains parameters for the hierarchical clustering stage.
type ClusterParams struct {
	// Dissimilarity is the dendrogram cut threshold ("distance" criterion):
	// merges at or below it are applied, merges above it are not.
	Dissimilarity float64
}

// DefaultClusterParams returns the clustering defaults used by the pipeline.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{Dissimilarity: DefaultDissimilarity}
}

// Clustering is the output of the sensor clustering engine: a flat cluster
// assignment per sensor, per-cluster statistics, and the full merge tree for
// visualization collaborators.
type Clustering struct {
	// Assignments holds one cluster ID per input observation.
	Assignments []int
	Clusters    []ClusterStats
	Linkage     []LinkageStep
}

// ClusterSensors groups sensors by congestion-score similarity using 1-D
// agglomerative hierarchical clustering with Ward linkage over Euclidean
// distances, then aggregates per-cluster statistics from the raw metrics.
//
// A single-sensor batch skips clustering entirely and yields one cluster with
// zero spread and expected mode "unknown" (ground truth is unknowable from
// one sample). An empty batch fails with an InvalidInputError.
func ClusterSensors(obs []SensorObservation, evals []Evaluation, params ClusterParams) (*Clustering, error) {
	if len(obs) == 0 {
		return nil, &InvalidInputError{Reason: "zero sensors"}
	}
	if len(obs) != len(evals) {
		return nil, &InvalidInputError{Reason: "observation/evaluation count mismatch"}
	}

	if len(obs) == 1 {
		c := aggregateCluster(1, []int{0}, obs, evals)
		c.ExpectedMode = "unknown"
		return &Clustering{
			Assignments: []int{1},
			Clusters:    []ClusterStats{c},
		}, nil
	}

	values := make([]float64, len(evals))
	for i, ev := range evals {
		values[i] = ev.Value
	}

	steps := wardLinkage(values)
	assignments := cutTree(len(values), steps, params.Dissimilarity)

	ids := make([]int, 0)
	members := make(map[int][]int)
	for i, id := range assignments {
		if _, ok := members[id]; !ok {
			ids = append(ids, id)
		}
		members[id] = append(members[id], i)
	}
	sort.Ints(ids)

	clusters := make([]ClusterStats, 0, len(ids))
	for _, id := range ids {
		clusters = append(clusters, aggregateCluster(id, members[id], obs, evals))
	}

	return &Clustering{
		Assignments: assignments,
		Clusters:    clusters,
		Linkage:     steps,
	}, nil
}

// wardLinkage performs agglomerative clustering over 1-D points with Ward
// linkage, returning merge steps in merge order. Initial pairwise distances
// are Euclidean; merged-cluster distances follow the Lance-Williams update
// for Ward's criterion. When two candidate merges are equidistant, the pair
// with the lowest index order wins (deterministic scan order).
func wardLinkage(values []float64) []LinkageStep {
	n := len(values)

	type node struct {
		id   int // leaves 0..n-1, merges n, n+1, ...
		size int
	}

	active := make([]node, n)
	for i := range active {
		active[i] = node{id: i, size: 1}
	}

	// Condensed distance matrix over active entries, re-indexed after each
	// merge. O(n^3) overall, which is comfortably fast at sensor-batch sizes.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			dist[i][j] = math.Abs(values[i] - values[j])
		}
	}

	steps := make([]LinkageStep, 0, n-1)

	for len(active) > 1 {
		bi, bj := 0, 1
		best := dist[0][1]
		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				if dist[i][j] < best {
					best = dist[i][j]
					bi, bj = i, j
				}
			}
		}

		a, b := active[bi], active[bj]
		merged := node{id: n + len(steps), size: a.size + b.size}
		steps = append(steps, LinkageStep{
			I:        min(a.id, b.id),
			J:        max(a.id, b.id),
			Distance: best,
			Size:     merged.size,
		})

		// Lance-Williams update for Ward linkage against every other
		// active cluster k.
		newRow := make([]float64, 0, len(active)-1)
		for k := 0; k < len(active); k++ {
			if k == bi || k == bj {
				continue
			}
			nk := float64(active[k].size)
			ni := float64(a.size)
			nj := float64(b.size)
			dik := dist[bi][k]
			djk := dist[bj][k]
			dij := best
			d := math.Sqrt(((ni+nk)*dik*dik + (nj+nk)*djk*djk - nk*dij*dij) / (ni + nj + nk))
			newRow = append(newRow, d)
		}

		// Drop rows/columns bi and bj, append the merged cluster.
		next := make([]node, 0, len(active)-1)
		for k := 0; k < len(active); k++ {
			if k == bi || k == bj {
				continue
			}
			next = append(next, active[k])
		}
		next = append(next, merged)

		nextDist := make([][]float64, len(next))
		for i := range nextDist {
			nextDist[i] = make([]float64, len(next))
		}
		oi := 0
		for i := 0; i < len(active); i++ {
			if i == bi || i == bj {
				continue
			}
			oj := 0
			for j := 0; j < len(active); j++ {
				if j == bi || j == bj {
					continue
				}
				nextDist[oi][oj] = dist[i][j]
				oj++
			}
			nextDist[oi][len(next)-1] = newRow[oi]
			nextDist[len(next)-1][oi] = newRow[oi]
			oi++
		}

		active = next
		dist = nextDist
	}

	return steps
}

// cutTree assigns flat cluster labels by applying, in merge order, every
// linkage step at or below the threshold. Labels are 1-based and numbered by
// ascending lowest member index, so repeated runs over the same batch produce
// identical labels.
func cutTree(n int, steps []LinkageStep, threshold float64) []int {
	parent := make([]int, n+len(steps))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for k, s := range steps {
		if s.Distance > threshold {
			// Ward merge heights are monotonic; everything after this
			// step sits above the cut as well.
			break
		}
		m := n + k
		parent[find(s.I)] = m
		parent[find(s.J)] = m
	}

	// Number clusters by first appearance over ascending sensor index.
	labels := make([]int, n)
	next := 1
	byRoot := make(map[int]int)
	for i := 0; i < n; i++ {
		r := find(i)
		id, ok := byRoot[r]
		if !ok {
			id = next
			next++
			byRoot[r] = id
		}
		labels[i] = id
	}
	return labels
}

// aggregateCluster computes the per-cluster statistics table row for the
// given member indices. All numeric aggregates round to 2 decimals.
func aggregateCluster(id int, members []int, obs []SensorObservation, evals []Evaluation) ClusterStats {
	scores := make([]float64, len(members))
	vpm := make([]float64, len(members))
	spd := make([]float64, len(members))
	den := make([]float64, len(members))
	expected := make([]string, len(members))
	predicted := make([]Category, len(members))

	for i, m := range members {
		scores[i] = evals[m].Value
		vpm[i] = obs[m].VehiclesPerMinute
		spd[i] = obs[m].AvgSpeedKmh
		den[i] = obs[m].Density
		expected[i] = obs[m].Expected
		predicted[i] = evals[m].Category
	}

	std := 0.0
	if len(scores) > 1 {
		std = stat.PopStdDev(scores, nil)
	}

	return ClusterStats{
		ClusterID:      id,
		MemberIndices:  members,
		ExpectedMode:   stringMode(expected),
		PredictedMode:  categoryMode(predicted),
		CongestionMean: round2(stat.Mean(scores, nil)),
		CongestionStd:  round2(std),
		VPMMean:        round2(stat.Mean(vpm, nil)),
		SpeedMean:      round2(stat.Mean(spd, nil)),
		DensityMean:    round2(stat.Mean(den, nil)),
	}
}

// categoryMode returns the most frequent category; frequency ties resolve to
// the most severe candidate, mirroring the classifier's own tie-break so the
// two stages order labels identically.
func categoryMode(cats []Category) Category {
	counts := make(map[Category]int)
	for _, c := range cats {
		counts[c]++
	}
	best := cats[0]
	for c, n := range counts {
		if n > counts[best] {
			best = c
		} else if n == counts[best] && severityRank(c) > severityRank(best) {
			best = c
		}
	}
	return best
}

// stringMode returns the most frequent ground-truth label; ties resolve to
// the lexically smallest label, since ground truth carries no severity
// ordering.
func stringMode(labels []string) string {
	counts := make(map[string]int)
	for _, l := range labels {
		counts[l]++
	}
	best := labels[0]
	for l, n := range counts {
		if n > counts[best] || (n == counts[best] && l < best) {
			best = l
		}
	}
	return best
}

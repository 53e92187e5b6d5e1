// Package config loads and validates pipeline tuning parameters.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/congestion.report/internal/traffic"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be used
// for both startup configuration and runtime updates. All fields are
// optional; the Get* methods fall back to the engine defaults.
type TuningConfig struct {
	// Classifier params
	FuzzyResolution *int `json:"fuzzy_resolution,omitempty"`

	// Clustering params
	ClusterDissimilarity *float64 `json:"cluster_dissimilarity,omitempty"`

	// Swarm optimizer params
	Particles            *int     `json:"pso_particles,omitempty"`
	MaxIterations        *int     `json:"pso_max_iterations,omitempty"`
	Inertia              *float64 `json:"pso_inertia,omitempty"`
	Cognitive            *float64 `json:"pso_cognitive,omitempty"`
	Social               *float64 `json:"pso_social,omitempty"`
	Patience             *int     `json:"pso_patience,omitempty"`
	ImprovementThreshold *float64 `json:"pso_improvement_threshold,omitempty"`
	InitSigma            *float64 `json:"pso_init_sigma,omitempty"`
	RestartSigma         *float64 `json:"pso_restart_sigma,omitempty"`
	SevereThreshold      *float64 `json:"pso_severe_threshold,omitempty"`
	Baseline             *bool    `json:"pso_baseline,omitempty"`

	// Signal timing params
	CycleTime *float64 `json:"cycle_time,omitempty"`
	TMin      *float64 `json:"t_min,omitempty"`

	// Parallelism
	FitnessWorkers *int `json:"fitness_workers,omitempty"`
	ClusterWorkers *int `json:"cluster_workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a fully populated config mirroring the engine
// defaults. It matches config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	pso := traffic.DefaultPSOParams()
	return &TuningConfig{
		FuzzyResolution:      ptrInt(traffic.DefaultResolution),
		ClusterDissimilarity: ptrFloat64(traffic.DefaultDissimilarity),
		Particles:            ptrInt(pso.Particles),
		MaxIterations:        ptrInt(pso.MaxIterations),
		Inertia:              ptrFloat64(pso.Inertia),
		Cognitive:            ptrFloat64(pso.Cognitive),
		Social:               ptrFloat64(pso.Social),
		Patience:             ptrInt(pso.Patience),
		ImprovementThreshold: ptrFloat64(pso.ImprovementThreshold),
		InitSigma:            ptrFloat64(pso.InitSigma),
		RestartSigma:         ptrFloat64(pso.RestartSigma),
		SevereThreshold:      ptrFloat64(pso.SevereThreshold),
		Baseline:             ptrBool(false),
		CycleTime:            ptrFloat64(pso.CycleTime),
		TMin:                 ptrFloat64(pso.TMin),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON retain their default values,
// so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that set configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.FuzzyResolution != nil && *c.FuzzyResolution < 2 {
		return fmt.Errorf("fuzzy_resolution must be at least 2, got %d", *c.FuzzyResolution)
	}
	if c.ClusterDissimilarity != nil && *c.ClusterDissimilarity <= 0 {
		return fmt.Errorf("cluster_dissimilarity must be positive, got %f", *c.ClusterDissimilarity)
	}
	if c.Particles != nil && *c.Particles < 1 {
		return fmt.Errorf("pso_particles must be at least 1, got %d", *c.Particles)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("pso_max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.Patience != nil && *c.Patience < 1 {
		return fmt.Errorf("pso_patience must be at least 1, got %d", *c.Patience)
	}
	if c.CycleTime != nil && c.TMin != nil && *c.CycleTime-20 <= *c.TMin {
		return fmt.Errorf("cycle_time %f leaves no green-time range above t_min %f", *c.CycleTime, *c.TMin)
	}
	if c.Inertia != nil && (*c.Inertia < 0 || *c.Inertia > 1) {
		return fmt.Errorf("pso_inertia must be between 0 and 1, got %f", *c.Inertia)
	}
	return nil
}

// Merge overlays the set fields of other onto c, returning a new config.
// Used by the params API to apply partial runtime updates.
func (c *TuningConfig) Merge(other *TuningConfig) *TuningConfig {
	out := *c
	if other == nil {
		return &out
	}
	if other.FuzzyResolution != nil {
		out.FuzzyResolution = other.FuzzyResolution
	}
	if other.ClusterDissimilarity != nil {
		out.ClusterDissimilarity = other.ClusterDissimilarity
	}
	if other.Particles != nil {
		out.Particles = other.Particles
	}
	if other.MaxIterations != nil {
		out.MaxIterations = other.MaxIterations
	}
	if other.Inertia != nil {
		out.Inertia = other.Inertia
	}
	if other.Cognitive != nil {
		out.Cognitive = other.Cognitive
	}
	if other.Social != nil {
		out.Social = other.Social
	}
	if other.Patience != nil {
		out.Patience = other.Patience
	}
	if other.ImprovementThreshold != nil {
		out.ImprovementThreshold = other.ImprovementThreshold
	}
	if other.InitSigma != nil {
		out.InitSigma = other.InitSigma
	}
	if other.RestartSigma != nil {
		out.RestartSigma = other.RestartSigma
	}
	if other.SevereThreshold != nil {
		out.SevereThreshold = other.SevereThreshold
	}
	if other.Baseline != nil {
		out.Baseline = other.Baseline
	}
	if other.CycleTime != nil {
		out.CycleTime = other.CycleTime
	}
	if other.TMin != nil {
		out.TMin = other.TMin
	}
	if other.FitnessWorkers != nil {
		out.FitnessWorkers = other.FitnessWorkers
	}
	if other.ClusterWorkers != nil {
		out.ClusterWorkers = other.ClusterWorkers
	}
	return &out
}

// GetFuzzyResolution returns the fuzzy_resolution value or the default.
func (c *TuningConfig) GetFuzzyResolution() int {
	if c.FuzzyResolution == nil {
		return traffic.DefaultResolution
	}
	return *c.FuzzyResolution
}

// GetClusterDissimilarity returns the cluster_dissimilarity value or the default.
func (c *TuningConfig) GetClusterDissimilarity() float64 {
	if c.ClusterDissimilarity == nil {
		return traffic.DefaultDissimilarity
	}
	return *c.ClusterDissimilarity
}

// GetBaseline returns the pso_baseline value or the default.
func (c *TuningConfig) GetBaseline() bool {
	if c.Baseline == nil {
		return false
	}
	return *c.Baseline
}

// FuzzyParams builds the classifier configuration.
func (c *TuningConfig) FuzzyParams() traffic.FuzzyParams {
	p := traffic.DefaultFuzzyParams()
	p.Resolution = c.GetFuzzyResolution()
	return p
}

// PSOParams builds the optimizer configuration, falling back to defaults for
// unset fields.
func (c *TuningConfig) PSOParams() traffic.PSOParams {
	p := traffic.DefaultPSOParams()
	if c.Particles != nil {
		p.Particles = *c.Particles
	}
	if c.MaxIterations != nil {
		p.MaxIterations = *c.MaxIterations
	}
	if c.Inertia != nil {
		p.Inertia = *c.Inertia
	}
	if c.Cognitive != nil {
		p.Cognitive = *c.Cognitive
	}
	if c.Social != nil {
		p.Social = *c.Social
	}
	if c.Patience != nil {
		p.Patience = *c.Patience
	}
	if c.ImprovementThreshold != nil {
		p.ImprovementThreshold = *c.ImprovementThreshold
	}
	if c.InitSigma != nil {
		p.InitSigma = *c.InitSigma
	}
	if c.RestartSigma != nil {
		p.RestartSigma = *c.RestartSigma
	}
	if c.SevereThreshold != nil {
		p.SevereThreshold = *c.SevereThreshold
	}
	if c.CycleTime != nil {
		p.CycleTime = *c.CycleTime
	}
	if c.TMin != nil {
		p.TMin = *c.TMin
	}
	if c.FitnessWorkers != nil {
		p.Workers = *c.FitnessWorkers
	}
	return p
}

// PipelineParams builds the full pipeline configuration.
func (c *TuningConfig) PipelineParams() traffic.PipelineParams {
	p := traffic.PipelineParams{
		Cluster:  traffic.ClusterParams{Dissimilarity: c.GetClusterDissimilarity()},
		PSO:      c.PSOParams(),
		Baseline: c.GetBaseline(),
	}
	if c.ClusterWorkers != nil {
		p.ClusterWorkers = *c.ClusterWorkers
	}
	return p
}

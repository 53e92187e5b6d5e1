package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/congestion.report/internal/config"
	"github.com/banshee-data/congestion.report/internal/monitoring"
	"github.com/banshee-data/congestion.report/internal/store"
	"github.com/banshee-data/congestion.report/internal/traffic"
	"github.com/banshee-data/congestion.report/internal/viz"
)

// runResponse is the evaluate payload: the stored run ID plus the full
// pipeline result and the per-sensor consolidated rows.
type runResponse struct {
	RunID string             `json:"run_id"`
	Rows  []traffic.SensorRow `json:"rows"`
	*traffic.RunResult
}

func (s *Server) evaluateObservations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var obs []traffic.SensorObservation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid observation payload: %v", err))
		return
	}

	s.runAndRespond(w, r, obs)
}

func (s *Server) evaluateRandom(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sensors := 10
	if q := r.URL.Query().Get("sensors"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'sensors' parameter")
			return
		}
		sensors = n
	}

	s.runAndRespond(w, r, traffic.RandomObservations(sensors, nil))
}

func (s *Server) runAndRespond(w http.ResponseWriter, r *http.Request, obs []traffic.SensorObservation) {
	res, err := s.pipeline().Run(r.Context(), obs)
	if err != nil {
		var invalid *traffic.InvalidInputError
		if errors.As(err, &invalid) {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Pipeline failed: %v", err))
		return
	}

	doc, err := json.Marshal(res)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to encode run result")
		return
	}
	run := &store.Run{
		SensorCount:  len(res.Observations),
		ClusterCount: len(res.Clusters),
		ResultJSON:   doc,
	}
	if err := s.runs.Insert(run); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to persist run: %v", err))
		return
	}

	resp := runResponse{RunID: run.RunID, Rows: res.SensorRows(), RunResult: res}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write run result")
		return
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}

	runs, err := s.runs.List(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}

	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write runs")
		return
	}
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := s.runs.Get(runID)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeJSONError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(run); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write run")
		return
	}
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		s.mu.RLock()
		cfg := s.cfg
		s.mu.RUnlock()
		if err := json.NewEncoder(w).Encode(cfg); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write params")
		}

	case http.MethodPost:
		patch := config.EmptyTuningConfig()
		if err := json.NewDecoder(r.Body).Decode(patch); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid params payload: %v", err))
			return
		}

		s.mu.RLock()
		merged := s.cfg.Merge(patch)
		s.mu.RUnlock()

		if err := merged.Validate(); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid params: %v", err))
			return
		}
		s.apply(merged)
		monitoring.Logf("tuning parameters updated via API")

		if err := json.NewEncoder(w).Encode(merged); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write params")
		}

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) showMembershipChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	variable := viz.VarCongestion
	if q := r.URL.Query().Get("var"); q != "" {
		variable = viz.MembershipVariable(q)
	}
	params := s.fuzzyParams()

	// Key on the tunable scalars only. The membership curve shapes are
	// compile-time constants, so the variable name plus the output universe
	// and resolution fully identify the rendered plot.
	hash, err := viz.HashParams(struct {
		Var        string  `json:"var"`
		OutputMin  float64 `json:"output_min"`
		OutputMax  float64 `json:"output_max"`
		Resolution int     `json:"resolution"`
	}{string(variable), params.OutputMin, params.OutputMax, params.Resolution})
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.serveCached(w, "memberships", hash) {
		return
	}

	png, err := viz.MembershipPlotPNG(params, variable)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Failed to render membership plot: %v", err))
		return
	}

	s.cacheAndServe(w, &store.ChartArtifact{
		Kind:        "memberships",
		ParamsHash:  hash,
		ContentType: "image/png",
		Content:     png,
	})
}

func (s *Server) showClusterChart(w http.ResponseWriter, r *http.Request) {
	s.renderRunChart(w, r, "clusters", viz.RenderClusterScatter)
}

func (s *Server) showTimingChart(w http.ResponseWriter, r *http.Request) {
	s.renderRunChart(w, r, "timings", viz.RenderTimingBars)
}

func (s *Server) renderRunChart(w http.ResponseWriter, r *http.Request, kind string, render func(io.Writer, *traffic.RunResult) error) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID := r.URL.Query().Get("run")
	if runID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'run' parameter")
		return
	}

	if s.serveCached(w, kind, runID) {
		return
	}

	run, err := s.runs.Get(runID)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeJSONError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}

	var res traffic.RunResult
	if err := json.Unmarshal(run.ResultJSON, &res); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to decode run result")
		return
	}

	var buf bytes.Buffer
	if err := render(&buf, &res); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render chart: %v", err))
		return
	}

	s.cacheAndServe(w, &store.ChartArtifact{
		Kind:        kind,
		ParamsHash:  runID,
		ContentType: "text/html; charset=utf-8",
		Content:     buf.Bytes(),
	})
}

// serveCached writes a stored artifact if one exists. Cache misses and
// lookup failures both fall through to a fresh render.
func (s *Server) serveCached(w http.ResponseWriter, kind, hash string) bool {
	cached, err := s.artifacts.Get(kind, hash)
	if err != nil {
		monitoring.Logf("chart cache lookup failed for %s/%s: %v", kind, hash, err)
		return false
	}
	if cached == nil {
		return false
	}
	w.Header().Set("Content-Type", cached.ContentType)
	w.Write(cached.Content)
	return true
}

func (s *Server) cacheAndServe(w http.ResponseWriter, a *store.ChartArtifact) {
	if err := s.artifacts.Put(a); err != nil {
		monitoring.Logf("chart cache store failed for %s/%s: %v", a.Kind, a.ParamsHash, err)
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Write(a.Content)
}

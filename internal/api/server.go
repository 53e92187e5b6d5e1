// Package api exposes the classification and optimization pipeline over HTTP.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/congestion.report/internal/config"
	"github.com/banshee-data/congestion.report/internal/store"
	"github.com/banshee-data/congestion.report/internal/traffic"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	runs      *store.RunStore
	artifacts *store.ArtifactStore

	// cfg, engine and pipe are rebuilt together when tuning parameters
	// change at runtime; mu guards the triple.
	mu     sync.RWMutex
	cfg    *config.TuningConfig
	engine *traffic.Engine
	pipe   *traffic.Pipeline
}

func NewServer(cfg *config.TuningConfig, runs *store.RunStore, artifacts *store.ArtifactStore) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{runs: runs, artifacts: artifacts}
	s.apply(cfg)
	return s, nil
}

// apply swaps in a validated config and the engine/pipeline built from it.
func (s *Server) apply(cfg *config.TuningConfig) {
	engine := traffic.NewEngine(cfg.FuzzyParams())
	pipe := traffic.NewPipeline(engine, cfg.PipelineParams())

	s.mu.Lock()
	s.cfg = cfg
	s.engine = engine
	s.pipe = pipe
	s.mu.Unlock()
}

func (s *Server) pipeline() *traffic.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipe
}

func (s *Server) fuzzyParams() traffic.FuzzyParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Params()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/evaluate", s.evaluateObservations)
	mux.HandleFunc("/api/evaluate/random", s.evaluateRandom)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/", s.showRun)
	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/api/charts/memberships", s.showMembershipChart)
	mux.HandleFunc("/api/charts/clusters", s.showClusterChart)
	mux.HandleFunc("/api/charts/timings", s.showTimingChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

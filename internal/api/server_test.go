package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/congestion.report/internal/config"
	"github.com/banshee-data/congestion.report/internal/store"
)

const observationBatch = `[
	{"vpm": 15, "spd": 50, "den": 60, "expected": "none"},
	{"vpm": 30, "spd": 35, "den": 90, "expected": "mild"},
	{"vpm": 45, "spd": 20, "den": 130, "expected": "severe"},
	{"vpm": 25, "spd": 40, "den": 70, "expected": "mild"}
]`

// testServer builds a server over a throwaway database with a trimmed-down
// swarm so evaluate requests stay fast.
func testServer(t *testing.T) *Server {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.MigrateUp(filepath.Join("..", "store", "migrations")))

	patch := config.EmptyTuningConfig()
	require.NoError(t, json.Unmarshal(
		[]byte(`{"pso_particles": 8, "pso_max_iterations": 20, "fuzzy_resolution": 501}`), patch))
	cfg := config.DefaultTuningConfig().Merge(patch)

	srv, err := NewServer(cfg, store.NewRunStore(st), store.NewArtifactStore(st))
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestEvaluateEndpoint(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/evaluate", observationBatch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		RunID string `json:"run_id"`
		Rows  []struct {
			Sensor    int     `json:"sensor"`
			Predicted string  `json:"predicted"`
			Cluster   int     `json:"cluster"`
			Green     float64 `json:"green"`
		} `json:"rows"`
		Clusters []json.RawMessage `json:"clusters"`
		Timings  []json.RawMessage `json:"timings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.RunID)
	require.Len(t, resp.Rows, 4)
	assert.Equal(t, "none", resp.Rows[0].Predicted)
	assert.Equal(t, "severe", resp.Rows[2].Predicted)
	assert.NotEmpty(t, resp.Clusters)
	assert.Len(t, resp.Timings, len(resp.Clusters))

	// The run is persisted and retrievable.
	get := doRequest(t, srv, http.MethodGet, "/api/runs/"+resp.RunID, "")
	assert.Equal(t, http.StatusOK, get.Code)
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	srv := testServer(t)

	t.Run("wrong method", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/evaluate", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
	t.Run("malformed JSON", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/evaluate", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("empty batch", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/evaluate", "[]")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEvaluateRandomEndpoint(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/evaluate/random?sensors=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Rows []json.RawMessage `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Rows, 5)

	t.Run("zero sensors", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/evaluate/random?sensors=0", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("non-numeric sensors", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/evaluate/random?sensors=lots", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRunsEndpoints(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/evaluate", observationBatch)
	require.Equal(t, http.StatusOK, rec.Code)

	list := doRequest(t, srv, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, list.Code)
	var runs []struct {
		RunID       string `json:"run_id"`
		SensorCount int    `json:"sensor_count"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].SensorCount)

	t.Run("missing run", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/runs/no-such-run", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("bad limit", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/runs?limit=-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestParamsEndpoint(t *testing.T) {
	srv := testServer(t)

	get := doRequest(t, srv, http.MethodGet, "/api/params", "")
	require.Equal(t, http.StatusOK, get.Code)
	var cfg config.TuningConfig
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &cfg))
	require.NotNil(t, cfg.Particles)
	assert.Equal(t, 8, *cfg.Particles)

	post := doRequest(t, srv, http.MethodPost, "/api/params", `{"pso_particles": 12}`)
	require.Equal(t, http.StatusOK, post.Code)

	again := doRequest(t, srv, http.MethodGet, "/api/params", "")
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &cfg))
	assert.Equal(t, 12, *cfg.Particles)
	// Other fields survived the partial update.
	require.NotNil(t, cfg.MaxIterations)
	assert.Equal(t, 20, *cfg.MaxIterations)

	t.Run("invalid update", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/params", `{"pso_particles": 0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("malformed update", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/params", "{")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMembershipChartEndpoint(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/charts/memberships?var=vehicles", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	// Second request is served from the artifact cache with identical bytes.
	again := doRequest(t, srv, http.MethodGet, "/api/charts/memberships?var=vehicles", "")
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, rec.Body.Bytes(), again.Body.Bytes())

	// Each variable renders and is cached under its own key.
	for _, v := range []string{"speed", "density", "congestion"} {
		other := doRequest(t, srv, http.MethodGet, "/api/charts/memberships?var="+v, "")
		require.Equal(t, http.StatusOK, other.Code, other.Body.String())
		assert.Equal(t, "image/png", other.Header().Get("Content-Type"))
		assert.NotEqual(t, rec.Body.Bytes(), other.Body.Bytes())
	}

	t.Run("unknown variable", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/charts/memberships?var=weather", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRunChartEndpoints(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/evaluate", observationBatch)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	for _, kind := range []string{"clusters", "timings"} {
		t.Run(kind, func(t *testing.T) {
			chart := doRequest(t, srv, http.MethodGet, "/api/charts/"+kind+"?run="+resp.RunID, "")
			require.Equal(t, http.StatusOK, chart.Code, chart.Body.String())
			assert.Equal(t, "text/html; charset=utf-8", chart.Header().Get("Content-Type"))
			assert.Contains(t, chart.Body.String(), "echarts")
		})
	}

	t.Run("missing run param", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/charts/clusters", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("unknown run", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/charts/clusters?run=nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/vitalgap/pkg/archive"
	"github.com/ssargent/vitalgap/pkg/match"
	"github.com/ssargent/vitalgap/pkg/record"
	"github.com/ssargent/vitalgap/pkg/report"
	"github.com/ssargent/vitalgap/pkg/vitals"
)

type testEnv struct {
	archive *archive.Archive
	metrics *Metrics
	handler http.Handler
}

func setupTestServer(t *testing.T, config ServerConfig) *testEnv {
	t.Helper()
	a, err := archive.Open(filepath.Join(t.TempDir(), "archive"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	server := NewServer(a, config, metrics, nil)
	return &testEnv{archive: a, metrics: metrics, handler: server.Router(reg)}
}

func (e *testEnv) get(t *testing.T, path string, header ...string) (*httptest.ResponseRecorder, json.RawMessage, string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	if w.Header().Get("Content-Type") != "application/json" {
		return w, nil, ""
	}
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, w.Code == http.StatusOK, resp.Success)
	return w, resp.Data, resp.Error
}

func seedRun(t *testing.T, a *archive.Archive, rows int) archive.Run {
	t.Helper()
	results := make([]match.Result, rows)
	for i := range results {
		id := int64(i + 1)
		results[i] = match.Result{
			Decoded: record.DecodedRecord{DecodedAtMs: int64(1000 * (i + 1)), PacketID: &id, DecodeOK: true, CRCOK: true},
			Method:  match.MethodExactID,
		}
	}
	results[rows-1].Method = match.MethodUnmatched

	doc := report.Document{DecodedRows: rows, Summary: report.Summarize(results, 0)}
	truth := []record.TruthRecord{{
		PacketID: vitals.Int64(1),
		EpochMs:  1000,
		Beds:     vitals.BedsPayload{"BED01": {Vitals: map[string]vitals.VitalPayload{"HR": {Value: 72.0}}}},
	}}
	run, err := a.SaveRun(doc, report.Lines(results), truth)
	require.NoError(t, err)
	return run
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t, ServerConfig{})

	w, data, _ := env.get(t, "/api/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, string(data))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.healthChecksTotal.WithLabelValues(statusSuccess)))
}

type brokenStore struct{ RunStore }

func (brokenStore) Runs() ([]string, error) { return nil, errors.New("closed") }

func TestHealth_StoreUnavailable(t *testing.T) {
	metrics := NewMetrics(nil)
	handler := NewServer(brokenStore{}, ServerConfig{}, metrics, nil).Router(prometheus.NewRegistry())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.healthChecksTotal.WithLabelValues(statusError)))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSummary(t *testing.T) {
	env := setupTestServer(t, ServerConfig{})

	w, _, msg := env.get(t, "/api/v1/summary")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "run not found", msg)

	run := seedRun(t, env.archive, 4)

	w, data, _ := env.get(t, "/api/v1/summary")
	require.Equal(t, http.StatusOK, w.Code)
	var got archive.Run
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, 4, got.Report.Summary.Total)
	assert.Equal(t, 3, got.Report.Summary.Methods[match.MethodExactID].Count)
	assert.InDelta(t, 0.75, testutil.ToFloat64(env.metrics.latestRunMatchedRatio), 1e-9)

	w, data, _ = env.get(t, "/api/v1/summary?run="+run.ID)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, run.ID, got.ID)

	w, _, _ = env.get(t, "/api/v1/summary?run=not-a-ksuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _, _ = env.get(t, "/api/v1/summary?run=0ujtsYcgvSTl8PAuAdqWYSMnLOv")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns(t *testing.T) {
	env := setupTestServer(t, ServerConfig{})

	_, data, _ := env.get(t, "/api/v1/runs")
	assert.JSONEq(t, `{"runs":[]}`, string(data))

	first := seedRun(t, env.archive, 1)
	second := seedRun(t, env.archive, 1)

	_, data, _ = env.get(t, "/api/v1/runs")
	var got RunsResponse
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []string{second.ID, first.ID}, got.Runs)
}

func TestResults(t *testing.T) {
	env := setupTestServer(t, ServerConfig{})
	run := seedRun(t, env.archive, 5)

	t.Run("defaults to latest run", func(t *testing.T) {
		w, data, _ := env.get(t, "/api/v1/results")
		require.Equal(t, http.StatusOK, w.Code)
		var page ResultsPage
		require.NoError(t, json.Unmarshal(data, &page))
		assert.Equal(t, run.ID, page.RunID)
		assert.Equal(t, defaultPageLimit, page.Limit)
		require.Len(t, page.Results, 5)
		assert.Equal(t, 5, page.Results[4].Running.Total)
		assert.Equal(t, match.MethodUnmatched, page.Results[4].Method)
	})

	t.Run("paged", func(t *testing.T) {
		w, data, _ := env.get(t, "/api/v1/results?run="+run.ID+"&offset=1&limit=2")
		require.Equal(t, http.StatusOK, w.Code)
		var page ResultsPage
		require.NoError(t, json.Unmarshal(data, &page))
		require.Len(t, page.Results, 2)
		assert.Equal(t, int64(2000), page.Results[0].Decoded.DecodedAtMs)
		assert.Equal(t, int64(3000), page.Results[1].Decoded.DecodedAtMs)
	})

	t.Run("limit is capped", func(t *testing.T) {
		_, data, _ := env.get(t, "/api/v1/results?limit=100000")
		var page ResultsPage
		require.NoError(t, json.Unmarshal(data, &page))
		assert.Equal(t, maxPageLimit, page.Limit)
	})

	for _, q := range []string{"offset=-1", "offset=x", "limit=0", "limit=y", "run=bogus"} {
		t.Run("bad "+q, func(t *testing.T) {
			w, _, msg := env.get(t, "/api/v1/results?"+q)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestResults_NoRuns(t *testing.T) {
	env := setupTestServer(t, ServerConfig{})
	w, _, _ := env.get(t, "/api/v1/results")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTruth(t *testing.T) {
	env := setupTestServer(t, ServerConfig{})
	seedRun(t, env.archive, 1)

	w, data, _ := env.get(t, "/api/v1/truth/1")
	require.Equal(t, http.StatusOK, w.Code)
	var got TruthResponse
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int64(1), got.PacketID)
	require.Len(t, got.Records, 1)
	assert.Equal(t, 72.0, got.Records[0].Beds["BED01"].Vitals["HR"].Value)

	w, _, _ = env.get(t, "/api/v1/truth/2")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _, msg := env.get(t, "/api/v1/truth/abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "packet id must be an integer", msg)
}

func TestAuthentication(t *testing.T) {
	env := setupTestServer(t, ServerConfig{APIKey: "secret"})

	w, _, msg := env.get(t, "/api/v1/health")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Missing X-API-Key header", msg)

	w, _, _ = env.get(t, "/api/v1/health", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _, _ = env.get(t, "/api/v1/health", "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.authRequestsTotal.WithLabelValues(statusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.authRequestsTotal.WithLabelValues(statusSuccess)))

	// Scraping stays open.
	w, _, _ = env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t, ServerConfig{})
	env.get(t, "/api/v1/health")
	env.get(t, "/api/v1/truth/9")

	w, _, _ := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `vitalgap_http_requests_total{endpoint="/api/v1/health",method="GET",status_code="200"} 1`)
	assert.Contains(t, body, `vitalgap_http_requests_total{endpoint="/api/v1/truth/{packetID}",method="GET",status_code="404"} 1`)
	assert.Contains(t, body, `vitalgap_archive_queries_total{query="truth",status="success"} 1`)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	a, err := archive.Open(filepath.Join(t.TempDir(), "archive"))
	require.NoError(t, err)
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(a, ServerConfig{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln, prometheus.NewRegistry()) }()

	url := "http://" + ln.Addr().String() + "/api/v1/health"
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerConfig_Addr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:9310", ServerConfig{Bind: "127.0.0.1", Port: 9310}.Addr())
	assert.Equal(t, ":80", ServerConfig{Port: 80}.Addr())
}

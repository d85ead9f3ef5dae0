package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	makeparallel "github.com/amiyamandal-dev/makeParallel"
	"github.com/amiyamandal-dev/makeParallel/internal/history"
)

func newTestServer(t *testing.T) (*httptest.Server, *makeparallel.Runtime) {
	t.Helper()
	hist, err := history.Open(t.TempDir())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	rt := makeparallel.New(makeparallel.WithWorkers(2), makeparallel.WithHistory(hist))
	t.Cleanup(rt.Close)

	srv := httptest.NewServer(NewServer(rt, hist, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, rt
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	getJSON(t, srv.URL+"/health", &body)
	if body["status"] != "ok" {
		t.Fatalf("health = %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]any
	getJSON(t, srv.URL+"/api/status", &body)
	if body["shutdown"] != false {
		t.Fatalf("status.shutdown = %v", body["shutdown"])
	}
	if _, ok := body["pool"]; !ok {
		t.Fatal("status missing pool info")
	}
}

func TestPoolResize(t *testing.T) {
	srv, rt := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/pool", "application/json",
		strings.NewReader(`{"workers": 5}`))
	if err != nil {
		t.Fatalf("POST /api/pool: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resize status = %d", resp.StatusCode)
	}
	if info := rt.PoolInfo(); info.Workers != 5 {
		t.Fatalf("PoolInfo.Workers = %d, want 5", info.Workers)
	}

	resp, err = http.Post(srv.URL+"/api/pool", "application/json",
		strings.NewReader(`{"workers": 0}`))
	if err != nil {
		t.Fatalf("POST /api/pool: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid resize status = %d, want 400", resp.StatusCode)
	}
}

func TestDemoTaskLifecycle(t *testing.T) {
	srv, rt := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/tasks/demo", "application/json",
		strings.NewReader(`{"name": "smoke", "duration_ms": 20}`))
	if err != nil {
		t.Fatalf("POST demo: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("demo status = %d, want 202", resp.StatusCode)
	}

	var submitted struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode demo: %v", err)
	}
	if submitted.Name != "smoke" || submitted.ID == "" {
		t.Fatalf("demo response = %+v", submitted)
	}

	// Wait for it to drain, then check metrics and history surfaced it.
	deadline := time.Now().Add(2 * time.Second)
	for rt.InFlight() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	var snap struct {
		PerFunction map[string]any `json:"per_function"`
	}
	getJSON(t, srv.URL+"/api/metrics", &snap)
	if _, ok := snap.PerFunction["smoke"]; !ok {
		t.Fatalf("metrics missing smoke: %v", snap.PerFunction)
	}

	var rec struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	getJSON(t, srv.URL+"/api/tasks/"+submitted.ID, &rec)
	if rec.Status != string(makeparallel.TaskCompleted) {
		t.Fatalf("history status = %q, want COMPLETED", rec.Status)
	}
}

func TestMetricsEndpointEnabled(t *testing.T) {
	rt := makeparallel.New()
	t.Cleanup(rt.Close)

	s := NewServer(rt, nil, nil)
	s.EnableMetrics()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d", resp.StatusCode)
	}
}

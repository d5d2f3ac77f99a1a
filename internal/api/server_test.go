package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gatewarden/internal/integrity"
)

type apiFixture struct {
	server *Server
	binDir string
}

func newAPIFixture(t *testing.T, withManifest bool) *apiFixture {
	t.Helper()
	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "tool"), []byte("tool v1"), 0755); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := integrity.NewMetrics()
	verifier, err := integrity.NewVerifier(integrity.Config{
		Store:   integrity.NewFileStore(filepath.Join(root, "state", "binaries.manifest")),
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "state"), 0700); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(Config{
		Addr:     "127.0.0.1:0",
		Verifier: verifier,
		Metrics:  metrics,
		Dirs:     []string{binDir},
		Logger:   logger,
	})

	if withManifest {
		summary, err := verifier.Run([]string{binDir})
		if err != nil {
			t.Fatalf("bootstrap: %v", err)
		}
		srv.RecordSummary(summary)
	}
	return &apiFixture{server: srv, binDir: binDir}
}

func (f *apiFixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, false)

	w := f.do(t, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusWithoutManifest(t *testing.T) {
	f := newAPIFixture(t, false)

	if w := f.do(t, http.MethodGet, "/api/status"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStatus(t *testing.T) {
	f := newAPIFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var status integrity.StatusReport
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if status.Total != 1 || status.Entries[0].Path != filepath.Join(f.binDir, "tool") {
		t.Errorf("status = %+v", status)
	}
}

func TestVerifyFlagsTamperedAndRecordsReport(t *testing.T) {
	f := newAPIFixture(t, true)
	tool := filepath.Join(f.binDir, "tool")
	if err := os.WriteFile(tool, []byte("tool v2"), 0755); err != nil {
		t.Fatal(err)
	}

	if w := f.do(t, http.MethodGet, "/api/verify"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/verify = %d, want 405", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var summary integrity.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if summary.Count(integrity.OutcomeTampered) != 1 {
		t.Errorf("summary = %+v", summary)
	}

	w = f.do(t, http.MethodGet, "/api/reports")
	var reports []*integrity.Report
	if err := json.Unmarshal(w.Body.Bytes(), &reports); err != nil {
		t.Fatalf("parse reports: %v", err)
	}
	// The bootstrap report and the latest report for the bin directory.
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	found := false
	for _, r := range reports {
		if r.Directory == f.binDir && r.Count(integrity.OutcomeTampered) == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("latest directory report missing: %+v", reports)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, true)

	w := f.do(t, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `gatewarden_integrity_files_total{outcome="created"} 1`) {
		t.Errorf("metrics missing created counter:\n%s", w.Body.String())
	}
}

func TestVerifyRateLimited(t *testing.T) {
	f := newAPIFixture(t, true)

	if w := f.do(t, http.MethodPost, "/api/verify"); w.Code != http.StatusOK {
		t.Fatalf("first verify = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/verify"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second verify = %d, want 429", w.Code)
	}
}

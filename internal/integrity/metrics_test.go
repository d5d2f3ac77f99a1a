package integrity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gatewarden/pkg/manifest"
)

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()

	snapshot, err := manifest.New("").With(manifest.Entry{Path: "/bin/a", Digest: "aa", Flag: manifest.FlagTampered})
	if err != nil {
		t.Fatal(err)
	}
	snapshot, err = snapshot.With(manifest.Entry{Path: "/bin/b", Digest: "bb"})
	if err != nil {
		t.Fatal(err)
	}

	m.Observe(&Report{
		FinishedAt: time.Unix(1700000000, 0),
		Results: []Result{
			{Outcome: OutcomeTampered},
			{Outcome: OutcomeMatched},
			{Outcome: OutcomeMatched},
		},
	}, snapshot)

	if got := testutil.ToFloat64(m.files.WithLabelValues("matched")); got != 2 {
		t.Errorf("matched: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.files.WithLabelValues("tampered")); got != 1 {
		t.Errorf("tampered: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.passes.WithLabelValues("verify")); got != 1 {
		t.Errorf("verify passes: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.tampered); got != 1 {
		t.Errorf("tampered entries: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.entries); got != 2 {
		t.Errorf("entries: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lastRun); got != 1700000000 {
		t.Errorf("last run: got %v", got)
	}
}

func TestMetricsNilIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe(&Report{Results: []Result{{Outcome: OutcomeCreated}}}, nil)
	if err := m.WriteTextfile("/unused"); err != nil {
		t.Errorf("WriteTextfile on nil metrics: %v", err)
	}
}

func TestMetricsWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Observe(&Report{Bootstrap: true, Results: []Result{{Outcome: OutcomeCreated}}}, manifest.New(""))

	path := filepath.Join(t.TempDir(), "gatewarden.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`gatewarden_integrity_files_total{outcome="created"} 1`,
		`gatewarden_integrity_files_total{outcome="tampered"} 0`,
		`gatewarden_integrity_passes_total{kind="bootstrap"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}

func TestVerifierFeedsMetrics(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "tool"), "x")

	metrics := NewMetrics()
	v, err := NewVerifier(Config{Store: NewMemStore(nil), Logger: quietLogger(), Metrics: metrics})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Run([]string{dir}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := v.Run([]string{dir}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ToFloat64(metrics.files.WithLabelValues("created")); got != 1 {
		t.Errorf("created: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.files.WithLabelValues("matched")); got != 1 {
		t.Errorf("matched: got %v, want 1", got)
	}
}

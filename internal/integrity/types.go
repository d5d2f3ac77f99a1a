// Package integrity implements trust-on-first-use verification of the
// executables kept on the persistent volume. The first boot records a
// content digest for every file in the watched directories; later boots
// compare against that record and revoke the execute bits of any file whose
// content drifted.
package integrity

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"gatewarden/pkg/manifest"
)

var (
	// ErrManifestExists is returned by Bootstrap when trust was already established.
	ErrManifestExists = errors.New("manifest already exists")
	// ErrUnknownPath is returned by Retrust for a path with no manifest entry.
	ErrUnknownPath = errors.New("path not in manifest")
)

// Outcome classifies what a pass did with one file.
type Outcome string

const (
	// OutcomeCreated: the path was not in the manifest and has been recorded.
	OutcomeCreated Outcome = "created"
	// OutcomeMatched: recorded digest matches, nothing to do.
	OutcomeMatched Outcome = "matched"
	// OutcomeQuarantined: digest matches a TAMPERED entry; the flag is kept
	// and the file stays non-executable.
	OutcomeQuarantined Outcome = "quarantined"
	// OutcomeTampered: digest differs from the recorded one.
	OutcomeTampered Outcome = "tampered"
	// OutcomeSkippedUnreadable: the file could not be hashed.
	OutcomeSkippedUnreadable Outcome = "skipped_unreadable"
	// OutcomeSkippedInvalidPath: the path cannot be stored in the manifest.
	OutcomeSkippedInvalidPath Outcome = "skipped_invalid_path"
	// OutcomeRetrusted: an operator cleared the entry's flag.
	OutcomeRetrusted Outcome = "retrusted"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{
	OutcomeCreated,
	OutcomeMatched,
	OutcomeQuarantined,
	OutcomeTampered,
	OutcomeSkippedUnreadable,
	OutcomeSkippedInvalidPath,
	OutcomeRetrusted,
}

func (o Outcome) String() string {
	return string(o)
}

// Result is the per-file record of a pass.
type Result struct {
	Path           string  `json:"path" yaml:"path"`
	Outcome        Outcome `json:"outcome" yaml:"outcome"`
	Digest         string  `json:"digest,omitempty" yaml:"digest,omitempty"`
	PreviousDigest string  `json:"previous_digest,omitempty" yaml:"previous_digest,omitempty"`
	// Error is set when hashing or a permission change failed. A Tampered
	// result with Error set means the entry was flagged but the execute bit
	// could not be removed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report summarises one Bootstrap or Verify pass.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Directory  string    `json:"directory,omitempty" yaml:"directory,omitempty"`
	Bootstrap  bool      `json:"bootstrap,omitempty" yaml:"bootstrap,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Results    []Result  `json:"results" yaml:"results"`
}

// Count returns the number of results with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Summary aggregates the reports of one orchestrated Run.
type Summary struct {
	RunID   string    `json:"run_id" yaml:"run_id"`
	Reports []*Report `json:"reports" yaml:"reports"`
}

// Count returns the number of results with outcome o across all reports.
func (s *Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Reports {
		n += r.Count(o)
	}
	return n
}

// StatusEntry is a manifest entry annotated with the file's current state.
type StatusEntry struct {
	manifest.Entry `yaml:",inline"`
	Present        bool   `json:"present" yaml:"present"`
	Executable     bool   `json:"executable" yaml:"executable"`
	Mode           string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// StatusReport is a read-only view of the manifest.
type StatusReport struct {
	ManifestPath string        `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty"`
	Algorithm    string        `json:"algorithm" yaml:"algorithm"`
	Total        int           `json:"total" yaml:"total"`
	Tampered     int           `json:"tampered" yaml:"tampered"`
	Entries      []StatusEntry `json:"entries" yaml:"entries"`
}

// Config holds the verifier's collaborators.
type Config struct {
	Store  Store
	Hasher Hasher // defaults to SHA256
	Logger *slog.Logger
	Audit  *AuditLog // optional
	// Metrics is optional; when set every result is counted.
	Metrics *Metrics
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "integrity")
}

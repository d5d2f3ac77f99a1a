package integrity

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatewarden/pkg/manifest"
)

// Verifier maintains trust over the executables in a set of watched
// directories. Passes are serialised; the verifier assumes no other process
// writes the manifest while a pass runs.
type Verifier struct {
	store   Store
	hasher  Hasher
	logger  *slog.Logger
	audit   *AuditLog
	metrics *Metrics

	mu sync.Mutex
}

// NewVerifier creates a verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("integrity: store is required")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = SHA256
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}

	return &Verifier{
		store:   cfg.Store,
		hasher:  cfg.Hasher,
		logger:  cfg.Logger,
		audit:   cfg.Audit,
		metrics: cfg.Metrics,
	}, nil
}

// Run is the boot-time orchestration: on first run it bootstraps trust over
// all dirs, afterwards it verifies each directory in the given order. A
// failing directory does not stop the remaining ones; the errors are joined.
func (v *Verifier) Run(dirs []string) (*Summary, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	summary := &Summary{RunID: uuid.NewString()}

	exists, err := v.store.Exists()
	if err != nil {
		return summary, err
	}
	if !exists {
		v.logger.Info("no manifest found, establishing trust on first use", "directories", dirs)
		report, err := v.bootstrapLocked(summary.RunID, dirs)
		if report != nil {
			summary.Reports = append(summary.Reports, report)
		}
		return summary, err
	}

	var errs []error
	for _, dir := range dirs {
		report, err := v.verifyLocked(summary.RunID, dir)
		if report != nil {
			summary.Reports = append(summary.Reports, report)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("verify %s: %w", dir, err))
		}
	}
	return summary, errors.Join(errs...)
}

// Bootstrap records every regular file in dirs as trusted. It refuses to run
// when a manifest already exists and never touches file permissions.
func (v *Verifier) Bootstrap(dirs []string) (*Report, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	exists, err := v.store.Exists()
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrManifestExists
	}
	return v.bootstrapLocked(uuid.NewString(), dirs)
}

func (v *Verifier) bootstrapLocked(runID string, dirs []string) (*Report, error) {
	report := newReport(runID, "", true)
	m := manifest.New(v.hasher.Name())

	for _, dir := range dirs {
		abs, err := absDir(dir)
		if err != nil {
			v.logger.Warn("skipping watched directory", "dir", dir, "error", err)
			continue
		}
		for _, path := range listRegularFiles(abs) {
			res, next := v.record(m, path)
			m = next
			report.Results = append(report.Results, res)
		}
	}
	report.FinishedAt = time.Now().UTC()

	if err := v.store.Save(m); err != nil {
		return report, fmt.Errorf("save manifest: %w", err)
	}

	v.logger.Info("integrity manifest created",
		"entries", m.Len(),
		"skipped", report.Count(OutcomeSkippedUnreadable)+report.Count(OutcomeSkippedInvalidPath))
	v.publish(report, m)
	return report, nil
}

// record hashes path and adds it unflagged. Used for bootstrap only.
func (v *Verifier) record(m *manifest.Manifest, path string) (Result, *manifest.Manifest) {
	res := Result{Path: path}

	if err := manifest.ValidatePath(path); err != nil {
		res.Outcome = OutcomeSkippedInvalidPath
		res.Error = err.Error()
		v.logger.Warn("cannot track executable", "path", path, "error", err)
		return res, m
	}

	digest, err := v.hasher.HashFile(path)
	if err != nil {
		res.Outcome = OutcomeSkippedUnreadable
		res.Error = err.Error()
		v.logger.Warn("cannot hash executable", "path", path, "error", err)
		return res, m
	}

	next, err := m.With(manifest.Entry{Path: path, Digest: digest})
	if err != nil {
		res.Outcome = OutcomeSkippedInvalidPath
		res.Error = err.Error()
		return res, m
	}
	res.Outcome = OutcomeCreated
	res.Digest = digest
	return res, next
}

// Verify checks every regular file in dir against the manifest and commits
// the amended manifest. Entries for paths outside dir are left untouched.
func (v *Verifier) Verify(dir string) (*Report, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.verifyLocked(uuid.NewString(), dir)
}

func (v *Verifier) verifyLocked(runID, dir string) (*Report, error) {
	abs, err := absDir(dir)
	if err != nil {
		return nil, err
	}

	m, err := v.store.Load()
	if err != nil {
		return nil, err
	}
	hasher, err := v.hasherFor(m)
	if err != nil {
		return nil, err
	}

	report := newReport(runID, abs, false)
	next := m
	for _, path := range listRegularFiles(abs) {
		var res Result
		res, next = v.verifyFile(next, hasher, path)
		report.Results = append(report.Results, res)
	}
	report.FinishedAt = time.Now().UTC()

	if !next.Equal(m) {
		if err := v.store.Save(next); err != nil {
			return report, fmt.Errorf("save manifest: %w", err)
		}
	} else if err := v.store.Restrict(); err != nil {
		return report, err
	}

	v.publish(report, next)
	return report, nil
}

func (v *Verifier) verifyFile(m *manifest.Manifest, hasher Hasher, path string) (Result, *manifest.Manifest) {
	res := Result{Path: path}

	if err := manifest.ValidatePath(path); err != nil {
		res.Outcome = OutcomeSkippedInvalidPath
		res.Error = err.Error()
		v.logger.Warn("cannot track executable", "path", path, "error", err)
		return res, m
	}

	digest, err := hasher.HashFile(path)
	if err != nil {
		res.Outcome = OutcomeSkippedUnreadable
		res.Error = err.Error()
		v.logger.Warn("cannot hash executable, skipping", "path", path, "error", err)
		return res, m
	}
	res.Digest = digest

	entry, known := m.Lookup(path)
	switch {
	case !known:
		next, err := m.With(manifest.Entry{Path: path, Digest: digest})
		if err != nil {
			res.Outcome = OutcomeSkippedInvalidPath
			res.Error = err.Error()
			return res, m
		}
		res.Outcome = OutcomeCreated
		v.logger.Info("new executable recorded", "path", path, "digest", digest)
		return res, next

	case entry.Digest == digest && !entry.Tampered():
		res.Outcome = OutcomeMatched
		return res, m

	case entry.Digest == digest:
		// Flagged entries are never cleared by a match; keep the file disabled
		// in case something restored its execute bit.
		res.Outcome = OutcomeQuarantined
		if err := revokeExec(path); err != nil {
			res.Error = err.Error()
			v.logger.Error("failed to keep tampered executable disabled", "path", path, "error", err)
		}
		return res, m

	default:
		res.Outcome = OutcomeTampered
		res.PreviousDigest = entry.Digest
		if err := revokeExec(path); err != nil {
			res.Error = err.Error()
			v.logger.Error("failed to revoke execute permission", "path", path, "error", err)
		}
		v.logger.Warn("binary integrity mismatch, execute permission revoked",
			"path", path, "recorded", entry.Digest, "current", digest)

		next, err := m.With(manifest.Entry{Path: path, Digest: digest, Flag: manifest.FlagTampered})
		if err != nil {
			res.Error = err.Error()
			return res, m
		}
		return res, next
	}
}

// Status returns the manifest annotated with each file's current state.
func (v *Verifier) Status() (*StatusReport, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	m, err := v.store.Load()
	if err != nil {
		return nil, err
	}

	status := &StatusReport{
		Algorithm: m.Algorithm(),
		Total:     m.Len(),
		Entries:   make([]StatusEntry, 0, m.Len()),
	}
	if fs, ok := v.store.(*FileStore); ok {
		status.ManifestPath = fs.Path()
	}

	for _, e := range m.Entries() {
		se := StatusEntry{Entry: e}
		if info, err := os.Stat(e.Path); err == nil {
			se.Present = true
			se.Executable = isExecutable(info.Mode())
			se.Mode = info.Mode().Perm().String()
		}
		if e.Tampered() {
			status.Tampered++
		}
		status.Entries = append(status.Entries, se)
	}
	return status, nil
}

// Retrust is the explicit operator action that clears a TAMPERED flag. The
// file is re-hashed and recorded as trusted. With restore set, execute bits
// are granted again to every class that can read the file.
func (v *Verifier) Retrust(path string, restore bool) (Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	res := Result{Path: path, Outcome: OutcomeRetrusted}

	m, err := v.store.Load()
	if err != nil {
		return res, err
	}
	entry, ok := m.Lookup(path)
	if !ok {
		return res, fmt.Errorf("%s: %w", path, ErrUnknownPath)
	}
	hasher, err := v.hasherFor(m)
	if err != nil {
		return res, err
	}

	digest, err := hasher.HashFile(path)
	if err != nil {
		return res, err
	}
	res.Digest = digest
	res.PreviousDigest = entry.Digest

	next, err := m.With(manifest.Entry{Path: path, Digest: digest})
	if err != nil {
		return res, err
	}
	if err := v.store.Save(next); err != nil {
		return res, fmt.Errorf("save manifest: %w", err)
	}

	if restore {
		if err := restoreExec(path); err != nil {
			res.Error = err.Error()
			v.logger.Error("retrusted but could not restore execute permission", "path", path, "error", err)
		}
	}

	v.logger.Warn("executable retrusted by operator", "path", path, "digest", digest, "was_tampered", entry.Tampered())
	report := newReport(uuid.NewString(), "", false)
	report.Results = []Result{res}
	report.FinishedAt = time.Now().UTC()
	v.publish(report, next)
	return res, nil
}

// hasherFor picks the hasher matching the manifest's recorded algorithm so
// that changing the configured default never turns every entry into a
// mismatch.
func (v *Verifier) hasherFor(m *manifest.Manifest) (Hasher, error) {
	if m.Algorithm() == v.hasher.Name() {
		return v.hasher, nil
	}
	h, err := HasherFor(m.Algorithm())
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	v.logger.Info("manifest uses a different hash algorithm than configured",
		"manifest", m.Algorithm(), "configured", v.hasher.Name())
	return h, nil
}

func (v *Verifier) publish(report *Report, m *manifest.Manifest) {
	if err := v.audit.Record(report); err != nil {
		v.logger.Warn("failed to write audit events", "error", err)
	}
	v.metrics.Observe(report, m)
}

func newReport(runID, dir string, bootstrap bool) *Report {
	return &Report{
		RunID:     runID,
		Directory: dir,
		Bootstrap: bootstrap,
		StartedAt: time.Now().UTC(),
	}
}

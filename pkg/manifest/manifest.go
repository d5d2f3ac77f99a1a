// Package manifest defines the on-disk trust store shared by the gatewarden
// entrypoint, the watch sidecar and the host-side CLI: a flat record of
// executable path to content digest, with an optional per-entry flag.
package manifest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultAlgorithm is assumed when a manifest carries no algorithm header.
const DefaultAlgorithm = "sha256"

// Flag is an optional marker attached to an entry.
type Flag string

const (
	FlagNone     Flag = ""
	FlagTampered Flag = "TAMPERED"
)

func (f Flag) String() string {
	return string(f)
}

// Entry is one trusted (or distrusted) executable.
type Entry struct {
	Path   string `json:"path" yaml:"path"`
	Digest string `json:"digest" yaml:"digest"`
	Flag   Flag   `json:"flag,omitempty" yaml:"flag,omitempty"`
}

// Tampered reports whether the entry carries the TAMPERED flag.
func (e Entry) Tampered() bool {
	return e.Flag == FlagTampered
}

// Manifest is an immutable snapshot of the trust store. Amendments return a
// new snapshot; the receiver is never modified.
type Manifest struct {
	algorithm string
	order     []string
	entries   map[string]Entry
}

// New returns an empty manifest for the given hash algorithm.
func New(algorithm string) *Manifest {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	return &Manifest{
		algorithm: algorithm,
		entries:   make(map[string]Entry),
	}
}

// Algorithm returns the name of the hash algorithm the digests were made with.
func (m *Manifest) Algorithm() string {
	return m.algorithm
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.order)
}

// Lookup returns the entry recorded for path.
func (m *Manifest) Lookup(path string) (Entry, bool) {
	e, ok := m.entries[path]
	return e, ok
}

// Entries returns all entries in first-recorded order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.order))
	for _, p := range m.order {
		out = append(out, m.entries[p])
	}
	return out
}

// With returns a copy of m in which e replaces any existing entry for
// e.Path. A new path is appended after the existing entries so rewrites keep
// a stable order.
func (m *Manifest) With(e Entry) (*Manifest, error) {
	next := m.clone()
	if err := next.set(e); err != nil {
		return nil, err
	}
	return next, nil
}

// set mutates m in place. Only Parse and With call it, on snapshots nobody
// else holds yet.
func (m *Manifest) set(e Entry) error {
	if err := ValidatePath(e.Path); err != nil {
		return err
	}
	if err := validateDigest(e.Digest); err != nil {
		return fmt.Errorf("entry %s: %w", e.Path, err)
	}
	if _, exists := m.entries[e.Path]; !exists {
		m.order = append(m.order, e.Path)
	}
	m.entries[e.Path] = e
	return nil
}

// Equal reports whether two manifests hold the same algorithm and entries in
// the same order.
func (m *Manifest) Equal(other *Manifest) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.algorithm != other.algorithm || len(m.order) != len(other.order) {
		return false
	}
	for i, p := range m.order {
		if other.order[i] != p || other.entries[p] != m.entries[p] {
			return false
		}
	}
	return true
}

func (m *Manifest) clone() *Manifest {
	next := &Manifest{
		algorithm: m.algorithm,
		order:     make([]string, len(m.order), len(m.order)+1),
		entries:   make(map[string]Entry, len(m.entries)+1),
	}
	copy(next.order, m.order)
	for k, v := range m.entries {
		next.entries[k] = v
	}
	return next
}

// ValidatePath checks that path can be stored in the line format: it must be
// absolute and free of whitespace.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path %q is not absolute", path)
	}
	if strings.ContainsAny(path, " \t\r\n\v\f") {
		return fmt.Errorf("path %q contains whitespace", path)
	}
	return nil
}

func validateDigest(digest string) error {
	if digest == "" {
		return fmt.Errorf("digest cannot be empty")
	}
	for _, c := range digest {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return fmt.Errorf("digest %q is not lowercase hex", digest)
		}
	}
	return nil
}

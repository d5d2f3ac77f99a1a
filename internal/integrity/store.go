package integrity

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gatewarden/pkg/manifest"
)

// ManifestMode is the access mode of the manifest file at rest.
const ManifestMode os.FileMode = 0600

// ErrNoManifest is returned by Load when no manifest has been created yet.
var ErrNoManifest = errors.New("manifest does not exist")

// Store persists manifest snapshots. Save must replace the stored manifest
// atomically: a reader sees either the old or the new snapshot, never a mix.
// Restrict resets the stored manifest's access mode to ManifestMode without
// rewriting it.
type Store interface {
	Exists() (bool, error)
	Load() (*manifest.Manifest, error)
	Save(m *manifest.Manifest) error
	Restrict() error
}

// FileStore keeps the manifest in a single owner-only file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the manifest file location.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether the manifest file is present.
func (s *FileStore) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat manifest: %w", err)
}

// Load reads and parses the manifest file.
func (s *FileStore) Load() (*manifest.Manifest, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	m, err := manifest.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", s.path, err)
	}
	return m, nil
}

// Save writes the manifest to a temp file in the same directory and renames
// it into place. The mode is forced to ManifestMode after the rename, since
// the umask or a pre-existing file may have left it wider.
func (s *FileStore) Save(m *manifest.Manifest) error {
	var buf bytes.Buffer
	if err := manifest.Encode(&buf, m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tempPath := tmp.Name()

	if err := tmp.Chmod(ManifestMode); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("chmod temp manifest: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close temp manifest: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename manifest: %w", err)
	}

	return s.Restrict()
}

// Restrict forces the manifest file back to ManifestMode.
func (s *FileStore) Restrict() error {
	if err := os.Chmod(s.path, ManifestMode); err != nil {
		return fmt.Errorf("restrict manifest mode: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and dry runs.
type MemStore struct {
	mu    sync.Mutex
	m     *manifest.Manifest
	saves int
}

// NewMemStore returns a store holding m; nil means no manifest yet.
func NewMemStore(m *manifest.Manifest) *MemStore {
	return &MemStore{m: m}
}

func (s *MemStore) Exists() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m != nil, nil
}

func (s *MemStore) Load() (*manifest.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return nil, ErrNoManifest
	}
	return s.m, nil
}

func (s *MemStore) Save(m *manifest.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = m
	s.saves++
	return nil
}

func (s *MemStore) Restrict() error {
	return nil
}

// Saves returns how many times Save has been called.
func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

package integrity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gatewarden/pkg/manifest"
)

func TestFileStoreLoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "binaries.manifest"))

	exists, err := store.Exists()
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("Exists should be false before the first save")
	}

	if _, err := store.Load(); !errors.Is(err, ErrNoManifest) {
		t.Fatalf("Load: got %v, want ErrNoManifest", err)
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "binaries.manifest"))

	m, err := manifest.New("sha256").With(manifest.Entry{Path: "/data/go/bin/tool", Digest: sha256Hex("tool")})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if err := store.Save(m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Equal(m) {
		t.Error("loaded manifest differs from saved one")
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != ManifestMode {
		t.Errorf("mode: got %o, want %o", info.Mode().Perm(), ManifestMode)
	}

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestFileStoreSaveIntoMissingDirFails(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing", "binaries.manifest"))
	if err := store.Save(manifest.New("")); err == nil {
		t.Fatal("expected error saving into a missing directory")
	}
}

func TestMemStore(t *testing.T) {
	store := NewMemStore(nil)
	if ok, _ := store.Exists(); ok {
		t.Error("empty MemStore should not exist")
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoManifest) {
		t.Errorf("Load: got %v, want ErrNoManifest", err)
	}

	m := manifest.New("")
	if err := store.Save(m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ok, _ := store.Exists(); !ok {
		t.Error("MemStore should exist after Save")
	}
	if got, _ := store.Load(); got != m {
		t.Error("Load should return the saved snapshot")
	}
}

func TestFileStoreRestrict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binaries.manifest")
	store := NewFileStore(path)
	if err := store.Save(manifest.New("")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}
	if err := store.Restrict(); err != nil {
		t.Fatalf("Restrict: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != ManifestMode {
		t.Errorf("mode after Restrict: %o, want %o", info.Mode().Perm(), ManifestMode)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Error("Restrict changed the manifest contents")
	}
}

func TestFileStoreRestrictMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "binaries.manifest"))
	if err := store.Restrict(); err == nil {
		t.Fatal("expected error restricting a missing manifest")
	}
}

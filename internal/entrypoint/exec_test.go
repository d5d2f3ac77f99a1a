package entrypoint

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type recordedExec struct {
	argv0 string
	argv  []string
	env   []string
	calls int
}

func (r *recordedExec) exec(argv0 string, argv []string, envv []string) error {
	r.calls++
	r.argv0, r.argv, r.env = argv0, argv, envv
	return nil
}

func writeBinary(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecResolvesAgainstChildPath(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeBinary(t, second, "gateway", 0755)

	rec := &recordedExec{}
	env := []string{"PATH=" + first + ":" + second}
	if err := Exec([]string{"gateway", "serve"}, env, rec.exec); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	if rec.argv0 != filepath.Join(second, "gateway") {
		t.Errorf("argv0 = %q", rec.argv0)
	}
	if !reflect.DeepEqual(rec.argv, []string{"gateway", "serve"}) {
		t.Errorf("argv = %v", rec.argv)
	}
	if !reflect.DeepEqual(rec.env, env) {
		t.Errorf("env = %v", rec.env)
	}
}

func TestExecRefusesQuarantinedBinary(t *testing.T) {
	dir := t.TempDir()
	writeBinary(t, dir, "gateway", 0644)

	rec := &recordedExec{}
	err := Exec([]string{"gateway"}, []string{"PATH=" + dir}, rec.exec)
	if err == nil {
		t.Fatal("expected non-executable binary to be refused")
	}
	if rec.calls != 0 {
		t.Error("exec should not have been attempted")
	}
}

func TestExecAbsolutePath(t *testing.T) {
	path := writeBinary(t, t.TempDir(), "gateway", 0700)

	rec := &recordedExec{}
	if err := Exec([]string{path}, nil, rec.exec); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if rec.argv0 != path {
		t.Errorf("argv0 = %q", rec.argv0)
	}

	if err := Exec([]string{filepath.Dir(path)}, nil, rec.exec); err == nil {
		t.Error("expected directory to be refused")
	}
}

func TestExecPropagatesFailure(t *testing.T) {
	path := writeBinary(t, t.TempDir(), "gateway", 0755)
	boom := errors.New("boom")

	err := Exec([]string{path}, nil, func(string, []string, []string) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestExecNoCommand(t *testing.T) {
	if err := Exec(nil, nil, (&recordedExec{}).exec); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

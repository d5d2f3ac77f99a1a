package integrity

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAuditLogRecord(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "integrity.log")

	al, err := OpenAuditLog(logPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer al.Close()

	report := &Report{
		RunID:      "run-1",
		Directory:  "/data/go/bin",
		FinishedAt: time.Now().UTC(),
		Results: []Result{
			{Path: "/data/go/bin/a", Outcome: OutcomeMatched, Digest: "aa"},
			{Path: "/data/go/bin/b", Outcome: OutcomeTampered, Digest: "bb", PreviousDigest: "cc"},
			{Path: "/data/go/bin/c", Outcome: OutcomeCreated, Digest: "dd"},
			{Path: "/data/go/bin/d", Outcome: OutcomeSkippedUnreadable, Error: "permission denied"},
		},
	}
	if err := al.Record(report); err != nil {
		t.Fatalf("record: %v", err)
	}
	al.Close()

	events, err := ReadAuditLog(logPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events (matched files are not logged), got %d", len(events))
	}

	if events[0].Outcome != OutcomeTampered || events[0].PreviousDigest != "cc" {
		t.Errorf("event 0: %+v", events[0])
	}
	if events[2].Error != "permission denied" {
		t.Errorf("event 2: %+v", events[2])
	}
	for i, e := range events {
		if e.RunID != "run-1" || e.Directory != "/data/go/bin" {
			t.Errorf("event %d: missing run context: %+v", i, e)
		}
		if e.Timestamp == "" {
			t.Errorf("event %d: timestamp is empty", i)
		}
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("audit log mode: got %o, want 600", info.Mode().Perm())
	}
}

func TestAuditLogDisabled(t *testing.T) {
	al, err := OpenAuditLog("")
	if err != nil {
		t.Fatalf("open disabled audit log: %v", err)
	}
	defer al.Close()

	if err := al.Record(&Report{Results: []Result{{Path: "/x", Outcome: OutcomeTampered}}}); err != nil {
		t.Errorf("record to disabled log: %v", err)
	}

	var nilLog *AuditLog
	if err := nilLog.Record(&Report{}); err != nil {
		t.Errorf("record to nil log: %v", err)
	}
}

func TestReadAuditLogNonexistent(t *testing.T) {
	events, err := ReadAuditLog("/nonexistent/path/integrity.log")
	if err != nil {
		t.Errorf("expected no error for nonexistent file, got: %v", err)
	}
	if events != nil {
		t.Errorf("expected nil events, got: %v", events)
	}
}

func TestReadAuditLogTornTail(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "integrity.log")
	content := `{"run_id":"r","path":"/a","outcome":"created"}` + "\n" + `{"run_id":"r","pa`
	if err := os.WriteFile(logPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	events, err := ReadAuditLog(logPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if len(events) != 1 || events[0].Path != "/a" {
		t.Errorf("events: %+v", events)
	}
}

func TestAuditLogCreatesDirectory(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "dir", "integrity.log")

	al, err := OpenAuditLog(logPath)
	if err != nil {
		t.Fatalf("open audit log with nested path: %v", err)
	}
	defer al.Close()

	if _, err := os.Stat(filepath.Dir(logPath)); os.IsNotExist(err) {
		t.Error("audit log directory was not created")
	}
}

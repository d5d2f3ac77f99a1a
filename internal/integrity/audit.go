package integrity

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEvent is one JSON line in the integrity audit log.
type AuditEvent struct {
	Timestamp      string  `json:"timestamp"`
	RunID          string  `json:"run_id"`
	Directory      string  `json:"directory,omitempty"`
	Bootstrap      bool    `json:"bootstrap,omitempty"`
	Path           string  `json:"path"`
	Outcome        Outcome `json:"outcome"`
	Digest         string  `json:"digest,omitempty"`
	PreviousDigest string  `json:"previous_digest,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// AuditLog appends integrity events in JSON-lines format. Matched files are
// not logged; every other outcome is. A nil *AuditLog discards everything.
type AuditLog struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

// OpenAuditLog opens (or creates) the audit log at path with owner-only
// access. An empty path disables audit logging.
func OpenAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return &AuditLog{writer: nopWriteCloser{}}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &AuditLog{writer: file}, nil
}

// Record writes one event per non-matched result of the report.
func (al *AuditLog) Record(report *Report) error {
	if al == nil || al.writer == nil || report == nil {
		return nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	ts := report.FinishedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	for _, res := range report.Results {
		if res.Outcome == OutcomeMatched {
			continue
		}
		event := AuditEvent{
			Timestamp:      ts.Format(time.RFC3339Nano),
			RunID:          report.RunID,
			Directory:      report.Directory,
			Bootstrap:      report.Bootstrap,
			Path:           res.Path,
			Outcome:        res.Outcome,
			Digest:         res.Digest,
			PreviousDigest: res.PreviousDigest,
			Error:          res.Error,
		}

		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal audit event: %w", err)
		}
		data = append(data, '\n')
		if _, err := al.writer.Write(data); err != nil {
			return fmt.Errorf("write audit event: %w", err)
		}
	}

	return nil
}

// Close closes the audit log file.
func (al *AuditLog) Close() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.writer != nil {
		return al.writer.Close()
	}
	return nil
}

// ReadAuditLog reads all events from the file at path, stopping at the first
// malformed line. A missing file yields no events.
func ReadAuditLog(path string) ([]AuditEvent, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var events []AuditEvent
	decoder := json.NewDecoder(file)
	for {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			// A torn final line from a killed process ends the log.
			break
		}
		events = append(events, event)
	}

	return events, nil
}

// nopWriteCloser backs a disabled audit log.
type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

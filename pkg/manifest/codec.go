package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wire format, one entry per line:
//
//	# algorithm: sha256
//	<absolute-path> <hex-digest>[ <flag>]
//
// Blank lines and lines starting with '#' are ignored, except that the
// algorithm header is honoured when it appears before the first entry.

const algorithmHeader = "# algorithm:"

// ParseError reports a malformed manifest line.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest line %d: %s", e.Line, e.Reason)
}

// Parse reads a manifest. Duplicate paths resolve to the last occurrence.
func Parse(r io.Reader) (*Manifest, error) {
	m := New(DefaultAlgorithm)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if m.Len() == 0 && strings.HasPrefix(trimmed, algorithmHeader) {
				if alg := strings.TrimSpace(strings.TrimPrefix(trimmed, algorithmHeader)); alg != "" {
					m.algorithm = alg
				}
			}
			continue
		}

		entry, err := parseEntry(trimmed)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: err.Error()}
		}

		if err := m.set(entry); err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return m, nil
}

func parseEntry(line string) (Entry, error) {
	fields := strings.Fields(line)
	switch len(fields) {
	case 2:
		return Entry{Path: fields[0], Digest: fields[1]}, nil
	case 3:
		flag := Flag(fields[2])
		if flag != FlagTampered {
			return Entry{}, fmt.Errorf("unknown flag %q", fields[2])
		}
		return Entry{Path: fields[0], Digest: fields[1], Flag: flag}, nil
	default:
		return Entry{}, fmt.Errorf("expected 2 or 3 fields, got %d", len(fields))
	}
}

// Encode writes m in the line format. Entries are written in the manifest's
// stable order, so encoding an unchanged snapshot is byte-identical.
func Encode(w io.Writer, m *Manifest) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintf(bw, "%s %s\n", algorithmHeader, m.Algorithm()); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	for _, e := range m.Entries() {
		var err error
		if e.Flag == FlagNone {
			_, err = fmt.Fprintf(bw, "%s %s\n", e.Path, e.Digest)
		} else {
			_, err = fmt.Fprintf(bw, "%s %s %s\n", e.Path, e.Digest, e.Flag)
		}
		if err != nil {
			return fmt.Errorf("write manifest entry %s: %w", e.Path, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush manifest: %w", err)
	}
	return nil
}

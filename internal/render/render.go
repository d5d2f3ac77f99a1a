// Package render formats integrity reports for operators.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"gatewarden/internal/integrity"
)

// Output formats accepted by --output.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Formats lists the supported output formats.
var Formats = []string{FormatTable, FormatJSON, FormatYAML}

// CheckFormat rejects unknown output formats.
func CheckFormat(format string) error {
	for _, f := range Formats {
		if f == format {
			return nil
		}
	}
	return fmt.Errorf("unknown output format %q (want one of %s)", format, strings.Join(Formats, ", "))
}

// WriteStatus renders a manifest status report.
func WriteStatus(w io.Writer, format string, status *integrity.StatusReport) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, status)
	case FormatYAML:
		return writeYAML(w, status)
	case FormatTable:
	default:
		return CheckFormat(format)
	}

	if len(status.Entries) == 0 {
		fmt.Fprintln(w, "No trusted executables recorded")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Path", "Digest", "Flag", "Present", "Mode")
	for _, e := range status.Entries {
		mode := e.Mode
		if !e.Present {
			mode = "-"
		}
		if err := table.Append(e.Path, shortDigest(e.Digest), flagLabel(e.Flag.String()), yesNo(e.Present), mode); err != nil {
			return fmt.Errorf("render status: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	fmt.Fprintf(w, "\nAlgorithm: %s  Entries: %d  Tampered: %d\n", status.Algorithm, status.Total, status.Tampered)
	return nil
}

// WriteSummary renders the reports of one integrity run. Matched files are
// omitted from the table; they are counted in the footer.
func WriteSummary(w io.Writer, format string, summary *integrity.Summary) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, summary)
	case FormatYAML:
		return writeYAML(w, summary)
	case FormatTable:
	default:
		return CheckFormat(format)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Path", "Outcome", "Digest", "Detail")
	rows := 0
	for _, report := range summary.Reports {
		for _, res := range report.Results {
			if res.Outcome == integrity.OutcomeMatched {
				continue
			}
			detail := res.Error
			if detail == "" && res.PreviousDigest != "" && res.PreviousDigest != res.Digest {
				detail = "was " + shortDigest(res.PreviousDigest)
			}
			if err := table.Append(res.Path, res.Outcome.String(), shortDigest(res.Digest), detail); err != nil {
				return fmt.Errorf("render summary: %w", err)
			}
			rows++
		}
	}
	if rows > 0 {
		if err := table.Render(); err != nil {
			return fmt.Errorf("render summary: %w", err)
		}
		fmt.Fprintln(w)
	}

	var counts []string
	for _, o := range integrity.Outcomes {
		if n := summary.Count(o); n > 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", o, n))
		}
	}
	if len(counts) == 0 {
		counts = append(counts, "no files")
	}
	fmt.Fprintf(w, "Run %s: %s\n", summary.RunID, strings.Join(counts, " "))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func shortDigest(digest string) string {
	if len(digest) > 16 {
		return digest[:16]
	}
	return digest
}

func flagLabel(flag string) string {
	if flag == "" {
		return "-"
	}
	return flag
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

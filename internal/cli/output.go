// Package cli formats kanren results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/kanren/internal/indexer"
	"github.com/hyperjump/kanren/internal/models"
	"github.com/hyperjump/kanren/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact prints one tab-separated line per result.
	OutputCompact OutputFormat = "compact"
)

const maxTitleLen = 60

// ParseOutputFormat validates a --output flag value. Empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case "":
		return OutputText, nil
	case OutputText, OutputJSON, OutputCompact:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or compact)", s)
	}
}

// WriteRelatedResults writes related notes to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteRelatedResults(w io.Writer, response *models.RelatedResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, note := range response.Results {
			if _, err := fmt.Fprintf(w, "%.4f\t%s\n", note.Score, note.ID); err != nil {
				return err
			}
		}
		return nil
	default:
		writeRelatedText(w, response)
		return nil
	}
}

func writeRelatedText(w io.Writer, response *models.RelatedResponse) {
	subject := "text"
	if response.NoteID != "" {
		subject = response.NoteID
	}
	fmt.Fprintf(w, "\nFound %d related notes for %s in %dms\n\n", response.Total, subject, response.QueryTime)
	for i, note := range response.Results {
		fmt.Fprintf(w, "%2d. %-*s  %.4f\n", i+1, maxTitleLen+3, utils.Truncate(note.Title, maxTitleLen), note.Score)
		fmt.Fprintf(w, "    %s\n", note.ID)
	}
	if len(response.Results) > 0 {
		fmt.Fprintln(w)
	}
}

// WriteStatus writes index status to w in the given format.
func WriteStatus(w io.Writer, status *models.StatusResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, status)
	case OutputCompact:
		_, err := fmt.Fprintf(w, "notes=%d backend=%s provider=%s dimensions=%d disk=%d\n",
			status.Notes, status.Backend, status.Provider, status.Dimensions, status.DiskUsage)
		return err
	default:
		fmt.Fprintf(w, "Vault:       %s\n", status.VaultPath)
		fmt.Fprintf(w, "Notes:       %d\n", status.Notes)
		fmt.Fprintf(w, "Backend:     %s (format v%d)\n", status.Backend, status.Version)
		fmt.Fprintf(w, "Embedding:   %s, %d dimensions\n", status.Provider, status.Dimensions)
		fmt.Fprintf(w, "Min score:   %.2f\n", status.MinScore)
		fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(status.DiskUsage))
		if status.UpdatePending {
			fmt.Fprintln(w, "An index update is in progress.")
		}
		return nil
	}
}

// WriteSyncResult writes a sweep summary to w in the given format.
func WriteSyncResult(w io.Writer, res indexer.SyncResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, res)
	case OutputCompact:
		_, err := fmt.Fprintf(w, "scanned=%d indexed=%d skipped=%d unavailable=%d failed=%d removed=%d\n",
			res.Scanned, res.Indexed, res.Skipped, res.Unavailable, res.Failed, res.Removed)
		return err
	default:
		fmt.Fprintf(w, "Scanned %d notes in %s\n", res.Scanned, res.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "  indexed:     %d\n", res.Indexed)
		fmt.Fprintf(w, "  unchanged:   %d\n", res.Skipped)
		fmt.Fprintf(w, "  no text:     %d\n", res.Unavailable)
		fmt.Fprintf(w, "  failed:      %d\n", res.Failed)
		fmt.Fprintf(w, "  removed:     %d\n", res.Removed)
		return nil
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kanren/internal/indexer"
	"github.com/hyperjump/kanren/internal/models"
)

func sampleResponse() *models.RelatedResponse {
	return &models.RelatedResponse{
		NoteID:    "daily/today.md",
		QueryTime: 7,
		Total:     2,
		Results: []*models.RelatedNote{
			{ID: "projects/kanren.md", Title: "kanren", Score: 0.8123},
			{ID: "ideas.md", Title: "ideas", Score: 0.4},
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"json", OutputJSON, false},
		{"compact", OutputCompact, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteRelatedResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRelatedResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteRelatedResults(json): %v", err)
	}
	var decoded models.RelatedResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.NoteID != "daily/today.md" || len(decoded.Results) != 2 || decoded.Results[0].ID != "projects/kanren.md" {
		t.Errorf("decoded response: %+v", decoded)
	}
}

func TestWriteRelatedResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRelatedResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 2 related notes", "daily/today.md", "7ms", " 1. kanren", "0.8123", "projects/kanren.md", " 2. ideas"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteRelatedResults_textForQueryText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRelatedResults(&buf, &models.RelatedResponse{}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Found 0 related notes for text") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestWriteRelatedResults_compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRelatedResults(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	want := "0.8123\tprojects/kanren.md\n0.4000\tideas.md\n"
	if buf.String() != want {
		t.Errorf("compact output = %q, want %q", buf.String(), want)
	}
}

func TestWriteStatus(t *testing.T) {
	status := &models.StatusResponse{
		Version: 1, Notes: 42, Backend: "sqlite", Provider: "http", Dimensions: 384,
		VaultPath: "/notes", DiskUsage: 2048, MinScore: 0.25,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"/notes", "42", "sqlite", "384 dimensions", "2.0 KiB"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("status output missing %q:\n%s", sub, buf.String())
		}
	}

	buf.Reset()
	if err := WriteStatus(&buf, status, OutputCompact); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "notes=42 backend=sqlite") {
		t.Errorf("compact status: %q", buf.String())
	}
}

func TestWriteSyncResult(t *testing.T) {
	res := indexer.SyncResult{Scanned: 5, Indexed: 3, Skipped: 1, Failed: 1, Unchanged: 1, Removed: 2, Duration: 1500 * time.Millisecond}
	var buf bytes.Buffer
	if err := WriteSyncResult(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"Scanned 5 notes in 1.5s", "indexed:     3", "removed:     2"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("sync output missing %q:\n%s", sub, buf.String())
		}
	}

	buf.Reset()
	if err := WriteSyncResult(&buf, res, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded indexer.SyncResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != res {
		t.Errorf("decoded = %+v, want %+v", decoded, res)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hyperjump/kanren/internal/indexer"
)

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressBar(&buf, "Syncing")
	p.OnProgress(indexer.Progress{Phase: indexer.PhaseScan, Total: 3})
	for i := 1; i <= 3; i++ {
		p.OnProgress(indexer.Progress{Phase: indexer.PhaseIndex, Processed: i, Total: 3})
	}
	p.OnProgress(indexer.Progress{Phase: indexer.PhaseCleanup, Processed: 2, Total: 2})
	p.Finish()

	out := buf.String()
	for _, sub := range []string{"Found 3 notes", "Syncing", "3/3", "Removed 2 stale entries"} {
		if !strings.Contains(out, sub) {
			t.Errorf("progress output missing %q:\n%q", sub, out)
		}
	}
}

func TestProgressBar_emptyVault(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressBar(&buf, "Syncing")
	p.OnProgress(indexer.Progress{Phase: indexer.PhaseScan, Total: 0})
	p.OnProgress(indexer.Progress{Phase: indexer.PhaseCleanup})
	p.Finish()
	if got := buf.String(); got != "Found 0 notes\n" {
		t.Errorf("output = %q", got)
	}
}

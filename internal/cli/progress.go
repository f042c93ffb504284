package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/hyperjump/kanren/internal/indexer"
)

// ProgressBar renders sweep progress as a terminal bar. It implements
// indexer.Observer.
type ProgressBar struct {
	w           io.Writer
	description string
	mu          sync.Mutex
	bar         *progressbar.ProgressBar
}

// NewProgressBar writes progress for a sweep to w.
func NewProgressBar(w io.Writer, description string) *ProgressBar {
	return &ProgressBar{w: w, description: description}
}

// OnProgress implements indexer.Observer.
func (p *ProgressBar) OnProgress(pr indexer.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch pr.Phase {
	case indexer.PhaseScan:
		fmt.Fprintf(p.w, "Found %d notes\n", pr.Total)
		p.start(pr.Total)
	case indexer.PhaseIndex:
		if p.bar == nil {
			p.start(pr.Total)
		}
		if p.bar != nil {
			_ = p.bar.Set(pr.Processed)
		}
	case indexer.PhaseCleanup:
		p.finish()
		if pr.Processed > 0 {
			fmt.Fprintf(p.w, "Removed %d stale entries\n", pr.Processed)
		}
	}
}

// Finish completes the bar if it is still drawing.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finish()
}

func (p *ProgressBar) start(total int) {
	if total <= 0 {
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]"+p.description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(p.w)
		}),
	)
}

func (p *ProgressBar) finish() {
	if p.bar == nil {
		return
	}
	if !p.bar.IsFinished() {
		_ = p.bar.Finish()
	}
	p.bar = nil
}

package watcher

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type handled struct {
	mu  sync.Mutex
	ids []string
}

func (h *handled) add(id string) {
	h.mu.Lock()
	h.ids = append(h.ids, id)
	h.mu.Unlock()
}

func (h *handled) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ids...)
}

func TestDebouncer_coalescesRepeats(t *testing.T) {
	h := &handled{}
	d := NewDebouncer(50*time.Millisecond, h.add)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Schedule("a.md")
		time.Sleep(10 * time.Millisecond)
	}
	d.Schedule("b.md")
	waitFor(t, "both notes", func() bool { return len(h.snapshot()) == 2 })
	time.Sleep(100 * time.Millisecond)

	got := h.snapshot()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a.md" || got[1] != "b.md" {
		t.Errorf("handled = %v", got)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending = %d", d.Pending())
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	h := &handled{}
	d := NewDebouncer(50*time.Millisecond, h.add)
	defer d.Stop()

	d.Schedule("a.md")
	d.Schedule("b.md")
	if !d.Cancel("a.md") {
		t.Error("expected a pending request to cancel")
	}
	if d.Cancel("c.md") {
		t.Error("nothing to cancel for c.md")
	}
	waitFor(t, "b.md", func() bool { return len(h.snapshot()) == 1 })
	time.Sleep(100 * time.Millisecond)
	if got := h.snapshot(); len(got) != 1 || got[0] != "b.md" {
		t.Errorf("handled = %v", got)
	}
}

func TestDebouncer_singleDrainWorker(t *testing.T) {
	var running, maxRunning atomic.Int32
	release := make(chan struct{})
	h := &handled{}
	handle := func(id string) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		if id == "slow.md" {
			<-release
		}
		h.add(id)
		running.Add(-1)
	}
	d := NewDebouncer(10*time.Millisecond, handle)
	defer d.Stop()

	d.Schedule("slow.md")
	waitFor(t, "slow note to start", func() bool { return running.Load() == 1 })

	// fires while the drain is busy; must wait for it, not run alongside
	d.Schedule("next.md")
	time.Sleep(50 * time.Millisecond)
	if got := h.snapshot(); len(got) != 0 {
		t.Fatalf("handled before release: %v", got)
	}
	close(release)

	waitFor(t, "deferred note", func() bool { return len(h.snapshot()) == 2 })
	if got := h.snapshot(); got[0] != "slow.md" || got[1] != "next.md" {
		t.Errorf("handled = %v", got)
	}
	if maxRunning.Load() != 1 {
		t.Errorf("handlers ran concurrently: %d", maxRunning.Load())
	}
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	h := &handled{}
	d := NewDebouncer(30*time.Millisecond, h.add)
	d.Schedule("a.md")
	d.Stop()
	d.Schedule("b.md")
	time.Sleep(80 * time.Millisecond)
	if got := h.snapshot(); len(got) != 0 {
		t.Errorf("handled after Stop: %v", got)
	}
}

func TestNewDebouncer_defaultDelay(t *testing.T) {
	d := NewDebouncer(0, func(string) {})
	defer d.Stop()
	if d.delay != DefaultDebounce {
		t.Errorf("delay = %v", d.delay)
	}
}

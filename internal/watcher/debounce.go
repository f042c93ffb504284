package watcher

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a scheduled note is processed.
const DefaultDebounce = 5 * time.Second

// Debouncer coalesces repeated requests per note id. Each Schedule restarts
// the id's timer; when a timer fires the id joins the ready queue and a single
// drain worker hands ready ids to the handler one at a time. Ids that fire
// while a drain runs wait for that worker instead of starting another.
type Debouncer struct {
	delay  time.Duration
	handle func(id string)
	logger *zap.Logger

	mu         sync.Mutex
	timers     map[string]*pendingNote
	ready      []string
	readySet   map[string]struct{}
	processing bool
	stopped    bool
	wg         sync.WaitGroup
}

type pendingNote struct {
	timer *time.Timer
}

// DebouncerOption configures a Debouncer.
type DebouncerOption func(*Debouncer)

// WithDebounceLogger sets a logger for scheduling decisions.
func WithDebounceLogger(l *zap.Logger) DebouncerOption {
	return func(d *Debouncer) { d.logger = l }
}

// NewDebouncer calls handle for each id once it has been quiet for delay.
// A non-positive delay uses DefaultDebounce.
func NewDebouncer(delay time.Duration, handle func(id string), opts ...DebouncerOption) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	d := &Debouncer{
		delay:    delay,
		handle:   handle,
		timers:   make(map[string]*pendingNote),
		readySet: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Schedule (re)starts the timer for id, replacing any pending request.
func (d *Debouncer) Schedule(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if p, ok := d.timers[id]; ok {
		p.timer.Stop()
	}
	p := &pendingNote{}
	p.timer = time.AfterFunc(d.delay, func() { d.fire(id, p) })
	d.timers[id] = p
	if d.logger != nil {
		d.logger.Debug("Note scheduled", zap.String("id", id), zap.Duration("delay", d.delay))
	}
}

// Cancel drops a pending request for id that has not started yet and
// reports whether there was one.
func (d *Debouncer) Cancel(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cancelled := false
	if p, ok := d.timers[id]; ok {
		p.timer.Stop()
		delete(d.timers, id)
		cancelled = true
	}
	if _, ok := d.readySet[id]; ok {
		delete(d.readySet, id)
		for i, r := range d.ready {
			if r == id {
				d.ready = append(d.ready[:i], d.ready[i+1:]...)
				break
			}
		}
		cancelled = true
	}
	return cancelled
}

// Pending returns the number of ids waiting on a timer or for the drain.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers) + len(d.ready)
}

func (d *Debouncer) fire(id string, p *pendingNote) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// A timer replaced or cancelled after it started firing is stale.
	if d.stopped || d.timers[id] != p {
		return
	}
	delete(d.timers, id)
	if _, ok := d.readySet[id]; !ok {
		d.readySet[id] = struct{}{}
		d.ready = append(d.ready, id)
	}
	if d.processing {
		return
	}
	d.processing = true
	d.wg.Add(1)
	go d.drain()
}

// drain hands ready ids to the handler until none are left. Ids that become
// ready while it runs are picked up by the same worker.
func (d *Debouncer) drain() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if d.stopped || len(d.ready) == 0 {
			d.processing = false
			d.mu.Unlock()
			return
		}
		id := d.ready[0]
		d.ready = d.ready[1:]
		delete(d.readySet, id)
		d.mu.Unlock()

		d.handle(id)
	}
}

// Stop cancels every pending timer and waits for a running drain to finish
// its current note.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	for id, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, id)
	}
	d.ready = nil
	d.readySet = make(map[string]struct{})
	d.mu.Unlock()
	d.wg.Wait()
}

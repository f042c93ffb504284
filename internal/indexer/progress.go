package indexer

import (
	"sync"

	"go.uber.org/zap"
)

// Phase names a step of a vault sweep.
type Phase string

// Sweep phases, in the order they are reported.
const (
	PhaseScan    Phase = "scan"
	PhaseIndex   Phase = "index"
	PhaseCleanup Phase = "cleanup"
)

// Progress is one progress report of a sweep.
type Progress struct {
	Phase     Phase `json:"phase"`
	Processed int   `json:"processed"`
	Total     int   `json:"total"`
}

// Observer receives progress reports. OnProgress is called from the sweeping
// goroutine and should return quickly.
type Observer interface {
	OnProgress(Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Progress)

// OnProgress calls f(p).
func (f ObserverFunc) OnProgress(p Progress) { f(p) }

// ChannelObserver delivers progress on a channel without ever blocking the
// sweep. Reports queue up to the buffer size; when the queue is full the
// oldest queued index-phase report is dropped. Scan and cleanup reports are
// always delivered, in order.
//
// Updates must be drained until it is closed.
type ChannelObserver struct {
	mu      sync.Mutex
	queue   []Progress
	size    int
	closed  bool
	dropped int

	wake chan struct{}
	out  chan Progress
}

// NewChannelObserver starts an observer queueing up to buffer reports.
func NewChannelObserver(buffer int) *ChannelObserver {
	if buffer < 1 {
		buffer = 1
	}
	o := &ChannelObserver{
		size: buffer,
		wake: make(chan struct{}, 1),
		out:  make(chan Progress),
	}
	go o.forward()
	return o
}

// OnProgress queues p. Reports after Close are ignored.
func (o *ChannelObserver) OnProgress(p Progress) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if len(o.queue) >= o.size {
		for i, q := range o.queue {
			if q.Phase == PhaseIndex {
				o.queue = append(o.queue[:i], o.queue[i+1:]...)
				o.dropped++
				break
			}
		}
	}
	o.queue = append(o.queue, p)
	o.mu.Unlock()
	o.signal()
}

// Updates returns the delivery channel. It is closed after Close once every
// queued report has been delivered.
func (o *ChannelObserver) Updates() <-chan Progress { return o.out }

// Dropped returns how many index-phase reports were discarded.
func (o *ChannelObserver) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Close stops accepting reports.
func (o *ChannelObserver) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

func (o *ChannelObserver) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *ChannelObserver) forward() {
	defer close(o.out)
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			closed := o.closed
			o.mu.Unlock()
			if closed {
				return
			}
			<-o.wake
			continue
		}
		p := o.queue[0]
		o.queue = o.queue[1:]
		o.mu.Unlock()
		o.out <- p
	}
}

// progressLogBuffer bounds the reports LogProgress queues before dropping
// index-phase ones.
const progressLogBuffer = 64

// LogProgress returns an observer that logs the reports of one sweep: scan
// and cleanup at info level, index reports at debug level. The returned
// function closes the observer and waits until every queued report is logged.
func LogProgress(logger *zap.Logger, sweep string) (*ChannelObserver, func()) {
	o := NewChannelObserver(progressLogBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range o.Updates() {
			fields := []zap.Field{
				zap.String("sweep", sweep),
				zap.String("phase", string(p.Phase)),
				zap.Int("processed", p.Processed),
				zap.Int("total", p.Total),
			}
			if p.Phase == PhaseIndex {
				logger.Debug("Sweep progress", fields...)
			} else {
				logger.Info("Sweep progress", fields...)
			}
		}
	}()
	return o, func() {
		o.Close()
		<-done
		if n := o.Dropped(); n > 0 {
			logger.Debug("Sweep progress reports dropped", zap.String("sweep", sweep), zap.Int("dropped", n))
		}
	}
}

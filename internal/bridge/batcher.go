package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/conduit/internal/protocol"
)

// Clock abstracts time for the batcher.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Batcher accumulates outbound events and flushes them to the send queue
// when the batch is full or the batch timeout has elapsed.
type Batcher struct {
	mu        sync.Mutex
	pending   []protocol.Event
	lastFlush time.Time

	queue       *SendQueue
	clock       Clock
	size        int
	timeout     time.Duration
	drainBudget time.Duration
	highWater   int
	stats       *counters
	logger      *slog.Logger
}

func newBatcher(q *SendQueue, size int, timeout, drainBudget time.Duration, highWater float64, clock Clock, stats *counters, logger *slog.Logger) *Batcher {
	mark := int(float64(q.Cap()) * highWater)
	if mark < 1 {
		mark = 1
	}
	return &Batcher{
		pending:     make([]protocol.Event, 0, size),
		lastFlush:   clock.Now(),
		queue:       q,
		clock:       clock,
		size:        size,
		timeout:     timeout,
		drainBudget: drainBudget,
		highWater:   mark,
		stats:       stats,
		logger:      logger,
	}
}

// Add appends ev and flushes if the batch is due. It reports whether a flush
// happened.
func (b *Batcher) Add(ev protocol.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, ev)
	if len(b.pending) >= b.size || b.clock.Now().Sub(b.lastFlush) > b.timeout {
		b.flushLocked()
		return true
	}
	return false
}

// Tick flushes a non-empty batch whose timeout has elapsed. The supervisor
// calls it periodically so a lone event does not wait for the next Add.
func (b *Batcher) Tick() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 || b.clock.Now().Sub(b.lastFlush) <= b.timeout {
		return false
	}
	b.flushLocked()
	return true
}

// Len reports the number of pending events.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Reset discards the pending batch and returns how many events it held.
func (b *Batcher) Reset() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.pending)
	clear(b.pending)
	b.pending = b.pending[:0]
	b.lastFlush = b.clock.Now()
	return n
}

// flushLocked must be called with b.mu held.
func (b *Batcher) flushLocked() {
	n := min(len(b.pending), b.size)
	start := b.clock.Now()

	lines := make([][]byte, 0, n)
	taken := 0
	for taken < n {
		ev := b.pending[taken]
		taken++

		line, err := protocol.EncodeEvent(ev)
		if err != nil {
			b.stats.droppedEvents.Add(1)
			b.logger.Warn("failed to encode event, dropping it", "event", ev.Name, "error", err)
			continue
		}
		lines = append(lines, line)

		if b.clock.Now().Sub(start) > b.drainBudget {
			break
		}
	}

	rest := copy(b.pending, b.pending[taken:])
	clear(b.pending[rest:])
	b.pending = b.pending[:rest]
	b.lastFlush = b.clock.Now()

	if len(lines) == 0 {
		return
	}

	if qlen := b.queue.Len(); qlen >= b.highWater {
		b.stats.droppedBatches.Add(1)
		b.stats.droppedEvents.Add(int64(len(lines)))
		b.logger.Warn("send queue near capacity, dropping batch",
			"batch_size", len(lines), "queue_len", qlen, "high_water", b.highWater)
		return
	}

	if accepted := b.queue.OfferAll(lines); accepted < len(lines) {
		b.stats.droppedEvents.Add(int64(len(lines) - accepted))
		b.logger.Warn("send queue full, dropping tail of batch",
			"dropped", len(lines)-accepted, "accepted", accepted)
	}
}

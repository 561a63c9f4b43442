package bridge

import "time"

// SendQueue is a bounded FIFO of encoded outbound lines. Offer never blocks.
type SendQueue struct {
	ch chan []byte
}

// NewSendQueue creates a queue holding at most capacity lines.
func NewSendQueue(capacity int) *SendQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &SendQueue{ch: make(chan []byte, capacity)}
}

// Offer enqueues line, reporting false when the queue is full.
func (q *SendQueue) Offer(line []byte) bool {
	select {
	case q.ch <- line:
		return true
	default:
		return false
	}
}

// OfferAll enqueues lines in order and returns how many were accepted.
// It stops at the first rejection so accepted lines keep their order.
func (q *SendQueue) OfferAll(lines [][]byte) int {
	for i, line := range lines {
		if !q.Offer(line) {
			return i
		}
	}
	return len(lines)
}

// Poll waits up to timeout for a line.
func (q *SendQueue) Poll(timeout time.Duration) ([]byte, bool) {
	select {
	case line := <-q.ch:
		return line, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line := <-q.ch:
		return line, true
	case <-timer.C:
		return nil, false
	}
}

// Len reports the number of queued lines.
func (q *SendQueue) Len() int { return len(q.ch) }

// Cap reports the queue capacity.
func (q *SendQueue) Cap() int { return cap(q.ch) }

// Full reports whether an Offer would be rejected right now.
func (q *SendQueue) Full() bool { return len(q.ch) >= cap(q.ch) }

// Clear discards everything queued and returns how many lines were dropped.
func (q *SendQueue) Clear() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

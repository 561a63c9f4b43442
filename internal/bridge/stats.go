package bridge

import (
	"sync/atomic"
	"time"
)

// counters are process-lifetime totals; they survive restarts.
type counters struct {
	submitted      atomic.Int64
	droppedBatches atomic.Int64
	droppedEvents  atomic.Int64
	sent           atomic.Int64
	received       atomic.Int64
	writeErrors    atomic.Int64
	parseErrors    atomic.Int64
	unknownActions atomic.Int64
	restarts       atomic.Int64
}

// Stats is a point-in-time snapshot of the bridge.
type Stats struct {
	State          string    `json:"state"`
	SessionID      string    `json:"session_id,omitempty"`
	Running        bool      `json:"running"`
	WorkerPID      int       `json:"worker_pid,omitempty"`
	WorkerAlive    bool      `json:"worker_alive"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	QueueLen       int       `json:"queue_len"`
	QueueCap       int       `json:"queue_cap"`
	BatchLen       int       `json:"batch_len"`
	Submitted      int64     `json:"submitted"`
	DroppedBatches int64     `json:"dropped_batches"`
	DroppedEvents  int64     `json:"dropped_events"`
	Sent           int64     `json:"sent"`
	Received       int64     `json:"received"`
	Messages       int64     `json:"messages"`
	WriteErrors    int64     `json:"write_errors"`
	ParseErrors    int64     `json:"parse_errors"`
	UnknownActions int64     `json:"unknown_actions"`
	Restarts       int64     `json:"restarts"`
}

// Stats returns a snapshot. Safe to call from any goroutine.
func (b *Bridge) Stats() Stats {
	st := Stats{
		State:          b.State().String(),
		QueueLen:       b.queue.Len(),
		QueueCap:       b.queue.Cap(),
		BatchLen:       b.batcher.Len(),
		Submitted:      b.stats.submitted.Load(),
		DroppedBatches: b.stats.droppedBatches.Load(),
		DroppedEvents:  b.stats.droppedEvents.Load(),
		Sent:           b.stats.sent.Load(),
		Received:       b.stats.received.Load(),
		WriteErrors:    b.stats.writeErrors.Load(),
		ParseErrors:    b.stats.parseErrors.Load(),
		UnknownActions: b.stats.unknownActions.Load(),
		Restarts:       b.stats.restarts.Load(),
	}
	if s := b.current.Load(); s != nil {
		st.SessionID = s.id
		st.Running = s.running.Load()
		st.Messages = s.messages.Load()
		st.StartedAt = s.startedAt
		if s.proc != nil {
			st.WorkerPID = s.proc.Pid()
			st.WorkerAlive = s.proc.Alive()
		}
	}
	return st
}

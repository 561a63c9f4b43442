package bridge

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/conduit/internal/log"
)

const stdinBufferSize = 64 * 1024

var errStdinClosed = errors.New("worker stdin closed")

// lineWriter is the worker's stdin, shared by every sender loop and the
// shutdown path. Close does not take the write lock, so it can unblock a
// writer stuck on a full pipe.
type lineWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	c      io.Closer
	closed atomic.Bool
}

func newLineWriter(wc io.WriteCloser) *lineWriter {
	return &lineWriter{
		w: bufio.NewWriterSize(wc, stdinBufferSize),
		c: wc,
	}
}

// WriteLine writes line and a newline, flushing the pipe if flush is set.
func (lw *lineWriter) WriteLine(line []byte, flush bool) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.closed.Load() {
		return errStdinClosed
	}
	if _, err := lw.w.Write(line); err != nil {
		return err
	}
	if err := lw.w.WriteByte('\n'); err != nil {
		return err
	}
	if flush {
		return lw.w.Flush()
	}
	return nil
}

// FlushPending flushes anything buffered by earlier unflushed writes.
func (lw *lineWriter) FlushPending() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.closed.Load() || lw.w.Buffered() == 0 {
		return nil
	}
	return lw.w.Flush()
}

func (lw *lineWriter) Close() error {
	if lw.closed.Swap(true) {
		return nil
	}
	return lw.c.Close()
}

// runSender drains the send queue into the worker's stdin until the session
// stops or the worker dies. While the queue is short every line is flushed;
// while it is long writes coalesce in the buffer.
func (b *Bridge) runSender(s *session, proc Process, w *lineWriter, id int) {
	logger := log.WithSession(b.logger, s.id).With("sender", id)
	logger.Debug("sender started")
	defer logger.Debug("sender stopped")

	for s.active() && proc.Alive() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		b.sendOne(s, w, logger)
	}
}

func (b *Bridge) sendOne(s *session, w *lineWriter, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("sender recovered from panic", "panic", r)
		}
	}()

	line, ok := b.queue.Poll(b.cfg.PollInterval)
	if !ok {
		if err := w.FlushPending(); err != nil && s.active() {
			b.stats.writeErrors.Add(1)
			logger.Warn("failed to flush worker stdin", "error", err)
		}
		return
	}

	flush := b.queue.Len() < b.cfg.FlushThreshold
	if err := w.WriteLine(line, flush); err != nil {
		if s.active() {
			b.stats.writeErrors.Add(1)
			logger.Warn("failed to write to worker", "error", err)
		}
		return
	}

	b.stats.sent.Add(1)
	s.countMessage()
}

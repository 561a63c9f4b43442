package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/protocol"
)

const (
	maxLineBytes = 1 << 20
	maxLoggedLen = 200
	readBufSize  = 64 * 1024
)

var errLineTooLong = errors.New("worker line exceeds limit")

// lineReader splits worker output into lines. A line longer than limit is
// consumed in full and reported as errLineTooLong so reading can go on.
type lineReader struct {
	r     *bufio.Reader
	buf   []byte
	limit int
}

func newLineReader(r io.Reader, limit int) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, readBufSize), limit: limit}
}

// Next returns the next line without its terminator. The slice is only valid
// until the following call.
func (lr *lineReader) Next() ([]byte, error) {
	lr.buf = lr.buf[:0]
	over := false
	for {
		chunk, err := lr.r.ReadSlice('\n')
		if !over {
			if len(lr.buf)+len(chunk) > lr.limit+1 {
				over = true
				lr.buf = lr.buf[:0]
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if over {
			return nil, errLineTooLong
		}
		if err != nil && !(errors.Is(err, io.EOF) && len(lr.buf) > 0) {
			return nil, err
		}
		return bytes.TrimRight(lr.buf, "\r\n"), nil
	}
}

// runReceiver reads worker stdout until EOF, a read error, or the session
// stopping. One bad line never ends the loop.
func (b *Bridge) runReceiver(s *session, r io.Reader, done chan<- struct{}) {
	defer close(done)

	logger := log.WithSession(b.logger, s.id)
	logger.Debug("receiver started")

	lines := newLineReader(r, maxLineBytes)
	var err error
	for s.active() {
		var line []byte
		line, err = lines.Next()
		if errors.Is(err, errLineTooLong) {
			b.stats.parseErrors.Add(1)
			logger.Warn("discarding oversized worker line", "limit_bytes", maxLineBytes)
			err = nil
			continue
		}
		if err != nil {
			break
		}
		b.handleLine(s, line, logger)
	}

	if !s.active() {
		logger.Debug("receiver stopped")
		return
	}
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("error reading from worker", "error", err)
		return
	}
	logger.Warn("worker disconnected unexpectedly")
}

func (b *Bridge) handleLine(s *session, line []byte, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("failed to handle worker message", "panic", r, "line", truncate(line))
		}
	}()

	msg, err := protocol.DecodeMessage(line)
	if errors.Is(err, protocol.ErrEmptyLine) {
		return
	}
	if err != nil {
		b.stats.parseErrors.Add(1)
		logger.Warn("failed to parse worker message", "error", err, "line", truncate(line))
		return
	}

	b.stats.received.Add(1)
	s.countMessage()
	b.dispatch(s, msg, logger)
}

func (b *Bridge) dispatch(s *session, msg protocol.Message, logger *slog.Logger) {
	switch m := msg.(type) {
	case protocol.Broadcast:
		if b.recipients == nil {
			logger.Debug("no recipients configured, dropping broadcast")
			return
		}
		n := b.recipients.Broadcast(m.Text)
		logger.Debug("broadcast delivered", "recipients", n)

	case protocol.DirectMessage:
		if b.recipients == nil {
			return
		}
		r, ok := b.recipients.Lookup(m.Player)
		if !ok || !r.Connected() {
			logger.Debug("recipient not connected, dropping message", "recipient", m.Player)
			return
		}
		if err := r.Send(m.Text); err != nil {
			logger.Warn("failed to deliver message", "recipient", m.Player, "error", err)
		}

	case protocol.Console:
		b.workerLog.Info(m.Text, "session_id", s.id)

	case protocol.ExecuteCommand:
		if strings.TrimSpace(m.Command) == "" {
			logger.Debug("ignoring empty command")
			return
		}
		if b.commands == nil {
			logger.Debug("no command executor configured, dropping command", "command", m.Command)
			return
		}
		if err := b.commands.Execute(s.ctx, m.Command); err != nil {
			logger.Warn("command failed", "command", m.Command, "error", err)
		}

	case protocol.Unknown:
		b.stats.unknownActions.Add(1)
		logger.Warn("unknown action from worker", "action", m.Name)

	default:
		logger.Warn("unhandled message type", "action", msg.Action())
	}
}

func truncate(line []byte) string {
	if len(line) <= maxLoggedLen {
		return string(line)
	}
	return string(line[:maxLoggedLen]) + "..."
}

package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the supervisor's lifecycle position.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// session is everything that lives exactly as long as one worker process.
// Loops capture the session they were started for, so a restart never lets
// a stale loop observe the next session's flag.
type session struct {
	id         string
	executable string
	proc       Process
	startedAt  time.Time

	running  atomic.Bool
	messages atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

type sessionKey struct{}

// SessionID returns the id of the session whose worker triggered the call,
// for contexts handed to CommandExecutor.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

func newSession(executable string, proc Process, now time.Time) *session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), sessionKey{}, id))
	return &session{
		id:         id,
		executable: executable,
		proc:       proc,
		startedAt:  now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *session) active() bool {
	return s != nil && s.running.Load()
}

func (s *session) countMessage() {
	s.messages.Add(1)
}

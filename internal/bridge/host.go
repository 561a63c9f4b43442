package bridge

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -destination=mocks/mock_host.go -package=mocks github.com/mattjoyce/conduit/internal/bridge Locator,TaskSubmitter,Recipients,Recipient,CommandExecutor,Journal

// ErrNoExecutable means the locator has nothing to run. Start treats it as a
// quiet "stay stopped", not a failure.
var ErrNoExecutable = errors.New("no worker executable available")

// Locator produces the path of the worker executable, building it if needed.
type Locator interface {
	Locate(ctx context.Context) (string, error)
}

// TaskSubmitter runs a unit of background work.
type TaskSubmitter interface {
	Submit(task func()) error
}

// Recipients is the host's view of who can receive worker messages.
type Recipients interface {
	Lookup(name string) (Recipient, bool)
	Broadcast(message string) int
}

// Recipient is one connected host-side listener.
type Recipient interface {
	Name() string
	Connected() bool
	Send(message string) error
}

// CommandExecutor runs a host command with console privileges.
type CommandExecutor interface {
	Execute(ctx context.Context, command string) error
}

// SessionRecord describes one worker session for the journal.
type SessionRecord struct {
	ID         string
	Executable string
	StartedAt  time.Time
	StoppedAt  time.Time
	Messages   int64
	Dropped    int64
	Reason     string
}

// Journal records session boundaries. Optional.
type Journal interface {
	SessionStarted(ctx context.Context, rec SessionRecord) error
	SessionStopped(ctx context.Context, rec SessionRecord) error
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/protocol"
)

const journalTimeout = 5 * time.Second

// Deps are the host collaborators. Only Locator is required for Start to do
// anything; nil Recipients or Commands drop the matching worker actions.
type Deps struct {
	Locator    Locator
	Starter    ProcessStarter
	Submitter  TaskSubmitter
	Recipients Recipients
	Commands   CommandExecutor
	Journal    Journal
	Clock      Clock
	Logger     *slog.Logger
	WorkerArgs []string
}

// Bridge supervises one worker process and moves traffic to and from it.
type Bridge struct {
	cfg        config.BridgeConfig
	args       []string
	locator    Locator
	starter    ProcessStarter
	submitter  TaskSubmitter
	recipients Recipients
	commands   CommandExecutor
	journal    Journal
	clock      Clock
	logger     *slog.Logger
	workerLog  *slog.Logger

	queue   *SendQueue
	batcher *Batcher
	stats   counters

	// ctl serializes Start, Stop and Restart. run is only touched under it.
	ctl     sync.Mutex
	run     *sessionRun
	state   atomic.Int32
	current atomic.Pointer[session]

	restartMu sync.Mutex
	restarts  []time.Time
}

// sessionRun holds the supervisor-owned handles of the running session.
type sessionRun struct {
	session     *session
	stdin       *lineWriter
	senders     *senderPool
	received    chan struct{}
	flusherDone chan struct{}
	dropsBefore int64
}

// New creates a stopped bridge.
func New(cfg config.BridgeConfig, deps Deps) *Bridge {
	if deps.Starter == nil {
		deps.Starter = ExecStarter{}
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = log.WithComponent("bridge")
	}

	b := &Bridge{
		cfg:        cfg,
		args:       deps.WorkerArgs,
		locator:    deps.Locator,
		starter:    deps.Starter,
		submitter:  deps.Submitter,
		recipients: deps.Recipients,
		commands:   deps.Commands,
		journal:    deps.Journal,
		clock:      deps.Clock,
		logger:     deps.Logger,
		workerLog:  deps.Logger.With("source", "worker"),
		queue:      NewSendQueue(cfg.QueueCapacity),
	}
	b.batcher = newBatcher(b.queue, cfg.BatchSize, cfg.BatchTimeout, cfg.DrainBudget,
		cfg.QueueHighWater, b.clock, &b.stats, b.logger)
	return b
}

// State reports the lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

// Running reports whether a session is accepting events.
func (b *Bridge) Running() bool {
	return b.current.Load().active()
}

// Submit queues an event for the worker. It never blocks on I/O and never
// panics; while stopped it does nothing.
func (b *Bridge) Submit(name string, args ...any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("failed to submit event", "event", name, "panic", r)
		}
	}()

	if !b.admit(name) {
		return
	}
	b.batcher.Add(protocol.NewEvent(name, args...))
}

// SubmitEvent queues an already-built event.
func (b *Bridge) SubmitEvent(ev protocol.Event) {
	if !b.admit(ev.Name) {
		return
	}
	b.batcher.Add(ev)
}

func (b *Bridge) admit(name string) bool {
	if !b.Running() {
		return false
	}
	if b.queue.Full() {
		b.stats.droppedEvents.Add(1)
		b.logger.Warn("send queue full, dropping event", "event", name, "queue_len", b.queue.Len())
		return false
	}
	b.stats.submitted.Add(1)
	return true
}

// Start locates and spawns the worker. It is a no-op unless the bridge is
// stopped. A missing executable returns ErrNoExecutable and leaves the
// bridge stopped.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	return b.startLocked(ctx)
}

// Stop shuts the worker down. Every step is attempted even when earlier ones
// fail. The send queue is cleared even when nothing is running.
func (b *Bridge) Stop() {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	b.stopLocked("stopped")
}

// Restart is Stop, a short delay, then Start.
func (b *Bridge) Restart(ctx context.Context) error {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	return b.restartLocked(ctx, "restart")
}

func (b *Bridge) restartLocked(ctx context.Context, reason string) error {
	b.stopLocked(reason)

	timer := time.NewTimer(b.cfg.RestartDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := b.startLocked(ctx); err != nil {
		return err
	}
	b.stats.restarts.Add(1)
	return nil
}

func (b *Bridge) startLocked(ctx context.Context) error {
	if st := b.State(); st != StateStopped {
		b.logger.Debug("start ignored", "state", st.String())
		return nil
	}
	b.setState(StateStarting)

	path, err := b.locate(ctx)
	if err != nil {
		b.setState(StateStopped)
		if errors.Is(err, ErrNoExecutable) {
			b.logger.Info("no worker executable, bridge stays stopped", "reason", err)
		} else {
			b.logger.Error("failed to locate worker executable", "error", err)
		}
		return err
	}

	proc, err := b.starter.Start(ctx, path, b.args)
	if err != nil {
		b.setState(StateStopped)
		b.logger.Error("failed to start worker", "path", path, "error", err)
		return fmt.Errorf("start worker %s: %w", path, err)
	}

	s := newSession(path, proc, b.clock.Now())
	logger := log.WithSession(b.logger, s.id)

	run := &sessionRun{
		session:     s,
		stdin:       newLineWriter(proc.Stdin()),
		senders:     newSenderPool(b.submitter, b.cfg.Senders, logger),
		received:    make(chan struct{}),
		flusherDone: make(chan struct{}),
		dropsBefore: b.stats.droppedEvents.Load(),
	}

	b.queue.Clear()
	b.batcher.Reset()
	s.running.Store(true)

	go b.runReceiver(s, proc.Stdout(), run.received)
	for i := 0; i < b.cfg.Senders; i++ {
		id := i
		if err := run.senders.submit(func() { b.runSender(s, proc, run.stdin, id) }); err != nil {
			logger.Error("failed to start sender", "sender", id, "error", err)
		}
	}
	go b.runFlusher(s, run.flusherDone)
	go b.watch(s)

	b.run = run
	b.current.Store(s)
	b.setState(StateRunning)
	logger.Info("worker started", "pid", proc.Pid(), "path", path)

	b.record(logger, func(ctx context.Context) error {
		return b.journal.SessionStarted(ctx, SessionRecord{
			ID:         s.id,
			Executable: path,
			StartedAt:  s.startedAt,
		})
	})
	return nil
}

func (b *Bridge) locate(ctx context.Context) (string, error) {
	if b.locator == nil {
		return "", ErrNoExecutable
	}
	path, err := b.locator.Locate(ctx)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", ErrNoExecutable
	}
	return path, nil
}

func (b *Bridge) stopLocked(reason string) {
	run := b.run
	st := b.State()
	if run == nil || (st != StateRunning && st != StateStarting) {
		cleared := b.queue.Clear() + b.batcher.Reset()
		b.logger.Debug("stop ignored", "state", st.String(), "cleared", cleared)
		return
	}

	s := run.session
	proc := s.proc
	logger := log.WithSession(b.logger, s.id)
	b.setState(StateStopping)
	s.running.Store(false)

	step := func(name string, fn func()) {
		defer func() {
			if r := recover(); r != nil {
				logger.Warn("shutdown step failed", "step", name, "panic", r)
			}
		}()
		fn()
	}

	var cleared int
	step("clear queue", func() {
		cleared = b.queue.Clear() + b.batcher.Reset()
		b.stats.droppedEvents.Add(int64(cleared))
	})
	step("send shutdown", func() { b.sendShutdown(run, logger) })
	step("close stdin", func() {
		if err := run.stdin.Close(); err != nil {
			logger.Debug("failed to close worker stdin", "error", err)
		}
	})
	step("terminate worker", func() { b.terminate(proc, logger) })
	step("stop receiver", func() { b.stopReceiver(run, logger) })
	step("stop senders", func() {
		if !run.senders.shutdown(b.cfg.PoolGrace, b.cfg.PoolForce, s.cancel) {
			logger.Warn("sender pool did not terminate")
		}
	})
	s.cancel()
	waitDone(run.flusherDone, b.cfg.KillTimeout)

	messages := s.messages.Load()
	stoppedAt := b.clock.Now()
	step("journal", func() {
		b.record(logger, func(ctx context.Context) error {
			return b.journal.SessionStopped(ctx, SessionRecord{
				ID:         s.id,
				Executable: s.executable,
				StartedAt:  s.startedAt,
				StoppedAt:  stoppedAt,
				Messages:   messages,
				Dropped:    b.stats.droppedEvents.Load() - run.dropsBefore,
				Reason:     reason,
			})
		})
	})

	logger.Info("bridge stopped", "messages", messages, "cleared", cleared, "reason", reason)
	s.messages.Store(0)
	b.run = nil
	b.current.Store(nil)
	b.setState(StateStopped)
}

// sendShutdown writes the shutdown sentinel. A worker that stopped reading
// cannot hold the supervisor: the write is abandoned after KillTimeout and
// unblocked by closing stdin.
func (b *Bridge) sendShutdown(run *sessionRun, logger *slog.Logger) {
	errc := make(chan error, 1)
	go func() {
		errc <- run.stdin.WriteLine(protocol.ShutdownLine, true)
	}()

	timer := time.NewTimer(b.cfg.KillTimeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		if err == nil {
			return
		}
		if run.session.proc.Alive() {
			logger.Warn("failed to send shutdown event", "error", err)
		} else {
			logger.Debug("worker already exited, shutdown event not sent", "error", err)
		}
	case <-timer.C:
		logger.Warn("timed out sending shutdown event")
	}
}

func (b *Bridge) terminate(proc Process, logger *slog.Logger) {
	if !proc.Alive() {
		logger.Debug("worker already exited", "exit", proc.ExitErr())
		return
	}

	if err := proc.Terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("failed to signal worker", "error", err)
	}
	if waitDone(proc.Done(), b.cfg.TerminateTimeout) {
		logger.Debug("worker exited after SIGTERM")
		return
	}

	logger.Warn("worker did not exit after SIGTERM, killing", "pid", proc.Pid())
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("failed to kill worker", "error", err)
	}
	if !waitDone(proc.Done(), b.cfg.KillTimeout) {
		logger.Error("worker still alive after kill", "pid", proc.Pid())
	}
}

func (b *Bridge) stopReceiver(run *sessionRun, logger *slog.Logger) {
	if err := run.session.proc.Stdout().Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Debug("failed to close worker stdout", "error", err)
	}
	if !waitDone(run.received, b.cfg.KillTimeout) {
		logger.Warn("receiver did not stop")
	}
}

// runFlusher flushes batches that timed out with no further Submit.
func (b *Bridge) runFlusher(s *session, done chan<- struct{}) {
	defer close(done)
	if b.cfg.BatchTimeout <= 0 {
		return
	}

	// Tick needs the timeout strictly exceeded; sampling at half of it keeps
	// a lone event within about one timeout.
	period := max(b.cfg.BatchTimeout/2, time.Millisecond)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if !s.active() {
				return
			}
			b.batcher.Tick()
		}
	}
}

// watch reports a worker that exits on its own and, when configured,
// restarts it within the restart budget.
func (b *Bridge) watch(s *session) {
	select {
	case <-s.proc.Done():
	case <-s.ctx.Done():
		return
	}
	if !s.active() {
		return
	}

	logger := log.WithSession(b.logger, s.id)
	logger.Warn("worker exited unexpectedly", "pid", s.proc.Pid(), "exit", s.proc.ExitErr())
	if !b.cfg.AutoRestart {
		return
	}
	if !b.allowRestart() {
		logger.Error("restart budget exhausted, worker stays down",
			"max_restarts", b.cfg.MaxRestarts, "window", b.cfg.RestartWindow)
		return
	}

	b.ctl.Lock()
	defer b.ctl.Unlock()
	if b.current.Load() != s {
		return
	}
	if err := b.restartLocked(context.Background(), "worker exited"); err != nil {
		logger.Error("automatic restart failed", "error", err)
	}
}

func (b *Bridge) allowRestart() bool {
	b.restartMu.Lock()
	defer b.restartMu.Unlock()

	now := b.clock.Now()
	kept := b.restarts[:0]
	for _, t := range b.restarts {
		if now.Sub(t) < b.cfg.RestartWindow {
			kept = append(kept, t)
		}
	}
	b.restarts = kept
	if len(b.restarts) >= b.cfg.MaxRestarts {
		return false
	}
	b.restarts = append(b.restarts, now)
	return true
}

func (b *Bridge) record(logger *slog.Logger, fn func(ctx context.Context) error) {
	if b.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("failed to record session", "error", err)
	}
}

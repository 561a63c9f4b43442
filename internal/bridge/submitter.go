package bridge

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrPoolClosed is returned when submitting to a pool that has shut down.
	ErrPoolClosed = errors.New("task pool closed")
	// ErrPoolFull is returned when a pool cannot take another task right now.
	ErrPoolFull = errors.New("task pool full")
)

// LocalSubmitter runs tasks on its own goroutines, at most limit at a time.
type LocalSubmitter struct {
	g      errgroup.Group
	closed atomic.Bool
}

// NewLocalSubmitter creates a submitter; limit <= 0 means unbounded.
func NewLocalSubmitter(limit int) *LocalSubmitter {
	s := &LocalSubmitter{}
	if limit > 0 {
		s.g.SetLimit(limit)
	}
	return s
}

// Submit starts task unless the submitter is closed or at its limit.
func (s *LocalSubmitter) Submit(task func()) error {
	if s.closed.Load() {
		return ErrPoolClosed
	}
	if !s.g.TryGo(func() error {
		task()
		return nil
	}) {
		return ErrPoolFull
	}
	return nil
}

// Shutdown refuses new tasks and waits up to graceful for running ones.
// If they are still running it calls cancel and waits up to forced more.
// It reports whether every task finished.
func (s *LocalSubmitter) Shutdown(graceful, forced time.Duration, cancel func()) bool {
	s.closed.Store(true)

	done := make(chan struct{})
	go func() {
		_ = s.g.Wait()
		close(done)
	}()
	return awaitShutdown(done, graceful, forced, cancel)
}

// senderPool tracks the sender loops of one session regardless of which
// submitter ended up running them.
type senderPool struct {
	external TaskSubmitter
	local    *LocalSubmitter
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func newSenderPool(external TaskSubmitter, senders int, logger *slog.Logger) *senderPool {
	return &senderPool{
		external: external,
		local:    NewLocalSubmitter(senders),
		logger:   logger,
	}
}

func (p *senderPool) submit(task func()) error {
	p.wg.Add(1)
	tracked := func() {
		defer p.wg.Done()
		task()
	}

	if p.external != nil {
		err := p.external.Submit(tracked)
		if err == nil {
			return nil
		}
		p.logger.Warn("task pool rejected sender, running it locally", "error", err)
	}

	if err := p.local.Submit(tracked); err != nil {
		p.wg.Done()
		return err
	}
	return nil
}

func (p *senderPool) shutdown(graceful, forced time.Duration, cancel func()) bool {
	if p.external == nil {
		return p.local.Shutdown(graceful, forced, cancel)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	ok := awaitShutdown(done, graceful, forced, cancel)
	p.local.closed.Store(true)
	return ok
}

func awaitShutdown(done <-chan struct{}, graceful, forced time.Duration, cancel func()) bool {
	if waitDone(done, graceful) {
		return true
	}
	if cancel != nil {
		cancel()
	}
	return waitDone(done, forced)
}

// waitDone waits up to d for done to close.
func waitDone(done <-chan struct{}, d time.Duration) bool {
	select {
	case <-done:
		return true
	default:
	}
	if d <= 0 {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

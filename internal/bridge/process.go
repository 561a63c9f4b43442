package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a running worker. The supervisor is its only owner.
type Process interface {
	Pid() int
	Stdin() io.WriteCloser
	// Stdout carries the worker's stdout and stderr interleaved.
	Stdout() io.ReadCloser
	Alive() bool
	Done() <-chan struct{}
	// ExitErr is the Wait result; only meaningful once Done is closed.
	ExitErr() error
	Terminate() error
	Kill() error
}

// ProcessStarter spawns worker processes.
type ProcessStarter interface {
	Start(ctx context.Context, path string, args []string) (Process, error)
}

// ExecStarter spawns workers with os/exec.
type ExecStarter struct {
	Dir string
	Env []string
}

// Start launches path with stderr merged into stdout.
func (s ExecStarter) Start(ctx context.Context, path string, args []string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Not CommandContext: termination is managed by the supervisor.
	cmd := exec.Command(path, args...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	// A plain pipe instead of StdoutPipe: Wait must not close the read end
	// while the receiver is still draining it.
	pr, pw, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}
	_ = pw.Close()

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: pr,
		done:   make(chan struct{}),
	}
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	done    chan struct{}
	exitErr error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) Terminate() error { return p.cmd.Process.Signal(terminateSignal) }
func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

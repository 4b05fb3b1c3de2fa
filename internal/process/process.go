package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sys/unix"
)

// ErrNotRunning is returned when a signalled process no longer exists.
var ErrNotRunning = errors.New("process not running")

const pollInterval = 25 * time.Millisecond

// Spec describes a child that must outlive the invoking command.
type Spec struct {
	Path   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Child is a started detached process.
type Child struct {
	PID int

	exited chan struct{}
	err    error
}

// Start launches spec in its own session with no stdin so that it survives
// the parent exiting and does not receive the terminal's signals.
func Start(spec Spec) (*Child, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	child := &Child{PID: cmd.Process.Pid, exited: make(chan struct{})}
	go func() {
		child.err = cmd.Wait()
		close(child.exited)
	}()
	return child, nil
}

// Exited is closed when the child has been reaped by this process.
func (c *Child) Exited() <-chan struct{} {
	return c.exited
}

// Err returns the wait result once Exited is closed.
func (c *Child) Err() error {
	<-c.exited
	return c.err
}

// Alive reports whether pid refers to a running process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Signal delivers sig to pid.
func Signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return ErrNotRunning
	}
	if err := unix.Kill(pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrNotRunning
		}
		return fmt.Errorf("signal %d: %w", pid, err)
	}
	return nil
}

// Terminate sends sig and waits up to grace for pid to exit, escalating to
// SIGKILL afterwards. ErrNotRunning means the process was already gone.
func Terminate(ctx context.Context, clk clock.Clock, pid int, sig unix.Signal, grace time.Duration) error {
	if err := Signal(pid, sig); err != nil {
		return err
	}
	if waitExit(ctx, clk, pid, grace) {
		return nil
	}
	if err := Signal(pid, unix.SIGKILL); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return nil
		}
		return err
	}
	if waitExit(ctx, clk, pid, time.Second) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("process %d did not exit after SIGKILL", pid)
}

func waitExit(ctx context.Context, clk clock.Clock, pid int, limit time.Duration) bool {
	deadline := clk.Now().Add(limit)
	for {
		if !Alive(pid) {
			return true
		}
		if !clk.Now().Before(deadline) || ctx.Err() != nil {
			return false
		}
		clk.Sleep(pollInterval)
	}
}

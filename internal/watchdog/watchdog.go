package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"dictate/internal/process"
	"dictate/internal/timer"
)

// ProcessWatchdog arms a detached copy of the running binary that stops the
// session when its timeout expires.
type ProcessWatchdog struct {
	executable string
	baseArgs   []string
	logger     zerolog.Logger
}

// New returns a watchdog that runs executable with baseArgs followed by the
// watchdog subcommand.
func New(executable string, baseArgs []string, logger zerolog.Logger) *ProcessWatchdog {
	return &ProcessWatchdog{
		executable: executable,
		baseArgs:   baseArgs,
		logger:     logger.With().Str("component", "watchdog").Logger(),
	}
}

// Args returns the command line the detached watchdog runs with.
func (w *ProcessWatchdog) Args(sessionID string, nonce string, timeout time.Duration) []string {
	args := append([]string{}, w.baseArgs...)
	return append(args, "watchdog", "--session", sessionID, "--nonce", nonce, "--timeout", timeout.String())
}

func (w *ProcessWatchdog) Arm(_ context.Context, sessionID string, nonce string, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, fmt.Errorf("watchdog timeout must be positive, got %s", timeout)
	}
	child, err := process.Start(process.Spec{Path: w.executable, Args: w.Args(sessionID, nonce, timeout)})
	if err != nil {
		return 0, fmt.Errorf("failed to arm watchdog: %w", err)
	}
	w.logger.Debug().Int("pid", child.PID).Str("session", sessionID).Dur("timeout", timeout).Msg("watchdog armed")
	return child.PID, nil
}

// Disarm terminates the watchdog. A watchdog that already fired or exited is
// not an error.
func (w *ProcessWatchdog) Disarm(_ context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	err := process.Signal(pid, unix.SIGTERM)
	if errors.Is(err, process.ErrNotRunning) {
		w.logger.Debug().Int("pid", pid).Msg("watchdog already gone")
		return nil
	}
	return err
}

// Await blocks until timeout elapses on clk and reports true, or returns
// false when ctx is cancelled first (the disarmed case).
func Await(ctx context.Context, clk clock.Clock, timeout time.Duration) bool {
	return timer.Wait(ctx, clk, timeout)
}

package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"dictate/internal/domain"
	"dictate/internal/notify"
	"dictate/internal/usecase"
	"dictate/internal/watchdog"
)

// NewWatchdogCmd is run detached by start. It stops the session it was armed
// for once the timeout elapses; SIGTERM disarms it.
func NewWatchdogCmd(deps *Dependencies) *cobra.Command {
	var (
		sessionID string
		nonce     string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:    "watchdog",
		Short:  "Stop a session after a timeout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.Services()
			if err != nil {
				return err
			}
			logger := services.Logger.With().Str("session", sessionID).Logger()

			if !watchdog.Await(cmd.Context(), services.Clock, timeout) {
				logger.Debug().Msg("watchdog disarmed")
				return nil
			}
			logger.Info().Dur("timeout", timeout).Msg("watchdog expired, stopping session")

			_, err = services.Controller.Stop(context.WithoutCancel(cmd.Context()), usecase.StopRequest{
				Trigger:   domain.StopTriggerWatchdog,
				SessionID: sessionID,
				Nonce:     nonce,
			})
			if errors.Is(err, domain.ErrNoActiveSession) || errors.Is(err, domain.ErrSessionMismatch) {
				logger.Debug().Err(err).Msg("session already ended")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session to stop")
	cmd.Flags().StringVar(&nonce, "nonce", "", "lock holder the session was armed with")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "time before the session is stopped")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("nonce")
	_ = cmd.MarkFlagRequired("timeout")
	return cmd
}

// NewDismissCmd is run detached after a completion notification to close it.
func NewDismissCmd(deps *Dependencies) *cobra.Command {
	var (
		id    uint32
		after time.Duration
	)
	cmd := &cobra.Command{
		Use:    "dismiss",
		Short:  "Close a notification after a delay",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.Services()
			if err != nil {
				return err
			}
			closed, err := notify.Dismiss(cmd.Context(), services.Notifications, services.Store, services.Clock, id, after)
			if err != nil {
				return err
			}
			services.Logger.Debug().Uint32("id", id).Bool("closed", closed).Msg("notification dismissal finished")
			return nil
		},
	}
	cmd.Flags().Uint32Var(&id, "id", 0, "notification id")
	cmd.Flags().DurationVar(&after, "after", 0, "delay before closing")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

package cli

import (
	"github.com/spf13/cobra"

	"dictate/internal/output"
	"dictate/internal/usecase"
)

func NewStartCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start recording",
		Long:  "Start a background microphone recording. Does nothing if a recording is already running.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.Services()
			if err != nil {
				return err
			}
			result, err := services.Controller.Start(cmd.Context())
			if err != nil {
				return err
			}
			output.NewFormatter(cmd.OutOrStdout()).Started(result)
			return nil
		},
	}
}

func NewStopCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop recording and transcribe",
		Long:  "Stop the active recording, transcribe it, save the transcript and deliver the text.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.Services()
			if err != nil {
				return err
			}
			result, err := services.Controller.Stop(cmd.Context(), usecase.StopRequest{})
			if err != nil {
				return err
			}
			output.NewFormatter(cmd.OutOrStdout()).Stopped(result)
			return nil
		},
	}
}

func NewToggleCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Stop the active recording, or start one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.Services()
			if err != nil {
				return err
			}
			result, err := services.Controller.Toggle(cmd.Context())
			if err != nil {
				return err
			}
			f := output.NewFormatter(cmd.OutOrStdout())
			if result.Stopped != nil {
				f.Stopped(*result.Stopped)
			} else if result.Started != nil {
				f.Started(*result.Started)
			}
			return nil
		},
	}
}

func NewStatusCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.Services()
			if err != nil {
				return err
			}
			status, err := services.Controller.Status(cmd.Context())
			if err != nil {
				return err
			}
			output.NewFormatter(cmd.OutOrStdout()).Status(status, services.Clock.Now())
			return nil
		},
	}
}

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dictate/internal/bootstrap"
	"dictate/internal/config"
	"dictate/internal/logging"
	"dictate/internal/version"
)

var errMissingCommand = errors.New("missing command")

// Dependencies carries what commands need. Services are built on first use so
// that usage errors and --version never touch the config file.
type Dependencies struct {
	ConfigPath string
	Stderr     io.Writer
	Build      func(configPath string) (*bootstrap.Services, error)

	services *bootstrap.Services
}

func NewDependencies(stderr io.Writer) *Dependencies {
	return &Dependencies{
		Stderr: stderr,
		Build: func(configPath string) (*bootstrap.Services, error) {
			return bootstrap.Build(configPath, bootstrap.Options{Console: stderr})
		},
	}
}

// Services loads the config and wires the runtime graph once.
func (d *Dependencies) Services() (*bootstrap.Services, error) {
	if d.services != nil {
		return d.services, nil
	}
	path := d.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	services, err := d.Build(path)
	if err != nil {
		return nil, err
	}
	d.services = services
	return services, nil
}

// Logger returns the configured logger, or a console logger when the
// config never loaded.
func (d *Dependencies) Logger() zerolog.Logger {
	if d.services != nil {
		return d.services.Logger
	}
	return logging.Console(d.Stderr)
}

func (d *Dependencies) Close() error {
	if d.services == nil {
		return nil
	}
	return d.services.Close()
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dictate",
		Short:         "Record speech, transcribe it, and paste the text",
		Long:          "A hotkey-driven dictation tool: start and stop a microphone recording, send it to an OpenAI-compatible transcription endpoint, and deliver the text to the clipboard and the focused window.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
			return errMissingCommand
		},
	}

	rootCmd.Version = version.Get().Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVar(&deps.ConfigPath, "config", "", "path to the config file (default "+config.DefaultPath()+")")

	rootCmd.AddCommand(NewStartCmd(deps))
	rootCmd.AddCommand(NewStopCmd(deps))
	rootCmd.AddCommand(NewToggleCmd(deps))
	rootCmd.AddCommand(NewStatusCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewWatchdogCmd(deps))
	rootCmd.AddCommand(NewDismissCmd(deps))

	return rootCmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}

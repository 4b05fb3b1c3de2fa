package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"dictate/internal/config"
	"dictate/internal/notify"
	"dictate/internal/output"
	"dictate/internal/rules"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())
			ok := true
			check := func(name string, passed bool, detail string) {
				f.SetupCheck(name, passed, detail)
				ok = ok && passed
			}

			recorder, prober := "ffmpeg", "ffprobe"
			services, err := deps.Services()
			if err != nil {
				check("Config", false, err.Error())
			} else {
				cfg := services.Config
				check("Config", true, cfg.File)
				recorder, prober = cfg.Audio.RecorderCommand, cfg.Audio.ProbeCommand
				check("Transcription", true, cfg.Transcription.Model+" via "+cfg.Transcription.Endpoint)
				check("Data directory", true, cfg.Paths.BaseDir)
				checkRules(cfg, check)
				checkNotifications(cmd.Context(), services.Notifications, check)
			}

			for _, bin := range []string{recorder, prober} {
				if path, err := exec.LookPath(bin); err != nil {
					check(bin, false, "not found on PATH. Install ffmpeg")
				} else {
					check(bin, true, path)
				}
			}

			if ok {
				f.Success("\nAll prerequisites met.")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}

func checkRules(cfg *config.Config, check func(string, bool, string)) {
	if _, err := os.Stat(cfg.Rules.Path); cfg.Rules.Path == "" || errors.Is(err, os.ErrNotExist) {
		check("Rules", true, "none configured")
		return
	}
	engine, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		check("Rules", false, err.Error())
		return
	}
	check("Rules", true, fmt.Sprintf("%s (%d rules)", cfg.Rules.Path, engine.Len()))
}

func checkNotifications(ctx context.Context, backend notify.Backend, check func(string, bool, string)) {
	switch b := backend.(type) {
	case notify.Discard:
		check("Notifications", true, "disabled")
	case *notify.DBus:
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := b.Ping(ctx); err != nil {
			check("Notifications", false, "no D-Bus notification daemon: "+err.Error())
			return
		}
		check("Notifications", true, "D-Bus notification daemon reachable")
	default:
		check("Notifications", true, "desktop fallback")
	}
}

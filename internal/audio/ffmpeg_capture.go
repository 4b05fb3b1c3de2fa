package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"dictate/internal/process"
	"dictate/internal/timer"
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	StartGrace  time.Duration
	StopTimeout time.Duration
	SettleDelay time.Duration
}

// FFMPEGCapture records the microphone to a WAV file with a detached ffmpeg.
type FFMPEGCapture struct {
	cfg    CaptureConfig
	clock  clock.Clock
	logger zerolog.Logger
}

func NewFFMPEGCapture(cfg CaptureConfig, clk clock.Clock, logger zerolog.Logger) *FFMPEGCapture {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.StartGrace <= 0 {
		cfg.StartGrace = 250 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 3 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &FFMPEGCapture{cfg: cfg, clock: clk, logger: logger.With().Str("component", "recorder").Logger()}
}

// StartCapture launches ffmpeg writing to outputPath and returns its pid once
// it has survived the start grace period.
func (c *FFMPEGCapture) StartCapture(ctx context.Context, outputPath string) (int, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.cfg.InputFormat,
		"-i", c.cfg.InputDevice,
		"-ac", strconv.Itoa(c.cfg.Channels),
		"-ar", strconv.Itoa(c.cfg.SampleRate),
		"-y",
		outputPath,
	}

	logPath := CaptureLogPath(outputPath)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to open ffmpeg log: %w", err)
	}
	defer logFile.Close()

	child, err := process.Start(process.Spec{
		Path:   c.cfg.Command,
		Args:   args,
		Stdout: logFile,
		Stderr: logFile,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	select {
	case <-child.Exited():
		detail := readLogTail(logPath)
		if err := child.Err(); err != nil {
			return 0, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail)
		}
		return 0, fmt.Errorf("ffmpeg exited before capture started: %s", detail)
	case <-c.clock.After(c.cfg.StartGrace):
	case <-ctx.Done():
		_ = process.Signal(child.PID, unix.SIGKILL)
		return 0, ctx.Err()
	}

	c.logger.Debug().Int("pid", child.PID).Str("path", outputPath).Msg("capture started")
	return child.PID, nil
}

// StopCapture interrupts the recorder so ffmpeg finalizes the WAV header,
// kills it if it overstays, then waits out the settle delay so the last
// buffered audio reaches the file.
func (c *FFMPEGCapture) StopCapture(ctx context.Context, pid int) error {
	err := process.Terminate(ctx, c.clock, pid, unix.SIGINT, c.cfg.StopTimeout)
	if errors.Is(err, process.ErrNotRunning) {
		c.logger.Warn().Int("pid", pid).Msg("recorder was not running at stop")
		err = nil
	}
	if err != nil {
		return fmt.Errorf("failed to stop ffmpeg: %w", err)
	}

	if !timer.Wait(ctx, c.clock, c.cfg.SettleDelay) {
		return ctx.Err()
	}
	return nil
}

// CaptureLogPath returns where the recorder's diagnostics for outputPath go.
func CaptureLogPath(outputPath string) string {
	return outputPath + ".ffmpeg.log"
}

func readLogTail(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	data = bytes.TrimSpace(data)
	if len(data) > 512 {
		data = data[len(data)-512:]
	}
	return string(data)
}

package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"dictate/internal/audio"
	"dictate/internal/config"
	"dictate/internal/delivery"
	"dictate/internal/logging"
	"dictate/internal/notify"
	"dictate/internal/ports"
	"dictate/internal/process"
	"dictate/internal/providers/openai"
	"dictate/internal/rules"
	"dictate/internal/state"
	"dictate/internal/stats"
	"dictate/internal/usecase"
	"dictate/internal/watchdog"
)

// Services is the assembled runtime graph.
type Services struct {
	Config        *config.Config
	Logger        zerolog.Logger
	Clock         clock.Clock
	Store         *state.Store
	Notifications notify.Backend
	Controller    *usecase.SessionController

	closer io.Closer
}

// Close releases the error log.
func (s *Services) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Options override process-level inputs, mainly for tests.
type Options struct {
	// Executable is re-run for the detached watchdog and dismissal.
	Executable string
	Console    io.Writer
}

// Build wires all dependencies from the config file at configPath.
func Build(configPath string, opts Options) (*Services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		ErrorLog: cfg.ErrorLogPath(),
		Console:  opts.Console,
	})
	if err != nil {
		return nil, err
	}

	store, err := state.Open(cfg.StateDBPath())
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}

	executable, baseArgs, err := selfCommand(opts.Executable, cfg.File)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	clk := clock.New()

	engine, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Rules.Path).Msg("ignoring unusable rules file")
		engine = rules.Identity()
	} else {
		logger.Debug().Str("path", cfg.Rules.Path).Int("rules", engine.Len()).Msg("rules loaded")
	}

	backend := notificationBackend(cfg)
	events := notify.NewNotifier(
		backend,
		store,
		notify.NewProcessDismisser(executable, baseArgs, logger),
		cfg.Session.DismissDelay,
		cfg.Notifications.AppName,
		logger,
	)

	var paster ports.Paster
	if len(cfg.Delivery.PasteCommand) > 0 {
		paster = delivery.NewCommandPaster(cfg.Delivery.PasteCommand, clk, cfg.Delivery.PasteDelay)
	} else {
		paster = delivery.NewKeyboardPaster(clk, cfg.Delivery.PasteDelay)
	}

	controller := usecase.NewSessionController(usecase.Dependencies{
		Store: store,
		Recorder: audio.NewFFMPEGCapture(audio.CaptureConfig{
			Command:     cfg.Audio.RecorderCommand,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			StartGrace:  cfg.Audio.StartGrace,
			StopTimeout: cfg.Audio.StopTimeout,
			SettleDelay: cfg.Audio.SettleDelay,
		}, clk, logger),
		Watchdog:   watchdog.New(executable, baseArgs, logger),
		Inspector:  audio.WAVInspector{},
		Transcoder: audio.NewFFMPEGTranscoder(cfg.Audio.RecorderCommand, cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.Bitrate),
		Prober:     audio.NewFFProbe(cfg.Audio.ProbeCommand),
		Provider: openai.NewProvider(openai.Config{
			APIKey:     cfg.Transcription.APIKey,
			Endpoint:   cfg.Transcription.Endpoint,
			Model:      cfg.Transcription.Model,
			Language:   cfg.Transcription.Language,
			Timeout:    cfg.Transcription.Timeout,
			MaxRetries: cfg.Transcription.MaxRetries,
		}, &http.Client{}, logger),
		Rules:     engine,
		Clipboard: delivery.SystemClipboard{},
		Paster:    paster,
		Stats:     stats.NewTable(cfg.StatsTablePath()),
		Metrics:   stats.NewTextfile(cfg.MetricsPath()),
		Events:    events,
		Clock:     clk,
		Logger:    logger,
		Alive:     process.Alive,
	}, usecase.Config{
		RecordingsDir:   cfg.RecordingsDir(),
		WatchdogTimeout: cfg.Session.WatchdogTimeout,
		Model:           cfg.Transcription.Model,
		Language:        cfg.Transcription.Language,
		KeepCompressed:  cfg.Audio.KeepCompressed,
		Clipboard:       cfg.Delivery.Clipboard,
		Paste:           cfg.Delivery.Paste,
	})

	return &Services{
		Config:        cfg,
		Logger:        logger,
		Clock:         clk,
		Store:         store,
		Notifications: backend,
		Controller:    controller,
		closer:        closer,
	}, nil
}

func notificationBackend(cfg *config.Config) notify.Backend {
	switch {
	case !cfg.Notifications.Enabled:
		return notify.Discard{}
	case cfg.Notifications.Backend == "beeep":
		return notify.NewBeeep()
	default:
		return notify.NewDBus(cfg.Notifications.AppName)
	}
}

// selfCommand returns how detached helpers re-invoke this binary with the
// same config file.
func selfCommand(executable string, configFile string) (string, []string, error) {
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return "", nil, fmt.Errorf("locate executable: %w", err)
		}
		executable = self
	}
	if configFile == "" {
		return executable, nil, errors.New("config file path is unknown")
	}
	abs, err := filepath.Abs(configFile)
	if err != nil {
		return "", nil, fmt.Errorf("resolve config path: %w", err)
	}
	return executable, []string{"--config", abs}, nil
}

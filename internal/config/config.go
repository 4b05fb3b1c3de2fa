package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dictate/internal/domain"
)

// Config stores runtime configuration.
type Config struct {
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Paths         PathsConfig         `mapstructure:"paths"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Session       SessionConfig       `mapstructure:"session"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Delivery      DeliveryConfig      `mapstructure:"delivery"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Logging       LoggingConfig       `mapstructure:"logging"`

	// File is the config file the values were read from.
	File string `mapstructure:"-"`
}

type TranscriptionConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Endpoint   string        `mapstructure:"endpoint"`
	Language   string        `mapstructure:"language"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type PathsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

type AudioConfig struct {
	RecorderCommand string        `mapstructure:"recorder_command"`
	ProbeCommand    string        `mapstructure:"probe_command"`
	InputFormat     string        `mapstructure:"input_format"`
	InputDevice     string        `mapstructure:"input_device"`
	SampleRate      int           `mapstructure:"sample_rate"`
	Channels        int           `mapstructure:"channels"`
	Bitrate         string        `mapstructure:"bitrate"`
	KeepCompressed  bool          `mapstructure:"keep_compressed"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	StartGrace      time.Duration `mapstructure:"start_grace"`
}

type SessionConfig struct {
	WatchdogTimeout time.Duration `mapstructure:"watchdog_timeout"`
	DismissDelay    time.Duration `mapstructure:"dismiss_delay"`
}

type NotificationsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	AppName string `mapstructure:"app_name"`
}

type DeliveryConfig struct {
	Clipboard    bool          `mapstructure:"clipboard"`
	Paste        bool          `mapstructure:"paste"`
	PasteCommand []string      `mapstructure:"paste_command"`
	PasteDelay   time.Duration `mapstructure:"paste_delay"`
}

type RulesConfig struct {
	Path           string `mapstructure:"path"`
	IterationLimit int    `mapstructure:"iteration_limit"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultPath returns $XDG_CONFIG_HOME/dictate/config.yaml.
func DefaultPath() string {
	return filepath.Join(configHome(), "dictate", "config.yaml")
}

// Load reads the YAML file at configPath, falling back to DefaultPath, and
// applies DICTATE_* environment overrides. Every failure wraps
// domain.ErrConfig.
func Load(configPath string) (*Config, error) {
	if strings.TrimSpace(configPath) == "" {
		configPath = DefaultPath()
	}
	if _, err := os.Stat(configPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: config file %s not found", domain.ErrConfig, configPath)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DICTATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", domain.ErrConfig, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", domain.ErrConfig, err)
	}
	cfg.File = configPath

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Required keys get empty defaults so env overrides are visible to Unmarshal.
	v.SetDefault("transcription.api_key", "")
	v.SetDefault("transcription.model", "")
	v.SetDefault("transcription.endpoint", "")
	v.SetDefault("transcription.language", "")
	v.SetDefault("transcription.timeout", 120*time.Second)
	v.SetDefault("transcription.max_retries", 1)

	v.SetDefault("paths.base_dir", filepath.Join(dataHome(), "dictate"))

	v.SetDefault("audio.recorder_command", "ffmpeg")
	v.SetDefault("audio.probe_command", "ffprobe")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.bitrate", "64k")
	v.SetDefault("audio.keep_compressed", true)
	v.SetDefault("audio.settle_delay", 200*time.Millisecond)
	v.SetDefault("audio.stop_timeout", 3*time.Second)
	v.SetDefault("audio.start_grace", 250*time.Millisecond)

	v.SetDefault("session.watchdog_timeout", time.Hour)
	v.SetDefault("session.dismiss_delay", 2*time.Second)

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.backend", "dbus")
	v.SetDefault("notifications.app_name", "dictate")

	v.SetDefault("delivery.clipboard", true)
	v.SetDefault("delivery.paste", true)
	v.SetDefault("delivery.paste_command", []string{})
	v.SetDefault("delivery.paste_delay", 2*time.Second)

	v.SetDefault("rules.path", filepath.Join(configHome(), "dictate", "substitutions.rules"))
	v.SetDefault("rules.iteration_limit", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func validate(cfg *Config) error {
	cfg.Transcription.APIKey = strings.TrimSpace(cfg.Transcription.APIKey)
	cfg.Transcription.Model = strings.TrimSpace(cfg.Transcription.Model)
	cfg.Transcription.Endpoint = strings.TrimSpace(cfg.Transcription.Endpoint)

	var missing []string
	if cfg.Transcription.APIKey == "" {
		missing = append(missing, "transcription.api_key")
	}
	if cfg.Transcription.Model == "" {
		missing = append(missing, "transcription.model")
	}
	if cfg.Transcription.Endpoint == "" {
		missing = append(missing, "transcription.endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required value(s): %s", strings.Join(missing, ", "))
	}

	if strings.TrimSpace(cfg.Paths.BaseDir) == "" {
		return errors.New("paths.base_dir cannot be empty")
	}
	cfg.Paths.BaseDir = expandHome(cfg.Paths.BaseDir)
	cfg.Rules.Path = expandHome(cfg.Rules.Path)

	if cfg.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive, got %d", cfg.Audio.Channels)
	}
	if cfg.Session.WatchdogTimeout <= 0 {
		return fmt.Errorf("session.watchdog_timeout must be positive, got %s", cfg.Session.WatchdogTimeout)
	}
	if cfg.Transcription.Timeout <= 0 {
		return fmt.Errorf("transcription.timeout must be positive, got %s", cfg.Transcription.Timeout)
	}
	if cfg.Transcription.MaxRetries < 0 {
		return fmt.Errorf("transcription.max_retries cannot be negative, got %d", cfg.Transcription.MaxRetries)
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}

	switch cfg.Notifications.Backend {
	case "dbus", "beeep":
	default:
		return fmt.Errorf("notifications.backend must be dbus or beeep, got %q", cfg.Notifications.Backend)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", cfg.Logging.Level)
	}
	return nil
}

// RecordingsDir holds per-session audio, transcript and stats files.
func (c *Config) RecordingsDir() string {
	return filepath.Join(c.Paths.BaseDir, "recordings")
}

func (c *Config) StatsTablePath() string {
	return filepath.Join(c.Paths.BaseDir, "stats.tsv")
}

func (c *Config) StateDBPath() string {
	return filepath.Join(c.Paths.BaseDir, "state", "state.db")
}

func (c *Config) ErrorLogPath() string {
	return filepath.Join(c.Paths.BaseDir, "error.log")
}

func (c *Config) MetricsPath() string {
	return filepath.Join(c.Paths.BaseDir, "metrics.prom")
}

// EnsureDirs creates the base layout.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.BaseDir, c.RecordingsDir(), filepath.Dir(c.StateDBPath())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func configHome() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return dir
	}
	return filepath.Join(homeDir(), ".config")
}

func dataHome() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dir != "" {
		return dir
	}
	return filepath.Join(homeDir(), ".local", "share")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

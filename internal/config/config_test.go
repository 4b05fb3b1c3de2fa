package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dictate/internal/domain"
)

const minimalConfig = `
transcription:
  api_key: sk-test
  model: whisper-1
  endpoint: https://example.com/v1/audio/transcriptions
`

func TestLoadAppliesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Paths.BaseDir != filepath.Join(home, ".local", "share", "dictate") {
		t.Fatalf("unexpected base dir %q", cfg.Paths.BaseDir)
	}
	if cfg.Rules.Path != filepath.Join(home, ".config", "dictate", "substitutions.rules") {
		t.Fatalf("unexpected rules path %q", cfg.Rules.Path)
	}
	if cfg.Transcription.Timeout != 120*time.Second || cfg.Transcription.MaxRetries != 1 {
		t.Fatalf("unexpected transcription defaults: %+v", cfg.Transcription)
	}
	if cfg.Session.WatchdogTimeout != time.Hour || cfg.Session.DismissDelay != 2*time.Second {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Audio.RecorderCommand != "ffmpeg" || cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Audio.SettleDelay != 200*time.Millisecond || !cfg.Audio.KeepCompressed {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if !cfg.Delivery.Clipboard || !cfg.Delivery.Paste || len(cfg.Delivery.PasteCommand) != 0 {
		t.Fatalf("unexpected delivery defaults: %+v", cfg.Delivery)
	}
	if cfg.Notifications.Backend != "dbus" || cfg.Logging.Level != "info" || cfg.Rules.IterationLimit != 30 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRespectsFileAndEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DICTATE_TRANSCRIPTION_API_KEY", "sk-from-env")
	t.Setenv("DICTATE_AUDIO_SAMPLE_RATE", "48000")
	t.Setenv("DICTATE_SESSION_WATCHDOG_TIMEOUT", "90s")

	path := writeConfig(t, minimalConfig+`
paths:
  base_dir: ~/dictations
audio:
  input_device: alsa_input.usb
  settle_delay: 500ms
delivery:
  paste_command: ["wtype", "-M", "ctrl", "v"]
notifications:
  backend: beeep
logging:
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Transcription.APIKey != "sk-from-env" {
		t.Fatalf("expected env api key, got %q", cfg.Transcription.APIKey)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.InputDevice != "alsa_input.usb" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.SettleDelay != 500*time.Millisecond || cfg.Session.WatchdogTimeout != 90*time.Second {
		t.Fatalf("unexpected durations: settle=%s watchdog=%s", cfg.Audio.SettleDelay, cfg.Session.WatchdogTimeout)
	}
	if strings.Join(cfg.Delivery.PasteCommand, " ") != "wtype -M ctrl v" {
		t.Fatalf("unexpected paste command %q", cfg.Delivery.PasteCommand)
	}
	if !strings.HasSuffix(cfg.Paths.BaseDir, "dictations") || strings.HasPrefix(cfg.Paths.BaseDir, "~") {
		t.Fatalf("expected expanded base dir, got %q", cfg.Paths.BaseDir)
	}
	if cfg.Notifications.Backend != "beeep" || cfg.Logging.Format != "json" || cfg.File != path {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadMissingRequiredValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := Load(writeConfig(t, "transcription:\n  model: whisper-1\n"))
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	for _, key := range []string{"transcription.api_key", "transcription.endpoint"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error %q", key, err.Error())
		}
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cases := map[string]string{
		"backend":  minimalConfig + "notifications:\n  backend: smoke-signals\n",
		"format":   minimalConfig + "logging:\n  format: xml\n",
		"rate":     minimalConfig + "audio:\n  sample_rate: 0\n",
		"watchdog": minimalConfig + "session:\n  watchdog_timeout: 0s\n",
		"retries":  strings.TrimRight(minimalConfig, "\n") + "\n  max_retries: -1\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); !errors.Is(err, domain.ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", name, err)
		}
	}
}

func TestPathHelpers(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{Paths: PathsConfig{BaseDir: base}}

	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs failed: %v", err)
	}
	for _, dir := range []string{cfg.RecordingsDir(), filepath.Dir(cfg.StateDBPath())} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if cfg.StatsTablePath() != filepath.Join(base, "stats.tsv") ||
		cfg.ErrorLogPath() != filepath.Join(base, "error.log") ||
		cfg.MetricsPath() != filepath.Join(base, "metrics.prom") {
		t.Fatalf("unexpected layout under %s", base)
	}
}

func TestDefaultPathUsesXDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if got := DefaultPath(); got != filepath.Join(dir, "dictate", "config.yaml") {
		t.Fatalf("unexpected default path %q", got)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

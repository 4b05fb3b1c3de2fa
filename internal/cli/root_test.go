package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"dictate/internal/bootstrap"
	"dictate/internal/domain"
)

func init() {
	color.NoColor = true
}

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, deps *Dependencies, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd(deps)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func testDeps(t *testing.T) *Dependencies {
	t.Helper()
	var console bytes.Buffer
	deps := NewDependencies(&console)
	deps.Build = func(configPath string) (*bootstrap.Services, error) {
		return bootstrap.Build(configPath, bootstrap.Options{Executable: "/usr/local/bin/dictate", Console: &console})
	}
	t.Cleanup(func() { _ = deps.Close() })
	return deps
}

func writeConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	contents := `
transcription:
  api_key: sk-test
  model: whisper-1
  endpoint: https://example.com/v1/audio/transcriptions
paths:
  base_dir: ` + filepath.Join(base, "data") + `
notifications:
  enabled: false
logging:
  format: json
`
	path := filepath.Join(base, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestRootWithoutCommandPrintsUsage(t *testing.T) {
	res := execute(t, testDeps(t))
	if !errors.Is(res.err, errMissingCommand) {
		t.Fatalf("expected missing command error, got %v", res.err)
	}
	if !strings.Contains(res.stderr, "Usage:") || !strings.Contains(res.stderr, "toggle") {
		t.Fatalf("expected usage on stderr, got %q", res.stderr)
	}
	if res.stdout != "" {
		t.Fatalf("expected empty stdout, got %q", res.stdout)
	}
}

func TestUnknownCommand(t *testing.T) {
	res := execute(t, testDeps(t), "record")
	if res.err == nil || !strings.Contains(res.err.Error(), `unknown command "record"`) {
		t.Fatalf("expected unknown command error, got %v", res.err)
	}
}

func TestHiddenCommandsStayOutOfUsage(t *testing.T) {
	res := execute(t, testDeps(t), "--help")
	if res.err != nil {
		t.Fatalf("help failed: %v", res.err)
	}
	if strings.Contains(res.stdout, "watchdog") || strings.Contains(res.stdout, "dismiss") {
		t.Fatalf("hidden commands listed:\n%s", res.stdout)
	}
}

func TestVersion(t *testing.T) {
	res := execute(t, testDeps(t), "version")
	if res.err != nil || !strings.HasPrefix(res.stdout, "dictate ") || !strings.Contains(res.stdout, "commit ") {
		t.Fatalf("unexpected version output %q err=%v", res.stdout, res.err)
	}
}

func TestMissingConfigIsConfigError(t *testing.T) {
	res := execute(t, testDeps(t), "--config", filepath.Join(t.TempDir(), "none.yaml"), "status")
	if !errors.Is(res.err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", res.err)
	}
}

func TestStatusIdle(t *testing.T) {
	res := execute(t, testDeps(t), "--config", writeConfig(t), "status")
	if res.err != nil {
		t.Fatalf("status failed: %v", res.err)
	}
	if !strings.Contains(res.stdout, "State: idle") {
		t.Fatalf("unexpected status output %q", res.stdout)
	}
}

func TestStopWithoutSession(t *testing.T) {
	res := execute(t, testDeps(t), "--config", writeConfig(t), "stop")
	if !errors.Is(res.err, domain.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", res.err)
	}
}

func TestWatchdogWithoutSessionIsNoOp(t *testing.T) {
	res := execute(t, testDeps(t), "--config", writeConfig(t), "watchdog", "--session", "20240501T120000Z", "--nonce", "n-1", "--timeout", "1ms")
	if res.err != nil {
		t.Fatalf("expired watchdog with no session must exit cleanly: %v", res.err)
	}
}

func TestWatchdogRequiresSession(t *testing.T) {
	res := execute(t, testDeps(t), "--config", writeConfig(t), "watchdog", "--nonce", "n-1", "--timeout", "1ms")
	if res.err == nil || !strings.Contains(res.err.Error(), "session") {
		t.Fatalf("expected required flag error, got %v", res.err)
	}
}

func TestDismissClearsRememberedHandle(t *testing.T) {
	deps := testDeps(t)
	deps.ConfigPath = writeConfig(t)
	services, err := deps.Services()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	ctx := context.Background()
	if err := services.Store.SetNotificationID(ctx, 7); err != nil {
		t.Fatalf("seed handle: %v", err)
	}

	res := execute(t, deps, "dismiss", "--id", "7", "--after", "0s")
	if res.err != nil {
		t.Fatalf("dismiss failed: %v", res.err)
	}
	id, err := services.Store.NotificationID(ctx)
	if err != nil || id != 0 {
		t.Fatalf("expected cleared handle, got %d err=%v", id, err)
	}
}

func TestDoctorReportsConfigProblems(t *testing.T) {
	res := execute(t, testDeps(t), "--config", filepath.Join(t.TempDir(), "none.yaml"), "doctor")
	if res.err != nil {
		t.Fatalf("doctor should report, not fail: %v", res.err)
	}
	if !strings.Contains(res.stdout, "FAIL Config") || !strings.Contains(res.stdout, "Some prerequisites are missing") {
		t.Fatalf("unexpected doctor output:\n%s", res.stdout)
	}
}

func TestDoctorWithConfig(t *testing.T) {
	res := execute(t, testDeps(t), "--config", writeConfig(t), "doctor")
	if res.err != nil {
		t.Fatalf("doctor failed: %v", res.err)
	}
	for _, want := range []string{"ok   Config", "whisper-1 via https://example.com", "Notifications: disabled", "ok   Rules"} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("expected %q in:\n%s", want, res.stdout)
		}
	}
}

package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"dictate/internal/domain"
)

func init() {
	color.NoColor = true
}

func TestFormatterStatusRecording(t *testing.T) {
	var buf bytes.Buffer
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	status := domain.Status{
		State: domain.SessionStateRecording,
		Session: &domain.Session{
			ID:          "20240501T120000Z",
			AudioPath:   "/data/recordings/20240501T120000Z.wav",
			RecorderPID: 10,
			StartedAt:   started,
		},
		Stale: []domain.Session{{ID: "20240430T080000Z", OwnerPID: 99}},
	}

	NewFormatter(&buf).Status(status, started.Add(75*time.Second))

	out := buf.String()
	for _, want := range []string{
		"State: recording",
		"Session:  20240501T120000Z (1m15s ago)",
		"Recorder: pid 10",
		"20240430T080000Z (pipeline pid 99 is gone",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Watchdog") {
		t.Fatalf("no watchdog line expected:\n%s", out)
	}
}

func TestFormatterStopped(t *testing.T) {
	var buf bytes.Buffer
	record := domain.StatisticsRecord{WordCount: 3, DurationSec: 1.5, WPM: 120, ProcessingSec: 0.5}
	NewFormatter(&buf).Stopped(domain.StopResult{TranscriptPath: "/tmp/x.txt", Stats: &record, Copied: true})

	out := buf.String()
	if !strings.Contains(out, "Transcript saved: /tmp/x.txt") || !strings.Contains(out, "3 words in 1.50s (120.00 WPM)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "copied to clipboard") {
		t.Fatalf("expected delivery line:\n%s", out)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		-time.Second:              "0s",
		42 * time.Second:          "42s",
		61 * time.Second:          "1m01s",
		time.Hour + 2*time.Minute: "1h02m00s",
		1500 * time.Millisecond:   "2s",
	}
	for input, want := range cases {
		if got := formatDuration(input); got != want {
			t.Fatalf("formatDuration(%s) = %q, want %q", input, got, want)
		}
	}
}

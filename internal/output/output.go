package output

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"dictate/internal/domain"
	"dictate/internal/stats"
)

// Formatter prints command results for a terminal.
type Formatter struct {
	w      io.Writer
	green  *color.Color
	yellow *color.Color
	red    *color.Color
	cyan   *color.Color
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{
		w:      w,
		green:  color.New(color.FgGreen, color.Bold),
		yellow: color.New(color.FgYellow, color.Bold),
		red:    color.New(color.FgRed, color.Bold),
		cyan:   color.New(color.FgCyan, color.Bold),
	}
}

func (f *Formatter) Started(result domain.StartResult) {
	if result.AlreadyActive {
		f.yellow.Fprint(f.w, "Already recording")
		fmt.Fprintf(f.w, " (session %s)\n", result.Session.ID)
		return
	}
	f.green.Fprint(f.w, "Recording")
	fmt.Fprintf(f.w, " session %s\n", result.Session.ID)
}

func (f *Formatter) Stopped(result domain.StopResult) {
	f.green.Fprint(f.w, "Transcript")
	fmt.Fprintf(f.w, " saved: %s\n", result.TranscriptPath)
	if result.Stats != nil {
		fmt.Fprintf(f.w, "  %s\n", stats.Summary(*result.Stats))
	}
	switch {
	case result.Pasted:
		fmt.Fprintln(f.w, "  copied and pasted")
	case result.Copied:
		fmt.Fprintln(f.w, "  copied to clipboard")
	}
}

func (f *Formatter) Status(status domain.Status, now time.Time) {
	f.cyan.Fprint(f.w, "State: ")
	switch status.State {
	case domain.SessionStateRecording:
		f.red.Fprint(f.w, "recording")
	case domain.SessionStateProcessing:
		f.yellow.Fprint(f.w, "processing")
	default:
		f.green.Fprint(f.w, "idle")
	}
	fmt.Fprintln(f.w)

	if s := status.Session; s != nil {
		fmt.Fprintf(f.w, "Session:  %s (%s ago)\n", s.ID, formatDuration(now.Sub(s.StartedAt)))
		if s.AudioPath != "" {
			fmt.Fprintf(f.w, "Audio:    %s\n", s.AudioPath)
		}
		if s.RecorderPID > 0 {
			fmt.Fprintf(f.w, "Recorder: pid %d\n", s.RecorderPID)
		}
		if s.WatchdogPID > 0 {
			fmt.Fprintf(f.w, "Watchdog: pid %d\n", s.WatchdogPID)
		}
	}
	for _, stale := range status.Stale {
		f.yellow.Fprint(f.w, "Stale:")
		fmt.Fprintf(f.w, "    %s (pipeline pid %d is gone; audio %s)\n", stale.ID, stale.OwnerPID, stale.AudioPath)
	}
}

func (f *Formatter) Error(msg string) {
	f.red.Fprint(f.w, "error: ")
	fmt.Fprintln(f.w, msg)
}

func (f *Formatter) Success(msg string) {
	f.green.Fprintln(f.w, msg)
}

func (f *Formatter) Warning(msg string) {
	f.yellow.Fprintln(f.w, msg)
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		f.green.Fprint(f.w, "  ok   ")
	} else {
		f.red.Fprint(f.w, "  FAIL ")
	}
	fmt.Fprintf(f.w, "%s: %s\n", name, detail)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

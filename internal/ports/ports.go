package ports

import (
	"context"
	"time"

	"dictate/internal/domain"
)

// Recorder owns the background microphone capture process.
type Recorder interface {
	StartCapture(ctx context.Context, outputPath string) (pid int, err error)
	StopCapture(ctx context.Context, pid int) error
}

// CaptureInspector validates a finished raw capture and reports its length.
type CaptureInspector interface {
	Inspect(ctx context.Context, path string) (time.Duration, error)
}

// Transcoder converts the raw capture into the upload format.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath string, outputPath string) error
}

// DurationProber reads the playable duration of an audio file.
type DurationProber interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
}

// Watchdog bounds how long a session may record.
type Watchdog interface {
	Arm(ctx context.Context, sessionID string, nonce string, timeout time.Duration) (pid int, err error)
	Disarm(ctx context.Context, pid int) error
}

// TranscriptionRequest describes one upload to the transcription service.
type TranscriptionRequest struct {
	AudioPath string
	Model     string
	Language  string
}

// TranscriptionProvider turns a compressed recording into plain text.
type TranscriptionProvider interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// Paster injects the clipboard contents into the focused window.
type Paster interface {
	Paste(ctx context.Context) error
}

// StateStore persists the session lock and everything that must survive
// between short-lived invocations.
type StateStore interface {
	TryAcquire(ctx context.Context, session domain.Session) (domain.Session, bool, error)
	Release(ctx context.Context, sessionID string) error
	IsHeld(ctx context.Context) (bool, error)
	Current(ctx context.Context) (domain.Session, error)
	SetAudioPath(ctx context.Context, sessionID string, path string) error
	SetRecorderPID(ctx context.Context, sessionID string, pid int) error
	SetWatchdogPID(ctx context.Context, sessionID string, pid int) error
	BeginProcessing(ctx context.Context, sessionID string, trigger domain.StopTrigger, ownerPID int, at time.Time) (domain.Session, error)
	Finish(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]domain.Session, error)
	NextStatsTimestamp(ctx context.Context, candidate int64) (int64, error)
	RecordOutcome(ctx context.Context, succeeded bool, last *domain.StatisticsRecord) (domain.Totals, error)
}

// StatsSink persists one statistics record to the table and its sidecar.
type StatsSink interface {
	Record(ctx context.Context, record domain.StatisticsRecord, sidecarPath string) error
}

// MetricsSink publishes running totals.
type MetricsSink interface {
	Publish(ctx context.Context, totals domain.Totals) error
}

// EventSink surfaces session state and errors to the user.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	SessionError(code domain.ErrorCode, detail string)
	SessionCompleted(result domain.StopResult)
}

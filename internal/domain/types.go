package domain

import "time"

// SessionIDLayout formats a session start time into its id and artifact base name.
const SessionIDLayout = "20060102T150405Z"

// SessionState models the recording lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateRecording  SessionState = "recording"
	SessionStateProcessing SessionState = "processing"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonRecordingStarted        SessionStateReason = "recording_started"
	SessionReasonAlreadyRecording        SessionStateReason = "already_recording"
	SessionReasonRecordingStopped        SessionStateReason = "recording_stopped"
	SessionReasonWatchdogExpired         SessionStateReason = "watchdog_expired"
	SessionReasonUploading               SessionStateReason = "uploading"
	SessionReasonTranscriptDelivered     SessionStateReason = "transcript_delivered"
	SessionReasonTranscriptCopied        SessionStateReason = "transcript_copied"
	SessionReasonTranscriptSaved         SessionStateReason = "transcript_saved"
	SessionReasonTranscriptClipboardFail SessionStateReason = "transcript_clipboard_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeNoSession     ErrorCode = "no_session"
	ErrorCodeAudioStart    ErrorCode = "audio_start"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeCapture       ErrorCode = "capture"
	ErrorCodeTranscode     ErrorCode = "transcode"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeTranscript    ErrorCode = "transcript"
	ErrorCodeRules         ErrorCode = "rules"
	ErrorCodeStats         ErrorCode = "stats"
	ErrorCodeClipboard     ErrorCode = "clipboard"
	ErrorCodePaste         ErrorCode = "paste"
)

// StopTrigger records who ended a recording.
type StopTrigger string

const (
	StopTriggerUser     StopTrigger = "user"
	StopTriggerWatchdog StopTrigger = "watchdog"
)

// Session is the persisted unit of work for one recording.
type Session struct {
	ID          string       `json:"id"`
	Nonce       string       `json:"nonce"`
	State       SessionState `json:"state"`
	AudioPath   string       `json:"audioPath,omitempty"`
	RecorderPID int          `json:"recorderPid,omitempty"`
	WatchdogPID int          `json:"watchdogPid,omitempty"`
	OwnerPID    int          `json:"ownerPid,omitempty"`
	Trigger     StopTrigger  `json:"trigger,omitempty"`
	StartedAt   time.Time    `json:"startedAt"`
	StoppedAt   time.Time    `json:"stoppedAt,omitempty"`
}

// NewSessionID derives a session id from its start time.
func NewSessionID(startedAt time.Time) string {
	return startedAt.UTC().Format(SessionIDLayout)
}

// StatisticsRecord describes one completed session.
type StatisticsRecord struct {
	MicrosecSince1970 int64     `json:"microsecSince1970"`
	UTC               time.Time `json:"utc"`
	Local             time.Time `json:"local"`
	DurationSec       float64   `json:"durationSec"`
	WordCount         int       `json:"wordCount"`
	WPS               float64   `json:"wps"`
	WPM               float64   `json:"wpm"`
	ProcessingSec     float64   `json:"processingSec"`
}

// Totals is the running tally kept across sessions.
type Totals struct {
	Completed uint64            `json:"completed"`
	Failed    uint64            `json:"failed"`
	Last      *StatisticsRecord `json:"last,omitempty"`
}

// StartResult is returned by a start request.
type StartResult struct {
	Session       Session `json:"session"`
	AlreadyActive bool    `json:"alreadyActive"`
}

// StopResult is returned once recording is stopped and the transcript is delivered.
type StopResult struct {
	SessionID      string             `json:"sessionId"`
	Trigger        StopTrigger        `json:"trigger"`
	RawTranscript  string             `json:"rawTranscript"`
	Transcript     string             `json:"transcript"`
	TranscriptPath string             `json:"transcriptPath"`
	Stats          *StatisticsRecord  `json:"stats,omitempty"`
	Copied         bool               `json:"copied"`
	Pasted         bool               `json:"pasted"`
	Reason         SessionStateReason `json:"reason"`
}

// ToggleResult holds whichever side of a toggle ran.
type ToggleResult struct {
	Started *StartResult `json:"started,omitempty"`
	Stopped *StopResult  `json:"stopped,omitempty"`
}

// Status summarizes the persisted runtime state.
type Status struct {
	State   SessionState `json:"state"`
	Session *Session     `json:"session,omitempty"`
	Stale   []Session    `json:"stale,omitempty"`
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks missing or invalid configuration.
	ErrConfig = errors.New("configuration error")
	// ErrNoActiveSession is returned when stop runs without a held lock.
	ErrNoActiveSession = errors.New("no active recording session")
	// ErrSessionMismatch is returned when the lock belongs to another session.
	ErrSessionMismatch = errors.New("lock is held by a different session")
	// ErrStatsUnavailable is returned when the audio duration is zero or unknown.
	ErrStatsUnavailable = errors.New("statistics unavailable")
)

// PipelineStage names the step of the stop pipeline that failed.
type PipelineStage string

const (
	StageCapture    PipelineStage = "capture"
	StageTranscode  PipelineStage = "transcode"
	StageUpload     PipelineStage = "upload"
	StageTranscript PipelineStage = "transcript"
)

// PipelineError is a fatal failure of one pipeline stage.
type PipelineError struct {
	Stage     PipelineStage
	SessionID string
	Err       error
}

func (e *PipelineError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed for session %s: %v", e.Stage, e.SessionID, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

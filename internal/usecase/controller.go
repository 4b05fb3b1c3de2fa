package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dictate/internal/domain"
	"dictate/internal/ports"
)

// Config controls recording and pipeline behavior.
type Config struct {
	RecordingsDir   string
	WatchdogTimeout time.Duration
	Model           string
	Language        string
	KeepCompressed  bool
	Clipboard       bool
	Paste           bool
}

// Dependencies are the collaborators of a SessionController. Metrics and
// Paster may be nil.
type Dependencies struct {
	Store      ports.StateStore
	Recorder   ports.Recorder
	Watchdog   ports.Watchdog
	Inspector  ports.CaptureInspector
	Transcoder ports.Transcoder
	Prober     ports.DurationProber
	Provider   ports.TranscriptionProvider
	Rules      ports.RulesEngine
	Clipboard  ports.Clipboard
	Paster     ports.Paster
	Stats      ports.StatsSink
	Metrics    ports.MetricsSink
	Events     ports.EventSink
	Clock      clock.Clock
	Logger     zerolog.Logger
	// Alive reports whether a pid still runs. Used to spot sessions whose
	// pipeline died.
	Alive func(pid int) bool
	// PID identifies the invoking process as the owner of a pipeline.
	PID int
}

// StopRequest describes who is stopping which session. An empty SessionID
// stops whichever session holds the lock. A non-empty Nonce must match the
// lock holder's, so a watchdog never stops a later session that reused its id.
type StopRequest struct {
	Trigger   domain.StopTrigger
	SessionID string
	Nonce     string
}

// SessionController runs the start, stop and toggle commands against the
// persisted session state.
type SessionController struct {
	store      ports.StateStore
	recorder   ports.Recorder
	watchdog   ports.Watchdog
	inspector  ports.CaptureInspector
	transcoder ports.Transcoder
	prober     ports.DurationProber
	provider   ports.TranscriptionProvider
	stats      ports.StatsSink
	metrics    ports.MetricsSink
	events     ports.EventSink
	finalizer  transcriptFinalizer
	clock      clock.Clock
	logger     zerolog.Logger
	alive      func(pid int) bool
	pid        int
	cfg        Config
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Events == nil {
		deps.Events = discardEvents{}
	}
	if deps.Alive == nil {
		deps.Alive = func(int) bool { return true }
	}
	if deps.PID == 0 {
		deps.PID = os.Getpid()
	}
	logger := deps.Logger.With().Str("component", "session").Logger()
	return &SessionController{
		store:      deps.Store,
		recorder:   deps.Recorder,
		watchdog:   deps.Watchdog,
		inspector:  deps.Inspector,
		transcoder: deps.Transcoder,
		prober:     deps.Prober,
		provider:   deps.Provider,
		stats:      deps.Stats,
		metrics:    deps.Metrics,
		events:     deps.Events,
		finalizer:  newTranscriptFinalizer(deps.Rules, deps.Clipboard, deps.Paster, deps.Events, logger, cfg.Clipboard, cfg.Paste),
		clock:      deps.Clock,
		logger:     logger,
		alive:      deps.Alive,
		pid:        deps.PID,
		cfg:        cfg,
	}
}

// Start begins recording unless a session already holds the lock, in which
// case it reports the active session and changes nothing.
func (c *SessionController) Start(ctx context.Context) (domain.StartResult, error) {
	c.reapStale(ctx)

	now := c.clock.Now().UTC()
	session := domain.Session{
		ID:        domain.NewSessionID(now),
		Nonce:     uuid.NewString(),
		State:     domain.SessionStateRecording,
		StartedAt: now,
	}

	session, acquired, err := c.store.TryAcquire(ctx, session)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeAudioStart, err.Error())
		return domain.StartResult{}, fmt.Errorf("acquire session lock: %w", err)
	}
	if !acquired {
		current, err := c.store.Current(ctx)
		if err != nil && !errors.Is(err, domain.ErrNoActiveSession) {
			c.logger.Warn().Err(err).Msg("lock held but session unreadable")
		}
		c.logger.Info().Str("session", current.ID).Msg("already recording")
		c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonAlreadyRecording)
		return domain.StartResult{Session: current, AlreadyActive: true}, nil
	}

	session.AudioPath = filepath.Join(c.cfg.RecordingsDir, session.ID+".wav")
	if err := c.store.SetAudioPath(ctx, session.ID, session.AudioPath); err != nil {
		return domain.StartResult{}, c.abortStart(ctx, session, 0, 0, err)
	}

	recorderPID, err := c.recorder.StartCapture(ctx, session.AudioPath)
	if err != nil {
		return domain.StartResult{}, c.abortStart(ctx, session, 0, 0, err)
	}
	session.RecorderPID = recorderPID
	if err := c.store.SetRecorderPID(ctx, session.ID, recorderPID); err != nil {
		return domain.StartResult{}, c.abortStart(ctx, session, recorderPID, 0, err)
	}

	watchdogPID, err := c.watchdog.Arm(ctx, session.ID, session.Nonce, c.cfg.WatchdogTimeout)
	if err != nil {
		return domain.StartResult{}, c.abortStart(ctx, session, recorderPID, 0, err)
	}
	session.WatchdogPID = watchdogPID
	if err := c.store.SetWatchdogPID(ctx, session.ID, watchdogPID); err != nil {
		return domain.StartResult{}, c.abortStart(ctx, session, recorderPID, watchdogPID, err)
	}

	c.logger.Info().
		Str("session", session.ID).
		Int("recorder_pid", recorderPID).
		Int("watchdog_pid", watchdogPID).
		Msg("recording started")
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	return domain.StartResult{Session: session}, nil
}

// Stop ends the active session and runs the transcription pipeline. The
// watchdog calls this with its own trigger and the session it was armed for.
func (c *SessionController) Stop(ctx context.Context, req StopRequest) (domain.StopResult, error) {
	if req.Trigger == "" {
		req.Trigger = domain.StopTriggerUser
	}

	session, err := c.store.Current(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSession) && req.Trigger == domain.StopTriggerUser {
			c.logger.Error().Msg("stop requested with no active session")
			c.events.SessionError(domain.ErrorCodeNoSession, "")
		}
		return domain.StopResult{}, err
	}
	if req.SessionID != "" && session.ID != req.SessionID {
		return domain.StopResult{}, fmt.Errorf("%w: holder %s, requested %s", domain.ErrSessionMismatch, session.ID, req.SessionID)
	}
	if req.Nonce != "" && session.Nonce != req.Nonce {
		return domain.StopResult{}, fmt.Errorf("%w: session %s was restarted", domain.ErrSessionMismatch, session.ID)
	}

	reason := domain.SessionReasonRecordingStopped
	if req.Trigger == domain.StopTriggerWatchdog {
		reason = domain.SessionReasonWatchdogExpired
	} else if err := c.watchdog.Disarm(ctx, session.WatchdogPID); err != nil {
		c.logger.Warn().Err(err).Int("pid", session.WatchdogPID).Msg("failed to disarm watchdog")
	}
	c.events.SessionStateChanged(domain.SessionStateProcessing, reason)

	if err := c.recorder.StopCapture(ctx, session.RecorderPID); err != nil {
		c.events.SessionError(domain.ErrorCodeAudioStop, err.Error())
		if session.RecorderPID > 0 && c.alive(session.RecorderPID) {
			// The lock is only released once the recorder is gone; a later stop retries.
			c.logger.Error().Err(err).Int("pid", session.RecorderPID).Msg("recorder still running, keeping the session lock")
			return domain.StopResult{}, fmt.Errorf("stop recorder: %w", err)
		}
		c.logger.Warn().Err(err).Int("pid", session.RecorderPID).Msg("failed to stop recorder cleanly")
	}

	session, err = c.store.BeginProcessing(ctx, session.ID, req.Trigger, c.pid, c.clock.Now())
	if err != nil {
		return domain.StopResult{}, fmt.Errorf("begin processing: %w", err)
	}
	c.logger.Info().Str("session", session.ID).Str("trigger", string(req.Trigger)).Msg("recording stopped")

	defer func() {
		if err := c.store.Finish(context.WithoutCancel(ctx), session.ID); err != nil {
			c.logger.Warn().Err(err).Str("session", session.ID).Msg("failed to clear session record")
		}
	}()

	result, err := c.runPipeline(ctx, session)
	result.SessionID = session.ID
	result.Trigger = req.Trigger
	if err != nil {
		c.logger.Error().Err(err).Str("session", session.ID).Msg("transcription pipeline failed")
		c.events.SessionError(errorCodeFor(err), err.Error())
		c.recordOutcome(ctx, false, nil)
		return result, err
	}

	c.events.SessionCompleted(result)
	c.recordOutcome(ctx, true, result.Stats)
	return result, nil
}

// Toggle stops the active session, or starts one when none is active.
func (c *SessionController) Toggle(ctx context.Context) (domain.ToggleResult, error) {
	held, err := c.store.IsHeld(ctx)
	if err != nil {
		return domain.ToggleResult{}, fmt.Errorf("read session lock: %w", err)
	}
	if held {
		stopped, err := c.Stop(ctx, StopRequest{Trigger: domain.StopTriggerUser})
		return domain.ToggleResult{Stopped: &stopped}, err
	}
	started, err := c.Start(ctx)
	return domain.ToggleResult{Started: &started}, err
}

// Status reports the recording session, if any, and pipelines whose owner
// process is gone.
func (c *SessionController) Status(ctx context.Context) (domain.Status, error) {
	sessions, err := c.store.Sessions(ctx)
	if err != nil {
		return domain.Status{}, err
	}

	status := domain.Status{State: domain.SessionStateIdle}
	for i := range sessions {
		session := sessions[i]
		switch {
		case session.State == domain.SessionStateRecording:
			status.State = domain.SessionStateRecording
			status.Session = &session
		case !c.alive(session.OwnerPID):
			status.Stale = append(status.Stale, session)
		case status.Session == nil:
			status.State = domain.SessionStateProcessing
			status.Session = &session
		}
	}
	return status, nil
}

// abortStart undoes a partially started session so the lock is not left
// held by a recording that never began.
func (c *SessionController) abortStart(ctx context.Context, session domain.Session, recorderPID int, watchdogPID int, cause error) error {
	cleanup := context.WithoutCancel(ctx)
	if watchdogPID > 0 {
		if err := c.watchdog.Disarm(cleanup, watchdogPID); err != nil {
			c.logger.Warn().Err(err).Int("pid", watchdogPID).Msg("failed to disarm watchdog")
		}
	}
	if recorderPID > 0 {
		if err := c.recorder.StopCapture(cleanup, recorderPID); err != nil {
			c.logger.Warn().Err(err).Int("pid", recorderPID).Msg("failed to stop recorder")
		}
	}
	if err := c.store.Release(cleanup, session.ID); err != nil {
		c.logger.Error().Err(err).Str("session", session.ID).Msg("failed to release session lock")
	}
	c.events.SessionError(domain.ErrorCodeAudioStart, cause.Error())
	return fmt.Errorf("start recording: %w", cause)
}

// reapStale forgets processing sessions whose pipeline process died.
func (c *SessionController) reapStale(ctx context.Context) {
	sessions, err := c.store.Sessions(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list sessions")
		return
	}
	for _, session := range sessions {
		if session.State != domain.SessionStateProcessing || c.alive(session.OwnerPID) {
			continue
		}
		c.logger.Warn().
			Str("session", session.ID).
			Int("owner_pid", session.OwnerPID).
			Str("audio", session.AudioPath).
			Msg("discarding session whose pipeline died")
		if err := c.store.Finish(ctx, session.ID); err != nil {
			c.logger.Warn().Err(err).Str("session", session.ID).Msg("failed to discard stale session")
		}
	}
}

func (c *SessionController) recordOutcome(ctx context.Context, succeeded bool, last *domain.StatisticsRecord) {
	ctx = context.WithoutCancel(ctx)
	totals, err := c.store.RecordOutcome(ctx, succeeded, last)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to record session outcome")
		return
	}
	if c.metrics == nil {
		return
	}
	if err := c.metrics.Publish(ctx, totals); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish metrics")
	}
}

func errorCodeFor(err error) domain.ErrorCode {
	var pipelineErr *domain.PipelineError
	if !errors.As(err, &pipelineErr) {
		return domain.ErrorCodeTranscription
	}
	switch pipelineErr.Stage {
	case domain.StageCapture:
		return domain.ErrorCodeCapture
	case domain.StageTranscode:
		return domain.ErrorCodeTranscode
	case domain.StageTranscript:
		return domain.ErrorCodeTranscript
	default:
		return domain.ErrorCodeTranscription
	}
}

type discardEvents struct{}

func (discardEvents) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (discardEvents) SessionError(domain.ErrorCode, string)                            {}
func (discardEvents) SessionCompleted(domain.StopResult)                               {}

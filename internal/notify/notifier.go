package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"dictate/internal/domain"
	"dictate/internal/process"
	"dictate/internal/stats"
	"dictate/internal/timer"
)

const callTimeout = 2 * time.Second

// Handles persists the id of the notification currently on screen so later
// invocations can replace or close it.
type Handles interface {
	NotificationID(ctx context.Context) (uint32, error)
	SetNotificationID(ctx context.Context, id uint32) error
	ClearNotificationID(ctx context.Context, id uint32) error
}

// Dismisser closes a notification after a delay without blocking the caller.
type Dismisser interface {
	ScheduleDismiss(ctx context.Context, id uint32, after time.Duration) error
}

// Notifier turns session events into desktop notifications. Every failure is
// logged and swallowed.
type Notifier struct {
	backend   Backend
	handles   Handles
	dismisser Dismisser
	delay     time.Duration
	title     string
	logger    zerolog.Logger
}

func NewNotifier(backend Backend, handles Handles, dismisser Dismisser, delay time.Duration, title string, logger zerolog.Logger) *Notifier {
	if title == "" {
		title = "dictate"
	}
	return &Notifier{
		backend:   backend,
		handles:   handles,
		dismisser: dismisser,
		delay:     delay,
		title:     title,
		logger:    logger.With().Str("component", "notifier").Logger(),
	}
}

// SessionStateChanged shows the message for a lifecycle transition.
func (n *Notifier) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	message := sessionReasonMessage(reason)
	if message == "" {
		return
	}
	urgency := UrgencyNormal
	if reason == domain.SessionReasonWatchdogExpired {
		urgency = UrgencyCritical
	}
	persist := state != domain.SessionStateIdle && reason != domain.SessionReasonAlreadyRecording
	n.show(Notification{Title: n.title, Body: message, Urgency: urgency, Persist: persist})
}

// SessionError shows a critical notification for a failed step.
func (n *Notifier) SessionError(code domain.ErrorCode, detail string) {
	body := errorMessage(code, detail)
	if detail != "" && body != detail {
		body += ": " + detail
	}
	n.show(Notification{Title: n.title, Body: body, Urgency: UrgencyCritical})
}

// SessionCompleted shows the transcript summary and schedules its dismissal.
func (n *Notifier) SessionCompleted(result domain.StopResult) {
	body := sessionReasonMessage(result.Reason)
	if result.Stats != nil {
		body += "\n" + stats.Summary(*result.Stats)
	}
	id := n.show(Notification{Title: n.title, Body: body, Urgency: UrgencyLow, Persist: true})
	if id == 0 || n.dismisser == nil || n.delay <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := n.dismisser.ScheduleDismiss(ctx, id, n.delay); err != nil {
		n.logger.Warn().Err(err).Uint32("id", id).Msg("failed to schedule notification dismissal")
	}
}

func (n *Notifier) show(msg Notification) uint32 {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if n.handles != nil {
		previous, err := n.handles.NotificationID(ctx)
		if err != nil {
			n.logger.Debug().Err(err).Msg("no notification handle")
		}
		msg.ReplaceID = previous
	}

	id, err := n.backend.Notify(ctx, msg)
	if err != nil {
		n.logger.Warn().Err(err).Str("body", msg.Body).Msg("notification failed")
		return 0
	}
	if n.handles != nil && id != 0 {
		if err := n.handles.SetNotificationID(ctx, id); err != nil {
			n.logger.Warn().Err(err).Uint32("id", id).Msg("failed to persist notification handle")
		}
	}
	return id
}

// Dismiss waits for after on clk, then closes notification id and forgets
// its handle. It reports false when ctx ends first.
func Dismiss(ctx context.Context, backend Backend, handles Handles, clk clock.Clock, id uint32, after time.Duration) (bool, error) {
	if !timer.Wait(ctx, clk, after) {
		return false, nil
	}
	if err := backend.Close(ctx, id); err != nil {
		return true, err
	}
	if handles != nil {
		if err := handles.ClearNotificationID(ctx, id); err != nil {
			return true, fmt.Errorf("clear notification handle: %w", err)
		}
	}
	return true, nil
}

// ProcessDismisser runs the dismiss subcommand of the current binary in a
// detached process so the invoking command can exit immediately.
type ProcessDismisser struct {
	executable string
	baseArgs   []string
	logger     zerolog.Logger
}

func NewProcessDismisser(executable string, baseArgs []string, logger zerolog.Logger) *ProcessDismisser {
	return &ProcessDismisser{executable: executable, baseArgs: baseArgs, logger: logger}
}

// Args returns the command line of the detached dismissal.
func (d *ProcessDismisser) Args(id uint32, after time.Duration) []string {
	args := append([]string{}, d.baseArgs...)
	return append(args, "dismiss", "--id", strconv.FormatUint(uint64(id), 10), "--after", after.String())
}

func (d *ProcessDismisser) ScheduleDismiss(_ context.Context, id uint32, after time.Duration) error {
	child, err := process.Start(process.Spec{Path: d.executable, Args: d.Args(id, after)})
	if err != nil {
		return fmt.Errorf("failed to spawn dismissal: %w", err)
	}
	d.logger.Debug().Int("pid", child.PID).Uint32("id", id).Dur("after", after).Msg("dismissal scheduled")
	return nil
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonAlreadyRecording:
		return "Already recording"
	case domain.SessionReasonRecordingStopped:
		return "Recording stopped. Transcribing..."
	case domain.SessionReasonWatchdogExpired:
		return "Recording hit the time limit. Transcribing..."
	case domain.SessionReasonUploading:
		return "Uploading audio for transcription"
	case domain.SessionReasonTranscriptDelivered:
		return "Transcript pasted"
	case domain.SessionReasonTranscriptCopied:
		return "Transcript copied to clipboard"
	case domain.SessionReasonTranscriptSaved:
		return "Transcript saved"
	case domain.SessionReasonTranscriptClipboardFail:
		return "Transcript saved (clipboard write failed)"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeNoSession:
		return "No active recording"
	case domain.ErrorCodeAudioStart:
		return "Could not start recording"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeCapture:
		return "Recording is empty or unreadable"
	case domain.ErrorCodeTranscode:
		return "Audio conversion failed"
	case domain.ErrorCodeTranscription:
		return "Transcription failed"
	case domain.ErrorCodeTranscript:
		return "Could not save transcript"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeStats:
		return "Statistics unavailable"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	case domain.ErrorCodePaste:
		return "Paste failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"dictate/internal/domain"
	"dictate/internal/ports"
)

type transcriptFinalizer struct {
	rules     ports.RulesEngine
	clipboard ports.Clipboard
	paster    ports.Paster
	events    ports.EventSink
	logger    zerolog.Logger
	copy      bool
	paste     bool
}

type deliveryOutcome struct {
	copied bool
	pasted bool
	reason domain.SessionStateReason
}

func newTranscriptFinalizer(
	rules ports.RulesEngine,
	clipboard ports.Clipboard,
	paster ports.Paster,
	events ports.EventSink,
	logger zerolog.Logger,
	copyEnabled bool,
	pasteEnabled bool,
) transcriptFinalizer {
	return transcriptFinalizer{
		rules:     rules,
		clipboard: clipboard,
		paster:    paster,
		events:    events,
		logger:    logger,
		copy:      copyEnabled && clipboard != nil,
		paste:     pasteEnabled && paster != nil,
	}
}

// Transform applies the substitution rules. A failing rule set leaves the
// text as it came back from the service.
func (f transcriptFinalizer) Transform(text string) string {
	if f.rules == nil {
		return text
	}
	transformed, err := f.rules.Apply(text)
	if err != nil {
		f.logger.Warn().Err(err).Msg("rules failed, keeping untransformed transcript")
		f.events.SessionError(domain.ErrorCodeRules, err.Error())
		return text
	}
	return transformed
}

// Deliver copies the transcript and pastes it into the focused window. Both
// steps are best-effort.
func (f transcriptFinalizer) Deliver(ctx context.Context, text string) deliveryOutcome {
	if text == "" || !f.copy {
		return deliveryOutcome{reason: domain.SessionReasonTranscriptSaved}
	}

	if err := f.clipboard.SetText(ctx, text); err != nil {
		f.logger.Warn().Err(err).Msg("clipboard write failed")
		f.events.SessionError(domain.ErrorCodeClipboard, "transcript saved but clipboard write failed")
		return deliveryOutcome{reason: domain.SessionReasonTranscriptClipboardFail}
	}

	outcome := deliveryOutcome{copied: true, reason: domain.SessionReasonTranscriptCopied}
	if !f.paste {
		return outcome
	}
	if err := f.paster.Paste(ctx); err != nil {
		f.logger.Warn().Err(err).Msg("paste failed")
		f.events.SessionError(domain.ErrorCodePaste, err.Error())
		return outcome
	}
	outcome.pasted = true
	outcome.reason = domain.SessionReasonTranscriptDelivered
	return outcome
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dictate/internal/domain"
	"dictate/internal/ports"
	"dictate/internal/stats"
)

// artifacts are the files one session produces, all sharing the session id
// as base name.
type artifacts struct {
	wav, log, mp3, txt, stats string
}

func artifactsFor(dir string, session domain.Session) artifacts {
	wav := session.AudioPath
	if wav == "" {
		wav = filepath.Join(dir, session.ID+".wav")
	}
	base := strings.TrimSuffix(wav, filepath.Ext(wav))
	return artifacts{
		wav:   wav,
		log:   wav + ".ffmpeg.log",
		mp3:   base + ".mp3",
		txt:   base + ".txt",
		stats: base + ".stats",
	}
}

// runPipeline turns the finished capture into a delivered transcript. Stages
// before the transcript is written are fatal and leave their inputs on disk.
func (c *SessionController) runPipeline(ctx context.Context, session domain.Session) (domain.StopResult, error) {
	files := artifactsFor(c.cfg.RecordingsDir, session)
	fail := func(stage domain.PipelineStage, err error) (domain.StopResult, error) {
		return domain.StopResult{}, &domain.PipelineError{Stage: stage, SessionID: session.ID, Err: err}
	}

	captured, err := c.inspector.Inspect(ctx, files.wav)
	if err != nil {
		return fail(domain.StageCapture, err)
	}
	if err := c.transcoder.Transcode(ctx, files.wav, files.mp3); err != nil {
		return fail(domain.StageTranscode, err)
	}

	c.events.SessionStateChanged(domain.SessionStateProcessing, domain.SessionReasonUploading)
	uploadStarted := c.clock.Now()
	raw, err := c.provider.Transcribe(ctx, ports.TranscriptionRequest{
		AudioPath: files.mp3,
		Model:     c.cfg.Model,
		Language:  c.cfg.Language,
	})
	processing := c.clock.Since(uploadStarted)
	if err != nil {
		return fail(domain.StageUpload, err)
	}

	trimmed := strings.TrimSpace(raw)
	transcript := c.finalizer.Transform(trimmed)
	if err := writeTranscript(files.txt, transcript); err != nil {
		return fail(domain.StageTranscript, err)
	}
	c.logger.Info().
		Str("session", session.ID).
		Str("transcript", files.txt).
		Dur("processing", processing).
		Msg("transcript saved")

	c.removeArtifact(files.wav)
	c.removeArtifact(files.log)

	duration, err := c.prober.Probe(ctx, files.mp3)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", files.mp3).Dur("fallback", captured).Msg("failed to probe compressed audio")
		duration = captured
	}
	if !c.cfg.KeepCompressed {
		c.removeArtifact(files.mp3)
	}

	result := domain.StopResult{
		RawTranscript:  trimmed,
		Transcript:     transcript,
		TranscriptPath: files.txt,
	}
	result.Stats = c.recordStats(ctx, session.ID, stats.CountWords(trimmed), duration, processing, files.stats)

	delivery := c.finalizer.Deliver(ctx, transcript)
	result.Copied = delivery.copied
	result.Pasted = delivery.pasted
	result.Reason = delivery.reason
	return result, nil
}

// recordStats computes and persists the statistics for a session. Failures
// are logged and yield nil; the transcript on disk is what matters.
func (c *SessionController) recordStats(ctx context.Context, sessionID string, words int, duration time.Duration, processing time.Duration, sidecar string) *domain.StatisticsRecord {
	micros, err := c.store.NextStatsTimestamp(ctx, c.clock.Now().UnixMicro())
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to reserve stats timestamp")
		micros = c.clock.Now().UnixMicro()
	}

	record, err := stats.Compute(words, duration, processing, time.UnixMicro(micros))
	if err != nil {
		c.logger.Warn().Err(err).Str("session", sessionID).Msg("statistics unavailable")
		if errors.Is(err, domain.ErrStatsUnavailable) {
			c.events.SessionError(domain.ErrorCodeStats, err.Error())
		}
		return nil
	}

	if err := c.stats.Record(ctx, record, sidecar); err != nil {
		c.logger.Warn().Err(err).Str("session", sessionID).Msg("failed to persist statistics")
	}
	c.logger.Info().
		Str("session", sessionID).
		Int("words", record.WordCount).
		Float64("duration_sec", record.DurationSec).
		Float64("wpm", record.WPM).
		Float64("processing_sec", record.ProcessingSec).
		Msg("statistics recorded")
	return &record
}

func (c *SessionController) removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn().Err(err).Str("path", path).Msg("failed to remove artifact")
	}
}

func writeTranscript(path string, text string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

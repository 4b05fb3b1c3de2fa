package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"dictate/internal/ports"
)

// Config controls the OpenAI-compatible transcription endpoint.
type Config struct {
	APIKey     string
	Endpoint   string
	Model      string
	Language   string
	Timeout    time.Duration
	MaxRetries int
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// StatusError is a non-2xx reply from the transcription service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transcription service returned %d: %s", e.StatusCode, e.Body)
}

// Provider implements ports.TranscriptionProvider over multipart HTTP.
type Provider struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

func NewProvider(cfg Config, client *http.Client, logger zerolog.Logger) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1/audio/transcriptions"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{cfg: cfg, client: client, logger: logger.With().Str("component", "transcription").Logger()}
}

// Transcribe uploads req.AudioPath and returns the service's plain-text body.
// Network errors, 429 and 5xx replies are retried; other replies are final.
func (p *Provider) Transcribe(ctx context.Context, req ports.TranscriptionRequest) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", errors.New("transcription api key is not configured")
	}
	if req.Model == "" {
		req.Model = p.cfg.Model
	}
	if req.Language == "" {
		req.Language = p.cfg.Language
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.InitialBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() (string, error) {
		attempt++
		return p.upload(ctx, req)
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("transcription upload failed, retrying")
	}

	text, err := backoff.RetryNotifyWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.cfg.MaxRetries)), ctx),
		notify,
	)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (p *Provider) upload(ctx context.Context, req ports.TranscriptionRequest) (string, error) {
	body, contentType, err := buildForm(req)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, p.cfg.Endpoint, body)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to build transcription request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read transcription response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", statusErr
		}
		return "", backoff.Permanent(statusErr)
	}
	return string(payload), nil
}

func buildForm(req ports.TranscriptionRequest) (*bytes.Buffer, string, error) {
	file, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio for upload: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy audio: %w", err)
	}

	fields := [][2]string{
		{"model", req.Model},
		{"response_format", "text"},
	}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

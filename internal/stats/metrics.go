package stats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"dictate/internal/domain"
)

// Textfile publishes running totals in the Prometheus text format so a
// node_exporter textfile collector can scrape them.
type Textfile struct {
	path string
}

func NewTextfile(path string) *Textfile {
	return &Textfile{path: path}
}

func (t *Textfile) Publish(_ context.Context, totals domain.Totals) error {
	registry := prometheus.NewRegistry()

	completed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dictate_sessions_completed_total",
		Help: "Recordings transcribed and delivered",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dictate_sessions_failed_total",
		Help: "Recordings whose pipeline failed",
	})
	completed.Add(float64(totals.Completed))
	failed.Add(float64(totals.Failed))
	registry.MustRegister(completed, failed)

	if last := totals.Last; last != nil {
		gauges := []struct {
			name  string
			help  string
			value float64
		}{
			{"dictate_last_session_timestamp_seconds", "Completion time of the last recorded session", float64(last.MicrosecSince1970) / 1e6},
			{"dictate_last_session_duration_seconds", "Audio duration of the last recorded session", last.DurationSec},
			{"dictate_last_session_words", "Word count of the last recorded session", float64(last.WordCount)},
			{"dictate_last_session_words_per_minute", "Speaking rate of the last recorded session", last.WPM},
			{"dictate_last_session_processing_seconds", "Transcription time of the last recorded session", last.ProcessingSec},
		}
		for _, g := range gauges {
			gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help})
			gauge.Set(g.value)
			registry.MustRegister(gauge)
		}
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(t.path, registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

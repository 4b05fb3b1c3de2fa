package stats

import (
	"fmt"
	"math"
	"strings"
	"time"

	"dictate/internal/domain"
)

// CountWords returns the number of whitespace-delimited tokens in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// Compute derives the statistics for one session. It returns
// domain.ErrStatsUnavailable when the audio duration is zero or unknown.
func Compute(words int, audio time.Duration, processing time.Duration, at time.Time) (domain.StatisticsRecord, error) {
	seconds := audio.Seconds()
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return domain.StatisticsRecord{}, fmt.Errorf("%w: audio duration %s", domain.ErrStatsUnavailable, audio)
	}
	if words < 0 {
		words = 0
	}
	if processing < 0 {
		processing = 0
	}

	wps := float64(words) / seconds
	return domain.StatisticsRecord{
		MicrosecSince1970: at.UnixMicro(),
		UTC:               at.UTC(),
		Local:             at.Local(),
		DurationSec:       seconds,
		WordCount:         words,
		WPS:               wps,
		WPM:               wps * 60,
		ProcessingSec:     processing.Seconds(),
	}, nil
}

// Summary renders a record for display, rounded to two decimals.
func Summary(record domain.StatisticsRecord) string {
	return fmt.Sprintf("%d words in %.2fs (%.2f WPM), processed in %.2fs",
		record.WordCount, record.DurationSec, record.WPM, record.ProcessingSec)
}

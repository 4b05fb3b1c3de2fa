package stats

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"dictate/internal/domain"
)

// Header is the fixed column layout of the statistics table and sidecars.
var Header = []string{
	"Microsec_Since_1970",
	"UTC_Time",
	"Local_Time",
	"Duration_Sec",
	"Word_Count",
	"WPS",
	"WPM",
	"Processing_Sec",
}

const (
	utcLayout   = "2006-01-02 15:04:05.000000"
	localLayout = "2006-01-02 15:04:05.000000 MST"
)

// Table appends records to a tab-separated table and writes per-session
// sidecar files.
type Table struct {
	path string
}

func NewTable(path string) *Table {
	return &Table{path: path}
}

// Path returns the table location.
func (t *Table) Path() string {
	return t.path
}

// Record appends record to the table and writes it as the sole row of the
// sidecar at sidecarPath.
func (t *Table) Record(_ context.Context, record domain.StatisticsRecord, sidecarPath string) error {
	var errs []error
	if err := t.Append(record); err != nil {
		errs = append(errs, err)
	}
	if sidecarPath != "" {
		if err := WriteSidecar(sidecarPath, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Append adds one row, writing the header first when the table is empty. An
// exclusive flock covers the size check and the write, so pipelines finishing
// together in different processes write the header once.
func (t *Table) Append(record domain.StatisticsRecord) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}
	file, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open stats table: %w", err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock stats table: %w", err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat stats table: %w", err)
	}

	rows := [][]string{Row(record)}
	if info.Size() == 0 {
		rows = append([][]string{Header}, rows...)
	}
	if err := writeRows(file, rows); err != nil {
		return fmt.Errorf("append stats table: %w", err)
	}
	return nil
}

// WriteSidecar replaces path with the header and a single row.
func WriteSidecar(path string, record domain.StatisticsRecord) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stats-*")
	if err != nil {
		return fmt.Errorf("create sidecar: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeRows(tmp, [][]string{Header, Row(record)}); err != nil {
		tmp.Close()
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sidecar: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace sidecar: %w", err)
	}
	return nil
}

// Row formats record with full float precision.
func Row(record domain.StatisticsRecord) []string {
	return []string{
		strconv.FormatInt(record.MicrosecSince1970, 10),
		record.UTC.UTC().Format(utcLayout),
		record.Local.Format(localLayout),
		formatFloat(record.DurationSec),
		strconv.Itoa(record.WordCount),
		formatFloat(record.WPS),
		formatFloat(record.WPM),
		formatFloat(record.ProcessingSec),
	}
}

func writeRows(w io.Writer, rows [][]string) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

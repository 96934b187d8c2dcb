// File: internal/ledger/ledger.go
//
// Package ledger owns the durable outputs of a run: the per-run audit log
// (one CSV row per processed record, flushed immediately), the checkpoint
// file used to suggest a resume point, and the completed-key scan that makes
// re-runs skip work already done.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Row statuses as written to the ledger. These are the wire values consumed
// by the field teams' tooling; berhasil/gagal map to success/failure.
const (
	StatusSuccess = "berhasil"
	StatusFailure = "gagal"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Columns is the fixed audit ledger schema.
var Columns = []string{
	"no", "idsbr", "nama_usaha", "alamat", "keberadaanusaha_gc",
	"latitude", "longitude", "status", "catatan",
}

// Row is one audit entry: the record snapshot plus outcome.
type Row struct {
	Position  int // 1-based position in the input file; 0 for run-level errors
	IDSBR     string
	Name      string
	Address   string
	Code      string
	Latitude  string
	Longitude string
	Status    string
	Note      string
}

var runFilePattern = regexp.MustCompile(`^run(\d+)_`)

// BuildRunLogPath creates (if needed) the date folder under logsDir and
// returns the path for the next run file, runN_HHMM.csv with N one past the
// highest existing run number for that date.
func BuildRunLogPath(logsDir string, now time.Time) (string, error) {
	dateDir := filepath.Join(logsDir, now.Format("20060102"))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	runNumber, err := nextRunNumber(dateDir)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("run%d_%s.csv", runNumber, now.Format("1504"))
	return filepath.Join(dateDir, name), nil
}

func nextRunNumber(dateDir string) (int, error) {
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan log directory: %w", err)
	}
	maxRun := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := runFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxRun {
			maxRun = n
		}
	}
	return maxRun + 1, nil
}

// Writer appends rows to a run's audit ledger. Every Append rewrites nothing:
// the row goes straight through the csv writer and the file is flushed and
// synced, so a crash loses at most the in-flight record.
type Writer struct {
	file *os.File
	csv  *csv.Writer
}

// NewWriter creates the ledger file and writes the header.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log: %w", err)
	}
	w := &Writer{file: f, csv: csv.NewWriter(f)}
	if err := w.csv.Write(Columns); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write run log header: %w", err)
	}
	if err := w.flush(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Append writes one row and flushes it to disk.
func (w *Writer) Append(row Row) error {
	record := []string{
		strconv.Itoa(row.Position),
		row.IDSBR,
		row.Name,
		row.Address,
		row.Code,
		row.Latitude,
		row.Longitude,
		row.Status,
		row.Note,
	}
	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("failed to write run log row: %w", err)
	}
	return w.flush()
}

func (w *Writer) flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush run log: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync run log: %w", err)
	}
	return nil
}

// Path returns the ledger file path.
func (w *Writer) Path() string { return w.file.Name() }

// Close flushes and closes the ledger file.
func (w *Writer) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

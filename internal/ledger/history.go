// File: internal/ledger/history.go
package ledger

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// successStatuses are the ledger statuses that count as durably done when
// rebuilding the completed-key set. "sukses" appears in ledgers written by
// older builds.
var successStatuses = map[string]bool{
	"berhasil": true,
	"sukses":   true,
}

// resumeStatuses count toward the resume-point suggestion: rows that were
// either submitted or deliberately skipped need no second visit.
var resumeStatuses = map[string]bool{
	"berhasil": true,
	"skipped":  true,
}

// CompletedIDs scans the ledgers of the past daysBack days and returns the
// set of record keys whose rows indicate durable success. Unreadable files
// and malformed rows are skipped: the scan is an optimization, not a source
// of truth, and a partial set only means some records get re-checked.
func CompletedIDs(logsDir string, now time.Time, daysBack int) map[string]bool {
	completed := make(map[string]bool)
	for offset := 0; offset < daysBack; offset++ {
		dateDir := filepath.Join(logsDir, now.AddDate(0, 0, -offset).Format("20060102"))
		for _, path := range runFiles(dateDir) {
			scanFile(path, func(idsbr, status string) {
				if idsbr != "" && successStatuses[strings.ToLower(status)] {
					completed[idsbr] = true
				}
			})
		}
	}
	return completed
}

// LastProcessedRow looks at the most recent day with ledgers (up to a week
// back) and returns the highest input row number with a completed status, or
// 0 when there is no history. The result is only a suggestion for the
// operator; it never skips work on its own.
func LastProcessedRow(logsDir string, now time.Time) int {
	var candidates []string
	for offset := 0; offset < 7; offset++ {
		dateDir := filepath.Join(logsDir, now.AddDate(0, 0, -offset).Format("20060102"))
		if files := runFiles(dateDir); len(files) > 0 {
			candidates = files
			break
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	// Newest first; only the latest few runs matter for a resume hint.
	sort.Slice(candidates, func(i, j int) bool {
		fi, erri := os.Stat(candidates[i])
		fj, errj := os.Stat(candidates[j])
		if erri != nil || errj != nil {
			return candidates[i] > candidates[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	maxRow := 0
	for _, path := range candidates {
		scanRows(path, func(row map[string]string) {
			if !resumeStatuses[strings.ToLower(row["status"])] {
				return
			}
			if n, err := strconv.Atoi(strings.TrimSpace(row["no"])); err == nil && n > maxRow {
				maxRow = n
			}
		})
	}
	return maxRow
}

func runFiles(dateDir string) []string {
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if runFilePattern.MatchString(name) && strings.HasSuffix(name, ".csv") {
			files = append(files, filepath.Join(dateDir, name))
		}
	}
	return files
}

// scanFile streams idsbr/status pairs of a ledger to fn.
func scanFile(path string, fn func(idsbr, status string)) {
	scanRows(path, func(row map[string]string) {
		fn(row["idsbr"], row["status"])
	})
}

// scanRows streams a ledger's rows as column-name keyed maps. Files that
// cannot be opened or parsed are silently ignored.
func scanRows(path string, fn func(row map[string]string)) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		fn(row)
	}
}

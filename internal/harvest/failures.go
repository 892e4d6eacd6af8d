package harvest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/timmy/rerasync/internal/domain"
)

// WriteFailureLog replaces the file at path with one JSON object per line.
// An empty list leaves an empty file, so a clean retry run clears the log.
func WriteFailureLog(path string, failures []domain.FailureRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create failure log directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create failure log: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range failures {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode failure %d: %w", rec.ProjectID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFailureLog loads a failure log. A missing file yields no records.
func ReadFailureLog(path string) ([]domain.FailureRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	defer f.Close()

	var records []domain.FailureRecord
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec domain.FailureRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("failure log line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// FailedIDs extracts the identifiers from a failure list.
func FailedIDs(failures []domain.FailureRecord) []int64 {
	ids := make([]int64, 0, len(failures))
	for _, f := range failures {
		ids = append(ids, f.ProjectID)
	}
	return ids
}

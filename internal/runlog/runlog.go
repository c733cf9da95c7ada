// Package runlog records one entry per build attempt. The canonical record
// is an append-only JSON-lines file; a SQLite index over the same records
// backs the query paths and can always be rebuilt from the JSONL.
package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"matrixcore/internal/domain"
)

// Log appends and queries run records.
type Log struct {
	path  string
	index *index // nil when the SQLite index is unavailable
	log   *slog.Logger
}

// New creates a Log rooted at the state directory. Failure to open the
// SQLite index is not fatal: queries fall back to scanning the JSONL file.
func New(stateDir string, log *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	l := &Log{
		path: filepath.Join(stateDir, "run_history.jsonl"),
		log:  log.With("component", "runlog"),
	}

	idx, err := openIndex(filepath.Join(stateDir, "run_history.db"))
	if err != nil {
		l.log.Warn("run-history index unavailable, falling back to jsonl scans", "error", err)
	} else {
		l.index = idx
	}
	return l, nil
}

// Close releases the index database.
func (l *Log) Close() error {
	if l.index != nil {
		return l.index.close()
	}
	return nil
}

// Append writes one record to the JSONL file and mirrors it into the index.
// The JSONL append is the operation that must succeed; index failures are
// logged and swallowed.
func (l *Log) Append(rec domain.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling run record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending run record: %w", err)
	}

	if l.index != nil {
		if err := l.index.upsert(rec, data); err != nil {
			l.log.Warn("indexing run record", "run_id", rec.RunID, "error", err)
		}
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (l *Log) Recent(limit int) ([]domain.RunRecord, error) {
	if l.index != nil {
		if recs, err := l.index.recent(limit); err == nil {
			return recs, nil
		} else {
			l.log.Warn("index query failed, scanning jsonl", "error", err)
		}
	}

	all, err := l.scan()
	if err != nil {
		return nil, err
	}
	// JSONL is append-ordered; newest entries are at the tail.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ByID returns the record with the given run_id, or nil when absent.
func (l *Log) ByID(id string) (*domain.RunRecord, error) {
	if l.index != nil {
		if rec, err := l.index.byID(id); err == nil {
			return rec, nil
		} else {
			l.log.Warn("index query failed, scanning jsonl", "error", err)
		}
	}

	all, err := l.scan()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].RunID == id {
			return &all[i], nil
		}
	}
	return nil, nil
}

// scan reads the JSONL file, skipping malformed lines with a warning.
func (l *Log) scan() ([]domain.RunRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	defer f.Close()

	var records []domain.RunRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.RunRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			l.log.Warn("skipping malformed run-history line", "line", lineNo, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning run history: %w", err)
	}
	return records, nil
}

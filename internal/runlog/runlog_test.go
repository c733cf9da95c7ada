package runlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"matrixcore/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func record(id string, ts time.Time, success bool) domain.RunRecord {
	return domain.RunRecord{
		RunID:       id,
		Mode:        domain.ModeFullRebuild,
		Timestamp:   ts,
		RowsRead:    100,
		RowsWritten: 42,
		Success:     success,
	}
}

func TestAppendAndQuery(t *testing.T) {
	l, err := New(t.TempDir(), discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := l.Append(record(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour), true)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := l.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(recent))
	}
	if recent[0].RunID != "run-4" || recent[2].RunID != "run-2" {
		t.Errorf("Recent order wrong: %s .. %s", recent[0].RunID, recent[2].RunID)
	}

	rec, err := l.ByID("run-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if rec == nil || rec.RunID != "run-1" || rec.RowsWritten != 42 {
		t.Errorf("ByID = %+v", rec)
	}

	missing, err := l.ByID("nope")
	if err != nil {
		t.Fatalf("ByID(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("ByID(missing) = %+v, want nil", missing)
	}
}

func TestAppendWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Append(record("a", time.Now().UTC(), false)); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(record("b", time.Now().UTC(), true)); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "run_history.jsonl"))
	if err != nil {
		t.Fatalf("jsonl missing: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("jsonl has %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"run_id":"a"`) {
		t.Errorf("first line = %s", lines[0])
	}
}

func TestScanToleratesMalformedLines(t *testing.T) {
	dir := t.TempDir()

	// Seed a file with a good line, a malformed line, and another good line.
	path := filepath.Join(dir, "run_history.jsonl")
	content := `{"run_id":"ok-1","mode":"full_rebuild","timestamp":"2024-03-01T10:00:00Z","rows_read":1,"rows_written":1,"duration_seconds":0.5,"success":true}
this is not json
{"run_id":"ok-2","mode":"rolling_resequence","timestamp":"2024-03-02T10:00:00Z","rows_read":2,"rows_written":2,"duration_seconds":0.7,"success":false}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := New(dir, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	// Remove the index so the scan path is exercised.
	l.index = nil

	recent, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d records, want 2 (malformed skipped)", len(recent))
	}
	if recent[0].RunID != "ok-2" {
		t.Errorf("newest first: got %s", recent[0].RunID)
	}

	rec, err := l.ByID("ok-1")
	if err != nil || rec == nil {
		t.Fatalf("ByID via scan = %+v, %v", rec, err)
	}
}

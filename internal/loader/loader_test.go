package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"matrixcore/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func writeMonthly(t *testing.T, dir, stream string, year, month int, records []AnalyzerRecord) {
	t.Helper()
	yearDir := filepath.Join(dir, stream, fmt.Sprintf("%d", year))
	if err := os.MkdirAll(yearDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(yearDir, fmt.Sprintf("%s_an_%d_%02d.parquet", stream, year, month))
	if err := parquet.WriteFile(path, records); err != nil {
		t.Fatal(err)
	}
}

func rec(date, tm, session, result string) AnalyzerRecord {
	return AnalyzerRecord{
		Date:       date,
		Time:       tm,
		Session:    session,
		Instrument: "ES",
		Stream:     "ES1",
		Result:     result,
		Target:     10,
		Range:      25,
		Peak:       12,
		Profit:     8,
	}
}

func TestLoadBasic(t *testing.T) {
	dir := t.TempDir()
	writeMonthly(t, dir, "ES1", 2024, 1, []AnalyzerRecord{
		rec("2024-01-03", "7:30", "S1", "Win"),
		rec("2024-01-02", "08:00", "S1", "Loss"),
		rec("2024-01-02", "07:30", "S1", "Win"),
	})
	writeMonthly(t, dir, "ES1", 2024, 2, []AnalyzerRecord{
		rec("2024-02-01", "07:30", "S1", "BE"),
	})

	l := New(dir, discard())
	data, err := l.Load(context.Background(), []string{"ES1"}, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rows := data["ES1"]
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}

	// Sorted by (trade date, slot), times normalized.
	if rows[0].TradeDate.Format(domain.DateLayout) != "2024-01-02" || rows[0].Time != "07:30" {
		t.Errorf("first row = %s %s", rows[0].TradeDate.Format(domain.DateLayout), rows[0].Time)
	}
	if rows[1].Time != "08:00" {
		t.Errorf("second row time = %s, want 08:00", rows[1].Time)
	}
	if rows[2].Time != "07:30" {
		t.Errorf("third row should be 2024-01-03 07:30, got %s", rows[2].Time)
	}
}

func TestLoadRepairsStreamColumn(t *testing.T) {
	dir := t.TempDir()
	r := rec("2024-01-02", "09:30", "S2", "Win")
	r.Stream = ""
	r.Instrument = ""
	writeMonthly(t, dir, "NQ2", 2024, 1, []AnalyzerRecord{r})

	l := New(dir, discard())
	data, err := l.Load(context.Background(), []string{"NQ2"}, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rows := data["NQ2"]
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Stream != "NQ2" {
		t.Errorf("Stream = %q, want NQ2 (repaired from filename)", rows[0].Stream)
	}
	if rows[0].Instrument != "NQ" {
		t.Errorf("Instrument = %q, want NQ", rows[0].Instrument)
	}
}

func TestLoadDateFilters(t *testing.T) {
	dir := t.TempDir()
	writeMonthly(t, dir, "ES1", 2024, 1, []AnalyzerRecord{
		rec("2024-01-02", "07:30", "S1", "Win"),
		rec("2024-01-03", "07:30", "S1", "Win"),
		rec("2024-01-04", "07:30", "S1", "Win"),
	})

	l := New(dir, discard())
	start := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	data, err := l.Load(context.Background(), []string{"ES1"}, Options{StartDate: &start})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data["ES1"]) != 2 {
		t.Errorf("start filter: got %d rows, want 2", len(data["ES1"]))
	}

	specific := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	data, err = l.Load(context.Background(), []string{"ES1"}, Options{SpecificDate: &specific})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data["ES1"]) != 1 {
		t.Errorf("specific filter: got %d rows, want 1", len(data["ES1"]))
	}
}

func TestLoadInvalidDatesAbort(t *testing.T) {
	dir := t.TempDir()
	writeMonthly(t, dir, "ES1", 2024, 1, []AnalyzerRecord{
		rec("2024-01-02", "07:30", "S1", "Win"),
		rec("not-a-date", "08:00", "S1", "Win"),
	})

	l := New(dir, discard())
	_, err := l.Load(context.Background(), []string{"ES1"}, Options{})
	if !errors.Is(err, domain.ErrContract) {
		t.Fatalf("Load error = %v, want ErrContract", err)
	}
}

func TestLoadInvalidDatesSalvage(t *testing.T) {
	dir := t.TempDir()
	writeMonthly(t, dir, "ES1", 2024, 1, []AnalyzerRecord{
		rec("2024-01-02", "07:30", "S1", "Win"),
		rec("not-a-date", "08:00", "S1", "Win"),
		rec("", "09:00", "S1", "Win"),
	})

	l := New(dir, discard())
	data, err := l.Load(context.Background(), []string{"ES1"}, Options{Salvage: true})
	if err != nil {
		t.Fatalf("Load with salvage: %v", err)
	}
	if len(data["ES1"]) != 1 {
		t.Errorf("salvage kept %d rows, want 1", len(data["ES1"]))
	}
}

func TestLoadSkipsDailyFolders(t *testing.T) {
	dir := t.TempDir()
	writeMonthly(t, dir, "ES1", 2024, 1, []AnalyzerRecord{
		rec("2024-01-02", "07:30", "S1", "Win"),
	})
	// Date-named daily folder with a stray parquet inside: must be ignored.
	daily := filepath.Join(dir, "ES1", "2024-01-02")
	if err := os.MkdirAll(daily, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := parquet.WriteFile(filepath.Join(daily, "ES1_an_2024_01.parquet"), []AnalyzerRecord{
		rec("2024-01-09", "07:30", "S1", "Loss"),
	}); err != nil {
		t.Fatal(err)
	}

	l := New(dir, discard())
	data, err := l.Load(context.Background(), []string{"ES1"}, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data["ES1"]) != 1 {
		t.Errorf("got %d rows, want 1 (daily folder must be skipped)", len(data["ES1"]))
	}
}

func TestLoadMissingStreamIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeMonthly(t, dir, "ES1", 2024, 1, []AnalyzerRecord{
		rec("2024-01-02", "07:30", "S1", "Win"),
	})

	l := New(dir, discard())
	data, err := l.Load(context.Background(), []string{"ES1", "GC2"}, Options{MaxRetries: 2})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := data["GC2"]; ok {
		t.Error("GC2 should be absent from the result")
	}
	if len(data["ES1"]) != 1 {
		t.Errorf("ES1 rows = %d, want 1", len(data["ES1"]))
	}
}

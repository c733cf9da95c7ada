package timetable

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"matrixcore/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func chosen(stream, session, slot string, allowed bool) domain.ChosenRow {
	r := domain.ChosenRow{
		AnalyzerRow: domain.AnalyzerRow{
			TradeDate:  time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
			Time:       slot,
			Session:    session,
			Instrument: stream[:len(stream)-1],
			Stream:     stream,
		},
		ActualTradeTime: slot,
		FinalAllowed:    allowed,
	}
	if !allowed {
		r.FilterReasons = "dow:Friday,time:" + slot
	}
	return r
}

func TestBuildAlwaysTwelveEntries(t *testing.T) {
	b := New(t.TempDir(), []string{"ES", "NQ", "YM", "RTY", "CL", "GC"}, discard())

	// Only two streams present in the matrix slice.
	rows := []domain.ChosenRow{
		chosen("ES1", "S1", "08:00", true),
		chosen("NQ2", "S2", "10:00", false),
	}
	tt := b.Build(rows, time.Time{})

	if len(tt.Streams) != 12 {
		t.Fatalf("timetable has %d entries, want 12", len(tt.Streams))
	}
	if tt.TradingDate != "2024-03-08" {
		t.Errorf("trading_date = %s", tt.TradingDate)
	}
	if tt.Timezone != "America/Chicago" {
		t.Errorf("timezone = %s", tt.Timezone)
	}

	byStream := map[string]Entry{}
	for _, e := range tt.Streams {
		byStream[e.Stream] = e
	}

	es1 := byStream["ES1"]
	if !es1.Enabled || es1.SlotTime != "08:00" || es1.DecisionTime != "08:00" {
		t.Errorf("ES1 = %+v", es1)
	}

	nq2 := byStream["NQ2"]
	if nq2.Enabled {
		t.Error("NQ2 should be blocked")
	}
	if nq2.BlockReason != "dow:Friday" {
		t.Errorf("NQ2 block_reason = %q, want first filter tag", nq2.BlockReason)
	}

	// Absent streams appear blocked with the absence marker.
	gc2 := byStream["GC2"]
	if gc2.Enabled || gc2.BlockReason != "not_in_master_matrix" {
		t.Errorf("GC2 = %+v", gc2)
	}
	if gc2.Session != "S2" {
		t.Errorf("GC2 session = %s", gc2.Session)
	}
}

func TestBuildSlotTransitionArrow(t *testing.T) {
	b := New(t.TempDir(), []string{"ES"}, discard())

	row := chosen("ES1", "S1", "07:30", true)
	row.TimeChange = "09:00"
	tt := b.Build([]domain.ChosenRow{row}, time.Time{})

	var es1 Entry
	for _, e := range tt.Streams {
		if e.Stream == "ES1" {
			es1 = e
		}
	}
	if es1.SlotTime != "07:30 -> 09:00" {
		t.Errorf("slot_time = %q", es1.SlotTime)
	}
	if es1.DecisionTime != "09:00" {
		t.Errorf("decision_time = %q, want the transition target", es1.DecisionTime)
	}
}

func TestWriteAtomicAndSweeps(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, []string{"ES"}, discard())
	b.now = func() time.Time { return time.Date(2024, 3, 8, 17, 0, 0, 0, time.UTC) }

	// Stale artifacts from older runs must disappear.
	if err := os.WriteFile(filepath.Join(dir, "timetable_20240301.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	tt := b.Build([]domain.ChosenRow{chosen("ES1", "S1", "08:00", true)}, time.Time{})
	if err := b.Write(tt); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != FileName {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dir contents = %v, want only %s", names, FileName)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	var decoded Timetable
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("written timetable not valid JSON: %v", err)
	}
	if decoded.Source != "master_matrix" || len(decoded.Streams) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

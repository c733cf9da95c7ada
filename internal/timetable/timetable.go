// Package timetable derives the next-day execution descriptor from the
// latest Master Matrix slice. The output always carries the complete
// execution contract: one entry per canonical stream, blocked or not.
package timetable

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"matrixcore/internal/domain"
	"matrixcore/internal/slots"
)

// FileName is the single live timetable file; everything else in the
// directory is swept on write.
const FileName = "timetable_current.json"

// Entry is one stream's execution descriptor.
type Entry struct {
	Stream       string `json:"stream"`
	Instrument   string `json:"instrument"`
	Session      string `json:"session"`
	SlotTime     string `json:"slot_time"`
	DecisionTime string `json:"decision_time"`
	Enabled      bool   `json:"enabled"`
	BlockReason  string `json:"block_reason,omitempty"`
}

// Timetable is the wire format of timetable_current.json.
type Timetable struct {
	AsOf        string  `json:"as_of"`
	TradingDate string  `json:"trading_date"`
	Timezone    string  `json:"timezone"`
	Source      string  `json:"source"`
	Streams     []Entry `json:"streams"`
}

// Builder derives and persists timetables.
type Builder struct {
	dir         string
	instruments []string
	log         *slog.Logger

	now func() time.Time // injectable for tests
}

// New creates a Builder writing into dir for the given instrument set
// (each instrument contributes a 1-stream and a 2-stream entry).
func New(dir string, instruments []string, log *slog.Logger) *Builder {
	return &Builder{
		dir:         dir,
		instruments: instruments,
		log:         log.With("component", "timetable"),
		now:         time.Now,
	}
}

// Build derives the timetable for targetDate from the matrix rows. A zero
// targetDate defaults to the maximum trade date present in the matrix.
func (b *Builder) Build(rows []domain.ChosenRow, targetDate time.Time) Timetable {
	if targetDate.IsZero() {
		for _, r := range rows {
			if r.TradeDate.After(targetDate) {
				targetDate = r.TradeDate
			}
		}
	}

	// Latest-matrix row per stream for the target date.
	byStream := make(map[string]*domain.ChosenRow)
	for i := range rows {
		if rows[i].TradeDate.Equal(targetDate) {
			byStream[rows[i].Stream] = &rows[i]
		}
	}

	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		loc = time.UTC
	}

	tt := Timetable{
		AsOf:        b.now().In(loc).Format(time.RFC3339),
		TradingDate: targetDate.Format(domain.DateLayout),
		Timezone:    "America/Chicago",
		Source:      "master_matrix",
	}

	for _, inst := range b.instruments {
		for _, digit := range []string{"1", "2"} {
			stream := inst + digit
			session := slots.SessionS1
			if digit == "2" {
				session = slots.SessionS2
			}

			row, ok := byStream[stream]
			if !ok {
				tt.Streams = append(tt.Streams, Entry{
					Stream:      stream,
					Instrument:  inst,
					Session:     session,
					Enabled:     false,
					BlockReason: "not_in_master_matrix",
				})
				continue
			}

			slotTime := row.Time
			decisionTime := row.Time
			if row.TimeChange != "" && row.TimeChange != row.Time {
				slotTime = row.Time + " -> " + row.TimeChange
				decisionTime = row.TimeChange
			}

			e := Entry{
				Stream:       stream,
				Instrument:   inst,
				Session:      row.Session,
				SlotTime:     slotTime,
				DecisionTime: decisionTime,
				Enabled:      row.FinalAllowed,
			}
			if !row.FinalAllowed {
				e.BlockReason = blockReason(row)
			}
			tt.Streams = append(tt.Streams, e)
		}
	}
	return tt
}

// blockReason picks the first filter tag, falling back to a generic
// matrix-filtered marker.
func blockReason(row *domain.ChosenRow) string {
	if row.FilterReasons != "" {
		if i := strings.IndexByte(row.FilterReasons, ','); i >= 0 {
			return row.FilterReasons[:i]
		}
		return row.FilterReasons
	}
	return "master_matrix_filtered_false"
}

// Write atomically persists the timetable and sweeps every sibling file so
// only timetable_current.json remains.
func (b *Builder) Write(tt Timetable) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("creating timetable dir: %w", err)
	}

	data, err := json.MarshalIndent(tt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling timetable: %w", err)
	}

	final := filepath.Join(b.dir, FileName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing timetable temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming timetable: %w", err)
	}

	b.sweep()

	b.log.Info("timetable written",
		"trading_date", tt.TradingDate,
		"streams", len(tt.Streams),
	)
	return nil
}

// sweep removes stale sibling files; failures are logged, never fatal.
func (b *Builder) sweep() {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		b.log.Warn("sweeping timetable dir", "error", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == FileName || name == FileName+".tmp" {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, name)); err != nil {
			b.log.Warn("removing stale timetable file", "file", name, "error", err)
		}
	}
}

// Package domain defines the core entities shared across the matrix engine:
// analyzer rows, chosen rows, sequencer state, checkpoints, and run records.
package domain

import "time"

// DateLayout is the canonical serialized form of a trading date.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Analyzer input
// ---------------------------------------------------------------------------

// AnalyzerRow is one analyzer output row: a single (trading day, slot,
// stream) observation. The loader guarantees TradeDate is valid (UTC
// midnight) before rows reach the sequencer.
type AnalyzerRow struct {
	TradeDate  time.Time
	Time       string // HH:MM slot end
	Session    string // S1 | S2
	Instrument string // stream without the trailing digit
	Stream     string // e.g. ES1, NQ2
	Direction  string // Long | Short | ""
	Result     string // Win | Loss | BE | NoTrade | Time | other

	Target float64
	Range  float64
	Peak   float64
	Profit float64

	// Analyzer-native optional columns.
	StopLoss *float64
	SCFS1    *float64
	SCFS2    *float64
	ONR      *float64
	ONRHigh  *float64
	ONRLow   *float64
}

// ---------------------------------------------------------------------------
// Stream filters
// ---------------------------------------------------------------------------

// StreamFilter holds per-stream exclusion rules. Zero value means "nothing
// excluded".
type StreamFilter struct {
	ExcludeDaysOfWeek  []string `yaml:"exclude_days_of_week" json:"exclude_days_of_week"`
	ExcludeDaysOfMonth []int    `yaml:"exclude_days_of_month" json:"exclude_days_of_month"`
	ExcludeTimes       []string `yaml:"exclude_times" json:"exclude_times"`
}

// ---------------------------------------------------------------------------
// Chosen rows / master matrix
// ---------------------------------------------------------------------------

// ChosenRow is the single row the sequencer emits for a (stream, trading
// day) pair. Time on the embedded AnalyzerRow is the sequencer's slot for
// the day (the authority); ActualTradeTime preserves the analyzer's original
// value, and is empty on NoTrade days.
type ChosenRow struct {
	AnalyzerRow

	ActualTradeTime string
	TimeChange      string // display-only slot-transition indicator

	// Per-canonical-slot decorations for the stream's session.
	SlotPoints  map[string]int
	SlotRolling map[string]int

	SL float64  // min(3*Target, Range)
	R  *float64 // Profit/Target, nil when Target == 0

	// Filter-engine fields.
	DayOfMonth    int
	DOW           string // abbreviated day name, e.g. "Mon"
	DOWFull       string // full day name, e.g. "Monday"
	Month         int
	SessionIndex  int  // 1 for S1, 2 for S2
	IsTwoStream   bool // stream name ends with "2"
	DomBlocked    bool
	FilterReasons string
	FinalAllowed  bool

	// Assigned after the canonical sort; 1-based, gapless.
	GlobalTradeID int64
}

// EntryTime is the canonical-sort time component: the actual execution time
// of the chosen row, empty for NoTrade days.
func (r *ChosenRow) EntryTime() string {
	return r.ActualTradeTime
}

// ---------------------------------------------------------------------------
// Sequencer state and checkpoints
// ---------------------------------------------------------------------------

// SequencerState is the per-stream decision state persisted in checkpoints.
// PreviousTime is the slot in effect on the last processed day; a restored
// stream needs it to render a slot transition that materializes on the first
// replayed day exactly as a cold run would.
type SequencerState struct {
	CurrentTime    string           `json:"current_time"`
	CurrentSession string           `json:"current_session"`
	PreviousTime   string           `json:"previous_time,omitempty"`
	Histories      map[string][]int `json:"histories"` // canonical slot -> bounded score FIFO
}

// Clone returns a deep copy. Checkpoint restore hands states to per-stream
// goroutines, which must never share backing arrays.
func (s SequencerState) Clone() SequencerState {
	out := SequencerState{
		CurrentTime:    s.CurrentTime,
		CurrentSession: s.CurrentSession,
		PreviousTime:   s.PreviousTime,
		Histories:      make(map[string][]int, len(s.Histories)),
	}
	for slot, hist := range s.Histories {
		out.Histories[slot] = append([]int(nil), hist...)
	}
	return out
}

// Checkpoint captures the sequencer state of every stream as of the last
// trading date included in a successful build.
type Checkpoint struct {
	CheckpointID   string                    `json:"checkpoint_id"`
	CheckpointDate string                    `json:"checkpoint_date"` // YYYY-MM-DD
	CreatedAt      time.Time                 `json:"created_at"`
	Streams        map[string]SequencerState `json:"streams"`
}

// ---------------------------------------------------------------------------
// Run history
// ---------------------------------------------------------------------------

// Build modes recorded in run history.
const (
	ModeFullRebuild       = "full_rebuild"
	ModeRollingResequence = "rolling_resequence"
	ModePartialRebuild    = "partial_rebuild"
)

// RunRecord is one append-only run-history entry per build attempt.
type RunRecord struct {
	RunID               string    `json:"run_id"`
	Mode                string    `json:"mode"`
	Timestamp           time.Time `json:"timestamp"`
	RequestedDays       int       `json:"requested_days,omitempty"`
	ReprocessStartDate  string    `json:"reprocess_start_date,omitempty"`
	MergedDataMaxDate   string    `json:"merged_data_max_date,omitempty"`
	CheckpointRestoreID string    `json:"checkpoint_restore_id,omitempty"`
	RowsRead            int64     `json:"rows_read"`
	RowsWritten         int64     `json:"rows_written"`
	DurationSeconds     float64   `json:"duration_seconds"`
	Success             bool      `json:"success"`
	ErrorMessage        string    `json:"error_message,omitempty"`
}

// Package sequencer implements the per-stream daily state machine that owns
// the Time field: it scores every canonical slot each trading day, maintains
// the bounded rolling histories, decides loss-triggered slot switches, and
// emits exactly one chosen row per trading day.
package sequencer

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"matrixcore/internal/domain"
	"matrixcore/internal/filters"
	"matrixcore/internal/slots"
)

// Sequencer runs one stream. It is single-goroutine state: each instance is
// owned by exactly one worker.
type Sequencer struct {
	stream     string
	rows       []domain.AnalyzerRow // sorted by (trade date, slot)
	canonical  []string
	selectable []string
	excluded   map[string]bool

	state domain.SequencerState

	log *slog.Logger
}

// New creates a Sequencer for one stream. rows must be sorted ascending by
// trade date. initial, when non-nil, seeds the state from a checkpoint
// (rolling resequence); otherwise the stream starts at the earliest
// selectable slot with empty histories.
func New(stream string, rows []domain.AnalyzerRow, filter domain.StreamFilter, initial *domain.SequencerState, log *slog.Logger) (*Sequencer, error) {
	session := slots.SessionS1
	for _, r := range rows {
		if r.Session != "" {
			session = r.Session
			break
		}
	}

	canonical := slots.Canonical(session)
	if len(canonical) == 0 {
		return nil, fmt.Errorf("%w: stream %s has no canonical slots for session %q", domain.ErrContract, stream, session)
	}
	selectable := filters.SelectableTimes(session, filter)
	if len(selectable) == 0 {
		return nil, fmt.Errorf("%w: stream %s has empty selectable slot set (all %d canonical slots excluded)",
			domain.ErrContract, stream, len(canonical))
	}

	excluded := make(map[string]bool, len(filter.ExcludeTimes))
	for _, t := range filter.ExcludeTimes {
		excluded[slots.Normalize(t)] = true
	}

	s := &Sequencer{
		stream:     stream,
		rows:       rows,
		canonical:  canonical,
		selectable: selectable,
		excluded:   excluded,
		log:        log.With("component", "sequencer", "stream", stream),
	}

	if initial != nil {
		st := initial.Clone()
		current := slots.Normalize(st.CurrentTime)
		if !slices.Contains(selectable, current) {
			s.log.Warn("restored slot not selectable, falling back",
				"restored", st.CurrentTime,
				"fallback", selectable[0],
			)
			current = selectable[0]
		}
		s.state = domain.SequencerState{
			CurrentTime:    current,
			CurrentSession: slots.SessionOf(current),
			PreviousTime:   st.PreviousTime,
			Histories:      make(map[string][]int, len(canonical)),
		}
		for _, t := range canonical {
			s.state.Histories[t] = append([]int(nil), st.Histories[t]...)
		}
	} else {
		s.state = domain.SequencerState{
			CurrentTime:    selectable[0],
			CurrentSession: session,
			Histories:      make(map[string][]int, len(canonical)),
		}
		for _, t := range canonical {
			s.state.Histories[t] = nil
		}
	}

	return s, nil
}

// SelectableTimes returns the stream's selectable slot set.
func (s *Sequencer) SelectableTimes() []string {
	return append([]string(nil), s.selectable...)
}

// State returns a deep copy of the current sequencer state.
func (s *Sequencer) State() domain.SequencerState {
	return s.state.Clone()
}

// Run executes the daily loop over every unique trading date present in the
// stream's data, ascending, and returns the chosen rows. displayYear > 0
// limits the emitted rows to that calendar year; histories advance
// regardless.
func (s *Sequencer) Run(displayYear int) ([]domain.ChosenRow, error) {
	days := s.groupByDay()
	chosen := make([]domain.ChosenRow, 0, len(days))

	for _, day := range days {
		row, err := s.processDay(day)
		if err != nil {
			return nil, err
		}
		if displayYear == 0 || day.date.Year() == displayYear {
			chosen = append(chosen, row)
		}
	}
	return chosen, nil
}

// dayGroup is one trading day's rows for the stream.
type dayGroup struct {
	date time.Time
	rows []domain.AnalyzerRow
}

// groupByDay partitions the sorted row slice into per-date groups.
func (s *Sequencer) groupByDay() []dayGroup {
	var days []dayGroup
	for i := 0; i < len(s.rows); {
		j := i
		for j < len(s.rows) && s.rows[j].TradeDate.Equal(s.rows[i].TradeDate) {
			j++
		}
		group := dayGroup{date: s.rows[i].TradeDate, rows: s.rows[i:j]}
		days = append(days, group)
		i = j
	}
	return days
}

// processDay runs one trading day: score all canonical slots, decide the
// switch, select the execution row, decorate, and mutate state once.
func (s *Sequencer) processDay(day dayGroup) (domain.ChosenRow, error) {
	// Result per canonical slot; absent slots count as NoTrade.
	bySlot := make(map[string]*domain.AnalyzerRow, len(day.rows))
	for i := range day.rows {
		t := slots.Normalize(day.rows[i].Time)
		if _, ok := bySlot[t]; !ok {
			bySlot[t] = &day.rows[i]
		}
	}

	// 1. Score every canonical slot and advance its history. Filtering never
	// affects this step: excluded slots still accumulate scores.
	scores := make(map[string]int, len(s.canonical))
	for _, t := range s.canonical {
		result := slots.ResultNoTrade
		if r, ok := bySlot[t]; ok {
			result = r.Result
		}
		sc := slots.Score(result)
		scores[t] = sc
		s.state.Histories[t] = UpdateHistory(s.state.Histories[t], sc)
	}
	if err := s.checkUniformHistories(day.date); err != nil {
		return domain.ChosenRow{}, err
	}

	// 2. Decide slot change: only a Loss at the current slot triggers the
	// comparison, against rolling sums that already include today.
	next := ""
	currentResult := slots.ResultNoTrade
	if r, ok := bySlot[s.state.CurrentTime]; ok {
		currentResult = r.Result
	}
	if currentResult == slots.ResultLoss {
		next = s.decideSwitch()
	}

	// 3. Select the execution row. Excluded slots are dropped defensively;
	// they should already be unreachable through the selectable invariant.
	eligible := day.rows
	if len(s.excluded) > 0 {
		eligible = make([]domain.AnalyzerRow, 0, len(day.rows))
		for _, r := range day.rows {
			if !s.excluded[slots.Normalize(r.Time)] {
				eligible = append(eligible, r)
			}
		}
	}
	picked := selectRow(eligible, s.state.CurrentTime, s.state.CurrentSession)

	var chosen domain.ChosenRow
	if picked != nil {
		chosen.AnalyzerRow = *picked
		chosen.ActualTradeTime = slots.Normalize(picked.Time)
		chosen.Time = s.state.CurrentTime
	} else {
		chosen.AnalyzerRow = domain.AnalyzerRow{
			TradeDate:  day.date,
			Time:       s.state.CurrentTime,
			Session:    s.state.CurrentSession,
			Instrument: s.instrument(),
			Stream:     s.stream,
			Result:     slots.ResultNoTrade,
		}
		chosen.ActualTradeTime = ""
	}

	// 4. Decorate with per-slot points and rolling sums, SL, and R.
	chosen.SlotPoints = make(map[string]int, len(s.canonical))
	chosen.SlotRolling = make(map[string]int, len(s.canonical))
	for _, t := range s.canonical {
		chosen.SlotPoints[t] = scores[t]
		chosen.SlotRolling[t] = Sum(s.state.Histories[t])
	}
	chosen.SL = math.Min(3*chosen.Target, chosen.Range)
	if chosen.Target != 0 {
		r := chosen.Profit / chosen.Target
		chosen.R = &r
	}

	// 5. Time Change display field. The slot authority stays in Time.
	oldCurrent := s.state.CurrentTime
	switch {
	case s.state.PreviousTime != "" && s.state.PreviousTime != oldCurrent:
		chosen.TimeChange = oldCurrent // yesterday's decision materializing
	case next != "":
		chosen.TimeChange = next // announced today, effective tomorrow
	}

	// 6. Mutate state exactly once, at end of day.
	s.state.PreviousTime = oldCurrent
	if next != "" {
		s.state.CurrentTime = next
		s.state.CurrentSession = slots.SessionOf(next)
	}

	return chosen, nil
}

// decideSwitch compares the post-update rolling sums of the other selectable
// slots in the current session against the current slot. A switch requires a
// strictly greater sum; ties among candidates break to the earliest slot.
// Returns "" when no switch happens.
func (s *Sequencer) decideSwitch() string {
	currentSumAfter := Sum(s.state.Histories[s.state.CurrentTime])
	sessionSlots := slots.Canonical(s.state.CurrentSession)

	best := ""
	bestSum := 0
	for _, t := range sessionSlots {
		if t == s.state.CurrentTime || !slices.Contains(s.selectable, t) {
			continue
		}
		sum := Sum(s.state.Histories[t])
		if best == "" || sum > bestSum {
			best = t
			bestSum = sum
		}
		// Equal sums keep the earlier candidate: sessionSlots is
		// chronological.
	}

	if best != "" && bestSum > currentSumAfter {
		return best
	}
	return ""
}

// checkUniformHistories enforces the equal-length invariant across all
// canonical slots after a processed day.
func (s *Sequencer) checkUniformHistories(date time.Time) error {
	want := len(s.state.Histories[s.canonical[0]])
	for _, t := range s.canonical[1:] {
		if len(s.state.Histories[t]) != want {
			return fmt.Errorf("%w: stream %s history length mismatch on %s: %s has %d entries, %s has %d",
				domain.ErrContract, s.stream, date.Format(domain.DateLayout),
				s.canonical[0], want, t, len(s.state.Histories[t]))
		}
	}
	return nil
}

func (s *Sequencer) instrument() string {
	if len(s.rows) > 0 && s.rows[0].Instrument != "" {
		return s.rows[0].Instrument
	}
	inst := s.stream
	for len(inst) > 0 && inst[len(inst)-1] >= '0' && inst[len(inst)-1] <= '9' {
		inst = inst[:len(inst)-1]
	}
	return inst
}

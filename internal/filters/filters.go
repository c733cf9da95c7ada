// Package filters applies per-stream day-of-week, day-of-month, and
// slot-time exclusions to chosen rows. Filtering marks rows via explicit
// fields only; it never removes rows and never touches rolling histories.
package filters

import (
	"fmt"
	"log/slog"
	"strings"

	"matrixcore/internal/config"
	"matrixcore/internal/domain"
	"matrixcore/internal/slots"
)

// Apply annotates every row with calendar fields, evaluates the exclusion
// rules in order, and fills FilterReasons / FinalAllowed. Rules are layered:
// once a row is disallowed, later rules still append their reasons.
func Apply(rows []domain.ChosenRow, streamFilters map[string]domain.StreamFilter, log *slog.Logger) []domain.ChosenRow {
	out := make([]domain.ChosenRow, len(rows))
	for i, row := range rows {
		out[i] = annotate(row, streamFilters[row.Stream], log)
	}
	return out
}

func annotate(row domain.ChosenRow, f domain.StreamFilter, log *slog.Logger) domain.ChosenRow {
	d := row.TradeDate
	row.DayOfMonth = d.Day()
	row.DOW = d.Weekday().String()[:3]
	row.DOWFull = d.Weekday().String()
	row.Month = int(d.Month())
	row.IsTwoStream = strings.HasSuffix(row.Stream, "2")
	row.DomBlocked = row.IsTwoStream && config.DOMBlockedDays[row.DayOfMonth]
	if row.Session == slots.SessionS2 {
		row.SessionIndex = 2
	} else {
		row.SessionIndex = 1
	}

	var reasons []string
	allowed := true

	// 1. Day-of-week exclusion, matched on the full name case-insensitively.
	for _, dow := range f.ExcludeDaysOfWeek {
		if strings.EqualFold(dow, row.DOWFull) {
			reasons = append(reasons, "dow:"+row.DOWFull)
			allowed = false
			break
		}
	}

	// 2. Day-of-month exclusion: per-stream list plus the global two-stream
	// blocked days.
	for _, dom := range f.ExcludeDaysOfMonth {
		if dom == row.DayOfMonth {
			reasons = append(reasons, fmt.Sprintf("dom:%d", dom))
			allowed = false
			break
		}
	}
	if row.DomBlocked {
		reasons = append(reasons, "dom_blocked")
		allowed = false
	}

	// 3. Slot-time exclusion. actual_trade_time is the sequencer-set
	// execution time; the Time fallback indicates missing sequencer
	// metadata and is worth a warning.
	if len(f.ExcludeTimes) > 0 {
		cmp := row.ActualTradeTime
		if cmp == "" {
			cmp = row.Time
			log.Warn("slot-time filter falling back to Time column",
				"stream", row.Stream,
				"trade_date", row.TradeDate.Format(domain.DateLayout),
			)
		}
		cmp = slots.Normalize(cmp)
		for _, t := range f.ExcludeTimes {
			if slots.Normalize(t) == cmp {
				reasons = append(reasons, "time:"+cmp)
				allowed = false
				break
			}
		}
	}

	row.FilterReasons = strings.Join(reasons, ",")
	row.FinalAllowed = allowed
	return row
}

// SelectableTimes returns the canonical slots of a session minus the
// stream's excluded times, all normalized. The sequencer fails a stream
// whose selectable set is empty.
func SelectableTimes(session string, f domain.StreamFilter) []string {
	excluded := make(map[string]bool, len(f.ExcludeTimes))
	for _, t := range f.ExcludeTimes {
		excluded[slots.Normalize(t)] = true
	}

	var out []string
	for _, t := range slots.Canonical(session) {
		if !excluded[t] {
			out = append(out, t)
		}
	}
	return out
}

package matrix

import (
	"fmt"
	"sort"

	"matrixcore/internal/domain"
	"matrixcore/internal/filters"
	"matrixcore/internal/slots"
)

// entrySort is the entry-time sort component with the null sentinel applied.
func entrySort(r *domain.ChosenRow) string {
	if r.ActualTradeTime == "" {
		return NoTradeEntryTime
	}
	return r.ActualTradeTime
}

// fingerprintKey identifies a row across sorts: (Stream, trade_date,
// entry_time), all normalized.
func fingerprintKey(r *domain.ChosenRow) string {
	return r.Stream + "|" + r.TradeDate.Format(domain.DateLayout) + "|" + slots.Normalize(entrySort(r))
}

// snapshotTimes captures the sequencer's Time per row. Taken immediately
// post-sequencer and verified after every later pipeline stage: filters and
// sorting may reorder and decorate rows but must never touch Time.
func snapshotTimes(rows []domain.ChosenRow) map[string]string {
	fp := make(map[string]string, len(rows))
	for i := range rows {
		fp[fingerprintKey(&rows[i])] = rows[i].Time
	}
	return fp
}

// verifyTimes asserts the Time column against a snapshot. Any drift is a
// logic defect and fails the build.
func verifyTimes(rows []domain.ChosenRow, snapshot map[string]string) error {
	for i := range rows {
		key := fingerprintKey(&rows[i])
		want, ok := snapshot[key]
		if !ok {
			continue // rows preserved from an earlier build carry no snapshot
		}
		if rows[i].Time != want {
			return fmt.Errorf("%w: Time mutated for %s: %q != %q",
				domain.ErrContract, key, rows[i].Time, want)
		}
	}
	return nil
}

// sortCanonical orders rows by (Stream, trade_date, entry_time) and assigns
// gapless 1-based global trade IDs.
func sortCanonical(rows []domain.ChosenRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Stream != rows[j].Stream {
			return rows[i].Stream < rows[j].Stream
		}
		if !rows[i].TradeDate.Equal(rows[j].TradeDate) {
			return rows[i].TradeDate.Before(rows[j].TradeDate)
		}
		return entrySort(&rows[i]) < entrySort(&rows[j])
	})
	for i := range rows {
		rows[i].GlobalTradeID = int64(i + 1)
	}
}

// checkSelectable re-asserts that every row's Time is in its stream's
// selectable set. A violation indicates a sequencer defect.
func checkSelectable(rows []domain.ChosenRow, streamFilters map[string]domain.StreamFilter) error {
	selectable := make(map[string]map[string]bool)
	for i := range rows {
		r := &rows[i]
		set, ok := selectable[r.Stream]
		if !ok {
			set = make(map[string]bool)
			for _, t := range filters.SelectableTimes(r.Session, streamFilters[r.Stream]) {
				set[t] = true
			}
			selectable[r.Stream] = set
		}
		if !set[slots.Normalize(r.Time)] {
			return fmt.Errorf("%w: stream %s emitted non-selectable time %q on %s",
				domain.ErrContract, r.Stream, r.Time, r.TradeDate.Format(domain.DateLayout))
		}
	}
	return nil
}

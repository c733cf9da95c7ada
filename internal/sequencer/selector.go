package sequencer

import (
	"matrixcore/internal/domain"
	"matrixcore/internal/slots"
)

// selectRow returns the row among a day's rows whose normalized time equals
// the sequencer's current slot and whose session matches. It is a pure
// lookup: no fallback, no inference. nil means the caller records a NoTrade
// day.
func selectRow(dayRows []domain.AnalyzerRow, currentTime, currentSession string) *domain.AnalyzerRow {
	for i := range dayRows {
		r := &dayRows[i]
		if slots.Normalize(r.Time) == currentTime && r.Session == currentSession {
			return r
		}
	}
	return nil
}

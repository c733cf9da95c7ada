package matrix

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"matrixcore/internal/discovery"
	"matrixcore/internal/domain"
	"matrixcore/internal/sequencer"
)

// RunSummary reports what a rolling resequence did.
type RunSummary struct {
	RunID           string
	WindowStart     time.Time
	RowsPreserved   int
	RowsResequenced int
	MatrixPath      string
	Duration        time.Duration
}

// RollingResequence rebuilds only the trailing n unique trading days of the
// matrix: historical rows are preserved byte-for-byte, sequencer state is
// restored from the latest checkpoint, and the tail is replayed. With a
// checkpoint dated before the window start, the result is identical to a
// full rebuild over the same inputs.
func (e *Engine) RollingResequence(ctx context.Context, n int) (*RunSummary, error) {
	start := time.Now()
	rec := domain.RunRecord{
		RunID:         uuid.NewString(),
		Mode:          domain.ModeRollingResequence,
		Timestamp:     start.UTC(),
		RequestedDays: n,
	}

	summary, err := e.rollingResequence(ctx, n, &rec)
	rec.DurationSeconds = time.Since(start).Seconds()
	rec.Success = err == nil
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	e.record(rec)

	if err != nil {
		return nil, err
	}
	summary.RunID = rec.RunID
	summary.Duration = time.Since(start)
	return summary, nil
}

func (e *Engine) rollingResequence(ctx context.Context, n int, rec *domain.RunRecord) (*RunSummary, error) {
	if n <= 0 {
		n = e.cfg.Matrix.ResequenceDays
	}

	streams := discovery.Streams(e.cfg.Paths.AnalyzerRunsDir, e.log)
	if len(streams) == 0 {
		return nil, fmt.Errorf("no analyzer streams discovered under %s", e.cfg.Paths.AnalyzerRunsDir)
	}

	// Full scan: the presence-based trading calendar needs all dates.
	data, err := e.loader.Load(ctx, streams, e.loadOptions(BuildOptions{}))
	if err != nil {
		return nil, fmt.Errorf("loading analyzer data: %w", err)
	}
	if err := e.checkCritical(streams, data, true); err != nil {
		return nil, err
	}
	rec.RowsRead = countRows(data)
	rec.MergedDataMaxDate = maxTradeDate(data).Format(domain.DateLayout)

	windowStart, err := resequenceStart(data, n)
	if err != nil {
		return nil, err
	}
	rec.ReprocessStartDate = windowStart.Format(domain.DateLayout)

	existing, _, err := e.store.LoadLatest()
	if err != nil {
		return nil, fmt.Errorf("loading existing matrix: %w", err)
	}
	var preserved []domain.ChosenRow
	for i := range existing {
		if existing[i].TradeDate.Before(windowStart) {
			preserved = append(preserved, existing[i])
		}
	}

	cp, err := e.checkpoints.LoadLatest()
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: run a full rebuild first", domain.ErrNoCheckpoint)
	}
	rec.CheckpointRestoreID = cp.CheckpointID
	if cp.CheckpointDate >= windowStart.Format(domain.DateLayout) {
		e.log.Warn("checkpoint is not older than the resequence window start",
			"checkpoint_date", cp.CheckpointDate,
			"window_start", windowStart.Format(domain.DateLayout),
		)
	}

	tail := make(map[string][]domain.AnalyzerRow, len(data))
	for stream, rows := range data {
		var slice []domain.AnalyzerRow
		for i := range rows {
			if !rows[i].TradeDate.Before(windowStart) {
				slice = append(slice, rows[i])
			}
		}
		if len(slice) > 0 {
			tail[stream] = slice
		}
	}

	chosen, states, err := sequencer.RunStreams(ctx, sequencer.RunInput{
		Data:          tail,
		StreamFilters: e.cfg.StreamFilters,
		InitialStates: cp.Streams,
		DisplayYear:   e.cfg.Matrix.DisplayYear,
		Parallel:      true,
	}, e.log)
	if err != nil {
		return nil, err
	}

	final, err := e.finalize(chosen, preserved)
	if err != nil {
		return nil, err
	}
	rec.RowsWritten = int64(len(final))

	path, err := e.store.Save(final, nil)
	if err != nil {
		return nil, err
	}

	// The replay covered every stream, so the final states are complete and
	// worth snapshotting; stale checkpoints would otherwise open a gap ahead
	// of the next window.
	if _, err := e.checkpoints.Create(maxTradeDate(data).Format(domain.DateLayout), states); err != nil {
		return nil, fmt.Errorf("creating checkpoint: %w", err)
	}

	e.log.Info("rolling resequence complete",
		"window_start", windowStart.Format(domain.DateLayout),
		"rows_preserved", len(preserved),
		"rows_resequenced", len(chosen),
	)
	return &RunSummary{
		WindowStart:     windowStart,
		RowsPreserved:   len(preserved),
		RowsResequenced: len(chosen),
		MatrixPath:      path,
	}, nil
}

// resequenceStart finds the date n unique trading days back from the latest
// analyzer date, using the presence-based calendar of the merged data.
// Calendar-day arithmetic never enters here: weekends and holidays simply do
// not appear in the data.
func resequenceStart(data map[string][]domain.AnalyzerRow, n int) (time.Time, error) {
	seen := make(map[time.Time]bool)
	for _, rows := range data {
		for i := range rows {
			seen[rows[i].TradeDate] = true
		}
	}

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	if len(dates) < n {
		return time.Time{}, fmt.Errorf("insufficient history for a %d-day resequence: only %d unique trading days available", n, len(dates))
	}
	return dates[len(dates)-n], nil
}

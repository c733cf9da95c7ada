package sequencer

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"matrixcore/internal/domain"
)

// RunInput carries everything a sequencer pass needs. Data, filters, and
// initial states are read-only during the pass; each stream's sequencer is
// owned by exactly one goroutine.
type RunInput struct {
	Data          map[string][]domain.AnalyzerRow
	StreamFilters map[string]domain.StreamFilter
	InitialStates map[string]domain.SequencerState // nil for a cold start
	DisplayYear   int
	Parallel      bool
}

// RunStreams runs the sequencer across every stream in input.Data and
// returns the concatenated chosen rows (grouped by stream in sorted stream
// order) plus each stream's final state. Parallel and sequential execution
// produce identical output: per-stream results are assembled positionally,
// never in completion order.
func RunStreams(ctx context.Context, input RunInput, log *slog.Logger) ([]domain.ChosenRow, map[string]domain.SequencerState, error) {
	streams := make([]string, 0, len(input.Data))
	for s := range input.Data {
		streams = append(streams, s)
	}
	sort.Strings(streams)

	perStream := make([][]domain.ChosenRow, len(streams))
	states := make([]domain.SequencerState, len(streams))

	runOne := func(i int) error {
		stream := streams[i]

		var initial *domain.SequencerState
		if st, ok := input.InitialStates[stream]; ok {
			c := st.Clone()
			initial = &c
		}

		seq, err := New(stream, input.Data[stream], input.StreamFilters[stream], initial, log)
		if err != nil {
			return err
		}
		rows, err := seq.Run(input.DisplayYear)
		if err != nil {
			return err
		}
		perStream[i] = rows
		states[i] = seq.State()
		return nil
	}

	if input.Parallel {
		g, _ := errgroup.WithContext(ctx)
		for i := range streams {
			i := i
			g.Go(func() error { return runOne(i) })
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	} else {
		for i := range streams {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			if err := runOne(i); err != nil {
				return nil, nil, err
			}
		}
	}

	var all []domain.ChosenRow
	finalStates := make(map[string]domain.SequencerState, len(streams))
	for i, stream := range streams {
		all = append(all, perStream[i]...)
		finalStates[stream] = states[i]
	}
	return all, finalStates, nil
}

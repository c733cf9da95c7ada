// Rolling resequence: rebuild only the trailing window of unique trading
// days, restoring sequencer state from the latest checkpoint.
//
// Usage:
//
//	go run cmd/matrix-resequence/main.go [-days 35]
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"matrixcore/internal/checkpoint"
	"matrixcore/internal/config"
	"matrixcore/internal/domain"
	"matrixcore/internal/loader"
	"matrixcore/internal/matrix"
	"matrixcore/internal/runlog"
	"matrixcore/internal/timetable"
	"matrixcore/internal/util"
)

func main() {
	days := flag.Int("days", 0, "resequence window in unique trading days (0 = configured default)")
	flag.Parse()

	cfgPath := "config/matrix.yaml"
	if p := os.Getenv("MATRIX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	runs, err := runlog.New(cfg.Paths.StateDir, logger)
	if err != nil {
		log.Fatalf("failed to open run history: %v", err)
	}
	defer runs.Close()

	tb := timetable.New(cfg.Paths.TimetableDir, cfg.Timetable.Instruments, logger)
	engine := matrix.NewEngine(
		cfg,
		loader.New(cfg.Paths.AnalyzerRunsDir, logger),
		matrix.NewStore(cfg.Paths.OutputDir, tb, logger),
		checkpoint.New(cfg.Paths.StateDir, logger),
		runs,
		logger,
	)

	summary, err := engine.RollingResequence(context.Background(), *days)
	if err != nil {
		log.Fatalf("rolling resequence failed: %v", err)
	}
	logger.Info("rolling resequence done",
		"window_start", summary.WindowStart.Format(domain.DateLayout),
		"rows_preserved", summary.RowsPreserved,
		"rows_resequenced", summary.RowsResequenced,
		"matrix", summary.MatrixPath,
		"duration", summary.Duration.String(),
	)
}

// Package checkpoint persists point-in-time snapshots of sequencer state.
// Checkpoints are immutable: each one is a new file, written atomically, and
// never overwritten.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"matrixcore/internal/domain"
)

// Manager reads and writes checkpoint files under <stateDir>/checkpoints/.
type Manager struct {
	dir string
	log *slog.Logger
}

// New creates a Manager rooted at the state directory.
func New(stateDir string, log *slog.Logger) *Manager {
	return &Manager{
		dir: filepath.Join(stateDir, "checkpoints"),
		log: log.With("component", "checkpoint"),
	}
}

// Meta is a checkpoint summary for listings.
type Meta struct {
	CheckpointID   string    `json:"checkpoint_id"`
	CheckpointDate string    `json:"checkpoint_date"`
	CreatedAt      time.Time `json:"created_at"`
	Streams        int       `json:"streams"`
}

// Create writes a new checkpoint for the given last-included trading date
// and per-stream states, and returns its ID. The write is temp-file plus
// rename; an existing file is never overwritten in place.
func (m *Manager) Create(checkpointDate string, streams map[string]domain.SequencerState) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating checkpoints dir: %w", err)
	}

	cp := domain.Checkpoint{
		CheckpointID:   uuid.NewString(),
		CheckpointDate: checkpointDate,
		CreatedAt:      time.Now().UTC(),
		Streams:        streams,
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling checkpoint: %w", err)
	}

	final := filepath.Join(m.dir, "checkpoint_"+cp.CheckpointID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming checkpoint: %w", err)
	}

	m.log.Info("checkpoint created",
		"checkpoint_id", cp.CheckpointID,
		"checkpoint_date", checkpointDate,
		"streams", len(streams),
	)
	return cp.CheckpointID, nil
}

// LoadLatest returns the checkpoint with the maximum checkpoint_date
// (lexicographic order is chronological for YYYY-MM-DD), or nil if none is
// usable. Unparseable files are skipped with a warning.
func (m *Manager) LoadLatest() (*domain.Checkpoint, error) {
	cps, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, nil
	}

	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.CheckpointDate > latest.CheckpointDate ||
			(cp.CheckpointDate == latest.CheckpointDate && cp.CreatedAt.After(latest.CreatedAt)) {
			latest = cp
		}
	}
	return latest, nil
}

// List returns checkpoint summaries sorted by date descending.
func (m *Manager) List() ([]Meta, error) {
	cps, err := m.loadAll()
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(cps))
	for _, cp := range cps {
		metas = append(metas, Meta{
			CheckpointID:   cp.CheckpointID,
			CheckpointDate: cp.CheckpointDate,
			CreatedAt:      cp.CreatedAt,
			Streams:        len(cp.Streams),
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CheckpointDate != metas[j].CheckpointDate {
			return metas[i].CheckpointDate > metas[j].CheckpointDate
		}
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// MaxProcessedDate returns the latest checkpoint date, or false when no
// checkpoint exists.
func (m *Manager) MaxProcessedDate() (string, bool, error) {
	cp, err := m.LoadLatest()
	if err != nil || cp == nil {
		return "", false, err
	}
	return cp.CheckpointDate, true, nil
}

func (m *Manager) loadAll() ([]*domain.Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoints dir: %w", err)
	}

	var cps []*domain.Checkpoint
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "checkpoint_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			m.log.Warn("reading checkpoint file", "file", name, "error", err)
			continue
		}
		var cp domain.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			m.log.Warn("skipping unparseable checkpoint", "file", name, "error", err)
			continue
		}
		cps = append(cps, &cp)
	}
	return cps, nil
}

package runlog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"matrixcore/internal/domain"
)

// index is the SQLite mirror of the JSONL run log. Payload holds the exact
// JSON line so queries return the same object the file carries.
type index struct {
	db *sql.DB
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id    TEXT PRIMARY KEY,
	mode      TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	success   INTEGER NOT NULL,
	payload   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_timestamp ON runs (timestamp DESC);
`

func openIndex(dbPath string) (*index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating runs table: %w", err)
	}
	return &index{db: db}, nil
}

func (i *index) close() error {
	return i.db.Close()
}

func (i *index) upsert(rec domain.RunRecord, payload []byte) error {
	_, err := i.db.Exec(`
		INSERT INTO runs (run_id, mode, timestamp, success, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			mode = excluded.mode,
			timestamp = excluded.timestamp,
			success = excluded.success,
			payload = excluded.payload`,
		rec.RunID, rec.Mode, rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		boolToInt(rec.Success), string(payload),
	)
	return err
}

func (i *index) recent(limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := i.db.Query(`SELECT payload FROM runs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec domain.RunRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("unmarshalling indexed record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (i *index) byID(id string) (*domain.RunRecord, error) {
	var payload string
	err := i.db.QueryRow(`SELECT payload FROM runs WHERE run_id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.RunRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling indexed record: %w", err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

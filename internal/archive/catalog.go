// Package archive keeps a durable catalog of what the media driver carried:
// which publications existed, where their log files lived and what the
// distinct error log held. The catalog is for post-mortem inspection; the
// transport itself never reads it.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS publications (
	registration_id INTEGER NOT NULL,
	channel TEXT NOT NULL,
	stream_id INTEGER NOT NULL,
	session_id INTEGER NOT NULL,
	log_file TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	removed_at_ms INTEGER,
	PRIMARY KEY (registration_id, created_at_ms)
);

CREATE TABLE IF NOT EXISTS error_observations (
	recorded_at_ms INTEGER NOT NULL,
	observation_count INTEGER NOT NULL,
	first_observation_ms INTEGER NOT NULL,
	last_observation_ms INTEGER NOT NULL,
	encoded_error TEXT NOT NULL
);
`

// PublicationRecord is one catalogued publication.
type PublicationRecord struct {
	RegistrationID int64
	Channel        string
	StreamID       int32
	SessionID      int32
	LogFile        string
	CreatedAtMs    int64
	RemovedAtMs    *int64
}

// ErrorRecord is one snapshot of a distinct error log entry.
type ErrorRecord struct {
	RecordedAtMs       int64
	ObservationCount   int32
	FirstObservationMs int64
	LastObservationMs  int64
	EncodedError       string
}

// Catalog is a sqlite-backed driver catalog.
type Catalog struct {
	db *sql.DB
}

// Open creates or opens the catalog database at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir catalog dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the database.
func (c *Catalog) Close() error { return c.db.Close() }

// RecordPublication catalogues a new publication.
func (c *Catalog) RecordPublication(registrationID int64, channel string, streamID, sessionID int32, logFile string, nowMs int64) error {
	_, err := c.db.Exec(`
INSERT INTO publications (registration_id, channel, stream_id, session_id, log_file, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)`,
		registrationID, channel, streamID, sessionID, logFile, nowMs)
	if err != nil {
		return fmt.Errorf("record publication %d: %w", registrationID, err)
	}
	return nil
}

// RecordPublicationClosed stamps the removal time of a publication.
func (c *Catalog) RecordPublicationClosed(registrationID int64, nowMs int64) error {
	_, err := c.db.Exec(`
UPDATE publications SET removed_at_ms = ? WHERE registration_id = ? AND removed_at_ms IS NULL`,
		nowMs, registrationID)
	if err != nil {
		return fmt.Errorf("close publication %d: %w", registrationID, err)
	}
	return nil
}

// ListPublications returns every catalogued publication, oldest first.
func (c *Catalog) ListPublications(ctx context.Context) ([]PublicationRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT registration_id, channel, stream_id, session_id, log_file, created_at_ms, removed_at_ms
FROM publications ORDER BY created_at_ms, registration_id`)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	var records []PublicationRecord
	for rows.Next() {
		var r PublicationRecord
		var removed sql.NullInt64
		if err := rows.Scan(&r.RegistrationID, &r.Channel, &r.StreamID, &r.SessionID, &r.LogFile, &r.CreatedAtMs, &removed); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		if removed.Valid {
			r.RemovedAtMs = &removed.Int64
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordErrors snapshots distinct error log entries.
func (c *Catalog) RecordErrors(nowMs int64, records []ErrorRecord) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin error snapshot: %w", err)
	}
	for _, r := range records {
		if _, err := tx.Exec(`
INSERT INTO error_observations (recorded_at_ms, observation_count, first_observation_ms, last_observation_ms, encoded_error)
VALUES (?, ?, ?, ?, ?)`,
			nowMs, r.ObservationCount, r.FirstObservationMs, r.LastObservationMs, r.EncodedError); err != nil {
			tx.Rollback()
			return fmt.Errorf("record error observation: %w", err)
		}
	}
	return tx.Commit()
}

// ListErrors returns every snapshotted error observation.
func (c *Catalog) ListErrors(ctx context.Context) ([]ErrorRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT recorded_at_ms, observation_count, first_observation_ms, last_observation_ms, encoded_error
FROM error_observations ORDER BY recorded_at_ms`)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	var records []ErrorRecord
	for rows.Next() {
		var r ErrorRecord
		if err := rows.Scan(&r.RecordedAtMs, &r.ObservationCount, &r.FirstObservationMs, &r.LastObservationMs, &r.EncodedError); err != nil {
			return nil, fmt.Errorf("scan error observation: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

package state

import (
	"database/sql"
	"errors"
	"fmt"
)

const metaKeyWiringComplete = "wiring_complete"

// WiringComplete reports whether a dependency wiring pass has finished
// for this project. The flag survives process restarts, so a second
// wiring run against the same database is refused.
func (db *DB) WiringComplete() (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var value string
	row := db.conn.QueryRow("SELECT value FROM meta WHERE key = ?", metaKeyWiringComplete)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read wiring flag: %w", err)
	}
	return value == "true", nil
}

// MarkWiringComplete records that dependency wiring finished successfully.
func (db *DB) MarkWiringComplete() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO meta (key, value) VALUES (?, 'true')
		ON CONFLICT(key) DO UPDATE SET value = 'true'
	`, metaKeyWiringComplete)
	if err != nil {
		return fmt.Errorf("mark wiring complete: %w", err)
	}
	return nil
}

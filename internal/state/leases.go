package state

import (
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/foreman/internal/lease"
)

// SaveLease upserts a lease row. Implements lease.Store.
func (db *DB) SaveLease(l *lease.AssignmentLease) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("marshal lease metadata for %s: %w", l.TaskID, err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO leases (task_id, agent_id, created_at, expires_at, duration_hours, renewal_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			duration_hours = excluded.duration_hours,
			renewal_count = excluded.renewal_count,
			metadata = excluded.metadata
	`, l.TaskID, l.AgentID, formatTime(l.CreatedAt), formatTime(l.ExpiresAt),
		l.DurationHours, l.RenewalCount, string(meta))
	if err != nil {
		return fmt.Errorf("save lease for %s: %w", l.TaskID, err)
	}
	return nil
}

// DeleteLease removes a lease row. Deleting a missing lease is not an error.
func (db *DB) DeleteLease(taskID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec("DELETE FROM leases WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("delete lease for %s: %w", taskID, err)
	}
	return nil
}

// LoadLeases returns all persisted leases.
func (db *DB) LoadLeases() ([]*lease.AssignmentLease, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT task_id, agent_id, created_at, expires_at, duration_hours, renewal_count, metadata
		FROM leases
		ORDER BY task_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query leases: %w", err)
	}
	defer rows.Close()

	var leases []*lease.AssignmentLease
	for rows.Next() {
		var (
			l         lease.AssignmentLease
			createdAt string
			expiresAt string
			meta      string
		)
		err := rows.Scan(&l.TaskID, &l.AgentID, &createdAt, &expiresAt,
			&l.DurationHours, &l.RenewalCount, &meta)
		if err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}

		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", l.TaskID, err)
		}
		if l.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, fmt.Errorf("parse expires_at for %s: %w", l.TaskID, err)
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &l.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal lease metadata for %s: %w", l.TaskID, err)
			}
		}

		leases = append(leases, &l)
	}
	return leases, rows.Err()
}

package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// SaveTasks replaces the persisted task graph with the given set of tasks.
// Dependencies and labels are stored as JSON arrays.
func (db *DB) SaveTasks(tasks []*models.Task) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM tasks"); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO tasks (id, name, status, dependencies, estimated_hours,
				priority, labels, is_subtask, parent_task_id, provides, requires, task_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, task := range tasks {
			deps, err := json.Marshal(task.Dependencies)
			if err != nil {
				return fmt.Errorf("marshal dependencies for %s: %w", task.ID, err)
			}
			labels, err := json.Marshal(task.Labels)
			if err != nil {
				return fmt.Errorf("marshal labels for %s: %w", task.ID, err)
			}

			_, err = stmt.Exec(
				task.ID, task.Name, string(task.Status), string(deps),
				task.EstimatedHours, string(task.Priority), string(labels),
				boolToInt(task.IsSubtask), task.ParentTaskID,
				task.Provides, task.Requires, task.Order,
			)
			if err != nil {
				return fmt.Errorf("insert task %s: %w", task.ID, err)
			}
		}
		return nil
	})
}

// LoadTasks loads all persisted tasks, ordered by task_order then ID.
func (db *DB) LoadTasks() ([]*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, name, status, dependencies, estimated_hours,
			priority, labels, is_subtask, parent_task_id, provides, requires, task_order
		FROM tasks
		ORDER BY task_order, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var (
			task      models.Task
			status    string
			priority  string
			deps      sql.NullString
			labels    sql.NullString
			isSubtask int
			parentID  sql.NullString
		)
		err := rows.Scan(
			&task.ID, &task.Name, &status, &deps, &task.EstimatedHours,
			&priority, &labels, &isSubtask, &parentID,
			&task.Provides, &task.Requires, &task.Order,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}

		task.Status = models.TaskStatus(status)
		task.Priority = models.Priority(priority)
		task.IsSubtask = isSubtask != 0
		task.ParentTaskID = parentID.String

		if deps.Valid && deps.String != "" {
			if err := json.Unmarshal([]byte(deps.String), &task.Dependencies); err != nil {
				return nil, fmt.Errorf("unmarshal dependencies for %s: %w", task.ID, err)
			}
		}
		if labels.Valid && labels.String != "" {
			if err := json.Unmarshal([]byte(labels.String), &task.Labels); err != nil {
				return nil, fmt.Errorf("unmarshal labels for %s: %w", task.ID, err)
			}
		}

		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus updates the status of a single persisted task.
func (db *DB) UpdateTaskStatus(taskID string, status models.TaskStatus) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.Exec("UPDATE tasks SET status = ? WHERE id = ?", string(status), taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

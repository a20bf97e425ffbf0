package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"forwarder/internal/models"
)

const taskColumns = `id, name, client_id, userbot_phone, message_link, fallback_message_link,
        folder_id, send_to_all_groups, start_time, end_time, repetition_interval,
        next_due, last_run, status, total_runs, successful_runs, failed_runs,
        consecutive_failures, last_error, created_by, template_id, config_json,
        created_at, updated_at`

// CreateTask создает новую задачу; next_due выставляется в start_time
func (db *DB) CreateTask(ctx context.Context, task *models.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	if task.Status == "" {
		task.Status = models.StatusActive
	}
	if task.NextDue.IsZero() {
		task.NextDue = task.StartTime
	}

	configJSON, err := task.Config.JSON()
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
        INSERT INTO tasks (name, client_id, userbot_phone, message_link, fallback_message_link,
            folder_id, send_to_all_groups, start_time, end_time, repetition_interval,
            next_due, status, created_by, template_id, config_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	result, err := db.db.ExecContext(ctx, query,
		task.Name,
		task.ClientID,
		task.UserbotPhone,
		task.MessageLink,
		nullString(task.FallbackMessageLink),
		task.FolderID,
		task.SendToAllGroups,
		task.StartTime,
		task.EndTime,
		int64(task.Interval/time.Minute),
		task.NextDue,
		task.Status,
		task.CreatedBy,
		task.TemplateID,
		configJSON,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

// GetTask возвращает задачу по ID; (nil, nil) если задача удалена
func (db *DB) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(db.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return task, nil
}

// ListDueTasks возвращает активные задачи с наступившим next_due
func (db *DB) ListDueTasks(ctx context.Context, now time.Time) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + `
        FROM tasks
        WHERE status = ? AND next_due <= ?
        ORDER BY next_due ASC`

	rows, err := db.db.QueryContext(ctx, query, models.StatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ListTasks возвращает задачи по фильтру (статус и/или клиент)
func (db *DB) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []interface{}

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// UpdateAfterRun атомарно записывает результат одного запуска: статус,
// next_due, счетчики и последнюю ошибку одним UPDATE.
func (db *DB) UpdateAfterRun(ctx context.Context, result models.RunResult) error {
	succDelta := 0
	failDelta := 0
	if result.Succeeded {
		succDelta = 1
	} else {
		failDelta = 1
	}

	query := `
        UPDATE tasks
        SET status = ?,
            next_due = ?,
            last_run = ?,
            total_runs = total_runs + 1,
            successful_runs = successful_runs + ?,
            failed_runs = failed_runs + ?,
            consecutive_failures = ?,
            last_error = ?,
            updated_at = ?
        WHERE id = ?
    `

	_, err := db.db.ExecContext(ctx, query,
		result.Status,
		result.NextDue,
		result.LastRun,
		succDelta,
		failDelta,
		result.ConsecutiveFailures,
		nullString(result.LastError),
		time.Now(),
		result.TaskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %d after run: %w", result.TaskID, err)
	}
	return nil
}

// BulkUpdateStatus переводит задачи из статуса from в to; nextDue задается
// опционально. Фильтр по from закрывает гонку со свежезавершившимся
// запуском: задача, успевшая сменить статус после выборки, не перекрашивается.
func (db *DB) BulkUpdateStatus(ctx context.Context, ids []int64, from, to string, nextDue *time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `UPDATE tasks SET status = ?, updated_at = ?`
	args := []interface{}{to, time.Now()}
	if nextDue != nil {
		query += `, next_due = ?`
		args = append(args, *nextDue)
	}
	query += ` WHERE status = ? AND id IN (` + placeholders(len(ids)) + `)`
	args = append(args, from)
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update tasks: %w", err)
	}
	return result.RowsAffected()
}

// DeleteTasks удаляет задачи по ID
func (db *DB) DeleteTasks(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `DELETE FROM tasks WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks: %w", err)
	}
	return result.RowsAffected()
}

// TaskStats возвращает агрегированную статистику по фильтру
func (db *DB) TaskStats(ctx context.Context, filter models.TaskFilter) (*models.Stats, error) {
	query := `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN status = 'paused' THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(total_runs), 0),
               COALESCE(SUM(successful_runs), 0),
               COALESCE(SUM(failed_runs), 0)
        FROM tasks
    `
	var args []interface{}
	if filter.ClientID != "" {
		query += " WHERE client_id = ?"
		args = append(args, filter.ClientID)
	}

	var stats models.Stats
	err := db.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalTasks,
		&stats.ActiveTasks,
		&stats.PausedTasks,
		&stats.CompletedTasks,
		&stats.FailedTasks,
		&stats.TotalRuns,
		&stats.SuccessfulRuns,
		&stats.FailedRuns,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get task stats: %w", err)
	}
	return &stats, nil
}

// ListTargetGroups возвращает группы для цели задачи: все группы клиента
// либо группы выбранной папки.
func (db *DB) ListTargetGroups(ctx context.Context, target models.Target) ([]models.TargetGroup, error) {
	var rows *sql.Rows
	var err error

	if target.SendToAllGroups {
		rows, err = db.db.QueryContext(ctx,
			`SELECT group_id, name, added_by, folder_id FROM target_groups WHERE added_by = ?`,
			target.ClientID)
	} else if target.FolderID != nil {
		rows, err = db.db.QueryContext(ctx,
			`SELECT group_id, name, added_by, folder_id FROM target_groups WHERE folder_id = ?`,
			*target.FolderID)
	} else {
		return nil, models.ErrNoTarget
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list target groups: %w", err)
	}
	defer rows.Close()

	var groups []models.TargetGroup
	for rows.Next() {
		var g models.TargetGroup
		var name sql.NullString
		if err := rows.Scan(&g.GroupID, &name, &g.AddedBy, &g.FolderID); err != nil {
			return nil, fmt.Errorf("failed to scan target group: %w", err)
		}
		g.Name = name.String
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AddTargetGroup добавляет целевую группу клиента
func (db *DB) AddTargetGroup(ctx context.Context, group *models.TargetGroup) error {
	query := `INSERT OR REPLACE INTO target_groups (group_id, name, added_by, folder_id) VALUES (?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query, group.GroupID, group.Name, group.AddedBy, group.FolderID)
	if err != nil {
		return fmt.Errorf("failed to add target group: %w", err)
	}
	return nil
}

// CreateFolder создает папку групп
func (db *DB) CreateFolder(ctx context.Context, folder *models.Folder) error {
	query := `INSERT INTO folders (name, created_by) VALUES (?, ?)`
	result, err := db.db.ExecContext(ctx, query, folder.Name, folder.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	folder.ID, err = result.LastInsertId()
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var fallback, lastError, configJSON sql.NullString
	var endTime, lastRun sql.NullTime
	var folderID, createdBy, templateID sql.NullInt64
	var intervalMin int64

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.ClientID,
		&t.UserbotPhone,
		&t.MessageLink,
		&fallback,
		&folderID,
		&t.SendToAllGroups,
		&t.StartTime,
		&endTime,
		&intervalMin,
		&t.NextDue,
		&lastRun,
		&t.Status,
		&t.TotalRuns,
		&t.SuccessfulRuns,
		&t.FailedRuns,
		&t.ConsecutiveFailures,
		&lastError,
		&createdBy,
		&templateID,
		&configJSON,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.FallbackMessageLink = fallback.String
	t.LastError = lastError.String
	t.Interval = time.Duration(intervalMin) * time.Minute
	if endTime.Valid {
		t.EndTime = &endTime.Time
	}
	if lastRun.Valid {
		t.LastRun = &lastRun.Time
	}
	if folderID.Valid {
		t.FolderID = &folderID.Int64
	}
	if createdBy.Valid {
		t.CreatedBy = &createdBy.Int64
	}
	if templateID.Valid {
		t.TemplateID = &templateID.Int64
	}

	cfg, err := models.ParseTaskConfig(configJSON.String)
	if err != nil {
		return nil, err
	}
	t.Config = cfg

	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

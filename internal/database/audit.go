package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"forwarder/internal/models"
)

// LogAdminAction записывает действие администратора в аудит
func (db *DB) LogAdminAction(ctx context.Context, action *models.AdminAction) error {
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now()
	}
	query := `INSERT INTO admin_actions (admin_id, action_type, target_id, details, timestamp) VALUES (?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		action.AdminID,
		action.ActionType,
		nullString(action.TargetID),
		nullString(action.Details),
		action.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to log admin action: %w", err)
	}
	action.ID, _ = result.LastInsertId()
	return nil
}

// LogEvent записывает событие движка в журнал
func (db *DB) LogEvent(ctx context.Context, record *models.EventRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	query := `INSERT INTO logs (timestamp, event, details, client_id, task_id) VALUES (?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		record.Timestamp,
		record.Event,
		nullString(record.Details),
		nullString(record.ClientID),
		record.TaskID,
	)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	record.ID, _ = result.LastInsertId()
	return nil
}

// RecentEvents возвращает последние события журнала (для отчетов и API)
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]models.EventRecord, error) {
	query := `SELECT id, timestamp, event, details, client_id, task_id FROM logs ORDER BY id DESC LIMIT ?`
	rows, err := db.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []models.EventRecord
	for rows.Next() {
		var e models.EventRecord
		var details, clientID sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Event, &details, &clientID, &e.TaskID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Details = details.String
		e.ClientID = clientID.String
		events = append(events, e)
	}
	return events, rows.Err()
}

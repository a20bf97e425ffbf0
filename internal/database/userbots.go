package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"forwarder/internal/models"
)

// UpsertUserbot создает или обновляет запись юзербота
func (db *DB) UpsertUserbot(ctx context.Context, ub *models.Userbot) error {
	if ub.Status == "" {
		ub.Status = models.UserbotActive
	}
	query := `
        INSERT INTO userbots (phone, client_id, username, status, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(phone) DO UPDATE SET
            client_id = excluded.client_id,
            username = excluded.username,
            status = excluded.status
    `
	_, err := db.db.ExecContext(ctx, query, ub.Phone, ub.ClientID, ub.Username, ub.Status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert userbot %s: %w", ub.Phone, err)
	}
	return nil
}

// GetUserbot возвращает юзербота по номеру телефона
func (db *DB) GetUserbot(ctx context.Context, phone string) (*models.Userbot, error) {
	query := `
        SELECT phone, client_id, username, status, failure_count, last_failure_at, created_at
        FROM userbots WHERE phone = ?
    `
	var ub models.Userbot
	var username sql.NullString
	var lastFailure sql.NullTime
	err := db.db.QueryRowContext(ctx, query, phone).Scan(
		&ub.Phone,
		&ub.ClientID,
		&username,
		&ub.Status,
		&ub.FailureCount,
		&lastFailure,
		&ub.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get userbot %s: %w", phone, err)
	}
	ub.Username = username.String
	if lastFailure.Valid {
		ub.LastFailureAt = lastFailure.Time
	}
	return &ub, nil
}

// ListUserbots возвращает всех юзерботов
func (db *DB) ListUserbots(ctx context.Context) ([]*models.Userbot, error) {
	query := `
        SELECT phone, client_id, username, status, failure_count, last_failure_at, created_at
        FROM userbots ORDER BY created_at
    `
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list userbots: %w", err)
	}
	defer rows.Close()

	var userbots []*models.Userbot
	for rows.Next() {
		var ub models.Userbot
		var username sql.NullString
		var lastFailure sql.NullTime
		if err := rows.Scan(&ub.Phone, &ub.ClientID, &username, &ub.Status, &ub.FailureCount, &lastFailure, &ub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan userbot: %w", err)
		}
		ub.Username = username.String
		if lastFailure.Valid {
			ub.LastFailureAt = lastFailure.Time
		}
		userbots = append(userbots, &ub)
	}
	return userbots, rows.Err()
}

// RecordUserbotFailure увеличивает счетчик ошибок юзербота (сигнал здоровья)
func (db *DB) RecordUserbotFailure(ctx context.Context, phone string) error {
	query := `UPDATE userbots SET failure_count = failure_count + 1, last_failure_at = ? WHERE phone = ?`
	_, err := db.db.ExecContext(ctx, query, time.Now(), phone)
	if err != nil {
		return fmt.Errorf("failed to record userbot failure: %w", err)
	}
	return nil
}

// ResetUserbotFailures сбрасывает счетчик после успешной отправки
func (db *DB) ResetUserbotFailures(ctx context.Context, phone string) error {
	query := `UPDATE userbots SET failure_count = 0 WHERE phone = ?`
	_, err := db.db.ExecContext(ctx, query, phone)
	if err != nil {
		return fmt.Errorf("failed to reset userbot failures: %w", err)
	}
	return nil
}

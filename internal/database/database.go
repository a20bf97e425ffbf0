package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// Создаем таблицы
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("База данных инициализирована")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Таблица задач
		`CREATE TABLE IF NOT EXISTS tasks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            client_id TEXT NOT NULL,
            userbot_phone TEXT NOT NULL,
            message_link TEXT NOT NULL,
            fallback_message_link TEXT,
            folder_id INTEGER,
            send_to_all_groups BOOLEAN NOT NULL DEFAULT 0,
            start_time DATETIME NOT NULL,
            end_time DATETIME,
            repetition_interval INTEGER NOT NULL,
            next_due DATETIME NOT NULL,
            last_run DATETIME,
            status TEXT CHECK(status IN ('active', 'paused', 'completed', 'failed')) NOT NULL DEFAULT 'active',
            total_runs INTEGER NOT NULL DEFAULT 0,
            successful_runs INTEGER NOT NULL DEFAULT 0,
            failed_runs INTEGER NOT NULL DEFAULT 0,
            consecutive_failures INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_by INTEGER,
            template_id INTEGER,
            config_json TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Таблица юзерботов
		`CREATE TABLE IF NOT EXISTS userbots (
            phone TEXT PRIMARY KEY,
            client_id TEXT NOT NULL,
            username TEXT,
            status TEXT CHECK(status IN ('active', 'inactive')) NOT NULL DEFAULT 'active',
            failure_count INTEGER NOT NULL DEFAULT 0,
            last_failure_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Целевые группы
		`CREATE TABLE IF NOT EXISTS target_groups (
            group_id INTEGER NOT NULL,
            name TEXT,
            added_by TEXT NOT NULL,
            folder_id INTEGER,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (group_id, added_by)
        )`,
		`CREATE TABLE IF NOT EXISTS folders (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            created_by TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(name, created_by)
        )`,
		// Журнал событий движка
		`CREATE TABLE IF NOT EXISTS logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp DATETIME NOT NULL,
            event TEXT NOT NULL,
            details TEXT,
            client_id TEXT,
            task_id INTEGER
        )`,
		// Аудит действий администраторов
		`CREATE TABLE IF NOT EXISTS admin_actions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            admin_id INTEGER NOT NULL,
            action_type TEXT NOT NULL,
            target_id TEXT,
            details TEXT,
            timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_status_next_due ON tasks(status, next_due)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_client_id ON tasks(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_userbot_phone ON tasks(userbot_phone)`,
		`CREATE INDEX IF NOT EXISTS idx_target_groups_folder ON target_groups(folder_id)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_task_id ON logs(task_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// ExecContext proxies to the underlying connection (used by tests).
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

// QueryRowContext proxies to the underlying connection (used by tests).
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) Close() error {
	return db.db.Close()
}

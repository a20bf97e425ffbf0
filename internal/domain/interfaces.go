package domain

import (
	"context"
	"time"

	"forwarder/internal/models"
)

// TaskStore is the durable record of task definitions and counters. The
// engine reads and writes through this narrow interface; any persistence
// backend may sit behind it.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	ListDueTasks(ctx context.Context, now time.Time) ([]*models.Task, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error)
	UpdateAfterRun(ctx context.Context, result models.RunResult) error
	BulkUpdateStatus(ctx context.Context, ids []int64, from, to string, nextDue *time.Time) (int64, error)
	DeleteTasks(ctx context.Context, ids []int64) (int64, error)
	TaskStats(ctx context.Context, filter models.TaskFilter) (*models.Stats, error)
}

// MarkerRepository holds the transient per-task running markers. Markers
// must not survive a process restart; Clear is called once at startup.
type MarkerRepository interface {
	TryAcquire(ctx context.Context, taskID int64) (bool, error)
	Release(ctx context.Context, taskID int64) error
	Held(ctx context.Context, taskID int64) (bool, error)
	Clear(ctx context.Context) error
}

// Sender performs one forward attempt for a given identity, source message
// reference and destination. Errors are classified by the sender package.
type Sender interface {
	Forward(ctx context.Context, userbotPhone, messageLink string, target models.Target) (time.Duration, error)
}

// GroupDirectory resolves a target selection into concrete group ids.
type GroupDirectory interface {
	ListTargetGroups(ctx context.Context, target models.Target) ([]models.TargetGroup, error)
}

// UserbotRegistry tracks sending identities and their health signals.
type UserbotRegistry interface {
	GetUserbot(ctx context.Context, phone string) (*models.Userbot, error)
	ListUserbots(ctx context.Context) ([]*models.Userbot, error)
	RecordUserbotFailure(ctx context.Context, phone string) error
	ResetUserbotFailures(ctx context.Context, phone string) error
}

// AuditLog receives the write-through audit trail of bulk operations and
// the engine's event log.
type AuditLog interface {
	LogAdminAction(ctx context.Context, action *models.AdminAction) error
	LogEvent(ctx context.Context, record *models.EventRecord) error
}

// Notifier delivers operator-facing notices (task failures, bulk results).
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string)
}

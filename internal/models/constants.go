package models

const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	UserbotActive   = "active"
	UserbotInactive = "inactive"
)

// Bulk actions applied by the bulk operator.
const (
	BulkPause   = "pause"
	BulkResume  = "resume"
	BulkRestart = "restart"
	BulkDelete  = "delete"
	BulkReport  = "report"
)

const (
	// MinRepetitionIntervalMinutes минимальный интервал повторения задачи
	MinRepetitionIntervalMinutes = 1

	// DefaultMaxRetries количество повторных попыток в рамках одного запуска
	DefaultMaxRetries = 3

	// DefaultRetryDelaySeconds задержка между попытками отправки
	DefaultRetryDelaySeconds = 5

	// DefaultFailureThreshold сколько подряд проваленных запусков переводит задачу в failed
	DefaultFailureThreshold = 1

	// DefaultPollIntervalSeconds интервал сканирования планировщика
	DefaultPollIntervalSeconds = 30

	// DefaultSendTimeoutSeconds жесткий таймаут одной отправки
	DefaultSendTimeoutSeconds = 30

	// DefaultSenderRPS лимит отправок в секунду на один юзербот
	DefaultSenderRPS = 1
)

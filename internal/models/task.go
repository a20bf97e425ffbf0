package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Task is a scheduled recurring forwarding job bound to one userbot.
type Task struct {
	ID                  int64         `json:"id"`
	Name                string        `json:"name"`
	ClientID            string        `json:"client_id"`
	UserbotPhone        string        `json:"userbot_phone"`
	MessageLink         string        `json:"message_link"`
	FallbackMessageLink string        `json:"fallback_message_link,omitempty"`
	FolderID            *int64        `json:"folder_id,omitempty"`
	SendToAllGroups     bool          `json:"send_to_all_groups"`
	StartTime           time.Time     `json:"start_time"`
	EndTime             *time.Time    `json:"end_time,omitempty"`
	Interval            time.Duration `json:"repetition_interval"`
	NextDue             time.Time     `json:"next_due"`
	LastRun             *time.Time    `json:"last_run,omitempty"`
	Status              string        `json:"status"`
	TotalRuns           int64         `json:"total_runs"`
	SuccessfulRuns      int64         `json:"successful_runs"`
	FailedRuns          int64         `json:"failed_runs"`
	ConsecutiveFailures int64         `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	CreatedBy           *int64        `json:"created_by,omitempty"`
	TemplateID          *int64        `json:"template_id,omitempty"`
	Config              TaskConfig    `json:"config"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// TaskConfig carries the advisory executor knobs persisted in config_json.
// Zero values mean "use the default".
type TaskConfig struct {
	MaxRetries       int    `json:"max_retries,omitempty"`
	RetryDelaySec    int    `json:"retry_delay_sec,omitempty"`
	FallbackEnabled  *bool  `json:"fallback_enabled,omitempty"`
	FailureThreshold int    `json:"failure_threshold,omitempty"`
	NotifyOnFailure  *bool  `json:"notify_on_failure,omitempty"`
	Note             string `json:"note,omitempty"`
}

// EffectiveMaxRetries returns the retry budget for one run (retries beyond
// the first attempt). Per-task value wins over the engine-level fallback.
func (c TaskConfig) EffectiveMaxRetries(fallback int) int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxRetries
}

// EffectiveRetryDelay returns the inter-attempt delay.
func (c TaskConfig) EffectiveRetryDelay(fallback time.Duration) time.Duration {
	if c.RetryDelaySec > 0 {
		return time.Duration(c.RetryDelaySec) * time.Second
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultRetryDelaySeconds * time.Second
}

// EffectiveFailureThreshold returns how many consecutive failed runs move
// a task to the failed status.
func (c TaskConfig) EffectiveFailureThreshold(fallback int64) int64 {
	if c.FailureThreshold > 0 {
		return int64(c.FailureThreshold)
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultFailureThreshold
}

// FallbackAllowed reports whether the fallback message may be used.
// Defaults to true when a fallback link is configured.
func (c TaskConfig) FallbackAllowed() bool {
	if c.FallbackEnabled == nil {
		return true
	}
	return *c.FallbackEnabled
}

// NotifyAllowed reports whether a terminal failure of this task should
// reach the admin chats. Defaults to true.
func (c TaskConfig) NotifyAllowed() bool {
	if c.NotifyOnFailure == nil {
		return true
	}
	return *c.NotifyOnFailure
}

// ParseTaskConfig decodes config_json; an empty string yields defaults.
func ParseTaskConfig(raw string) (TaskConfig, error) {
	var cfg TaskConfig
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("decode task config: %w", err)
	}
	return cfg, nil
}

// JSON serializes the config back into its stored form.
func (c TaskConfig) JSON() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode task config: %w", err)
	}
	return string(raw), nil
}

var (
	ErrNoTarget        = errors.New("task must target a folder or all groups")
	ErrAmbiguousTarget = errors.New("task cannot target both a folder and all groups")
	ErrNoMessage       = errors.New("task requires a primary message link")
	ErrNoUserbot       = errors.New("task requires a userbot")
	ErrIntervalTooLow  = errors.New("repetition interval is below the minimum")
	ErrEndBeforeStart  = errors.New("end time is before start time")
)

// Validate enforces creation-time invariants of a task definition.
func (t *Task) Validate() error {
	if t.UserbotPhone == "" {
		return ErrNoUserbot
	}
	if t.MessageLink == "" {
		return ErrNoMessage
	}
	if t.FolderID != nil && t.SendToAllGroups {
		return ErrAmbiguousTarget
	}
	if t.FolderID == nil && !t.SendToAllGroups {
		return ErrNoTarget
	}
	if t.Interval < MinRepetitionIntervalMinutes*time.Minute {
		return ErrIntervalTooLow
	}
	if t.EndTime != nil && t.EndTime.Before(t.StartTime) {
		return ErrEndBeforeStart
	}
	return nil
}

// Target identifies the destination set of a forward: either every group
// reachable for the client or one folder.
type Target struct {
	ClientID        string
	FolderID        *int64
	SendToAllGroups bool
}

// Target returns the task's destination selection.
func (t *Task) Target() Target {
	return Target{ClientID: t.ClientID, FolderID: t.FolderID, SendToAllGroups: t.SendToAllGroups}
}

// RunResult is the atomic partial update written back after one run.
type RunResult struct {
	TaskID              int64
	Status              string
	NextDue             time.Time
	LastRun             time.Time
	Succeeded           bool
	ConsecutiveFailures int64
	LastError           string
}

// TaskFilter narrows task listings and bulk operations.
type TaskFilter struct {
	Status   string `json:"status,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Stats is the aggregate view backing reports and the stats endpoint.
type Stats struct {
	TotalTasks     int64 `json:"total_tasks"`
	ActiveTasks    int64 `json:"active_tasks"`
	PausedTasks    int64 `json:"paused_tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	FailedTasks    int64 `json:"failed_tasks"`
	TotalRuns      int64 `json:"total_runs"`
	SuccessfulRuns int64 `json:"successful_runs"`
	FailedRuns     int64 `json:"failed_runs"`
}

package models

import "time"

// Userbot is a delegated sending identity. The engine only tracks its
// admission state and a cumulative failure count used as a health signal.
type Userbot struct {
	Phone         string    `json:"phone" yaml:"phone"`
	Token         string    `json:"-" yaml:"token"`
	ClientID      string    `json:"client_id" yaml:"client_id"`
	Username      string    `json:"username,omitempty" yaml:"username"`
	Status        string    `json:"status" yaml:"status"`
	FailureCount  int64     `json:"failure_count" yaml:"-"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty" yaml:"-"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
}

// TargetGroup is one destination chat reachable by a client's userbots.
type TargetGroup struct {
	GroupID  int64  `json:"group_id"`
	Name     string `json:"name"`
	AddedBy  string `json:"added_by"`
	FolderID *int64 `json:"folder_id,omitempty"`
}

// Folder is a named group set owned by a client.
type Folder struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// AdminAction is one audit trail row written by the bulk operator.
type AdminAction struct {
	ID         int64     `json:"id"`
	AdminID    int64     `json:"admin_id"`
	ActionType string    `json:"action_type"`
	TargetID   string    `json:"target_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventRecord is one row of the engine's event log.
type EventRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Details   string    `json:"details,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	TaskID    *int64    `json:"task_id,omitempty"`
}

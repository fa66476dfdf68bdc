// Package store persists the supervisor's collaborator data: server launch
// configuration, schedule entries consumed by the scheduler, and backup
// records. Implementations exist for SQLite and PostgreSQL.
package store

import (
	"context"
	"time"
)

// Server is a managed server's persisted launch configuration.
type Server struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	GameType       string    `json:"game_type"`
	ExecutablePath string    `json:"executable_path"`
	WorkingDir     string    `json:"working_dir"`
	JavaPath       string    `json:"java_path,omitempty"`
	MinMemory      string    `json:"min_memory,omitempty"`
	MaxMemory      string    `json:"max_memory,omitempty"`
	ExtraArgs      string    `json:"extra_args,omitempty"`
	Port           int       `json:"port"`
	BindAddress    string    `json:"bind_address,omitempty"`
	MaxPlayers     int       `json:"max_players"`
	WebhookURL     string    `json:"webhook_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Schedule task types and actions.
const (
	TaskBasic = "basic"
	TaskCron  = "cron"

	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionBackup  = "backup"
)

// Schedule is one persisted trigger-plus-action pair, evaluated once per
// minute by the scheduler. Basic entries carry Time ("HH:MM" local); cron
// entries carry CronExpr.
type Schedule struct {
	ID          string    `json:"id"`
	ServerID    string    `json:"server_id"`
	Name        string    `json:"name"`
	TaskType    string    `json:"task_type"`
	Action      string    `json:"action"`
	Time        string    `json:"time,omitempty"`
	CronExpr    string    `json:"cron_expression,omitempty"`
	Enabled     bool      `json:"enabled"`
	DeleteAfter bool      `json:"delete_after"`
	CreatedAt   time.Time `json:"created_at"`
}

// Backup records one archive created by the scheduler's backup action.
type Backup struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"server_id"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence interface consumed by the scheduler and the API
// layer.
type Store interface {
	EnsureSchema(ctx context.Context) error

	UpsertServer(ctx context.Context, s Server) error
	GetServer(ctx context.Context, id string) (Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	DeleteServer(ctx context.Context, id string) error
	SetExecutablePath(ctx context.Context, id, path string) error

	AddSchedule(ctx context.Context, s Schedule) error
	ListSchedules(ctx context.Context, serverID string) ([]Schedule, error)
	EnabledSchedules(ctx context.Context) ([]Schedule, error)
	SetScheduleEnabled(ctx context.Context, id string, enabled bool) error
	DeleteSchedule(ctx context.Context, id string) error

	AddBackup(ctx context.Context, b Backup) error
	ListBackups(ctx context.Context, serverID string) ([]Backup, error)

	Close() error
}

// NotFoundError is returned when a requested row does not exist.
type NotFoundError struct{ Kind, ID string }

func (e *NotFoundError) Error() string { return e.Kind + " not found: " + e.ID }

package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config selects and configures a driver.
//
// Path is used by file and sqlite, DSN by postgres, Addr/Password/DB by redis.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string        // redis only; default "courtbot"
	BusyTimeout time.Duration // sqlite only; 0 means default
	DialTimeout time.Duration // postgres and redis connect + ping
	AuditMax    int64         // redis only; audit list cap
}

// AuditEntry records one operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	RequestID     string    `json:"request_id"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id,omitempty"`
	Source        string    `json:"source"` // chat | cli
	Action        string    `json:"action"`
	TargetID      string    `json:"target_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Error         string    `json:"error,omitempty"`
}

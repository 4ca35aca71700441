package models

import "time"

// ConnectionLogStatus tracks whether a terminal session is still live.
type ConnectionLogStatus string

const (
	ConnectionActive ConnectionLogStatus = "active"
	ConnectionClosed ConnectionLogStatus = "closed"
)

// ConnectionLog is the persisted audit row for one terminal session. The live
// session itself is runtime-only state owned by the terminal manager.
type ConnectionLog struct {
	ID            int64               `db:"id" json:"id"`
	ApplicationID int64               `db:"application_id" json:"application_id"`
	UserID        int64               `db:"user_id" json:"user_id"`
	Username      string              `db:"username" json:"username"`
	StartTime     time.Time           `db:"start_time" json:"start_time"`
	EndTime       *time.Time          `db:"end_time" json:"end_time,omitempty"`
	LogFilename   string              `db:"log_filename" json:"log_filename"`
	Status        ConnectionLogStatus `db:"status" json:"status"`
}

// ConnectionLogFilter narrows connection-log listings.
type ConnectionLogFilter struct {
	ApplicationID int64
	UserID        int64
	Status        ConnectionLogStatus
	Page          int
	PageSize      int
}

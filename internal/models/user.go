package models

import "time"

// UserRole is the closed role set for the portal. Membership checks are exact
// matches against these constants, never substring comparisons.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleDBA     UserRole = "DBA"
	RoleManager UserRole = "MANAGER"
	RoleUser    UserRole = "USER"
)

// IsAdmin reports whether the role bypasses department and ownership checks.
func (r UserRole) IsAdmin() bool { return r == RoleAdmin }

// IsDBA reports whether the role may act on approved requests (deploy, reject,
// mark online). Admin implies DBA capability.
func (r UserRole) IsDBA() bool { return r == RoleDBA || r == RoleAdmin }

// User represents a portal account stored in the users table.
type User struct {
	ID           int64      `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Name         string     `db:"name" json:"name"`
	Department   string     `db:"department" json:"department"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

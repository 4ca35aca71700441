package models

import "time"

// Department owns a named, ordered approval chain.
type Department struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DepartmentApprover is one seat in one step of one department's chain.
// Multiple rows may share a StepOrder; any of them may act for that step.
type DepartmentApprover struct {
	ID             int64      `db:"id" json:"id"`
	DepartmentID   int64      `db:"department_id" json:"department_id"`
	StepOrder      int        `db:"step_order" json:"step_order"`
	UserID         int64      `db:"user_id" json:"user_id"`
	Username       string     `db:"username" json:"username"`
	Notify         bool       `db:"notify" json:"notify"`
	Active         bool       `db:"active" json:"active"`
	ProxyUserID    *int64     `db:"proxy_user_id" json:"proxy_user_id,omitempty"`
	ProxyStartDate *time.Time `db:"proxy_start_date" json:"proxy_start_date,omitempty"`
	ProxyEndDate   *time.Time `db:"proxy_end_date" json:"proxy_end_date,omitempty"`
}

// ProxyActiveAt reports whether the seat's proxy may act at the given instant.
// A nil boundary leaves that side of the window open.
func (a DepartmentApprover) ProxyActiveAt(now time.Time) bool {
	if a.ProxyUserID == nil {
		return false
	}
	if a.ProxyStartDate != nil && now.Before(*a.ProxyStartDate) {
		return false
	}
	if a.ProxyEndDate != nil && now.After(*a.ProxyEndDate) {
		return false
	}
	return true
}

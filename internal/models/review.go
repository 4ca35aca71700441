package models

import "time"

// ReviewAction labels one audit row in the approval history.
type ReviewAction string

const (
	ReviewActionApprove ReviewAction = "approve"
	ReviewActionReject  ReviewAction = "reject"
	ReviewActionVoid    ReviewAction = "void"
	ReviewActionOnline  ReviewAction = "online"
)

// ApplicationReview is an immutable audit row recorded for every
// state-changing action except submit. Append-only.
type ApplicationReview struct {
	ID            int64        `db:"id" json:"id"`
	ApplicationID int64        `db:"application_id" json:"application_id"`
	ReviewerID    int64        `db:"reviewer_id" json:"reviewer_id"`
	ReviewerName  string       `db:"reviewer_name" json:"reviewer_name"`
	Action        ReviewAction `db:"action" json:"action"`
	Comment       string       `db:"comment" json:"comment"`
	ReviewedAt    time.Time    `db:"reviewed_at" json:"reviewed_at"`
}

package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/itd-tools/erp-change-portal/internal/models"
)

// ReviewRepository reads the append-only approval audit trail. Inserts happen
// inside ApplicationRepository.ApplyTransition so each audit row commits with
// the state change it records.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs the repository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// ListByApplication returns a request's audit trail, newest first.
func (r *ReviewRepository) ListByApplication(ctx context.Context, applicationID int64) ([]models.ApplicationReview, error) {
	const query = `SELECT id, application_id, reviewer_id, reviewer_name, action, comment, reviewed_at
	FROM application_reviews
	WHERE application_id = $1
	ORDER BY reviewed_at DESC, id DESC`
	var reviews []models.ApplicationReview
	if err := r.db.SelectContext(ctx, &reviews, query, applicationID); err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

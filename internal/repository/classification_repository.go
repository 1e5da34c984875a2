package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/chaser-backend/internal/model"
)

// ClassificationRepository reads labels written by the document ingestion path.
type ClassificationRepository struct {
	DB *sql.DB
}

func (r *ClassificationRepository) ListForEnrollment(ctx context.Context, enrollmentID string) ([]model.DocumentClassification, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT document_id, enrollment_id, label, confidence, classified_at
        FROM document_classifications
        WHERE enrollment_id=$1
        ORDER BY classified_at
    `, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.DocumentClassification{}
	for rows.Next() {
		var d model.DocumentClassification
		if err := rows.Scan(&d.DocumentID, &d.EnrollmentID, &d.Label, &d.Confidence, &d.ClassifiedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ ClassificationRepositoryInterface = (*ClassificationRepository)(nil)

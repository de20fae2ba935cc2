package db

import (
	"context"

	"issueflow/models"
)

const progressColumns = `id, tender_id, contractor_id, progress_type, status, progress_percentage, description,
    verified_by, verified_at, verification_notes, created_at`

func (r *Repo) CreateWorkProgress(ctx context.Context, p *models.WorkProgress) error {
	p.CreatedAt = r.stamp()
	query := `
        INSERT INTO work_progress
            (tender_id, contractor_id, progress_type, status, progress_percentage, description, created_at)
        VALUES
            (?, ?, ?, ?, ?, ?, ?)
        RETURNING id`
	id, err := r.insert(ctx, query, p.TenderID, p.ContractorID, p.Type, p.Status, p.Percentage, p.Description, p.CreatedAt)
	if err != nil {
		return classify(err, "create work progress")
	}
	p.ID = id
	return nil
}

func (r *Repo) GetWorkProgress(ctx context.Context, id int64) (*models.WorkProgress, error) {
	p := &models.WorkProgress{}
	if err := r.get(ctx, p, `SELECT `+progressColumns+` FROM work_progress WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "work progress", id)
	}
	return p, nil
}

func (r *Repo) ListWorkProgress(ctx context.Context, tenderID int64) ([]models.WorkProgress, error) {
	out := []models.WorkProgress{}
	query := `SELECT ` + progressColumns + ` FROM work_progress WHERE tender_id = ? ORDER BY id ASC`
	if err := r.sel(ctx, &out, query, tenderID); err != nil {
		return nil, classify(err, "list work progress")
	}
	return out, nil
}

// ReviewWorkProgress фиксирует решение по отчету. Решение принимается один раз:
// строка обновляется, только пока отчет в статусе submitted.
func (r *Repo) ReviewWorkProgress(ctx context.Context, id int64, to models.ReviewStatus, verifiedBy int64, notes string) (bool, error) {
	query := `
        UPDATE work_progress
        SET status = ?, verified_by = ?, verified_at = ?, verification_notes = ?
        WHERE id = ? AND status = ?`
	n, err := r.exec(ctx, query, to, verifiedBy, r.stamp(), notes, id, models.ReviewSubmitted)
	if err != nil {
		return false, classify(err, "review work progress")
	}
	return n == 1, nil
}

// HasCompletion - есть ли у тендера отчет о завершении в указанном статусе.
func (r *Repo) HasCompletion(ctx context.Context, tenderID int64, status models.ReviewStatus) (bool, error) {
	var count int
	query := `SELECT COUNT(1) FROM work_progress WHERE tender_id = ? AND progress_type = ? AND status = ?`
	if err := r.get(ctx, &count, query, tenderID, models.ProgressCompletion, status); err != nil {
		return false, classify(err, "count completions")
	}
	return count > 0, nil
}

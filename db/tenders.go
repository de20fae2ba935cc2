package db

import (
	"context"
	"fmt"
	"strings"

	"issueflow/models"

	"github.com/jmoiron/sqlx"
)

const tenderColumns = `id, source_issue_id, department_id, title, description, budget_min, budget_max,
    deadline_date, status, awarded_contractor_id, awarded_amount, created_by, created_at, updated_at`

// TenderFilter - фильтр списка тендеров
type TenderFilter struct {
	Statuses     []models.TenderStatus
	DepartmentID int64
	Limit        int
	Offset       int
}

// CreateTender создает тендер. Второй активный тендер по тому же обращению
// отклоняется уникальным индексом и возвращается как ErrUniqueViolation.
func (r *Repo) CreateTender(ctx context.Context, t *models.Tender) error {
	now := r.stamp()
	t.CreatedAt, t.UpdatedAt = now, now
	query := `
        INSERT INTO tender
            (source_issue_id, department_id, title, description, budget_min, budget_max,
             deadline_date, status, created_by, created_at, updated_at)
        VALUES
            (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`
	id, err := r.insert(ctx, query,
		t.SourceIssueID, t.DepartmentID, t.Title, t.Description, t.BudgetMin, t.BudgetMax,
		t.Deadline.UTC(), t.Status, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create tender: %w", ErrUniqueViolation)
		}
		return classify(err, "create tender")
	}
	t.ID = id
	return nil
}

func (r *Repo) GetTender(ctx context.Context, id int64) (*models.Tender, error) {
	t := &models.Tender{}
	if err := r.get(ctx, t, `SELECT `+tenderColumns+` FROM tender WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "tender", id)
	}
	return t, nil
}

// GetActiveTenderForIssue возвращает неотмененный тендер обращения или nil.
func (r *Repo) GetActiveTenderForIssue(ctx context.Context, issueID int64) (*models.Tender, error) {
	out := []models.Tender{}
	query := `SELECT ` + tenderColumns + ` FROM tender WHERE source_issue_id = ? AND status <> 'cancelled'`
	if err := r.sel(ctx, &out, query, issueID); err != nil {
		return nil, classify(err, "get active tender")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (r *Repo) ListTenders(ctx context.Context, f TenderFilter) ([]models.Tender, error) {
	var (
		conds []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		q, a, err := sqlx.In("status IN (?)", f.Statuses)
		if err != nil {
			return nil, fmt.Errorf("build tender filter: %w", err)
		}
		conds = append(conds, q)
		args = append(args, a...)
	}
	if f.DepartmentID > 0 {
		conds = append(conds, "department_id = ?")
		args = append(args, f.DepartmentID)
	}
	query := `SELECT ` + tenderColumns + ` FROM tender`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	args = append(args, f.Limit, f.Offset)

	out := []models.Tender{}
	if err := r.sel(ctx, &out, query, args...); err != nil {
		return nil, classify(err, "list tenders")
	}
	return out, nil
}

// SetTenderStatus переводит тендер в to, только если текущий статус входит в from.
func (r *Repo) SetTenderStatus(ctx context.Context, id int64, from []models.TenderStatus, to models.TenderStatus) (bool, error) {
	query, args, err := sqlx.In(`UPDATE tender SET status = ?, updated_at = ? WHERE id = ? AND status IN (?)`,
		to, r.stamp(), id, from)
	if err != nil {
		return false, fmt.Errorf("build tender status update: %w", err)
	}
	n, err := r.exec(ctx, query, args...)
	if err != nil {
		return false, classify(err, "set tender status")
	}
	return n == 1, nil
}

// AwardTender - точка сериализации выбора победителя: available -> awarded.
// Из двух параллельных вызовов строку обновит только один.
func (r *Repo) AwardTender(ctx context.Context, id, contractorID int64, amount float64) (bool, error) {
	query := `
        UPDATE tender
        SET status = ?, awarded_contractor_id = ?, awarded_amount = ?, updated_at = ?
        WHERE id = ? AND status = ?`
	n, err := r.exec(ctx, query, models.TenderAwarded, contractorID, amount, r.stamp(), id, models.TenderAvailable)
	if err != nil {
		return false, classify(err, "award tender")
	}
	return n == 1, nil
}

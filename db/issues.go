package db

import (
	"context"
	"fmt"
	"strings"

	"issueflow/models"

	"github.com/jmoiron/sqlx"
)

const issueColumns = `id, title, description, category, priority, status, workflow_stage, reporter_id,
    location_name, location_address, area, ward, assigned_department_id, rejection_reason,
    version, created_at, updated_at, resolved_at`

// DefaultLimit - размер страницы, если limit не задан.
const DefaultLimit = 20

// IssueFilter - фильтр списка обращений
type IssueFilter struct {
	Stage        models.Stage
	DepartmentID int64
	Limit        int
	Offset       int
}

func (r *Repo) CreateIssue(ctx context.Context, i *models.Issue) error {
	now := r.stamp()
	i.CreatedAt, i.UpdatedAt, i.Version = now, now, 1
	query := `
        INSERT INTO issue
            (title, description, category, priority, status, workflow_stage, reporter_id,
             location_name, location_address, area, ward, assigned_department_id, version, created_at, updated_at)
        VALUES
            (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`
	id, err := r.insert(ctx, query,
		i.Title, i.Description, i.Category, i.Priority, i.Status, i.Stage, i.ReporterID,
		i.Location.Name, i.Location.Address, i.Location.Area, i.Location.Ward, i.AssignedDepartmentID,
		i.Version, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return classify(err, "create issue")
	}
	i.ID = id
	return nil
}

func (r *Repo) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	i := &models.Issue{}
	if err := r.get(ctx, i, `SELECT `+issueColumns+` FROM issue WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "issue", id)
	}
	return i, nil
}

// UpdateIssue сохраняет этап, статус и назначение, если версия не изменилась с момента чтения.
func (r *Repo) UpdateIssue(ctx context.Context, i *models.Issue) error {
	now := r.stamp()
	query := `
        UPDATE issue
        SET status = ?, workflow_stage = ?, assigned_department_id = ?, rejection_reason = ?,
            resolved_at = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND version = ?`
	n, err := r.exec(ctx, query,
		i.Status, i.Stage, i.AssignedDepartmentID, i.RejectionReason, i.ResolvedAt, now, i.ID, i.Version)
	if err != nil {
		return classify(err, "update issue")
	}
	if n == 0 {
		return fmt.Errorf("issue %d: %w", i.ID, ErrVersionConflict)
	}
	i.Version++
	i.UpdatedAt = now
	return nil
}

type issueRow struct {
	models.Issue
	ReporterName string `db:"reporter_name"`
}

type tenderSummaryRow struct {
	ID            int64               `db:"id"`
	SourceIssueID int64               `db:"source_issue_id"`
	Status        models.TenderStatus `db:"status"`
	BidCount      int                 `db:"bid_count"`
}

// ListIssues возвращает обращения от новых к старым вместе с автором, активным тендером и последним назначением.
func (r *Repo) ListIssues(ctx context.Context, f IssueFilter) ([]models.IssueSummary, error) {
	var (
		conds []string
		args  []any
	)
	if f.Stage != "" {
		conds = append(conds, "i.workflow_stage = ?")
		args = append(args, f.Stage)
	}
	if f.DepartmentID > 0 {
		conds = append(conds, "i.assigned_department_id = ?")
		args = append(args, f.DepartmentID)
	}
	query := `SELECT ` + prefixColumns("i", issueColumns) + `, COALESCE(p.display_name, '') AS reporter_name
        FROM issue i
        LEFT JOIN profile p ON p.id = i.reporter_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY i.created_at DESC, i.id DESC LIMIT ? OFFSET ?"
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	args = append(args, f.Limit, f.Offset)

	rows := []issueRow{}
	if err := r.sel(ctx, &rows, query, args...); err != nil {
		return nil, classify(err, "list issues")
	}
	out := make([]models.IssueSummary, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]int64, len(rows))
	index := make(map[int64]int, len(rows))
	for n, row := range rows {
		out[n] = models.IssueSummary{Issue: row.Issue, ReporterName: row.ReporterName}
		ids[n] = row.ID
		index[row.ID] = n
	}

	tq, targs, err := sqlx.In(`
        SELECT t.id, t.source_issue_id, t.status,
            (SELECT COUNT(1) FROM bid b WHERE b.tender_id = t.id) AS bid_count
        FROM tender t
        WHERE t.source_issue_id IN (?) AND t.status <> 'cancelled'`, ids)
	if err != nil {
		return nil, fmt.Errorf("build tender summary query: %w", err)
	}
	tenders := []tenderSummaryRow{}
	if err := r.sel(ctx, &tenders, tq, targs...); err != nil {
		return nil, classify(err, "list issue tenders")
	}
	for _, t := range tenders {
		out[index[t.SourceIssueID]].Tender = &models.TenderSummary{ID: t.ID, Status: t.Status, BidCount: t.BidCount}
	}

	aq, aargs, err := sqlx.In(`
        SELECT a.id, a.issue_id, a.assignment_type, a.assigned_by, a.assigned_to, a.notes, a.created_at
        FROM assignment a
        WHERE a.issue_id IN (?)
          AND a.id = (SELECT MAX(a2.id) FROM assignment a2 WHERE a2.issue_id = a.issue_id)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build assignment summary query: %w", err)
	}
	assignments := []models.Assignment{}
	if err := r.sel(ctx, &assignments, aq, aargs...); err != nil {
		return nil, classify(err, "list issue assignments")
	}
	for n := range assignments {
		a := assignments[n]
		out[index[a.IssueID]].LastAssignment = &a
	}
	return out, nil
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for n, p := range parts {
		parts[n] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (r *Repo) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	a.CreatedAt = r.stamp()
	query := `
        INSERT INTO assignment (issue_id, assignment_type, assigned_by, assigned_to, notes, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        RETURNING id`
	id, err := r.insert(ctx, query, a.IssueID, a.Type, a.AssignedBy, a.AssignedTo, a.Notes, a.CreatedAt)
	if err != nil {
		return classify(err, "create assignment")
	}
	a.ID = id
	return nil
}

func (r *Repo) ListAssignments(ctx context.Context, issueID int64) ([]models.Assignment, error) {
	query := `
        SELECT id, issue_id, assignment_type, assigned_by, assigned_to, notes, created_at
        FROM assignment
        WHERE issue_id = ?
        ORDER BY id ASC`
	out := []models.Assignment{}
	if err := r.sel(ctx, &out, query, issueID); err != nil {
		return nil, classify(err, "list assignments")
	}
	return out, nil
}

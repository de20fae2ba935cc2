// Package tendering ведет тендеры по обращениям: предложения подрядчиков,
// выбор победителя и приемку работ.
package tendering

import (
	"context"
	"strings"
	"time"

	"issueflow/db"
	"issueflow/internal/apperr"
	"issueflow/internal/workflow"
	"issueflow/models"

	"go.uber.org/zap"
)

// Store - хранилище, которым пользуется движок.
type Store interface {
	Tx(ctx context.Context, fn func(r db.Repository) error) error
	GetTender(ctx context.Context, id int64) (*models.Tender, error)
	ListTenders(ctx context.Context, f db.TenderFilter) ([]models.Tender, error)
	ListBids(ctx context.Context, tenderID int64) ([]models.Bid, error)
	ListWorkProgress(ctx context.Context, tenderID int64) ([]models.WorkProgress, error)
}

// TenderRequest - параметры нового тендера
type TenderRequest struct {
	IssueID      int64
	DepartmentID int64
	Title        string
	Description  string
	BudgetMin    float64
	BudgetMax    float64
	Deadline     time.Time
}

// BidRequest - предложение подрядчика
type BidRequest struct {
	Amount   float64
	Details  string
	Timeline string
}

// ProgressRequest - отчет подрядчика о ходе работ
type ProgressRequest struct {
	TenderID    int64
	Type        models.ProgressType
	Percentage  *int
	Description string
}

type Engine struct {
	store Store
	flow  *workflow.Engine
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option       { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(store Store, flow *workflow.Engine, opts ...Option) *Engine {
	e := &Engine{store: store, flow: flow, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateTender создает тендер по обращению и переводит обращение на contractor_assigned.
// Тендер и этап обращения фиксируются одной транзакцией.
func (e *Engine) CreateTender(ctx context.Context, actor models.Actor, req TenderRequest) (*models.Tender, error) {
	if err := e.validateTender(req); err != nil {
		return nil, err
	}
	if err := requireRole(actor, models.RoleDepartmentAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}

	var (
		tender *models.Tender
		flow   workflow.Result
	)
	err := e.store.Tx(ctx, func(r db.Repository) error {
		issue, err := r.GetIssue(ctx, req.IssueID)
		if err != nil {
			return err
		}
		existing, err := r.GetActiveTenderForIssue(ctx, issue.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.New(apperr.DuplicateTender,
				"issue %d already has tender %d", issue.ID, existing.ID).WithCurrent(*existing)
		}

		// Тендером владеет отдел, которому назначено обращение.
		if issue.AssignedDepartmentID == nil {
			return apperr.New(apperr.NoResponsibleActor, "issue %d has no department to own the tender", issue.ID)
		}
		dept := *issue.AssignedDepartmentID
		if req.DepartmentID != 0 && req.DepartmentID != dept {
			return apperr.New(apperr.InvalidInput,
				"issue %d is assigned to department %d, not %d", issue.ID, dept, req.DepartmentID).WithCurrent(*issue)
		}
		if actor.Role == models.RoleDepartmentAdmin && dept != actor.DepartmentID {
			return apperr.New(apperr.Unauthorized, "department %d cannot open tenders for department %d", actor.DepartmentID, dept)
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = issue.Title
		}
		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = issue.Description
		}
		tender = &models.Tender{
			SourceIssueID: &issue.ID,
			DepartmentID:  dept,
			Title:         title,
			Description:   description,
			BudgetMin:     req.BudgetMin,
			BudgetMax:     req.BudgetMax,
			Deadline:      req.Deadline.UTC(),
			Status:        models.TenderAvailable,
			CreatedBy:     actor.ID,
		}
		if err := r.CreateTender(ctx, tender); err != nil {
			if isDuplicate(err) {
				return apperr.Wrap(apperr.DuplicateTender, err, "issue %d already has a tender", issue.ID)
			}
			return err
		}

		flow, err = e.flow.Apply(ctx, r, issue, workflow.Request{
			IssueID: issue.ID,
			Target:  models.StageContractorAssigned,
			Actor:   actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("tender created",
		zap.Int64("tender_id", tender.ID),
		zap.Int64("issue_id", req.IssueID),
		zap.Int64("department_id", tender.DepartmentID))
	e.flow.Notify(ctx, flow, actor)
	return tender, nil
}

func (e *Engine) validateTender(req TenderRequest) error {
	if req.IssueID <= 0 {
		return apperr.New(apperr.InvalidInput, "issueId must be positive")
	}
	if len(req.Title) > 200 {
		return apperr.New(apperr.InvalidInput, "title max length 200")
	}
	if req.BudgetMin < 0 || req.BudgetMax < req.BudgetMin {
		return apperr.New(apperr.InvalidInput, "budget range [%v, %v] is invalid", req.BudgetMin, req.BudgetMax)
	}
	if !req.Deadline.After(e.now()) {
		return apperr.New(apperr.InvalidInput, "deadline must be in the future")
	}
	return nil
}

// CancelTender отменяет тендер, пока победитель не выбран. Поданные предложения
// отклоняются, обращение возвращается отделу.
func (e *Engine) CancelTender(ctx context.Context, actor models.Actor, tenderID int64) (*models.Snapshot, error) {
	var (
		snap *models.Snapshot
		flow workflow.Result
	)
	err := e.store.Tx(ctx, func(r db.Repository) error {
		tender, err := r.GetTender(ctx, tenderID)
		if err != nil {
			return err
		}
		if err := authorizeTender(actor, tender); err != nil {
			return err
		}
		if tender.Status == models.TenderCancelled {
			snap, err = snapshot(ctx, r, nil, tender.ID)
			return err
		}
		ok, err := r.SetTenderStatus(ctx, tender.ID, []models.TenderStatus{models.TenderAvailable}, models.TenderCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.TenderClosed, "tender %d is %s", tender.ID, tender.Status).WithCurrent(*tender)
		}
		if _, err := r.RejectSubmittedBids(ctx, tender.ID, 0); err != nil {
			return err
		}
		if tender.SourceIssueID != nil {
			issue, err := r.GetIssue(ctx, *tender.SourceIssueID)
			if err != nil {
				return err
			}
			if !issue.Status.Terminal() {
				flow, err = e.flow.Apply(ctx, r, issue, workflow.Request{
					IssueID: issue.ID,
					Target:  models.StageDepartmentAssigned,
					Actor:   actor,
				})
				if err != nil {
					return err
				}
			}
		}
		snap, err = snapshot(ctx, r, nil, tender.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("tender cancelled", zap.Int64("tender_id", tenderID), zap.Int64("actor_id", actor.ID))
	e.flow.Notify(ctx, flow, actor)
	return snap, nil
}

// Tender возвращает тендер по id.
func (e *Engine) Tender(ctx context.Context, id int64) (*models.Tender, error) {
	return e.store.GetTender(ctx, id)
}

func (e *Engine) Tenders(ctx context.Context, f db.TenderFilter) ([]models.Tender, error) {
	return e.store.ListTenders(ctx, f)
}

func (e *Engine) Bids(ctx context.Context, tenderID int64) ([]models.Bid, error) {
	if _, err := e.store.GetTender(ctx, tenderID); err != nil {
		return nil, err
	}
	return e.store.ListBids(ctx, tenderID)
}

func (e *Engine) WorkProgress(ctx context.Context, tenderID int64) ([]models.WorkProgress, error) {
	if _, err := e.store.GetTender(ctx, tenderID); err != nil {
		return nil, err
	}
	return e.store.ListWorkProgress(ctx, tenderID)
}

// snapshot перечитывает предложение, тендер и обращение в той же транзакции.
func snapshot(ctx context.Context, r db.Repository, bidID *int64, tenderID int64) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	if bidID != nil {
		bid, err := r.GetBid(ctx, *bidID)
		if err != nil {
			return nil, err
		}
		snap.Bid = bid
	}
	tender, err := r.GetTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	snap.Tender = tender
	if tender.SourceIssueID != nil {
		issue, err := r.GetIssue(ctx, *tender.SourceIssueID)
		if err != nil {
			return nil, err
		}
		snap.Issue = issue
	}
	return snap, nil
}

func requireRole(actor models.Actor, roles ...models.Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return apperr.New(apperr.Unauthorized, "role %q is not allowed", actor.Role)
}

// authorizeTender - решения по тендеру принимает только его отдел.
func authorizeTender(actor models.Actor, t *models.Tender) error {
	switch actor.Role {
	case models.RoleSuperAdmin:
		return nil
	case models.RoleDepartmentAdmin:
		if actor.DepartmentID == t.DepartmentID {
			return nil
		}
	}
	return apperr.New(apperr.Unauthorized, "%s %d cannot manage tender %d", actor.Role, actor.ID, t.ID)
}

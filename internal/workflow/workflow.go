// Package workflow - машина состояний обращения.
//
// Все изменения этапа и статуса проходят через Apply, который сверяется с
// таблицей переходов, проверяет права и сохраняет обращение с проверкой версии.
// Параллельные изменения одного обращения сериализуются этой проверкой:
// проигравшая транзакция повторяется на свежем состоянии.
package workflow

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"issueflow/db"
	"issueflow/internal/apperr"
	"issueflow/internal/events"
	"issueflow/internal/routing"
	"issueflow/models"

	"go.uber.org/zap"
)

// Store - хранилище, которым пользуется движок.
type Store interface {
	Tx(ctx context.Context, fn func(r db.Repository) error) error
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	CreateIssue(ctx context.Context, i *models.Issue) error
}

// Request - запрошенный переход обращения.
type Request struct {
	IssueID int64
	Target  models.Stage
	Actor   models.Actor
	// DepartmentID - отдел для department_assigned; 0 - выбрать по справочнику районов.
	DepartmentID int64
	Notes        string
}

// Result - итог перехода.
type Result struct {
	Issue      *models.Issue
	From       models.Stage
	Changed    bool
	Assignment *models.Assignment
}

// NewIssue - данные нового обращения от жителя.
type NewIssue struct {
	Title       string
	Description string
	Category    models.Category
	Priority    models.Priority
	Location    models.Location
}

type Engine struct {
	store    Store
	taxonomy routing.Taxonomy
	events   events.Publisher
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.events = p } }
func WithLogger(l *zap.Logger) Option        { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option  { return func(e *Engine) { e.now = now } }

func New(store Store, taxonomy routing.Taxonomy, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		taxonomy: taxonomy,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.events == nil {
		e.events = events.NewLogPublisher(e.log)
	}
	return e
}

// Report регистрирует новое обращение на этапе reported.
func (e *Engine) Report(ctx context.Context, actor models.Actor, in NewIssue) (*models.Issue, error) {
	if actor.ID <= 0 {
		return nil, apperr.New(apperr.Unauthorized, "reporter identity is required")
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || len(in.Title) > 200 {
		return nil, apperr.New(apperr.InvalidInput, "title is required and max length 200")
	}
	if !in.Category.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "invalid category %q", in.Category)
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "invalid priority %q", in.Priority)
	}

	issue := &models.Issue{
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Category:    in.Category,
		Priority:    in.Priority,
		Status:      models.StatusPending,
		Stage:       models.StageReported,
		ReporterID:  actor.ID,
		Location:    in.Location,
	}
	if err := e.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}
	e.Notify(ctx, Result{Issue: issue, From: "", Changed: true}, actor)
	return issue, nil
}

// Advance переводит обращение на этап req.Target.
// Повторный вызов с тем же этапом возвращает текущее состояние без ошибки.
func (e *Engine) Advance(ctx context.Context, req Request) (*models.Issue, error) {
	if !req.Target.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown workflow stage %q", req.Target)
	}
	var res Result
	err := e.store.Tx(ctx, func(r db.Repository) error {
		issue, err := r.GetIssue(ctx, req.IssueID)
		if err != nil {
			return err
		}
		res, err = e.Apply(ctx, r, issue, req)
		return err
	})
	if err != nil {
		return nil, e.settle(ctx, req.IssueID, err)
	}
	e.Notify(ctx, res, req.Actor)
	return res.Issue, nil
}

// Apply выполняет переход внутри уже открытой транзакции.
// Используется движком тендеров, чтобы изменения тендера и обращения фиксировались вместе.
func (e *Engine) Apply(ctx context.Context, r db.Repository, issue *models.Issue, req Request) (Result, error) {
	res := Result{Issue: issue, From: issue.Stage}
	if issue.Stage == req.Target {
		return res, nil
	}
	if issue.Status.Terminal() {
		return res, apperr.New(apperr.InvalidTransition,
			"issue %d is %s", issue.ID, issue.Status).WithCurrent(*issue)
	}
	if req.Target == models.StageDepartmentAssigned && issue.Stage != models.StageReported && issue.Stage != models.StageAreaReview {
		if err := requireNoTender(ctx, r, issue); err != nil {
			return res, withCurrent(err, issue)
		}
	}
	rl, ok := transitions[edge{issue.Stage, req.Target}]
	if !ok {
		return res, apperr.New(apperr.InvalidTransition,
			"cannot move issue %d from %s to %s", issue.ID, issue.Stage, req.Target).WithCurrent(*issue)
	}
	if !slices.Contains(rl.roles, req.Actor.Role) {
		return res, apperr.New(apperr.InvalidTransition,
			"role %q cannot move issue %d from %s to %s", req.Actor.Role, issue.ID, issue.Stage, req.Target).WithCurrent(*issue)
	}
	if err := authorize(ctx, r, issue, req.Actor); err != nil {
		return res, err
	}
	if rl.guard != nil {
		if err := rl.guard(ctx, r, issue); err != nil {
			return res, withCurrent(err, issue)
		}
	}

	next := *issue
	next.Stage = req.Target
	next.Status = statusFor(req.Target, issue.Status)
	if next.Status == models.StatusResolved {
		at := e.now().UTC()
		next.ResolvedAt = &at
	}

	if req.Target == models.StageDepartmentAssigned && (issue.Stage == models.StageReported || issue.Stage == models.StageAreaReview) {
		dept := req.DepartmentID
		if dept == 0 {
			var err error
			if dept, err = routing.DepartmentFor(issue, e.taxonomy); err != nil {
				return res, err
			}
		}
		next.AssignedDepartmentID = &dept
		res.Assignment = &models.Assignment{
			IssueID:    issue.ID,
			Type:       models.AreaToDepartment,
			AssignedBy: req.Actor.ID,
			AssignedTo: dept,
			Notes:      req.Notes,
		}
	}

	if err := r.UpdateIssue(ctx, &next); err != nil {
		return res, err
	}
	if res.Assignment != nil {
		if err := r.CreateAssignment(ctx, res.Assignment); err != nil {
			return res, err
		}
	}
	res.Issue = &next
	res.Changed = true
	return res, nil
}

// Acknowledge подтверждает получение обращения. С этапа reported обращение уходит на area_review.
func (e *Engine) Acknowledge(ctx context.Context, issueID int64, actor models.Actor) (*models.Issue, error) {
	if !slices.Contains([]models.Role{models.RoleAreaAdmin, models.RoleDepartmentAdmin, models.RoleSuperAdmin}, actor.Role) {
		return nil, apperr.New(apperr.Unauthorized, "role %q cannot acknowledge issues", actor.Role)
	}
	var res Result
	err := e.store.Tx(ctx, func(r db.Repository) error {
		issue, err := r.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		res = Result{Issue: issue, From: issue.Stage}
		if issue.Status.Terminal() {
			return apperr.New(apperr.InvalidTransition, "issue %d is %s", issue.ID, issue.Status).WithCurrent(*issue)
		}
		if issue.Stage == models.StageReported && !Allowed(issue.Stage, models.StageAreaReview, actor.Role) {
			return apperr.New(apperr.Unauthorized, "role %q cannot take issue %d into area review", actor.Role, issue.ID)
		}
		if err := authorize(ctx, r, issue, actor); err != nil {
			return err
		}
		next := *issue
		if issue.Stage == models.StageReported {
			next.Stage = models.StageAreaReview
		}
		if issue.Status == models.StatusPending {
			next.Status = models.StatusAcknowledged
		}
		if next.Stage == issue.Stage && next.Status == issue.Status {
			return nil
		}
		if err := r.UpdateIssue(ctx, &next); err != nil {
			return err
		}
		res.Issue, res.Changed = &next, true
		return nil
	})
	if err != nil {
		return nil, e.settle(ctx, issueID, err)
	}
	e.Notify(ctx, res, actor)
	return res.Issue, nil
}

// Reject отклоняет обращение. Причина обязательна, состояние конечное.
func (e *Engine) Reject(ctx context.Context, issueID int64, actor models.Actor, reason string) (*models.Issue, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.New(apperr.InvalidInput, "rejection reason is required")
	}
	return e.terminate(ctx, issueID, actor, models.StatusRejected, reason)
}

// Close закрывает обращение без решения.
func (e *Engine) Close(ctx context.Context, issueID int64, actor models.Actor, notes string) (*models.Issue, error) {
	return e.terminate(ctx, issueID, actor, models.StatusClosed, strings.TrimSpace(notes))
}

// terminate переводит обращение в rejected/closed и снимает живой тендер вместе с поданными предложениями.
func (e *Engine) terminate(ctx context.Context, issueID int64, actor models.Actor, status models.IssueStatus, reason string) (*models.Issue, error) {
	if !slices.Contains([]models.Role{models.RoleAreaAdmin, models.RoleDepartmentAdmin, models.RoleSuperAdmin}, actor.Role) {
		return nil, apperr.New(apperr.Unauthorized, "role %q cannot %s issues", actor.Role, verb(status))
	}
	var res Result
	err := e.store.Tx(ctx, func(r db.Repository) error {
		issue, err := r.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		res = Result{Issue: issue, From: issue.Stage}
		if issue.Status == status {
			return nil
		}
		if issue.Status.Terminal() {
			return apperr.New(apperr.InvalidTransition, "issue %d is %s", issue.ID, issue.Status).WithCurrent(*issue)
		}
		if err := e.authorizeTerminate(ctx, r, issue, actor); err != nil {
			return err
		}

		t, err := r.GetActiveTenderForIssue(ctx, issue.ID)
		if err != nil {
			return err
		}
		if t != nil && t.Status.Live() {
			if _, err := r.SetTenderStatus(ctx, t.ID, []models.TenderStatus{t.Status}, models.TenderCancelled); err != nil {
				return err
			}
			if _, err := r.RejectSubmittedBids(ctx, t.ID, 0); err != nil {
				return err
			}
		}

		next := *issue
		next.Status = status
		next.RejectionReason = reason
		if err := r.UpdateIssue(ctx, &next); err != nil {
			return err
		}
		res.Issue, res.Changed = &next, true
		return nil
	})
	if err != nil {
		return nil, e.settle(ctx, issueID, err)
	}
	if res.Changed {
		e.log.Info("issue terminated",
			zap.Int64("issue_id", issueID),
			zap.String("status", string(status)),
			zap.Int64("actor_id", actor.ID))
	}
	return res.Issue, nil
}

// На ранних этапах отдел еще не назначен, поэтому отделу разрешено только после назначения.
func (e *Engine) authorizeTerminate(ctx context.Context, r db.Repository, issue *models.Issue, actor models.Actor) error {
	if actor.Role == models.RoleDepartmentAdmin && issue.AssignedDepartmentID == nil {
		return apperr.New(apperr.Unauthorized, "issue %d has no department yet", issue.ID)
	}
	return authorize(ctx, r, issue, actor)
}

// Notify публикует смену этапа и ответственного по справочнику. Если ответственный
// не найден, обращение не теряется: в журнал пишется требование ручного назначения.
func (e *Engine) Notify(ctx context.Context, res Result, actor models.Actor) {
	if !res.Changed || res.Issue == nil || res.From == res.Issue.Stage {
		return
	}
	ev := events.StageChange{
		IssueID: res.Issue.ID,
		From:    res.From,
		To:      res.Issue.Stage,
		Status:  res.Issue.Status,
		Actor:   actor,
		At:      e.now().UTC(),
	}
	if !res.Issue.Status.Terminal() {
		next, err := routing.Next(res.Issue, e.taxonomy)
		if err != nil {
			e.log.Warn("manual assignment required", zap.Int64("issue_id", res.Issue.ID), zap.Error(err))
		} else {
			ev.Responsible = &next
		}
	}
	e.events.Publish(ctx, ev)
}

// settle доводит ошибку до клиента. Если конфликт версий не ушел после повторов,
// клиент получает фактическое состояние обращения, а не молчаливую перезапись.
func (e *Engine) settle(ctx context.Context, issueID int64, err error) error {
	if !errors.Is(err, db.ErrVersionConflict) {
		return err
	}
	current, gerr := e.store.GetIssue(ctx, issueID)
	if gerr != nil {
		return err
	}
	return apperr.Wrap(apperr.InvalidTransition, err,
		"issue %d was changed concurrently", issueID).WithCurrent(*current)
}

func withCurrent(err error, issue *models.Issue) error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Current == nil {
		ae.Current = *issue
	}
	return err
}

func verb(s models.IssueStatus) string {
	if s == models.StatusRejected {
		return "reject"
	}
	return "close"
}

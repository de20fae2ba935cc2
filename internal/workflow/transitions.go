package workflow

import (
	"context"
	"slices"
	"strings"

	"issueflow/db"
	"issueflow/internal/apperr"
	"issueflow/models"
)

type edge struct {
	from, to models.Stage
}

// guard проверяет состояние смежных сущностей перед переходом. Вызывается внутри транзакции.
type guard func(ctx context.Context, r db.Repository, issue *models.Issue) error

type rule struct {
	roles []models.Role
	guard guard
}

var admins = []models.Role{models.RoleDepartmentAdmin, models.RoleSuperAdmin}

// transitions - единственная таблица допустимых переходов и ролей.
var transitions = map[edge]rule{
	{models.StageReported, models.StageAreaReview}: {
		roles: []models.Role{models.RoleAreaAdmin, models.RoleSuperAdmin},
	},
	{models.StageReported, models.StageDepartmentAssigned}: {
		roles: []models.Role{models.RoleAreaAdmin, models.RoleSuperAdmin},
	},
	{models.StageAreaReview, models.StageDepartmentAssigned}: {
		roles: []models.Role{models.RoleAreaAdmin, models.RoleSuperAdmin},
	},
	{models.StageDepartmentAssigned, models.StageContractorAssigned}: {
		roles: admins,
		guard: requireTender(models.TenderAvailable),
	},
	{models.StageContractorAssigned, models.StageDepartmentAssigned}: {
		roles: admins,
		guard: requireNoTender,
	},
	{models.StageContractorAssigned, models.StageInProgress}: {
		roles: admins,
		guard: requireTender(models.TenderAwarded, models.TenderWorkInProgress),
	},
	{models.StageInProgress, models.StageDepartmentReview}: {
		roles: []models.Role{models.RoleContractor, models.RoleDepartmentAdmin, models.RoleSuperAdmin},
		guard: all(requireTender(models.TenderWorkCompleted), requireCompletion(models.ReviewSubmitted)),
	},
	// Возврат в работу возможен только после отклонения отчета о завершении:
	// пока отчет ждет проверки, тендер остается в work_completed.
	{models.StageDepartmentReview, models.StageInProgress}: {
		roles: admins,
		guard: requireTender(models.TenderWorkInProgress),
	},
	{models.StageDepartmentReview, models.StageResolved}: {
		roles: admins,
		guard: all(requireTender(models.TenderCompleted), requireCompletion(models.ReviewApproved)),
	},
}

// Successors возвращает этапы, в которые можно перейти из from.
func Successors(from models.Stage) []models.Stage {
	var out []models.Stage
	for e := range transitions {
		if e.from == from {
			out = append(out, e.to)
		}
	}
	slices.Sort(out)
	return out
}

// Allowed сообщает, может ли роль выполнить переход from -> to.
func Allowed(from, to models.Stage, role models.Role) bool {
	rl, ok := transitions[edge{from, to}]
	return ok && slices.Contains(rl.roles, role)
}

// statusFor - статус для жителя, соответствующий этапу.
func statusFor(target models.Stage, current models.IssueStatus) models.IssueStatus {
	switch target {
	case models.StageReported:
		return models.StatusPending
	case models.StageAreaReview, models.StageContractorAssigned:
		return models.StatusAcknowledged
	case models.StageInProgress, models.StageDepartmentReview:
		return models.StatusInProgress
	case models.StageResolved:
		return models.StatusResolved
	default:
		return current
	}
}

// authorize проверяет, что вызывающий отвечает именно за это обращение.
func authorize(ctx context.Context, r db.Repository, issue *models.Issue, actor models.Actor) error {
	switch actor.Role {
	case models.RoleSuperAdmin:
		return nil
	case models.RoleAreaAdmin:
		if actor.Area == "" || strings.EqualFold(actor.Area, issue.Location.Area) {
			return nil
		}
	case models.RoleDepartmentAdmin:
		if issue.AssignedDepartmentID != nil && *issue.AssignedDepartmentID == actor.DepartmentID {
			return nil
		}
	case models.RoleContractor:
		t, err := r.GetActiveTenderForIssue(ctx, issue.ID)
		if err != nil {
			return err
		}
		if t != nil && t.AwardedContractorID != nil && *t.AwardedContractorID == actor.ID {
			return nil
		}
	}
	return apperr.New(apperr.Unauthorized, "%s %d is not responsible for issue %d", actor.Role, actor.ID, issue.ID)
}

// all выполняет проверки по порядку до первой ошибки.
func all(guards ...guard) guard {
	return func(ctx context.Context, r db.Repository, issue *models.Issue) error {
		for _, g := range guards {
			if err := g(ctx, r, issue); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireTender(statuses ...models.TenderStatus) guard {
	return func(ctx context.Context, r db.Repository, issue *models.Issue) error {
		t, err := r.GetActiveTenderForIssue(ctx, issue.ID)
		if err != nil {
			return err
		}
		if t == nil || !slices.Contains(statuses, t.Status) {
			return apperr.New(apperr.InvalidTransition,
				"issue %d has no tender in status %v", issue.ID, statuses)
		}
		return nil
	}
}

func requireNoTender(ctx context.Context, r db.Repository, issue *models.Issue) error {
	t, err := r.GetActiveTenderForIssue(ctx, issue.ID)
	if err != nil {
		return err
	}
	if t != nil {
		return apperr.New(apperr.ConflictingTender,
			"issue %d still has tender %d in status %s", issue.ID, t.ID, t.Status)
	}
	return nil
}

func requireCompletion(status models.ReviewStatus) guard {
	return func(ctx context.Context, r db.Repository, issue *models.Issue) error {
		t, err := r.GetActiveTenderForIssue(ctx, issue.ID)
		if err != nil {
			return err
		}
		if t == nil {
			return apperr.New(apperr.InvalidTransition, "issue %d has no tender", issue.ID)
		}
		ok, err := r.HasCompletion(ctx, t.ID, status)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.InvalidTransition,
				"tender %d has no %s completion report", t.ID, status)
		}
		return nil
	}
}

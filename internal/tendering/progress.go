package tendering

import (
	"context"
	"strings"

	"issueflow/db"
	"issueflow/internal/apperr"
	"issueflow/internal/workflow"
	"issueflow/models"

	"go.uber.org/zap"
)

// SubmitWorkProgress принимает отчет подрядчика-победителя.
// Первый отчет переводит тендер в work_in_progress. Отчет о завершении
// переводит тендер в work_completed, а обращение на проверку отдела.
func (e *Engine) SubmitWorkProgress(ctx context.Context, actor models.Actor, req ProgressRequest) (*models.Snapshot, error) {
	if err := requireRole(actor, models.RoleContractor); err != nil {
		return nil, err
	}
	if err := validateProgress(&req); err != nil {
		return nil, err
	}

	var (
		snap *models.Snapshot
		flow workflow.Result
	)
	err := e.store.Tx(ctx, func(r db.Repository) error {
		flow = workflow.Result{}
		tender, err := r.GetTender(ctx, req.TenderID)
		if err != nil {
			return err
		}
		if tender.AwardedContractorID == nil || *tender.AwardedContractorID != actor.ID {
			return apperr.New(apperr.Unauthorized, "contractor %d is not awarded tender %d", actor.ID, tender.ID)
		}
		switch tender.Status {
		case models.TenderAwarded, models.TenderWorkInProgress:
		case models.TenderWorkCompleted:
			return apperr.New(apperr.InvalidTransition,
				"tender %d has a completion report awaiting verification", tender.ID).WithCurrent(*tender)
		default:
			return apperr.New(apperr.TenderClosed, "tender %d is %s", tender.ID, tender.Status).WithCurrent(*tender)
		}

		progress := &models.WorkProgress{
			TenderID:     tender.ID,
			ContractorID: actor.ID,
			Type:         req.Type,
			Status:       models.ReviewSubmitted,
			Percentage:   req.Percentage,
			Description:  req.Description,
		}
		if err := r.CreateWorkProgress(ctx, progress); err != nil {
			return err
		}

		to := models.TenderWorkInProgress
		if req.Type == models.ProgressCompletion {
			to = models.TenderWorkCompleted
		}
		ok, err := r.SetTenderStatus(ctx, tender.ID, []models.TenderStatus{models.TenderAwarded, models.TenderWorkInProgress}, to)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.InvalidTransition, "tender %d changed concurrently", tender.ID)
		}

		if req.Type == models.ProgressCompletion && tender.SourceIssueID != nil {
			issue, err := r.GetIssue(ctx, *tender.SourceIssueID)
			if err != nil {
				return err
			}
			flow, err = e.flow.Apply(ctx, r, issue, workflow.Request{
				IssueID: issue.ID,
				Target:  models.StageDepartmentReview,
				Actor:   actor,
			})
			if err != nil {
				return err
			}
		}

		snap, err = snapshot(ctx, r, nil, tender.ID)
		if err != nil {
			return err
		}
		snap.Progress = progress
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("work progress submitted",
		zap.Int64("progress_id", snap.Progress.ID),
		zap.Int64("tender_id", req.TenderID),
		zap.String("type", string(req.Type)))
	e.flow.Notify(ctx, flow, actor)
	return snap, nil
}

func validateProgress(req *ProgressRequest) error {
	req.Description = strings.TrimSpace(req.Description)
	switch req.Type {
	case models.ProgressUpdate:
		if req.Percentage == nil {
			return apperr.New(apperr.InvalidInput, "percentage is required for progress updates")
		}
		if *req.Percentage < 0 || *req.Percentage > 100 {
			return apperr.New(apperr.InvalidInput, "percentage must be between 0 and 100")
		}
	case models.ProgressCompletion:
		full := 100
		req.Percentage = &full
	default:
		return apperr.New(apperr.InvalidInput, "unknown progress type %q", req.Type)
	}
	return nil
}

// VerifyWorkProgress - решение отдела по отчету о завершении.
// Одобрение закрывает тендер и решает обращение, отказ возвращает обоих в работу.
func (e *Engine) VerifyWorkProgress(ctx context.Context, actor models.Actor, progressID int64, approved bool, notes string) (*models.Snapshot, error) {
	if err := requireRole(actor, models.RoleDepartmentAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)

	var (
		snap *models.Snapshot
		flow workflow.Result
	)
	err := e.store.Tx(ctx, func(r db.Repository) error {
		flow = workflow.Result{}
		progress, err := r.GetWorkProgress(ctx, progressID)
		if err != nil {
			return err
		}
		if progress.Type != models.ProgressCompletion || progress.Status != models.ReviewSubmitted {
			return notPending(progress)
		}
		tender, err := r.GetTender(ctx, progress.TenderID)
		if err != nil {
			return err
		}
		if err := authorizeTender(actor, tender); err != nil {
			return err
		}

		decision := models.ReviewRejected
		tenderTo, stageTo := models.TenderWorkInProgress, models.StageInProgress
		if approved {
			decision = models.ReviewApproved
			tenderTo, stageTo = models.TenderCompleted, models.StageResolved
		}
		ok, err := r.ReviewWorkProgress(ctx, progress.ID, decision, actor.ID, notes)
		if err != nil {
			return err
		}
		if !ok {
			return notPending(progress)
		}
		ok, err = r.SetTenderStatus(ctx, tender.ID, []models.TenderStatus{models.TenderWorkCompleted}, tenderTo)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.InvalidTransition, "tender %d is %s", tender.ID, tender.Status).WithCurrent(*tender)
		}

		if tender.SourceIssueID != nil {
			issue, err := r.GetIssue(ctx, *tender.SourceIssueID)
			if err != nil {
				return err
			}
			flow, err = e.flow.Apply(ctx, r, issue, workflow.Request{
				IssueID: issue.ID,
				Target:  stageTo,
				Actor:   actor,
				Notes:   notes,
			})
			if err != nil {
				return err
			}
		}

		snap, err = snapshot(ctx, r, nil, tender.ID)
		if err != nil {
			return err
		}
		snap.Progress, err = r.GetWorkProgress(ctx, progress.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("work progress verified",
		zap.Int64("progress_id", progressID),
		zap.Bool("approved", approved),
		zap.Int64("actor_id", actor.ID))
	e.flow.Notify(ctx, flow, actor)
	return snap, nil
}

func notPending(p *models.WorkProgress) error {
	return apperr.New(apperr.NotPendingVerification,
		"work progress %d (%s) is %s", p.ID, p.Type, p.Status).WithCurrent(*p)
}

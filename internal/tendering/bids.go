package tendering

import (
	"context"
	"errors"
	"strings"

	"issueflow/db"
	"issueflow/internal/apperr"
	"issueflow/internal/workflow"
	"issueflow/models"

	"go.uber.org/zap"
)

// SubmitBid подает предложение подрядчика на открытый тендер.
func (e *Engine) SubmitBid(ctx context.Context, actor models.Actor, tenderID int64, req BidRequest) (*models.Bid, error) {
	if err := requireRole(actor, models.RoleContractor); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, apperr.New(apperr.InvalidInput, "bid amount must be positive")
	}

	var bid *models.Bid
	err := e.store.Tx(ctx, func(r db.Repository) error {
		// Пустое обновление available -> available блокирует строку тендера,
		// поэтому выбор победителя не пропустит предложение, поданное параллельно.
		open, err := r.SetTenderStatus(ctx, tenderID, []models.TenderStatus{models.TenderAvailable}, models.TenderAvailable)
		if err != nil {
			return err
		}
		if !open {
			tender, err := r.GetTender(ctx, tenderID)
			if err != nil {
				return err
			}
			return apperr.New(apperr.TenderClosed, "tender %d is %s", tender.ID, tender.Status).WithCurrent(*tender)
		}
		bid = &models.Bid{
			TenderID:     tenderID,
			ContractorID: actor.ID,
			Amount:       req.Amount,
			Details:      strings.TrimSpace(req.Details),
			Timeline:     strings.TrimSpace(req.Timeline),
			Status:       models.BidSubmitted,
		}
		return r.CreateBid(ctx, bid)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("bid submitted",
		zap.Int64("bid_id", bid.ID),
		zap.Int64("tender_id", tenderID),
		zap.Int64("contractor_id", actor.ID))
	return bid, nil
}

// AcceptBid выбирает победителя тендера.
//
// Одной транзакцией: тендер переходит available -> awarded, предложение принимается,
// остальные поданные отклоняются, обращение уходит в работу и получает назначение
// на подрядчика. Из параллельных вызовов по одному тендеру проходит только один,
// остальные получают AlreadyAwarded. Повторное принятие того же предложения
// возвращает текущее состояние.
func (e *Engine) AcceptBid(ctx context.Context, actor models.Actor, bidID int64) (*models.Snapshot, error) {
	var (
		snap *models.Snapshot
		flow workflow.Result
	)
	err := e.store.Tx(ctx, func(r db.Repository) error {
		flow = workflow.Result{}
		bid, err := r.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		tender, err := r.GetTender(ctx, bid.TenderID)
		if err != nil {
			return err
		}
		if err := authorizeTender(actor, tender); err != nil {
			return err
		}

		switch bid.Status {
		case models.BidAccepted:
			snap, err = snapshot(ctx, r, &bid.ID, tender.ID)
			return err
		case models.BidRejected:
			if tender.Status != models.TenderAvailable {
				return alreadyAwarded(tender)
			}
			return apperr.New(apperr.AlreadyDecided, "bid %d is already rejected", bid.ID).WithCurrent(*bid)
		}

		awarded, err := r.AwardTender(ctx, tender.ID, bid.ContractorID, bid.Amount)
		if err != nil {
			return err
		}
		if !awarded {
			current, err := r.GetTender(ctx, tender.ID)
			if err != nil {
				return err
			}
			return alreadyAwarded(current)
		}
		accepted, err := r.SetBidStatus(ctx, bid.ID, models.BidSubmitted, models.BidAccepted)
		if err != nil {
			return err
		}
		if !accepted {
			return apperr.New(apperr.AlreadyDecided, "bid %d was decided concurrently", bid.ID)
		}
		if _, err := r.RejectSubmittedBids(ctx, tender.ID, bid.ID); err != nil {
			return err
		}

		if tender.SourceIssueID != nil {
			issue, err := r.GetIssue(ctx, *tender.SourceIssueID)
			if err != nil {
				return err
			}
			flow, err = e.flow.Apply(ctx, r, issue, workflow.Request{
				IssueID: issue.ID,
				Target:  models.StageInProgress,
				Actor:   actor,
			})
			if err != nil {
				return err
			}
			if err := r.CreateAssignment(ctx, &models.Assignment{
				IssueID:    issue.ID,
				Type:       models.DepartmentToContractor,
				AssignedBy: actor.ID,
				AssignedTo: bid.ContractorID,
				Notes:      "awarded tender " + tender.Title,
			}); err != nil {
				return err
			}
		}

		snap, err = snapshot(ctx, r, &bid.ID, tender.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if flow.Changed {
		e.log.Info("bid accepted",
			zap.Int64("bid_id", bidID),
			zap.Int64("tender_id", snap.Tender.ID),
			zap.Int64("contractor_id", snap.Bid.ContractorID))
	}
	e.flow.Notify(ctx, flow, actor)
	return snap, nil
}

// RejectBid отклоняет поданное предложение. Тендер остается открытым.
func (e *Engine) RejectBid(ctx context.Context, actor models.Actor, bidID int64) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := e.store.Tx(ctx, func(r db.Repository) error {
		bid, err := r.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		tender, err := r.GetTender(ctx, bid.TenderID)
		if err != nil {
			return err
		}
		if err := authorizeTender(actor, tender); err != nil {
			return err
		}
		if bid.Status != models.BidSubmitted {
			return apperr.New(apperr.AlreadyDecided, "bid %d is already %s", bid.ID, bid.Status).WithCurrent(*bid)
		}
		ok, err := r.SetBidStatus(ctx, bid.ID, models.BidSubmitted, models.BidRejected)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.AlreadyDecided, "bid %d was decided concurrently", bid.ID)
		}
		snap, err = snapshot(ctx, r, &bid.ID, tender.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("bid rejected", zap.Int64("bid_id", bidID), zap.Int64("actor_id", actor.ID))
	return snap, nil
}

func alreadyAwarded(t *models.Tender) error {
	return apperr.New(apperr.AlreadyAwarded, "tender %d is %s", t.ID, t.Status).WithCurrent(*t)
}

func isDuplicate(err error) bool {
	return errors.Is(err, db.ErrUniqueViolation)
}

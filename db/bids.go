package db

import (
	"context"

	"issueflow/models"
)

const bidColumns = `id, tender_id, contractor_id, amount, details, timeline, status, submitted_at, decided_at`

func (r *Repo) CreateBid(ctx context.Context, b *models.Bid) error {
	b.SubmittedAt = r.stamp()
	query := `
        INSERT INTO bid (tender_id, contractor_id, amount, details, timeline, status, submitted_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        RETURNING id`
	id, err := r.insert(ctx, query, b.TenderID, b.ContractorID, b.Amount, b.Details, b.Timeline, b.Status, b.SubmittedAt)
	if err != nil {
		return classify(err, "create bid")
	}
	b.ID = id
	return nil
}

func (r *Repo) GetBid(ctx context.Context, id int64) (*models.Bid, error) {
	b := &models.Bid{}
	if err := r.get(ctx, b, `SELECT `+bidColumns+` FROM bid WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "bid", id)
	}
	return b, nil
}

// ListBids возвращает предложения тендера в порядке подачи.
func (r *Repo) ListBids(ctx context.Context, tenderID int64) ([]models.Bid, error) {
	out := []models.Bid{}
	query := `SELECT ` + bidColumns + ` FROM bid WHERE tender_id = ? ORDER BY id ASC`
	if err := r.sel(ctx, &out, query, tenderID); err != nil {
		return nil, classify(err, "list bids")
	}
	return out, nil
}

// SetBidStatus меняет статус предложения, только если он все еще равен from.
func (r *Repo) SetBidStatus(ctx context.Context, id int64, from, to models.BidStatus) (bool, error) {
	query := `UPDATE bid SET status = ?, decided_at = ? WHERE id = ? AND status = ?`
	n, err := r.exec(ctx, query, to, r.stamp(), id, from)
	if err != nil {
		return false, classify(err, "set bid status")
	}
	return n == 1, nil
}

// RejectSubmittedBids отклоняет все поданные предложения тендера, кроме exceptBidID (0 - без исключений).
func (r *Repo) RejectSubmittedBids(ctx context.Context, tenderID, exceptBidID int64) (int64, error) {
	query := `UPDATE bid SET status = ?, decided_at = ? WHERE tender_id = ? AND id <> ? AND status = ?`
	n, err := r.exec(ctx, query, models.BidRejected, r.stamp(), tenderID, exceptBidID, models.BidSubmitted)
	if err != nil {
		return 0, classify(err, "reject submitted bids")
	}
	return n, nil
}

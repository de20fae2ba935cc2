package handlers

import (
	"context"
	"net/http"

	"issueflow/db"
	"issueflow/internal/tendering"
	"issueflow/internal/workflow"
	"issueflow/models"
)

// IssueService - движок этапов обращения
type IssueService interface {
	Report(ctx context.Context, actor models.Actor, in workflow.NewIssue) (*models.Issue, error)
	Advance(ctx context.Context, req workflow.Request) (*models.Issue, error)
	Acknowledge(ctx context.Context, issueID int64, actor models.Actor) (*models.Issue, error)
	Reject(ctx context.Context, issueID int64, actor models.Actor, reason string) (*models.Issue, error)
	Close(ctx context.Context, issueID int64, actor models.Actor, notes string) (*models.Issue, error)
}

// IssueReader - чтение обращений для списков и карточки
type IssueReader interface {
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	ListIssues(ctx context.Context, f db.IssueFilter) ([]models.IssueSummary, error)
	ListAssignments(ctx context.Context, issueID int64) ([]models.Assignment, error)
}

// TenderService - движок тендеров
type TenderService interface {
	CreateTender(ctx context.Context, actor models.Actor, req tendering.TenderRequest) (*models.Tender, error)
	CancelTender(ctx context.Context, actor models.Actor, tenderID int64) (*models.Snapshot, error)
	Tender(ctx context.Context, id int64) (*models.Tender, error)
	Tenders(ctx context.Context, f db.TenderFilter) ([]models.Tender, error)
	Bids(ctx context.Context, tenderID int64) ([]models.Bid, error)
	WorkProgress(ctx context.Context, tenderID int64) ([]models.WorkProgress, error)

	SubmitBid(ctx context.Context, actor models.Actor, tenderID int64, req tendering.BidRequest) (*models.Bid, error)
	AcceptBid(ctx context.Context, actor models.Actor, bidID int64) (*models.Snapshot, error)
	RejectBid(ctx context.Context, actor models.Actor, bidID int64) (*models.Snapshot, error)

	SubmitWorkProgress(ctx context.Context, actor models.Actor, req tendering.ProgressRequest) (*models.Snapshot, error)
	VerifyWorkProgress(ctx context.Context, actor models.Actor, progressID int64, approved bool, notes string) (*models.Snapshot, error)
}

// LeaderboardService строит рейтинг за период
type LeaderboardService interface {
	Build(ctx context.Context, period string) (*models.Leaderboard, error)
}

// Authenticator определяет вызывающего по запросу
type Authenticator interface {
	Authenticate(r *http.Request) (models.Actor, error)
}

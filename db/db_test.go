package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"issueflow/db"
	"issueflow/db/dbtest"
	"issueflow/internal/apperr"
	"issueflow/models"

	"github.com/stretchr/testify/require"
)

func newIssue(t *testing.T, r db.Repository, reporter int64) *models.Issue {
	t.Helper()
	issue := &models.Issue{
		Title:      "Pothole on Main street",
		Category:   models.CategoryRoads,
		Priority:   models.PriorityHigh,
		Status:     models.StatusPending,
		Stage:      models.StageReported,
		ReporterID: reporter,
		Location:   models.Location{Name: "Main st 4", Area: "Central", Ward: "Ward 1"},
	}
	require.NoError(t, r.CreateIssue(context.Background(), issue))
	return issue
}

func newTender(t *testing.T, r db.Repository, issueID int64) *models.Tender {
	t.Helper()
	tender := &models.Tender{
		SourceIssueID: &issueID,
		DepartmentID:  11,
		Title:         "Patch the road",
		BudgetMin:     100,
		BudgetMax:     500,
		Deadline:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Status:        models.TenderAvailable,
		CreatedBy:     7,
	}
	require.NoError(t, r.CreateTender(context.Background(), tender))
	return tender
}

func TestIssueVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStorage(t)
	issue := newIssue(t, store, 1)

	stale := *issue
	issue.Stage = models.StageAreaReview
	require.NoError(t, store.UpdateIssue(ctx, issue))
	require.Equal(t, 2, issue.Version)

	stale.Stage = models.StageDepartmentAssigned
	err := store.UpdateIssue(ctx, &stale)
	require.ErrorIs(t, err, db.ErrVersionConflict)

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Equal(t, models.StageAreaReview, got.Stage)
	require.Equal(t, "Ward 1", got.Location.Ward)
}

func TestGetIssueNotFound(t *testing.T) {
	store := dbtest.NewStorage(t)
	_, err := store.GetIssue(context.Background(), 42)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResolvedAtCheck(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStorage(t)
	issue := newIssue(t, store, 1)

	issue.Status = models.StatusResolved
	require.Error(t, store.UpdateIssue(ctx, issue), "resolved without resolved_at must be rejected")

	at := time.Now().UTC()
	issue.ResolvedAt = &at
	require.NoError(t, store.UpdateIssue(ctx, issue))
}

func TestOneActiveTenderPerIssue(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStorage(t)
	issue := newIssue(t, store, 1)
	first := newTender(t, store, issue.ID)

	dup := *first
	dup.ID = 0
	err := store.CreateTender(ctx, &dup)
	require.ErrorIs(t, err, db.ErrUniqueViolation)

	ok, err := store.SetTenderStatus(ctx, first.ID, []models.TenderStatus{models.TenderAvailable}, models.TenderCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	active, err := store.GetActiveTenderForIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Nil(t, active)

	second := newTender(t, store, issue.ID)
	active, err = store.GetActiveTenderForIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)
}

func TestAwardTenderOnce(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStorage(t)
	tender := newTender(t, store, newIssue(t, store, 1).ID)

	ok, err := store.AwardTender(ctx, tender.ID, 5, 300)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.AwardTender(ctx, tender.ID, 6, 200)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := store.GetTender(ctx, tender.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenderAwarded, got.Status)
	require.Equal(t, int64(5), *got.AwardedContractorID)
	require.Equal(t, 300.0, *got.AwardedAmount)
}

func TestBidStatusTransitions(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStorage(t)
	tender := newTender(t, store, newIssue(t, store, 1).ID)

	var bids []*models.Bid
	for _, c := range []int64{5, 6, 7} {
		b := &models.Bid{TenderID: tender.ID, ContractorID: c, Amount: 250, Status: models.BidSubmitted}
		require.NoError(t, store.CreateBid(ctx, b))
		bids = append(bids, b)
	}

	ok, err := store.SetBidStatus(ctx, bids[0].ID, models.BidSubmitted, models.BidAccepted)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := store.RejectSubmittedBids(ctx, tender.ID, bids[0].ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	ok, err = store.SetBidStatus(ctx, bids[1].ID, models.BidSubmitted, models.BidAccepted)
	require.NoError(t, err)
	require.False(t, ok)

	list, err := store.ListBids(ctx, tender.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, models.BidAccepted, list[0].Status)
	require.NotNil(t, list[0].DecidedAt)
	require.Equal(t, models.BidRejected, list[1].Status)
	require.Equal(t, models.BidRejected, list[2].Status)
}

func TestWorkProgressReview(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStorage(t)
	tender := newTender(t, store, newIssue(t, store, 1).ID)

	full := 100
	p := &models.WorkProgress{
		TenderID:     tender.ID,
		ContractorID: 5,
		Type:         models.ProgressCompletion,
		Status:       models.ReviewSubmitted,
		Percentage:   &full,
	}
	require.NoError(t, store.CreateWorkProgress(ctx, p))

	has, err := store.HasCompletion(ctx, tender.ID, models.ReviewSubmitted)
	require.NoError(t, err)
	require.True(t, has)

	ok, err := store.ReviewWorkProgress(ctx, p.ID, models.ReviewApproved, 9, "looks good")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.ReviewWorkProgress(ctx, p.ID, models.ReviewRejected, 9, "changed my mind")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := store.GetWorkProgress(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReviewApproved, got.Status)
	require.Equal(t, int64(9), *got.VerifiedBy)
	require.Equal(t, "looks good", got.VerificationNotes)
}

func TestListIssuesSummaries(t *testing.T) {
	ctx := context.Background()
	clock := dbtest.NewClock()
	store := dbtest.NewStorage(t, db.WithClock(clock.Now))

	reporter := &db.Profile{DisplayName: "Ada"}
	require.NoError(t, store.CreateProfile(ctx, reporter))

	older := newIssue(t, store, reporter.ID)
	clock.Advance(time.Minute)
	newer := newIssue(t, store, reporter.ID)

	tender := newTender(t, store, older.ID)
	require.NoError(t, store.CreateBid(ctx, &models.Bid{TenderID: tender.ID, ContractorID: 5, Amount: 10, Status: models.BidSubmitted}))
	first := &models.Assignment{IssueID: older.ID, Type: models.AreaToDepartment, AssignedBy: 2, AssignedTo: 11}
	require.NoError(t, store.CreateAssignment(ctx, first))
	last := &models.Assignment{IssueID: older.ID, Type: models.DepartmentToContractor, AssignedBy: 3, AssignedTo: 5}
	require.NoError(t, store.CreateAssignment(ctx, last))

	list, err := store.ListIssues(ctx, db.IssueFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, newer.ID, list[0].ID)
	require.Nil(t, list[0].Tender)
	require.Nil(t, list[0].LastAssignment)

	require.Equal(t, older.ID, list[1].ID)
	require.Equal(t, "Ada", list[1].ReporterName)
	require.Equal(t, &models.TenderSummary{ID: tender.ID, Status: models.TenderAvailable, BidCount: 1}, list[1].Tender)
	require.Equal(t, last.ID, list[1].LastAssignment.ID)

	list, err = store.ListIssues(ctx, db.IssueFilter{Stage: models.StageResolved})
	require.NoError(t, err)
	require.Empty(t, list)

	trail, err := store.ListAssignments(ctx, older.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{first.ID, last.ID}, []int64{trail[0].ID, trail[1].ID})
}

func TestListTendersFilter(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStorage(t)
	a := newTender(t, store, newIssue(t, store, 1).ID)
	b := newTender(t, store, newIssue(t, store, 1).ID)
	_, err := store.SetTenderStatus(ctx, b.ID, []models.TenderStatus{models.TenderAvailable}, models.TenderCancelled)
	require.NoError(t, err)

	list, err := store.ListTenders(ctx, db.TenderFilter{Statuses: []models.TenderStatus{models.TenderAvailable}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, a.ID, list[0].ID)

	list, err = store.ListTenders(ctx, db.TenderFilter{DepartmentID: 99})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestActivityRows(t *testing.T) {
	ctx := context.Background()
	clock := dbtest.NewClock()
	store := dbtest.NewStorage(t, db.WithClock(clock.Now))

	ada := &db.Profile{DisplayName: "Ada", TotalScore: 80, Badges: "first-report, helper"}
	bob := &db.Profile{DisplayName: "Bob", TotalScore: 20}
	require.NoError(t, store.CreateProfile(ctx, ada))
	require.NoError(t, store.CreateProfile(ctx, bob))

	old := &db.Post{AuthorID: bob.ID, Body: "old news", CreatedAt: clock.Now().Add(-30 * 24 * time.Hour)}
	require.NoError(t, store.CreatePost(ctx, old))
	newIssue(t, store, ada.ID)
	newIssue(t, store, ada.ID)
	require.NoError(t, store.CreatePost(ctx, &db.Post{AuthorID: bob.ID, Body: "fresh"}))

	rows, err := store.ActivityRows(ctx, clock.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	var issues, posts int
	for _, r := range rows {
		issues += r.IssuesReported
		posts += r.PostsCreated
		if r.UserID == ada.ID {
			require.Equal(t, []string{"first-report", "helper"}, r.Badges)
			require.Equal(t, 80, r.TotalScore)
		}
	}
	require.Equal(t, 2, issues)
	require.Equal(t, 1, posts)
}

func TestTxRollback(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStorage(t)
	boom := errors.New("boom")

	var id int64
	err := store.Tx(ctx, func(r db.Repository) error {
		id = newIssue(t, r, 1).ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetIssue(ctx, id)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTxRetriesVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStorage(t, db.WithMaxRetries(2))

	attempts := 0
	err := store.Tx(ctx, func(r db.Repository) error {
		attempts++
		if attempts < 3 {
			return db.ErrVersionConflict
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	attempts = 0
	err = store.Tx(ctx, func(r db.Repository) error {
		attempts++
		return db.ErrVersionConflict
	})
	require.ErrorIs(t, err, db.ErrVersionConflict)
	require.Equal(t, 3, attempts)
}

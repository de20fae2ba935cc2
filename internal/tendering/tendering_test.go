package tendering_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"issueflow/db"
	"issueflow/db/dbtest"
	"issueflow/internal/apperr"
	"issueflow/internal/events"
	"issueflow/internal/routing"
	"issueflow/internal/tendering"
	"issueflow/internal/workflow"
	"issueflow/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	deptAdmin  = models.Actor{ID: 201, Role: models.RoleDepartmentAdmin, DepartmentID: 11}
	otherDept  = models.Actor{ID: 202, Role: models.RoleDepartmentAdmin, DepartmentID: 12}
	superAdmin = models.Actor{ID: 900, Role: models.RoleSuperAdmin}
)

func contractor(id int64) models.Actor {
	return models.Actor{ID: id, Role: models.RoleContractor}
}

type fixture struct {
	store   *db.Storage
	flow    *workflow.Engine
	tenders *tendering.Engine
	events  *events.Recorder
	clock   *dbtest.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := dbtest.NewClock()
	store := dbtest.NewStorage(t, db.WithClock(clock.Now))
	rec := &events.Recorder{}
	flow := workflow.New(store, routing.Taxonomy{}, workflow.WithPublisher(rec), workflow.WithClock(clock.Now))
	return &fixture{
		store:   store,
		flow:    flow,
		tenders: tendering.New(store, flow, tendering.WithClock(clock.Now)),
		events:  rec,
		clock:   clock,
	}
}

// assignedIssue - обращение, уже переданное отделу 11.
func (f *fixture) assignedIssue(t *testing.T) *models.Issue {
	t.Helper()
	dept := int64(11)
	issue := &models.Issue{
		Title:                "Collapsed retaining wall",
		Description:          "Rubble on the pavement",
		Category:             models.CategorySafety,
		Priority:             models.PriorityUrgent,
		Status:               models.StatusAcknowledged,
		Stage:                models.StageDepartmentAssigned,
		ReporterID:           1,
		Location:             models.Location{Area: "Central"},
		AssignedDepartmentID: &dept,
	}
	require.NoError(t, f.store.CreateIssue(context.Background(), issue))
	return issue
}

func (f *fixture) request(issueID int64) tendering.TenderRequest {
	return tendering.TenderRequest{
		IssueID:   issueID,
		BudgetMin: 1000,
		BudgetMax: 5000,
		Deadline:  f.clock.Now().Add(14 * 24 * time.Hour),
	}
}

func (f *fixture) openTender(t *testing.T) (*models.Issue, *models.Tender) {
	t.Helper()
	issue := f.assignedIssue(t)
	tender, err := f.tenders.CreateTender(context.Background(), deptAdmin, f.request(issue.ID))
	require.NoError(t, err)
	return issue, tender
}

func (f *fixture) bid(t *testing.T, tenderID, contractorID int64, amount float64) *models.Bid {
	t.Helper()
	bid, err := f.tenders.SubmitBid(context.Background(), contractor(contractorID), tenderID, tendering.BidRequest{Amount: amount, Timeline: "3 weeks"})
	require.NoError(t, err)
	return bid
}

func (f *fixture) issue(t *testing.T, id int64) *models.Issue {
	t.Helper()
	issue, err := f.store.GetIssue(context.Background(), id)
	require.NoError(t, err)
	return issue
}

func TestCreateTender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue, tender := f.openTender(t)

	require.Equal(t, models.TenderAvailable, tender.Status)
	require.Equal(t, int64(11), tender.DepartmentID)
	require.Equal(t, issue.Title, tender.Title, "title defaults to the issue title")
	require.Equal(t, issue.ID, *tender.SourceIssueID)
	require.Equal(t, models.StageContractorAssigned, f.issue(t, issue.ID).Stage)

	_, err := f.tenders.CreateTender(ctx, deptAdmin, f.request(issue.ID))
	require.ErrorIs(t, err, apperr.ErrDuplicateTender)
}

func TestCreateTenderRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.assignedIssue(t)

	req := f.request(issue.ID)
	req.Deadline = f.clock.Now().Add(-time.Hour)
	_, err := f.tenders.CreateTender(ctx, deptAdmin, req)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	req = f.request(issue.ID)
	req.BudgetMax = 10
	_, err = f.tenders.CreateTender(ctx, deptAdmin, req)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.tenders.CreateTender(ctx, contractor(501), f.request(issue.ID))
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.tenders.CreateTender(ctx, otherDept, f.request(issue.ID))
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.tenders.CreateTender(ctx, deptAdmin, f.request(9999))
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateTenderOwnedByIssueDepartment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.assignedIssue(t)

	req := f.request(issue.ID)
	req.DepartmentID = 12
	_, err := f.tenders.CreateTender(ctx, superAdmin, req)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	active, err := f.store.GetActiveTenderForIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Nil(t, active)
	require.Equal(t, models.StageDepartmentAssigned, f.issue(t, issue.ID).Stage)

	req.DepartmentID = 11
	tender, err := f.tenders.CreateTender(ctx, superAdmin, req)
	require.NoError(t, err)
	require.Equal(t, int64(11), tender.DepartmentID)

	// отдел обращения ведет тендер до конца
	bid := f.bid(t, tender.ID, 501, 1200)
	snap, err := f.tenders.AcceptBid(ctx, deptAdmin, bid.ID)
	require.NoError(t, err)
	require.Equal(t, models.StageInProgress, snap.Issue.Stage)

	unassigned := f.assignedIssue(t)
	unassigned.AssignedDepartmentID = nil
	require.NoError(t, f.store.UpdateIssue(ctx, unassigned))
	req = f.request(unassigned.ID)
	req.DepartmentID = 11
	_, err = f.tenders.CreateTender(ctx, superAdmin, req)
	require.ErrorIs(t, err, apperr.ErrNoResponsibleActor)
}

func TestCreateTenderWrongStageRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.assignedIssue(t)
	issue.Stage = models.StageReported
	require.NoError(t, f.store.UpdateIssue(ctx, issue))

	_, err := f.tenders.CreateTender(ctx, deptAdmin, f.request(issue.ID))
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	active, err := f.store.GetActiveTenderForIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Nil(t, active, "tender must not survive a failed transition")
}

func TestAcceptBidSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue, tender := f.openTender(t)
	first := f.bid(t, tender.ID, 501, 4200)
	winner := f.bid(t, tender.ID, 502, 3900)
	third := f.bid(t, tender.ID, 503, 4500)

	snap, err := f.tenders.AcceptBid(ctx, deptAdmin, winner.ID)
	require.NoError(t, err)

	require.Equal(t, models.BidAccepted, snap.Bid.Status)
	require.Equal(t, models.TenderAwarded, snap.Tender.Status)
	require.Equal(t, int64(502), *snap.Tender.AwardedContractorID)
	require.Equal(t, 3900.0, *snap.Tender.AwardedAmount)
	require.Equal(t, models.StageInProgress, snap.Issue.Stage)
	require.Equal(t, models.StatusInProgress, snap.Issue.Status)

	bids, err := f.store.ListBids(ctx, tender.ID)
	require.NoError(t, err)
	statuses := map[int64]models.BidStatus{}
	for _, b := range bids {
		statuses[b.ID] = b.Status
	}
	require.Equal(t, map[int64]models.BidStatus{
		first.ID:  models.BidRejected,
		winner.ID: models.BidAccepted,
		third.ID:  models.BidRejected,
	}, statuses)

	trail, err := f.store.ListAssignments(ctx, issue.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	last := trail[len(trail)-1]
	require.Equal(t, models.DepartmentToContractor, last.Type)
	require.Equal(t, int64(502), last.AssignedTo)

	again, err := f.tenders.AcceptBid(ctx, deptAdmin, winner.ID)
	require.NoError(t, err)
	require.Equal(t, snap.Issue.Version, again.Issue.Version)

	_, err = f.tenders.AcceptBid(ctx, deptAdmin, first.ID)
	require.ErrorIs(t, err, apperr.ErrAlreadyAwarded)

	_, err = f.tenders.SubmitBid(ctx, contractor(504), tender.ID, tendering.BidRequest{Amount: 100})
	require.ErrorIs(t, err, apperr.ErrTenderClosed)
}

func TestAcceptBidAuthorization(t *testing.T) {
	f := newFixture(t)
	_, tender := f.openTender(t)
	bid := f.bid(t, tender.ID, 501, 2000)

	_, err := f.tenders.AcceptBid(context.Background(), otherDept, bid.ID)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.tenders.AcceptBid(context.Background(), contractor(501), bid.ID)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	snap, err := f.tenders.AcceptBid(context.Background(), superAdmin, bid.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenderAwarded, snap.Tender.Status)
}

func TestConcurrentAcceptBidSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, tender := f.openTender(t)

	const n = 6
	bids := make([]*models.Bid, n)
	for i := range bids {
		bids[i] = f.bid(t, tender.ID, int64(600+i), float64(1000+i))
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, n)
	)
	for i := range bids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.tenders.AcceptBid(ctx, deptAdmin, bids[i].ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		if err == nil {
			winners++
			continue
		}
		require.ErrorIs(t, err, apperr.ErrAlreadyAwarded, "bid %d", bids[i].ID)
	}
	require.Equal(t, 1, winners)

	list, err := f.store.ListBids(ctx, tender.ID)
	require.NoError(t, err)
	counts := map[models.BidStatus]int{}
	for _, b := range list {
		counts[b.Status]++
	}
	require.Equal(t, 1, counts[models.BidAccepted])
	require.Equal(t, n-1, counts[models.BidRejected])
	require.Zero(t, counts[models.BidSubmitted])
}

func TestRejectBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, tender := f.openTender(t)
	bid := f.bid(t, tender.ID, 501, 2000)

	snap, err := f.tenders.RejectBid(ctx, deptAdmin, bid.ID)
	require.NoError(t, err)
	require.Equal(t, models.BidRejected, snap.Bid.Status)
	require.Equal(t, models.TenderAvailable, snap.Tender.Status)

	_, err = f.tenders.RejectBid(ctx, deptAdmin, bid.ID)
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	_, err = f.tenders.AcceptBid(ctx, deptAdmin, bid.ID)
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)
}

func TestSubmitBidValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, tender := f.openTender(t)

	_, err := f.tenders.SubmitBid(ctx, contractor(501), tender.ID, tendering.BidRequest{Amount: 0})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.tenders.SubmitBid(ctx, deptAdmin, tender.ID, tendering.BidRequest{Amount: 10})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.tenders.SubmitBid(ctx, contractor(501), 9999, tendering.BidRequest{Amount: 10})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancelTender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue, tender := f.openTender(t)
	bid := f.bid(t, tender.ID, 501, 2000)

	snap, err := f.tenders.CancelTender(ctx, deptAdmin, tender.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenderCancelled, snap.Tender.Status)
	require.Equal(t, models.StageDepartmentAssigned, snap.Issue.Stage)

	got, err := f.store.GetBid(ctx, bid.ID)
	require.NoError(t, err)
	require.Equal(t, models.BidRejected, got.Status)

	_, err = f.tenders.SubmitBid(ctx, contractor(502), tender.ID, tendering.BidRequest{Amount: 10})
	require.ErrorIs(t, err, apperr.ErrTenderClosed)

	next, err := f.tenders.CreateTender(ctx, deptAdmin, f.request(issue.ID))
	require.NoError(t, err, "a cancelled tender does not block a new one")

	winner := f.bid(t, next.ID, 503, 1500)
	_, err = f.tenders.AcceptBid(ctx, deptAdmin, winner.ID)
	require.NoError(t, err)
	_, err = f.tenders.CancelTender(ctx, deptAdmin, next.ID)
	require.ErrorIs(t, err, apperr.ErrTenderClosed)
}

func TestWorkProgressVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue, tender := f.openTender(t)
	winner := f.bid(t, tender.ID, 501, 2500)
	_, err := f.tenders.AcceptBid(ctx, deptAdmin, winner.ID)
	require.NoError(t, err)

	forty := 40
	update := tendering.ProgressRequest{TenderID: tender.ID, Type: models.ProgressUpdate, Percentage: &forty, Description: "foundation done"}

	_, err = f.tenders.SubmitWorkProgress(ctx, contractor(777), update)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	snap, err := f.tenders.SubmitWorkProgress(ctx, contractor(501), update)
	require.NoError(t, err)
	require.Equal(t, models.TenderWorkInProgress, snap.Tender.Status)
	require.Equal(t, models.StageInProgress, snap.Issue.Stage)

	_, err = f.tenders.VerifyWorkProgress(ctx, deptAdmin, snap.Progress.ID, true, "")
	require.ErrorIs(t, err, apperr.ErrNotPendingVerification, "updates are not verified")

	completion := tendering.ProgressRequest{TenderID: tender.ID, Type: models.ProgressCompletion, Description: "wall rebuilt"}
	done, err := f.tenders.SubmitWorkProgress(ctx, contractor(501), completion)
	require.NoError(t, err)
	require.Equal(t, 100, *done.Progress.Percentage)
	require.Equal(t, models.TenderWorkCompleted, done.Tender.Status)
	require.Equal(t, models.StageDepartmentReview, done.Issue.Stage)

	_, err = f.tenders.SubmitWorkProgress(ctx, contractor(501), completion)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.tenders.VerifyWorkProgress(ctx, otherDept, done.Progress.ID, true, "")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	rejected, err := f.tenders.VerifyWorkProgress(ctx, deptAdmin, done.Progress.ID, false, "drainage missing")
	require.NoError(t, err)
	require.Equal(t, models.ReviewRejected, rejected.Progress.Status)
	require.Equal(t, "drainage missing", rejected.Progress.VerificationNotes)
	require.Equal(t, models.TenderWorkInProgress, rejected.Tender.Status)
	require.Equal(t, models.StageInProgress, rejected.Issue.Stage)
	require.Nil(t, rejected.Issue.ResolvedAt)

	_, err = f.tenders.VerifyWorkProgress(ctx, deptAdmin, done.Progress.ID, true, "")
	require.ErrorIs(t, err, apperr.ErrNotPendingVerification)

	redo, err := f.tenders.SubmitWorkProgress(ctx, contractor(501), completion)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	approved, err := f.tenders.VerifyWorkProgress(ctx, deptAdmin, redo.Progress.ID, true, "accepted on site")
	require.NoError(t, err)
	require.Equal(t, models.ReviewApproved, approved.Progress.Status)
	require.Equal(t, models.TenderCompleted, approved.Tender.Status)
	require.Equal(t, models.StageResolved, approved.Issue.Stage)
	require.Equal(t, models.StatusResolved, approved.Issue.Status)
	require.NotNil(t, approved.Issue.ResolvedAt)

	stored := f.issue(t, issue.ID)
	require.Equal(t, models.StatusResolved, stored.Status)
	require.True(t, stored.ResolvedAt.Equal(f.clock.Now()))

	_, err = f.tenders.SubmitWorkProgress(ctx, contractor(501), update)
	require.ErrorIs(t, err, apperr.ErrTenderClosed)

	progress, err := f.tenders.WorkProgress(ctx, tender.ID)
	require.NoError(t, err)
	require.Len(t, progress, 3)
}

func TestSubmitWorkProgressValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []tendering.ProgressRequest{
		{TenderID: 1, Type: models.ProgressUpdate},
		{TenderID: 1, Type: models.ProgressUpdate, Percentage: ptr(101)},
		{TenderID: 1, Type: "finished"},
	}
	for i, req := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			_, err := f.tenders.SubmitWorkProgress(ctx, contractor(501), req)
			require.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestStageEventsAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, tender := f.openTender(t)
	bid := f.bid(t, tender.ID, 501, 1200)
	_, err := f.tenders.AcceptBid(ctx, deptAdmin, bid.ID)
	require.NoError(t, err)

	var stages []models.Stage
	for _, ev := range f.events.Events() {
		stages = append(stages, ev.To)
	}
	require.Equal(t, []models.Stage{models.StageContractorAssigned, models.StageInProgress}, stages)
}

func ptr(v int) *int { return &v }

func TestPendingCompletionCannotBeBypassed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue, tender := f.openTender(t)
	winner := f.bid(t, tender.ID, 501, 2500)
	_, err := f.tenders.AcceptBid(ctx, deptAdmin, winner.ID)
	require.NoError(t, err)
	done, err := f.tenders.SubmitWorkProgress(ctx, contractor(501), tendering.ProgressRequest{TenderID: tender.ID, Type: models.ProgressCompletion})
	require.NoError(t, err)

	_, err = f.flow.Advance(ctx, workflow.Request{IssueID: issue.ID, Target: models.StageInProgress, Actor: deptAdmin})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = f.flow.Advance(ctx, workflow.Request{IssueID: issue.ID, Target: models.StageResolved, Actor: deptAdmin})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	require.Equal(t, models.StageDepartmentReview, f.issue(t, issue.ID).Stage)
	got, err := f.store.GetTender(ctx, tender.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenderWorkCompleted, got.Status)

	approved, err := f.tenders.VerifyWorkProgress(ctx, deptAdmin, done.Progress.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, models.TenderCompleted, approved.Tender.Status)
	require.Equal(t, models.StageResolved, approved.Issue.Stage)
}

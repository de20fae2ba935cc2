package events

import (
	"context"
	"testing"

	"issueflow/internal/routing"
	"issueflow/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	p.Publish(context.Background(), StageChange{
		IssueID:     4,
		From:        models.StageReported,
		To:          models.StageAreaReview,
		Actor:       models.Actor{ID: 101, Role: models.RoleAreaAdmin},
		Responsible: &routing.Responsible{Kind: routing.AreaReviewer, ID: 101},
	})

	entries := logs.FilterMessage("issue stage changed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, int64(4), fields["issue_id"])
	require.Equal(t, "area_review", fields["to"])
	require.Equal(t, "area_reviewer", fields["responsible_kind"])
}

func TestRecorderReturnsCopy(t *testing.T) {
	var r Recorder
	r.Publish(context.Background(), StageChange{IssueID: 1})
	evs := r.Events()
	evs[0].IssueID = 99
	require.Equal(t, int64(1), r.Events()[0].IssueID)
}

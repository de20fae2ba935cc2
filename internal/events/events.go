// Package events доставляет уведомления о смене этапа после фиксации транзакции.
package events

import (
	"context"
	"sync"
	"time"

	"issueflow/internal/routing"
	"issueflow/models"

	"go.uber.org/zap"
)

// StageChange - обращение перешло на новый этап
type StageChange struct {
	IssueID     int64                `json:"issueId"`
	From        models.Stage         `json:"from"`
	To          models.Stage         `json:"to"`
	Status      models.IssueStatus   `json:"status"`
	Actor       models.Actor         `json:"actor"`
	Responsible *routing.Responsible `json:"responsible,omitempty"`
	At          time.Time            `json:"at"`
}

// Publisher - внешний канал уведомлений. Ошибки доставки не откатывают переход.
type Publisher interface {
	Publish(ctx context.Context, ev StageChange)
}

// LogPublisher пишет события в журнал.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev StageChange) {
	fields := []zap.Field{
		zap.Int64("issue_id", ev.IssueID),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)),
		zap.String("status", string(ev.Status)),
		zap.Int64("actor_id", ev.Actor.ID),
		zap.String("actor_role", string(ev.Actor.Role)),
	}
	if ev.Responsible != nil {
		fields = append(fields,
			zap.String("responsible_kind", string(ev.Responsible.Kind)),
			zap.Int64("responsible_id", ev.Responsible.ID))
	}
	p.log.Info("issue stage changed", fields...)
}

// Recorder запоминает события; используется в тестах.
type Recorder struct {
	mu     sync.Mutex
	events []StageChange
}

func (r *Recorder) Publish(_ context.Context, ev StageChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []StageChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StageChange(nil), r.events...)
}

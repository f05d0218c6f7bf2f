package audit

import (
	"context"
	"encoding/json"
	"time"

	"salespoints-platform/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeAuditRecord = "audit:record"

// asynqSink hands events to the audit worker through the task queue. Enqueue
// failures are logged and swallowed: the ledger write is already durable and
// must not be failed retroactively for audit reasons.
type asynqSink struct {
	enqueuer task.Enqueuer
}

type SinkParams struct {
	fx.In
	Enqueuer task.Enqueuer
}

func NewSink(p SinkParams) Sink {
	return &asynqSink{enqueuer: p.Enqueuer}
}

func (s *asynqSink) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("failed to marshal audit event", zap.Error(err))
		return
	}

	if _, err := s.enqueuer.Enqueue(ctx,
		asynq.NewTask(TypeAuditRecord, payload),
		asynq.Queue("audit"),
		asynq.MaxRetry(5),
	); err != nil {
		zap.L().Warn("failed to enqueue audit event",
			zap.String("entity", event.Entity),
			zap.String("entity_id", event.EntityID),
			zap.String("action", event.Action),
			zap.Error(err),
		)
	}
}

// ZapSink logs events instead of queueing them. Used in tests and in
// deployments without a worker.
type ZapSink struct{}

func (ZapSink) Record(ctx context.Context, event Event) {
	zap.L().Info("audit event",
		zap.String("entity", event.Entity),
		zap.String("entity_id", event.EntityID),
		zap.String("action", event.Action),
		zap.String("actor_id", event.ActorID),
	)
}

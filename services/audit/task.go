package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"salespoints-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is the persisted form of an Event, written by the worker.
type AuditLog struct {
	ID        string         `gorm:"column:id;primaryKey"`
	Entity    string         `gorm:"column:entity;index;not null"`
	EntityID  string         `gorm:"column:entity_id;index;not null"`
	Action    string         `gorm:"column:action;not null"`
	ActorID   string         `gorm:"column:actor_id;index"`
	Before    datatypes.JSON `gorm:"column:before_values"`
	After     datatypes.JSON `gorm:"column:after_values"`
	Timestamp time.Time      `gorm:"column:timestamp;index"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

type Task struct {
	db   *gorm.DB
	node *snowflake.Node

	logs repository.Repository[AuditLog]
}

type TaskParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewTask(p TaskParams) *Task {
	return &Task{
		db:   p.DB,
		node: p.Node,

		logs: repository.ProvideStore[AuditLog](p.DB),
	}
}

func (t *Task) HandleRecordTask(ctx context.Context, task *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if err := t.logs.Create(ctx, &AuditLog{
		ID:        t.node.Generate().String(),
		Entity:    event.Entity,
		EntityID:  event.EntityID,
		Action:    event.Action,
		ActorID:   event.ActorID,
		Before:    event.Before,
		After:     event.After,
		Timestamp: event.Timestamp,
		CreatedAt: time.Now(),
	}); err != nil {
		zap.L().Error("failed to persist audit log",
			zap.String("entity", event.Entity),
			zap.String("entity_id", event.EntityID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

var TaskModule = fx.Module("task.audit",
	fx.Provide(NewTask),
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(TypeAuditRecord, t.HandleRecordTask)
}

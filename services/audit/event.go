package audit

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Event is the structured record emitted after every committed state change.
// Before/After carry the mutated fields, not whole rows.
type Event struct {
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id"`
	Before    datatypes.JSON `json:"before_values,omitempty"`
	After     datatypes.JSON `json:"after_values,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives events from the engines. Implementations are best-effort:
// Record never fails the caller, and it must only be invoked after the
// owning transaction has committed.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// Values marshals a field map for the before/after payloads.
func Values(fields map[string]any) datatypes.JSON {
	if len(fields) == 0 {
		return nil
	}
	b, _ := json.Marshal(fields)
	return datatypes.JSON(b)
}

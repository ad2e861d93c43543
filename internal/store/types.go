package store

import (
	"encoding/json"
	"time"

	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// Run is the persisted representation of one disruption-response run.
// The full WorkflowState travels as an opaque document; version implements
// optimistic concurrency on checkpoint writes.
type Run struct {
	ID          string               `json:"id"`
	Status      schema.RunStatus     `json:"status"`
	CurrentStep schema.StepName      `json:"current_step"`
	State       *state.WorkflowState `json:"state"`
	Version     int64                `json:"version"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// Event is an immutable entry in the append-only run event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Step      string          `json:"step,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status *schema.RunStatus `json:"status,omitempty"`
	Since  *time.Time        `json:"since,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

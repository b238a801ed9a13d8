package models

import "time"

// Action names recorded by the engine itself, in addition to the
// template-defined action names.
const (
	StartAction  = "start"
	CancelAction = "cancel"
)

// HistoryEntry is one append-only row in the instance history ledger.
// ActorID is nil for transitions the engine applied automatically.
// FromStageID is nil on the start entry; ToStageID is nil on completion
// through a transition without a target stage. Replaying the entries of an
// instance in creation order reproduces its full stage path.
type HistoryEntry struct {
	ID          int64     `json:"id" db:"id"`
	InstanceID  int64     `json:"instance_id" db:"instance_id"`
	ActionType  string    `json:"action_type" db:"action_type"`
	ActorID     *int64    `json:"actor_id,omitempty" db:"actor_id"`
	FromStageID *int64    `json:"from_stage_id,omitempty" db:"from_stage_id"`
	ToStageID   *int64    `json:"to_stage_id,omitempty" db:"to_stage_id"`
	Comment     string    `json:"comment,omitempty" db:"comment"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HistoryEntryView is the display-ready projection of a history entry.
type HistoryEntryView struct {
	ActionType    string    `json:"action_type"`
	ActorID       *int64    `json:"actor_id,omitempty"`
	ActorName     string    `json:"actor_name,omitempty"`
	FromStageName string    `json:"from_stage_name,omitempty"`
	ToStageName   string    `json:"to_stage_name,omitempty"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

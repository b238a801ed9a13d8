package models

import "time"

type InstanceStatus string

const (
	ActiveInstanceStatus    InstanceStatus = "active"
	CompletedInstanceStatus InstanceStatus = "completed"
	CancelledInstanceStatus InstanceStatus = "cancelled"
)

// Instance is one running or finished execution of a template, bound to
// exactly one business entity. CurrentStageID is nil only when the process
// completed through a transition with no target stage. Version is bumped on
// every update and backs the optimistic concurrency check.
type Instance struct {
	ID             int64          `json:"id" db:"id"`
	TemplateID     int64          `json:"template_id" db:"template_id"`
	EntityType     string         `json:"entity_type" db:"entity_type"`
	EntityID       int64          `json:"entity_id" db:"entity_id"`
	ProjectID      int64          `json:"project_id" db:"project_id"`
	CurrentStageID *int64         `json:"current_stage_id,omitempty" db:"current_stage_id"`
	Status         InstanceStatus `json:"status" db:"status"`
	AssigneeID     *int64         `json:"assignee_id,omitempty" db:"assignee_id"`
	Version        int64          `json:"version" db:"version"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether no further transitions are permitted.
func (i Instance) Terminal() bool {
	return i.Status == CompletedInstanceStatus || i.Status == CancelledInstanceStatus
}

// InstanceView is the display-ready projection of an instance: raw IDs joined
// with template, stage and assignee names at read time.
type InstanceView struct {
	ID               int64          `json:"id"`
	TemplateName     string         `json:"template_name"`
	EntityType       string         `json:"entity_type"`
	EntityID         int64          `json:"entity_id"`
	ProjectID        int64          `json:"project_id"`
	CurrentStageName string         `json:"current_stage_name,omitempty"`
	Status           InstanceStatus `json:"status"`
	AssigneeID       *int64         `json:"assignee_id,omitempty"`
	AssigneeName     string         `json:"assignee_name,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

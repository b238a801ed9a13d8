package models

// Template is a named, reusable process definition bound to one entity type
// (e.g. "submittal_review" for entity type "submittal"). Stages and
// Transitions are populated when the template graph is loaded.
type Template struct {
	ID          int64        `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	EntityType  string       `json:"entity_type" db:"entity_type"`
	Stages      []Stage      `json:"stages,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// Stage is a single state within a template. Exactly one stage per template
// is flagged initial; terminal stages end the process on entry.
type Stage struct {
	ID                  int64   `json:"id" db:"id"`
	TemplateID          int64   `json:"template_id" db:"template_id"`
	Name                string  `json:"name" db:"name"`
	IsInitial           bool    `json:"is_initial" db:"is_initial"`
	IsTerminal          bool    `json:"is_terminal" db:"is_terminal"`
	DefaultAssigneeRole *string `json:"default_assignee_role,omitempty" db:"default_assignee_role"`
}

// Transition is a directed edge within a template. ActionName is unique per
// (TemplateID, FromStageID). A nil ToStageID completes the process. Automatic
// transitions are applied by the engine itself without an acting user, gated
// by the optional guard expression.
type Transition struct {
	ID          int64   `json:"id" db:"id"`
	TemplateID  int64   `json:"template_id" db:"template_id"`
	FromStageID int64   `json:"from_stage_id" db:"from_stage_id"`
	ToStageID   *int64  `json:"to_stage_id,omitempty" db:"to_stage_id"`
	ActionName  string  `json:"action_name" db:"action_name"`
	IsAutomatic bool    `json:"is_automatic" db:"is_automatic"`
	GuardExpr   *string `json:"guard_expr,omitempty" db:"guard_expr"`
}

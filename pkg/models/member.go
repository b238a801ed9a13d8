package models

import "time"

// User is the minimal slice of the account model the engine needs for
// assignee and actor name hydration.
type User struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// ProjectMember links a user to a project under a role ("architect",
// "engineer", "gc_pm", ...). Assignment resolution orders candidates by
// JoinedAt so the pick is deterministic.
type ProjectMember struct {
	ProjectID int64     `json:"project_id" db:"project_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Role      string    `json:"role" db:"role"`
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}

package service

import (
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/storage"
	"github.com/pkg/errors"
)

// resolveAssignee maps a stage to a responsible user via the stage's default
// role against the instance's project membership. Candidates are ordered by
// join date, earliest first, so the pick is deterministic. No configured role
// or no candidate yields nil: an unassigned instance stays actionable by any
// authorized actor on the project.
func resolveAssignee(store storage.Store, stage models.Stage, inst models.Instance) (*int64, error) {
	if stage.DefaultAssigneeRole == nil || *stage.DefaultAssigneeRole == "" {
		return nil, nil
	}
	members, err := store.ListProjectMembers(inst.ProjectID, *stage.DefaultAssigneeRole)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve assignee for stage %q", stage.Name)
	}
	if len(members) == 0 {
		return nil, nil
	}
	userID := members[0].UserID
	return &userID, nil
}

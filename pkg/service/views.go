package service

import (
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/storage"
	"github.com/pkg/errors"
)

// Name hydration is a read-time projection over the core state machine:
// template and stage names come from the in-memory graphs, user names from
// storage. The engine's state never depends on anything in this file.

func (s *WorkflowService) hydrateInstance(store storage.Store, inst models.Instance) (models.InstanceView, error) {
	graph, err := s.registry.TemplateByID(inst.TemplateID)
	if err != nil {
		return models.InstanceView{}, err
	}
	view := models.InstanceView{
		ID:           inst.ID,
		TemplateName: graph.Template.Name,
		EntityType:   inst.EntityType,
		EntityID:     inst.EntityID,
		ProjectID:    inst.ProjectID,
		Status:       inst.Status,
		AssigneeID:   inst.AssigneeID,
		CreatedAt:    inst.CreatedAt,
		UpdatedAt:    inst.UpdatedAt,
	}
	if inst.CurrentStageID != nil {
		if stage, ok := graph.Stage(*inst.CurrentStageID); ok {
			view.CurrentStageName = stage.Name
		}
	}
	if inst.AssigneeID != nil {
		name, err := s.userName(store, *inst.AssigneeID)
		if err != nil {
			return models.InstanceView{}, err
		}
		view.AssigneeName = name
	}
	return view, nil
}

func (s *WorkflowService) hydrateInstances(instances []models.Instance) ([]models.InstanceView, error) {
	views := make([]models.InstanceView, 0, len(instances))
	for _, inst := range instances {
		view, err := s.hydrateInstance(s.store, inst)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *WorkflowService) hydrateHistoryEntry(store storage.Store, graph *TemplateGraph, h models.HistoryEntry) (models.HistoryEntryView, error) {
	view := models.HistoryEntryView{
		ActionType: h.ActionType,
		ActorID:    h.ActorID,
		Comment:    h.Comment,
		CreatedAt:  h.CreatedAt,
	}
	if h.FromStageID != nil {
		if stage, ok := graph.Stage(*h.FromStageID); ok {
			view.FromStageName = stage.Name
		}
	}
	if h.ToStageID != nil {
		if stage, ok := graph.Stage(*h.ToStageID); ok {
			view.ToStageName = stage.Name
		}
	}
	if h.ActorID != nil {
		name, err := s.userName(store, *h.ActorID)
		if err != nil {
			return models.HistoryEntryView{}, err
		}
		view.ActorName = name
	}
	return view, nil
}

// userName resolves a user's display name, tolerating rows that reference a
// user the account system has since removed.
func (s *WorkflowService) userName(store storage.Store, userID int64) (string, error) {
	u, err := store.GetUser(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

package service

import (
	"time"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for WorkflowService
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// WorkflowService is the template-driven workflow lifecycle engine. It drives
// multi-stage approval processes (submittal review, drawing distribution and
// the like) for arbitrary entity types: the process logic lives entirely in
// the template graphs, never in code.
//
// Every mutating operation runs inside a single storage transaction; a
// rejected operation leaves durable state untouched.
type WorkflowService struct {
	store    storage.Store
	registry *TemplateRegistry
	logger   Logger
}

// NewWorkflowService loads the template registry from store and returns the
// engine. The registry is read once and shared; template changes require a
// restart (or a new service) by design of the configuration model.
func NewWorkflowService(store storage.Store, logger Logger) (*WorkflowService, error) {
	registry, err := LoadTemplateRegistry(store)
	if err != nil {
		return nil, errors.Wrap(err, "load template registry")
	}
	return &WorkflowService{
		store:    store,
		registry: registry,
		logger:   logger,
	}, nil
}

// Registry exposes the loaded template registry for read-only consumers.
func (s *WorkflowService) Registry() *TemplateRegistry {
	return s.registry
}

// Start creates a new process instance for a business entity at its
// template's initial stage, records the start history entry and follows any
// automatic transitions. An entity with an active instance yields
// storage.ErrConflict; the partial unique index closes the race window
// between two concurrent starts.
func (s *WorkflowService) Start(entityType string, entityID, projectID, actorID int64) (view models.InstanceView, err error) {
	graph, err := s.registry.ResolveTemplate(entityType)
	if err != nil {
		return models.InstanceView{}, err
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return models.InstanceView{}, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if _, lookupErr := txStore.GetActiveInstanceByEntity(entityType, entityID); lookupErr == nil {
		return models.InstanceView{}, errors.Wrapf(storage.ErrConflict,
			"entity %s/%d already has an active workflow", entityType, entityID)
	} else if !errors.Is(lookupErr, storage.ErrNotFound) {
		return models.InstanceView{}, lookupErr
	}

	now := time.Now()
	initialID := graph.Initial.ID
	inst := models.Instance{
		TemplateID:     graph.Template.ID,
		EntityType:     entityType,
		EntityID:       entityID,
		ProjectID:      projectID,
		CurrentStageID: &initialID,
		Status:         models.ActiveInstanceStatus,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inst.AssigneeID, err = resolveAssignee(txStore, graph.Initial, inst)
	if err != nil {
		return models.InstanceView{}, err
	}

	inst.ID, err = txStore.SaveInstance(inst)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return models.InstanceView{}, errors.Wrapf(storage.ErrConflict,
				"entity %s/%d already has an active workflow", entityType, entityID)
		}
		return models.InstanceView{}, err
	}

	actor := actorID
	if _, err = txStore.SaveHistoryEntry(models.HistoryEntry{
		InstanceID: inst.ID,
		ActionType: models.StartAction,
		ActorID:    &actor,
		ToStageID:  &initialID,
		CreatedAt:  now,
	}); err != nil {
		return models.InstanceView{}, err
	}

	inst, err = s.cascade(txStore, graph, inst)
	if err != nil {
		return models.InstanceView{}, err
	}

	s.logger.Infof("Started workflow %q for %s/%d as instance %d", graph.Template.Name, entityType, entityID, inst.ID)
	return s.hydrateInstance(txStore, inst)
}

// Transition advances an instance along the template edge registered for
// actionName from its current stage, then follows any automatic transitions.
// The instance update is conditional on the version the instance was read
// with, so of two racing calls exactly one succeeds and the loser sees
// storage.ErrConflict.
func (s *WorkflowService) Transition(instanceID int64, actionName string, actorID int64, comment string) (view models.InstanceView, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.InstanceView{}, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	inst, err := txStore.GetInstance(instanceID)
	if err != nil {
		return models.InstanceView{}, err
	}
	if inst.Terminal() {
		return models.InstanceView{}, errors.Wrapf(ErrInvalidState,
			"instance %d is %s", instanceID, inst.Status)
	}
	graph, err := s.registry.TemplateByID(inst.TemplateID)
	if err != nil {
		return models.InstanceView{}, err
	}

	actor := actorID
	inst, err = s.apply(txStore, graph, inst, actionName, &actor, comment)
	if err != nil {
		return models.InstanceView{}, err
	}

	inst, err = s.cascade(txStore, graph, inst)
	if err != nil {
		return models.InstanceView{}, err
	}

	s.logger.Infof("Applied action %q on instance %d, now %s", actionName, inst.ID, inst.Status)
	return s.hydrateInstance(txStore, inst)
}

// apply performs one transition step: edge lookup, stage/status computation,
// assignee re-resolution, the conditional instance update and the history
// append. Manual steps and automatic hops go through this same path; the
// only difference is a nil actor on automatic hops.
func (s *WorkflowService) apply(txStore storage.Store, graph *TemplateGraph, inst models.Instance, actionName string, actorID *int64, comment string) (models.Instance, error) {
	if inst.CurrentStageID == nil {
		return models.Instance{}, errors.Wrapf(ErrNoSuchTransition,
			"instance %d has no current stage", inst.ID)
	}
	tr, ok := graph.TransitionFrom(*inst.CurrentStageID, actionName)
	if !ok {
		return models.Instance{}, errors.Wrapf(ErrNoSuchTransition,
			"no action %q from current stage of instance %d", actionName, inst.ID)
	}

	fromStageID := *inst.CurrentStageID
	expectedVersion := inst.Version

	inst.CurrentStageID = tr.ToStageID
	if tr.ToStageID == nil {
		inst.Status = models.CompletedInstanceStatus
		inst.AssigneeID = nil
	} else {
		target, ok := graph.Stage(*tr.ToStageID)
		if !ok {
			return models.Instance{}, errors.Wrapf(ErrNoSuchTransition,
				"action %q targets a stage outside instance %d's template", actionName, inst.ID)
		}
		if target.IsTerminal {
			inst.Status = models.CompletedInstanceStatus
			inst.AssigneeID = nil
		} else {
			assignee, err := resolveAssignee(txStore, target, inst)
			if err != nil {
				return models.Instance{}, err
			}
			inst.AssigneeID = assignee
		}
	}

	if err := txStore.UpdateInstance(&inst, expectedVersion); err != nil {
		return models.Instance{}, err
	}

	if _, err := txStore.SaveHistoryEntry(models.HistoryEntry{
		InstanceID:  inst.ID,
		ActionType:  actionName,
		ActorID:     actorID,
		FromStageID: &fromStageID,
		ToStageID:   tr.ToStageID,
		Comment:     comment,
		CreatedAt:   time.Now(),
	}); err != nil {
		return models.Instance{}, err
	}
	return inst, nil
}

// cascade follows automatic transitions while the instance stays active and
// its current stage has exactly one automatic edge whose guard passes. Hops
// are bounded by the template's stage count; exceeding the bound aborts the
// whole enclosing transaction with ErrProcess rather than looping on a
// miswired template.
func (s *WorkflowService) cascade(txStore storage.Store, graph *TemplateGraph, inst models.Instance) (models.Instance, error) {
	bound := graph.StageCount()
	hops := 0
	for inst.Status == models.ActiveInstanceStatus && inst.CurrentStageID != nil {
		candidates := graph.AutomaticFrom(*inst.CurrentStageID, inst)
		if len(candidates) != 1 {
			break
		}
		if hops >= bound {
			return models.Instance{}, errors.Wrapf(ErrProcess,
				"template %q: more than %d automatic hops on instance %d", graph.Template.Name, bound, inst.ID)
		}
		hops++

		var err error
		inst, err = s.apply(txStore, graph, inst, candidates[0].ActionName, nil, "")
		if err != nil {
			return models.Instance{}, err
		}
	}
	return inst, nil
}

// ForceCancel terminates an active instance without consulting the template's
// transition table. This is a privileged administrative escape hatch for
// wedged processes; callers are expected to have checked authorization, and
// the cancellation is audited in the ledger like any other transition, with
// the reason as its comment. Templates that want a normal, reviewable cancel
// path declare a "cancel" edge instead.
func (s *WorkflowService) ForceCancel(instanceID int64, actorID int64, reason string) (view models.InstanceView, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.InstanceView{}, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	inst, err := txStore.GetInstance(instanceID)
	if err != nil {
		return models.InstanceView{}, err
	}
	if inst.Terminal() {
		return models.InstanceView{}, errors.Wrapf(ErrInvalidState,
			"instance %d is %s", instanceID, inst.Status)
	}

	fromStageID := inst.CurrentStageID
	expectedVersion := inst.Version
	inst.Status = models.CancelledInstanceStatus
	inst.AssigneeID = nil
	if err = txStore.UpdateInstance(&inst, expectedVersion); err != nil {
		return models.InstanceView{}, err
	}

	actor := actorID
	if _, err = txStore.SaveHistoryEntry(models.HistoryEntry{
		InstanceID:  inst.ID,
		ActionType:  models.CancelAction,
		ActorID:     &actor,
		FromStageID: fromStageID,
		ToStageID:   inst.CurrentStageID,
		Comment:     reason,
		CreatedAt:   time.Now(),
	}); err != nil {
		return models.InstanceView{}, err
	}

	s.logger.Infof("Force-cancelled instance %d by user %d", inst.ID, actorID)
	return s.hydrateInstance(txStore, inst)
}

// GetWorkflowForEntity returns the view of the entity's active instance,
// falling back to its most recently created terminal instance. A nil view
// with a nil error means the entity has no workflow at all.
func (s *WorkflowService) GetWorkflowForEntity(entityType string, entityID int64) (*models.InstanceView, error) {
	inst, err := s.store.GetActiveInstanceByEntity(entityType, entityID)
	if errors.Is(err, storage.ErrNotFound) {
		inst, err = s.store.GetLatestInstanceByEntity(entityType, entityID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, err
	}
	view, err := s.hydrateInstance(s.store, inst)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// GetWorkflowHistory returns every ledger entry of an instance in
// chronological order, hydrated with actor and stage names.
func (s *WorkflowService) GetWorkflowHistory(instanceID int64) ([]models.HistoryEntryView, error) {
	inst, err := s.store.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}
	graph, err := s.registry.TemplateByID(inst.TemplateID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListHistory(instanceID)
	if err != nil {
		return nil, err
	}
	views := make([]models.HistoryEntryView, 0, len(entries))
	for _, h := range entries {
		view, err := s.hydrateHistoryEntry(s.store, graph, h)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetUserTasks returns the active instances assigned to a user across all
// projects: the actor's personal work queue.
func (s *WorkflowService) GetUserTasks(userID int64) ([]models.InstanceView, error) {
	instances, err := s.store.ListInstancesByAssignee(userID)
	if err != nil {
		return nil, err
	}
	return s.hydrateInstances(instances)
}

// GetProjectWorkflows returns every instance of any status scoped to a
// project, for dashboards.
func (s *WorkflowService) GetProjectWorkflows(projectID int64) ([]models.InstanceView, error) {
	instances, err := s.store.ListInstancesByProject(projectID)
	if err != nil {
		return nil, err
	}
	return s.hydrateInstances(instances)
}

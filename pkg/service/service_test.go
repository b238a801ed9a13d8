package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/service"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{})  {}
func (l logger) Errorf(format string, args ...interface{}) {}

func ptr(v int64) *int64 { return &v }

// seedSubmittalReview registers the stock submittal process:
// Submitted(initial) -> UnderReview -> Approved(terminal) | Rejected(terminal),
// with an automatic hop out of Submitted.
func seedSubmittalReview(store *storage.MockStore) {
	architect := "architect"
	store.SeedTemplate(
		models.Template{ID: 1, Name: "submittal_review", EntityType: "submittal"},
		[]models.Stage{
			{ID: 10, Name: "Submitted", IsInitial: true},
			{ID: 11, Name: "UnderReview", DefaultAssigneeRole: &architect},
			{ID: 12, Name: "Approved", IsTerminal: true},
			{ID: 13, Name: "Rejected", IsTerminal: true},
		},
		[]models.Transition{
			{ID: 101, FromStageID: 10, ToStageID: ptr(11), ActionName: "submit_for_review", IsAutomatic: true},
			{ID: 102, FromStageID: 11, ToStageID: ptr(12), ActionName: "approve"},
			{ID: 103, FromStageID: 11, ToStageID: ptr(13), ActionName: "reject"},
		},
	)
	store.SeedUser(models.User{ID: 7, Name: "Ada"})
	store.SeedUser(models.User{ID: 8, Name: "Grace"})
	store.SeedMember(models.ProjectMember{ProjectID: 100, UserID: 7, Role: architect, JoinedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	store.SeedMember(models.ProjectMember{ProjectID: 100, UserID: 8, Role: architect, JoinedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
}

func newService(t *testing.T, store *storage.MockStore) *service.WorkflowService {
	svc, err := service.NewWorkflowService(store, logger{})
	assert.NoError(t, err)
	return svc
}

func TestStart(t *testing.T) {
	t.Run("CascadesToUnderReview", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		view, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
		assert.Equal(t, "submittal_review", view.TemplateName)
		assert.Equal(t, "UnderReview", view.CurrentStageName)
		assert.Equal(t, models.ActiveInstanceStatus, view.Status)
		// Earliest-joined architect wins the assignment.
		assert.Equal(t, int64(7), *view.AssigneeID)
		assert.Equal(t, "Ada", view.AssigneeName)

		history, err := svc.GetWorkflowHistory(view.ID)
		assert.NoError(t, err)
		assert.Len(t, history, 2)
		assert.Equal(t, "start", history[0].ActionType)
		assert.Equal(t, "", history[0].FromStageName)
		assert.Equal(t, "Submitted", history[0].ToStageName)
		assert.Equal(t, "submit_for_review", history[1].ActionType)
		assert.Equal(t, "Submitted", history[1].FromStageName)
		assert.Equal(t, "UnderReview", history[1].ToStageName)
		// The automatic hop is a system action.
		assert.Nil(t, history[1].ActorID)
	})

	t.Run("SecondStartConflicts", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		_, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
		_, err = svc.Start("submittal", 42, 100, 8)
		assert.ErrorIs(t, err, storage.ErrConflict)

		workflows, err := svc.GetProjectWorkflows(100)
		assert.NoError(t, err)
		assert.Len(t, workflows, 1)
	})

	t.Run("UnknownEntityType", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		_, err := svc.Start("daily_log", 1, 100, 7)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("RestartAfterCompletion", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		first, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
		_, err = svc.Transition(first.ID, "reject", 7, "resubmit with stamps")
		assert.NoError(t, err)

		second, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})
}

func TestTransition(t *testing.T) {
	t.Run("ApproveCompletes", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		view, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)

		view, err = svc.Transition(view.ID, "approve", 8, "ok")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedInstanceStatus, view.Status)
		assert.Equal(t, "Approved", view.CurrentStageName)
		assert.Nil(t, view.AssigneeID)

		history, err := svc.GetWorkflowHistory(view.ID)
		assert.NoError(t, err)
		assert.Len(t, history, 3)
		assert.Equal(t, "approve", history[2].ActionType)
		assert.Equal(t, "Grace", history[2].ActorName)
		assert.Equal(t, "ok", history[2].Comment)
	})

	t.Run("UnknownAction", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		view, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)

		_, err = svc.Transition(view.ID, "escalate", 8, "")
		assert.ErrorIs(t, err, service.ErrNoSuchTransition)

		// Rejected operations leave the instance untouched.
		after, err := svc.GetWorkflowForEntity("submittal", 42)
		assert.NoError(t, err)
		assert.Equal(t, "UnderReview", after.CurrentStageName)
		assert.Equal(t, models.ActiveInstanceStatus, after.Status)
		history, err := svc.GetWorkflowHistory(view.ID)
		assert.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("CompletedInstanceRejectsAnyAction", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		view, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
		_, err = svc.Transition(view.ID, "approve", 8, "")
		assert.NoError(t, err)

		for _, action := range []string{"approve", "reject", "submit_for_review"} {
			_, err = svc.Transition(view.ID, action, 8, "")
			assert.ErrorIs(t, err, service.ErrInvalidState)
		}
	})

	t.Run("UnknownInstance", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		_, err := svc.Transition(999, "approve", 8, "")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestForceCancel(t *testing.T) {
	t.Run("CancelsAndAudits", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		view, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)

		view, err = svc.ForceCancel(view.ID, 8, "superseded by revised submittal")
		assert.NoError(t, err)
		assert.Equal(t, models.CancelledInstanceStatus, view.Status)
		assert.Nil(t, view.AssigneeID)

		history, err := svc.GetWorkflowHistory(view.ID)
		assert.NoError(t, err)
		assert.Len(t, history, 3)
		assert.Equal(t, "cancel", history[2].ActionType)
		assert.Equal(t, "Grace", history[2].ActorName)
		assert.Equal(t, "superseded by revised submittal", history[2].Comment)

		// Cancelled is terminal.
		_, err = svc.Transition(view.ID, "approve", 8, "")
		assert.ErrorIs(t, err, service.ErrInvalidState)
		_, err = svc.ForceCancel(view.ID, 8, "")
		assert.ErrorIs(t, err, service.ErrInvalidState)
	})

	t.Run("FreesEntityForRestart", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		first, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
		_, err = svc.ForceCancel(first.ID, 7, "wrong project")
		assert.NoError(t, err)

		_, err = svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
	})
}

func TestCascade(t *testing.T) {
	t.Run("ChainedAutomaticHops", func(t *testing.T) {
		store := storage.NewMockStore()
		// Intake -> Triage -> Review, both hops automatic.
		store.SeedTemplate(
			models.Template{ID: 1, Name: "rfi_routing", EntityType: "rfi"},
			[]models.Stage{
				{ID: 20, Name: "Intake", IsInitial: true},
				{ID: 21, Name: "Triage"},
				{ID: 22, Name: "Review"},
				{ID: 23, Name: "Answered", IsTerminal: true},
			},
			[]models.Transition{
				{ID: 201, FromStageID: 20, ToStageID: ptr(21), ActionName: "triage", IsAutomatic: true},
				{ID: 202, FromStageID: 21, ToStageID: ptr(22), ActionName: "route", IsAutomatic: true},
				{ID: 203, FromStageID: 22, ToStageID: ptr(23), ActionName: "answer"},
			},
		)
		svc := newService(t, store)

		view, err := svc.Start("rfi", 5, 200, 7)
		assert.NoError(t, err)
		assert.Equal(t, "Review", view.CurrentStageName)

		// start + 2 automatic hops
		history, err := svc.GetWorkflowHistory(view.ID)
		assert.NoError(t, err)
		assert.Len(t, history, 3)

		// The recorded pairs form a connected path.
		assert.Equal(t, history[0].ToStageName, history[1].FromStageName)
		assert.Equal(t, history[1].ToStageName, history[2].FromStageName)
	})

	t.Run("GuardBlocksAutomaticHop", func(t *testing.T) {
		store := storage.NewMockStore()
		guard := "assignee != none"
		store.SeedTemplate(
			models.Template{ID: 1, Name: "guarded", EntityType: "rfi"},
			[]models.Stage{
				{ID: 20, Name: "Intake", IsInitial: true},
				{ID: 21, Name: "Routed"},
			},
			[]models.Transition{
				{ID: 201, FromStageID: 20, ToStageID: ptr(21), ActionName: "route", IsAutomatic: true, GuardExpr: &guard},
			},
		)
		svc := newService(t, store)

		// No membership seeded, so the instance starts unassigned and the
		// guard holds the cascade back.
		view, err := svc.Start("rfi", 5, 200, 7)
		assert.NoError(t, err)
		assert.Equal(t, "Intake", view.CurrentStageName)
		history, err := svc.GetWorkflowHistory(view.ID)
		assert.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("AutomaticCycleAborts", func(t *testing.T) {
		store := storage.NewMockStore()
		// Ping <-> Pong, both automatic: a misconfigured template.
		store.SeedTemplate(
			models.Template{ID: 1, Name: "cyclic", EntityType: "rfi"},
			[]models.Stage{
				{ID: 20, Name: "Ping", IsInitial: true},
				{ID: 21, Name: "Pong"},
			},
			[]models.Transition{
				{ID: 201, FromStageID: 20, ToStageID: ptr(21), ActionName: "ping", IsAutomatic: true},
				{ID: 202, FromStageID: 21, ToStageID: ptr(20), ActionName: "pong", IsAutomatic: true},
			},
		)
		svc := newService(t, store)

		_, err := svc.Start("rfi", 5, 200, 7)
		assert.ErrorIs(t, err, service.ErrProcess)

		// The aborted start rolls back whole: no instance survives, and the
		// entity is not wedged behind leftover state.
		_, err = store.GetActiveInstanceByEntity("rfi", 5)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetLatestInstanceByEntity("rfi", 5)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = svc.Start("rfi", 5, 200, 7)
		assert.ErrorIs(t, err, service.ErrProcess)
	})

	t.Run("CompletionThroughNullTarget", func(t *testing.T) {
		store := storage.NewMockStore()
		store.SeedTemplate(
			models.Template{ID: 1, Name: "ack_only", EntityType: "photo"},
			[]models.Stage{
				{ID: 30, Name: "Pending", IsInitial: true},
			},
			[]models.Transition{
				// No target stage: the edge completes the process.
				{ID: 301, FromStageID: 30, ActionName: "acknowledge"},
			},
		)
		svc := newService(t, store)

		view, err := svc.Start("photo", 9, 300, 7)
		assert.NoError(t, err)
		view, err = svc.Transition(view.ID, "acknowledge", 7, "")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedInstanceStatus, view.Status)
		assert.Equal(t, "", view.CurrentStageName)
	})
}

func TestHistoryReplay(t *testing.T) {
	store := storage.NewMockStore()
	seedSubmittalReview(store)
	svc := newService(t, store)

	view, err := svc.Start("submittal", 42, 100, 7)
	assert.NoError(t, err)
	view, err = svc.Transition(view.ID, "approve", 8, "ok")
	assert.NoError(t, err)

	entries, err := store.ListHistory(view.ID)
	assert.NoError(t, err)

	// Replaying the recorded (from, to) pairs in creation order reproduces
	// the instance's final stage.
	inst, err := store.GetInstance(view.ID)
	assert.NoError(t, err)
	var current *int64
	for _, e := range entries {
		if e.FromStageID != nil {
			assert.Equal(t, *e.FromStageID, *current)
		}
		current = e.ToStageID
	}
	assert.Equal(t, *inst.CurrentStageID, *current)
}

// barrierStore holds every GetInstance call until all expected readers have
// read, forcing two transitions to observe the same instance version.
type barrierStore struct {
	*storage.MockStore
	barrier *sync.WaitGroup
}

func (b *barrierStore) Begin() (storage.Store, error) { return b, nil }

func (b *barrierStore) GetInstance(id int64) (models.Instance, error) {
	inst, err := b.MockStore.GetInstance(id)
	b.barrier.Done()
	b.barrier.Wait()
	return inst, err
}

func TestConcurrentTransitions(t *testing.T) {
	mock := storage.NewMockStore()
	seedSubmittalReview(mock)
	svc := newService(t, mock)

	view, err := svc.Start("submittal", 42, 100, 7)
	assert.NoError(t, err)

	var barrier sync.WaitGroup
	barrier.Add(2)
	wrapped := &barrierStore{MockStore: mock, barrier: &barrier}
	racingSvc, err := service.NewWorkflowService(wrapped, logger{})
	assert.NoError(t, err)

	results := make(chan error, 2)
	go func() {
		_, err := racingSvc.Transition(view.ID, "approve", 7, "")
		results <- err
	}()
	go func() {
		_, err := racingSvc.Transition(view.ID, "reject", 8, "")
		results <- err
	}()

	err1, err2 := <-results, <-results
	// Exactly one wins; the loser observes the version conflict.
	if err1 == nil {
		assert.ErrorIs(t, err2, storage.ErrConflict)
	} else {
		assert.NoError(t, err2)
		assert.ErrorIs(t, err1, storage.ErrConflict)
	}

	inst, err := mock.GetInstance(view.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.CompletedInstanceStatus, inst.Status)
	history, err := mock.ListHistory(view.ID)
	assert.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestQueries(t *testing.T) {
	t.Run("GetWorkflowForEntity", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		none, err := svc.GetWorkflowForEntity("submittal", 42)
		assert.NoError(t, err)
		assert.Nil(t, none)

		view, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
		active, err := svc.GetWorkflowForEntity("submittal", 42)
		assert.NoError(t, err)
		assert.Equal(t, view.ID, active.ID)

		// After completion the terminal instance is still reported.
		_, err = svc.Transition(view.ID, "approve", 8, "")
		assert.NoError(t, err)
		terminal, err := svc.GetWorkflowForEntity("submittal", 42)
		assert.NoError(t, err)
		assert.Equal(t, view.ID, terminal.ID)
		assert.Equal(t, models.CompletedInstanceStatus, terminal.Status)
	})

	t.Run("GetUserTasks", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		first, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
		_, err = svc.Start("submittal", 43, 100, 7)
		assert.NoError(t, err)

		tasks, err := svc.GetUserTasks(7)
		assert.NoError(t, err)
		assert.Len(t, tasks, 2)
		for _, task := range tasks {
			assert.Equal(t, "UnderReview", task.CurrentStageName)
			assert.Equal(t, "Ada", task.AssigneeName)
		}

		// Completion drops the instance from the work queue.
		_, err = svc.Transition(first.ID, "approve", 7, "")
		assert.NoError(t, err)
		tasks, err = svc.GetUserTasks(7)
		assert.NoError(t, err)
		assert.Len(t, tasks, 1)

		tasks, err = svc.GetUserTasks(8)
		assert.NoError(t, err)
		assert.Len(t, tasks, 0)
	})

	t.Run("GetProjectWorkflows", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		first, err := svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)
		_, err = svc.Transition(first.ID, "reject", 8, "")
		assert.NoError(t, err)
		_, err = svc.Start("submittal", 42, 100, 7)
		assert.NoError(t, err)

		workflows, err := svc.GetProjectWorkflows(100)
		assert.NoError(t, err)
		assert.Len(t, workflows, 2)

		workflows, err = svc.GetProjectWorkflows(999)
		assert.NoError(t, err)
		assert.Len(t, workflows, 0)
	})

	t.Run("HistoryForUnknownInstance", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		_, err := svc.GetWorkflowHistory(999)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestAssignmentResolution(t *testing.T) {
	t.Run("NoRoleConfigured", func(t *testing.T) {
		store := storage.NewMockStore()
		store.SeedTemplate(
			models.Template{ID: 1, Name: "plain", EntityType: "punch_item"},
			[]models.Stage{
				{ID: 40, Name: "Open", IsInitial: true},
				{ID: 41, Name: "Closed", IsTerminal: true},
			},
			[]models.Transition{
				{ID: 401, FromStageID: 40, ToStageID: ptr(41), ActionName: "close"},
			},
		)
		svc := newService(t, store)

		view, err := svc.Start("punch_item", 3, 100, 7)
		assert.NoError(t, err)
		assert.Nil(t, view.AssigneeID)
		assert.Equal(t, "", view.AssigneeName)
	})

	t.Run("NoCandidateInProject", func(t *testing.T) {
		store := storage.NewMockStore()
		seedSubmittalReview(store)
		svc := newService(t, store)

		// Project 999 has no architects; unassigned is not an error.
		view, err := svc.Start("submittal", 42, 999, 7)
		assert.NoError(t, err)
		assert.Equal(t, "UnderReview", view.CurrentStageName)
		assert.Nil(t, view.AssigneeID)
	})
}

func TestRegistryValidation(t *testing.T) {
	t.Run("NoInitialStage", func(t *testing.T) {
		store := storage.NewMockStore()
		store.SeedTemplate(
			models.Template{ID: 1, Name: "broken", EntityType: "submittal"},
			[]models.Stage{{ID: 10, Name: "Somewhere"}},
			nil,
		)
		_, err := service.NewWorkflowService(store, logger{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no initial stage")
	})

	t.Run("TwoInitialStages", func(t *testing.T) {
		store := storage.NewMockStore()
		store.SeedTemplate(
			models.Template{ID: 1, Name: "broken", EntityType: "submittal"},
			[]models.Stage{
				{ID: 10, Name: "A", IsInitial: true},
				{ID: 11, Name: "B", IsInitial: true},
			},
			nil,
		)
		_, err := service.NewWorkflowService(store, logger{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "more than one initial stage")
	})

	t.Run("DuplicateAction", func(t *testing.T) {
		store := storage.NewMockStore()
		store.SeedTemplate(
			models.Template{ID: 1, Name: "broken", EntityType: "submittal"},
			[]models.Stage{
				{ID: 10, Name: "A", IsInitial: true},
				{ID: 11, Name: "B"},
			},
			[]models.Transition{
				{ID: 101, FromStageID: 10, ToStageID: ptr(11), ActionName: "go"},
				{ID: 102, FromStageID: 10, ToStageID: ptr(11), ActionName: "go"},
			},
		)
		_, err := service.NewWorkflowService(store, logger{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate action")
	})

	t.Run("DanglingEdge", func(t *testing.T) {
		store := storage.NewMockStore()
		store.SeedTemplate(
			models.Template{ID: 1, Name: "broken", EntityType: "submittal"},
			[]models.Stage{{ID: 10, Name: "A", IsInitial: true}},
			[]models.Transition{
				{ID: 101, FromStageID: 10, ToStageID: ptr(99), ActionName: "go"},
			},
		)
		_, err := service.NewWorkflowService(store, logger{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown stage")
	})

	t.Run("MalformedGuard", func(t *testing.T) {
		store := storage.NewMockStore()
		guard := "assignee is nobody"
		store.SeedTemplate(
			models.Template{ID: 1, Name: "broken", EntityType: "submittal"},
			[]models.Stage{
				{ID: 10, Name: "A", IsInitial: true},
				{ID: 11, Name: "B"},
			},
			[]models.Transition{
				{ID: 101, FromStageID: 10, ToStageID: ptr(11), ActionName: "go", GuardExpr: &guard},
			},
		)
		_, err := service.NewWorkflowService(store, logger{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "malformed guard")
	})
}

// Keeps errors.Cause usable on wrapped sentinels alongside errors.Is.
func TestErrorWrapping(t *testing.T) {
	store := storage.NewMockStore()
	seedSubmittalReview(store)
	svc := newService(t, store)

	_, err := svc.Start("unknown_type", 1, 100, 7)
	assert.Equal(t, storage.ErrNotFound, errors.Cause(err))
}

package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
)

// MockStore implements Store with in-memory storage. It enforces the same
// constraints the Postgres schema does: at most one active instance per
// (entityType, entityID) and a version check on every instance update, so
// engine unit tests exercise the real conflict paths.
type MockStore struct {
	mu          sync.Mutex
	templates   []models.Template
	stages      []models.Stage
	transitions []models.Transition
	instances   []models.Instance
	history     []models.HistoryEntry
	members     []models.ProjectMember
	users       []models.User
	nextID      int64
}

func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

// Begin returns a transaction handle layered over the shared state. Writes
// apply immediately but are recorded in an undo journal, so Rollback reverses
// them and a failed operation leaves no durable trace. Commit and Rollback on
// the root handle are no-ops, matching the Postgres store.
func (m *MockStore) Begin() (Store, error) { return &mockTx{MockStore: m}, nil }
func (m *MockStore) Commit() error         { return nil }
func (m *MockStore) Rollback() error       { return nil }
func (m *MockStore) Close() error          { return nil }

type mockTx struct {
	*MockStore
	undo []func()
}

func (t *mockTx) Begin() (Store, error) { return t, nil }

func (t *mockTx) Commit() error {
	t.undo = nil
	return nil
}

// Rollback applies the undo journal in reverse under the store lock.
func (t *mockTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	return nil
}

func (t *mockTx) SaveInstance(inst models.Instance) (int64, error) {
	id, err := t.MockStore.SaveInstance(inst)
	if err != nil {
		return 0, err
	}
	m := t.MockStore
	t.undo = append(t.undo, func() {
		for i := range m.instances {
			if m.instances[i].ID == id {
				m.instances = append(m.instances[:i], m.instances[i+1:]...)
				return
			}
		}
	})
	return id, nil
}

func (t *mockTx) UpdateInstance(inst *models.Instance, expectedVersion int64) error {
	m := t.MockStore
	m.mu.Lock()
	defer m.mu.Unlock()
	prior, err := m.updateInstanceLocked(inst, expectedVersion)
	if err != nil {
		return err
	}
	id := inst.ID
	t.undo = append(t.undo, func() {
		for i := range m.instances {
			if m.instances[i].ID == id {
				m.instances[i] = prior
				return
			}
		}
	})
	return nil
}

func (t *mockTx) SaveHistoryEntry(h models.HistoryEntry) (int64, error) {
	id, err := t.MockStore.SaveHistoryEntry(h)
	if err != nil {
		return 0, err
	}
	m := t.MockStore
	t.undo = append(t.undo, func() {
		for i := range m.history {
			if m.history[i].ID == id {
				m.history = append(m.history[:i], m.history[i+1:]...)
				return
			}
		}
	})
	return id, nil
}

// SeedTemplate registers a template graph. Callers assign stage IDs up front
// so transitions can reference them; zero IDs are filled in from the store's
// sequence.
func (m *MockStore) SeedTemplate(t models.Template, stages []models.Stage, transitions []models.Transition) models.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.id()
	}
	m.templates = append(m.templates, t)
	for i := range stages {
		if stages[i].ID == 0 {
			stages[i].ID = m.id()
		}
		stages[i].TemplateID = t.ID
		m.stages = append(m.stages, stages[i])
	}
	for i := range transitions {
		if transitions[i].ID == 0 {
			transitions[i].ID = m.id()
		}
		transitions[i].TemplateID = t.ID
		m.transitions = append(m.transitions, transitions[i])
	}
	t.Stages = stages
	t.Transitions = transitions
	return t
}

// SeedMember adds a project membership row.
func (m *MockStore) SeedMember(pm models.ProjectMember) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = append(m.members, pm)
}

// SeedUser adds a user row for name hydration.
func (m *MockStore) SeedUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, u)
}

func (m *MockStore) ListTemplates() ([]models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Template, len(m.templates))
	copy(out, m.templates)
	return out, nil
}

func (m *MockStore) ListStages(templateID int64) ([]models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Stage
	for _, s := range m.stages {
		if s.TemplateID == templateID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MockStore) ListTransitions(templateID int64) ([]models.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transition
	for _, tr := range m.transitions {
		if tr.TemplateID == templateID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *MockStore) SaveInstance(inst models.Instance) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst.Status == models.ActiveInstanceStatus {
		for _, existing := range m.instances {
			if existing.EntityType == inst.EntityType && existing.EntityID == inst.EntityID &&
				existing.Status == models.ActiveInstanceStatus {
				return 0, ErrConflict
			}
		}
	}
	inst.ID = m.id()
	m.instances = append(m.instances, inst)
	return inst.ID, nil
}

func (m *MockStore) GetInstance(id int64) (models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.ID == id {
			return inst, nil
		}
	}
	return models.Instance{}, ErrNotFound
}

func (m *MockStore) UpdateInstance(inst *models.Instance, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.updateInstanceLocked(inst, expectedVersion)
	return err
}

// updateInstanceLocked performs the conditional update and returns the prior
// row so transactional callers can journal it. Caller holds m.mu.
func (m *MockStore) updateInstanceLocked(inst *models.Instance, expectedVersion int64) (models.Instance, error) {
	for i, existing := range m.instances {
		if existing.ID != inst.ID {
			continue
		}
		if existing.Version != expectedVersion {
			return models.Instance{}, ErrConflict
		}
		inst.Version = expectedVersion + 1
		inst.UpdatedAt = time.Now()
		m.instances[i] = *inst
		return existing, nil
	}
	return models.Instance{}, ErrNotFound
}

func (m *MockStore) GetActiveInstanceByEntity(entityType string, entityID int64) (models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.EntityType == entityType && inst.EntityID == entityID &&
			inst.Status == models.ActiveInstanceStatus {
			return inst, nil
		}
	}
	return models.Instance{}, ErrNotFound
}

func (m *MockStore) GetLatestInstanceByEntity(entityType string, entityID int64) (models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Instance
	for i := range m.instances {
		inst := m.instances[i]
		if inst.EntityType != entityType || inst.EntityID != entityID {
			continue
		}
		if latest == nil || inst.CreatedAt.After(latest.CreatedAt) ||
			(inst.CreatedAt.Equal(latest.CreatedAt) && inst.ID > latest.ID) {
			latest = &m.instances[i]
		}
	}
	if latest == nil {
		return models.Instance{}, ErrNotFound
	}
	return *latest, nil
}

func (m *MockStore) ListInstancesByAssignee(userID int64) ([]models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Instance
	for _, inst := range m.instances {
		if inst.Status == models.ActiveInstanceStatus &&
			inst.AssigneeID != nil && *inst.AssigneeID == userID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *MockStore) ListInstancesByProject(projectID int64) ([]models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Instance
	for _, inst := range m.instances {
		if inst.ProjectID == projectID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) SaveHistoryEntry(h models.HistoryEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = m.id()
	m.history = append(m.history, h)
	return h.ID, nil
}

func (m *MockStore) ListHistory(instanceID int64) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.HistoryEntry
	for _, h := range m.history {
		if h.InstanceID == instanceID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockStore) ListProjectMembers(projectID int64, role string) ([]models.ProjectMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProjectMember
	for _, pm := range m.members {
		if pm.ProjectID == projectID && pm.Role == role {
			out = append(out, pm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *MockStore) GetUser(id int64) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

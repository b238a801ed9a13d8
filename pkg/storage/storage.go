package storage

import (
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/pkg/errors"
)

// Storage-level failure sentinels. ErrConflict covers both the partial unique
// index on active instances and a lost optimistic version check.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store defines the storage operations for the workflow engine.
//
// Begin returns a Store scoped to a single transaction; every engine
// operation runs against such a transactional Store and either commits or
// rolls back as a whole.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Template graph, read at registry load time only.
	ListTemplates() ([]models.Template, error)
	ListStages(templateID int64) ([]models.Stage, error)
	ListTransitions(templateID int64) ([]models.Transition, error)

	// Instance operations.
	SaveInstance(inst models.Instance) (int64, error)
	GetInstance(id int64) (models.Instance, error)
	// UpdateInstance persists stage/status/assignee conditionally on
	// expectedVersion and writes the stored Version and UpdatedAt back into
	// inst. It returns ErrConflict when the row's version no longer matches,
	// i.e. a concurrent writer got there first.
	UpdateInstance(inst *models.Instance, expectedVersion int64) error
	GetActiveInstanceByEntity(entityType string, entityID int64) (models.Instance, error)
	GetLatestInstanceByEntity(entityType string, entityID int64) (models.Instance, error)
	ListInstancesByAssignee(userID int64) ([]models.Instance, error)
	ListInstancesByProject(projectID int64) ([]models.Instance, error)

	// History ledger, append-only.
	SaveHistoryEntry(h models.HistoryEntry) (int64, error)
	ListHistory(instanceID int64) ([]models.HistoryEntry, error)

	// Membership lookups backing assignment resolution and name hydration.
	ListProjectMembers(projectID int64, role string) ([]models.ProjectMember, error)
	GetUser(id int64) (models.User, error)
}

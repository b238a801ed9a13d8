package storage

import (
	"database/sql"
	"fmt"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// isUniqueViolation reports whether err is the Postgres unique_violation
// error, raised by the partial unique index on active instances.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *PostgresStore) ListTemplates() ([]models.Template, error) {
	templates := []models.Template{}
	err := s.db.Select(&templates, "SELECT id, name, entity_type FROM workflow_templates ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

func (s *PostgresStore) ListStages(templateID int64) ([]models.Stage, error) {
	stages := []models.Stage{}
	err := s.db.Select(&stages, "SELECT * FROM workflow_stages WHERE template_id = $1 ORDER BY id", templateID)
	if err != nil {
		return nil, fmt.Errorf("list stages for template %d: %w", templateID, err)
	}
	return stages, nil
}

func (s *PostgresStore) ListTransitions(templateID int64) ([]models.Transition, error) {
	transitions := []models.Transition{}
	err := s.db.Select(&transitions, "SELECT * FROM workflow_transitions WHERE template_id = $1 ORDER BY id", templateID)
	if err != nil {
		return nil, fmt.Errorf("list transitions for template %d: %w", templateID, err)
	}
	return transitions, nil
}

// SaveInstance creates a new instance row and returns its ID. A duplicate
// active instance for the same entity trips the partial unique index and is
// surfaced as storage.ErrConflict.
func (s *PostgresStore) SaveInstance(inst models.Instance) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO workflow_instances
			(template_id, entity_type, entity_id, project_id, current_stage_id, status, assignee_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		inst.TemplateID, inst.EntityType, inst.EntityID, inst.ProjectID, inst.CurrentStageID,
		inst.Status, inst.AssigneeID, inst.Version, inst.CreatedAt, inst.UpdatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("save instance: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetInstance(id int64) (models.Instance, error) {
	var inst models.Instance
	err := s.db.Get(&inst, "SELECT * FROM workflow_instances WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Instance{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Instance{}, fmt.Errorf("get instance %d: %w", id, err)
	}
	return inst, nil
}

// UpdateInstance writes stage/status/assignee conditionally on the stored
// version and scans the authoritative version and updated_at back into inst.
// No row matching means a concurrent writer won the race.
func (s *PostgresStore) UpdateInstance(inst *models.Instance, expectedVersion int64) error {
	err := s.db.QueryRowx(`
		UPDATE workflow_instances
		SET current_stage_id = $1, status = $2, assignee_id = $3, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND version = $5
		RETURNING version, updated_at`,
		inst.CurrentStageID, inst.Status, inst.AssigneeID, inst.ID, expectedVersion).
		Scan(&inst.Version, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update instance %d: %w", inst.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetActiveInstanceByEntity(entityType string, entityID int64) (models.Instance, error) {
	var inst models.Instance
	err := s.db.Get(&inst,
		"SELECT * FROM workflow_instances WHERE entity_type = $1 AND entity_id = $2 AND status = 'active'",
		entityType, entityID)
	if err == sql.ErrNoRows {
		return models.Instance{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Instance{}, fmt.Errorf("get active instance for %s/%d: %w", entityType, entityID, err)
	}
	return inst, nil
}

func (s *PostgresStore) GetLatestInstanceByEntity(entityType string, entityID int64) (models.Instance, error) {
	var inst models.Instance
	err := s.db.Get(&inst, `
		SELECT * FROM workflow_instances
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		entityType, entityID)
	if err == sql.ErrNoRows {
		return models.Instance{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Instance{}, fmt.Errorf("get latest instance for %s/%d: %w", entityType, entityID, err)
	}
	return inst, nil
}

func (s *PostgresStore) ListInstancesByAssignee(userID int64) ([]models.Instance, error) {
	instances := []models.Instance{}
	err := s.db.Select(&instances, `
		SELECT * FROM workflow_instances
		WHERE assignee_id = $1 AND status = 'active'
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list instances for assignee %d: %w", userID, err)
	}
	return instances, nil
}

func (s *PostgresStore) ListInstancesByProject(projectID int64) ([]models.Instance, error) {
	instances := []models.Instance{}
	err := s.db.Select(&instances, `
		SELECT * FROM workflow_instances
		WHERE project_id = $1
		ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list instances for project %d: %w", projectID, err)
	}
	return instances, nil
}

// SaveHistoryEntry appends one row to the instance history ledger. The ledger
// has no update or delete path anywhere in this package.
func (s *PostgresStore) SaveHistoryEntry(h models.HistoryEntry) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO workflow_instance_history
			(instance_id, action_type, actor_id, from_stage_id, to_stage_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		h.InstanceID, h.ActionType, h.ActorID, h.FromStageID, h.ToStageID, h.Comment, h.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save history entry: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListHistory(instanceID int64) ([]models.HistoryEntry, error) {
	entries := []models.HistoryEntry{}
	err := s.db.Select(&entries, `
		SELECT * FROM workflow_instance_history
		WHERE instance_id = $1
		ORDER BY created_at ASC, id ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list history for instance %d: %w", instanceID, err)
	}
	return entries, nil
}

func (s *PostgresStore) ListProjectMembers(projectID int64, role string) ([]models.ProjectMember, error) {
	members := []models.ProjectMember{}
	err := s.db.Select(&members, `
		SELECT project_id, user_id, role, joined_at FROM project_members
		WHERE project_id = $1 AND role = $2
		ORDER BY joined_at ASC, user_id ASC`, projectID, role)
	if err != nil {
		return nil, fmt.Errorf("list members for project %d role %s: %w", projectID, role, err)
	}
	return members, nil
}

func (s *PostgresStore) GetUser(id int64) (models.User, error) {
	var u models.User
	err := s.db.Get(&u, "SELECT id, name FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.User{}, storage.ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

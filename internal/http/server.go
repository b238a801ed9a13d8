package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/internal/log"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/service"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/storage"
	"github.com/pkg/errors"
)

// StartServer wires the workflow endpoints onto a mux and serves them.
// Authorization happens in the surrounding API layer; these handlers trust
// the actor IDs they are given.
func StartServer(port string, store storage.Store) error {
	svc, err := service.NewWorkflowService(store, log.GetLogger())
	if err != nil {
		return err
	}
	mux := NewMux(svc)
	log.GetLogger().Infof("Starting workflow server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

// NewMux builds the route table for a workflow service. Exposed separately
// so tests can mount it on httptest.Server.
func NewMux(svc *service.WorkflowService) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/workflows", WorkflowsHandler(svc))
	mux.HandleFunc("/workflows/", WorkflowByIDHandler(svc))
	mux.HandleFunc("/tasks", UserTasksHandler(svc))
	mux.HandleFunc("/projects/", ProjectWorkflowsHandler(svc))
	return mux
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "workflow server is running")
}

// WorkflowsHandler serves POST /workflows (start a workflow for an entity)
// and GET /workflows?entity_type=...&entity_id=... (current workflow of an
// entity).
func WorkflowsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			startWorkflowHTTP(w, r, svc)
		case http.MethodGet:
			workflowForEntityHTTP(w, r, svc)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// WorkflowByIDHandler serves POST /workflows/{id}/transition and
// GET /workflows/{id}/history.
func WorkflowByIDHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "workflows" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		instanceID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			http.Error(w, "Invalid workflow ID", http.StatusBadRequest)
			return
		}
		switch {
		case parts[2] == "transition" && r.Method == http.MethodPost:
			transitionHTTP(w, r, svc, instanceID)
		case parts[2] == "cancel" && r.Method == http.MethodPost:
			cancelHTTP(w, r, svc, instanceID)
		case parts[2] == "history" && r.Method == http.MethodGet:
			historyHTTP(w, svc, instanceID)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}
}

// UserTasksHandler serves GET /tasks?user_id=..., the personal work queue.
func UserTasksHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			http.Error(w, "Missing or invalid 'user_id' parameter", http.StatusBadRequest)
			return
		}
		tasks, err := svc.GetUserTasks(userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

// ProjectWorkflowsHandler serves GET /projects/{id}/workflows, the project
// dashboard listing.
func ProjectWorkflowsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "projects" || parts[2] != "workflows" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		projectID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			http.Error(w, "Invalid project ID", http.StatusBadRequest)
			return
		}
		workflows, err := svc.GetProjectWorkflows(projectID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflows)
	}
}

type startRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
	ProjectID  int64  `json:"project_id"`
	ActorID    int64  `json:"actor_id"`
}

func startWorkflowHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityType == "" {
		http.Error(w, "Missing 'entity_type'", http.StatusBadRequest)
		return
	}
	view, err := svc.Start(req.EntityType, req.EntityID, req.ProjectID, req.ActorID)
	if err != nil {
		log.GetLogger().Errorf("Failed to start workflow for %s/%d: %v", req.EntityType, req.EntityID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

type transitionRequest struct {
	Action  string `json:"action"`
	ActorID int64  `json:"actor_id"`
	Comment string `json:"comment"`
}

func transitionHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService, instanceID int64) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		http.Error(w, "Missing 'action'", http.StatusBadRequest)
		return
	}
	view, err := svc.Transition(instanceID, req.Action, req.ActorID, req.Comment)
	if err != nil {
		log.GetLogger().Errorf("Failed to apply %q on instance %d: %v", req.Action, instanceID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type cancelRequest struct {
	ActorID int64  `json:"actor_id"`
	Reason  string `json:"reason"`
}

// cancelHTTP is the administrative force-cancel. The surrounding API layer
// is responsible for restricting it to privileged users.
func cancelHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService, instanceID int64) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	view, err := svc.ForceCancel(instanceID, req.ActorID, req.Reason)
	if err != nil {
		log.GetLogger().Errorf("Failed to cancel instance %d: %v", instanceID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func workflowForEntityHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService) {
	entityType := r.URL.Query().Get("entity_type")
	entityID, err := strconv.ParseInt(r.URL.Query().Get("entity_id"), 10, 64)
	if entityType == "" || err != nil {
		http.Error(w, "Missing 'entity_type' or 'entity_id' parameter", http.StatusBadRequest)
		return
	}
	view, err := svc.GetWorkflowForEntity(entityType, entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	if view == nil {
		http.Error(w, "No workflow for entity", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func historyHTTP(w http.ResponseWriter, svc *service.WorkflowService, instanceID int64) {
	entries, err := svc.GetWorkflowHistory(instanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntryView{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storage.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrNoSuchTransition):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

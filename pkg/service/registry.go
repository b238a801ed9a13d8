package service

import (
	"fmt"
	"strings"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/storage"
	"github.com/pkg/errors"
)

type transitionKey struct {
	fromStageID int64
	action      string
}

// TemplateGraph is one template loaded into a typed in-memory graph: stages
// indexed by ID, transitions indexed by (fromStageID, actionName), guards
// compiled. Graphs are built once at registry load and shared read-only.
type TemplateGraph struct {
	Template    models.Template
	Initial     models.Stage
	stages      map[int64]models.Stage
	transitions map[transitionKey]models.Transition
	automatic   map[int64][]models.Transition
	guards      map[int64]guardFunc
}

// StageCount is the cascade hop bound for this template.
func (g *TemplateGraph) StageCount() int {
	return len(g.stages)
}

// Stage looks up a stage of this template by ID.
func (g *TemplateGraph) Stage(id int64) (models.Stage, bool) {
	s, ok := g.stages[id]
	return s, ok
}

// TransitionFrom looks up the edge leaving fromStageID under actionName.
func (g *TemplateGraph) TransitionFrom(fromStageID int64, actionName string) (models.Transition, bool) {
	tr, ok := g.transitions[transitionKey{fromStageID: fromStageID, action: actionName}]
	return tr, ok
}

// AutomaticFrom returns the automatic transitions leaving fromStageID whose
// guards pass against inst. The engine only follows the chain when exactly
// one candidate remains.
func (g *TemplateGraph) AutomaticFrom(fromStageID int64, inst models.Instance) []models.Transition {
	var out []models.Transition
	for _, tr := range g.automatic[fromStageID] {
		if guard, ok := g.guards[tr.ID]; ok && !guard(inst) {
			continue
		}
		out = append(out, tr)
	}
	return out
}

// TemplateRegistry holds every registered process definition, loaded once
// from storage and safely shared across concurrent callers. Template edits
// are a configuration-time concern; the registry never mutates after load.
type TemplateRegistry struct {
	byEntityType map[string]*TemplateGraph
	byID         map[int64]*TemplateGraph
}

// LoadTemplateRegistry reads all templates with their stages and transitions
// and assembles validated graphs. A template that violates the model (no
// unique initial stage, dangling edge, duplicate action, malformed guard)
// fails the whole load: a misconfigured registry should not come up at all.
func LoadTemplateRegistry(store storage.Store) (*TemplateRegistry, error) {
	templates, err := store.ListTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "load templates")
	}
	reg := &TemplateRegistry{
		byEntityType: make(map[string]*TemplateGraph, len(templates)),
		byID:         make(map[int64]*TemplateGraph, len(templates)),
	}
	for _, t := range templates {
		stages, err := store.ListStages(t.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "load stages for template %q", t.Name)
		}
		transitions, err := store.ListTransitions(t.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "load transitions for template %q", t.Name)
		}
		graph, err := buildGraph(t, stages, transitions)
		if err != nil {
			return nil, err
		}
		if _, exists := reg.byEntityType[t.EntityType]; exists {
			return nil, fmt.Errorf("template %q: entity type %q already registered", t.Name, t.EntityType)
		}
		reg.byEntityType[t.EntityType] = graph
		reg.byID[t.ID] = graph
	}
	return reg, nil
}

// ResolveTemplate returns the graph registered for an entity type, or
// storage.ErrNotFound when no template covers it.
func (r *TemplateRegistry) ResolveTemplate(entityType string) (*TemplateGraph, error) {
	graph, ok := r.byEntityType[entityType]
	if !ok {
		return nil, errors.Wrapf(storage.ErrNotFound, "no template registered for entity type %q", entityType)
	}
	return graph, nil
}

// TemplateByID returns the graph for a template ID, for instances already
// bound to their template.
func (r *TemplateRegistry) TemplateByID(id int64) (*TemplateGraph, error) {
	graph, ok := r.byID[id]
	if !ok {
		return nil, errors.Wrapf(storage.ErrNotFound, "no template with id %d", id)
	}
	return graph, nil
}

func buildGraph(t models.Template, stages []models.Stage, transitions []models.Transition) (*TemplateGraph, error) {
	graph := &TemplateGraph{
		Template:    t,
		stages:      make(map[int64]models.Stage, len(stages)),
		transitions: make(map[transitionKey]models.Transition, len(transitions)),
		automatic:   make(map[int64][]models.Transition),
		guards:      make(map[int64]guardFunc),
	}
	var initial *models.Stage
	for i, s := range stages {
		graph.stages[s.ID] = s
		if s.IsInitial {
			if initial != nil {
				return nil, fmt.Errorf("template %q: more than one initial stage", t.Name)
			}
			initial = &stages[i]
		}
	}
	if initial == nil {
		return nil, fmt.Errorf("template %q: no initial stage", t.Name)
	}
	graph.Initial = *initial

	for _, tr := range transitions {
		if _, ok := graph.stages[tr.FromStageID]; !ok {
			return nil, fmt.Errorf("template %q: transition %q leaves unknown stage %d", t.Name, tr.ActionName, tr.FromStageID)
		}
		if tr.ToStageID != nil {
			if _, ok := graph.stages[*tr.ToStageID]; !ok {
				return nil, fmt.Errorf("template %q: transition %q targets unknown stage %d", t.Name, tr.ActionName, *tr.ToStageID)
			}
		}
		key := transitionKey{fromStageID: tr.FromStageID, action: tr.ActionName}
		if _, dup := graph.transitions[key]; dup {
			return nil, fmt.Errorf("template %q: duplicate action %q from stage %d", t.Name, tr.ActionName, tr.FromStageID)
		}
		graph.transitions[key] = tr
		if tr.IsAutomatic {
			graph.automatic[tr.FromStageID] = append(graph.automatic[tr.FromStageID], tr)
		}
		if tr.GuardExpr != nil && strings.TrimSpace(*tr.GuardExpr) != "" {
			guard, err := compileGuard(*tr.GuardExpr)
			if err != nil {
				return nil, errors.Wrapf(err, "template %q: transition %q", t.Name, tr.ActionName)
			}
			graph.guards[tr.ID] = guard
		}
	}
	return graph, nil
}

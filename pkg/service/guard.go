package service

import (
	"fmt"
	"strings"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
)

// guardFunc evaluates a compiled guard expression against the instance
// context. A missing guard means unconditional.
type guardFunc func(inst models.Instance) bool

// compileGuard parses a guard expression of the form "field == value" or
// "field != value". Supported fields: "assignee" (compared against "none"
// for presence), "entity_type" and "status". Compilation happens once at
// registry load, never per transition.
func compileGuard(expr string) (guardFunc, error) {
	var field, op, value string
	switch {
	case strings.Contains(expr, "!="):
		op = "!="
	case strings.Contains(expr, "=="):
		op = "=="
	default:
		return nil, fmt.Errorf("malformed guard %q: expected 'field == value' or 'field != value'", expr)
	}
	parts := strings.SplitN(expr, op, 2)
	field = strings.TrimSpace(parts[0])
	value = strings.TrimSpace(parts[1])
	if field == "" || value == "" {
		return nil, fmt.Errorf("malformed guard %q: empty field or value", expr)
	}

	var read func(inst models.Instance) string
	switch field {
	case "assignee":
		read = func(inst models.Instance) string {
			if inst.AssigneeID == nil {
				return "none"
			}
			return fmt.Sprintf("%d", *inst.AssigneeID)
		}
	case "entity_type":
		read = func(inst models.Instance) string { return inst.EntityType }
	case "status":
		read = func(inst models.Instance) string { return string(inst.Status) }
	default:
		return nil, fmt.Errorf("malformed guard %q: unknown field %q", expr, field)
	}

	if op == "==" {
		return func(inst models.Instance) bool { return read(inst) == value }, nil
	}
	return func(inst models.Instance) bool { return read(inst) != value }, nil
}

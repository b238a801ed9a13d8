package service

import (
	"testing"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestCompileGuard(t *testing.T) {
	assignee := int64(7)
	assigned := models.Instance{AssigneeID: &assignee, EntityType: "submittal", Status: models.ActiveInstanceStatus}
	unassigned := models.Instance{EntityType: "drawing", Status: models.ActiveInstanceStatus}

	cases := []struct {
		expr string
		inst models.Instance
		want bool
	}{
		{"assignee != none", assigned, true},
		{"assignee != none", unassigned, false},
		{"assignee == none", unassigned, true},
		{"assignee == 7", assigned, true},
		{"entity_type == submittal", assigned, true},
		{"entity_type == submittal", unassigned, false},
		{"status != cancelled", assigned, true},
	}
	for _, tc := range cases {
		guard, err := compileGuard(tc.expr)
		assert.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, guard(tc.inst), tc.expr)
	}
}

func TestCompileGuardRejectsMalformed(t *testing.T) {
	for _, expr := range []string{"assignee", "== none", "assignee ==", "budget == 5", "a > b"} {
		_, err := compileGuard(expr)
		assert.Error(t, err, expr)
	}
}

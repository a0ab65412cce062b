package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBaseQuery(t *testing.T) {
	s := &Service{}

	query, args := s.buildBaseQuery("SELECT COUNT(1)", "c1", Filter{Action: ActionApprove, EntityID: "r1"})
	assert.Equal(t, "SELECT COUNT(1) FROM audit_events WHERE company_id::text = $1 AND action = $2 AND entity_id = $3", query)
	assert.Equal(t, []any{"c1", ActionApprove, "r1"}, args)

	query, args = s.buildBaseQuery("SELECT COUNT(1)", "", Filter{EntityType: "tax_configuration"})
	assert.Equal(t, "SELECT COUNT(1) FROM audit_events WHERE company_id IS NULL AND entity_type = $1", query)
	assert.Equal(t, []any{"tax_configuration"}, args)
}

type recorderFunc func(companyID, actorID, action string) error

func (f recorderFunc) Record(_ context.Context, companyID, actorID, action, _, _, _, _ string, _, _ any) error {
	return f(companyID, actorID, action)
}

func TestLogSwallowsRecorderErrors(t *testing.T) {
	var got []string
	rec := recorderFunc(func(companyID, actorID, action string) error {
		got = append(got, companyID, actorID, action)
		return errors.New("db down")
	})

	require.NotPanics(t, func() {
		Log(context.Background(), rec, "c1", Actor{UserID: "u1"}, ActionCreate, "staff", "s1", nil, map[string]string{"id": "s1"})
	})
	assert.Equal(t, []string{"c1", "u1", ActionCreate}, got)

	Log(context.Background(), nil, "c1", Actor{}, ActionCreate, "staff", "s1", nil, nil)
}

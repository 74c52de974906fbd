package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kipdesk/internal/domain"
	"kipdesk/internal/engine"
)

func TestDescribeCase(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")

	view, err := env.Engine.DescribeCase(env.Ctx, "req-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner", view.Visibility)
	assert.Empty(t, view.AllowedTargets)
	assert.NotNil(t, view.AllowedTargets)
	assert.True(t, view.CanPost)

	view, err = env.Engine.DescribeCase(env.Ctx, "fo", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "oversight", view.Visibility)
	assert.Equal(t, []domain.Status{domain.StatusInProgress, domain.StatusForwarded}, view.AllowedTargets)

	_, err = env.Engine.DescribeCase(env.Ctx, "req-2", c.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.DescribeCase(env.Ctx, "cw-1", c.ID)
	assert.ErrorIs(t, err, engine.ErrAccessDenied)

	env.move(t, "fo", c.ID, domain.StatusForwarded)
	view, err = env.Engine.DescribeCase(env.Ctx, "cw-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "claimable", view.Visibility)
	assert.Equal(t, []domain.Status{domain.StatusInProgress}, view.AllowedTargets)

	_, err = env.Engine.ClaimCase(env.Ctx, "cw-1", c.ID)
	require.NoError(t, err)
	view, err = env.Engine.DescribeCase(env.Ctx, "sup", c.ID)
	require.NoError(t, err)
	assert.False(t, view.CanPost, "oversight is read-only once assigned")
}

func TestDescribeTerminalCaseCannotPost(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	env.move(t, "adm", c.ID, domain.StatusRejected)

	view, err := env.Engine.DescribeCase(env.Ctx, "req-1", c.ID)
	require.NoError(t, err)
	assert.False(t, view.CanPost)
}

func TestWhoAmI(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.WhoAmI(env.Ctx, "cw-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCaseWorker, u.Role)

	_, err = env.Engine.WhoAmI(env.Ctx, "ghost")
	assert.ErrorIs(t, err, engine.ErrAccessDenied)
}

func TestListEventsIsOversightOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	env.move(t, "fo", c.ID, domain.StatusInProgress)

	items, err := env.Engine.ListEvents(env.Ctx, "sup", 10, c.ID, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "case.status_changed", items[0].Type)

	items, err = env.Engine.ListEvents(env.Ctx, "adm", 10, 0, "case.created")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, c.ID, items[0].CaseID)

	for _, actor := range []string{"req-1", "fo", "cw-1"} {
		_, err = env.Engine.ListEvents(env.Ctx, actor, 10, 0, "")
		assert.ErrorIs(t, err, engine.ErrAccessDenied, actor)
	}
}

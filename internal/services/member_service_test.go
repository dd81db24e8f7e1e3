package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdelr/safeback/internal/models"
)

func TestMemberService_RequireAdmin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedWorkspace(t, "ws-1")

	assert.NoError(t, env.members.RequireAdmin(ctx, "ws-1", "owner-1"))
	assert.NoError(t, env.members.RequireAdmin(ctx, "ws-1", "admin-1"))
	assert.ErrorIs(t, env.members.RequireAdmin(ctx, "ws-1", "member-1"), ErrForbidden)
	assert.ErrorIs(t, env.members.RequireAdmin(ctx, "ws-1", "nobody"), ErrForbidden)
	assert.ErrorIs(t, env.members.RequireAdmin(ctx, "ws-missing", "owner-1"), ErrNotFound)

	role, err := env.members.RoleOf(ctx, "ws-1", "member-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, role)
}

func TestMemberService_ResolveAdmin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.members.CreateWorkspace(ctx, "ws-1", "One")
	require.NoError(t, err)

	_, err = env.members.ResolveAdmin(ctx, "ws-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.members.AddMember(ctx, "ws-1", "early-admin", models.RoleAdmin)
	require.NoError(t, err)
	env.clock.Advance(time.Hour)
	_, err = env.members.AddMember(ctx, "ws-1", "late-admin", models.RoleAdmin)
	require.NoError(t, err)

	actor, err := env.members.ResolveAdmin(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "early-admin", actor)

	env.clock.Advance(time.Hour)
	_, err = env.members.AddMember(ctx, "ws-1", "the-owner", models.RoleOwner)
	require.NoError(t, err)

	actor, err = env.members.ResolveAdmin(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "the-owner", actor)
}

func TestMemberService_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.members.CreateWorkspace(ctx, "", "x")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.members.AddMember(ctx, "ws-missing", "u", models.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)

	env.seedWorkspace(t, "ws-1")
	_, err = env.members.AddMember(ctx, "ws-1", "u", "superuser")
	assert.ErrorIs(t, err, ErrInvalidInput)

	ok, err := env.members.WorkspaceExists(ctx, "ws-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

package rbac

import (
	"context"
	"testing"

	"github.com/finoly/finoly/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Evaluate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{
		Name:        "Finance",
		AdminUserID: env.alice.UserID,
		Members:     []MemberInput{{UserID: env.bob.UserID}},
	})
	require.NoError(t, err)
	teamID := result.Team.ID

	deleted := env.createTeam(t, "Archive")
	require.NoError(t, env.teams.DeleteTeam(ctx, env.owner, deleted.Team.ID))

	tests := []struct {
		name     string
		identity *auth.Identity
		teamID   string
		want     Access
		hasTeam  bool
	}{
		{"owner outside the team", env.owner, teamID, Access{IsBusinessOwner: true}, true},
		{"admin", env.alice, teamID, Access{IsTeamAdmin: true, HasTeamAccess: true}, true},
		{"member", env.bob, teamID, Access{HasTeamAccess: true}, true},
		{"business user outside the team", env.carol, teamID, Access{}, true},
		{"other business", env.outsider, teamID, Access{}, false},
		{"individual account", env.personal, teamID, Access{}, false},
		{"nil identity", nil, teamID, Access{}, false},
		{"unknown team", env.owner, "team_missing", Access{}, false},
		{"deleted team", env.owner, deleted.Team.ID, Access{}, false},
		{"empty team id", env.owner, "", Access{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			access := env.policy.Evaluate(ctx, tt.identity, tt.teamID)
			assert.Equal(t, tt.want.IsBusinessOwner, access.IsBusinessOwner, "owner")
			assert.Equal(t, tt.want.IsTeamAdmin, access.IsTeamAdmin, "admin")
			assert.Equal(t, tt.want.HasTeamAccess, access.HasTeamAccess, "access")
			assert.Equal(t, tt.hasTeam, access.Team != nil, "team")
		})
	}
}

func TestPolicy_ManageChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{
		Name:        "Finance",
		AdminUserID: env.alice.UserID,
		Members:     []MemberInput{{UserID: env.bob.UserID}},
	})
	require.NoError(t, err)
	teamID := result.Team.ID

	assert.True(t, env.policy.IsBusinessOwner(ctx, env.owner, env.business.ID))
	assert.False(t, env.policy.IsBusinessOwner(ctx, env.alice, env.business.ID))
	assert.False(t, env.policy.IsBusinessOwner(ctx, env.outsider, env.business.ID))
	assert.False(t, env.policy.IsBusinessOwner(ctx, env.owner, "biz_missing"))

	assert.True(t, env.policy.CanManageRoles(ctx, env.owner, teamID))
	assert.True(t, env.policy.CanManageRoles(ctx, env.alice, teamID))
	assert.False(t, env.policy.CanManageRoles(ctx, env.bob, teamID))

	assert.True(t, env.policy.CanManageTeam(ctx, env.bob, teamID, false))
	assert.False(t, env.policy.CanManageTeam(ctx, env.bob, teamID, true))
	assert.False(t, env.policy.CanManageTeam(ctx, env.carol, teamID, false))
	assert.False(t, env.policy.CanManageTeam(ctx, env.outsider, teamID, false))
}

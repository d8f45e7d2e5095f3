package rbac

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/finoly/finoly/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// failingQueries fails one named write inside a transaction
type failingQueries struct {
	Queries
	failOn string
}

func (f failingQueries) SetBusinessTeamsCount(ctx context.Context, id string, count int) error {
	if f.failOn == "SetBusinessTeamsCount" {
		return errBoom
	}
	return f.Queries.SetBusinessTeamsCount(ctx, id, count)
}

func (f failingQueries) DeleteRole(ctx context.Context, id string) error {
	if f.failOn == "DeleteRole" {
		return errBoom
	}
	return f.Queries.DeleteRole(ctx, id)
}

func (f failingQueries) AdjustRoleUserCount(ctx context.Context, roleID string, delta int) error {
	if f.failOn == "AdjustRoleUserCount" {
		return errBoom
	}
	return f.Queries.AdjustRoleUserCount(ctx, roleID, delta)
}

type failingStore struct {
	*MemoryStore
	failOn string
}

func (s *failingStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	return s.MemoryStore.WithTx(ctx, func(q Queries) error {
		return fn(failingQueries{Queries: q, failOn: s.failOn})
	})
}

func TestCreateTeam_Defaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{
		Name:        "  Finance  ",
		Description: "Books and budgets",
	})
	require.NoError(t, err)

	team := env.team(t, result.Team.ID)
	assert.Equal(t, "Finance", team.Name)
	assert.Equal(t, env.owner.UserID, team.AdminUserID)
	assert.Equal(t, 1, team.MemberCount)
	assert.True(t, team.IsActive)
	assert.Equal(t, 1, env.teamsCount(t))

	require.Len(t, result.Roles, 3)
	names := []string{result.Roles[0].Name, result.Roles[1].Name, result.Roles[2].Name}
	assert.Equal(t, []string{DefaultAdminRoleName, DefaultMemberRoleName, DefaultViewerRoleName}, names)
	for _, role := range result.Roles {
		assert.True(t, role.IsDefault, role.Name)
	}

	adminRole := env.role(t, result.Roles[0].ID)
	assert.ElementsMatch(t, AllPermissions(), adminRole.Permissions)
	assert.Equal(t, 1, adminRole.UserCount)
	assert.Equal(t, 0, env.role(t, result.Roles[1].ID).UserCount)

	member, err := env.store.GetMember(ctx, team.ID, env.owner.UserID)
	require.NoError(t, err)
	assert.Equal(t, adminRole.ID, member.RoleID)
	assert.Empty(t, result.Skipped)
}

func TestCreateTeam_MembersAndSkips(t *testing.T) {
	env := newTestEnv(t)

	result := env.createTeam(t, "Operations",
		MemberInput{UserID: env.alice.UserID},
		MemberInput{UserID: env.bob.UserID, RoleID: "viewer"},
		MemberInput{UserID: env.carol.UserID, RoleID: DefaultAdminRoleName},
		MemberInput{UserID: env.alice.UserID, RoleID: "viewer"},
		MemberInput{UserID: env.outsider.UserID},
		MemberInput{UserID: "user_ghost"},
		MemberInput{UserID: ""},
		MemberInput{UserID: env.owner.UserID},
		MemberInput{UserID: "user_solo"},
	)

	team := env.team(t, result.Team.ID)
	assert.Equal(t, 4, team.MemberCount)
	assert.Len(t, result.Members, 4)

	admin := env.role(t, roleNamed(result.Roles, DefaultAdminRoleName).ID)
	member := env.role(t, roleNamed(result.Roles, DefaultMemberRoleName).ID)
	viewer := env.role(t, roleNamed(result.Roles, DefaultViewerRoleName).ID)
	assert.Equal(t, 2, admin.UserCount)
	assert.Equal(t, 1, member.UserCount)
	assert.Equal(t, 1, viewer.UserCount)

	reasons := map[string]string{}
	for _, s := range result.Skipped {
		reasons[s.UserID+"|"+s.RoleID] = s.Reason
	}
	assert.Equal(t, map[string]string{
		env.alice.UserID + "|viewer": SkipDuplicateEntry,
		env.outsider.UserID + "|":    SkipUserNotInBiz,
		"user_ghost|":                SkipUserNotFound,
		"|":                          SkipMissingUserID,
		env.owner.UserID + "|":       SkipAlreadyAdmin,
		"user_solo|":                 SkipUserNotInBiz,
	}, reasons)
}

func TestCreateTeam_UnknownRoleSkipped(t *testing.T) {
	env := newTestEnv(t)

	result := env.createTeam(t, "Operations", MemberInput{UserID: env.alice.UserID, RoleID: "role_missing"})

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipRoleNotInTeam, result.Skipped[0].Reason)
	assert.Equal(t, 1, env.team(t, result.Team.ID).MemberCount)
}

func TestCreateTeam_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateTeamInput
		field string
	}{
		{"short name", CreateTeamInput{Name: "ab"}, "name"},
		{"blank name", CreateTeamInput{Name: "     "}, "name"},
		{"long name", CreateTeamInput{Name: strings.Repeat("x", 51)}, "name"},
		{"two characters in three bytes each", CreateTeamInput{Name: "日本"}, "name"},
		{"long multibyte name", CreateTeamInput{Name: strings.Repeat("é", 51)}, "name"},
		{"long description", CreateTeamInput{Name: "Valid", Description: strings.Repeat("d", 201)}, "description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.teams.CreateTeam(ctx, env.owner, tt.input)
			requireCode(t, err, KindValidation, CodeValidation)
			apiErr, _ := AsError(err)
			assert.Equal(t, tt.field, apiErr.Field)
		})
	}

	_, err := env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{Name: strings.Repeat("x", 50), Description: strings.Repeat("d", 200)})
	assert.NoError(t, err)

	// lengths count characters, not bytes
	_, err = env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{Name: strings.Repeat("é", 26), Description: strings.Repeat("ü", 150)})
	assert.NoError(t, err)
	_, err = env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{Name: "日本語"})
	assert.NoError(t, err)
}

func TestCreateTeam_Authorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.teams.CreateTeam(ctx, env.personal, CreateTeamInput{Name: "Solo Team"})
	requireCode(t, err, KindPermissionDenied, CodeBusinessAccountRequired)

	_, err = env.teams.CreateTeam(ctx, nil, CreateTeamInput{Name: "Nobody"})
	requireCode(t, err, KindPermissionDenied, CodeBusinessAccountRequired)

	_, err = env.teams.CreateTeam(ctx, env.alice, CreateTeamInput{Name: "Alice Team"})
	requireCode(t, err, KindPermissionDenied, CodeBusinessOwnerRequired)

	ghost := *env.owner
	ghost.BusinessID = "biz_missing"
	_, err = env.teams.CreateTeam(ctx, &ghost, CreateTeamInput{Name: "Ghost Team"})
	requireCode(t, err, KindNotFound, CodeBusinessNotFound)

	assert.Equal(t, 0, env.teamsCount(t))
}

func TestCreateTeam_DuplicateName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.createTeam(t, "Marketing")

	_, err := env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{Name: "Marketing"})
	requireCode(t, err, KindValidation, CodeDuplicateTeamName)
	assert.Equal(t, 1, env.teamsCount(t))

	// a soft-deleted team frees its name
	require.NoError(t, env.teams.DeleteTeam(ctx, env.owner, first.Team.ID))
	_, err = env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{Name: "Marketing"})
	assert.NoError(t, err)
}

func TestCreateTeam_AdminUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{Name: "Sales", AdminUserID: env.outsider.UserID})
	requireCode(t, err, KindValidation, CodeInvalidAdminUser)

	_, err = env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{Name: "Sales", AdminUserID: "user_ghost"})
	requireCode(t, err, KindValidation, CodeInvalidAdminUser)

	result, err := env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{Name: "Sales", AdminUserID: env.alice.UserID})
	require.NoError(t, err)
	assert.Equal(t, env.alice.UserID, result.Team.AdminUserID)

	member, err := env.store.GetMember(ctx, result.Team.ID, env.alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, roleNamed(result.Roles, DefaultAdminRoleName).ID, member.RoleID)

	_, err = env.store.GetMember(ctx, result.Team.ID, env.owner.UserID)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestCreateTeam_RollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	store := &failingStore{MemoryStore: env.store, failOn: "SetBusinessTeamsCount"}
	teams := NewTeamManager(store, env.policy, env.logger)

	_, err := teams.CreateTeam(context.Background(), env.owner, CreateTeamInput{
		Name:    "Doomed",
		Members: []MemberInput{{UserID: env.alice.UserID}},
	})
	requireCode(t, err, KindInternal, CodeInternal)
	assert.ErrorIs(t, err, errBoom)

	_, total, err := env.store.ListTeams(context.Background(), TeamFilter{BusinessID: env.business.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, env.teamsCount(t))
}

func TestUpdateTeam(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.createTeam(t, "Engineering", MemberInput{UserID: env.alice.UserID})
	env.createTeam(t, "Design")
	teamID := result.Team.ID

	t.Run("rename and describe", func(t *testing.T) {
		name, description := " Platform ", "Infra spend"
		team, err := env.teams.UpdateTeam(ctx, env.owner, teamID, UpdateTeamInput{Name: &name, Description: &description})
		require.NoError(t, err)
		assert.Equal(t, "Platform", team.Name)
		assert.Equal(t, "Infra spend", team.Description)
	})

	t.Run("same name is not a duplicate", func(t *testing.T) {
		name := "Platform"
		_, err := env.teams.UpdateTeam(ctx, env.owner, teamID, UpdateTeamInput{Name: &name})
		assert.NoError(t, err)
	})

	t.Run("duplicate name", func(t *testing.T) {
		name := "Design"
		_, err := env.teams.UpdateTeam(ctx, env.owner, teamID, UpdateTeamInput{Name: &name})
		requireCode(t, err, KindValidation, CodeDuplicateTeamName)
	})

	t.Run("invalid name", func(t *testing.T) {
		name := "x"
		_, err := env.teams.UpdateTeam(ctx, env.owner, teamID, UpdateTeamInput{Name: &name})
		requireCode(t, err, KindValidation, CodeValidation)
	})

	t.Run("plain member denied", func(t *testing.T) {
		name := "Hijacked"
		_, err := env.teams.UpdateTeam(ctx, env.alice, teamID, UpdateTeamInput{Name: &name})
		requireCode(t, err, KindPermissionDenied, CodeTeamUpdateDenied)
	})

	t.Run("foreign business sees not found", func(t *testing.T) {
		name := "Hijacked"
		_, err := env.teams.UpdateTeam(ctx, env.outsider, teamID, UpdateTeamInput{Name: &name})
		requireCode(t, err, KindNotFound, CodeTeamNotFound)
	})

	t.Run("admin from another business", func(t *testing.T) {
		admin := env.outsider.UserID
		_, err := env.teams.UpdateTeam(ctx, env.owner, teamID, UpdateTeamInput{AdminUserID: &admin})
		requireCode(t, err, KindValidation, CodeInvalidAdminUser)
	})
}

func TestUpdateTeam_AdminChangeKeepsMembership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.createTeam(t, "Engineering", MemberInput{UserID: env.alice.UserID})
	teamID := result.Team.ID
	adminRole := roleNamed(result.Roles, DefaultAdminRoleName)
	memberRole := roleNamed(result.Roles, DefaultMemberRoleName)

	// a non-member admin joins with the admin role
	bob := env.bob.UserID
	team, err := env.teams.UpdateTeam(ctx, env.owner, teamID, UpdateTeamInput{AdminUserID: &bob})
	require.NoError(t, err)
	assert.Equal(t, bob, team.AdminUserID)
	assert.Equal(t, 3, team.MemberCount)

	member, err := env.store.GetMember(ctx, teamID, bob)
	require.NoError(t, err)
	assert.Equal(t, adminRole.ID, member.RoleID)
	assert.Equal(t, 2, env.role(t, adminRole.ID).UserCount)

	// the new admin may now manage the team
	name := "Core Engineering"
	_, err = env.teams.UpdateTeam(ctx, env.bob, teamID, UpdateTeamInput{Name: &name})
	require.NoError(t, err)

	// an existing member is moved onto the admin role
	alice := env.alice.UserID
	team, err = env.teams.UpdateTeam(ctx, env.owner, teamID, UpdateTeamInput{AdminUserID: &alice})
	require.NoError(t, err)
	assert.Equal(t, 3, team.MemberCount)

	member, err = env.store.GetMember(ctx, teamID, alice)
	require.NoError(t, err)
	assert.Equal(t, adminRole.ID, member.RoleID)
	assert.Equal(t, 3, env.role(t, adminRole.ID).UserCount)
	assert.Equal(t, 0, env.role(t, memberRole.ID).UserCount)
}

func TestDeleteTeam(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.createTeam(t, "Support", MemberInput{UserID: env.alice.UserID})
	teamID := result.Team.ID

	err := env.teams.DeleteTeam(ctx, env.alice, teamID)
	requireCode(t, err, KindPermissionDenied, CodeTeamDeleteDenied)

	err = env.teams.DeleteTeam(ctx, env.outsider, teamID)
	requireCode(t, err, KindNotFound, CodeTeamNotFound)

	require.NoError(t, env.teams.DeleteTeam(ctx, env.owner, teamID))
	assert.Equal(t, 0, env.teamsCount(t))

	stored := env.team(t, teamID)
	assert.False(t, stored.IsActive)

	// roles and memberships are retained
	roles, err := env.store.ListRoles(ctx, teamID)
	require.NoError(t, err)
	assert.Len(t, roles, 3)
	_, err = env.store.GetMember(ctx, teamID, env.alice.UserID)
	assert.NoError(t, err)

	// an inactive team reads as missing
	_, err = env.teams.GetTeamDetails(ctx, env.owner, teamID)
	requireCode(t, err, KindNotFound, CodeTeamNotFound)
	err = env.teams.DeleteTeam(ctx, env.owner, teamID)
	requireCode(t, err, KindNotFound, CodeTeamNotFound)
}

func TestDeleteTeam_TeamsCountFloor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.createTeam(t, "Support")
	require.NoError(t, env.store.SetBusinessTeamsCount(ctx, env.business.ID, 0))

	require.NoError(t, env.teams.DeleteTeam(ctx, env.owner, result.Team.ID))
	assert.Equal(t, 0, env.teamsCount(t))
}

func TestGetTeamDetails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{
		Name:        "Treasury",
		AdminUserID: env.alice.UserID,
		Members:     []MemberInput{{UserID: env.bob.UserID, RoleID: "viewer"}},
	})
	require.NoError(t, err)
	teamID := result.Team.ID

	tests := []struct {
		name     string
		identity *auth.Identity
		userRole string
	}{
		{"owner", env.owner, "owner"},
		{"admin", env.alice, "admin"},
		{"member", env.bob, "member"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			details, err := env.teams.GetTeamDetails(ctx, tt.identity, teamID)
			require.NoError(t, err)
			assert.Equal(t, tt.userRole, details.UserRole)
			assert.Equal(t, "Acme Finance", details.BusinessName)
			assert.Equal(t, env.alice.UserID, details.Admin.ID)
			assert.Equal(t, "Alice", details.Admin.Name)
			assert.Len(t, details.Members, 2)
			assert.Len(t, details.Roles, 3)
		})
	}

	_, err = env.teams.GetTeamDetails(ctx, env.carol, teamID)
	requireCode(t, err, KindPermissionDenied, CodeTeamAccessDenied)

	_, err = env.teams.GetTeamDetails(ctx, env.outsider, teamID)
	requireCode(t, err, KindNotFound, CodeTeamNotFound)

	_, err = env.teams.GetTeamDetails(ctx, env.owner, "team_missing")
	requireCode(t, err, KindNotFound, CodeTeamNotFound)
}

func TestListTeams(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createTeam(t, "Alpha", MemberInput{UserID: env.alice.UserID})
	env.createTeam(t, "Bravo")
	_, err := env.teams.CreateTeam(ctx, env.owner, CreateTeamInput{Name: "Charlie", AdminUserID: env.alice.UserID})
	require.NoError(t, err)
	deleted := env.createTeam(t, "Delta")
	require.NoError(t, env.teams.DeleteTeam(ctx, env.owner, deleted.Team.ID))

	t.Run("owner sees every active team", func(t *testing.T) {
		page, err := env.teams.ListTeams(ctx, env.owner, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Teams, 3)
		assert.Equal(t, "Charlie", page.Teams[0].Name)
	})

	t.Run("member sees own teams", func(t *testing.T) {
		page, err := env.teams.ListTeams(ctx, env.alice, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})

	t.Run("outsider sees nothing of this business", func(t *testing.T) {
		page, err := env.teams.ListTeams(ctx, env.outsider, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)
		assert.Empty(t, page.Teams)
	})

	t.Run("personal account gets an empty page", func(t *testing.T) {
		page, err := env.teams.ListTeams(ctx, env.personal, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)
		assert.NotNil(t, page.Teams)
	})

	t.Run("pagination", func(t *testing.T) {
		page, err := env.teams.ListTeams(ctx, env.owner, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Teams, 1)
		assert.Equal(t, "Alpha", page.Teams[0].Name)
	})

	t.Run("limits are clamped", func(t *testing.T) {
		page, err := env.teams.ListTeams(ctx, env.owner, 0, 1000)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, MaxPageLimit, page.Limit)

		page, err = env.teams.ListTeams(ctx, env.owner, -3, 0)
		require.NoError(t, err)
		assert.Equal(t, DefaultPageLimit, page.Limit)
	})
}

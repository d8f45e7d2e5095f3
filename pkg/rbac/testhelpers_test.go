package rbac

import (
	"context"
	"testing"

	"github.com/finoly/finoly/pkg/auth"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// testEnv is a seeded memory store with one business and its users
type testEnv struct {
	store  *MemoryStore
	policy *Policy
	teams  *TeamManager
	roles  *RoleManager
	logger *logrus.Logger
	hook   *test.Hook

	business *Business
	owner    *auth.Identity
	alice    *auth.Identity
	bob      *auth.Identity
	carol    *auth.Identity
	outsider *auth.Identity
	personal *auth.Identity
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger, hook := test.NewNullLogger()
	store := NewMemoryStore()
	policy := NewPolicy(store, logger)

	env := &testEnv{
		store:  store,
		policy: policy,
		teams:  NewTeamManager(store, policy, logger),
		roles:  NewRoleManager(store, policy, logger),
		logger: logger,
		hook:   hook,
	}

	env.owner = env.addUser("user_owner", "Olivia Owner", "biz_1")
	env.alice = env.addUser("user_alice", "Alice", "biz_1")
	env.bob = env.addUser("user_bob", "Bob", "biz_1")
	env.carol = env.addUser("user_carol", "Carol", "biz_1")
	env.outsider = env.addUser("user_out", "Oscar", "biz_2")
	env.personal = &auth.Identity{UserID: "user_solo", AccountType: auth.AccountIndividual}
	store.PutUser(&User{ID: "user_solo", Name: "Solo", Email: "solo@example.com", AccountType: string(auth.AccountIndividual)})

	env.business = &Business{
		ID:       "biz_1",
		Name:     "Acme Finance",
		OwnerID:  env.owner.UserID,
		Settings: DefaultBusinessSettings(),
	}
	store.PutBusiness(env.business)
	store.PutBusiness(&Business{ID: "biz_2", Name: "Other Co", OwnerID: env.outsider.UserID, Settings: DefaultBusinessSettings()})

	return env
}

func (e *testEnv) addUser(id, name, businessID string) *auth.Identity {
	e.store.PutUser(&User{
		ID:          id,
		Name:        name,
		Email:       id + "@example.com",
		AccountType: string(auth.AccountBusiness),
		BusinessID:  businessID,
	})
	return &auth.Identity{
		UserID:      id,
		Email:       id + "@example.com",
		Name:        name,
		AccountType: auth.AccountBusiness,
		BusinessID:  businessID,
	}
}

// createTeam creates a team owned by the business owner with the given
// members and returns the result
func (e *testEnv) createTeam(t *testing.T, name string, members ...MemberInput) *CreateTeamResult {
	t.Helper()
	result, err := e.teams.CreateTeam(context.Background(), e.owner, CreateTeamInput{
		Name:    name,
		Members: members,
	})
	require.NoError(t, err)
	return result
}

func (e *testEnv) team(t *testing.T, id string) *Team {
	t.Helper()
	team, err := e.store.GetTeam(context.Background(), id)
	require.NoError(t, err)
	return team
}

func (e *testEnv) role(t *testing.T, id string) *Role {
	t.Helper()
	role, err := e.store.GetRole(context.Background(), id)
	require.NoError(t, err)
	return role
}

func (e *testEnv) teamsCount(t *testing.T) int {
	t.Helper()
	business, err := e.store.GetBusiness(context.Background(), e.business.ID)
	require.NoError(t, err)
	return business.TeamsCount
}

func roleNamed(roles []*Role, name string) *Role {
	for _, role := range roles {
		if role.Name == name {
			return role
		}
	}
	return nil
}

func requireCode(t *testing.T, err error, kind ErrorKind, code string) {
	t.Helper()
	require.Error(t, err)
	apiErr, ok := AsError(err)
	require.True(t, ok, "expected *Error, got %T: %v", err, err)
	require.Equal(t, kind, apiErr.Kind, "kind for %v", err)
	require.Equal(t, code, apiErr.Code)
}

package rbac

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

var teamRowColumns = []string{
	"id", "name", "description", "business_id", "admin_user_id", "member_count",
	"budget_count", "total_expenses", "is_active", "created_at", "updated_at",
}

var roleRowColumns = []string{
	"id", "name", "description", "team_id", "permissions", "user_count", "is_default", "created_at", "updated_at",
}

func TestPostgresStore_GetUser(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("SELECT id, name, email, account_type").
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "account_type", "business_id", "created_at"}).
			AddRow("user_1", "Alice", "alice@example.com", "business", "biz_1", now))

	user, err := store.GetUser(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "biz_1", user.BusinessID)

	mock.ExpectQuery("SELECT id, name, email, account_type").
		WithArgs("user_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetUser(ctx, "user_missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var userRowColumns = []string{"id", "name", "email", "account_type", "business_id", "created_at"}

func TestPostgresStore_Users(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE LOWER(email) = LOWER($1)")).
		WithArgs("Dana@Example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow("usr_1", "Dana", "dana@example.com", "business", "biz_1", now))
	user, err := store.GetUserByEmail(ctx, "Dana@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", user.ID)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "Eve", "eve@example.com", "business", "biz_1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	created := &User{Name: "Eve", Email: "eve@example.com", AccountType: "business", BusinessID: "biz_1"}
	require.NoError(t, store.CreateUser(ctx, created))
	assert.Regexp(t, "^usr_", created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: constraintUserEmail})
	err = store.CreateUser(ctx, &User{Name: "Eve", Email: "eve@example.com", AccountType: "business"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET business_id = NULL")).
		WithArgs("usr_missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.DetachUser(ctx, "usr_missing"), ErrUserNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListUsers(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM users u WHERE u.business_id = \$1 AND EXISTS .+tm.team_id = \$2.+r.name = \$3`).
		WithArgs("biz_1", "team_1", "Viewer").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY u.created_at, u.id")).
		WithArgs("biz_1", "team_1", "Viewer", int64(2), int64(2)).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("usr_3", "Carol", "carol@example.com", "business", "biz_1", now))

	users, total, err := store.ListUsers(ctx, UserFilter{BusinessID: "biz_1", TeamID: "team_1", RoleName: "Viewer", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, users, 1)
	assert.Equal(t, "Carol", users[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListUserMemberships(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`FROM team_members tm\s+JOIN teams t`).
		WithArgs("usr_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id", "name", "is_active", "role_id", "role_name", "joined_at"}).
			AddRow("member_1", "team_1", "Finance", true, "role_1", "Viewer", now).
			AddRow("member_2", "team_2", "Archive", false, "", "", now))

	memberships, err := store.ListUserMemberships(ctx, "usr_1")
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, "Viewer", memberships[0].RoleName)
	assert.True(t, memberships[0].TeamActive)
	assert.False(t, memberships[1].TeamActive)
	assert.Empty(t, memberships[1].RoleID)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE business_id = $1 AND admin_user_id = $2 AND is_active = true")).
		WithArgs("biz_1", "usr_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	n, err := store.CountAdministeredTeams(ctx, "biz_1", "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE businesses SET users_count = $2")).
		WithArgs("biz_1", int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.SetBusinessUsersCount(ctx, "biz_1", 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTeam(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("FROM teams WHERE id = \\$1").
		WithArgs("team_1").
		WillReturnRows(sqlmock.NewRows(teamRowColumns).
			AddRow("team_1", "Finance", "", "biz_1", "user_1", 3, 0, int64(0), true, now, now))

	team, err := store.GetTeam(ctx, "team_1")
	require.NoError(t, err)
	assert.Equal(t, "Finance", team.Name)
	assert.Equal(t, 3, team.MemberCount)
	assert.True(t, team.IsActive)

	mock.ExpectQuery("FROM teams WHERE id = \\$1").
		WithArgs("team_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetTeam(ctx, "team_missing")
	assert.ErrorIs(t, err, ErrTeamNotFound)

	mock.ExpectQuery("FROM teams WHERE id = \\$1").
		WithArgs("team_2").
		WillReturnError(errors.New("connection reset"))

	_, err = store.GetTeam(ctx, "team_2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTeamNotFound)
	assert.Contains(t, err.Error(), "failed to get team")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateTeam(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO teams").
		WithArgs(sqlmock.AnyArg(), "Finance", sqlmock.AnyArg(), "biz_1", "user_1", int64(1), int64(0), int64(0), true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	team := &Team{Name: "Finance", BusinessID: "biz_1", AdminUserID: "user_1", MemberCount: 1, IsActive: true}
	require.NoError(t, store.CreateTeam(ctx, team))
	assert.Regexp(t, "^team_", team.ID)
	assert.False(t, team.CreatedAt.IsZero())

	mock.ExpectExec("INSERT INTO teams").
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: constraintActiveTeam})

	err := store.CreateTeam(ctx, &Team{Name: "Finance", BusinessID: "biz_1", AdminUserID: "user_1", IsActive: true})
	assert.ErrorIs(t, err, ErrDuplicateTeamName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListTeams(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM teams WHERE business_id = $1 AND is_active = true AND (admin_user_id = $2")).
		WithArgs("biz_1", "user_2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $3 OFFSET $4")).
		WithArgs("biz_1", "user_2", int64(2), int64(2)).
		WillReturnRows(sqlmock.NewRows(teamRowColumns).
			AddRow("team_1", "Alpha", "", "biz_1", "user_1", 2, 0, int64(0), true, now, now))

	teams, total, err := store.ListTeams(ctx, TeamFilter{BusinessID: "biz_1", MemberUserID: "user_2", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, teams, 1)
	assert.Equal(t, "Alpha", teams[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRole(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	err := store.CreateRole(ctx, &Role{Name: "Broken", TeamID: "team_1", Permissions: []string{"fly_rocket"}})
	requireCode(t, err, KindValidation, CodeInvalidPermissions)

	mock.ExpectExec("INSERT INTO roles").
		WithArgs(sqlmock.AnyArg(), "Auditor", sqlmock.AnyArg(), "team_1", `["read_report"]`, int64(0), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	role := &Role{Name: "Auditor", TeamID: "team_1", Permissions: []string{"read_report"}}
	require.NoError(t, store.CreateRole(ctx, role))
	assert.Regexp(t, "^role_", role.ID)

	mock.ExpectExec("INSERT INTO roles").
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: constraintRoleName})

	err = store.CreateRole(ctx, &Role{Name: "Auditor", TeamID: "team_1", Permissions: []string{"read_report"}})
	assert.ErrorIs(t, err, ErrDuplicateRoleName)

	// other unique violations are not mistaken for duplicate names
	mock.ExpectExec("INSERT INTO roles").
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "roles_pkey"})

	err = store.CreateRole(ctx, &Role{ID: "role_1", Name: "Other", TeamID: "team_1", Permissions: []string{"read_report"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateRoleName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRole(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("FROM roles WHERE id = \\$1").
		WithArgs("role_1").
		WillReturnRows(sqlmock.NewRows(roleRowColumns).
			AddRow("role_1", "Viewer", "Read-only", "team_1", []byte(`["read_expense","read_budget"]`), 4, true, now, now))

	role, err := store.GetRole(ctx, "role_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"read_expense", "read_budget"}, role.Permissions)
	assert.Equal(t, 4, role.UserCount)
	assert.True(t, role.IsDefault)

	mock.ExpectQuery("FROM roles WHERE id = \\$1").
		WithArgs("role_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetRole(ctx, "role_missing")
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Counters(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE roles SET user_count = GREATEST(user_count + $2, 0)")).
		WithArgs("role_1", int64(-1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.AdjustRoleUserCount(ctx, "role_1", -1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE roles SET user_count")).
		WithArgs("role_missing", int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.AdjustRoleUserCount(ctx, "role_missing", 1), ErrRoleNotFound)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE teams SET member_count = GREATEST(member_count + $2, 0)")).
		WithArgs("team_1", int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.AdjustTeamMemberCount(ctx, "team_1", 2))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE businesses SET teams_count = $2")).
		WithArgs("biz_1", int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SetBusinessTeamsCount(ctx, "biz_1", 0))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Memberships(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec("INSERT INTO team_members").
		WithArgs(sqlmock.AnyArg(), "team_1", "user_1", "role_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	member := &TeamMember{TeamID: "team_1", UserID: "user_1", RoleID: "role_1"}
	require.NoError(t, store.AddMember(ctx, member))
	assert.Regexp(t, "^member_", member.ID)

	mock.ExpectExec("INSERT INTO team_members").
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: constraintMember})
	assert.ErrorIs(t, store.AddMember(ctx, &TeamMember{TeamID: "team_1", UserID: "user_1"}), ErrDuplicateMember)

	mock.ExpectQuery("FROM team_members WHERE team_id = \\$1 AND user_id = \\$2").
		WithArgs("team_1", "user_9").
		WillReturnError(sql.ErrNoRows)
	_, err := store.GetMember(ctx, "team_1", "user_9")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	mock.ExpectQuery("FROM team_members tm").
		WithArgs("team_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id", "user_id", "role_id", "joined_at", "name", "email", "role_name", "permissions"}).
			AddRow("member_1", "team_1", "user_1", "role_1", now, "Alice", "alice@example.com", "Viewer", []byte(`["read_expense"]`)).
			AddRow("member_2", "team_1", "user_2", "", now, "Bob", "bob@example.com", "", []byte(`[]`)))
	members, err := store.ListMembers(ctx, "team_1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Viewer", members[0].RoleName)
	assert.Equal(t, []string{"read_expense"}, members[0].RolePermissions)
	assert.Empty(t, members[1].RoleID)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE team_members SET role_id = $2 WHERE role_id = $1")).
		WithArgs("role_1", "role_2").
		WillReturnResult(sqlmock.NewResult(0, 3))
	moved, err := store.ReassignMembers(ctx, "role_1", "role_2")
	require.NoError(t, err)
	assert.Equal(t, 3, moved)

	mock.ExpectExec("DELETE FROM team_members").
		WithArgs("team_1", "user_9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.RemoveMember(ctx, "team_1", "user_9"), ErrMemberNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBusiness(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()
	columns := []string{
		"id", "name", "owner_id", "settings", "teams_count", "users_count", "total_expenses",
		"active_budgets", "subscription_plan", "subscription_status", "subscription_expires_at", "created_at", "updated_at",
	}

	mock.ExpectQuery("FROM businesses WHERE id = \\$1").
		WithArgs("biz_1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("biz_1", "Acme", "user_1", []byte(`{"defaultCurrency":"EUR"}`), 2, 5, int64(1200), 1, "pro", "active", nil, now, now))

	business, err := store.GetBusiness(ctx, "biz_1")
	require.NoError(t, err)
	assert.Equal(t, "EUR", business.Settings.DefaultCurrency)
	assert.Equal(t, "UTC", business.Settings.Timezone)
	assert.Equal(t, 2, business.TeamsCount)
	assert.Nil(t, business.SubscriptionExpiresAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM businesses WHERE id = $1 FOR UPDATE")).
		WithArgs("biz_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetBusinessForUpdate(ctx, "biz_missing")
	assert.ErrorIs(t, err, ErrBusinessNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM roles").WithArgs("role_1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.WithTx(ctx, func(q Queries) error {
			return q.DeleteRole(ctx, "role_1")
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE team_members SET role_id")).
			WithArgs("role_1", "role_2").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec("DELETE FROM roles").WithArgs("role_1").WillReturnError(errors.New("fk violation"))
		mock.ExpectRollback()

		err := store.WithTx(ctx, func(q Queries) error {
			if _, err := q.ReassignMembers(ctx, "role_1", "role_2"); err != nil {
				return err
			}
			return q.DeleteRole(ctx, "role_1")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fk violation")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls share the transaction", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM roles").WithArgs("role_1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.WithTx(ctx, func(q Queries) error {
			return q.(Store).WithTx(ctx, func(inner Queries) error {
				return inner.DeleteRole(ctx, "role_1")
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err := store.WithTx(ctx, func(q Queries) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start transaction")
	})
}

package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Postgres constraint names the store maps to sentinel errors
const (
	constraintRoleName     = "roles_team_id_name_key"
	constraintMember       = "team_members_team_id_user_id_key"
	constraintActiveTeam   = "idx_teams_business_active_name"
	constraintUserEmail    = "users_email_key"
	pqUniqueViolation      = "23505"
	teamColumns            = `id, name, COALESCE(description, ''), business_id, admin_user_id, member_count, budget_count, total_expenses, is_active, created_at, updated_at`
	roleColumns            = `id, name, COALESCE(description, ''), team_id, permissions, user_count, is_default, created_at, updated_at`
	businessColumns        = `id, name, owner_id, settings, teams_count, users_count, total_expenses, active_budgets, subscription_plan, subscription_status, subscription_expires_at, created_at, updated_at`
	memberColumns          = `id, team_id, user_id, COALESCE(role_id, ''), joined_at`
	userColumns            = `id, name, email, account_type, COALESCE(business_id, ''), created_at`
	businessForUpdateQuery = `SELECT ` + businessColumns + ` FROM businesses WHERE id = $1 FOR UPDATE`
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sql.DB
	q  querier
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// WithTx runs fn inside a database transaction
func (s *PostgresStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by ID
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.getUser(ctx, query, id)
}

// GetUserByEmail retrieves a user by email, ignoring case
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return s.getUser(ctx, query, email)
}

func (s *PostgresStore) getUser(ctx context.Context, query, arg string) (*User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateUser inserts a user
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = newID("usr")
	}
	now := time.Now()

	query := `
		INSERT INTO users (id, name, email, account_type, business_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.AccountType,
		nullString(user.BusinessID),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err, constraintUserEmail) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	return nil
}

// ListUsers lists the users of a business in sign-up order
func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]*User, int, error) {
	where := `WHERE u.business_id = $1`
	args := []interface{}{filter.BusinessID}
	if filter.TeamID != "" {
		args = append(args, filter.TeamID)
		where += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM team_members tm WHERE tm.user_id = u.id AND tm.team_id = $%d
		)`, len(args))
	}
	if filter.RoleName != "" {
		args = append(args, filter.RoleName)
		where += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM team_members tm JOIN roles r ON tm.role_id = r.id
			WHERE tm.user_id = u.id AND r.name = $%d
		)`, len(args))
	}

	total, err := s.count(ctx, "count users", `SELECT COUNT(*) FROM users u `+where, args...)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT u.id, u.name, u.email, u.account_type, COALESCE(u.business_id, ''), u.created_at
		FROM users u %s
		ORDER BY u.created_at, u.id
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

// DetachUser nulls the business of a user
func (s *PostgresStore) DetachUser(ctx context.Context, id string) error {
	query := `UPDATE users SET business_id = NULL, updated_at = $2 WHERE id = $1`
	result, err := s.q.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to detach user: %w", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// ListUserMemberships lists every team membership of a user, including
// memberships of soft-deleted teams
func (s *PostgresStore) ListUserMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	query := `
		SELECT tm.id, tm.team_id, t.name, t.is_active, COALESCE(tm.role_id, ''), COALESCE(r.name, ''), tm.joined_at
		FROM team_members tm
		JOIN teams t ON tm.team_id = t.id
		LEFT JOIN roles r ON tm.role_id = r.id
		WHERE tm.user_id = $1
		ORDER BY tm.joined_at
	`
	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user memberships: %w", err)
	}
	defer rows.Close()

	memberships := []*Membership{}
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.MemberID, &m.TeamID, &m.TeamName, &m.TeamActive, &m.RoleID, &m.RoleName, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list user memberships: %w", err)
	}
	return memberships, nil
}

// CountAdministeredTeams counts the active teams a user administers
func (s *PostgresStore) CountAdministeredTeams(ctx context.Context, businessID, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM teams WHERE business_id = $1 AND admin_user_id = $2 AND is_active = true`
	return s.count(ctx, "count administered teams", query, businessID, userID)
}

// GetBusiness retrieves a business by ID
func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE id = $1`
	return s.getBusiness(ctx, query, id)
}

// GetBusinessForUpdate retrieves and locks a business row
func (s *PostgresStore) GetBusinessForUpdate(ctx context.Context, id string) (*Business, error) {
	return s.getBusiness(ctx, businessForUpdateQuery, id)
}

// GetBusinessByOwner retrieves the business owned by a user
func (s *PostgresStore) GetBusinessByOwner(ctx context.Context, ownerID string) (*Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE owner_id = $1 ORDER BY created_at LIMIT 1`
	return s.getBusiness(ctx, query, ownerID)
}

func (s *PostgresStore) getBusiness(ctx context.Context, query string, arg string) (*Business, error) {
	b, err := scanBusiness(s.q.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	return b, nil
}

// UpdateBusinessProfile updates the name and settings of a business
func (s *PostgresStore) UpdateBusinessProfile(ctx context.Context, id, name string, settings BusinessSettings) (*Business, error) {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		UPDATE businesses
		SET name = $2, settings = $3, updated_at = $4
		WHERE id = $1
		RETURNING ` + businessColumns

	b, err := scanBusiness(s.q.QueryRowContext(ctx, query, id, name, string(settingsJSON), time.Now()))
	if err == sql.ErrNoRows {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update business: %w", err)
	}
	return b, nil
}

// SetBusinessTeamsCount writes the denormalized team counter
func (s *PostgresStore) SetBusinessTeamsCount(ctx context.Context, id string, count int) error {
	query := `UPDATE businesses SET teams_count = $2, updated_at = $3 WHERE id = $1`
	result, err := s.q.ExecContext(ctx, query, id, count, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update teams count: %w", err)
	}
	return requireRow(result, ErrBusinessNotFound)
}

// SetBusinessUsersCount writes the denormalized user counter
func (s *PostgresStore) SetBusinessUsersCount(ctx context.Context, id string, count int) error {
	query := `UPDATE businesses SET users_count = $2, updated_at = $3 WHERE id = $1`
	result, err := s.q.ExecContext(ctx, query, id, count, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update users count: %w", err)
	}
	return requireRow(result, ErrBusinessNotFound)
}

// CountBusinessTeams counts the active teams of a business
func (s *PostgresStore) CountBusinessTeams(ctx context.Context, businessID string) (int, error) {
	query := `SELECT COUNT(*) FROM teams WHERE business_id = $1 AND is_active = true`
	return s.count(ctx, "count teams", query, businessID)
}

// CountBusinessUsers counts distinct users across the business's teams
func (s *PostgresStore) CountBusinessUsers(ctx context.Context, businessID string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT tm.user_id)
		FROM team_members tm
		JOIN teams t ON tm.team_id = t.id
		WHERE t.business_id = $1
	`
	return s.count(ctx, "count business users", query, businessID)
}

// CreateTeam inserts a team
func (s *PostgresStore) CreateTeam(ctx context.Context, team *Team) error {
	if team.ID == "" {
		team.ID = newID("team")
	}
	now := time.Now()

	query := `
		INSERT INTO teams (id, name, description, business_id, admin_user_id, member_count, budget_count, total_expenses, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.q.ExecContext(ctx, query,
		team.ID,
		team.Name,
		nullString(team.Description),
		team.BusinessID,
		team.AdminUserID,
		team.MemberCount,
		team.BudgetCount,
		team.TotalExpenses,
		team.IsActive,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err, constraintActiveTeam) {
			return ErrDuplicateTeamName
		}
		return fmt.Errorf("failed to create team: %w", err)
	}

	team.CreatedAt = now
	team.UpdatedAt = now
	return nil
}

// GetTeam retrieves a team by ID
func (s *PostgresStore) GetTeam(ctx context.Context, id string) (*Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	team, err := scanTeam(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return team, nil
}

// TeamNameExists checks for an active team with the same name
func (s *PostgresStore) TeamNameExists(ctx context.Context, businessID, name, excludeID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM teams
			WHERE business_id = $1 AND name = $2 AND is_active = true AND id <> $3
		)
	`
	var exists bool
	if err := s.q.QueryRowContext(ctx, query, businessID, name, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check team name: %w", err)
	}
	return exists, nil
}

// ListTeams lists active teams matching the filter, newest first
func (s *PostgresStore) ListTeams(ctx context.Context, filter TeamFilter) ([]*Team, int, error) {
	where := `WHERE business_id = $1 AND is_active = true`
	args := []interface{}{filter.BusinessID}
	if filter.MemberUserID != "" {
		where += ` AND (admin_user_id = $2 OR EXISTS (
			SELECT 1 FROM team_members tm WHERE tm.team_id = teams.id AND tm.user_id = $2
		))`
		args = append(args, filter.MemberUserID)
	}

	total, err := s.count(ctx, "count teams", `SELECT COUNT(*) FROM teams `+where, args...)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM teams %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		teamColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := []*Team{}
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, total, nil
}

// UpdateTeam writes the mutable team fields. Counters are adjusted separately.
func (s *PostgresStore) UpdateTeam(ctx context.Context, team *Team) error {
	now := time.Now()
	query := `
		UPDATE teams
		SET name = $2, description = $3, admin_user_id = $4, is_active = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := s.q.ExecContext(ctx, query,
		team.ID,
		team.Name,
		nullString(team.Description),
		team.AdminUserID,
		team.IsActive,
		now,
	)
	if err != nil {
		if isUniqueViolation(err, constraintActiveTeam) {
			return ErrDuplicateTeamName
		}
		return fmt.Errorf("failed to update team: %w", err)
	}
	if err := requireRow(result, ErrTeamNotFound); err != nil {
		return err
	}
	team.UpdatedAt = now
	return nil
}

// AdjustTeamMemberCount adds delta to the member counter, flooring at zero
func (s *PostgresStore) AdjustTeamMemberCount(ctx context.Context, teamID string, delta int) error {
	query := `UPDATE teams SET member_count = GREATEST(member_count + $2, 0), updated_at = $3 WHERE id = $1`
	result, err := s.q.ExecContext(ctx, query, teamID, delta, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update member count: %w", err)
	}
	return requireRow(result, ErrTeamNotFound)
}

// CreateRole inserts a role after validating its permissions
func (s *PostgresStore) CreateRole(ctx context.Context, role *Role) error {
	if err := ValidatePermissions(role.Permissions); err != nil {
		return err
	}
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	if role.ID == "" {
		role.ID = newID("role")
	}
	now := time.Now()

	query := `
		INSERT INTO roles (id, name, description, team_id, permissions, user_count, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.q.ExecContext(ctx, query,
		role.ID,
		role.Name,
		nullString(role.Description),
		role.TeamID,
		string(permissionsJSON),
		role.UserCount,
		role.IsDefault,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err, constraintRoleName) {
			return ErrDuplicateRoleName
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *PostgresStore) GetRole(ctx context.Context, id string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	role, err := scanRole(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists the roles of a team in creation order
func (s *PostgresStore) ListRoles(ctx context.Context, teamID string) ([]*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE team_id = $1 ORDER BY created_at, name`
	rows, err := s.q.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []*Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// RoleNameExists checks for another role of the team with the same name
func (s *PostgresStore) RoleNameExists(ctx context.Context, teamID, name, excludeID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM roles WHERE team_id = $1 AND name = $2 AND id <> $3)`
	var exists bool
	if err := s.q.QueryRowContext(ctx, query, teamID, name, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check role name: %w", err)
	}
	return exists, nil
}

// CountRoles counts the roles of a team
func (s *PostgresStore) CountRoles(ctx context.Context, teamID string) (int, error) {
	return s.count(ctx, "count roles", `SELECT COUNT(*) FROM roles WHERE team_id = $1`, teamID)
}

// UpdateRole writes name, description and permissions
func (s *PostgresStore) UpdateRole(ctx context.Context, role *Role) error {
	if err := ValidatePermissions(role.Permissions); err != nil {
		return err
	}
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	now := time.Now()

	query := `
		UPDATE roles
		SET name = $2, description = $3, permissions = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := s.q.ExecContext(ctx, query,
		role.ID,
		role.Name,
		nullString(role.Description),
		string(permissionsJSON),
		now,
	)
	if err != nil {
		if isUniqueViolation(err, constraintRoleName) {
			return ErrDuplicateRoleName
		}
		return fmt.Errorf("failed to update role: %w", err)
	}
	if err := requireRow(result, ErrRoleNotFound); err != nil {
		return err
	}
	role.UpdatedAt = now
	return nil
}

// AdjustRoleUserCount adds delta to the user counter, flooring at zero
func (s *PostgresStore) AdjustRoleUserCount(ctx context.Context, roleID string, delta int) error {
	query := `UPDATE roles SET user_count = GREATEST(user_count + $2, 0), updated_at = $3 WHERE id = $1`
	result, err := s.q.ExecContext(ctx, query, roleID, delta, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update user count: %w", err)
	}
	return requireRow(result, ErrRoleNotFound)
}

// DeleteRole deletes a role
func (s *PostgresStore) DeleteRole(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return requireRow(result, ErrRoleNotFound)
}

// AddMember inserts a team membership
func (s *PostgresStore) AddMember(ctx context.Context, member *TeamMember) error {
	if member.ID == "" {
		member.ID = newID("member")
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}

	query := `
		INSERT INTO team_members (id, team_id, user_id, role_id, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.q.ExecContext(ctx, query,
		member.ID,
		member.TeamID,
		member.UserID,
		nullString(member.RoleID),
		member.JoinedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintMember) {
			return ErrDuplicateMember
		}
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// GetMember retrieves the membership of a user in a team
func (s *PostgresStore) GetMember(ctx context.Context, teamID, userID string) (*TeamMember, error) {
	query := `SELECT ` + memberColumns + ` FROM team_members WHERE team_id = $1 AND user_id = $2`
	member := &TeamMember{}
	err := s.q.QueryRowContext(ctx, query, teamID, userID).Scan(
		&member.ID, &member.TeamID, &member.UserID, &member.RoleID, &member.JoinedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team member: %w", err)
	}
	return member, nil
}

// ListMembers lists a team's memberships with user and role details
func (s *PostgresStore) ListMembers(ctx context.Context, teamID string) ([]*MemberDetail, error) {
	query := `
		SELECT tm.id, tm.team_id, tm.user_id, COALESCE(tm.role_id, ''), tm.joined_at,
		       COALESCE(u.name, ''), COALESCE(u.email, ''), COALESCE(r.name, ''), COALESCE(r.permissions, '[]'::jsonb)
		FROM team_members tm
		LEFT JOIN users u ON tm.user_id = u.id
		LEFT JOIN roles r ON tm.role_id = r.id
		WHERE tm.team_id = $1
		ORDER BY tm.joined_at
	`
	rows, err := s.q.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	members := []*MemberDetail{}
	for rows.Next() {
		m := &MemberDetail{}
		var permissionsJSON []byte
		if err := rows.Scan(
			&m.ID, &m.TeamID, &m.UserID, &m.RoleID, &m.JoinedAt,
			&m.UserName, &m.UserEmail, &m.RoleName, &permissionsJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		if err := json.Unmarshal(permissionsJSON, &m.RolePermissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return members, nil
}

// CountMembersWithRole counts memberships referencing a role
func (s *PostgresStore) CountMembersWithRole(ctx context.Context, roleID string) (int, error) {
	return s.count(ctx, "count role members", `SELECT COUNT(*) FROM team_members WHERE role_id = $1`, roleID)
}

// ReassignMembers moves every membership from one role to another
func (s *PostgresStore) ReassignMembers(ctx context.Context, fromRoleID, toRoleID string) (int, error) {
	result, err := s.q.ExecContext(ctx, `UPDATE team_members SET role_id = $2 WHERE role_id = $1`, fromRoleID, toRoleID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign team members: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to reassign team members: %w", err)
	}
	return int(n), nil
}

// UpdateMemberRole changes the role of one membership
func (s *PostgresStore) UpdateMemberRole(ctx context.Context, memberID, roleID string) error {
	result, err := s.q.ExecContext(ctx, `UPDATE team_members SET role_id = $2 WHERE id = $1`, memberID, nullString(roleID))
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	return requireRow(result, ErrMemberNotFound)
}

// RemoveMember deletes the membership of a user in a team
func (s *PostgresStore) RemoveMember(ctx context.Context, teamID, userID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	return requireRow(result, ErrMemberNotFound)
}

func (s *PostgresStore) count(ctx context.Context, op, query string, args ...interface{}) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n, nil
}

func scanTeam(row scanner) (*Team, error) {
	team := &Team{}
	err := row.Scan(
		&team.ID,
		&team.Name,
		&team.Description,
		&team.BusinessID,
		&team.AdminUserID,
		&team.MemberCount,
		&team.BudgetCount,
		&team.TotalExpenses,
		&team.IsActive,
		&team.CreatedAt,
		&team.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return team, nil
}

func scanUser(row scanner) (*User, error) {
	user := &User{}
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.AccountType, &user.BusinessID, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func scanRole(row scanner) (*Role, error) {
	role := &Role{}
	var permissionsJSON []byte
	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.TeamID,
		&permissionsJSON,
		&role.UserCount,
		&role.IsDefault,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(permissionsJSON, &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return role, nil
}

func scanBusiness(row scanner) (*Business, error) {
	b := &Business{}
	var settingsJSON []byte
	var expiresAt sql.NullTime
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.OwnerID,
		&settingsJSON,
		&b.TeamsCount,
		&b.UsersCount,
		&b.TotalExpenses,
		&b.ActiveBudgets,
		&b.SubscriptionPlan,
		&b.SubscriptionStatus,
		&expiresAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Settings = DefaultBusinessSettings()
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &b.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	if expiresAt.Valid {
		b.SubscriptionExpiresAt = &expiresAt.Time
	}
	return b, nil
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqUniqueViolation && pqErr.Constraint == constraint
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/finoly/finoly/pkg/auth"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RoleManager creates, updates and deletes team roles
type RoleManager struct {
	store  Store
	policy Evaluator
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewRoleManager creates a new RoleManager
func NewRoleManager(store Store, policy Evaluator, logger *logrus.Logger) *RoleManager {
	return &RoleManager{
		store:  store,
		policy: policy,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// CreateRoleInput is the payload of CreateRole
type CreateRoleInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// UpdateRoleInput is a partial role update; nil fields are unchanged
type UpdateRoleInput struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

// DeleteRoleResult reports how many memberships a deletion moved and where
type DeleteRoleResult struct {
	DeletedRoleID    string `json:"deletedRoleId"`
	AffectedUsers    int    `json:"affectedUsers"`
	ReassignedToRole *Role  `json:"reassignedToRole,omitempty"`
}

// RoleSummary aggregates the roles of one team
type RoleSummary struct {
	TotalRoles   int `json:"totalRoles"`
	TotalUsers   int `json:"totalUsers"`
	DefaultRoles int `json:"defaultRoles"`
	CustomRoles  int `json:"customRoles"`
	// ResourcePermissionDistribution counts roles granting at least one
	// permission on each resource
	ResourcePermissionDistribution map[string]int `json:"resourcePermissionDistribution"`
}

// RoleView is a role with its permissions grouped by resource label
type RoleView struct {
	*Role
	PermissionsByResource map[string][]string `json:"permissionsByResource"`
}

// TeamRoles is the role listing of one team
type TeamRoles struct {
	TeamID   string      `json:"teamId"`
	TeamName string      `json:"teamName"`
	Roles    []*RoleView `json:"roles"`
	Summary  RoleSummary `json:"summary"`
}

// RoleDetails is one role with the members holding it
type RoleDetails struct {
	*RoleView
	Members []*MemberDetail `json:"members"`
}

// CreateRole adds a custom role to a team
func (m *RoleManager) CreateRole(ctx context.Context, identity *auth.Identity, teamID string, in CreateRoleInput) (role *Role, err error) {
	ctx, span := m.tracer.Start(ctx, "RoleManager.CreateRole", trace.WithAttributes(attribute.String("team.id", teamID)))
	defer endSpan(span, &err)

	team, err := m.requireRoleManager(ctx, identity, teamID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if err := validateName("name", "Role name", name); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(in.Description)
	if err := validateDescription(description); err != nil {
		return nil, err
	}
	if err := ValidatePermissions(in.Permissions); err != nil {
		return nil, err
	}

	exists, err := m.store.RoleNameExists(ctx, team.ID, name, "")
	if err != nil {
		return nil, storeError("check role name", err)
	}
	if exists {
		return nil, duplicateRoleName()
	}

	role = &Role{
		Name:        name,
		Description: description,
		TeamID:      team.ID,
		Permissions: NormalizePermissions(in.Permissions),
	}
	err = m.store.CreateRole(ctx, role)
	if errors.Is(err, ErrDuplicateRoleName) {
		return nil, duplicateRoleName()
	}
	if err != nil {
		return nil, storeError("create role", err)
	}

	m.logger.WithFields(logrus.Fields{
		"team_id": team.ID,
		"role_id": role.ID,
	}).Info("role created")
	return role, nil
}

// UpdateRole edits a role's name, description or permissions. Submitting
// the same values twice yields the same role.
func (m *RoleManager) UpdateRole(ctx context.Context, identity *auth.Identity, teamID, roleID string, in UpdateRoleInput) (role *Role, err error) {
	ctx, span := m.tracer.Start(ctx, "RoleManager.UpdateRole", trace.WithAttributes(
		attribute.String("team.id", teamID),
		attribute.String("role.id", roleID),
	))
	defer endSpan(span, &err)

	team, err := m.requireRoleManager(ctx, identity, teamID)
	if err != nil {
		return nil, err
	}
	role, err = m.teamRole(ctx, team.ID, roleID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validateName("name", "Role name", name); err != nil {
			return nil, err
		}
		if name != role.Name {
			exists, err := m.store.RoleNameExists(ctx, team.ID, name, role.ID)
			if err != nil {
				return nil, storeError("check role name", err)
			}
			if exists {
				return nil, duplicateRoleName()
			}
			role.Name = name
		}
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if err := validateDescription(description); err != nil {
			return nil, err
		}
		role.Description = description
	}
	if in.Permissions != nil {
		if err := ValidatePermissions(*in.Permissions); err != nil {
			return nil, err
		}
		permissions := NormalizePermissions(*in.Permissions)
		if !grantsAll(permissions) {
			held, err := m.adminHolds(ctx, team, role.ID)
			if err != nil {
				return nil, err
			}
			if held {
				return nil, NewValidationError(CodeCannotChangeAdminRole, "permissions",
					"The team admin must keep a role with full permissions")
			}
		}
		role.Permissions = permissions
	}

	err = m.store.UpdateRole(ctx, role)
	if errors.Is(err, ErrDuplicateRoleName) {
		return nil, duplicateRoleName()
	}
	if err != nil {
		return nil, storeError("update role", err)
	}
	return role, nil
}

// DeleteRole removes a role. Members still holding it must be moved to
// reassignTo, another role of the same team, and the last role of a team
// cannot be removed.
func (m *RoleManager) DeleteRole(ctx context.Context, identity *auth.Identity, teamID, roleID, reassignTo string) (result *DeleteRoleResult, err error) {
	ctx, span := m.tracer.Start(ctx, "RoleManager.DeleteRole", trace.WithAttributes(
		attribute.String("team.id", teamID),
		attribute.String("role.id", roleID),
	))
	defer endSpan(span, &err)

	team, err := m.requireRoleManager(ctx, identity, teamID)
	if err != nil {
		return nil, err
	}
	role, err := m.teamRole(ctx, team.ID, roleID)
	if err != nil {
		return nil, err
	}

	affected, err := m.store.CountMembersWithRole(ctx, role.ID)
	if err != nil {
		return nil, storeError("count role members", err)
	}
	if affected > 0 && reassignTo == "" {
		return nil, NewReassignmentRequired(affected)
	}

	var target *Role
	if reassignTo != "" {
		target, err = m.store.GetRole(ctx, reassignTo)
		if err != nil && !errors.Is(err, ErrRoleNotFound) {
			return nil, storeError("get role", err)
		}
		if target == nil || target.TeamID != team.ID || target.ID == role.ID {
			return nil, NewValidationError(CodeReassignRoleNotFound, "reassignToRoleId",
				"Reassignment role not found in this team")
		}
	}
	if affected > 0 && !grantsAll(target.Permissions) {
		held, err := m.adminHolds(ctx, team, role.ID)
		if err != nil {
			return nil, err
		}
		if held {
			return nil, NewValidationError(CodeCannotChangeAdminRole, "reassignToRoleId",
				"The team admin must be reassigned to a role with full permissions")
		}
	}

	total, err := m.store.CountRoles(ctx, team.ID)
	if err != nil {
		return nil, storeError("count roles", err)
	}
	if total <= 1 {
		return nil, NewValidationError(CodeLastRoleCannotDelete, "roleId", "Cannot delete the last role in a team")
	}

	result = &DeleteRoleResult{DeletedRoleID: role.ID}
	err = m.store.WithTx(ctx, func(q Queries) error {
		if affected > 0 {
			moved, err := q.ReassignMembers(ctx, role.ID, target.ID)
			if err != nil {
				return err
			}
			if err := q.AdjustRoleUserCount(ctx, target.ID, moved); err != nil {
				return err
			}
			result.AffectedUsers = moved
		}
		return q.DeleteRole(ctx, role.ID)
	})
	if err != nil {
		return nil, storeError("delete role", err)
	}

	if result.AffectedUsers > 0 {
		target.UserCount += result.AffectedUsers
		result.ReassignedToRole = target
	}

	m.logger.WithFields(logrus.Fields{
		"team_id":        team.ID,
		"role_id":        role.ID,
		"affected_users": result.AffectedUsers,
	}).Info("role deleted")
	return result, nil
}

// adminHolds reports whether the team admin's membership carries roleID
func (m *RoleManager) adminHolds(ctx context.Context, team *Team, roleID string) (bool, error) {
	if team.AdminUserID == "" {
		return false, nil
	}
	member, err := m.store.GetMember(ctx, team.ID, team.AdminUserID)
	if errors.Is(err, ErrMemberNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeError("get team admin", err)
	}
	return member.RoleID == roleID, nil
}

// ListRoles returns every role of a team with aggregate statistics. Any
// user of the team's business may read them.
func (m *RoleManager) ListRoles(ctx context.Context, identity *auth.Identity, teamID string) (result *TeamRoles, err error) {
	ctx, span := m.tracer.Start(ctx, "RoleManager.ListRoles", trace.WithAttributes(attribute.String("team.id", teamID)))
	defer endSpan(span, &err)

	team, err := m.businessTeam(ctx, identity, teamID)
	if err != nil {
		return nil, err
	}
	roles, err := m.store.ListRoles(ctx, team.ID)
	if err != nil {
		return nil, storeError("list roles", err)
	}

	result = &TeamRoles{
		TeamID:   team.ID,
		TeamName: team.Name,
		Roles:    make([]*RoleView, 0, len(roles)),
		Summary:  SummarizeRoles(roles),
	}
	for _, role := range roles {
		result.Roles = append(result.Roles, newRoleView(role))
	}
	return result, nil
}

// GetRole returns one role of a team with the members holding it
func (m *RoleManager) GetRole(ctx context.Context, identity *auth.Identity, teamID, roleID string) (details *RoleDetails, err error) {
	ctx, span := m.tracer.Start(ctx, "RoleManager.GetRole", trace.WithAttributes(
		attribute.String("team.id", teamID),
		attribute.String("role.id", roleID),
	))
	defer endSpan(span, &err)

	team, err := m.businessTeam(ctx, identity, teamID)
	if err != nil {
		return nil, err
	}
	role, err := m.teamRole(ctx, team.ID, roleID)
	if err != nil {
		return nil, err
	}

	members, err := m.store.ListMembers(ctx, team.ID)
	if err != nil {
		return nil, storeError("list team members", err)
	}
	details = &RoleDetails{RoleView: newRoleView(role), Members: []*MemberDetail{}}
	for _, member := range members {
		if member.RoleID == role.ID {
			details.Members = append(details.Members, member)
		}
	}
	return details, nil
}

// SummarizeRoles computes the aggregate statistics of a role set
func SummarizeRoles(roles []*Role) RoleSummary {
	summary := RoleSummary{
		TotalRoles:                     len(roles),
		ResourcePermissionDistribution: make(map[string]int, len(Resources)),
	}
	for _, resource := range Resources {
		summary.ResourcePermissionDistribution[string(resource)] = 0
	}

	for _, role := range roles {
		summary.TotalUsers += role.UserCount
		if role.IsDefault {
			summary.DefaultRoles++
		} else {
			summary.CustomRoles++
		}

		touched := map[string]bool{}
		for _, token := range role.Permissions {
			if resource, ok := validTokens[token]; ok {
				touched[string(resource)] = true
			}
		}
		for resource := range touched {
			summary.ResourcePermissionDistribution[resource]++
		}
	}
	return summary
}

func newRoleView(role *Role) *RoleView {
	permissions := append([]string(nil), role.Permissions...)
	sort.Strings(permissions)
	role.Permissions = permissions
	return &RoleView{Role: role, PermissionsByResource: GroupByResource(permissions)}
}

// requireRoleManager resolves the team and requires owner or admin access
func (m *RoleManager) requireRoleManager(ctx context.Context, identity *auth.Identity, teamID string) (*Team, error) {
	if err := requireBusiness(identity); err != nil {
		return nil, err
	}
	access := m.policy.Evaluate(ctx, identity, teamID)
	if access.Team == nil {
		return nil, teamNotFound()
	}
	if !access.IsBusinessOwner && !access.IsTeamAdmin {
		return nil, NewPermissionDenied(CodePermissionDenied, "Only the team admin or business owner can manage roles")
	}
	return access.Team, nil
}

// businessTeam resolves an active team of the caller's business
func (m *RoleManager) businessTeam(ctx context.Context, identity *auth.Identity, teamID string) (*Team, error) {
	if err := requireBusiness(identity); err != nil {
		return nil, err
	}
	team, err := m.store.GetTeam(ctx, teamID)
	if errors.Is(err, ErrTeamNotFound) {
		return nil, teamNotFound()
	}
	if err != nil {
		return nil, storeError("get team", err)
	}
	if !team.IsActive || team.BusinessID != identity.BusinessID {
		return nil, teamNotFound()
	}
	return team, nil
}

// teamRole loads a role and hides roles of other teams
func (m *RoleManager) teamRole(ctx context.Context, teamID, roleID string) (*Role, error) {
	role, err := m.store.GetRole(ctx, roleID)
	if errors.Is(err, ErrRoleNotFound) {
		return nil, roleNotFound()
	}
	if err != nil {
		return nil, storeError("get role", err)
	}
	if role.TeamID != teamID {
		return nil, roleNotFound()
	}
	return role, nil
}

func duplicateRoleName() *Error {
	return NewValidationError(CodeDuplicateRoleName, "name", "A role with this name already exists in this team")
}

package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/finoly/finoly/pkg/auth"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/finoly/finoly/pkg/rbac"

// TeamManager creates, updates and soft-deletes teams and manages their
// memberships
type TeamManager struct {
	store  Store
	policy Evaluator
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewTeamManager creates a new TeamManager
func NewTeamManager(store Store, policy Evaluator, logger *logrus.Logger) *TeamManager {
	return &TeamManager{
		store:  store,
		policy: policy,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// MemberInput names a user to add and, optionally, the role to give them.
// RoleID may be a role id or one of the default role names or template keys.
type MemberInput struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId,omitempty"`
}

// CreateTeamInput is the payload of CreateTeam
type CreateTeamInput struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	AdminUserID string        `json:"adminUserId,omitempty"`
	Members     []MemberInput `json:"members,omitempty"`
}

// SkippedMember is a member entry CreateTeam did not add
type SkippedMember struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId,omitempty"`
	Reason string `json:"reason"`
}

// Skip reasons
const (
	SkipMissingUserID  = "missing user id"
	SkipDuplicateEntry = "duplicate entry"
	SkipAlreadyAdmin   = "user is the team admin"
	SkipUserNotFound   = "user not found"
	SkipUserNotInBiz   = "user does not belong to the business"
	SkipRoleNotInTeam  = "role does not belong to the team"
)

// CreateTeamResult is the outcome of CreateTeam
type CreateTeamResult struct {
	Team    *Team           `json:"team"`
	Roles   []*Role         `json:"roles"`
	Members []*TeamMember   `json:"members"`
	Skipped []SkippedMember `json:"skipped"`
}

// UpdateTeamInput is a partial team update; nil fields are unchanged
type UpdateTeamInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	AdminUserID *string `json:"adminUserId,omitempty"`
}

// UserSummary identifies a user in read projections
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TeamDetails is the full read projection of one team
type TeamDetails struct {
	Team         *Team           `json:"team"`
	BusinessName string          `json:"businessName"`
	Admin        UserSummary     `json:"admin"`
	Members      []*MemberDetail `json:"members"`
	Roles        []*Role         `json:"roles"`
	// UserRole is "owner", "admin" or "member"
	UserRole string `json:"userRole"`
}

// TeamPage is one page of ListTeams
type TeamPage struct {
	Teams []*Team `json:"teams"`
	Total int     `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}

// Listing limits
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// CreateTeam creates a team with its default roles and admin membership in
// one transaction. Invalid member entries are skipped and reported.
func (m *TeamManager) CreateTeam(ctx context.Context, identity *auth.Identity, in CreateTeamInput) (result *CreateTeamResult, err error) {
	ctx, span := m.tracer.Start(ctx, "TeamManager.CreateTeam")
	defer endSpan(span, &err)

	if err := requireBusiness(identity); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if err := validateName("name", "Team name", name); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(in.Description)
	if err := validateDescription(description); err != nil {
		return nil, err
	}

	business, err := m.store.GetBusiness(ctx, identity.BusinessID)
	if errors.Is(err, ErrBusinessNotFound) {
		return nil, NewNotFound(CodeBusinessNotFound, "Business not found")
	}
	if err != nil {
		return nil, storeError("get business", err)
	}
	if !m.policy.IsBusinessOwner(ctx, identity, business.ID) {
		return nil, NewPermissionDenied(CodeBusinessOwnerRequired, "Only the business owner can create teams")
	}

	exists, err := m.store.TeamNameExists(ctx, business.ID, name, "")
	if err != nil {
		return nil, storeError("check team name", err)
	}
	if exists {
		return nil, duplicateTeamName()
	}

	adminUserID := identity.UserID
	if in.AdminUserID != "" && in.AdminUserID != identity.UserID {
		if err := m.requireBusinessUser(ctx, in.AdminUserID, business.ID); err != nil {
			return nil, err
		}
		adminUserID = in.AdminUserID
	}

	result = &CreateTeamResult{Members: []*TeamMember{}, Skipped: []SkippedMember{}}
	err = m.store.WithTx(ctx, func(q Queries) error {
		team := &Team{
			Name:        name,
			Description: description,
			BusinessID:  business.ID,
			AdminUserID: adminUserID,
			MemberCount: 1,
			IsActive:    true,
		}
		if err := q.CreateTeam(ctx, team); err != nil {
			return err
		}

		roles, err := seedDefaultRoles(ctx, q, team.ID)
		if err != nil {
			return err
		}
		adminRole, memberRole := roles[0], roles[1]

		admin := &TeamMember{TeamID: team.ID, UserID: adminUserID, RoleID: adminRole.ID}
		if err := q.AddMember(ctx, admin); err != nil {
			return err
		}
		if err := q.AdjustRoleUserCount(ctx, adminRole.ID, 1); err != nil {
			return err
		}
		adminRole.UserCount++
		result.Members = append(result.Members, admin)

		seen := map[string]bool{}
		for _, entry := range in.Members {
			role, reason, err := m.resolveMemberEntry(ctx, q, entry, business.ID, adminUserID, roles, memberRole, seen)
			if err != nil {
				return err
			}
			if reason != "" {
				result.Skipped = append(result.Skipped, SkippedMember{UserID: entry.UserID, RoleID: entry.RoleID, Reason: reason})
				continue
			}

			member := &TeamMember{TeamID: team.ID, UserID: entry.UserID, RoleID: role.ID}
			if err := q.AddMember(ctx, member); err != nil {
				return err
			}
			if err := q.AdjustRoleUserCount(ctx, role.ID, 1); err != nil {
				return err
			}
			role.UserCount++
			result.Members = append(result.Members, member)
		}

		if added := len(result.Members) - 1; added > 0 {
			if err := q.AdjustTeamMemberCount(ctx, team.ID, added); err != nil {
				return err
			}
			team.MemberCount += added
		}

		locked, err := q.GetBusinessForUpdate(ctx, business.ID)
		if err != nil {
			return err
		}
		if err := q.SetBusinessTeamsCount(ctx, business.ID, locked.TeamsCount+1); err != nil {
			return err
		}

		result.Team = team
		result.Roles = roles
		return nil
	})
	if errors.Is(err, ErrDuplicateTeamName) {
		return nil, duplicateTeamName()
	}
	if err != nil {
		return nil, storeError("create team", err)
	}

	m.logger.WithFields(logrus.Fields{
		"team_id":     result.Team.ID,
		"business_id": business.ID,
		"members":     len(result.Members),
		"skipped":     len(result.Skipped),
	}).Info("team created")
	span.SetAttributes(attribute.String("team.id", result.Team.ID))

	return result, nil
}

// resolveMemberEntry returns the role for an entry, or a skip reason
func (m *TeamManager) resolveMemberEntry(ctx context.Context, q Queries, entry MemberInput, businessID, adminUserID string, roles []*Role, fallback *Role, seen map[string]bool) (*Role, string, error) {
	switch {
	case entry.UserID == "":
		return nil, SkipMissingUserID, nil
	case entry.UserID == adminUserID:
		return nil, SkipAlreadyAdmin, nil
	case seen[entry.UserID]:
		return nil, SkipDuplicateEntry, nil
	}

	user, err := q.GetUser(ctx, entry.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, SkipUserNotFound, nil
	}
	if err != nil {
		return nil, "", err
	}
	if user.BusinessID != businessID {
		return nil, SkipUserNotInBiz, nil
	}

	role := fallback
	if entry.RoleID != "" {
		role = matchSeededRole(roles, entry.RoleID)
		if role == nil {
			return nil, SkipRoleNotInTeam, nil
		}
	}

	seen[entry.UserID] = true
	return role, "", nil
}

// UpdateTeam renames a team, edits its description or reassigns its admin
func (m *TeamManager) UpdateTeam(ctx context.Context, identity *auth.Identity, teamID string, in UpdateTeamInput) (team *Team, err error) {
	ctx, span := m.tracer.Start(ctx, "TeamManager.UpdateTeam", trace.WithAttributes(attribute.String("team.id", teamID)))
	defer endSpan(span, &err)

	if err := requireBusiness(identity); err != nil {
		return nil, err
	}
	access := m.policy.Evaluate(ctx, identity, teamID)
	if access.Team == nil {
		return nil, teamNotFound()
	}
	if !access.IsBusinessOwner && !access.IsTeamAdmin {
		return nil, NewPermissionDenied(CodeTeamUpdateDenied, "Only the team admin or business owner can update this team")
	}
	team = access.Team

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validateName("name", "Team name", name); err != nil {
			return nil, err
		}
		if name != team.Name {
			exists, err := m.store.TeamNameExists(ctx, team.BusinessID, name, team.ID)
			if err != nil {
				return nil, storeError("check team name", err)
			}
			if exists {
				return nil, duplicateTeamName()
			}
			team.Name = name
		}
	}

	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if err := validateDescription(description); err != nil {
			return nil, err
		}
		team.Description = description
	}

	newAdmin := ""
	if in.AdminUserID != nil && *in.AdminUserID != "" && *in.AdminUserID != team.AdminUserID {
		if err := m.requireBusinessUser(ctx, *in.AdminUserID, team.BusinessID); err != nil {
			return nil, err
		}
		newAdmin = *in.AdminUserID
		team.AdminUserID = newAdmin
	}

	err = m.store.WithTx(ctx, func(q Queries) error {
		if err := q.UpdateTeam(ctx, team); err != nil {
			return err
		}
		if newAdmin != "" {
			return ensureAdminMembership(ctx, q, team)
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateTeamName) {
		return nil, duplicateTeamName()
	}
	if err != nil {
		return nil, storeError("update team", err)
	}

	updated, err := m.store.GetTeam(ctx, team.ID)
	if err != nil {
		return nil, storeError("get team", err)
	}
	return updated, nil
}

// ensureAdminMembership keeps the team admin a member holding the default
// admin role
func ensureAdminMembership(ctx context.Context, q Queries, team *Team) error {
	roles, err := q.ListRoles(ctx, team.ID)
	if err != nil {
		return err
	}
	adminRole := findAdminRole(roles)

	member, err := q.GetMember(ctx, team.ID, team.AdminUserID)
	if errors.Is(err, ErrMemberNotFound) {
		member = &TeamMember{TeamID: team.ID, UserID: team.AdminUserID}
		if adminRole != nil {
			member.RoleID = adminRole.ID
		}
		if err := q.AddMember(ctx, member); err != nil {
			return err
		}
		if err := q.AdjustTeamMemberCount(ctx, team.ID, 1); err != nil {
			return err
		}
		if adminRole != nil {
			return q.AdjustRoleUserCount(ctx, adminRole.ID, 1)
		}
		return nil
	}
	if err != nil {
		return err
	}

	if adminRole == nil || member.RoleID == adminRole.ID {
		return nil
	}
	return moveMemberRole(ctx, q, member, adminRole.ID)
}

// DeleteTeam soft-deletes a team and decrements the business team counter.
// Roles and memberships are retained.
func (m *TeamManager) DeleteTeam(ctx context.Context, identity *auth.Identity, teamID string) (err error) {
	ctx, span := m.tracer.Start(ctx, "TeamManager.DeleteTeam", trace.WithAttributes(attribute.String("team.id", teamID)))
	defer endSpan(span, &err)

	if err := requireBusiness(identity); err != nil {
		return err
	}
	access := m.policy.Evaluate(ctx, identity, teamID)
	if access.Team == nil {
		return teamNotFound()
	}
	if !access.IsBusinessOwner && !access.IsTeamAdmin {
		return NewPermissionDenied(CodeTeamDeleteDenied, "Only the team admin or business owner can delete this team")
	}
	team := access.Team

	err = m.store.WithTx(ctx, func(q Queries) error {
		team.IsActive = false
		if err := q.UpdateTeam(ctx, team); err != nil {
			return err
		}
		business, err := q.GetBusinessForUpdate(ctx, team.BusinessID)
		if err != nil {
			return err
		}
		return q.SetBusinessTeamsCount(ctx, business.ID, floorZero(business.TeamsCount-1))
	})
	if err != nil {
		return storeError("delete team", err)
	}

	m.logger.WithFields(logrus.Fields{
		"team_id":     team.ID,
		"business_id": team.BusinessID,
	}).Info("team deleted")
	return nil
}

// GetTeamDetails returns a team with its members, roles and the caller's
// relationship to it
func (m *TeamManager) GetTeamDetails(ctx context.Context, identity *auth.Identity, teamID string) (details *TeamDetails, err error) {
	ctx, span := m.tracer.Start(ctx, "TeamManager.GetTeamDetails", trace.WithAttributes(attribute.String("team.id", teamID)))
	defer endSpan(span, &err)

	if err := requireBusiness(identity); err != nil {
		return nil, err
	}
	access := m.policy.Evaluate(ctx, identity, teamID)
	if access.Team == nil {
		return nil, teamNotFound()
	}
	if !access.IsBusinessOwner && !access.HasTeamAccess {
		return nil, NewPermissionDenied(CodeTeamAccessDenied, "You do not have access to this team")
	}
	team := access.Team

	details = &TeamDetails{Team: team, Admin: UserSummary{ID: team.AdminUserID}}
	switch {
	case access.IsBusinessOwner:
		details.UserRole = "owner"
	case access.IsTeamAdmin:
		details.UserRole = "admin"
	default:
		details.UserRole = "member"
	}

	if admin, err := m.store.GetUser(ctx, team.AdminUserID); err == nil {
		details.Admin.Name = admin.Name
		details.Admin.Email = admin.Email
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, storeError("get team admin", err)
	}

	if business, err := m.store.GetBusiness(ctx, team.BusinessID); err == nil {
		details.BusinessName = business.Name
	} else if !errors.Is(err, ErrBusinessNotFound) {
		return nil, storeError("get business", err)
	}

	if details.Members, err = m.store.ListMembers(ctx, team.ID); err != nil {
		return nil, storeError("list team members", err)
	}
	if details.Roles, err = m.store.ListRoles(ctx, team.ID); err != nil {
		return nil, storeError("list roles", err)
	}
	return details, nil
}

// ListTeams lists the active teams visible to the caller. The business owner
// sees every team; other users see teams they administer or belong to.
func (m *TeamManager) ListTeams(ctx context.Context, identity *auth.Identity, page, limit int) (result *TeamPage, err error) {
	ctx, span := m.tracer.Start(ctx, "TeamManager.ListTeams")
	defer endSpan(span, &err)

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	result = &TeamPage{Teams: []*Team{}, Page: page, Limit: limit}

	if !identity.IsBusiness() {
		return result, nil
	}

	filter := TeamFilter{
		BusinessID: identity.BusinessID,
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}
	if !m.policy.IsBusinessOwner(ctx, identity, identity.BusinessID) {
		filter.MemberUserID = identity.UserID
	}

	teams, total, err := m.store.ListTeams(ctx, filter)
	if err != nil {
		return nil, storeError("list teams", err)
	}
	result.Teams = teams
	result.Total = total
	return result, nil
}

// requireBusinessUser checks that a user exists and belongs to the business
func (m *TeamManager) requireBusinessUser(ctx context.Context, userID, businessID string) error {
	user, err := m.store.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return NewValidationError(CodeInvalidAdminUser, "adminUserId",
			"Admin user does not exist or does not belong to this business")
	}
	if err != nil {
		return storeError("get user", err)
	}
	if user.BusinessID != businessID {
		return NewValidationError(CodeInvalidAdminUser, "adminUserId",
			"Admin user does not exist or does not belong to this business")
	}
	return nil
}

// seedDefaultRoles inserts Team Admin, Team Member and Viewer, in that order
func seedDefaultRoles(ctx context.Context, q Queries, teamID string) ([]*Role, error) {
	seeds := []struct {
		name     string
		template string
	}{
		{DefaultAdminRoleName, TemplateAdmin},
		{DefaultMemberRoleName, TemplateMember},
		{DefaultViewerRoleName, TemplateViewer},
	}

	roles := make([]*Role, 0, len(seeds))
	for _, seed := range seeds {
		tmpl, ok := TemplateFor(seed.template)
		if !ok {
			return nil, fmt.Errorf("missing role template %q", seed.template)
		}
		role := &Role{
			Name:        seed.name,
			Description: tmpl.Description,
			TeamID:      teamID,
			Permissions: tmpl.Permissions,
			IsDefault:   true,
		}
		if err := q.CreateRole(ctx, role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// matchSeededRole finds a freshly seeded role by id, name or template key
func matchSeededRole(roles []*Role, ref string) *Role {
	aliases := map[string]string{
		TemplateAdmin:  DefaultAdminRoleName,
		TemplateMember: DefaultMemberRoleName,
		TemplateViewer: DefaultViewerRoleName,
	}
	if name, ok := aliases[strings.ToLower(ref)]; ok {
		ref = name
	}
	for _, role := range roles {
		if role.ID == ref || role.Name == ref {
			return role
		}
	}
	return nil
}

// findAdminRole prefers the seeded admin role, then any role holding every
// permission
func findAdminRole(roles []*Role) *Role {
	for _, role := range roles {
		if role.IsDefault && role.Name == DefaultAdminRoleName {
			return role
		}
	}
	for _, role := range roles {
		if grantsAll(role.Permissions) {
			return role
		}
	}
	return nil
}

func grantsAll(permissions []string) bool {
	granted := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		granted[p] = true
	}
	for _, p := range allPermissions {
		if !granted[p] {
			return false
		}
	}
	return true
}

func requireBusiness(identity *auth.Identity) error {
	if !identity.IsBusiness() {
		return NewPermissionDenied(CodeBusinessAccountRequired, "A business account is required")
	}
	return nil
}

func validateName(field, label, name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinNameLength {
		return NewValidationError(CodeValidation, field,
			fmt.Sprintf("%s must be at least %d characters", label, MinNameLength))
	}
	if n > MaxNameLength {
		return NewValidationError(CodeValidation, field,
			fmt.Sprintf("%s must be at most %d characters", label, MaxNameLength))
	}
	return nil
}

func validateDescription(description string) error {
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return NewValidationError(CodeValidation, "description",
			fmt.Sprintf("Description must be at most %d characters", MaxDescriptionLength))
	}
	return nil
}

func duplicateTeamName() *Error {
	return NewValidationError(CodeDuplicateTeamName, "name", "A team with this name already exists in your business")
}

// storeError passes API errors through and wraps anything else as internal
func storeError(op string, err error) error {
	if _, ok := AsError(err); ok {
		return err
	}
	return NewInternal(op, err)
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

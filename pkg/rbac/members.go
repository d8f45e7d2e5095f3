package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/finoly/finoly/pkg/auth"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AddMemberInput is the payload of AddMember
type AddMemberInput struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
}

// AddMember adds a business user to a team with a role of that team
func (m *TeamManager) AddMember(ctx context.Context, identity *auth.Identity, teamID string, in AddMemberInput) (detail *MemberDetail, err error) {
	ctx, span := m.tracer.Start(ctx, "TeamManager.AddMember", trace.WithAttributes(attribute.String("team.id", teamID)))
	defer endSpan(span, &err)

	team, err := m.requireTeamManager(ctx, identity, teamID)
	if err != nil {
		return nil, err
	}

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, NewValidationError(CodeValidation, "userId", "userId is required")
	}
	if in.RoleID == "" {
		return nil, NewValidationError(CodeValidation, "roleId", "roleId is required")
	}

	user, err := m.store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, storeError("get user", err)
	}
	if user == nil || user.BusinessID != team.BusinessID {
		return nil, NewValidationError(CodeUserNotInBusiness, "userId", "User does not belong to this business")
	}

	role, err := m.teamRole(ctx, team.ID, in.RoleID)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.GetMember(ctx, team.ID, userID); err == nil {
		return nil, alreadyInTeam()
	} else if !errors.Is(err, ErrMemberNotFound) {
		return nil, storeError("get team member", err)
	}

	member := &TeamMember{TeamID: team.ID, UserID: userID, RoleID: role.ID}
	err = m.store.WithTx(ctx, func(q Queries) error {
		if err := q.AddMember(ctx, member); err != nil {
			return err
		}
		if err := q.AdjustTeamMemberCount(ctx, team.ID, 1); err != nil {
			return err
		}
		return q.AdjustRoleUserCount(ctx, role.ID, 1)
	})
	if errors.Is(err, ErrDuplicateMember) {
		return nil, alreadyInTeam()
	}
	if err != nil {
		return nil, storeError("add team member", err)
	}

	m.logger.WithFields(logrus.Fields{
		"team_id": team.ID,
		"user_id": userID,
		"role_id": role.ID,
	}).Info("team member added")

	return &MemberDetail{
		TeamMember:      *member,
		UserName:        user.Name,
		UserEmail:       user.Email,
		RoleName:        role.Name,
		RolePermissions: role.Permissions,
	}, nil
}

// ChangeMemberRole moves a member onto another role of the same team. The
// team admin may only hold a role granting every permission.
func (m *TeamManager) ChangeMemberRole(ctx context.Context, identity *auth.Identity, teamID, userID, roleID string) (member *TeamMember, err error) {
	ctx, span := m.tracer.Start(ctx, "TeamManager.ChangeMemberRole", trace.WithAttributes(attribute.String("team.id", teamID)))
	defer endSpan(span, &err)

	team, err := m.requireTeamManager(ctx, identity, teamID)
	if err != nil {
		return nil, err
	}
	if roleID == "" {
		return nil, NewValidationError(CodeValidation, "roleId", "roleId is required")
	}

	member, err = m.store.GetMember(ctx, team.ID, userID)
	if errors.Is(err, ErrMemberNotFound) {
		return nil, NewNotFound(CodeUserNotInTeam, "User is not a member of this team")
	}
	if err != nil {
		return nil, storeError("get team member", err)
	}

	role, err := m.teamRole(ctx, team.ID, roleID)
	if err != nil {
		return nil, err
	}
	if userID == team.AdminUserID && !grantsAll(role.Permissions) {
		return nil, NewValidationError(CodeCannotChangeAdminRole, "roleId",
			"The team admin must keep a role with full permissions")
	}
	if member.RoleID == role.ID {
		return member, nil
	}

	err = m.store.WithTx(ctx, func(q Queries) error {
		return moveMemberRole(ctx, q, member, role.ID)
	})
	if err != nil {
		return nil, storeError("change member role", err)
	}
	member.RoleID = role.ID
	return member, nil
}

// RemoveMember removes a non-admin member from a team
func (m *TeamManager) RemoveMember(ctx context.Context, identity *auth.Identity, teamID, userID string) (err error) {
	ctx, span := m.tracer.Start(ctx, "TeamManager.RemoveMember", trace.WithAttributes(attribute.String("team.id", teamID)))
	defer endSpan(span, &err)

	team, err := m.requireTeamManager(ctx, identity, teamID)
	if err != nil {
		return err
	}
	if userID == team.AdminUserID {
		return NewValidationError(CodeCannotRemoveAdmin, "userId", "The team admin cannot be removed. Assign a new admin first")
	}

	member, err := m.store.GetMember(ctx, team.ID, userID)
	if errors.Is(err, ErrMemberNotFound) {
		return NewNotFound(CodeUserNotInTeam, "User is not a member of this team")
	}
	if err != nil {
		return storeError("get team member", err)
	}

	err = m.store.WithTx(ctx, func(q Queries) error {
		if err := q.RemoveMember(ctx, team.ID, userID); err != nil {
			return err
		}
		if err := q.AdjustTeamMemberCount(ctx, team.ID, -1); err != nil {
			return err
		}
		if member.RoleID != "" {
			return q.AdjustRoleUserCount(ctx, member.RoleID, -1)
		}
		return nil
	})
	if err != nil {
		return storeError("remove team member", err)
	}

	m.logger.WithFields(logrus.Fields{
		"team_id": team.ID,
		"user_id": userID,
	}).Info("team member removed")
	return nil
}

// requireTeamManager resolves the team and requires owner or admin access
func (m *TeamManager) requireTeamManager(ctx context.Context, identity *auth.Identity, teamID string) (*Team, error) {
	if err := requireBusiness(identity); err != nil {
		return nil, err
	}
	access := m.policy.Evaluate(ctx, identity, teamID)
	if access.Team == nil {
		return nil, teamNotFound()
	}
	if !access.IsBusinessOwner && !access.IsTeamAdmin {
		return nil, NewPermissionDenied(CodeTeamManageDenied, "Only the team admin or business owner can manage members")
	}
	return access.Team, nil
}

// teamRole loads a role and checks it belongs to the team
func (m *TeamManager) teamRole(ctx context.Context, teamID, roleID string) (*Role, error) {
	role, err := m.store.GetRole(ctx, roleID)
	if err != nil && !errors.Is(err, ErrRoleNotFound) {
		return nil, storeError("get role", err)
	}
	if role == nil || role.TeamID != teamID {
		return nil, NewValidationError(CodeRoleNotInTeam, "roleId", "Role does not belong to this team")
	}
	return role, nil
}

// moveMemberRole reassigns one membership and keeps both role counters in step
func moveMemberRole(ctx context.Context, q Queries, member *TeamMember, roleID string) error {
	if err := q.UpdateMemberRole(ctx, member.ID, roleID); err != nil {
		return err
	}
	if member.RoleID != "" {
		if err := q.AdjustRoleUserCount(ctx, member.RoleID, -1); err != nil {
			return err
		}
	}
	return q.AdjustRoleUserCount(ctx, roleID, 1)
}

func alreadyInTeam() *Error {
	return NewConflict(CodeUserAlreadyInTeam, "User is already a member of this team")
}

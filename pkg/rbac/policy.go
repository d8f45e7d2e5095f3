package rbac

import (
	"context"
	"errors"

	"github.com/finoly/finoly/pkg/auth"
	"github.com/sirupsen/logrus"
)

// Evaluator answers access-control questions about teams and businesses
type Evaluator interface {
	Evaluate(ctx context.Context, identity *auth.Identity, teamID string) Access
	IsBusinessOwner(ctx context.Context, identity *auth.Identity, businessID string) bool
	CanManageRoles(ctx context.Context, identity *auth.Identity, teamID string) bool
	CanManageTeam(ctx context.Context, identity *auth.Identity, teamID string, requireAdmin bool) bool
}

// Access is the outcome of evaluating a caller against one team
type Access struct {
	IsBusinessOwner bool
	IsTeamAdmin     bool
	HasTeamAccess   bool
	// Team is set when the team exists, is active and belongs to the
	// caller's business
	Team *Team
}

// Policy implements Evaluator on top of store lookups. Every lookup failure
// denies access.
type Policy struct {
	store  Queries
	logger *logrus.Logger
}

// NewPolicy creates a new Policy
func NewPolicy(store Queries, logger *logrus.Logger) *Policy {
	return &Policy{store: store, logger: logger}
}

// Evaluate computes owner, admin and access flags for a team
func (p *Policy) Evaluate(ctx context.Context, identity *auth.Identity, teamID string) Access {
	var access Access
	if identity == nil || identity.BusinessID == "" || teamID == "" {
		return access
	}

	team, err := p.store.GetTeam(ctx, teamID)
	if err != nil {
		p.logLookup(err, "team", teamID)
		return access
	}
	if !team.IsActive || team.BusinessID != identity.BusinessID {
		return access
	}
	access.Team = team

	access.IsBusinessOwner = p.IsBusinessOwner(ctx, identity, team.BusinessID)
	access.IsTeamAdmin = team.AdminUserID == identity.UserID
	if access.IsTeamAdmin {
		access.HasTeamAccess = true
		return access
	}

	_, err = p.store.GetMember(ctx, team.ID, identity.UserID)
	switch {
	case err == nil:
		access.HasTeamAccess = true
	case !errors.Is(err, ErrMemberNotFound):
		p.logLookup(err, "team member", team.ID)
	}
	return access
}

// IsBusinessOwner checks the stored owner of the caller's business
func (p *Policy) IsBusinessOwner(ctx context.Context, identity *auth.Identity, businessID string) bool {
	if identity == nil || businessID == "" || identity.BusinessID != businessID {
		return false
	}
	business, err := p.store.GetBusiness(ctx, businessID)
	if err != nil {
		p.logLookup(err, "business", businessID)
		return false
	}
	return business.OwnerID == identity.UserID
}

// CanManageRoles allows the business owner or the team admin
func (p *Policy) CanManageRoles(ctx context.Context, identity *auth.Identity, teamID string) bool {
	access := p.Evaluate(ctx, identity, teamID)
	return access.IsBusinessOwner || access.IsTeamAdmin
}

// CanManageTeam allows the owner or admin; without requireAdmin any team
// member is allowed as well
func (p *Policy) CanManageTeam(ctx context.Context, identity *auth.Identity, teamID string, requireAdmin bool) bool {
	access := p.Evaluate(ctx, identity, teamID)
	if access.IsBusinessOwner || access.IsTeamAdmin {
		return true
	}
	return !requireAdmin && access.HasTeamAccess
}

func (p *Policy) logLookup(err error, kind, id string) {
	if errors.Is(err, ErrTeamNotFound) || errors.Is(err, ErrBusinessNotFound) {
		return
	}
	p.logger.WithError(err).WithFields(logrus.Fields{
		"lookup": kind,
		"id":     id,
	}).Warn("access lookup failed, denying")
}

package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/finoly/finoly/pkg/auth"
	"github.com/finoly/finoly/pkg/rbac"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/finoly/finoly/pkg/users"

// MaxNameLength bounds a user's display name
const MaxNameLength = 100

// Assignment places a new user in a team with a role of that team
type Assignment struct {
	TeamID string `json:"teamId"`
	RoleID string `json:"roleId"`
}

// AddInput is the payload of Add
type AddInput struct {
	Name  string       `json:"name"`
	Email string       `json:"email"`
	Teams []Assignment `json:"teams"`
}

// ListInput filters and pages List
type ListInput struct {
	TeamID string
	// Role matches users holding a role of this name in any team
	Role  string
	Page  int
	Limit int
}

// Profile is a business user with the active teams they belong to
type Profile struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Email      string             `json:"email"`
	BusinessID string             `json:"businessId"`
	Teams      []*rbac.Membership `json:"teams"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// Page is one page of List
type Page struct {
	Users []*Profile
	Page  int
	Limit int
	Total int
}

// Removal is returned by Remove
type Removal struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserEmail string    `json:"userEmail"`
	TeamsLeft int       `json:"teamsLeft"`
	RemovedAt time.Time `json:"removedAt"`
}

// Service manages the people of the business owned by the caller
type Service struct {
	store  rbac.Store
	logger *logrus.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates a new Service
func NewService(store rbac.Store, logger *logrus.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// Add creates a business account for a new person and places them in at
// least one team. The user, memberships and counters are written together.
func (s *Service) Add(ctx context.Context, identity *auth.Identity, input AddInput) (_ *Profile, err error) {
	ctx, span := s.tracer.Start(ctx, "users.Add")
	defer endSpan(span, &err)

	b, err := s.ownedBusiness(ctx, identity)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, rbac.NewValidationError(rbac.CodeValidation, "name", "Name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, rbac.NewValidationError(rbac.CodeValidation, "name",
			fmt.Sprintf("Name must be at most %d characters", MaxNameLength))
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if len(input.Teams) == 0 {
		return nil, rbac.NewValidationError(rbac.CodeValidation, "teams", "At least one team assignment is required")
	}

	var profile *Profile
	err = s.store.WithTx(ctx, func(q rbac.Queries) error {
		placements, err := resolveAssignments(ctx, q, b.ID, input.Teams)
		if err != nil {
			return err
		}

		user := &rbac.User{
			Name:        name,
			Email:       email,
			AccountType: string(auth.AccountBusiness),
			BusinessID:  b.ID,
		}
		if err := q.CreateUser(ctx, user); err != nil {
			if errors.Is(err, rbac.ErrDuplicateEmail) {
				return duplicateEmail()
			}
			return storeError("create user", err)
		}

		profile = &Profile{
			ID:         user.ID,
			Name:       user.Name,
			Email:      user.Email,
			BusinessID: b.ID,
			CreatedAt:  user.CreatedAt,
		}
		for _, p := range placements {
			member := &rbac.TeamMember{TeamID: p.team.ID, UserID: user.ID, RoleID: p.role.ID}
			if err := q.AddMember(ctx, member); err != nil {
				return storeError("add member", err)
			}
			if err := q.AdjustTeamMemberCount(ctx, p.team.ID, 1); err != nil {
				return storeError("adjust member count", err)
			}
			if err := q.AdjustRoleUserCount(ctx, p.role.ID, 1); err != nil {
				return storeError("adjust role count", err)
			}
			profile.Teams = append(profile.Teams, &rbac.Membership{
				MemberID:   member.ID,
				TeamID:     p.team.ID,
				TeamName:   p.team.Name,
				TeamActive: true,
				RoleID:     p.role.ID,
				RoleName:   p.role.Name,
				JoinedAt:   member.JoinedAt,
			})
		}
		return refreshUsersCount(ctx, q, b.ID)
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("business.id", b.ID), attribute.String("user.id", profile.ID))
	s.logger.WithFields(logrus.Fields{
		"business_id": b.ID,
		"user_id":     profile.ID,
		"teams":       len(profile.Teams),
	}).Info("user added to business")
	return profile, nil
}

// List pages through the users of the caller's business in sign-up order
func (s *Service) List(ctx context.Context, identity *auth.Identity, input ListInput) (_ *Page, err error) {
	ctx, span := s.tracer.Start(ctx, "users.List")
	defer endSpan(span, &err)

	b, err := s.ownedBusiness(ctx, identity)
	if err != nil {
		return nil, err
	}

	found, total, err := s.store.ListUsers(ctx, rbac.UserFilter{
		BusinessID: b.ID,
		TeamID:     input.TeamID,
		RoleName:   strings.TrimSpace(input.Role),
		Limit:      input.Limit,
		Offset:     (input.Page - 1) * input.Limit,
	})
	if err != nil {
		return nil, storeError("list users", err)
	}

	page := &Page{Users: make([]*Profile, 0, len(found)), Page: input.Page, Limit: input.Limit, Total: total}
	for _, u := range found {
		profile, err := s.profile(ctx, u)
		if err != nil {
			return nil, err
		}
		page.Users = append(page.Users, profile)
	}
	return page, nil
}

// Get returns one user of the caller's business. The owner may read anyone
// in the business; other users only themselves.
func (s *Service) Get(ctx context.Context, identity *auth.Identity, userID string) (_ *Profile, err error) {
	ctx, span := s.tracer.Start(ctx, "users.Get", trace.WithAttributes(attribute.String("user.id", userID)))
	defer endSpan(span, &err)

	if !identity.IsBusiness() {
		return nil, rbac.NewPermissionDenied(rbac.CodeBusinessAccountRequired, "A business account is required")
	}
	businessID := identity.BusinessID
	if identity.UserID != userID {
		b, err := s.ownedBusiness(ctx, identity)
		if err != nil {
			return nil, err
		}
		businessID = b.ID
	}

	u, err := s.businessUser(ctx, businessID, userID)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, u)
}

// Remove takes a user out of the caller's business. Every membership is
// deleted and the team and role counters follow; the account itself is
// kept without a business. The owner cannot remove themselves, and a team
// admin must be replaced on their teams first.
func (s *Service) Remove(ctx context.Context, identity *auth.Identity, userID string) (_ *Removal, err error) {
	ctx, span := s.tracer.Start(ctx, "users.Remove", trace.WithAttributes(attribute.String("user.id", userID)))
	defer endSpan(span, &err)

	b, err := s.ownedBusiness(ctx, identity)
	if err != nil {
		return nil, err
	}
	if userID == identity.UserID || userID == b.OwnerID {
		return nil, rbac.NewPermissionDenied(rbac.CodeCannotDeleteSelf, "You cannot remove yourself from your business")
	}

	var removal *Removal
	err = s.store.WithTx(ctx, func(q rbac.Queries) error {
		u, err := q.GetUser(ctx, userID)
		if errors.Is(err, rbac.ErrUserNotFound) || (err == nil && u.BusinessID != b.ID) {
			return userNotFound()
		}
		if err != nil {
			return storeError("get user", err)
		}

		administered, err := q.CountAdministeredTeams(ctx, b.ID, u.ID)
		if err != nil {
			return storeError("count administered teams", err)
		}
		if administered > 0 {
			return rbac.NewValidationError(rbac.CodeCannotRemoveAdmin, "userId",
				fmt.Sprintf("User is the admin of %d team(s); assign a new admin first", administered))
		}

		memberships, err := q.ListUserMemberships(ctx, u.ID)
		if err != nil {
			return storeError("list memberships", err)
		}
		for _, m := range memberships {
			if err := q.RemoveMember(ctx, m.TeamID, u.ID); err != nil {
				return storeError("remove member", err)
			}
			if err := q.AdjustTeamMemberCount(ctx, m.TeamID, -1); err != nil {
				return storeError("adjust member count", err)
			}
			if m.RoleID != "" {
				if err := q.AdjustRoleUserCount(ctx, m.RoleID, -1); err != nil {
					return storeError("adjust role count", err)
				}
			}
		}
		if err := q.DetachUser(ctx, u.ID); err != nil {
			return storeError("detach user", err)
		}
		if err := refreshUsersCount(ctx, q, b.ID); err != nil {
			return err
		}

		removal = &Removal{
			UserID:    u.ID,
			UserName:  u.Name,
			UserEmail: u.Email,
			TeamsLeft: len(memberships),
			RemovedAt: s.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"business_id": b.ID,
		"user_id":     removal.UserID,
		"teams_left":  removal.TeamsLeft,
	}).Info("user removed from business")
	return removal, nil
}

// ownedBusiness resolves the business the caller owns. Users management is
// an owner-only surface, so any other caller is denied.
func (s *Service) ownedBusiness(ctx context.Context, identity *auth.Identity) (*rbac.Business, error) {
	if !identity.IsBusiness() {
		return nil, rbac.NewPermissionDenied(rbac.CodeBusinessAccountRequired, "A business account is required")
	}
	b, err := s.store.GetBusinessByOwner(ctx, identity.UserID)
	if errors.Is(err, rbac.ErrBusinessNotFound) || (err == nil && b.ID != identity.BusinessID) {
		return nil, rbac.NewPermissionDenied(rbac.CodePermissionDenied, "Only the business owner can manage users")
	}
	if err != nil {
		return nil, rbac.NewInternal("get business", err)
	}
	return b, nil
}

func (s *Service) businessUser(ctx context.Context, businessID, userID string) (*rbac.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, rbac.ErrUserNotFound) || (err == nil && u.BusinessID != businessID) {
		return nil, userNotFound()
	}
	if err != nil {
		return nil, storeError("get user", err)
	}
	return u, nil
}

// profile attaches the user's memberships of active teams
func (s *Service) profile(ctx context.Context, u *rbac.User) (*Profile, error) {
	memberships, err := s.store.ListUserMemberships(ctx, u.ID)
	if err != nil {
		return nil, storeError("list memberships", err)
	}
	profile := &Profile{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		BusinessID: u.BusinessID,
		Teams:      []*rbac.Membership{},
		CreatedAt:  u.CreatedAt,
	}
	for _, m := range memberships {
		if m.TeamActive {
			profile.Teams = append(profile.Teams, m)
		}
	}
	return profile, nil
}

type placement struct {
	team *rbac.Team
	role *rbac.Role
}

// resolveAssignments checks every team belongs to the business and every
// role to its team
func resolveAssignments(ctx context.Context, q rbac.Queries, businessID string, assignments []Assignment) ([]placement, error) {
	seen := make(map[string]bool, len(assignments))
	placements := make([]placement, 0, len(assignments))
	for _, a := range assignments {
		if seen[a.TeamID] {
			return nil, rbac.NewValidationError(rbac.CodeValidation, "teams",
				fmt.Sprintf("Team %s is assigned more than once", a.TeamID))
		}
		seen[a.TeamID] = true

		team, err := q.GetTeam(ctx, a.TeamID)
		if errors.Is(err, rbac.ErrTeamNotFound) || (err == nil && (team.BusinessID != businessID || !team.IsActive)) {
			return nil, rbac.NewValidationError(rbac.CodeTeamNotFound, "teams",
				fmt.Sprintf("Team %s not found in your business", a.TeamID))
		}
		if err != nil {
			return nil, storeError("get team", err)
		}

		role, err := q.GetRole(ctx, a.RoleID)
		if errors.Is(err, rbac.ErrRoleNotFound) || (err == nil && role.TeamID != team.ID) {
			return nil, rbac.NewValidationError(rbac.CodeRoleNotFound, "teams",
				fmt.Sprintf("Role %s not found in team %s", a.RoleID, team.Name))
		}
		if err != nil {
			return nil, storeError("get role", err)
		}
		placements = append(placements, placement{team: team, role: role})
	}
	return placements, nil
}

func refreshUsersCount(ctx context.Context, q rbac.Queries, businessID string) error {
	n, err := q.CountBusinessUsers(ctx, businessID)
	if err != nil {
		return storeError("count users", err)
	}
	if err := q.SetBusinessUsersCount(ctx, businessID, n); err != nil {
		return storeError("update users count", err)
	}
	return nil
}

// normalizeEmail accepts a bare address and lowercases it
func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(email)
	if email == "" || err != nil || addr.Address != email {
		return "", rbac.NewValidationError(rbac.CodeValidation, "email", "A valid email address is required")
	}
	return strings.ToLower(email), nil
}

func duplicateEmail() *rbac.Error {
	return rbac.NewValidationError(rbac.CodeDuplicateEmail, "email", "A user with this email already exists")
}

func userNotFound() *rbac.Error {
	return rbac.NewNotFound(rbac.CodeUserNotFound, "User not found in your business")
}

func storeError(op string, err error) error {
	if _, ok := rbac.AsError(err); ok {
		return err
	}
	return rbac.NewInternal(op, err)
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

package rbac

import (
	"context"

	"github.com/google/uuid"
)

// Queries is the set of reads and writes the managers need. It is
// implemented both by a Store and by the transaction view handed to WithTx.
type Queries interface {
	// Users and businesses
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context, filter UserFilter) ([]*User, int, error)
	// DetachUser clears the business of a user. The account is kept.
	DetachUser(ctx context.Context, id string) error
	ListUserMemberships(ctx context.Context, userID string) ([]*Membership, error)
	// CountAdministeredTeams counts the active teams of a business whose
	// admin is the user
	CountAdministeredTeams(ctx context.Context, businessID, userID string) (int, error)
	GetBusiness(ctx context.Context, id string) (*Business, error)
	// GetBusinessForUpdate reads the business and, inside a transaction,
	// locks the row until commit
	GetBusinessForUpdate(ctx context.Context, id string) (*Business, error)
	GetBusinessByOwner(ctx context.Context, ownerID string) (*Business, error)
	UpdateBusinessProfile(ctx context.Context, id, name string, settings BusinessSettings) (*Business, error)
	SetBusinessTeamsCount(ctx context.Context, id string, count int) error
	SetBusinessUsersCount(ctx context.Context, id string, count int) error
	CountBusinessTeams(ctx context.Context, businessID string) (int, error)
	CountBusinessUsers(ctx context.Context, businessID string) (int, error)

	// Teams
	CreateTeam(ctx context.Context, team *Team) error
	GetTeam(ctx context.Context, id string) (*Team, error)
	TeamNameExists(ctx context.Context, businessID, name, excludeID string) (bool, error)
	ListTeams(ctx context.Context, filter TeamFilter) ([]*Team, int, error)
	UpdateTeam(ctx context.Context, team *Team) error
	AdjustTeamMemberCount(ctx context.Context, teamID string, delta int) error

	// Roles
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	ListRoles(ctx context.Context, teamID string) ([]*Role, error)
	RoleNameExists(ctx context.Context, teamID, name, excludeID string) (bool, error)
	CountRoles(ctx context.Context, teamID string) (int, error)
	UpdateRole(ctx context.Context, role *Role) error
	AdjustRoleUserCount(ctx context.Context, roleID string, delta int) error
	DeleteRole(ctx context.Context, id string) error

	// Memberships
	AddMember(ctx context.Context, member *TeamMember) error
	GetMember(ctx context.Context, teamID, userID string) (*TeamMember, error)
	ListMembers(ctx context.Context, teamID string) ([]*MemberDetail, error)
	CountMembersWithRole(ctx context.Context, roleID string) (int, error)
	ReassignMembers(ctx context.Context, fromRoleID, toRoleID string) (int, error)
	UpdateMemberRole(ctx context.Context, memberID, roleID string) error
	RemoveMember(ctx context.Context, teamID, userID string) error
}

// Store is the transactional persistence boundary for teams, roles and
// memberships
type Store interface {
	Queries
	// WithTx runs fn in one all-or-nothing transaction. Any error returned
	// by fn rolls back every write made through q.
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

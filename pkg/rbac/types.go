package rbac

import (
	"time"
)

// Team is a business-owned group of users with team-scoped roles
type Team struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	BusinessID    string    `json:"businessId"`
	AdminUserID   string    `json:"adminUserId"`
	MemberCount   int       `json:"memberCount"`
	BudgetCount   int       `json:"budgetCount"`
	TotalExpenses int64     `json:"totalExpenses"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Role is a named permission set owned by a team
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TeamID      string    `json:"teamId"`
	Permissions []string  `json:"permissions"`
	UserCount   int       `json:"userCount"`
	IsDefault   bool      `json:"isDefault"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TeamMember associates a user with a team. RoleID is empty while the
// membership has no role.
type TeamMember struct {
	ID       string    `json:"id"`
	TeamID   string    `json:"teamId"`
	UserID   string    `json:"userId"`
	RoleID   string    `json:"roleId,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// MemberDetail is a membership joined with its user and role
type MemberDetail struct {
	TeamMember
	UserName        string   `json:"userName"`
	UserEmail       string   `json:"userEmail"`
	RoleName        string   `json:"roleName,omitempty"`
	RolePermissions []string `json:"rolePermissions,omitempty"`
}

// User is an account that may belong to one business
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	AccountType string    `json:"accountType"`
	BusinessID  string    `json:"businessId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Business owns teams and users
type Business struct {
	ID                    string           `json:"id"`
	Name                  string           `json:"name"`
	OwnerID               string           `json:"ownerId"`
	Settings              BusinessSettings `json:"settings"`
	TeamsCount            int              `json:"teamsCount"`
	UsersCount            int              `json:"usersCount"`
	TotalExpenses         int64            `json:"totalExpenses"`
	ActiveBudgets         int              `json:"activeBudgets"`
	SubscriptionPlan      string           `json:"subscriptionPlan"`
	SubscriptionStatus    string           `json:"subscriptionStatus"`
	SubscriptionExpiresAt *time.Time       `json:"subscriptionExpiresAt,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// BusinessSettings is the typed settings document of a business
type BusinessSettings struct {
	DefaultCurrency string               `json:"defaultCurrency"`
	FiscalYearStart string               `json:"fiscalYearStart"`
	Timezone        string               `json:"timezone"`
	Features        FeatureFlags         `json:"features"`
	Notifications   NotificationSettings `json:"notifications"`
}

// FeatureFlags toggles optional product features for a business
type FeatureFlags struct {
	WhatsappIntegration bool `json:"whatsappIntegration"`
	AIInsights          bool `json:"aiInsights"`
	AdvancedReporting   bool `json:"advancedReporting"`
}

// NotificationSettings selects notification channels
type NotificationSettings struct {
	Email    bool `json:"email"`
	Whatsapp bool `json:"whatsapp"`
	Web      bool `json:"web"`
}

// DefaultBusinessSettings returns the settings of a new business
func DefaultBusinessSettings() BusinessSettings {
	return BusinessSettings{
		DefaultCurrency: "USD",
		FiscalYearStart: "2024-01-01",
		Timezone:        "UTC",
		Features: FeatureFlags{
			WhatsappIntegration: true,
			AIInsights:          true,
			AdvancedReporting:   true,
		},
		Notifications: NotificationSettings{
			Email:    true,
			Whatsapp: true,
			Web:      true,
		},
	}
}

// TeamFilter selects teams for listing
type TeamFilter struct {
	BusinessID string
	// MemberUserID restricts the listing to teams the user administers or
	// belongs to. Empty lists every active team of the business.
	MemberUserID string
	Limit        int
	Offset       int
}

// UserFilter selects the users of a business for listing
type UserFilter struct {
	BusinessID string
	// TeamID keeps users with a membership in that team
	TeamID string
	// RoleName keeps users holding a role of that name in any team
	RoleName string
	Limit    int
	Offset   int
}

// Membership is one team membership of a user, with team and role names
type Membership struct {
	MemberID   string    `json:"-"`
	TeamID     string    `json:"teamId"`
	TeamName   string    `json:"teamName"`
	TeamActive bool      `json:"-"`
	RoleID     string    `json:"roleId,omitempty"`
	RoleName   string    `json:"roleName,omitempty"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// Default role names seeded into every new team
const (
	DefaultAdminRoleName  = "Team Admin"
	DefaultMemberRoleName = "Team Member"
	DefaultViewerRoleName = "Viewer"
)

// Field limits
const (
	MinNameLength        = 3
	MaxNameLength        = 50
	MaxDescriptionLength = 200
	MaxBusinessName      = 100
)

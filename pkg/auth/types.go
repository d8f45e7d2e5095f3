package auth

// AccountType distinguishes personal accounts from business accounts
type AccountType string

const (
	AccountIndividual AccountType = "individual"
	AccountBusiness   AccountType = "business"
)

// TeamClaim is one team membership carried in a session credential
type TeamClaim struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions"`
}

// Identity is the verified caller of a request. It is populated once per
// request by the Resolver and trusted for the rest of it; claims may be stale
// until the user re-authenticates.
type Identity struct {
	UserID      string      `json:"id"`
	Email       string      `json:"email"`
	Name        string      `json:"name,omitempty"`
	AccountType AccountType `json:"accountType"`
	BusinessID  string      `json:"businessId,omitempty"`
	Teams       []TeamClaim `json:"teams,omitempty"`
}

// IsBusiness reports whether the caller acts on behalf of a business
func (i *Identity) IsBusiness() bool {
	return i != nil && i.AccountType == AccountBusiness && i.BusinessID != ""
}

// TeamPermissions returns the permissions claimed for a team, or nil
func (i *Identity) TeamPermissions(teamID string) []string {
	if i == nil {
		return nil
	}
	for _, t := range i.Teams {
		if t.ID == teamID {
			return t.Permissions
		}
	}
	return nil
}

// HasTeamPermission reports whether the claims grant permission on a team
func (i *Identity) HasTeamPermission(teamID, permission string) bool {
	for _, p := range i.TeamPermissions(teamID) {
		if p == permission {
			return true
		}
	}
	return false
}

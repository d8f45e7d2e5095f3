package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local development and tests.
// A transaction works on a private copy of the data and holds the store
// lock until it commits or rolls back, so other callers wait for it.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memoryData
	seq  int64
}

type memoryData struct {
	users      map[string]*User
	businesses map[string]*Business
	teams      map[string]*Team
	roles      map[string]*Role
	members    map[string]*TeamMember
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func newMemoryData() *memoryData {
	return &memoryData{
		users:      make(map[string]*User),
		businesses: make(map[string]*Business),
		teams:      make(map[string]*Team),
		roles:      make(map[string]*Role),
		members:    make(map[string]*TeamMember),
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range d.businesses {
		b := *v
		c.businesses[k] = &b
	}
	for k, v := range d.teams {
		t := *v
		c.teams[k] = &t
	}
	for k, v := range d.roles {
		r := *v
		r.Permissions = append([]string(nil), v.Permissions...)
		c.roles[k] = &r
	}
	for k, v := range d.members {
		m := *v
		c.members[k] = &m
	}
	return c
}

// PutUser inserts or replaces a user
func (s *MemoryStore) PutUser(user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.data.users[u.ID] = &u
}

// PutBusiness inserts or replaces a business
func (s *MemoryStore) PutBusiness(business *Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := *business
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
		b.UpdatedAt = b.CreatedAt
	}
	s.data.businesses[b.ID] = &b
}

// WithTx runs fn against a copy of the data and publishes the copy only
// when fn succeeds. Writes through q must not be mixed with calls on s
// inside fn; s stays locked until fn returns.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemoryStore{data: s.data.clone(), seq: s.seq}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	s.seq = tx.seq
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// now returns strictly increasing timestamps so creation order is stable
func (s *MemoryStore) now() time.Time {
	s.seq++
	return time.Now().Add(time.Duration(s.seq))
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.data.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.data.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	if user.ID == "" {
		user.ID = newID("usr")
	}
	user.CreatedAt = s.now()
	copied := *user
	s.data.users[user.ID] = &copied
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, filter UserFilter) ([]*User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*User
	for _, u := range s.data.users {
		if u.BusinessID == "" || u.BusinessID != filter.BusinessID {
			continue
		}
		if filter.TeamID != "" && !s.isMemberLocked(filter.TeamID, u.ID) {
			continue
		}
		if filter.RoleName != "" && !s.holdsRoleLocked(u.ID, filter.RoleName) {
			continue
		}
		copied := *u
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return append([]*User{}, matched[start:end]...), total, nil
}

func (s *MemoryStore) holdsRoleLocked(userID, roleName string) bool {
	for _, m := range s.data.members {
		if m.UserID != userID {
			continue
		}
		if r, ok := s.data.roles[m.RoleID]; ok && r.Name == roleName {
			return true
		}
	}
	return false
}

func (s *MemoryStore) DetachUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.BusinessID = ""
	return nil
}

func (s *MemoryStore) ListUserMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	memberships := []*Membership{}
	for _, m := range s.data.members {
		if m.UserID != userID {
			continue
		}
		t, ok := s.data.teams[m.TeamID]
		if !ok {
			continue
		}
		membership := &Membership{
			MemberID:   m.ID,
			TeamID:     t.ID,
			TeamName:   t.Name,
			TeamActive: t.IsActive,
			RoleID:     m.RoleID,
			JoinedAt:   m.JoinedAt,
		}
		if r, ok := s.data.roles[m.RoleID]; ok {
			membership.RoleName = r.Name
		}
		memberships = append(memberships, membership)
	}
	sort.Slice(memberships, func(i, j int) bool { return memberships[i].JoinedAt.Before(memberships[j].JoinedAt) })
	return memberships, nil
}

func (s *MemoryStore) CountAdministeredTeams(ctx context.Context, businessID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.data.teams {
		if t.BusinessID == businessID && t.AdminUserID == userID && t.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetBusiness(ctx context.Context, id string) (*Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data.businesses[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	copied := *b
	return &copied, nil
}

func (s *MemoryStore) GetBusinessForUpdate(ctx context.Context, id string) (*Business, error) {
	return s.GetBusiness(ctx, id)
}

func (s *MemoryStore) GetBusinessByOwner(ctx context.Context, ownerID string) (*Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Business
	for _, b := range s.data.businesses {
		if b.OwnerID == ownerID && (found == nil || b.CreatedAt.Before(found.CreatedAt)) {
			found = b
		}
	}
	if found == nil {
		return nil, ErrBusinessNotFound
	}
	copied := *found
	return &copied, nil
}

func (s *MemoryStore) UpdateBusinessProfile(ctx context.Context, id, name string, settings BusinessSettings) (*Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.businesses[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	b.Name = name
	b.Settings = settings
	b.UpdatedAt = s.now()
	copied := *b
	return &copied, nil
}

func (s *MemoryStore) SetBusinessTeamsCount(ctx context.Context, id string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.businesses[id]
	if !ok {
		return ErrBusinessNotFound
	}
	b.TeamsCount = count
	b.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetBusinessUsersCount(ctx context.Context, id string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.businesses[id]
	if !ok {
		return ErrBusinessNotFound
	}
	b.UsersCount = count
	b.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) CountBusinessTeams(ctx context.Context, businessID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.data.teams {
		if t.BusinessID == businessID && t.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountBusinessUsers(ctx context.Context, businessID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make(map[string]bool)
	for _, m := range s.data.members {
		if t, ok := s.data.teams[m.TeamID]; ok && t.BusinessID == businessID {
			users[m.UserID] = true
		}
	}
	return len(users), nil
}

func (s *MemoryStore) CreateTeam(ctx context.Context, team *Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if team.ID == "" {
		team.ID = newID("team")
	}
	if team.IsActive {
		for _, t := range s.data.teams {
			if t.BusinessID == team.BusinessID && t.Name == team.Name && t.IsActive {
				return ErrDuplicateTeamName
			}
		}
	}
	now := s.now()
	team.CreatedAt = now
	team.UpdatedAt = now
	copied := *team
	s.data.teams[team.ID] = &copied
	return nil
}

func (s *MemoryStore) GetTeam(ctx context.Context, id string) (*Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data.teams[id]
	if !ok {
		return nil, ErrTeamNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *MemoryStore) TeamNameExists(ctx context.Context, businessID, name, excludeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.data.teams {
		if t.BusinessID == businessID && t.Name == name && t.IsActive && t.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListTeams(ctx context.Context, filter TeamFilter) ([]*Team, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Team
	for _, t := range s.data.teams {
		if t.BusinessID != filter.BusinessID || !t.IsActive {
			continue
		}
		if filter.MemberUserID != "" && t.AdminUserID != filter.MemberUserID && !s.isMemberLocked(t.ID, filter.MemberUserID) {
			continue
		}
		copied := *t
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return append([]*Team{}, matched[start:end]...), total, nil
}

func (s *MemoryStore) isMemberLocked(teamID, userID string) bool {
	for _, m := range s.data.members {
		if m.TeamID == teamID && m.UserID == userID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) UpdateTeam(ctx context.Context, team *Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.teams[team.ID]
	if !ok {
		return ErrTeamNotFound
	}
	if team.IsActive {
		for _, other := range s.data.teams {
			if other.ID != team.ID && other.BusinessID == t.BusinessID && other.Name == team.Name && other.IsActive {
				return ErrDuplicateTeamName
			}
		}
	}
	t.Name = team.Name
	t.Description = team.Description
	t.AdminUserID = team.AdminUserID
	t.IsActive = team.IsActive
	t.UpdatedAt = s.now()
	team.UpdatedAt = t.UpdatedAt
	return nil
}

func (s *MemoryStore) AdjustTeamMemberCount(ctx context.Context, teamID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.teams[teamID]
	if !ok {
		return ErrTeamNotFound
	}
	t.MemberCount = floorZero(t.MemberCount + delta)
	t.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) CreateRole(ctx context.Context, role *Role) error {
	if err := ValidatePermissions(role.Permissions); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.data.roles {
		if r.TeamID == role.TeamID && r.Name == role.Name {
			return ErrDuplicateRoleName
		}
	}
	if role.ID == "" {
		role.ID = newID("role")
	}
	now := s.now()
	role.CreatedAt = now
	role.UpdatedAt = now
	copied := *role
	copied.Permissions = append([]string(nil), role.Permissions...)
	s.data.roles[role.ID] = &copied
	return nil
}

func (s *MemoryStore) GetRole(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return copyRole(r), nil
}

func (s *MemoryStore) ListRoles(ctx context.Context, teamID string) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := []*Role{}
	for _, r := range s.data.roles {
		if r.TeamID == teamID {
			roles = append(roles, copyRole(r))
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].CreatedAt.Before(roles[j].CreatedAt) })
	return roles, nil
}

func (s *MemoryStore) RoleNameExists(ctx context.Context, teamID, name, excludeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data.roles {
		if r.TeamID == teamID && r.Name == name && r.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CountRoles(ctx context.Context, teamID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.data.roles {
		if r.TeamID == teamID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateRole(ctx context.Context, role *Role) error {
	if err := ValidatePermissions(role.Permissions); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.roles[role.ID]
	if !ok {
		return ErrRoleNotFound
	}
	for _, other := range s.data.roles {
		if other.ID != role.ID && other.TeamID == r.TeamID && other.Name == role.Name {
			return ErrDuplicateRoleName
		}
	}
	r.Name = role.Name
	r.Description = role.Description
	r.Permissions = append([]string(nil), role.Permissions...)
	r.UpdatedAt = s.now()
	role.UpdatedAt = r.UpdatedAt
	return nil
}

func (s *MemoryStore) AdjustRoleUserCount(ctx context.Context, roleID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.roles[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	r.UserCount = floorZero(r.UserCount + delta)
	r.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.roles[id]; !ok {
		return ErrRoleNotFound
	}
	delete(s.data.roles, id)
	return nil
}

func (s *MemoryStore) AddMember(ctx context.Context, member *TeamMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isMemberLocked(member.TeamID, member.UserID) {
		return ErrDuplicateMember
	}
	if member.ID == "" {
		member.ID = newID("member")
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = s.now()
	}
	copied := *member
	s.data.members[member.ID] = &copied
	return nil
}

func (s *MemoryStore) GetMember(ctx context.Context, teamID, userID string) (*TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.data.members {
		if m.TeamID == teamID && m.UserID == userID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ErrMemberNotFound
}

func (s *MemoryStore) ListMembers(ctx context.Context, teamID string) ([]*MemberDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := []*MemberDetail{}
	for _, m := range s.data.members {
		if m.TeamID != teamID {
			continue
		}
		detail := &MemberDetail{TeamMember: *m}
		if u, ok := s.data.users[m.UserID]; ok {
			detail.UserName = u.Name
			detail.UserEmail = u.Email
		}
		if r, ok := s.data.roles[m.RoleID]; ok {
			detail.RoleName = r.Name
			detail.RolePermissions = append([]string(nil), r.Permissions...)
		}
		members = append(members, detail)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

func (s *MemoryStore) CountMembersWithRole(ctx context.Context, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.data.members {
		if m.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ReassignMembers(ctx context.Context, fromRoleID, toRoleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.data.members {
		if m.RoleID == fromRoleID {
			m.RoleID = toRoleID
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateMemberRole(ctx context.Context, memberID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data.members[memberID]
	if !ok {
		return ErrMemberNotFound
	}
	m.RoleID = roleID
	return nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, teamID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.data.members {
		if m.TeamID == teamID && m.UserID == userID {
			delete(s.data.members, id)
			return nil
		}
	}
	return ErrMemberNotFound
}

func copyRole(r *Role) *Role {
	copied := *r
	copied.Permissions = append([]string(nil), r.Permissions...)
	return &copied
}

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

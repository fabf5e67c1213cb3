// Package memstore provides an in-memory rbac.Store for tests, demos and local tooling.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/accessctl/internal/rbac"
)

// Store implements rbac.Store using in-memory maps. It enforces the same unique
// constraints as the SQL schema: role names and (role, permission) pairs.
type Store struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]rbac.User
	roles       map[uuid.UUID]rbac.Role
	permissions map[uuid.UUID]rbac.Permission
	userRoles   []rbac.UserRole
	rolePerms   []rbac.RolePermission
	now         func() time.Time
}

var _ rbac.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[uuid.UUID]rbac.User),
		roles:       make(map[uuid.UUID]rbac.Role),
		permissions: make(map[uuid.UUID]rbac.Permission),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetUser implements rbac.UserStore.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return rbac.User{}, rbac.ErrNotFound
	}
	return u, nil
}

// FindUserByEmail implements rbac.UserStore.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.sortedUsers() {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return rbac.User{}, rbac.ErrNotFound
}

// ListActiveUsers implements rbac.UserStore.
func (s *Store) ListActiveUsers(ctx context.Context) ([]rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.User
	for _, u := range s.sortedUsers() {
		if u.Lifecycle.IsActive() {
			out = append(out, u)
		}
	}
	return out, nil
}

// RestoreUser implements rbac.UserStore.
func (s *Store) RestoreUser(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return rbac.ErrNotFound
	}
	u.Lifecycle = rbac.Active()
	u.UpdatedAt = s.now()
	s.users[id] = u
	return nil
}

// FindRoleByName implements rbac.RoleStore.
func (s *Store) FindRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return rbac.Role{}, rbac.ErrNotFound
}

// ListRoles implements rbac.RoleStore.
func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateRole implements rbac.RoleStore.
func (s *Store) CreateRole(ctx context.Context, name string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			return rbac.Role{}, rbac.ErrDuplicate
		}
	}
	now := s.now()
	role := rbac.Role{ID: uuid.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	s.roles[role.ID] = role
	return role, nil
}

// RestoreRole implements rbac.RoleStore.
func (s *Store) RestoreRole(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return rbac.ErrNotFound
	}
	r.Lifecycle = rbac.Active()
	r.UpdatedAt = s.now()
	s.roles[id] = r
	return nil
}

// FindPermissionByName implements rbac.PermissionStore.
func (s *Store) FindPermissionByName(ctx context.Context, name string) (rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.permissions {
		if p.Name == name {
			return p, nil
		}
	}
	return rbac.Permission{}, rbac.ErrNotFound
}

// HeldRoles implements rbac.UserRoleStore.
func (s *Store) HeldRoles(ctx context.Context, userID uuid.UUID) ([]rbac.RoleHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.RoleHolding
	for _, a := range s.userRoles {
		if a.UserID != userID || !a.Lifecycle.IsActive() {
			continue
		}
		out = append(out, rbac.RoleHolding{Assignment: a, Role: s.rolePtr(a.RoleID)})
	}
	return out, nil
}

// UserRolesForPair implements rbac.UserRoleStore.
func (s *Store) UserRolesForPair(ctx context.Context, userID, roleID uuid.UUID) ([]rbac.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.UserRole
	for _, a := range s.userRoles {
		if a.UserID == userID && a.RoleID == roleID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListActiveUserRoleLinks implements rbac.UserRoleStore.
func (s *Store) ListActiveUserRoleLinks(ctx context.Context) ([]rbac.UserRoleLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.UserRoleLink
	for _, a := range s.userRoles {
		if !a.Lifecycle.IsActive() {
			continue
		}
		link := rbac.UserRoleLink{Assignment: a, Role: s.rolePtr(a.RoleID)}
		if u, ok := s.users[a.UserID]; ok {
			link.User = &u
		}
		out = append(out, link)
	}
	return out, nil
}

// CreateUserRole implements rbac.UserRoleStore.
func (s *Store) CreateUserRole(ctx context.Context, userID, roleID uuid.UUID) (rbac.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	a := rbac.UserRole{ID: uuid.New(), UserID: userID, RoleID: roleID, CreatedAt: now, UpdatedAt: now}
	s.userRoles = append(s.userRoles, a)
	return a, nil
}

// SoftDeleteUserRole implements rbac.UserRoleStore.
func (s *Store) SoftDeleteUserRole(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.updateUserRole(id, func(a *rbac.UserRole) {
		if a.Lifecycle.IsActive() {
			a.Lifecycle = rbac.Deleted(at)
		}
	})
}

// RestoreUserRole implements rbac.UserRoleStore.
func (s *Store) RestoreUserRole(ctx context.Context, id uuid.UUID) error {
	return s.updateUserRole(id, func(a *rbac.UserRole) { a.Lifecycle = rbac.Active() })
}

func (s *Store) updateUserRole(id uuid.UUID, fn func(*rbac.UserRole)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.userRoles {
		if s.userRoles[i].ID == id {
			fn(&s.userRoles[i])
			s.userRoles[i].UpdatedAt = s.now()
			return nil
		}
	}
	return rbac.ErrNotFound
}

// ActiveGrants implements rbac.RolePermissionStore.
func (s *Store) ActiveGrants(ctx context.Context, roleIDs []uuid.UUID) ([]rbac.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[uuid.UUID]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = struct{}{}
	}
	var out []rbac.Grant
	for _, a := range s.rolePerms {
		if _, ok := wanted[a.RoleID]; !ok || !a.Granting() {
			continue
		}
		g := rbac.Grant{Assignment: a}
		if p, ok := s.permissions[a.PermissionID]; ok {
			g.Permission = &p
		}
		out = append(out, g)
	}
	return out, nil
}

// ListActiveRolePermissionLinks implements rbac.RolePermissionStore.
func (s *Store) ListActiveRolePermissionLinks(ctx context.Context) ([]rbac.RolePermissionLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.RolePermissionLink
	for _, a := range s.rolePerms {
		if !a.Lifecycle.IsActive() {
			continue
		}
		link := rbac.RolePermissionLink{Assignment: a, Role: s.rolePtr(a.RoleID)}
		if p, ok := s.permissions[a.PermissionID]; ok {
			link.Permission = &p
		}
		out = append(out, link)
	}
	return out, nil
}

// CreateRolePermission implements rbac.RolePermissionStore.
func (s *Store) CreateRolePermission(ctx context.Context, roleID, permissionID uuid.UUID, assignedBy string) (rbac.RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.rolePerms {
		if a.RoleID == roleID && a.PermissionID == permissionID {
			return rbac.RolePermission{}, rbac.ErrDuplicate
		}
	}
	now := s.now()
	a := rbac.RolePermission{
		ID:           uuid.New(),
		RoleID:       roleID,
		PermissionID: permissionID,
		IsActive:     true,
		AssignedBy:   assignedBy,
		AssignedAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.rolePerms = append(s.rolePerms, a)
	return a, nil
}

// SoftDeleteRolePermission implements rbac.RolePermissionStore.
func (s *Store) SoftDeleteRolePermission(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.updateRolePermission(id, func(a *rbac.RolePermission) {
		if a.Lifecycle.IsActive() {
			a.Lifecycle = rbac.Deleted(at)
		}
	})
}

// RestoreRolePermission implements rbac.RolePermissionStore.
func (s *Store) RestoreRolePermission(ctx context.Context, id uuid.UUID) error {
	return s.updateRolePermission(id, func(a *rbac.RolePermission) { a.Lifecycle = rbac.Active() })
}

func (s *Store) updateRolePermission(id uuid.UUID, fn func(*rbac.RolePermission)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rolePerms {
		if s.rolePerms[i].ID == id {
			fn(&s.rolePerms[i])
			s.rolePerms[i].UpdatedAt = s.now()
			return nil
		}
	}
	return rbac.ErrNotFound
}

func (s *Store) rolePtr(id uuid.UUID) *rbac.Role {
	r, ok := s.roles[id]
	if !ok {
		return nil
	}
	return &r
}

func (s *Store) sortedUsers() []rbac.User {
	out := make([]rbac.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Email == out[j].Email {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Email < out[j].Email
	})
	return out
}

package memstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/accessctl/internal/rbac"
)

// SeedUser adds a user directly. A zero ID is replaced with a fresh one.
func (s *Store) SeedUser(u rbac.User) rbac.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
		u.UpdatedAt = u.CreatedAt
	}
	s.users[u.ID] = u
	return u
}

// SeedRole adds a role directly, bypassing the name constraint.
func (s *Store) SeedRole(r rbac.Role) rbac.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.roles[r.ID] = r
	return r
}

// SeedPermission adds a permission definition.
func (s *Store) SeedPermission(p rbac.Permission) rbac.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.permissions[p.ID] = p
	return p
}

// SeedUserRole inserts an assignment as-is, including references that do not resolve.
func (s *Store) SeedUserRole(a rbac.UserRole) rbac.UserRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.userRoles = append(s.userRoles, a)
	return a
}

// SeedRolePermission inserts an assignment as-is, including references that do not resolve.
func (s *Store) SeedRolePermission(a rbac.RolePermission) rbac.RolePermission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.rolePerms = append(s.rolePerms, a)
	return a
}

// SoftDeleteUser marks a user deleted.
func (s *Store) SoftDeleteUser(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Lifecycle = rbac.Deleted(at)
		s.users[id] = u
	}
}

// SoftDeleteRole marks a role deleted.
func (s *Store) SoftDeleteRole(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.roles[id]; ok {
		r.Lifecycle = rbac.Deleted(at)
		s.roles[id] = r
	}
}

// SetPermissionLifecycle soft-deletes or restores a permission definition.
func (s *Store) SetPermissionLifecycle(id uuid.UUID, l rbac.Lifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.permissions[id]; ok {
		p.Lifecycle = l
		s.permissions[id] = p
	}
}

// SetPermissionActive toggles a permission definition's is_active flag.
func (s *Store) SetPermissionActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.permissions[id]; ok {
		p.IsActive = active
		s.permissions[id] = p
	}
}

// DeleteRole physically removes a role, leaving its assignments dangling.
func (s *Store) DeleteRole(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, id)
}

// DeleteUser physically removes a user, leaving its assignments dangling.
func (s *Store) DeleteUser(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

// UserRoles returns a snapshot of every user-role assignment.
func (s *Store) UserRoles() []rbac.UserRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]rbac.UserRole(nil), s.userRoles...)
}

// RolePermissions returns a snapshot of every role-permission assignment.
func (s *Store) RolePermissions() []rbac.RolePermission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]rbac.RolePermission(nil), s.rolePerms...)
}

// Roles returns a snapshot of every role.
func (s *Store) Roles() []rbac.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out
}

// SeedRequiredRoles creates every required role and returns them by name.
func (s *Store) SeedRequiredRoles() map[string]rbac.Role {
	out := make(map[string]rbac.Role, len(rbac.RequiredRoles))
	for _, name := range rbac.RequiredRoles {
		out[name] = s.SeedRole(rbac.Role{Name: name})
	}
	return out
}

// SeedActivePermission creates an active permission with the given name.
func (s *Store) SeedActivePermission(name string) rbac.Permission {
	return s.SeedPermission(rbac.Permission{Name: name, IsActive: true})
}

// Grant creates an active role-permission assignment.
func (s *Store) Grant(role rbac.Role, perm rbac.Permission) rbac.RolePermission {
	return s.SeedRolePermission(rbac.RolePermission{
		RoleID:       role.ID,
		PermissionID: perm.ID,
		IsActive:     true,
		AssignedBy:   "seed",
		AssignedAt:   s.now(),
	})
}

// Assign creates an active user-role assignment.
func (s *Store) Assign(user rbac.User, role rbac.Role) rbac.UserRole {
	return s.SeedUserRole(rbac.UserRole{UserID: user.ID, RoleID: role.ID, CreatedAt: s.now()})
}

package rbac

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// System role names the core depends on.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// RequiredRoles lists the roles every deployment must carry.
var RequiredRoles = []string{RoleUser, RoleAdmin, RoleSuperAdmin}

// User is the slice of an identity record the core reads.
type User struct {
	ID        uuid.UUID
	Email     string
	Lifecycle Lifecycle
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role represents a high-level permission grouping.
type Role struct {
	ID        uuid.UUID
	Name      string
	Lifecycle Lifecycle
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Permission represents an atomic capability named resource:action:scope.
type Permission struct {
	ID          uuid.UUID
	Name        string
	Description string
	IsActive    bool
	Lifecycle   Lifecycle
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Usable reports whether the permission may be granted at all.
func (p Permission) Usable() bool {
	return p.IsActive && p.Lifecycle.IsActive()
}

// UserRole links a user to a role. Duplicate active pairs are tolerated.
type UserRole struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	RoleID    uuid.UUID
	Lifecycle Lifecycle
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RolePermission ties a permission to a role. At most one record exists per pair.
type RolePermission struct {
	ID           uuid.UUID
	RoleID       uuid.UUID
	PermissionID uuid.UUID
	IsActive     bool
	Lifecycle    Lifecycle
	AssignedBy   string
	AssignedAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Granting reports whether the assignment record itself is in force.
func (a RolePermission) Granting() bool {
	return a.IsActive && a.Lifecycle.IsActive()
}

// RoleHolding is an active user-role assignment with its role resolved.
// Role is nil when the referenced role does not exist.
type RoleHolding struct {
	Assignment UserRole
	Role       *Role
}

// UserRoleLink is an active user-role assignment with both ends resolved.
// A nil end means the reference is dangling.
type UserRoleLink struct {
	Assignment UserRole
	User       *User
	Role       *Role
}

// Dangling reports whether either referenced entity failed to resolve.
func (l UserRoleLink) Dangling() bool {
	return l.User == nil || l.Role == nil
}

// Grant is an active role-permission assignment with its permission resolved.
// Permission is nil when the referenced permission does not exist.
type Grant struct {
	Assignment RolePermission
	Permission *Permission
}

// RolePermissionLink is an active role-permission assignment with both ends resolved.
type RolePermissionLink struct {
	Assignment RolePermission
	Role       *Role
	Permission *Permission
}

// Dangling reports whether either referenced entity failed to resolve.
func (l RolePermissionLink) Dangling() bool {
	return l.Role == nil || l.Permission == nil
}

// PermissionName is the parsed form of resource:action:scope.
type PermissionName struct {
	Resource string
	Action   string
	Scope    string
}

// ParsePermissionName splits a permission name into its three segments.
func ParsePermissionName(name string) (PermissionName, error) {
	parts := strings.Split(name, ":")
	if len(parts) != 3 {
		return PermissionName{}, fmt.Errorf("%w: %q must be resource:action:scope", ErrInvalidPermissionName, name)
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" || part != strings.TrimSpace(part) {
			return PermissionName{}, fmt.Errorf("%w: %q has an empty or padded segment", ErrInvalidPermissionName, name)
		}
	}
	return PermissionName{Resource: parts[0], Action: parts[1], Scope: parts[2]}, nil
}

// String renders the canonical name.
func (n PermissionName) String() string {
	return n.Resource + ":" + n.Action + ":" + n.Scope
}

// ParseUserID validates the textual user identifier. Only the hyphenated
// 36-character form is accepted; braces, urn prefixes and bare hex are rejected.
func ParseUserID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 36 {
		return uuid.Nil, ErrInvalidUserID
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidUserID
	}
	return id, nil
}

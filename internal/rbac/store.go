package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore reads identity records and restores soft-deleted ones.
type UserStore interface {
	// GetUser returns the user regardless of soft-delete state, or ErrNotFound.
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	// FindUserByEmail matches the email case-insensitively, regardless of soft-delete state.
	FindUserByEmail(ctx context.Context, email string) (User, error)
	// ListActiveUsers returns users whose deleted_at is null.
	ListActiveUsers(ctx context.Context) ([]User, error)
	// RestoreUser clears deleted_at.
	RestoreUser(ctx context.Context, id uuid.UUID) error
}

// RoleStore persists roles.
type RoleStore interface {
	// FindRoleByName returns the role regardless of soft-delete state, or ErrNotFound.
	FindRoleByName(ctx context.Context, name string) (Role, error)
	// ListRoles returns every role including soft-deleted ones, ordered by name.
	ListRoles(ctx context.Context) ([]Role, error)
	// CreateRole inserts an active role. A taken name yields ErrDuplicate.
	CreateRole(ctx context.Context, name string) (Role, error)
	// RestoreRole clears deleted_at.
	RestoreRole(ctx context.Context, id uuid.UUID) error
}

// PermissionStore reads permission definitions. The core never creates them.
type PermissionStore interface {
	// FindPermissionByName matches the name exactly, regardless of state, or ErrNotFound.
	FindPermissionByName(ctx context.Context, name string) (Permission, error)
}

// UserRoleStore persists user-role assignments.
type UserRoleStore interface {
	// HeldRoles returns the user's non-deleted assignments, each with its role
	// resolved by id. Unresolved roles come back as nil.
	HeldRoles(ctx context.Context, userID uuid.UUID) ([]RoleHolding, error)
	// UserRolesForPair returns every assignment for the pair, deleted or not.
	UserRolesForPair(ctx context.Context, userID, roleID uuid.UUID) ([]UserRole, error)
	// ListActiveUserRoleLinks returns every non-deleted assignment with both ends resolved.
	ListActiveUserRoleLinks(ctx context.Context) ([]UserRoleLink, error)
	// CreateUserRole inserts an active assignment.
	CreateUserRole(ctx context.Context, userID, roleID uuid.UUID) (UserRole, error)
	// SoftDeleteUserRole stamps deleted_at when the assignment is still active.
	SoftDeleteUserRole(ctx context.Context, id uuid.UUID, at time.Time) error
	// RestoreUserRole clears deleted_at.
	RestoreUserRole(ctx context.Context, id uuid.UUID) error
}

// RolePermissionStore persists role-permission assignments.
type RolePermissionStore interface {
	// ActiveGrants returns assignments for the roles that are is_active and not
	// deleted, each with its permission resolved by id. Unresolved permissions
	// come back as nil.
	ActiveGrants(ctx context.Context, roleIDs []uuid.UUID) ([]Grant, error)
	// ListActiveRolePermissionLinks returns every non-deleted assignment with both ends resolved.
	ListActiveRolePermissionLinks(ctx context.Context) ([]RolePermissionLink, error)
	// CreateRolePermission inserts an assignment. An existing pair yields ErrDuplicate.
	CreateRolePermission(ctx context.Context, roleID, permissionID uuid.UUID, assignedBy string) (RolePermission, error)
	// SoftDeleteRolePermission stamps deleted_at when the assignment is still active.
	SoftDeleteRolePermission(ctx context.Context, id uuid.UUID, at time.Time) error
	// RestoreRolePermission clears deleted_at.
	RestoreRolePermission(ctx context.Context, id uuid.UUID) error
}

// Store is the full persistence contract of the core.
type Store interface {
	UserStore
	RoleStore
	PermissionStore
	UserRoleStore
	RolePermissionStore
}

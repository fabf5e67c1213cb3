package rbac

import "errors"

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicate indicates a uniqueness constraint rejected the write.
	ErrDuplicate = errors.New("rbac: duplicate")
	// ErrInvalidUserID indicates a malformed user identifier.
	ErrInvalidUserID = errors.New("rbac: invalid user id")
	// ErrInvalidPermissionName indicates a name outside resource:action:scope.
	ErrInvalidPermissionName = errors.New("rbac: invalid permission name")
	// ErrRequiredRoleMissing aborts a repair when a system role is absent or soft-deleted.
	ErrRequiredRoleMissing = errors.New("rbac: required role missing")
	// ErrInvalidOptions indicates repair options failed validation.
	ErrInvalidOptions = errors.New("rbac: invalid repair options")
	// ErrRepairInProgress indicates another repair run holds the lock.
	ErrRepairInProgress = errors.New("rbac: repair already in progress")
)

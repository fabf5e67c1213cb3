package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// BootstrapAssigner is recorded as assigned_by on grants created at startup.
const BootstrapAssigner = "system:bootstrap"

// DefaultCorePermissions are the baseline grants every holder of the user role needs.
var DefaultCorePermissions = []string{
	"assessment:view:own",
	"assessment:submit:own",
	"content:view:all",
	"content:view:shared",
	"feedback:create:own",
	"profile:view:own",
	"profile:update:own",
}

// BootstrapStore is the persistence the bootstrapper needs.
type BootstrapStore interface {
	RoleStore
	PermissionStore
	ActiveGrants(ctx context.Context, roleIDs []uuid.UUID) ([]Grant, error)
	CreateRolePermission(ctx context.Context, roleID, permissionID uuid.UUID, assignedBy string) (RolePermission, error)
}

// BootstrapConfig tunes the bootstrapper.
type BootstrapConfig struct {
	// CorePermissions overrides DefaultCorePermissions when non-empty.
	CorePermissions []string
}

// Bootstrapper idempotently provisions system roles and the user role's baseline grants.
// It is not meant to run concurrently with itself; unique indexes settle any race.
type Bootstrapper struct {
	store  BootstrapStore
	logger *slog.Logger
	core   []string
}

// NewBootstrapper builds a Bootstrapper.
func NewBootstrapper(store BootstrapStore, logger *slog.Logger, cfg BootstrapConfig) *Bootstrapper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	core := cfg.CorePermissions
	if len(core) == 0 {
		core = DefaultCorePermissions
	}
	return &Bootstrapper{store: store, logger: logger, core: append([]string(nil), core...)}
}

// RoleInfo describes the state of a required role after bootstrap.
type RoleInfo struct {
	ID       uuid.UUID
	Name     string
	Created  bool
	Restored bool
}

// EnsureRolesExist makes sure every required role exists exactly once.
func (b *Bootstrapper) EnsureRolesExist(ctx context.Context) error {
	_, err := b.EnsureRoles(ctx)
	return err
}

// EnsureRoles creates missing required roles and restores soft-deleted ones.
func (b *Bootstrapper) EnsureRoles(ctx context.Context) ([]RoleInfo, error) {
	infos := make([]RoleInfo, 0, len(RequiredRoles))
	for _, name := range RequiredRoles {
		info, err := b.ensureRole(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (b *Bootstrapper) ensureRole(ctx context.Context, name string) (RoleInfo, error) {
	role, err := b.store.FindRoleByName(ctx, name)
	switch {
	case err == nil:
		if role.Lifecycle.IsActive() {
			b.logger.DebugContext(ctx, "rbac role already exists", slog.String("role", name), slog.String("id", role.ID.String()))
			return RoleInfo{ID: role.ID, Name: name}, nil
		}
		if err := b.store.RestoreRole(ctx, role.ID); err != nil {
			return RoleInfo{}, fmt.Errorf("rbac: restore role %s: %w", name, err)
		}
		b.logger.InfoContext(ctx, "rbac role restored", slog.String("role", name), slog.String("id", role.ID.String()))
		return RoleInfo{ID: role.ID, Name: name, Restored: true}, nil
	case !errors.Is(err, ErrNotFound):
		return RoleInfo{}, fmt.Errorf("rbac: find role %s: %w", name, err)
	}

	role, err = b.store.CreateRole(ctx, name)
	if errors.Is(err, ErrDuplicate) {
		// Another process created it between our read and write.
		role, err = b.store.FindRoleByName(ctx, name)
		if err != nil {
			return RoleInfo{}, fmt.Errorf("rbac: reload role %s: %w", name, err)
		}
		return RoleInfo{ID: role.ID, Name: name}, nil
	}
	if err != nil {
		return RoleInfo{}, fmt.Errorf("rbac: create role %s: %w", name, err)
	}
	b.logger.InfoContext(ctx, "rbac role created", slog.String("role", name), slog.String("id", role.ID.String()))
	return RoleInfo{ID: role.ID, Name: name, Created: true}, nil
}

// EnsureRolePermissions adds the missing core grants to the user role. It never
// removes a grant and never creates a permission definition.
func (b *Bootstrapper) EnsureRolePermissions(ctx context.Context) error {
	role, err := b.store.FindRoleByName(ctx, RoleUser)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRequiredRoleMissing, RoleUser)
		}
		return fmt.Errorf("rbac: find role %s: %w", RoleUser, err)
	}

	grants, err := b.store.ActiveGrants(ctx, []uuid.UUID{role.ID})
	if err != nil {
		return fmt.Errorf("rbac: load grants for %s: %w", RoleUser, err)
	}
	assigned := make(map[uuid.UUID]struct{}, len(grants))
	for _, g := range grants {
		assigned[g.Assignment.PermissionID] = struct{}{}
	}

	added := 0
	for _, name := range b.core {
		perm, err := b.store.FindPermissionByName(ctx, name)
		if errors.Is(err, ErrNotFound) {
			b.logger.DebugContext(ctx, "rbac core permission not seeded", slog.String("permission", name))
			continue
		}
		if err != nil {
			return fmt.Errorf("rbac: find permission %s: %w", name, err)
		}
		if _, ok := assigned[perm.ID]; ok {
			continue
		}
		_, err = b.store.CreateRolePermission(ctx, role.ID, perm.ID, BootstrapAssigner)
		if errors.Is(err, ErrDuplicate) {
			// A record for the pair exists already: inactive, soft-deleted or raced in.
			b.logger.DebugContext(ctx, "rbac grant record already present", slog.String("permission", name))
			assigned[perm.ID] = struct{}{}
			continue
		}
		if err != nil {
			return fmt.Errorf("rbac: grant %s to %s: %w", name, RoleUser, err)
		}
		assigned[perm.ID] = struct{}{}
		added++
		b.logger.InfoContext(ctx, "rbac grant created", slog.String("role", RoleUser), slog.String("permission", name))
	}
	b.logger.InfoContext(ctx, "rbac role permissions ensured", slog.String("role", RoleUser), slog.Int("added", added))
	return nil
}

package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
)

// Authorizer answers whether a user holds a permission. Implementations fail closed.
type Authorizer interface {
	HasPermission(ctx context.Context, userID, permissionName string) bool
}

// GrantReader is the read path the resolver needs: two round-trips per decision.
type GrantReader interface {
	HeldRoles(ctx context.Context, userID uuid.UUID) ([]RoleHolding, error)
	ActiveGrants(ctx context.Context, roleIDs []uuid.UUID) ([]Grant, error)
}

// Resolver walks active role and permission assignments. It keeps no mutable
// state and is safe for concurrent use.
type Resolver struct {
	store   GrantReader
	logger  *slog.Logger
	metrics *Metrics
}

// NewResolver constructs a Resolver. Logger and metrics are optional.
func NewResolver(store GrantReader, logger *slog.Logger, metrics *Metrics) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: store, logger: logger, metrics: metrics}
}

// HasPermission reports whether the user holds the permission through any active
// role. Malformed input, store failures and dangling references all deny.
func (r *Resolver) HasPermission(ctx context.Context, userID, permissionName string) (allowed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "rbac resolve panic", slog.String("user_id", userID), slog.String("permission", permissionName), slog.Any("panic", rec))
			r.metrics.observeDecision(DecisionError)
			allowed = false
		}
	}()
	allowed, err := r.Decide(ctx, userID, permissionName)
	if err != nil {
		r.logger.ErrorContext(ctx, "rbac resolve", slog.String("user_id", userID), slog.String("permission", permissionName), slog.Any("error", err))
		r.metrics.observeDecision(DecisionError)
		return false
	}
	return allowed
}

// Decide is HasPermission with store failures surfaced. Malformed input is a
// plain deny, not an error.
func (r *Resolver) Decide(ctx context.Context, userID, permissionName string) (bool, error) {
	id, err := ParseUserID(userID)
	if err != nil || permissionName == "" {
		r.record(ctx, userID, permissionName, DecisionDeny, "malformed input")
		return false, nil
	}
	granted, err := r.granted(ctx, id)
	if err != nil {
		return false, err
	}
	if _, ok := granted[permissionName]; ok {
		r.record(ctx, userID, permissionName, DecisionAllow, "")
		return true, nil
	}
	r.record(ctx, userID, permissionName, DecisionDeny, "not granted")
	return false, nil
}

// EffectivePermissions returns the sorted usable permission names held by the user.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	id, err := ParseUserID(userID)
	if err != nil {
		return nil, err
	}
	granted, err := r.granted(ctx, id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(granted))
	for name := range granted {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Resolver) granted(ctx context.Context, userID uuid.UUID) (map[string]struct{}, error) {
	holdings, err := r.store.HeldRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: held roles: %w", err)
	}
	roleIDs := heldRoleIDs(holdings)
	if len(roleIDs) == 0 {
		return map[string]struct{}{}, nil
	}
	grants, err := r.store.ActiveGrants(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("rbac: active grants: %w", err)
	}
	wanted := make(map[uuid.UUID]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = struct{}{}
	}
	names := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if _, ok := wanted[g.Assignment.RoleID]; !ok {
			continue
		}
		if !g.Assignment.Granting() || g.Permission == nil || !g.Permission.Usable() {
			continue
		}
		names[g.Permission.Name] = struct{}{}
	}
	return names, nil
}

// heldRoleIDs keeps roles that resolved and are live, collapsing duplicate assignments.
func heldRoleIDs(holdings []RoleHolding) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(holdings))
	ids := make([]uuid.UUID, 0, len(holdings))
	for _, h := range holdings {
		if !h.Assignment.Lifecycle.IsActive() || h.Role == nil || !h.Role.Lifecycle.IsActive() {
			continue
		}
		if _, ok := seen[h.Role.ID]; ok {
			continue
		}
		seen[h.Role.ID] = struct{}{}
		ids = append(ids, h.Role.ID)
	}
	return ids
}

func (r *Resolver) record(ctx context.Context, userID, permission, outcome, reason string) {
	r.metrics.observeDecision(outcome)
	attrs := []slog.Attr{
		slog.String("user_id", userID),
		slog.String("permission", permission),
		slog.String("outcome", outcome),
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	r.logger.LogAttrs(ctx, slog.LevelDebug, "rbac decision", attrs...)
}

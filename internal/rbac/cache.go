package rbac

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Decider resolves a decision and reports store failures separately from denials.
type Decider interface {
	Decide(ctx context.Context, userID, permissionName string) (bool, error)
}

// DecisionCache stores decisions for a bounded time.
type DecisionCache interface {
	GetDecision(ctx context.Context, key string) (allowed bool, found bool, err error)
	SetDecision(ctx context.Context, key string, allowed bool, ttl time.Duration) error
}

// CachedAuthorizer wraps a Decider with a time-bounded decision cache. Store
// failures are never cached. Grants and revocations become visible once the
// cached entry expires.
type CachedAuthorizer struct {
	next   Decider
	cache  DecisionCache
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedAuthorizer builds a CachedAuthorizer.
func NewCachedAuthorizer(next Decider, cache DecisionCache, ttl time.Duration, logger *slog.Logger) *CachedAuthorizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedAuthorizer{next: next, cache: cache, ttl: ttl, logger: logger}
}

// HasPermission serves cached decisions and collapses concurrent misses per key.
func (c *CachedAuthorizer) HasPermission(ctx context.Context, userID, permissionName string) bool {
	id, err := ParseUserID(userID)
	if err != nil || permissionName == "" {
		return false
	}
	userID = id.String()
	key := DecisionKey(userID, permissionName)
	if allowed, found, err := c.cache.GetDecision(ctx, key); err != nil {
		c.logger.WarnContext(ctx, "rbac decision cache get", slog.String("key", key), slog.Any("error", err))
	} else if found {
		return allowed
	}

	// The shared call outlives any single waiter; each waiter bounds its own wait below.
	shared := context.WithoutCancel(ctx)
	res := c.group.DoChan(key, func() (interface{}, error) {
		allowed, err := c.next.Decide(shared, userID, permissionName)
		if err != nil {
			return false, err
		}
		if err := c.cache.SetDecision(shared, key, allowed, c.ttl); err != nil {
			c.logger.WarnContext(shared, "rbac decision cache set", slog.String("key", key), slog.Any("error", err))
		}
		return allowed, nil
	})
	select {
	case <-ctx.Done():
		return false
	case out := <-res:
		if out.Err != nil {
			c.logger.ErrorContext(ctx, "rbac resolve", slog.String("user_id", userID), slog.String("permission", permissionName), slog.Any("error", out.Err))
			return false
		}
		allowed, _ := out.Val.(bool)
		return allowed
	}
}

// DecisionKey is the cache key for a user and permission.
func DecisionKey(userID, permissionName string) string {
	return "accessctl:authz:" + userID + ":" + permissionName
}

package rbac

import "time"

// Lifecycle is the soft-delete state of a record: Active, or Deleted at an instant.
// The zero value is Active.
type Lifecycle struct {
	deletedAt time.Time
	deleted   bool
}

// Active returns the live state.
func Active() Lifecycle {
	return Lifecycle{}
}

// Deleted returns the soft-deleted state stamped at the given instant.
func Deleted(at time.Time) Lifecycle {
	return Lifecycle{deletedAt: at.UTC(), deleted: true}
}

// IsActive reports whether the record is live.
func (l Lifecycle) IsActive() bool {
	return !l.deleted
}

// DeletedAt returns the deletion instant and whether the record is deleted.
func (l Lifecycle) DeletedAt() (time.Time, bool) {
	return l.deletedAt, l.deleted
}

// LifecycleFromNullable maps a nullable deletion timestamp to a Lifecycle.
func LifecycleFromNullable(at *time.Time) Lifecycle {
	if at == nil {
		return Active()
	}
	return Deleted(*at)
}

// Nullable maps the Lifecycle back to a nullable deletion timestamp.
func (l Lifecycle) Nullable() *time.Time {
	if !l.deleted {
		return nil
	}
	at := l.deletedAt
	return &at
}

func (l Lifecycle) String() string {
	if !l.deleted {
		return "active"
	}
	return "deleted@" + l.deletedAt.Format(time.RFC3339)
}

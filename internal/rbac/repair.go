package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultRepairLockKey is the lock key shared by every repair entry point.
const DefaultRepairLockKey = "accessctl:rbac:repair:lock"

// RepairOptions controls a repair run.
type RepairOptions struct {
	DryRun          bool     `json:"dry_run"`
	SuperAdminEmail string   `json:"super_admin_email" validate:"omitempty,email"`
	AdminEmails     []string `json:"admin_emails" validate:"omitempty,dive,email"`
}

// Normalize trims, lower-cases and de-duplicates the email targets.
func (o RepairOptions) Normalize() RepairOptions {
	out := RepairOptions{DryRun: o.DryRun, SuperAdminEmail: normalizeEmail(o.SuperAdminEmail)}
	seen := make(map[string]struct{}, len(o.AdminEmails))
	for _, email := range o.AdminEmails {
		email = normalizeEmail(email)
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out.AdminEmails = append(out.AdminEmails, email)
	}
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Locker serialises repair runs across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// RepairConfig carries optional collaborators of the repairer.
type RepairConfig struct {
	Locker  Locker
	LockKey string
	LockTTL time.Duration
	Now     func() time.Time
}

// Repairer restores the RBAC invariants after partial failures and manual edits.
// Every step is idempotent; re-running from scratch converges on the same state.
type Repairer struct {
	store    Store
	logger   *slog.Logger
	metrics  *Metrics
	validate *validator.Validate
	cfg      RepairConfig
}

// NewRepairer builds a Repairer.
func NewRepairer(store Store, logger *slog.Logger, metrics *Metrics, cfg RepairConfig) *Repairer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultRepairLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Repairer{store: store, logger: logger, metrics: metrics, validate: validator.New(), cfg: cfg}
}

// Repair runs every step in order. On a fatal error or cancellation the report
// holds the steps completed so far.
func (r *Repairer) Repair(ctx context.Context, opts RepairOptions) (Report, error) {
	opts = opts.Normalize()
	report := Report{DryRun: opts.DryRun, StartedAt: r.cfg.Now().UTC()}
	if err := r.validate.Struct(opts); err != nil {
		return report, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	if r.cfg.Locker != nil {
		unlock, ok, err := r.cfg.Locker.TryLock(ctx, r.cfg.LockKey, r.cfg.LockTTL)
		if err != nil {
			return report, fmt.Errorf("rbac: acquire repair lock: %w", err)
		}
		if !ok {
			return report, ErrRepairInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.logger.WarnContext(ctx, "rbac release repair lock", slog.Any("error", err))
			}
		}()
	}

	roles, err := r.requiredRoles(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "rbac repair aborted", slog.Any("error", err))
		return report, err
	}

	steps := []struct {
		name string
		run  func(context.Context, *StepReport) error
	}{
		{StepRestoreSuperAdmin, func(ctx context.Context, s *StepReport) error {
			return r.restoreSuperAdmin(ctx, s, opts, roles[RoleSuperAdmin])
		}},
		{StepEnsureAdminMappings, func(ctx context.Context, s *StepReport) error {
			return r.ensureAdminMappings(ctx, s, opts, roles[RoleAdmin])
		}},
		{StepDanglingUserRoles, func(ctx context.Context, s *StepReport) error {
			return r.disableDanglingUserRoles(ctx, s, opts.DryRun)
		}},
		{StepDanglingRolePermissions, func(ctx context.Context, s *StepReport) error {
			return r.disableDanglingRolePermissions(ctx, s, opts.DryRun)
		}},
		{StepBackfillDefaultRole, func(ctx context.Context, s *StepReport) error {
			return r.backfillDefaultRole(ctx, s, opts.DryRun, roles[RoleUser])
		}},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			r.logger.WarnContext(ctx, "rbac repair cancelled", slog.String("before_step", step.name))
			return report, err
		}
		sr := StepReport{Name: step.name, Changes: []Change{}}
		err := step.run(ctx, &sr)
		report.Steps = append(report.Steps, sr)
		r.metrics.observeStep(sr)
		r.logger.InfoContext(ctx, "rbac repair step",
			slog.String("step", sr.Name),
			slog.Bool("dry_run", opts.DryRun),
			slog.Int("scanned", sr.Scanned),
			slog.Int("changed", sr.Count(OutcomeChanged)),
			slog.Int("unchanged", sr.Count(OutcomeUnchanged)),
			slog.Int("skipped", sr.Count(OutcomeSkipped)),
		)
		if err != nil {
			return report, fmt.Errorf("rbac: repair %s: %w", step.name, err)
		}
	}

	tally, err := r.tally(ctx)
	if err != nil {
		return report, fmt.Errorf("rbac: repair tally: %w", err)
	}
	report.Tally = tally
	report.FinishedAt = r.cfg.Now().UTC()
	for _, t := range tally {
		r.logger.InfoContext(ctx, "rbac role tally", slog.String("role", t.Role), slog.Int("active_assignments", t.Count))
	}
	return report, nil
}

func (r *Repairer) requiredRoles(ctx context.Context) (map[string]Role, error) {
	roles := make(map[string]Role, len(RequiredRoles))
	for _, name := range RequiredRoles {
		role, err := r.store.FindRoleByName(ctx, name)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRequiredRoleMissing, name)
		}
		if err != nil {
			return nil, fmt.Errorf("rbac: find role %s: %w", name, err)
		}
		if !role.Lifecycle.IsActive() {
			return nil, fmt.Errorf("%w: %s is soft-deleted", ErrRequiredRoleMissing, name)
		}
		roles[name] = role
	}
	return roles, nil
}

func (r *Repairer) restoreSuperAdmin(ctx context.Context, s *StepReport, opts RepairOptions, role Role) error {
	email := opts.SuperAdminEmail
	if email == "" {
		return nil
	}
	s.Scanned = 1
	user, err := r.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.add(email, OutcomeSkipped, "", "user not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find user %s: %w", email, err)
	}
	if !user.Lifecycle.IsActive() {
		if !opts.DryRun {
			if err := r.store.RestoreUser(ctx, user.ID); err != nil {
				return fmt.Errorf("restore user %s: %w", email, err)
			}
		}
		s.add(email, OutcomeChanged, "restore user", "")
	}
	return r.ensureAssignment(ctx, s, email, user.ID, role, opts.DryRun)
}

// ensureAdminMappings maps every listed user that exists to the admin role. A
// soft-deleted user gets the mapping but stays soft-deleted.
func (r *Repairer) ensureAdminMappings(ctx context.Context, s *StepReport, opts RepairOptions, role Role) error {
	for _, email := range opts.AdminEmails {
		s.Scanned++
		user, err := r.store.FindUserByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			s.add(email, OutcomeSkipped, "", "user not found")
			continue
		}
		if err != nil {
			return fmt.Errorf("find user %s: %w", email, err)
		}
		if err := r.ensureAssignment(ctx, s, email, user.ID, role, opts.DryRun); err != nil {
			return err
		}
	}
	return nil
}

// ensureAssignment restores a soft-deleted assignment for the pair in preference
// to creating a duplicate.
func (r *Repairer) ensureAssignment(ctx context.Context, s *StepReport, target string, userID uuid.UUID, role Role, dryRun bool) error {
	existing, err := r.store.UserRolesForPair(ctx, userID, role.ID)
	if err != nil {
		return fmt.Errorf("list assignments %s/%s: %w", target, role.Name, err)
	}
	var restorable *UserRole
	for i := range existing {
		if existing[i].Lifecycle.IsActive() {
			s.add(target, OutcomeUnchanged, "", "holds "+role.Name)
			return nil
		}
		if restorable == nil || deletedAfter(existing[i], *restorable) {
			restorable = &existing[i]
		}
	}
	if restorable != nil {
		if !dryRun {
			if err := r.store.RestoreUserRole(ctx, restorable.ID); err != nil {
				return fmt.Errorf("restore assignment %s: %w", restorable.ID, err)
			}
		}
		s.add(target, OutcomeChanged, "restore "+role.Name+" assignment", restorable.ID.String())
		return nil
	}
	if !dryRun {
		created, err := r.store.CreateUserRole(ctx, userID, role.ID)
		if err != nil {
			return fmt.Errorf("create assignment %s/%s: %w", target, role.Name, err)
		}
		s.add(target, OutcomeChanged, "create "+role.Name+" assignment", created.ID.String())
		return nil
	}
	s.add(target, OutcomeChanged, "create "+role.Name+" assignment", "")
	return nil
}

func deletedAfter(a, b UserRole) bool {
	at, _ := a.Lifecycle.DeletedAt()
	bt, _ := b.Lifecycle.DeletedAt()
	return at.After(bt)
}

func (r *Repairer) disableDanglingUserRoles(ctx context.Context, s *StepReport, dryRun bool) error {
	links, err := r.store.ListActiveUserRoleLinks(ctx)
	if err != nil {
		return fmt.Errorf("list user roles: %w", err)
	}
	s.Scanned = len(links)
	now := r.cfg.Now()
	for _, link := range links {
		if !link.Dangling() {
			continue
		}
		if !dryRun {
			if err := r.store.SoftDeleteUserRole(ctx, link.Assignment.ID, now); err != nil {
				return fmt.Errorf("soft-delete user role %s: %w", link.Assignment.ID, err)
			}
		}
		s.add(link.Assignment.ID.String(), OutcomeChanged, "soft-delete", danglingUserRoleReason(link))
	}
	return nil
}

func danglingUserRoleReason(link UserRoleLink) string {
	var missing []string
	if link.User == nil {
		missing = append(missing, "user "+link.Assignment.UserID.String())
	}
	if link.Role == nil {
		missing = append(missing, "role "+link.Assignment.RoleID.String())
	}
	return "missing " + strings.Join(missing, " and ")
}

func (r *Repairer) disableDanglingRolePermissions(ctx context.Context, s *StepReport, dryRun bool) error {
	links, err := r.store.ListActiveRolePermissionLinks(ctx)
	if err != nil {
		return fmt.Errorf("list role permissions: %w", err)
	}
	s.Scanned = len(links)
	now := r.cfg.Now()
	for _, link := range links {
		if !link.Dangling() {
			continue
		}
		if !dryRun {
			if err := r.store.SoftDeleteRolePermission(ctx, link.Assignment.ID, now); err != nil {
				return fmt.Errorf("soft-delete role permission %s: %w", link.Assignment.ID, err)
			}
		}
		var missing []string
		if link.Role == nil {
			missing = append(missing, "role "+link.Assignment.RoleID.String())
		}
		if link.Permission == nil {
			missing = append(missing, "permission "+link.Assignment.PermissionID.String())
		}
		s.add(link.Assignment.ID.String(), OutcomeChanged, "soft-delete", "missing "+strings.Join(missing, " and "))
	}
	return nil
}

func (r *Repairer) backfillDefaultRole(ctx context.Context, s *StepReport, dryRun bool, role Role) error {
	users, err := r.store.ListActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}
	links, err := r.store.ListActiveUserRoleLinks(ctx)
	if err != nil {
		return fmt.Errorf("list user roles: %w", err)
	}
	holding := make(map[uuid.UUID]struct{}, len(links))
	for _, link := range links {
		if link.Dangling() || !link.Role.Lifecycle.IsActive() {
			continue
		}
		holding[link.Assignment.UserID] = struct{}{}
	}
	s.Scanned = len(users)
	for _, user := range users {
		if _, ok := holding[user.ID]; ok {
			continue
		}
		target := user.Email
		if target == "" {
			target = user.ID.String()
		}
		if err := r.ensureAssignment(ctx, s, target, user.ID, role, dryRun); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repairer) tally(ctx context.Context) ([]RoleTally, error) {
	links, err := r.store.ListActiveUserRoleLinks(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, link := range links {
		if link.Dangling() {
			continue
		}
		counts[link.Role.Name]++
	}
	tally := make([]RoleTally, 0, len(counts))
	for name, n := range counts {
		tally = append(tally, RoleTally{Role: name, Count: n})
	}
	sort.Slice(tally, func(i, j int) bool { return tally[i].Role < tally[j].Role })
	return tally, nil
}

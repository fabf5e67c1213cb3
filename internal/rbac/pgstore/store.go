// Package pgstore implements rbac.Store on PostgreSQL using pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/accessctl/internal/rbac"
)

const uniqueViolation = "23505"

// DBTX is the subset of pgxpool.Pool and pgx.Tx the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides PostgreSQL backed persistence for the RBAC core.
type Store struct {
	db DBTX
}

var _ rbac.Store = (*Store)(nil)

// New constructs a Store.
func New(db DBTX) *Store {
	return &Store{db: db}
}

const userColumns = `id, email, deleted_at, created_at, updated_at`

// GetUser implements rbac.UserStore.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (rbac.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return rbac.User{}, mapErr("get user", err)
	}
	return u, nil
}

// FindUserByEmail implements rbac.UserStore.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (rbac.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) LIMIT 1`, email)
	u, err := scanUser(row)
	if err != nil {
		return rbac.User{}, mapErr("find user by email", err)
	}
	return u, nil
}

// ListActiveUsers implements rbac.UserStore.
func (s *Store) ListActiveUsers(ctx context.Context) ([]rbac.User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE deleted_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, mapErr("list active users", err)
	}
	defer rows.Close()
	var users []rbac.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list active users", err)
	}
	return users, nil
}

// RestoreUser implements rbac.UserStore.
func (s *Store) RestoreUser(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "restore user", `UPDATE users SET deleted_at = NULL, updated_at = now() WHERE id = $1`, id)
}

const roleColumns = `id, role_name, deleted_at, created_at, updated_at`

// FindRoleByName implements rbac.RoleStore.
func (s *Store) FindRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	row := s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE role_name = $1`, name)
	r, err := scanRole(row)
	if err != nil {
		return rbac.Role{}, mapErr("find role", err)
	}
	return r, nil
}

// ListRoles implements rbac.RoleStore.
func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY role_name`)
	if err != nil {
		return nil, mapErr("list roles", err)
	}
	defer rows.Close()
	var roles []rbac.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, mapErr("scan role", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list roles", err)
	}
	return roles, nil
}

// CreateRole implements rbac.RoleStore.
func (s *Store) CreateRole(ctx context.Context, name string) (rbac.Role, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO roles (role_name) VALUES ($1) RETURNING `+roleColumns, name)
	r, err := scanRole(row)
	if err != nil {
		return rbac.Role{}, mapErr("create role", err)
	}
	return r, nil
}

// RestoreRole implements rbac.RoleStore.
func (s *Store) RestoreRole(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "restore role", `UPDATE roles SET deleted_at = NULL, updated_at = now() WHERE id = $1`, id)
}

const permissionColumns = `id, name, description, is_active, deleted_at, created_at, updated_at`

// FindPermissionByName implements rbac.PermissionStore.
func (s *Store) FindPermissionByName(ctx context.Context, name string) (rbac.Permission, error) {
	row := s.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name)
	var (
		p         rbac.Permission
		deletedAt *time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.IsActive, &deletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return rbac.Permission{}, mapErr("find permission", err)
	}
	p.Lifecycle = rbac.LifecycleFromNullable(deletedAt)
	return p, nil
}

const userRoleColumns = `ur.id, ur.user_id, ur.role_id, ur.deleted_at, ur.created_at, ur.updated_at`

// HeldRoles implements rbac.UserRoleStore.
func (s *Store) HeldRoles(ctx context.Context, userID uuid.UUID) ([]rbac.RoleHolding, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userRoleColumns+`,
		       r.id, r.role_name, r.deleted_at, r.created_at, r.updated_at
		FROM user_roles ur
		LEFT JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.deleted_at IS NULL
		ORDER BY ur.created_at, ur.id`, userID)
	if err != nil {
		return nil, mapErr("held roles", err)
	}
	defer rows.Close()
	var out []rbac.RoleHolding
	for rows.Next() {
		var (
			a    userRoleRow
			role nullableRole
		)
		if err := rows.Scan(append(a.dest(), role.dest()...)...); err != nil {
			return nil, mapErr("scan held role", err)
		}
		out = append(out, rbac.RoleHolding{Assignment: a.domain(), Role: role.domain()})
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("held roles", err)
	}
	return out, nil
}

// UserRolesForPair implements rbac.UserRoleStore.
func (s *Store) UserRolesForPair(ctx context.Context, userID, roleID uuid.UUID) ([]rbac.UserRole, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userRoleColumns+`
		FROM user_roles ur
		WHERE ur.user_id = $1 AND ur.role_id = $2
		ORDER BY ur.created_at, ur.id`, userID, roleID)
	if err != nil {
		return nil, mapErr("user roles for pair", err)
	}
	defer rows.Close()
	var out []rbac.UserRole
	for rows.Next() {
		var a userRoleRow
		if err := rows.Scan(a.dest()...); err != nil {
			return nil, mapErr("scan user role", err)
		}
		out = append(out, a.domain())
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("user roles for pair", err)
	}
	return out, nil
}

// ListActiveUserRoleLinks implements rbac.UserRoleStore.
func (s *Store) ListActiveUserRoleLinks(ctx context.Context) ([]rbac.UserRoleLink, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userRoleColumns+`,
		       u.id, u.email, u.deleted_at, u.created_at, u.updated_at,
		       r.id, r.role_name, r.deleted_at, r.created_at, r.updated_at
		FROM user_roles ur
		LEFT JOIN users u ON u.id = ur.user_id
		LEFT JOIN roles r ON r.id = ur.role_id
		WHERE ur.deleted_at IS NULL
		ORDER BY ur.created_at, ur.id`)
	if err != nil {
		return nil, mapErr("list user role links", err)
	}
	defer rows.Close()
	var out []rbac.UserRoleLink
	for rows.Next() {
		var (
			a    userRoleRow
			user nullableUser
			role nullableRole
		)
		dest := append(a.dest(), user.dest()...)
		dest = append(dest, role.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, mapErr("scan user role link", err)
		}
		out = append(out, rbac.UserRoleLink{Assignment: a.domain(), User: user.domain(), Role: role.domain()})
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list user role links", err)
	}
	return out, nil
}

// CreateUserRole implements rbac.UserRoleStore.
func (s *Store) CreateUserRole(ctx context.Context, userID, roleID uuid.UUID) (rbac.UserRole, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO user_roles AS ur (user_id, role_id) VALUES ($1, $2)
		RETURNING `+userRoleColumns, userID, roleID)
	var a userRoleRow
	if err := row.Scan(a.dest()...); err != nil {
		return rbac.UserRole{}, mapErr("create user role", err)
	}
	return a.domain(), nil
}

// SoftDeleteUserRole implements rbac.UserRoleStore.
func (s *Store) SoftDeleteUserRole(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.execOne(ctx, "soft-delete user role",
		`UPDATE user_roles SET deleted_at = COALESCE(deleted_at, $2), updated_at = now() WHERE id = $1`, id, at.UTC())
}

// RestoreUserRole implements rbac.UserRoleStore.
func (s *Store) RestoreUserRole(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "restore user role",
		`UPDATE user_roles SET deleted_at = NULL, updated_at = now() WHERE id = $1`, id)
}

const rolePermissionColumns = `rp.id, rp.role_id, rp.permission_id, rp.is_active, rp.deleted_at, rp.assigned_by, rp.assigned_at, rp.created_at, rp.updated_at`

// ActiveGrants implements rbac.RolePermissionStore.
func (s *Store) ActiveGrants(ctx context.Context, roleIDs []uuid.UUID) ([]rbac.Grant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		ids[i] = id.String()
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+rolePermissionColumns+`,
		       p.id, p.name, p.description, p.is_active, p.deleted_at, p.created_at, p.updated_at
		FROM role_permissions rp
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1::uuid[]) AND rp.is_active AND rp.deleted_at IS NULL
		ORDER BY rp.created_at, rp.id`, ids)
	if err != nil {
		return nil, mapErr("active grants", err)
	}
	defer rows.Close()
	var out []rbac.Grant
	for rows.Next() {
		var (
			a    rolePermissionRow
			perm nullablePermission
		)
		if err := rows.Scan(append(a.dest(), perm.dest()...)...); err != nil {
			return nil, mapErr("scan grant", err)
		}
		out = append(out, rbac.Grant{Assignment: a.domain(), Permission: perm.domain()})
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("active grants", err)
	}
	return out, nil
}

// ListActiveRolePermissionLinks implements rbac.RolePermissionStore.
func (s *Store) ListActiveRolePermissionLinks(ctx context.Context) ([]rbac.RolePermissionLink, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rolePermissionColumns+`,
		       r.id, r.role_name, r.deleted_at, r.created_at, r.updated_at,
		       p.id, p.name, p.description, p.is_active, p.deleted_at, p.created_at, p.updated_at
		FROM role_permissions rp
		LEFT JOIN roles r ON r.id = rp.role_id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.deleted_at IS NULL
		ORDER BY rp.created_at, rp.id`)
	if err != nil {
		return nil, mapErr("list role permission links", err)
	}
	defer rows.Close()
	var out []rbac.RolePermissionLink
	for rows.Next() {
		var (
			a    rolePermissionRow
			role nullableRole
			perm nullablePermission
		)
		dest := append(a.dest(), role.dest()...)
		dest = append(dest, perm.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, mapErr("scan role permission link", err)
		}
		out = append(out, rbac.RolePermissionLink{Assignment: a.domain(), Role: role.domain(), Permission: perm.domain()})
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list role permission links", err)
	}
	return out, nil
}

// CreateRolePermission implements rbac.RolePermissionStore.
func (s *Store) CreateRolePermission(ctx context.Context, roleID, permissionID uuid.UUID, assignedBy string) (rbac.RolePermission, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO role_permissions AS rp (role_id, permission_id, is_active, assigned_by)
		VALUES ($1, $2, true, $3)
		RETURNING `+rolePermissionColumns, roleID, permissionID, assignedBy)
	var a rolePermissionRow
	if err := row.Scan(a.dest()...); err != nil {
		return rbac.RolePermission{}, mapErr("create role permission", err)
	}
	return a.domain(), nil
}

// SoftDeleteRolePermission implements rbac.RolePermissionStore.
func (s *Store) SoftDeleteRolePermission(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.execOne(ctx, "soft-delete role permission",
		`UPDATE role_permissions SET deleted_at = COALESCE(deleted_at, $2), updated_at = now() WHERE id = $1`, id, at.UTC())
}

// RestoreRolePermission implements rbac.RolePermissionStore.
func (s *Store) RestoreRolePermission(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "restore role permission",
		`UPDATE role_permissions SET deleted_at = NULL, updated_at = now() WHERE id = $1`, id)
}

func (s *Store) execOne(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: %s: %w", op, rbac.ErrNotFound)
	}
	return nil
}

// mapErr translates driver errors into rbac sentinels.
func mapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("pgstore: %s: %w", op, rbac.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("pgstore: %s: %w", op, rbac.ErrDuplicate)
	}
	return fmt.Errorf("pgstore: %s: %w", op, err)
}

func scanUser(row pgx.Row) (rbac.User, error) {
	var (
		u         rbac.User
		deletedAt *time.Time
	)
	if err := row.Scan(&u.ID, &u.Email, &deletedAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return rbac.User{}, err
	}
	u.Lifecycle = rbac.LifecycleFromNullable(deletedAt)
	return u, nil
}

func scanRole(row pgx.Row) (rbac.Role, error) {
	var (
		r         rbac.Role
		deletedAt *time.Time
	)
	if err := row.Scan(&r.ID, &r.Name, &deletedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return rbac.Role{}, err
	}
	r.Lifecycle = rbac.LifecycleFromNullable(deletedAt)
	return r, nil
}

type userRoleRow struct {
	id, userID, roleID   uuid.UUID
	deletedAt            *time.Time
	createdAt, updatedAt time.Time
}

func (r *userRoleRow) dest() []any {
	return []any{&r.id, &r.userID, &r.roleID, &r.deletedAt, &r.createdAt, &r.updatedAt}
}

func (r *userRoleRow) domain() rbac.UserRole {
	return rbac.UserRole{
		ID:        r.id,
		UserID:    r.userID,
		RoleID:    r.roleID,
		Lifecycle: rbac.LifecycleFromNullable(r.deletedAt),
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
}

type rolePermissionRow struct {
	id, roleID, permissionID         uuid.UUID
	isActive                         bool
	deletedAt                        *time.Time
	assignedBy                       string
	assignedAt, createdAt, updatedAt time.Time
}

func (r *rolePermissionRow) dest() []any {
	return []any{&r.id, &r.roleID, &r.permissionID, &r.isActive, &r.deletedAt, &r.assignedBy, &r.assignedAt, &r.createdAt, &r.updatedAt}
}

func (r *rolePermissionRow) domain() rbac.RolePermission {
	return rbac.RolePermission{
		ID:           r.id,
		RoleID:       r.roleID,
		PermissionID: r.permissionID,
		IsActive:     r.isActive,
		Lifecycle:    rbac.LifecycleFromNullable(r.deletedAt),
		AssignedBy:   r.assignedBy,
		AssignedAt:   r.assignedAt,
		CreatedAt:    r.createdAt,
		UpdatedAt:    r.updatedAt,
	}
}

// The nullable* rows receive the right side of a LEFT JOIN.

type nullableUser struct {
	id                   pgtype.UUID
	email                pgtype.Text
	deletedAt            *time.Time
	createdAt, updatedAt pgtype.Timestamptz
}

func (r *nullableUser) dest() []any {
	return []any{&r.id, &r.email, &r.deletedAt, &r.createdAt, &r.updatedAt}
}

func (r *nullableUser) domain() *rbac.User {
	if !r.id.Valid {
		return nil
	}
	return &rbac.User{
		ID:        uuid.UUID(r.id.Bytes),
		Email:     r.email.String,
		Lifecycle: rbac.LifecycleFromNullable(r.deletedAt),
		CreatedAt: r.createdAt.Time,
		UpdatedAt: r.updatedAt.Time,
	}
}

type nullableRole struct {
	id                   pgtype.UUID
	name                 pgtype.Text
	deletedAt            *time.Time
	createdAt, updatedAt pgtype.Timestamptz
}

func (r *nullableRole) dest() []any {
	return []any{&r.id, &r.name, &r.deletedAt, &r.createdAt, &r.updatedAt}
}

func (r *nullableRole) domain() *rbac.Role {
	if !r.id.Valid {
		return nil
	}
	return &rbac.Role{
		ID:        uuid.UUID(r.id.Bytes),
		Name:      r.name.String,
		Lifecycle: rbac.LifecycleFromNullable(r.deletedAt),
		CreatedAt: r.createdAt.Time,
		UpdatedAt: r.updatedAt.Time,
	}
}

type nullablePermission struct {
	id                   pgtype.UUID
	name, description    pgtype.Text
	isActive             pgtype.Bool
	deletedAt            *time.Time
	createdAt, updatedAt pgtype.Timestamptz
}

func (r *nullablePermission) dest() []any {
	return []any{&r.id, &r.name, &r.description, &r.isActive, &r.deletedAt, &r.createdAt, &r.updatedAt}
}

func (r *nullablePermission) domain() *rbac.Permission {
	if !r.id.Valid {
		return nil
	}
	return &rbac.Permission{
		ID:          uuid.UUID(r.id.Bytes),
		Name:        r.name.String,
		Description: r.description.String,
		IsActive:    r.isActive.Bool,
		Lifecycle:   rbac.LifecycleFromNullable(r.deletedAt),
		CreatedAt:   r.createdAt.Time,
		UpdatedAt:   r.updatedAt.Time,
	}
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/entity"
)

var (
	// ErrNotFound is returned when no row matches. It wraps sql.ErrNoRows.
	ErrNotFound = fmt.Errorf("user row not found: %w", sql.ErrNoRows)
	// ErrDuplicate is the parent of every unique-violation error.
	ErrDuplicate = errors.New("duplicate user")
)

// DuplicateError reports which unique column was violated.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string { return "duplicate user " + e.Field }

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

const uniqueViolation = "23505"

// duplicateFrom maps a postgres unique violation to a *DuplicateError.
func duplicateFrom(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch {
	case strings.Contains(pqErr.Constraint, "email"):
		return &DuplicateError{Field: "email"}
	case strings.Contains(pqErr.Constraint, "tax_id"):
		return &DuplicateError{Field: "tax_id"}
	}
	return &DuplicateError{Field: pqErr.Constraint}
}

const selectColumns = `id, first_name, last_name, tax_id, email, password_hash,
		postal_code, street, number, complement, neighborhood, city, state,
		refresh_token, refresh_token_expires_at, password_reset_token, password_reset_expires_at,
		created_at, updated_at, last_login_at`

// UserRepo provides data access for the users table using sqlx.
// It stores whatever it is given; encryption happens one layer up.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Insert creates a row and fills ID and the audit timestamps on u.
func (r *UserRepo) Insert(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (first_name, last_name, tax_id, email, password_hash,
		postal_code, street, number, complement, neighborhood, city, state)
	  VALUES (:first_name, :last_name, :tax_id, :email, :password_hash,
		:postal_code, :street, :number, :complement, :neighborhood, :city, :state)
	  RETURNING id, created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return duplicateFrom(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return duplicateFrom(err)
		}
		return errors.New("no id returned")
	}
	return rows.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepo) get(ctx context.Context, where string, arg any) (*entity.User, error) {
	q := `SELECT ` + selectColumns + ` FROM users WHERE ` + where
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.get(ctx, "id=$1", id)
}

// GetByEmail matches the stored, lower-cased email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.get(ctx, "email=$1", email)
}

// GetByResetToken matches the opaque reset token.
func (r *UserRepo) GetByResetToken(ctx context.Context, token string) (*entity.User, error) {
	return r.get(ctx, "password_reset_token=$1", token)
}

// ListByFirstName returns every row with exactly this first name.
func (r *UserRepo) ListByFirstName(ctx context.Context, name string) ([]*entity.User, error) {
	q := `SELECT ` + selectColumns + ` FROM users WHERE first_name=$1 ORDER BY id`
	var rows []*entity.User
	if err := r.db.SelectContext(ctx, &rows, q, name); err != nil {
		return nil, err
	}
	return rows, nil
}

// List pages through users ordered by id.
func (r *UserRepo) List(ctx context.Context, offset, limit int) ([]*entity.User, error) {
	q := `SELECT ` + selectColumns + ` FROM users ORDER BY id OFFSET $1 LIMIT $2`
	var rows []*entity.User
	if err := r.db.SelectContext(ctx, &rows, q, offset, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAll returns every row. Only the tax id scan uses it.
func (r *UserRepo) ListAll(ctx context.Context) ([]*entity.User, error) {
	q := `SELECT ` + selectColumns + ` FROM users ORDER BY id`
	var rows []*entity.User
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// exec runs a single-row write and maps "no row matched" to ErrNotFound.
func (r *UserRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return duplicateFrom(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSession stores the refresh token of a login. It only applies while the
// password hash is still the one the login verified.
func (r *UserRepo) SetSession(ctx context.Context, s entity.Session) error {
	const q = `UPDATE users SET refresh_token=$3, refresh_token_expires_at=$4, last_login_at=$5, updated_at=NOW()
	  WHERE id=$1 AND password_hash=$2`
	return r.exec(ctx, q, s.UserID, s.PasswordHash, s.RefreshToken, s.ExpiresAt, s.LoginAt)
}

// ClearSession drops the refresh token. Clearing an empty session still matches the row.
func (r *UserRepo) ClearSession(ctx context.Context, id int64) error {
	const q = `UPDATE users SET refresh_token=NULL, refresh_token_expires_at=NULL, updated_at=NOW() WHERE id=$1`
	return r.exec(ctx, q, id)
}

// SetResetToken replaces any previous reset token.
func (r *UserRepo) SetResetToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	const q = `UPDATE users SET password_reset_token=$2, password_reset_expires_at=$3, updated_at=NOW() WHERE id=$1`
	return r.exec(ctx, q, id, token, expiresAt)
}

// ResetPassword consumes the reset token: the new hash is written and the reset
// and refresh columns are cleared, only while the row still holds token.
func (r *UserRepo) ResetPassword(ctx context.Context, id int64, token, hash string) error {
	const q = `UPDATE users SET password_hash=$3,
		password_reset_token=NULL, password_reset_expires_at=NULL,
		refresh_token=NULL, refresh_token_expires_at=NULL, updated_at=NOW()
	  WHERE id=$1 AND password_reset_token=$2`
	return r.exec(ctx, q, id, token, hash)
}

// UpdateCredentials writes a new email and password hash.
func (r *UserRepo) UpdateCredentials(ctx context.Context, id int64, email, hash string) error {
	const q = `UPDATE users SET email=$2, password_hash=$3, updated_at=NOW() WHERE id=$1`
	return r.exec(ctx, q, id, email, hash)
}

// Delete removes the row.
func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM users WHERE id=$1`, id)
}

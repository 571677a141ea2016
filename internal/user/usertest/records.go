// Package usertest provides an in-memory user record store for tests.
package usertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-account/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/repo"
)

// Records mimics the postgres users table: ids are assigned on insert and
// email and tax_id are unique. Rows are copied on the way in and out.
type Records struct {
	mu     sync.Mutex
	rows   map[int64]*entity.User
	nextID int64

	// Err, when set, is returned by every method.
	Err error
}

func NewRecords() *Records {
	return &Records{rows: make(map[int64]*entity.User)}
}

// Raw returns the stored row as persisted, without decryption.
func (r *Records) Raw(id int64) (*entity.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[id]
	return u.Clone(), ok
}

// Len returns the number of stored rows.
func (r *Records) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *Records) conflict(u *entity.User) error {
	for _, row := range r.rows {
		if row.ID == u.ID {
			continue
		}
		if row.Email == u.Email {
			return &repo.DuplicateError{Field: "email"}
		}
		if row.TaxID == u.TaxID {
			return &repo.DuplicateError{Field: "tax_id"}
		}
	}
	return nil
}

func (r *Records) Insert(_ context.Context, u *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if err := r.conflict(u); err != nil {
		return err
	}
	r.nextID++
	now := time.Now().UTC()
	u.ID = r.nextID
	u.CreatedAt = now
	u.UpdatedAt = now
	r.rows[u.ID] = u.Clone()
	return nil
}

func (r *Records) find(match func(*entity.User) bool) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, id := range r.sortedIDs() {
		if row := r.rows[id]; match(row) {
			return row.Clone(), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *Records) filter(match func(*entity.User) bool) ([]*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*entity.User
	for _, id := range r.sortedIDs() {
		if row := r.rows[id]; match(row) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (r *Records) sortedIDs() []int64 {
	ids := make([]int64, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Records) GetByID(_ context.Context, id int64) (*entity.User, error) {
	return r.find(func(u *entity.User) bool { return u.ID == id })
}

func (r *Records) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	return r.find(func(u *entity.User) bool { return u.Email == email })
}

func (r *Records) GetByResetToken(_ context.Context, token string) (*entity.User, error) {
	return r.find(func(u *entity.User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == token
	})
}

func (r *Records) ListByFirstName(_ context.Context, name string) ([]*entity.User, error) {
	return r.filter(func(u *entity.User) bool { return u.FirstName == name })
}

func (r *Records) List(_ context.Context, offset, limit int) ([]*entity.User, error) {
	all, err := r.filter(func(*entity.User) bool { return true })
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *Records) ListAll(_ context.Context) ([]*entity.User, error) {
	return r.filter(func(*entity.User) bool { return true })
}

// write applies fn to the stored row with this id under the lock.
func (r *Records) write(id int64, fn func(row *entity.User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	row, ok := r.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	next := row.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := r.conflict(next); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	r.rows[id] = next
	return nil
}

func (r *Records) SetSession(_ context.Context, s entity.Session) error {
	return r.write(s.UserID, func(u *entity.User) error {
		if u.PasswordHash != s.PasswordHash {
			return repo.ErrNotFound
		}
		token, exp, at := s.RefreshToken, s.ExpiresAt, s.LoginAt
		u.RefreshToken = &token
		u.RefreshTokenExpiresAt = &exp
		u.LastLoginAt = &at
		return nil
	})
}

func (r *Records) ClearSession(_ context.Context, id int64) error {
	return r.write(id, func(u *entity.User) error {
		u.ClearSession()
		return nil
	})
}

func (r *Records) SetResetToken(_ context.Context, id int64, token string, expiresAt time.Time) error {
	return r.write(id, func(u *entity.User) error {
		u.PasswordResetToken = &token
		u.PasswordResetExpiresAt = &expiresAt
		return nil
	})
}

func (r *Records) ResetPassword(_ context.Context, id int64, token, hash string) error {
	return r.write(id, func(u *entity.User) error {
		if u.PasswordResetToken == nil || *u.PasswordResetToken != token {
			return repo.ErrNotFound
		}
		u.PasswordHash = hash
		u.ClearPasswordReset()
		u.ClearSession()
		return nil
	})
}

func (r *Records) UpdateCredentials(_ context.Context, id int64, email, hash string) error {
	return r.write(id, func(u *entity.User) error {
		u.Email = email
		u.PasswordHash = hash
		return nil
	})
}

func (r *Records) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.rows[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

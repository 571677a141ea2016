package entity

import "time"

// User represents an account row in the `users` table.
// TaxID and the address fields hold ciphertext while stored and plaintext once the
// store adapter has decrypted them.
type User struct {
	ID           int64   `db:"id"`
	FirstName    string  `db:"first_name"`
	LastName     string  `db:"last_name"`
	TaxID        string  `db:"tax_id"`
	Email        string  `db:"email"`
	PasswordHash string  `db:"password_hash"`
	PostalCode   string  `db:"postal_code"`
	Street       string  `db:"street"`
	Number       string  `db:"number"`
	Complement   *string `db:"complement"`
	Neighborhood string  `db:"neighborhood"`
	City         string  `db:"city"`
	State        string  `db:"state"`

	RefreshToken           *string    `db:"refresh_token"`
	RefreshTokenExpiresAt  *time.Time `db:"refresh_token_expires_at"`
	PasswordResetToken     *string    `db:"password_reset_token"`
	PasswordResetExpiresAt *time.Time `db:"password_reset_expires_at"`

	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	LastLoginAt *time.Time `db:"last_login_at"`
}

// Session is the refresh-token state a successful login writes.
type Session struct {
	UserID       int64
	RefreshToken string
	ExpiresAt    time.Time
	LoginAt      time.Time
	// PasswordHash is the hash the credentials were checked against. The write
	// is rejected when the stored hash has changed since.
	PasswordHash string
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Complement = cloneString(u.Complement)
	cp.RefreshToken = cloneString(u.RefreshToken)
	cp.PasswordResetToken = cloneString(u.PasswordResetToken)
	cp.RefreshTokenExpiresAt = cloneTime(u.RefreshTokenExpiresAt)
	cp.PasswordResetExpiresAt = cloneTime(u.PasswordResetExpiresAt)
	cp.LastLoginAt = cloneTime(u.LastLoginAt)
	return &cp
}

// ClearSession drops the stored refresh token and its expiry.
func (u *User) ClearSession() {
	u.RefreshToken = nil
	u.RefreshTokenExpiresAt = nil
}

// ClearPasswordReset drops the stored reset token and its expiry.
func (u *User) ClearPasswordReset() {
	u.PasswordResetToken = nil
	u.PasswordResetExpiresAt = nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Profile is the full view returned to the account owner.
type Profile struct {
	ID           int64      `json:"id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	TaxID        string     `json:"tax_id"`
	Email        string     `json:"email"`
	PostalCode   string     `json:"postal_code"`
	Street       string     `json:"street"`
	Number       string     `json:"number"`
	Complement   *string    `json:"complement"`
	Neighborhood string     `json:"neighborhood"`
	City         string     `json:"city"`
	State        string     `json:"state"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

// PublicProfile is what other authenticated users may see.
type PublicProfile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// LimitedProfile is returned by name search.
type LimitedProfile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		TaxID:        u.TaxID,
		Email:        u.Email,
		PostalCode:   u.PostalCode,
		Street:       u.Street,
		Number:       u.Number,
		Complement:   cloneString(u.Complement),
		Neighborhood: u.Neighborhood,
		City:         u.City,
		State:        u.State,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		LastLoginAt:  cloneTime(u.LastLoginAt),
	}
}

func (u *User) Public() PublicProfile {
	return PublicProfile{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
}

func (u *User) Limited() LimitedProfile {
	return LimitedProfile{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName}
}

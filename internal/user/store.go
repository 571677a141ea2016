package user

import (
	"context"
	"errors"
	"time"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-account/pkg/encryption"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Store finders for missing rows and for rows that
// could not be decrypted.
var ErrNotFound = repo.ErrNotFound

// Records is the row-level persistence the Store encrypts in front of.
// *repo.UserRepo implements it against postgres. Mutations after insert are
// single statements touching only their own columns and never carry PII.
type Records interface {
	Insert(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByResetToken(ctx context.Context, token string) (*entity.User, error)
	ListByFirstName(ctx context.Context, name string) ([]*entity.User, error)
	List(ctx context.Context, offset, limit int) ([]*entity.User, error)
	ListAll(ctx context.Context) ([]*entity.User, error)
	SetSession(ctx context.Context, s entity.Session) error
	ClearSession(ctx context.Context, id int64) error
	SetResetToken(ctx context.Context, id int64, token string, expiresAt time.Time) error
	ResetPassword(ctx context.Context, id int64, token, hash string) error
	UpdateCredentials(ctx context.Context, id int64, email, hash string) error
	Delete(ctx context.Context, id int64) error
}

// Store encrypts PII on every write and decrypts it on every read.
// Callers only ever see plaintext users; Records only ever sees ciphertext.
type Store struct {
	records Records
	codec   *encryption.Codec
	log     *zap.SugaredLogger
}

func NewStore(records Records, codec *encryption.Codec, log *zap.SugaredLogger) *Store {
	return &Store{records: records, codec: codec, log: log}
}

func piiFields(u *entity.User) []*string {
	fields := []*string{&u.TaxID, &u.PostalCode, &u.Street, &u.Number, &u.Neighborhood, &u.City, &u.State}
	if u.Complement != nil {
		fields = append(fields, u.Complement)
	}
	return fields
}

// seal returns an encrypted copy of u. Every field of u is plaintext from the
// domain, so nothing is skipped for already carrying the marker.
func (s *Store) seal(u *entity.User) (*entity.User, error) {
	out := u.Clone()
	for _, f := range piiFields(out) {
		v, err := s.codec.Seal(*f)
		if err != nil {
			return nil, apperr.Encryption.WithCause(err)
		}
		*f = v
	}
	return out, nil
}

// open decrypts row in place. A failure is logged and reported as false.
func (s *Store) open(row *entity.User) bool {
	for _, f := range piiFields(row) {
		v, err := s.codec.Decrypt(*f)
		if err != nil {
			s.log.Errorw("user decryption failed", "user_id", row.ID, "error", err)
			return false
		}
		*f = v
	}
	return true
}

func (s *Store) one(row *entity.User, err error) (*entity.User, error) {
	if err != nil {
		return nil, err
	}
	if !s.open(row) {
		return nil, ErrNotFound
	}
	return row, nil
}

func (s *Store) many(rows []*entity.User, err error) ([]*entity.User, error) {
	if err != nil {
		return nil, err
	}
	out := make([]*entity.User, 0, len(rows))
	for _, row := range rows {
		if s.open(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

// Create persists u and returns the stored user in plaintext with its new id.
func (s *Store) Create(ctx context.Context, u *entity.User) (*entity.User, error) {
	sealed, err := s.seal(u)
	if err != nil {
		return nil, err
	}
	if err := s.records.Insert(ctx, sealed); err != nil {
		return nil, err
	}
	out := u.Clone()
	out.ID = sealed.ID
	out.CreatedAt = sealed.CreatedAt
	out.UpdatedAt = sealed.UpdatedAt
	return out, nil
}

// SetSession opens a session. ErrNotFound means the row is gone or its
// password changed after the login read it.
func (s *Store) SetSession(ctx context.Context, sess entity.Session) error {
	return s.records.SetSession(ctx, sess)
}

func (s *Store) ClearSession(ctx context.Context, id int64) error {
	return s.records.ClearSession(ctx, id)
}

func (s *Store) SetResetToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	return s.records.SetResetToken(ctx, id, token, expiresAt)
}

// ResetPassword replaces the password hash and ends the session. ErrNotFound
// means token was already consumed or replaced.
func (s *Store) ResetPassword(ctx context.Context, id int64, token, hash string) error {
	return s.records.ResetPassword(ctx, id, token, hash)
}

func (s *Store) UpdateCredentials(ctx context.Context, id int64, email, hash string) error {
	return s.records.UpdateCredentials(ctx, id, email, hash)
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.records.Delete(ctx, id)
}

func (s *Store) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	return s.one(s.records.GetByID(ctx, id))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return s.one(s.records.GetByEmail(ctx, email))
}

func (s *Store) FindByResetToken(ctx context.Context, token string) (*entity.User, error) {
	return s.one(s.records.GetByResetToken(ctx, token))
}

func (s *Store) FindByFirstName(ctx context.Context, name string) ([]*entity.User, error) {
	return s.many(s.records.ListByFirstName(ctx, name))
}

func (s *Store) List(ctx context.Context, offset, limit int) ([]*entity.User, error) {
	return s.many(s.records.List(ctx, offset, limit))
}

// FindByTaxID decrypts every row until one matches. Ciphertexts are randomized,
// so there is no indexed lookup; this is only used for the registration check.
func (s *Store) FindByTaxID(ctx context.Context, taxID string) (*entity.User, error) {
	rows, err := s.records.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if s.open(row) && row.TaxID == taxID {
			return row, nil
		}
	}
	return nil, ErrNotFound
}

// IsNotFound reports whether err means the user is absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

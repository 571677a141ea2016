package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-account/internal/validation"
)

const (
	MaxListLimit     = 100
	DefaultListLimit = 100

	// loadTimeout bounds a collapsed cache-miss load, which outlives any single caller.
	loadTimeout = 5 * time.Second
)

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	FirstName    string  `json:"first_name" validate:"required,min=2,max=100,personname"`
	LastName     string  `json:"last_name" validate:"required,min=2,max=100,personname"`
	TaxID        string  `json:"tax_id" validate:"required,min=11,max=14,taxid"`
	Email        string  `json:"email" validate:"required,max=255,email"`
	Password     string  `json:"password" validate:"required,strongpassword"`
	PostalCode   string  `json:"postal_code" validate:"required,max=9,postalcode"`
	Street       string  `json:"street" validate:"required,min=3,max=255"`
	Number       string  `json:"number" validate:"required,min=1,max=20,streetnumber"`
	Complement   *string `json:"complement" validate:"omitempty,max=100"`
	Neighborhood string  `json:"neighborhood" validate:"required,min=2,max=100"`
	City         string  `json:"city" validate:"required,min=2,max=100"`
	State        string  `json:"state" validate:"required,uf"`
}

// Normalize trims input and puts tax id, email and state in canonical form.
func (in *RegisterInput) Normalize() {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = NormalizeEmail(in.Email)
	in.Street = strings.TrimSpace(in.Street)
	in.Number = strings.TrimSpace(in.Number)
	in.Neighborhood = strings.TrimSpace(in.Neighborhood)
	in.City = strings.TrimSpace(in.City)
	in.State = strings.ToUpper(strings.TrimSpace(in.State))
	if validation.ValidTaxID(in.TaxID) {
		in.TaxID = validation.FormatTaxID(in.TaxID)
	}
	if in.Complement != nil {
		c := strings.TrimSpace(*in.Complement)
		if c == "" {
			in.Complement = nil
		} else {
			in.Complement = &c
		}
	}
}

// UpdateInput carries the fields an owner may change.
type UpdateInput struct {
	Email    string `json:"email" validate:"required,max=255,email"`
	Password string `json:"password" validate:"required,strongpassword"`
}

func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// UserService implements registration, lookups and self-service changes.
type UserService struct {
	store    *Store
	hasher   PasswordHasher
	cache    *ProfileCache
	validate *validation.Validator
	log      *zap.SugaredLogger
	loads    singleflight.Group
}

func NewUserService(store *Store, hasher PasswordHasher, cache *ProfileCache, v *validation.Validator, log *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if v == nil {
		v = validation.New()
	}
	return &UserService{store: store, hasher: hasher, cache: cache, validate: v, log: log}
}

// Register validates in, rejects duplicates and creates the user.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (entity.Profile, error) {
	in.Normalize()
	if err := s.validate.Struct(in); err != nil {
		return entity.Profile{}, err
	}

	if _, err := s.store.FindByEmail(ctx, in.Email); err == nil {
		s.log.Warnw("registration rejected", "reason", "email_exists")
		return entity.Profile{}, apperr.EmailAlreadyExists
	} else if !IsNotFound(err) {
		return entity.Profile{}, apperr.Wrap("find_user_by_email", err)
	}
	if _, err := s.store.FindByTaxID(ctx, in.TaxID); err == nil {
		s.log.Warnw("registration rejected", "reason", "tax_id_exists")
		return entity.Profile{}, apperr.TaxIDAlreadyExists
	} else if !IsNotFound(err) {
		return entity.Profile{}, apperr.Wrap("find_user_by_tax_id", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return entity.Profile{}, apperr.Internal.WithCause(err)
	}
	created, err := s.store.Create(ctx, &entity.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		TaxID:        in.TaxID,
		Email:        in.Email,
		PasswordHash: hash,
		PostalCode:   in.PostalCode,
		Street:       in.Street,
		Number:       in.Number,
		Complement:   in.Complement,
		Neighborhood: in.Neighborhood,
		City:         in.City,
		State:        in.State,
	})
	if err != nil {
		if dup := DuplicateToDomain(err); dup != nil {
			s.log.Warnw("registration lost a duplicate race", "error", err)
			return entity.Profile{}, dup
		}
		return entity.Profile{}, apperr.Wrap("create_user", err)
	}
	s.log.Infow("user registered", "user_id", created.ID)
	return created.Profile(), nil
}

// DuplicateToDomain maps a unique violation from the store to its apperr value.
// It returns nil for any other error.
func DuplicateToDomain(err error) *apperr.Error {
	var dup *repo.DuplicateError
	if !errors.As(err, &dup) {
		return nil
	}
	switch dup.Field {
	case "email":
		return apperr.EmailAlreadyExists
	case "tax_id":
		return apperr.TaxIDAlreadyExists
	}
	return apperr.New(apperr.KindDuplicate, "DUPLICATE_RESOURCE", "resource already exists").WithDetail("field", dup.Field)
}

// Get returns the full profile, going through the read-through cache.
// Cache faults are logged and the store answers instead.
func (s *UserService) Get(ctx context.Context, id int64) (entity.Profile, error) {
	p, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		s.log.Warnw("cache get failed, reading store", "user_id", id, "error", err)
	} else if ok {
		return p, nil
	}

	// The load is shared by every caller collapsed onto it, so it runs detached
	// from any one caller's cancellation. A load that started before an
	// Invalidate may still Set its older snapshot; the entry then lives at most
	// one TTL.
	ch := s.loads.DoChan(CacheKey(id), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		u, err := s.store.FindByID(lctx, id)
		if err != nil {
			return nil, err
		}
		p := u.Profile()
		if err := s.cache.Set(lctx, p); err != nil {
			s.log.Warnw("cache set failed", "user_id", id, "error", err)
		}
		return p, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return entity.Profile{}, apperr.Wrap("get_user", ctx.Err())
	case res = <-ch:
	}
	if err := res.Err; err != nil {
		if IsNotFound(err) {
			return entity.Profile{}, apperr.UserNotFound.WithDetail("user_id", id)
		}
		return entity.Profile{}, apperr.Wrap("get_user", err)
	}
	return res.Val.(entity.Profile), nil
}

// List pages through public profiles.
func (s *UserService) List(ctx context.Context, skip, limit int) ([]entity.PublicProfile, error) {
	var fields []apperr.FieldError
	if skip < 0 {
		fields = append(fields, apperr.FieldError{Field: "skip", Message: "must be greater than or equal to 0", Type: "min"})
	}
	if limit < 1 || limit > MaxListLimit {
		fields = append(fields, apperr.FieldError{Field: "limit", Message: "must be between 1 and 100", Type: "range"})
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFailed(fields)
	}

	users, err := s.store.List(ctx, skip, limit)
	if err != nil {
		return nil, apperr.Wrap("list_users", err)
	}
	out := make([]entity.PublicProfile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	s.log.Debugw("users listed", "count", len(out), "skip", skip, "limit", limit)
	return out, nil
}

// FindByEmail returns the public profile of the user with this email.
func (s *UserService) FindByEmail(ctx context.Context, email string) (entity.PublicProfile, error) {
	email = NormalizeEmail(email)
	if err := s.validate.Var("email", email, "required,email"); err != nil {
		return entity.PublicProfile{}, err
	}
	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return entity.PublicProfile{}, apperr.UserNotFound
		}
		return entity.PublicProfile{}, apperr.Wrap("find_user_by_email", err)
	}
	return u.Public(), nil
}

// FindByName returns limited profiles whose first name matches exactly.
func (s *UserService) FindByName(ctx context.Context, name string) ([]entity.LimitedProfile, error) {
	name = strings.TrimSpace(name)
	if len([]rune(name)) < 2 || !validation.PersonName(name) {
		return nil, apperr.ValidationFailed([]apperr.FieldError{{
			Field: "name", Message: "must have at least 2 characters and contain only letters", Type: "personname",
		}})
	}
	users, err := s.store.FindByFirstName(ctx, name)
	if err != nil {
		return nil, apperr.Wrap("find_users_by_name", err)
	}
	out := make([]entity.LimitedProfile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Limited())
	}
	return out, nil
}

// Update changes the email and password of the actor's own account.
func (s *UserService) Update(ctx context.Context, id int64, in UpdateInput, actorID int64) (entity.Profile, error) {
	if actorID != id {
		s.log.Warnw("unauthorized update attempt", "user_id", id, "actor_id", actorID)
		return entity.Profile{}, apperr.UnauthorizedAccountAccess.WithDetail("action", "update")
	}
	in.Email = NormalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return entity.Profile{}, err
	}

	if other, err := s.store.FindByEmail(ctx, in.Email); err == nil && other.ID != id {
		s.log.Warnw("email conflict on update", "user_id", id)
		return entity.Profile{}, apperr.EmailAlreadyExists
	} else if err != nil && !IsNotFound(err) {
		return entity.Profile{}, apperr.Wrap("find_user_by_email", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return entity.Profile{}, apperr.Internal.WithCause(err)
	}
	if err := s.store.UpdateCredentials(ctx, id, in.Email, hash); err != nil {
		if dup := DuplicateToDomain(err); dup != nil {
			return entity.Profile{}, dup
		}
		if IsNotFound(err) {
			return entity.Profile{}, apperr.UserNotFound.WithDetail("user_id", id)
		}
		return entity.Profile{}, apperr.Wrap("update_user", err)
	}
	updated, err := s.store.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return entity.Profile{}, apperr.UserNotFound.WithDetail("user_id", id)
		}
		return entity.Profile{}, apperr.Wrap("get_user", err)
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warnw("cache invalidate failed", "user_id", id, "error", err)
	}
	s.log.Infow("user updated", "user_id", id)
	return updated.Profile(), nil
}

// Delete removes the actor's own account.
func (s *UserService) Delete(ctx context.Context, id, actorID int64) error {
	if actorID != id {
		s.log.Warnw("unauthorized delete attempt", "user_id", id, "actor_id", actorID)
		return apperr.UnauthorizedAccountAccess.WithDetail("action", "delete")
	}
	if _, err := s.store.FindByID(ctx, id); err != nil {
		if IsNotFound(err) {
			return apperr.UserNotFound.WithDetail("user_id", id)
		}
		return apperr.Wrap("get_user", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if IsNotFound(err) {
			return apperr.UserNotFound.WithDetail("user_id", id)
		}
		return apperr.Wrap("delete_user", err)
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warnw("cache invalidate failed", "user_id", id, "error", err)
	}
	s.log.Infow("user deleted", "user_id", id)
	return nil
}

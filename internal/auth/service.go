// Package auth runs the session lifecycle: login, refresh, logout and
// password reset by email.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-account/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-account/internal/user"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/validation"
)

const (
	TokenTypeBearer = "bearer"

	// ResetRequestedMessage is returned whether or not the email is registered.
	ResetRequestedMessage = "If the email is registered you will receive instructions to reset your password."
	ResetConfirmedMessage = "Password reset successfully. Log in with your new password."
	LoggedOutMessage      = "Logged out successfully."

	resetTokenBytes = 32
)

// Notifier delivers the password reset emails. Failures are reported to the
// caller, which logs and discards them.
type Notifier interface {
	PasswordReset(ctx context.Context, to, name, token string, ttl time.Duration) error
	PasswordChanged(ctx context.Context, to, name string, at time.Time) error
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,max=255,email"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginResult struct {
	User         entity.Profile `json:"user"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
}

type RefreshResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type ResetRequestInput struct {
	Email string `json:"email" validate:"required,max=255,email"`
}

type ResetConfirmInput struct {
	Token       string `json:"token" validate:"required,min=20,max=128"`
	NewPassword string `json:"new_password" validate:"required,strongpassword"`
}

type Introspection struct {
	Active bool   `json:"active"`
	Type   string `json:"type,omitempty"`
	UserID int64  `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Exp    int64  `json:"exp,omitempty"`
}

// Service is the session orchestrator.
type Service struct {
	store    *user.Store
	hasher   user.PasswordHasher
	cache    *user.ProfileCache
	tokens   *TokenIssuer
	notifier Notifier
	validate *validation.Validator
	resetTTL time.Duration
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewService(
	store *user.Store,
	hasher user.PasswordHasher,
	cache *user.ProfileCache,
	tokens *TokenIssuer,
	notifier Notifier,
	v *validation.Validator,
	resetTTL time.Duration,
	log *zap.SugaredLogger,
) *Service {
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	if v == nil {
		v = validation.New()
	}
	return &Service{
		store:    store,
		hasher:   hasher,
		cache:    cache,
		tokens:   tokens,
		notifier: notifier,
		validate: v,
		resetTTL: resetTTL,
		log:      log,
		now:      time.Now,
	}
}

// Login checks the credentials, stamps the login time and opens a session.
// An unknown email and a wrong password produce the same error.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Email = user.NormalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	u, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		if user.IsNotFound(err) {
			s.log.Warnw("login failed", "reason", "user_not_found")
			metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultFailure).Inc()
			return nil, apperr.InvalidCredentials
		}
		return nil, apperr.Wrap("authenticate", err)
	}
	if !s.hasher.Verify(u.PasswordHash, in.Password) {
		s.log.Warnw("login failed", "user_id", u.ID, "reason", "invalid_password")
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, apperr.InvalidCredentials
	}

	access, _, err := s.tokens.IssueAccess(u.ID, u.Email)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(u.ID, u.Email)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	now := s.now().UTC()
	err = s.store.SetSession(ctx, entity.Session{
		UserID:       u.ID,
		RefreshToken: refresh,
		ExpiresAt:    refreshExp,
		LoginAt:      now,
		PasswordHash: u.PasswordHash,
	})
	if err != nil {
		if user.IsNotFound(err) {
			// deleted or password changed after the credentials were checked
			s.log.Warnw("login failed", "user_id", u.ID, "reason", "credentials_changed")
			metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultFailure).Inc()
			return nil, apperr.InvalidCredentials
		}
		return nil, apperr.Wrap("authenticate", err)
	}
	s.invalidate(ctx, u.ID)
	u.LastLoginAt = &now

	metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	s.log.Infow("login succeeded", "user_id", u.ID)
	return &LoginResult{
		User:         u.Profile(),
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Refresh exchanges a live refresh token for a new access token. The refresh
// token must be the one stored for the user and not past its stored expiry.
func (s *Service) Refresh(ctx context.Context, raw string) (*RefreshResult, error) {
	res, err := s.refresh(ctx, raw)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}
	metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	return res, nil
}

func (s *Service) refresh(ctx context.Context, raw string) (*RefreshResult, error) {
	if raw == "" {
		return nil, apperr.MissingToken
	}
	claims, err := s.tokens.Verify(raw, TypeRefresh)
	if err != nil {
		if errors.Is(err, apperr.TokenExpired) {
			return nil, apperr.RefreshTokenExpired
		}
		return nil, err
	}

	u, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if user.IsNotFound(err) {
			s.log.Warnw("refresh failed", "user_id", claims.UserID, "reason", "user_not_found")
			return nil, apperr.UserNotFound.WithDetail("user_id", claims.UserID)
		}
		return nil, apperr.Wrap("refresh_token", err)
	}
	if u.RefreshToken == nil || *u.RefreshToken != raw {
		s.log.Warnw("refresh failed", "user_id", u.ID, "reason", "token_mismatch")
		return nil, apperr.InvalidToken.WithDetail("reason", "refresh_token_revoked")
	}
	if u.RefreshTokenExpiresAt == nil || u.RefreshTokenExpiresAt.Before(s.now()) {
		s.log.Warnw("refresh failed", "user_id", u.ID, "reason", "token_expired")
		return nil, apperr.RefreshTokenExpired
	}

	access, _, err := s.tokens.IssueAccess(u.ID, u.Email)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	s.log.Infow("token refreshed", "user_id", u.ID)
	return &RefreshResult{
		AccessToken: access,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Logout revokes the stored refresh token. Logging out twice is not an error.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	if err := s.store.ClearSession(ctx, userID); err != nil {
		if user.IsNotFound(err) {
			return apperr.UserNotFound.WithDetail("user_id", userID)
		}
		return apperr.Wrap("logout", err)
	}
	s.invalidate(ctx, userID)
	s.log.Infow("logout succeeded", "user_id", userID)
	return nil
}

// Authenticate resolves a bearer access token to its claims.
func (s *Service) Authenticate(raw string) (*Claims, error) {
	if raw == "" {
		return nil, apperr.MissingToken
	}
	return s.tokens.Verify(raw, TypeAccess)
}

// RequestPasswordReset stores a fresh reset token and emails it. The answer is
// the same for registered and unknown addresses.
func (s *Service) RequestPasswordReset(ctx context.Context, in ResetRequestInput) (string, error) {
	in.Email = user.NormalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return "", err
	}

	u, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		if user.IsNotFound(err) {
			s.log.Infow("password reset requested", "reason", "user_not_found")
			metrics.PasswordResetTotal.WithLabelValues("request", metrics.ResultMiss).Inc()
			return ResetRequestedMessage, nil
		}
		return "", apperr.Wrap("request_password_reset", err)
	}

	token, err := newResetToken()
	if err != nil {
		return "", apperr.Internal.WithCause(err)
	}
	expires := s.now().UTC().Add(s.resetTTL)
	if err := s.store.SetResetToken(ctx, u.ID, token, expires); err != nil {
		if user.IsNotFound(err) {
			// deleted in between; answer as for an unknown address
			return ResetRequestedMessage, nil
		}
		return "", apperr.Wrap("request_password_reset", err)
	}
	s.log.Infow("password reset token generated", "user_id", u.ID)
	metrics.PasswordResetTotal.WithLabelValues("request", metrics.ResultSuccess).Inc()

	if err := s.notifier.PasswordReset(ctx, u.Email, u.FirstName, token, s.resetTTL); err != nil {
		// delivery is best effort; the token stays valid for a retry
		s.log.Errorw("password reset email failed", "user_id", u.ID, "error", err)
	} else {
		s.log.Infow("password reset email sent", "user_id", u.ID)
	}
	return ResetRequestedMessage, nil
}

// ConfirmPasswordReset sets a new password for the holder of a live reset
// token and ends every open session of that user.
func (s *Service) ConfirmPasswordReset(ctx context.Context, in ResetConfirmInput) (string, error) {
	if err := s.validate.Struct(in); err != nil {
		return "", err
	}
	u, err := s.store.FindByResetToken(ctx, in.Token)
	if err != nil {
		if user.IsNotFound(err) {
			s.log.Warnw("password reset failed", "reason", "invalid_token")
			metrics.PasswordResetTotal.WithLabelValues("confirm", metrics.ResultFailure).Inc()
			return "", apperr.InvalidResetToken
		}
		return "", apperr.Wrap("reset_password", err)
	}
	now := s.now().UTC()
	if u.PasswordResetExpiresAt == nil || u.PasswordResetExpiresAt.Before(now) {
		s.log.Warnw("password reset failed", "user_id", u.ID, "reason", "token_expired")
		metrics.PasswordResetTotal.WithLabelValues("confirm", metrics.ResultFailure).Inc()
		return "", apperr.ResetTokenExpired
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return "", apperr.Internal.WithCause(err)
	}
	if err := s.store.ResetPassword(ctx, u.ID, in.Token, hash); err != nil {
		if user.IsNotFound(err) {
			s.log.Warnw("password reset failed", "user_id", u.ID, "reason", "token_consumed")
			metrics.PasswordResetTotal.WithLabelValues("confirm", metrics.ResultFailure).Inc()
			return "", apperr.InvalidResetToken
		}
		return "", apperr.Wrap("reset_password", err)
	}
	s.invalidate(ctx, u.ID)
	s.log.Infow("password reset succeeded", "user_id", u.ID)
	metrics.PasswordResetTotal.WithLabelValues("confirm", metrics.ResultSuccess).Inc()

	if err := s.notifier.PasswordChanged(ctx, u.Email, u.FirstName, now); err != nil {
		s.log.Errorw("password changed email failed", "user_id", u.ID, "error", err)
	}
	return ResetConfirmedMessage, nil
}

// Introspect reports whether raw is a live token issued here. Refresh tokens
// are live only while they match the stored session.
func (s *Service) Introspect(ctx context.Context, raw string) (Introspection, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return Introspection{}, nil
	}
	if claims.Type == TypeRefresh {
		u, err := s.store.FindByID(ctx, claims.UserID)
		if err != nil {
			if user.IsNotFound(err) {
				return Introspection{}, nil
			}
			return Introspection{}, apperr.Wrap("introspect", err)
		}
		if u.RefreshToken == nil || *u.RefreshToken != raw {
			return Introspection{}, nil
		}
	}
	out := Introspection{Active: true, Type: claims.Type, UserID: claims.UserID, Email: claims.Email}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	return out, nil
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warnw("cache invalidate failed", "user_id", id, "error", err)
	}
}

func newResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

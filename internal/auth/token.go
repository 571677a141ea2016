package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the JWT payload for both token types.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HMAC tokens.
type TokenIssuer struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer builds an issuer for HS256, HS384 or HS512.
func NewTokenIssuer(secret, algorithm string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	var method jwt.SigningMethod
	switch algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, errors.New("auth: unsupported signing algorithm " + algorithm)
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		method:     method,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

func (t *TokenIssuer) AccessTTL() time.Duration  { return t.accessTTL }
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

// IssueAccess signs a short lived access token.
func (t *TokenIssuer) IssueAccess(userID int64, email string) (string, time.Time, error) {
	return t.issue(userID, email, TypeAccess, t.accessTTL)
}

// IssueRefresh signs a long lived refresh token.
func (t *TokenIssuer) IssueRefresh(userID int64, email string) (string, time.Time, error) {
	return t.issue(userID, email, TypeRefresh, t.refreshTTL)
}

func (t *TokenIssuer) issue(userID int64, email, typ string, ttl time.Duration) (string, time.Time, error) {
	now := t.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: userID,
		Email:  email,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses raw and checks signature, expiry and token type.
// Expired tokens yield apperr.TokenExpired; every other failure apperr.InvalidToken.
func (t *TokenIssuer) Verify(raw, wantType string) (*Claims, error) {
	claims, err := t.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != wantType {
		return nil, apperr.InvalidToken.WithDetail("reason", "token_type")
	}
	return claims, nil
}

// Parse checks signature and expiry of a token of either type.
func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.TokenExpired
		}
		return nil, apperr.InvalidToken.WithCause(err)
	}
	if claims.Type != TypeAccess && claims.Type != TypeRefresh {
		return nil, apperr.InvalidToken.WithDetail("reason", "token_type")
	}
	if claims.UserID <= 0 {
		return nil, apperr.InvalidToken.WithDetail("reason", "subject")
	}
	return claims, nil
}

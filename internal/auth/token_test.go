package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
)

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	iss, err := NewTokenIssuer("test-secret", "HS256", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	return iss
}

func TestNewTokenIssuerRejectsBadInput(t *testing.T) {
	_, err := NewTokenIssuer("", "HS256", time.Minute, time.Hour)
	assert.Error(t, err)
	_, err = NewTokenIssuer("s", "RS256", time.Minute, time.Hour)
	assert.Error(t, err)
}

func TestIssueAndVerify(t *testing.T) {
	iss := newIssuer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return now }

	access, exp, err := iss.IssueAccess(42, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), exp)

	c, err := iss.Verify(access, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.UserID)
	assert.Equal(t, "ana@example.com", c.Email)
	assert.Equal(t, TypeAccess, c.Type)
	assert.NotEmpty(t, c.ID)

	refresh, exp, err := iss.IssueRefresh(42, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), exp)
	assert.NotEqual(t, access, refresh)

	_, err = iss.Verify(refresh, TypeAccess)
	assert.ErrorIs(t, err, apperr.InvalidToken)
	_, err = iss.Verify(access, TypeRefresh)
	assert.ErrorIs(t, err, apperr.InvalidToken)
}

func TestVerifyExpired(t *testing.T) {
	iss := newIssuer(t)
	now := time.Now()
	iss.now = func() time.Time { return now }
	tok, _, err := iss.IssueAccess(1, "a@b.c")
	require.NoError(t, err)

	iss.now = func() time.Time { return now.Add(16 * time.Minute) }
	_, err = iss.Verify(tok, TypeAccess)
	assert.ErrorIs(t, err, apperr.TokenExpired)
	assert.NotErrorIs(t, err, apperr.InvalidToken)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	iss := newIssuer(t)
	other, err := NewTokenIssuer("another-secret", "HS256", time.Minute, time.Hour)
	require.NoError(t, err)
	tok, _, err := other.IssueAccess(1, "a@b.c")
	require.NoError(t, err)

	_, err = iss.Verify(tok, TypeAccess)
	assert.ErrorIs(t, err, apperr.InvalidToken)

	_, err = iss.Verify("not.a.jwt", TypeAccess)
	assert.ErrorIs(t, err, apperr.InvalidToken)

	// alg=none must never verify
	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1, Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.Verify(raw, TypeAccess)
	assert.ErrorIs(t, err, apperr.InvalidToken)
}

func TestVerifyRequiresExpiryAndSubject(t *testing.T) {
	iss := newIssuer(t)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: 1, Type: TypeAccess}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = iss.Verify(noExp, TypeAccess)
	assert.ErrorIs(t, err, apperr.InvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = iss.Verify(noSubject, TypeAccess)
	assert.ErrorIs(t, err, apperr.InvalidToken)
}

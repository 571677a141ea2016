package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-account/internal/httpx"
)

func do(h http.HandlerFunc, method, body string, hdr ...string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		r.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestLoginHandler(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zaptest.NewLogger(t).Sugar())

	rec := do(h.Login, http.MethodPost, `{"email":"ana@example.com","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "bearer", res.TokenType)
	assert.NotEmpty(t, res.AccessToken)

	rec = do(h.Login, http.MethodPost, `{"email":"ana@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))

	rec = do(h.Login, http.MethodPost, `{"email":`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRequireBearerAndLogout(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zaptest.NewLogger(t).Sugar())
	login, err := f.svc.Login(t.Context(), LoginInput{Email: "ana@example.com", Password: password})
	require.NoError(t, err)
	logout := h.RequireBearer(http.HandlerFunc(h.Logout)).ServeHTTP

	rec := do(logout, http.MethodPost, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "MISSING_TOKEN", errorCode(t, rec))

	rec = do(logout, http.MethodPost, "", "Authorization", "Bearer "+login.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))

	rec = do(logout, http.MethodPost, "", "Authorization", "Bearer "+login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var msg httpx.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, LoggedOutMessage, msg.Detail)
	assert.Nil(t, f.raw(t).RefreshToken)
}

func TestPasswordResetHandlers(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zaptest.NewLogger(t).Sugar())

	rec := do(h.RequestPasswordReset, http.MethodPost, `{"email":"ana@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ResetRequestedMessage)
	token := f.notifier.resets[0].token

	rec = do(h.ConfirmPasswordReset, http.MethodPost, `{"token":"`+token+`","new_password":"N3w!password"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h.ConfirmPasswordReset, http.MethodPost, `{"token":"`+token+`","new_password":"N3w!password"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PASSWORD_RESET_TOKEN", errorCode(t, rec))
}

func TestIntrospectHandlerAcceptsForm(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zaptest.NewLogger(t).Sugar())
	login, err := f.svc.Login(t.Context(), LoginInput{Email: "ana@example.com", Password: password})
	require.NoError(t, err)

	form := url.Values{"token": {login.AccessToken}}.Encode()
	rec := do(h.Introspect, http.MethodPost, form, "Content-Type", "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code)
	var got Introspection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Active)

	rec = do(h.Introspect, http.MethodPost, `{"token":"bogus"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":false}`, rec.Body.String())
}

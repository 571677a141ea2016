package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-account/internal/config"
	"github.com/ovaphlow/pitchfork/service-account/internal/mail"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/usertest"
	"github.com/ovaphlow/pitchfork/service-account/pkg/cache"
)

const prefix = "/pitchfork-api-account"

type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Send(_ context.Context, m mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return nil
}

var tokenInLink = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func (o *outbox) lastResetToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs)
	m := tokenInLink.FindStringSubmatch(o.msgs[len(o.msgs)-1].Text)
	require.Len(t, m, 2)
	return m[1]
}

type env struct {
	srv    *httptest.Server
	mr     *miniredis.Miniredis
	outbox *outbox
	down   atomic.Bool
}

func testConfig() config.Config {
	return config.Config{
		BasePrefix:               prefix,
		SecretKey:                "test-secret",
		Algorithm:                "HS256",
		AccessTokenExpireMinutes: 15,
		RefreshTokenExpireDays:   7,
		ResetTokenExpireHours:    1,
		EncryptionKey:            "encryption-key",
		EncryptionSalt:           "encryption-salt",
		BcryptCost:               4,
		CacheTTL:                 300 * time.Second,
		FrontendURL:              "https://app.example.com",
		SMTP:                     config.SMTPConfig{FromName: "Pitchfork"},
		PostalLookupURL:          "http://127.0.0.1:1",
		PostalTimeout:            time.Second,
		LoginRateLimit:           3,
		LoginRateWindow:          time.Minute,
		ResetRateLimit:           3,
		ResetRateWindow:          time.Hour,
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := &env{mr: mr, outbox: &outbox{}}
	a, err := Assemble(testConfig(), Infra{
		Records: usertest.NewRecords(),
		Redis:   rdb,
		Cache:   cache.NewRedis(rdb),
		Mailer:  e.outbox,
		Ping: func(context.Context) error {
			if e.down.Load() {
				return errors.New("db down")
			}
			return nil
		},
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	e.srv = httptest.NewServer(a.Handler)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) call(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(b))
	} else {
		rd = strings.NewReader("")
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func registration(email, taxID string) map[string]any {
	return map[string]any{
		"first_name": "Maria", "last_name": "Souza", "tax_id": taxID, "email": email,
		"password": "Str0ng!pass", "postal_code": "01310-100", "street": "Avenida Paulista",
		"number": "1000", "neighborhood": "Bela Vista", "city": "São Paulo", "state": "SP",
	}
}

func errCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestAccountLifecycle(t *testing.T) {
	e := newEnv(t)

	resp, body := e.call(t, http.MethodPost, prefix+"/users", "", registration("maria@example.com", "529.982.247-25"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := int64(body["id"].(float64))

	resp, body = e.call(t, http.MethodPost, prefix+"/users/login", "", map[string]string{"email": "maria@example.com", "password": "Str0ng!pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)
	assert.Equal(t, "bearer", body["token_type"])

	resp, body = e.call(t, http.MethodGet, prefix+"/users/me", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "529.982.247-25", body["tax_id"])
	assert.True(t, e.mr.Exists("user:"+strconv.FormatInt(id, 10)))

	resp, _ = e.call(t, http.MethodGet, prefix+"/users/me", refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = e.call(t, http.MethodPost, prefix+"/users/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])

	resp, _ = e.call(t, http.MethodPost, prefix+"/users/logout", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = e.call(t, http.MethodPost, prefix+"/users/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_TOKEN", errCode(body))
}

func TestPasswordResetFlow(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.call(t, http.MethodPost, prefix+"/users", "", registration("maria@example.com", "529.982.247-25"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, known := e.call(t, http.MethodPost, prefix+"/users/password-reset/request", "", map[string]string{"email": "maria@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, unknown := e.call(t, http.MethodPost, prefix+"/users/password-reset/request", "", map[string]string{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, known, unknown)

	token := e.outbox.lastResetToken(t)
	resp, _ = e.call(t, http.MethodPost, prefix+"/users/password-reset/confirm", "", map[string]string{"token": token, "new_password": "N3w!password"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.call(t, http.MethodPost, prefix+"/users/login", "", map[string]string{"email": "maria@example.com", "password": "N3w!password"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.call(t, http.MethodPost, prefix+"/users/login", "", map[string]string{"email": "maria@example.com", "password": "Str0ng!pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginIsRateLimited(t *testing.T) {
	e := newEnv(t)
	creds := map[string]string{"email": "nobody@example.com", "password": "whatever"}
	for i := 0; i < 3; i++ {
		resp, _ := e.call(t, http.MethodPost, prefix+"/users/login", "", creds)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, body := e.call(t, http.MethodPost, prefix+"/users/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errCode(body))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestOperationalEndpoints(t *testing.T) {
	e := newEnv(t)

	resp, body := e.call(t, http.MethodGet, prefix+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	e.down.Store(true)
	resp, _ = e.call(t, http.MethodGet, prefix+"/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err := e.srv.Client().Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, body := e.call(t, http.MethodGet, prefix+"/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	assert.Equal(t, "MISSING_TOKEN", errCode(body))
}

func TestAssembleRejectsMissingKeys(t *testing.T) {
	cfg := testConfig()
	cfg.EncryptionKey = ""
	_, err := Assemble(cfg, Infra{Records: usertest.NewRecords()}, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.TrustedProxies = []string{"not-a-network"}
	_, err = Assemble(cfg, Infra{Records: usertest.NewRecords()}, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}

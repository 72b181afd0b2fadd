package httpapi

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/logging"
	"github.com/mkorchagin/praylock/internal/server/auth"
	"github.com/mkorchagin/praylock/internal/server/config"
	"github.com/mkorchagin/praylock/internal/server/repositories/repomanager"
	"github.com/mkorchagin/praylock/internal/server/services"
)

type testAPI struct {
	srv       *httptest.Server
	cfg       *config.Config
	clock     *clockwork.FakeClock
	passcodes *services.PasscodeService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.MasterKeyHex = strings.Repeat("cd", 32)
	cfg.AdminJWTSecret = "test-admin-secret"
	cfg.LockoutThreshold = 3
	cfg.LockoutWindow = time.Minute

	repos := repomanager.NewMemoryRepositoryManager()
	clock := clockwork.NewFakeClock()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	passcodes := services.NewPasscodeService(db, repos, cfg)
	content := services.NewContentService(db, repos)
	limiter := services.NewRateLimitService(db, repos, cfg, clock)
	sessions := services.NewSessionService(db, repos, cfg, clock)
	unlock := services.NewUnlockService(limiter, sessions, logger)
	migrations := services.NewMigrationService(db, repos, passcodes, limiter, logger)

	handler := NewHandler(passcodes, content, unlock, sessions, migrations, cfg, logger)
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, cfg: cfg, clock: clock, passcodes: passcodes}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testAPI) createEntity(t *testing.T, entityID, secret string) {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/entities", "", map[string]any{
		"entity_id": entityID, "secret": secret, "with_recovery": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (a *testAPI) unlockEntity(t *testing.T, entityID, secret string) string {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/unlock", "", map[string]string{
		"entity_id": entityID, "secret": secret,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[unlockResponse](t, resp).Token
}

func TestAPI_UnlockSetsCookie(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "1234")

	resp := api.do(t, http.MethodPost, "/api/unlock", "", map[string]string{
		"entity_id": "e1", "secret": "1234",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == common.SessionCookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	require.True(t, sessionCookie.HttpOnly)
	require.NotEmpty(t, sessionCookie.Value)
}

func TestAPI_WrongSecretReportsRemainingAttempts(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "1234")

	resp := api.do(t, http.MethodPost, "/api/unlock", "", map[string]string{
		"entity_id": "e1", "secret": "0000",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody[errorResponse](t, resp)
	require.NotNil(t, body.RemainingAttempts)
	require.Equal(t, 2, *body.RemainingAttempts)
}

func TestAPI_LockoutReturns429(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "1234")

	for i := 0; i < 2; i++ {
		resp := api.do(t, http.MethodPost, "/api/unlock", "", map[string]string{
			"entity_id": "e1", "secret": "0000",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := api.do(t, http.MethodPost, "/api/unlock", "", map[string]string{
		"entity_id": "e1", "secret": "0000",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Correct secret while locked is refused the same way.
	resp = api.do(t, http.MethodPost, "/api/unlock", "", map[string]string{
		"entity_id": "e1", "secret": "1234",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	body := decodeBody[errorResponse](t, resp)
	require.NotNil(t, body.LockoutEndsAt)
}

func TestAPI_ContentRoundTrip(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "1234")
	token := api.unlockEntity(t, "e1", "1234")

	resp := api.do(t, http.MethodPut, "/api/content/prayer_list", token, map[string]any{
		"secret": "1234", "content": json.RawMessage(`{"items":["x"]}`),
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/content/prayer_list/read", token, map[string]string{
		"secret": "1234",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[contentResponse](t, resp)
	require.JSONEq(t, `{"items":["x"]}`, string(body.Content))
}

func TestAPI_ContentRequiresSession(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "1234")

	resp := api.do(t, http.MethodPost, "/api/content/prayer_list/read", "", map[string]string{
		"secret": "1234",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/content/prayer_list/read", "bogus-token", map[string]string{
		"secret": "1234",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_ContentUnknownKind(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "1234")
	token := api.unlockEntity(t, "e1", "1234")

	resp := api.do(t, http.MethodPost, "/api/content/secrets/read", token, map[string]string{
		"secret": "1234",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_LockRevokesSession(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "1234")
	token := api.unlockEntity(t, "e1", "1234")

	resp := api.do(t, http.MethodPost, "/api/lock", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/content/prayer_list/read", token, map[string]string{
		"secret": "1234",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_MigrateAndRecoveryReset(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "old-pass")
	token := api.unlockEntity(t, "e1", "old-pass")

	resp := api.do(t, http.MethodPost, "/api/migrate", token, map[string]string{"secret": "old-pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code := decodeBody[recoveryCodeResponse](t, resp).RecoveryCode
	require.NotEmpty(t, code)

	// Forgot the password: reset it with the recovery code, no session.
	resp = api.do(t, http.MethodPost, "/api/recovery/reset-password", "", map[string]string{
		"entity_id": "e1", "recovery_code": code, "new_secret": "new-pass",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	token = api.unlockEntity(t, "e1", "new-pass")
	resp = api.do(t, http.MethodPost, "/api/content/prayer_list/read", token, map[string]string{
		"secret": "new-pass",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[contentResponse](t, resp)
	require.JSONEq(t, `{"items":[]}`, string(body.Content))
}

func TestAPI_ChangePasscodeRevokesSession(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "old-pass")
	token := api.unlockEntity(t, "e1", "old-pass")

	resp := api.do(t, http.MethodPost, "/api/passcode", token, map[string]string{
		"old_secret": "old-pass", "new_secret": "new-pass",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The old session died with the old secret.
	resp = api.do(t, http.MethodPost, "/api/content/prayer_list/read", token, map[string]string{
		"secret": "new-pass",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token = api.unlockEntity(t, "e1", "new-pass")
	resp = api.do(t, http.MethodPost, "/api/content/prayer_list/read", token, map[string]string{
		"secret": "new-pass",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_AdminUnlock(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "1234")

	adminToken, err := auth.GenerateAdminToken("admin-7", []byte(api.cfg.AdminJWTSecret), time.Hour)
	require.NoError(t, err)

	resp := api.do(t, http.MethodPost, "/api/admin/entities/e1/unlock", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[adminUnlockResponse](t, resp)

	// The recovered passcode comes back with the token; together they are
	// enough to read content without ever knowing the entity's secret.
	require.Equal(t, "1234", body.Secret)
	got := api.do(t, http.MethodPost, "/api/content/prayer_list/read", body.Token, map[string]string{
		"secret": body.Secret,
	})
	require.Equal(t, http.StatusOK, got.StatusCode)
}

func TestAPI_AdminUnlockRejectsBadToken(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	api.createEntity(t, "e1", "1234")

	resp := api.do(t, http.MethodPost, "/api/admin/entities/e1/unlock", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := auth.GenerateAdminToken("admin-7", []byte("wrong-secret"), time.Hour)
	require.NoError(t, err)
	resp = api.do(t, http.MethodPost, "/api/admin/entities/e1/unlock", forged, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

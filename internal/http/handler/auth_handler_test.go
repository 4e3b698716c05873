package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/ratelimit"
)

func doJSON(t *testing.T, e *env, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, fn := range mutate {
		fn(req)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload
}

func login(t *testing.T, e *env) map[string]any {
	t.Helper()
	w := doJSON(t, e, http.MethodPost, "/auth/login", `{"email":"`+testEmail+`","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)
}

func TestLoginMissingFields(t *testing.T) {
	e := newEnv(t)

	w := doJSON(t, e, http.MethodPost, "/auth/login", `{"email":"`+testEmail+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, false, decode(t, w)["success"])
}

func TestLoginSuccessSetsCookies(t *testing.T) {
	e := newEnv(t)

	w := doJSON(t, e, http.MethodPost, "/auth/login", `{"email":"`+testEmail+`","password":"`+testPassword+`","deviceName":"clinic-ipad"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	payload := decode(t, w)
	require.Equal(t, true, payload["success"])
	require.NotEmpty(t, payload["accessToken"])
	require.NotEmpty(t, payload["refreshToken"])
	require.NotEmpty(t, payload["csrfToken"])

	user, ok := payload["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, testEmail, user["email"])
	require.NotEmpty(t, user["permissions"])

	cookies := w.Result().Cookies()
	byName := make(map[string]*http.Cookie, len(cookies))
	for _, c := range cookies {
		byName[c.Name] = c
	}

	access := byName["accessToken"]
	require.NotNil(t, access)
	require.True(t, access.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, access.SameSite)
	require.Equal(t, int((15 * time.Minute).Seconds()), access.MaxAge)

	refresh := byName["refreshToken"]
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)
	require.Equal(t, "/auth", refresh.Path)

	csrf := byName["csrfToken"]
	require.NotNil(t, csrf)
	require.False(t, csrf.HttpOnly)
}

func TestLoginWrongPasswordGeneric(t *testing.T) {
	e := newEnv(t)

	w := doJSON(t, e, http.MethodPost, "/auth/login", `{"email":"`+testEmail+`","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	unknown := doJSON(t, e, http.MethodPost, "/auth/login", `{"email":"nobody@clinic.test","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, w.Body.String(), unknown.Body.String())
}

func TestLoginThrottled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	key := ratelimit.LoginKey("192.0.2.1")
	for i := 0; i < e.cfg.LoginRateLimit; i++ {
		e.counter.Increment(ctx, key, e.cfg.LoginRateWindow)
	}

	w := doJSON(t, e, http.MethodPost, "/auth/login", `{"email":"`+testEmail+`","password":"`+testPassword+`"}`, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "192.0.2.1")
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	payload := decode(t, w)
	require.Equal(t, false, payload["success"])
	require.NotEmpty(t, payload["resetAt"])
}

func TestLoginMethodNotAllowed(t *testing.T) {
	e := newEnv(t)

	w := doJSON(t, e, http.MethodGet, "/auth/login", "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestLogoutClearsCookies(t *testing.T) {
	e := newEnv(t)
	payload := login(t, e)
	accessToken := payload["accessToken"].(string)

	w := doJSON(t, e, http.MethodPost, "/auth/logout", "{}", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, c := range w.Result().Cookies() {
		require.Empty(t, c.Value)
		require.Less(t, c.MaxAge, 1)
	}

	// The revoked session no longer shows up.
	sessions := doJSON(t, e, http.MethodGet, "/auth/sessions", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	})
	require.Equal(t, http.StatusOK, sessions.Code)
	require.Empty(t, decode(t, sessions)["sessions"])
}

func TestLogoutWithoutToken(t *testing.T) {
	e := newEnv(t)

	w := doJSON(t, e, http.MethodPost, "/auth/logout", "{}")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordResetConfirmValidation(t *testing.T) {
	e := newEnv(t)

	w := doJSON(t, e, http.MethodPost, "/auth/password-reset/confirm", `{"token":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, e, http.MethodPost, "/auth/password-reset/confirm", `{"token":"x","newPassword":"short"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "at least 8 characters")

	w = doJSON(t, e, http.MethodPost, "/auth/password-reset/confirm", `{"token":"never-issued","newPassword":"long-enough-pw"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Invalid or expired reset token.")
}

func TestPasswordResetRequestAlwaysGeneric(t *testing.T) {
	e := newEnv(t)

	known := doJSON(t, e, http.MethodPost, "/auth/password-reset/request", `{"email":"`+testEmail+`"}`)
	unknown := doJSON(t, e, http.MethodPost, "/auth/password-reset/request", `{"email":"nobody@clinic.test"}`)

	require.Equal(t, http.StatusOK, known.Code)
	require.Equal(t, http.StatusOK, unknown.Code)
	require.Equal(t, known.Body.String(), unknown.Body.String())
}

func TestMeRequiresToken(t *testing.T) {
	e := newEnv(t)

	w := doJSON(t, e, http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	payload := login(t, e)
	accessToken := payload["accessToken"].(string)

	w = doJSON(t, e, http.MethodGet, "/auth/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	})
	require.Equal(t, http.StatusOK, w.Code)
	user := decode(t, w)["user"].(map[string]any)
	require.Equal(t, testEmail, user["email"])
}

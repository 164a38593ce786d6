package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ appService = (*app.Service)(nil)

func TestAuthStatus(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		passwordConfiguredFn: func(context.Context) (bool, error) { return false, nil },
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeJSON[authStatusResponse](t, rec)
	assert.False(t, status.Authenticated)
	assert.False(t, status.PasswordSet)
	assert.NotEmpty(t, status.CSRFToken)

	var csrfCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName {
			csrfCookie = c
		}
	}
	require.NotNil(t, csrfCookie)
	assert.Equal(t, status.CSRFToken, csrfCookie.Value)
}

func TestAuthStatus_Authenticated(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})
	tc := newTestClient(t, srv, true)

	rec := tc.do(http.MethodGet, "/api/auth/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeJSON[authStatusResponse](t, rec)
	assert.True(t, status.Authenticated)
	assert.True(t, status.PasswordSet)
}

func TestSetupThenLogin(t *testing.T) {
	srv := newTestServer(t, newRealService(t))
	tc := newTestClient(t, srv, false)

	rec := tc.do(http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = tc.do(http.MethodPost, "/api/auth/setup", `{"password":"stage-manager"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decodeJSON[authStatusResponse](t, rec)
	assert.True(t, status.Authenticated)
	tc.cookies = append(tc.cookies, rec.Result().Cookies()...)

	rec = tc.do(http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = tc.do(http.MethodPost, "/api/auth/setup", `{"password":"another-one"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	fresh := newTestClient(t, srv, false)
	rec = fresh.do(http.MethodPost, "/api/auth/login", `{"password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fresh.do(http.MethodPost, "/api/auth/login", `{"password":"stage-manager"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSetup_ShortPassword(t *testing.T) {
	srv := newTestServer(t, newRealService(t))
	tc := newTestClient(t, srv, false)

	rec := tc.do(http.MethodPost, "/api/auth/setup", `{"password":"short"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeJSON[apperrors.ErrorResponse](t, rec)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
	assert.Equal(t, "password", resp.Context["field"])
}

func TestLogin_PasswordNotSet(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		checkPasswordFn: func(context.Context, string) error { return app.ErrPasswordNotSet },
	})
	tc := newTestClient(t, srv, false)

	rec := tc.do(http.MethodPost, "/api/auth/login", `{"password":"anything-long"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogin_StoreFailure(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		checkPasswordFn: func(context.Context, string) error { return errors.New("db down") },
	})
	tc := newTestClient(t, srv, false)

	rec := tc.do(http.MethodPost, "/api/auth/login", `{"password":"anything-long"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestLogin_RequiresCSRFToken(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		checkPasswordFn: func(context.Context, string) error { return nil },
	})
	tc := newTestClient(t, srv, false)
	tc.csrf = ""

	rec := tc.do(http.MethodPost, "/api/auth/login", `{"password":"anything-long"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})
	tc := newTestClient(t, srv, true)

	rec := tc.do(http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "session cookie must be expired")
}

func TestProtectedRoutesRequireLogin(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})
	tc := newTestClient(t, srv, false)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions"},
		{http.MethodPost, "/api/session"},
		{http.MethodGet, "/api/active-session"},
		{http.MethodGet, "/api/media/abc"},
	} {
		rec := tc.do(route.method, route.path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
		resp := decodeJSON[apperrors.ErrorResponse](t, rec)
		assert.Equal(t, apperrors.TypeUnauthorized, resp.Type)
	}
}

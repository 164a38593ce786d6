package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

type passwordRequest struct {
	Password string `json:"password"`
}

type authStatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	PasswordSet   bool   `json:"passwordSet"`
	CSRFToken     string `json:"csrfToken,omitempty"`
}

func (s *Server) registerAuthRoutes(g *echo.Group) {
	g.GET("/auth/status", s.handleAuthStatus)
	g.POST("/auth/setup", s.handleSetup, s.loginLimiter)
	g.POST("/auth/login", s.handleLogin, s.loginLimiter)
	g.POST("/auth/logout", s.handleLogout)
}

// requireAuth rejects requests without an authenticated session cookie.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.isAuthenticated(c) {
			return apperrors.UnauthorizedError("login required")
		}
		return next(c)
	}
}

func (s *Server) isAuthenticated(c echo.Context) bool {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return false
	}
	ok, _ := session.Values[sessionKeyAuthenticated].(bool)
	return ok
}

func (s *Server) handleAuthStatus(c echo.Context) error {
	configured, err := s.app.PasswordConfigured(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to read auth settings", err)
	}

	token, _ := c.Get(csrfContextKey).(string)
	response := authStatusResponse{
		Authenticated: s.isAuthenticated(c),
		PasswordSet:   configured,
		CSRFToken:     token,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleSetup sets the first password and logs the caller in.
func (s *Server) handleSetup(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	err := s.app.SetupPassword(c.Request().Context(), req.Password)
	if errors.Is(err, app.ErrPasswordAlreadySet) {
		return apperrors.ConflictError("password already set up")
	}
	if err != nil {
		return passThroughOr(err, "failed to set up password")
	}

	slog.InfoContext(c.Request().Context(), "Admin password set up", "ip", c.RealIP())
	return s.startSession(c)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	err := s.app.CheckPassword(c.Request().Context(), req.Password)
	switch {
	case errors.Is(err, app.ErrPasswordNotSet):
		return apperrors.ConflictError("password not set up yet")
	case errors.Is(err, app.ErrInvalidPassword):
		slog.WarnContext(c.Request().Context(), "Failed login attempt", "ip", c.RealIP())
		return apperrors.UnauthorizedError("invalid password")
	case err != nil:
		return apperrors.InternalError("failed to verify password", err)
	}

	slog.InfoContext(c.Request().Context(), "Logged in", "ip", c.RealIP())
	return s.startSession(c)
}

// startSession drops any pre-login session and issues a fresh one, so a
// session id planted before login is never authenticated.
func (s *Server) startSession(c echo.Context) error {
	old, err := s.sessionStore.Get(c.Request(), sessionName)
	if err == nil && !old.IsNew {
		old.Options.MaxAge = -1
		if err := old.Save(c.Request(), c.Response().Writer); err != nil {
			return apperrors.InternalError("failed to invalidate old session", err)
		}
	}

	session, err := s.sessionStore.New(c.Request(), sessionName)
	if err != nil && session == nil {
		return apperrors.InternalError("failed to create session", err)
	}
	session.Values[sessionKeyAuthenticated] = true
	session.Values[sessionKeyLoginAt] = time.Now().Unix()
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save session", err)
	}

	if err := c.JSON(http.StatusOK, authStatusResponse{Authenticated: true, PasswordSet: true}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLogout(c echo.Context) error {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.WarnContext(c.Request().Context(), "Failed to read session during logout", "error", err)
	}
	if session != nil {
		session.Options.MaxAge = -1
		if err := session.Save(c.Request(), c.Response().Writer); err != nil {
			return apperrors.InternalError("failed to clear session", err)
		}
	}

	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

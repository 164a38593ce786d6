package httpserver

import (
	"fmt"
	"net/http"

	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

type createSessionRequest struct {
	Name  string          `json:"name"`
	Items []app.ItemInput `json:"items"`
}

type renameSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) registerSessionRoutes(g *echo.Group) {
	g.GET("/sessions", s.handleListSessions)
	g.POST("/session", s.handleCreateSession)
	g.POST("/session/import", s.handleImportSession, bodyLimit(s.config.MaxUploadBytes))
	g.GET("/session/:id", s.handleGetSession)
	g.PATCH("/session/:id", s.handleRenameSession)
	g.DELETE("/session/:id", s.handleDeleteSession)
	g.GET("/session/:id/export", s.handleExportSession)

	g.POST("/session/:id/active", s.handleSetActiveSession)
	g.GET("/active-session", s.handleGetActiveSession)
	g.DELETE("/active-session", s.handleClearActiveSession)
}

func (s *Server) handleListSessions(c echo.Context) error {
	sessions, err := s.app.ListSessions(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to list sessions", err)
	}

	if err := c.JSON(http.StatusOK, app.NewSessionViews(sessions)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	session, err := s.app.CreateSession(c.Request().Context(), req.Name, req.Items)
	if err != nil {
		return domainError(err, "failed to create session")
	}

	if err := c.JSON(http.StatusCreated, app.NewSessionView(*session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSession(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	session, err := s.app.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return domainError(err, "failed to load session").WithField("session_id", sessionID.String())
	}

	if err := c.JSON(http.StatusOK, app.NewSessionView(*session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRenameSession(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	var req renameSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	session, err := s.app.RenameSession(c.Request().Context(), sessionID, req.Name)
	if err != nil {
		return domainError(err, "failed to rename session").WithField("session_id", sessionID.String())
	}

	if err := c.JSON(http.StatusOK, app.NewSessionView(*session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.app.DeleteSession(c.Request().Context(), sessionID); err != nil {
		return domainError(err, "failed to delete session").WithField("session_id", sessionID.String())
	}

	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

func (s *Server) handleSetActiveSession(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.app.SetActiveSession(c.Request().Context(), sessionID); err != nil {
		return domainError(err, "failed to set active session").WithField("session_id", sessionID.String())
	}

	if err := c.JSON(http.StatusOK, app.ActiveSessionEvent{SessionID: &sessionID}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetActiveSession(c echo.Context) error {
	active, err := s.app.GetActiveSession(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to read active session", err)
	}

	if err := c.JSON(http.StatusOK, app.ActiveSessionEvent{SessionID: active}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleClearActiveSession(c echo.Context) error {
	if err := s.app.ClearActiveSession(c.Request().Context()); err != nil {
		return apperrors.InternalError("failed to clear active session", err)
	}

	if err := c.JSON(http.StatusOK, app.ActiveSessionEvent{}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

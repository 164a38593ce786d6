package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerNoteRoutes(g *echo.Group) {
	g.GET("/session/:id/notes", s.handleListNotes)
	g.POST("/session/:id/notes", s.handleAddNote)
	g.DELETE("/session/:id/notes/:noteId", s.handleCloseNote)
}

// handleListNotes serves ?all=true (include closed notes) and ?type=<role>.
func (s *Server) handleListNotes(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	includeClosed := false
	if raw := c.QueryParam("all"); raw != "" {
		includeClosed, err = strconv.ParseBool(raw)
		if err != nil {
			return apperrors.ValidationError("all must be a boolean").WithField("all", raw)
		}
	}

	notes, err := s.app.ListNotes(c.Request().Context(), sessionID, includeClosed, c.QueryParam("type"))
	if err != nil {
		return domainError(err, "failed to list notes").WithField("session_id", sessionID.String())
	}

	if err := c.JSON(http.StatusOK, app.NewNoteViews(notes)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleAddNote(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	var in app.NoteInput
	if err := c.Bind(&in); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	note, err := s.app.AddNote(c.Request().Context(), sessionID, in)
	if err != nil {
		return domainError(err, "failed to add note").WithField("session_id", sessionID.String())
	}

	if err := c.JSON(http.StatusCreated, app.NewNoteView(*note)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleCloseNote soft-closes the note; repeating it is harmless.
func (s *Server) handleCloseNote(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	noteID, err := uuidParam(c, "noteId")
	if err != nil {
		return err
	}

	note, err := s.app.CloseNote(c.Request().Context(), sessionID, noteID)
	if err != nil {
		return domainError(err, "failed to close note").
			WithField("session_id", sessionID.String()).
			WithField("note_id", noteID.String())
	}

	if err := c.JSON(http.StatusOK, app.NewNoteView(*note)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

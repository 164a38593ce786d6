package httpserver

import (
	"fmt"
	"net/http"

	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type addItemRequest struct {
	app.ItemInput
	InsertAfter *int `json:"insertAfter"`
}

type reorderRequest struct {
	ItemIDs []uuid.UUID `json:"itemIds"`
}

func (s *Server) registerItemRoutes(g *echo.Group) {
	g.POST("/session/:id/item", s.handleAddItem)
	g.PUT("/session/:id/item/:itemId", s.handleUpdateItem)
	g.DELETE("/session/:id/item/:itemId", s.handleDeleteItem)
	g.PUT("/session/:id/reorder", s.handleReorderItems)
}

func (s *Server) handleAddItem(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	var req addItemRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	item, err := s.app.AddItem(c.Request().Context(), sessionID, req.ItemInput, req.InsertAfter)
	if err != nil {
		return domainError(err, "failed to add item").WithField("session_id", sessionID.String())
	}

	if err := c.JSON(http.StatusCreated, app.NewItemView(*item)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateItem(c echo.Context) error {
	sessionID, itemID, err := sessionAndItemParams(c)
	if err != nil {
		return err
	}

	var in app.ItemInput
	if err := c.Bind(&in); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	item, err := s.app.UpdateItem(c.Request().Context(), sessionID, itemID, in)
	if err != nil {
		return domainError(err, "failed to update item").
			WithField("session_id", sessionID.String()).
			WithField("item_id", itemID.String())
	}

	if err := c.JSON(http.StatusOK, app.NewItemView(*item)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteItem(c echo.Context) error {
	sessionID, itemID, err := sessionAndItemParams(c)
	if err != nil {
		return err
	}

	if err := s.app.DeleteItem(c.Request().Context(), sessionID, itemID); err != nil {
		return domainError(err, "failed to delete item").
			WithField("session_id", sessionID.String()).
			WithField("item_id", itemID.String())
	}

	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

func (s *Server) handleReorderItems(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	items, err := s.app.ReorderItems(c.Request().Context(), sessionID, req.ItemIDs)
	if err != nil {
		return domainError(err, "failed to reorder items").WithField("session_id", sessionID.String())
	}

	if err := c.JSON(http.StatusOK, app.NewItemViews(items)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

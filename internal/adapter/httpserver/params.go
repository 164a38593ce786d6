package httpserver

import (
	"errors"
	"fmt"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError(fmt.Sprintf("invalid %s", name)).WithField(name, raw)
	}
	return id, nil
}

// sessionAndItemParams parses the :id and :itemId path parameters.
func sessionAndItemParams(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	itemID, err := uuidParam(c, "itemId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return sessionID, itemID, nil
}

// domainError maps store and app errors onto the structured taxonomy.
// Unknown errors become internal errors described by action.
func domainError(err error, action string) *apperrors.Error {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return apperrors.NotFoundError("session not found")
	case errors.Is(err, domain.ErrItemNotFound):
		return apperrors.NotFoundError("program item not found")
	case errors.Is(err, domain.ErrNoteNotFound):
		return apperrors.NotFoundError("note not found")
	case errors.Is(err, domain.ErrMediaNotFound):
		return apperrors.NotFoundError("media not found")
	case errors.Is(err, domain.ErrInvalidOrder):
		return apperrors.ValidationError(domain.ErrInvalidOrder.Error())
	}

	var structured *apperrors.Error
	if errors.As(err, &structured) {
		return structured
	}
	return apperrors.InternalError(action, err)
}

// passThroughOr keeps structured errors from the app layer and wraps
// everything else as an internal error.
func passThroughOr(err error, action string) error {
	var structured *apperrors.Error
	if errors.As(err, &structured) {
		return structured
	}
	return apperrors.InternalError(action, err)
}

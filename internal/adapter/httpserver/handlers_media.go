package httpserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

type uploadResponse struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

func (s *Server) registerMediaRoutes(g *echo.Group) {
	g.POST("/media", s.handleUploadMedia, bodyLimit(s.config.MaxUploadBytes))
	g.GET("/media/:key", s.handleGetMedia)
}

func mediaURL(key string) string {
	return "/api/media/" + key
}

// isTooLarge reports whether err stems from the body limit.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.Is(err, echo.ErrStatusRequestEntityTooLarge) || errors.As(err, &maxErr)
}

func (s *Server) handleUploadMedia(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			return apperrors.PayloadTooLargeError("upload exceeds size limit").WithField("max_bytes", s.config.MaxUploadBytes)
		}
		return apperrors.ValidationError("multipart field \"file\" is required")
	}
	if fh.Size > s.config.MaxUploadBytes {
		return apperrors.PayloadTooLargeError("upload exceeds size limit").WithField("max_bytes", s.config.MaxUploadBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return apperrors.InternalError("failed to open upload", err)
	}
	defer func() { _ = f.Close() }()

	contentType := fh.Header.Get(echo.HeaderContentType)
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = parsed
	}

	info, err := s.app.UploadMedia(c.Request().Context(), f, contentType)
	if err != nil {
		return passThroughOr(err, "failed to store upload")
	}

	slog.InfoContext(c.Request().Context(), "Media uploaded", "media_key", info.Key, "size", info.Size, "filename", fh.Filename)

	response := uploadResponse{
		Key:         info.Key,
		URL:         mediaURL(info.Key),
		Size:        info.Size,
		ContentType: info.ContentType,
	}
	if err := c.JSON(http.StatusCreated, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetMedia(c echo.Context) error {
	key := c.Param("key")

	rc, info, err := s.app.OpenMedia(c.Request().Context(), key)
	if err != nil {
		return domainError(err, "failed to open media").WithField("media_key", key)
	}
	defer func() { _ = rc.Close() }()

	// content-addressed: a key always names the same bytes
	h := c.Response().Header()
	h.Set("Cache-Control", "private, max-age=31536000, immutable")
	h.Set("ETag", `"`+info.Key+`"`)
	if info.Size > 0 {
		h.Set(echo.HeaderContentLength, fmt.Sprint(info.Size))
	}

	if err := c.Stream(http.StatusOK, info.ContentType, rc); err != nil {
		return fmt.Errorf("failed to stream media: %w", err)
	}
	return nil
}

func (s *Server) handleExportSession(c echo.Context) error {
	sessionID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	export, err := s.app.PrepareExport(c.Request().Context(), sessionID)
	if err != nil {
		return domainError(err, "failed to export session").WithField("session_id", sessionID.String())
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "application/zip")
	h.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": export.Filename()}))
	c.Response().WriteHeader(http.StatusOK)

	if err := export.WriteTo(c.Request().Context(), c.Response()); err != nil {
		// headers are out, the client sees a truncated archive
		slog.ErrorContext(c.Request().Context(), "Export failed mid-stream", "session_id", sessionID, "error", err)
	}
	return nil
}

// handleImportSession accepts an export archive or a JSON document, either as
// the raw body or as the multipart field "file".
func (s *Server) handleImportSession(c echo.Context) error {
	data, err := readImportBody(c)
	if err != nil {
		if isTooLarge(err) {
			return apperrors.PayloadTooLargeError("import exceeds size limit").WithField("max_bytes", s.config.MaxUploadBytes)
		}
		return apperrors.ValidationError("failed to read import body")
	}
	if len(data) == 0 {
		return apperrors.ValidationError("import body is empty")
	}

	session, err := s.app.ImportSession(c.Request().Context(), data)
	if err != nil {
		return passThroughOr(err, "failed to import session")
	}

	slog.InfoContext(c.Request().Context(), "Session imported", "session_id", session.ID, "items", len(session.Items))

	if err := c.JSON(http.StatusCreated, app.NewSessionView(*session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func readImportBody(c echo.Context) ([]byte, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return io.ReadAll(f)
	}
	return io.ReadAll(c.Request().Body)
}

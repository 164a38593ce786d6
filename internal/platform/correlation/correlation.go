// Package correlation tags log records with the HTTP request or websocket
// connection that produced them.
package correlation

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"
)

// Header is the HTTP header used to accept and echo request IDs.
const Header = "X-Correlation-ID"

var validID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

type contextKey struct{}

// scope holds the identifiers attached to a context. A websocket connection
// keeps the request ID of its upgrade and adds its hub client ID.
type scope struct {
	request string
	client  string
}

func scopeOf(ctx context.Context) scope {
	s, _ := ctx.Value(contextKey{}).(scope)
	return s
}

// NewID returns a short random ID: the first four bytes of a v4 UUID in hex.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// FromHeader returns the inbound ID when it is well-formed, otherwise a fresh one.
func FromHeader(value string) string {
	if validID.MatchString(value) {
		return value
	}
	return NewID()
}

func WithID(ctx context.Context, id string) context.Context {
	s := scopeOf(ctx)
	s.request = id
	return context.WithValue(ctx, contextKey{}, s)
}

// WithClient marks ctx as belonging to the websocket client clientID.
func WithClient(ctx context.Context, clientID string) context.Context {
	s := scopeOf(ctx)
	s.client = clientID
	return context.WithValue(ctx, contextKey{}, s)
}

// ID returns the request ID carried by ctx.
func ID(ctx context.Context) (string, bool) {
	s := scopeOf(ctx)
	return s.request, s.request != ""
}

// Client returns the websocket client ID carried by ctx.
func Client(ctx context.Context) (string, bool) {
	s := scopeOf(ctx)
	return s.client, s.client != ""
}

// Handler is a slog.Handler that adds "correlation_id" and "client_id"
// attributes from the record's context.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	s := scopeOf(ctx)
	if s.request != "" {
		r.AddAttrs(slog.String("correlation_id", s.request))
	}
	if s.client != "" {
		r.AddAttrs(slog.String("client_id", s.client))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}

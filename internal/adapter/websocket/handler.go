package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/correlation"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

const maxMessageBytes = 64 * 1024

// SessionFinder resolves session IDs named in joinSession messages.
type SessionFinder interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
}

// Handler upgrades HTTP requests and runs the per-connection read loop.
type Handler struct {
	hub       *Hub
	publisher domain.EventPublisher
	sessions  SessionFinder
	limits    *ConnectionLimits
	upgrader  websocket.Upgrader
	clock     clockwork.Clock
	metrics   *metrics.WebSocketMetrics
}

// NewHandler builds the /ws handler. Timer messages are published through
// publisher so they reach members on every instance.
func NewHandler(hub *Hub, publisher domain.EventPublisher, sessions SessionFinder, limits *ConnectionLimits,
	checkOrigin func(*http.Request) bool, clock clockwork.Clock, m *metrics.WebSocketMetrics,
) *Handler {
	return &Handler{
		hub:       hub,
		publisher: publisher,
		sessions:  sessions,
		limits:    limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clock:   clock,
		metrics: m,
	}
}

func (h *Handler) Handle(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := h.limits.Acquire(ip); !ok {
		h.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.WarnContext(c.Request().Context(), "Websocket connection refused", "ip", ip, "reason", reason)
		if reason == LimitReasonRate {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many connection attempts")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "connection limit reached")
	}
	defer h.limits.Release(ip)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		slog.DebugContext(c.Request().Context(), "Websocket upgrade failed", "error", err)
		return nil
	}
	conn.SetReadLimit(maxMessageBytes)

	clientID := uuid.NewString()
	// The request context is cancelled once the handler returns; the read loop
	// needs its own lifetime independent of echo's.
	ctx := correlation.WithClient(context.WithoutCancel(c.Request().Context()), clientID)

	out := newOutbox(conn, h.clock)
	if err := h.hub.Register(clientID, out); err != nil {
		slog.ErrorContext(ctx, "Failed to register websocket client", "error", err)
		out.close("server unavailable")
		return nil
	}
	defer h.hub.Unregister(clientID)

	h.readLoop(ctx, clientID, conn, out)
	return nil
}

func (h *Handler) readLoop(ctx context.Context, clientID string, conn *websocket.Conn, out *outbox) {
	joined := make(map[uuid.UUID]struct{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "Websocket read failed", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			out.push(errorFrame("malformed message"))
			continue
		}
		h.metrics.MessagesReceived.WithLabelValues(knownType(frame.Type)).Inc()

		if msg := h.dispatch(ctx, clientID, frame, joined); msg != "" {
			out.push(errorFrame(msg))
		}
	}
}

// dispatch handles one client message and returns an error message for the
// client, or "" on success.
func (h *Handler) dispatch(ctx context.Context, clientID string, frame Frame, joined map[uuid.UUID]struct{}) string {
	switch frame.Type {
	case MsgJoinSession:
		if frame.SessionID == nil {
			return "sessionId required"
		}
		if _, err := h.sessions.GetSession(ctx, *frame.SessionID); err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				return "session not found"
			}
			slog.ErrorContext(ctx, "Failed to look up session for join", "session_id", frame.SessionID, "error", err)
			return "session lookup failed"
		}
		joined[*frame.SessionID] = struct{}{}
		h.hub.Join(clientID, *frame.SessionID)

	case MsgLeaveSession:
		if frame.SessionID == nil {
			return "sessionId required"
		}
		delete(joined, *frame.SessionID)
		h.hub.Leave(clientID, *frame.SessionID)

	case MsgTimerStart, MsgTimerStop:
		if frame.SessionID == nil {
			return "sessionId required"
		}
		if _, ok := joined[*frame.SessionID]; !ok {
			return "join the session before controlling its timer"
		}
		update, msg := timerUpdateFrom(frame)
		if msg != "" {
			return msg
		}
		event, err := domain.NewEvent(domain.EventTimerUpdate, *frame.SessionID, update)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to build timer event", "error", err)
			return "timer update failed"
		}
		event.Origin = clientID
		if err := h.publisher.Publish(ctx, event); err != nil {
			slog.WarnContext(ctx, "Failed to publish timer update", "session_id", frame.SessionID, "error", err)
		}

	default:
		return "unknown message type"
	}
	return ""
}

func timerUpdateFrom(frame Frame) (TimerUpdate, string) {
	if frame.Type == MsgTimerStop {
		return TimerUpdate{Type: "stop"}, ""
	}

	var start TimerStart
	if err := json.Unmarshal(frame.Data, &start); err != nil {
		return TimerUpdate{}, "malformed timerStart payload"
	}
	if start.Duration <= 0 {
		return TimerUpdate{}, "duration must be positive"
	}
	remaining := start.Duration
	if start.Remaining != nil {
		remaining = min(max(*start.Remaining, 0), start.Duration)
	}
	return TimerUpdate{Type: "start", Duration: start.Duration, Remaining: remaining, Item: start.Item}, ""
}

// knownType bounds the metric label set.
func knownType(t string) string {
	switch t {
	case MsgJoinSession, MsgLeaveSession, MsgTimerStart, MsgTimerStop:
		return t
	default:
		return "unknown"
	}
}

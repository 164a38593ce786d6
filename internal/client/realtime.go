package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/websocket"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/retry"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// Synthetic frames delivered to listeners. The server does not replay missed
// events, so listeners refetch on FrameConnected.
const (
	FrameConnected    = "connected"
	FrameDisconnected = "disconnected"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("realtime client is not connected")
	ErrClosed       = errors.New("realtime client is closed")
)

// HandshakeError is a websocket upgrade the server refused with a status.
type HandshakeError struct {
	Status int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake refused: %d %s", e.Status, http.StatusText(e.Status))
}

// classifyDial decides how a failed connection attempt is retried. A refused
// login is permanent; connection limits ask for the longer backoff.
func classifyDial(err error) retry.Action {
	var hs *HandshakeError
	if !errors.As(err, &hs) {
		return retry.Retry
	}
	switch hs.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return retry.Stop
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return retry.After
	default:
		return retry.Retry
	}
}

func DefaultPolicy() retry.Policy {
	return retry.Policy{
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       15 * time.Second,
		RateLimitBackoff: 30 * time.Second,
	}
}

type Options struct {
	Jar    http.CookieJar
	Origin string
	Clock  clockwork.Clock
	Retry  retry.Policy
}

// Realtime is a reconnecting websocket client. Rooms joined through Join are
// re-joined after every reconnect.
type Realtime struct {
	url    string
	origin string
	dialer *ws.Dialer
	clock  clockwork.Clock
	policy retry.Policy

	mu        sync.Mutex
	conn      *ws.Conn
	rooms     map[uuid.UUID]struct{}
	listeners map[int]func(websocket.Frame)
	nextID    int
	closed    bool

	writeMu sync.Mutex
}

func NewRealtime(url string, opts Options) *Realtime {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	policy := opts.Retry
	policy.Clock = clock

	return &Realtime{
		url:    url,
		origin: opts.Origin,
		dialer: &ws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Jar:              opts.Jar,
		},
		clock:     clock,
		policy:    policy,
		rooms:     make(map[uuid.UUID]struct{}),
		listeners: make(map[int]func(websocket.Frame)),
	}
}

// OnFrame registers fn for every received frame. The returned func removes it.
func (r *Realtime) OnFrame(fn func(websocket.Frame)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.listeners[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Run connects and reads frames until ctx is done or Close is called,
// reconnecting with backoff whenever the connection drops.
func (r *Realtime) Run(ctx context.Context) error {
	for {
		conn, err := retry.Do(ctx, r.policy, classifyDial, r.dial)
		if err != nil {
			if ctx.Err() != nil || r.isClosed() {
				return nil
			}
			return fmt.Errorf("failed to connect: %w", err)
		}

		if !r.attach(conn) {
			_ = conn.Close()
			return nil
		}
		slog.Info("Realtime connected", "url", r.url)
		r.rejoin()
		r.dispatch(websocket.Frame{Type: FrameConnected})

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		r.readLoop(conn)
		stop()
		r.detach(conn)

		if ctx.Err() != nil || r.isClosed() {
			return nil
		}
		slog.Warn("Realtime connection lost, reconnecting", "url", r.url)
		r.dispatch(websocket.Frame{Type: FrameDisconnected})
	}
}

// Close ends Run, closes the connection and drops every listener.
func (r *Realtime) Close() error {
	r.mu.Lock()
	r.closed = true
	conn := r.conn
	r.conn = nil
	clear(r.listeners)
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	r.writeMu.Lock()
	_ = conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), r.clock.Now().Add(writeTimeout))
	r.writeMu.Unlock()
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}

// Join subscribes to a session room. It is remembered across reconnects and
// sent right away when connected.
func (r *Realtime) Join(sessionID uuid.UUID) error {
	r.mu.Lock()
	r.rooms[sessionID] = struct{}{}
	r.mu.Unlock()

	err := r.send(websocket.MsgJoinSession, &sessionID, nil)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (r *Realtime) Leave(sessionID uuid.UUID) error {
	r.mu.Lock()
	delete(r.rooms, sessionID)
	r.mu.Unlock()

	err := r.send(websocket.MsgLeaveSession, &sessionID, nil)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// StartTimer announces a countdown to the other members of the room.
func (r *Realtime) StartTimer(sessionID uuid.UUID, item json.RawMessage, duration, remaining int) error {
	return r.send(websocket.MsgTimerStart, &sessionID, websocket.TimerStart{
		Duration:  duration,
		Remaining: &remaining,
		Item:      item,
	})
}

func (r *Realtime) StopTimer(sessionID uuid.UUID) error {
	return r.send(websocket.MsgTimerStop, &sessionID, nil)
}

func (r *Realtime) dial(ctx context.Context) (*ws.Conn, error) {
	header := http.Header{}
	if r.origin != "" {
		header.Set("Origin", r.origin)
	}

	conn, resp, err := r.dialer.DialContext(ctx, r.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, ws.ErrBadHandshake) && resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("dial %s: %w", r.url, err)
	}
	return conn, nil
}

func (r *Realtime) attach(conn *ws.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conn = conn
	return true
}

func (r *Realtime) detach(conn *ws.Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *Realtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Realtime) rejoin() {
	r.mu.Lock()
	rooms := make([]uuid.UUID, 0, len(r.rooms))
	for id := range r.rooms {
		rooms = append(rooms, id)
	}
	r.mu.Unlock()

	for _, id := range rooms {
		if err := r.send(websocket.MsgJoinSession, &id, nil); err != nil {
			slog.Warn("Failed to rejoin session room", "session_id", id, "error", err)
		}
	}
}

func (r *Realtime) readLoop(conn *ws.Conn) {
	for {
		var frame websocket.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				slog.Debug("Realtime read ended", "error", err)
			}
			return
		}
		if frame.Type == websocket.MsgError {
			slog.Warn("Realtime server reported an error", "data", string(frame.Data))
		}
		r.dispatch(frame)
	}
}

func (r *Realtime) dispatch(frame websocket.Frame) {
	r.mu.Lock()
	fns := make([]func(websocket.Frame), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(frame)
	}
}

func (r *Realtime) send(msgType string, sessionID *uuid.UUID, data any) error {
	frame := websocket.Frame{Type: msgType, SessionID: sessionID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		frame.Data = raw
	}

	r.mu.Lock()
	conn, closed := r.conn, r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.SetWriteDeadline(r.clock.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// Package websocket delivers change events to browser and CLI clients over
// websocket connections, scoped to per-session rooms.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout  = 5 * time.Second
	stopTimeout     = 10 * time.Second
	commandCapacity = 256
)

// ErrHubStopped is returned for commands sent after Stop.
var ErrHubStopped = errors.New("websocket hub stopped")

// hubCmd is a command processed by the hub goroutine.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	clientID string
	out      *outbox
	reply    chan error
}

type unregisterCmd struct {
	baseHubCmd
	clientID string
}

type joinCmd struct {
	baseHubCmd
	clientID  string
	sessionID uuid.UUID
}

type leaveCmd struct {
	baseHubCmd
	clientID  string
	sessionID uuid.UUID
}

type publishCmd struct {
	baseHubCmd
	event domain.Event
}

type statsCmd struct {
	baseHubCmd
	sessionID uuid.UUID
	reply     chan Stats
}

type stopCmd struct {
	baseHubCmd
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Clients     int
	Rooms       int
	RoomMembers int // members of the queried session's room
}

type hubClient struct {
	id    string
	out   *outbox
	rooms map[uuid.UUID]struct{}
}

// Hub owns every connection and room on this instance. All state lives in
// one goroutine that processes commands from a channel; publishing never
// waits for a client.
type Hub struct {
	cmdCh   chan hubCmd
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics
	clients map[string]*hubClient
	rooms   map[uuid.UUID]map[string]*hubClient
	done    chan struct{}
}

var _ domain.EventPublisher = (*Hub)(nil)

func NewHub(clock clockwork.Clock, m *metrics.WebSocketMetrics) *Hub {
	h := &Hub{
		cmdCh:   make(chan hubCmd, commandCapacity),
		clock:   clock,
		metrics: m,
		clients: make(map[string]*hubClient),
		rooms:   make(map[uuid.UUID]map[string]*hubClient),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Register adds a connected client. It fails only when the hub is stopped or stuck.
func (h *Hub) Register(clientID string, out *outbox) error {
	reply := make(chan error, 1)
	if err := h.send(registerCmd{clientID: clientID, out: out, reply: reply}); err != nil {
		return err
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-reply:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister removes the client from every room and closes its outbox.
func (h *Hub) Unregister(clientID string) {
	_ = h.send(unregisterCmd{clientID: clientID})
}

// Join adds the client to the session's room and queues a joined reply.
func (h *Hub) Join(clientID string, sessionID uuid.UUID) {
	_ = h.send(joinCmd{clientID: clientID, sessionID: sessionID})
}

func (h *Hub) Leave(clientID string, sessionID uuid.UUID) {
	_ = h.send(leaveCmd{clientID: clientID, sessionID: sessionID})
}

// Publish delivers event to its room, or to every client for global events.
// The client named by event.Origin is skipped.
func (h *Hub) Publish(ctx context.Context, event domain.Event) error {
	if h.stopped() {
		return ErrHubStopped
	}
	select {
	case h.cmdCh <- publishCmd{event: event}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

// Stats returns counts for the hub and the given session's room.
func (h *Hub) Stats(sessionID uuid.UUID) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := h.send(statsCmd{sessionID: sessionID, reply: reply}); err != nil {
		return Stats{}, err
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case s := <-reply:
		return s, nil
	case <-timer.Chan():
		return Stats{}, fmt.Errorf("stats command timed out after %v", commandTimeout)
	case <-h.done:
		return Stats{}, ErrHubStopped
	}
}

// Stop closes every connection with a close frame and waits for the hub
// goroutine to exit.
func (h *Hub) Stop() {
	if err := h.send(stopCmd{}); err != nil {
		return
	}

	timeout := h.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("Websocket hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Websocket hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

func (h *Hub) send(cmd hubCmd) error {
	if h.stopped() {
		return ErrHubStopped
	}
	select {
	case h.cmdCh <- cmd:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c)
		case unregisterCmd:
			h.handleUnregister(c.clientID)
		case joinCmd:
			h.handleJoin(c)
		case leaveCmd:
			h.handleLeave(c)
		case publishCmd:
			h.handlePublish(c.event)
		case statsCmd:
			c.reply <- Stats{Clients: len(h.clients), Rooms: len(h.rooms), RoomMembers: len(h.rooms[c.sessionID])}
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Websocket hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	if _, exists := h.clients[c.clientID]; exists {
		c.reply <- fmt.Errorf("client %s already registered", c.clientID)
		return
	}
	h.clients[c.clientID] = &hubClient{id: c.clientID, out: c.out, rooms: make(map[uuid.UUID]struct{})}
	h.metrics.ActiveConnections.Inc()
	slog.Debug("Websocket client registered", "client_id", c.clientID, "total_clients", len(h.clients))
	c.reply <- nil
}

func (h *Hub) handleUnregister(clientID string) {
	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	for sessionID := range client.rooms {
		h.removeFromRoom(client, sessionID)
	}
	delete(h.clients, clientID)
	client.out.close("")

	h.metrics.ActiveConnections.Dec()
	slog.Debug("Websocket client unregistered", "client_id", clientID, "remaining_clients", len(h.clients))
}

func (h *Hub) handleJoin(c joinCmd) {
	client, ok := h.clients[c.clientID]
	if !ok {
		return
	}

	room, exists := h.rooms[c.sessionID]
	if !exists {
		room = make(map[string]*hubClient)
		h.rooms[c.sessionID] = room
		h.metrics.Rooms.Set(float64(len(h.rooms)))
	}
	room[client.id] = client
	client.rooms[c.sessionID] = struct{}{}

	sessionID := c.sessionID
	msg, err := controlFrame(MsgJoined, &sessionID, nil)
	if err != nil {
		slog.Error("Failed to build joined frame", "error", err)
		return
	}
	h.deliver(client, msg)
}

func (h *Hub) handleLeave(c leaveCmd) {
	client, ok := h.clients[c.clientID]
	if !ok {
		return
	}
	h.removeFromRoom(client, c.sessionID)

	sessionID := c.sessionID
	msg, err := controlFrame(MsgLeft, &sessionID, nil)
	if err != nil {
		slog.Error("Failed to build left frame", "error", err)
		return
	}
	h.deliver(client, msg)
}

func (h *Hub) removeFromRoom(client *hubClient, sessionID uuid.UUID) {
	delete(client.rooms, sessionID)
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, client.id)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
		h.metrics.Rooms.Set(float64(len(h.rooms)))
	}
}

func (h *Hub) handlePublish(event domain.Event) {
	msg, err := eventFrame(event)
	if err != nil {
		slog.Error("Failed to build event frame", "event_type", event.Type, "error", err)
		return
	}

	targets := h.clients
	if !event.Global() {
		targets = h.rooms[event.SessionID]
	}

	var slow []*hubClient
	for id, client := range targets {
		if id == event.Origin {
			continue
		}
		if !h.deliverOrCollect(client, msg) {
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		slog.Warn("Disconnecting slow websocket client", "client_id", client.id, "event_type", event.Type)
		h.metrics.SlowClientsEvicted.Inc()
		h.handleUnregister(client.id)
	}

	// A deleted session's room has nothing left to deliver.
	if event.Type == domain.EventSessionDeleted {
		for _, client := range h.rooms[event.SessionID] {
			h.removeFromRoom(client, event.SessionID)
		}
	}
}

// deliver queues a control reply and evicts the client when it cannot keep up.
func (h *Hub) deliver(client *hubClient, msg []byte) {
	if !h.deliverOrCollect(client, msg) {
		h.metrics.SlowClientsEvicted.Inc()
		h.handleUnregister(client.id)
	}
}

func (h *Hub) deliverOrCollect(client *hubClient, msg []byte) bool {
	if !client.out.push(msg) {
		return false
	}
	h.metrics.MessagesSent.Inc()
	return true
}

func (h *Hub) handleStop() {
	slog.Info("Websocket hub shutting down", "clients", len(h.clients), "rooms", len(h.rooms))

	for id, client := range h.clients {
		client.out.close("server shutting down")
		delete(h.clients, id)
	}
	clear(h.rooms)
	h.metrics.ActiveConnections.Set(0)
	h.metrics.Rooms.Set(0)
}

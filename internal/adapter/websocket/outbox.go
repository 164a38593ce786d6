package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	queueSize  = 32
)

// outbox is the single writer of one connection. Frames wait in a bounded
// queue; when it is full the client is too slow and push reports false.
type outbox struct {
	conn  *websocket.Conn
	clock clockwork.Clock
	queue chan []byte
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newOutbox(conn *websocket.Conn, clock clockwork.Clock) *outbox {
	o := &outbox{
		conn:  conn,
		clock: clock,
		queue: make(chan []byte, queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	o.extendRead()
	conn.SetPongHandler(func(string) error {
		o.extendRead()
		return nil
	})
	go o.pump()
	return o
}

func (o *outbox) pump() {
	defer close(o.done)
	ping := o.clock.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-o.quit:
			return
		case msg := <-o.queue:
			_ = o.conn.SetWriteDeadline(o.deadline())
			err = o.conn.WriteMessage(websocket.TextMessage, msg)
		case <-ping.Chan():
			err = o.conn.WriteControl(websocket.PingMessage, nil, o.deadline())
		}
		if err != nil {
			// The read loop fails next and unregisters the client.
			_ = o.conn.Close()
			return
		}
	}
}

// push queues msg without blocking.
func (o *outbox) push(msg []byte) bool {
	select {
	case <-o.quit:
		return false
	default:
	}
	select {
	case o.queue <- msg:
		return true
	default:
		return false
	}
}

// close stops the pump and closes the connection. A non-empty reason is sent
// to the client in a going-away close frame first. Frames still queued are
// dropped. close is idempotent and returns once the pump has exited.
func (o *outbox) close(reason string) {
	o.once.Do(func() {
		close(o.quit)
		if reason != "" {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
			_ = o.conn.WriteControl(websocket.CloseMessage, msg, o.deadline())
		}
		_ = o.conn.Close()
	})
	<-o.done
}

func (o *outbox) deadline() time.Time {
	return o.clock.Now().Add(writeWait)
}

func (o *outbox) extendRead() {
	_ = o.conn.SetReadDeadline(o.clock.Now().Add(pongWait))
}

// Package timer implements the show countdown. Remaining time is never
// decremented: every tick derives it from the start instant and the total, so
// a late tick or a delayed start message cannot make clients drift apart.
package timer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const tickInterval = 200 * time.Millisecond

var ErrInvalidDuration = errors.New("timer duration must be positive")

type State int

const (
	Idle State = iota
	Running
	Expired
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Expired:
		return "expired"
	default:
		return "idle"
	}
}

// Source tells listeners who caused a change. Local starts and stops are the
// ones a client has to announce to the other members of its room.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
	SourceTick
)

// Snapshot is the engine state at one instant.
type Snapshot struct {
	State     State
	Item      json.RawMessage // the program item the countdown belongs to, as relayed
	Total     int             // seconds
	Remaining int             // seconds
	StartedAt time.Time
	Source    Source
}

// Remaining returns max(0, total - floor((now - start) / 1s)).
func Remaining(now, start time.Time, total int) int {
	elapsed := int(now.Sub(start) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return max(total-elapsed, 0)
}

// StartFor back-computes the start instant from a relayed remaining value, so
// every receiver converges on the same end time.
func StartFor(now time.Time, total, remaining int) time.Time {
	remaining = min(max(remaining, 0), total)
	return now.Add(-time.Duration(total-remaining) * time.Second)
}

type Engine struct {
	clock clockwork.Clock

	mu        sync.Mutex
	state     State
	item      json.RawMessage
	total     int
	start     time.Time
	remaining int
	listeners map[int]func(Snapshot)
	nextID    int
}

func NewEngine(clock clockwork.Clock) *Engine {
	return &Engine{
		clock:     clock,
		listeners: make(map[int]func(Snapshot)),
	}
}

// OnChange registers fn for every state or remaining-time change. The
// returned func removes it again.
func (e *Engine) OnChange(fn func(Snapshot)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.listeners[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(SourceTick)
}

// Start begins a countdown of duration seconds for item.
func (e *Engine) Start(item json.RawMessage, duration int) error {
	if duration <= 0 {
		return ErrInvalidDuration
	}
	e.begin(item, duration, duration, SourceLocal)
	return nil
}

// ApplyRemoteStart adopts a countdown another client started.
func (e *Engine) ApplyRemoteStart(item json.RawMessage, duration, remaining int) error {
	if duration <= 0 {
		return ErrInvalidDuration
	}
	e.begin(item, duration, remaining, SourceRemote)
	return nil
}

func (e *Engine) Stop() {
	e.halt(SourceLocal)
}

func (e *Engine) ApplyRemoteStop() {
	e.halt(SourceRemote)
}

// Run drives the countdown until ctx is done. Cancelling ctx stops the ticker
// and drops every listener.
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(tickInterval)
	defer ticker.Stop()
	defer e.releaseListeners()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.Tick()
		}
	}
}

// Tick recomputes the remaining time and expires the countdown at zero.
func (e *Engine) Tick() {
	e.mu.Lock()
	if e.state != Running {
		e.mu.Unlock()
		return
	}

	remaining := Remaining(e.clock.Now(), e.start, e.total)
	if remaining == e.remaining {
		e.mu.Unlock()
		return
	}
	e.remaining = remaining
	if remaining == 0 {
		e.state = Expired
	}
	snap, fns := e.snapshotLocked(SourceTick), e.listenersLocked()
	e.mu.Unlock()

	notify(fns, snap)
}

func (e *Engine) begin(item json.RawMessage, total, remaining int, source Source) {
	e.mu.Lock()
	now := e.clock.Now()
	e.state = Running
	e.item = item
	e.total = total
	e.start = StartFor(now, total, remaining)
	e.remaining = Remaining(now, e.start, total)
	if e.remaining == 0 {
		e.state = Expired
	}
	snap, fns := e.snapshotLocked(source), e.listenersLocked()
	e.mu.Unlock()

	notify(fns, snap)
}

func (e *Engine) halt(source Source) {
	e.mu.Lock()
	if e.state == Idle {
		e.mu.Unlock()
		return
	}
	e.state = Idle
	e.item = nil
	e.total = 0
	e.remaining = 0
	e.start = time.Time{}
	snap, fns := e.snapshotLocked(source), e.listenersLocked()
	e.mu.Unlock()

	notify(fns, snap)
}

func (e *Engine) snapshotLocked(source Source) Snapshot {
	return Snapshot{
		State:     e.state,
		Item:      e.item,
		Total:     e.total,
		Remaining: e.remaining,
		StartedAt: e.start,
		Source:    source,
	}
}

func (e *Engine) listenersLocked() []func(Snapshot) {
	fns := make([]func(Snapshot), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func (e *Engine) releaseListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.listeners)
}

// listeners run outside the lock so they may call back into the engine
func notify(fns []func(Snapshot), snap Snapshot) {
	for _, fn := range fns {
		fn(snap)
	}
}

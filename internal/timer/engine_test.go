package timer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var showStart = time.Date(2026, 2, 7, 19, 11, 0, 0, time.UTC)

var garde = json.RawMessage(`{"id":"7d3c","name":"Garde","nummer":2}`)

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *recorder) last() Snapshot {
	all := r.all()
	if len(all) == 0 {
		return Snapshot{}
	}
	return all[len(all)-1]
}

func TestRemaining(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		total   int
		want    int
	}{
		{"at start", 0, 300, 300},
		{"partial second is floored", 1900 * time.Millisecond, 300, 299},
		{"mid countdown", 125 * time.Second, 300, 175},
		{"exactly at end", 300 * time.Second, 300, 0},
		{"past end clamps to zero", time.Hour, 300, 0},
		{"clock behind start", -5 * time.Second, 300, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Remaining(showStart.Add(tt.elapsed), showStart, tt.total))
		})
	}
}

func TestStartFor_ConvergesOnSameEnd(t *testing.T) {
	// A starts at showStart; B receives the relayed message 3s later with remaining 237.
	startA := StartFor(showStart, 240, 240)
	startB := StartFor(showStart.Add(3*time.Second), 240, 237)

	assert.True(t, startA.Equal(startB))

	later := showStart.Add(100 * time.Second)
	assert.Equal(t, Remaining(later, startA, 240), Remaining(later, startB, 240))
}

func TestStartFor_ClampsRemaining(t *testing.T) {
	assert.True(t, StartFor(showStart, 60, 90).Equal(showStart))
	assert.True(t, StartFor(showStart, 60, -1).Equal(showStart.Add(-60*time.Second)))
}

func TestEngine_StartRejectsNonPositiveDuration(t *testing.T) {
	e := NewEngine(clockwork.NewFakeClockAt(showStart))

	assert.ErrorIs(t, e.Start(garde, 0), ErrInvalidDuration)
	assert.ErrorIs(t, e.ApplyRemoteStart(garde, -1, 0), ErrInvalidDuration)
	assert.Equal(t, Idle, e.Snapshot().State)
}

func TestEngine_LocalStartThenExpire(t *testing.T) {
	clock := clockwork.NewFakeClockAt(showStart)
	e := NewEngine(clock)
	rec := &recorder{}
	e.OnChange(rec.record)

	require.NoError(t, e.Start(garde, 3))

	first := rec.last()
	assert.Equal(t, Running, first.State)
	assert.Equal(t, SourceLocal, first.Source)
	assert.Equal(t, 3, first.Remaining)
	assert.JSONEq(t, string(garde), string(first.Item))

	clock.Advance(1500 * time.Millisecond)
	e.Tick()
	assert.Equal(t, 2, rec.last().Remaining)

	e.Tick() // unchanged remaining is not reported
	assert.Len(t, rec.all(), 2)

	clock.Advance(5 * time.Second)
	e.Tick()
	last := rec.last()
	assert.Equal(t, Expired, last.State)
	assert.Equal(t, 0, last.Remaining)
	assert.Equal(t, SourceTick, last.Source)

	e.Tick()
	assert.Len(t, rec.all(), 3, "expired countdown stays quiet")
}

func TestEngine_RemoteStartBackComputesStart(t *testing.T) {
	clock := clockwork.NewFakeClockAt(showStart)
	e := NewEngine(clock)
	rec := &recorder{}
	e.OnChange(rec.record)

	require.NoError(t, e.ApplyRemoteStart(garde, 240, 200))

	snap := rec.last()
	assert.Equal(t, Running, snap.State)
	assert.Equal(t, SourceRemote, snap.Source)
	assert.Equal(t, 200, snap.Remaining)
	assert.True(t, snap.StartedAt.Equal(showStart.Add(-40*time.Second)))

	clock.Advance(10 * time.Second)
	e.Tick()
	assert.Equal(t, 190, rec.last().Remaining)
}

func TestEngine_RemoteStartWithNothingLeftExpires(t *testing.T) {
	e := NewEngine(clockwork.NewFakeClockAt(showStart))

	require.NoError(t, e.ApplyRemoteStart(garde, 60, 0))

	assert.Equal(t, Expired, e.Snapshot().State)
}

func TestEngine_StopTransitions(t *testing.T) {
	e := NewEngine(clockwork.NewFakeClockAt(showStart))
	rec := &recorder{}
	e.OnChange(rec.record)

	e.Stop()
	assert.Empty(t, rec.all(), "stopping an idle timer is a no-op")

	require.NoError(t, e.Start(garde, 60))
	e.Stop()
	snap := rec.last()
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, SourceLocal, snap.Source)
	assert.Nil(t, snap.Item)

	require.NoError(t, e.Start(garde, 60))
	e.ApplyRemoteStop()
	assert.Equal(t, SourceRemote, rec.last().Source)
	assert.Equal(t, Idle, e.Snapshot().State)
}

func TestEngine_RestartAfterExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(showStart)
	e := NewEngine(clock)

	require.NoError(t, e.Start(garde, 1))
	clock.Advance(2 * time.Second)
	e.Tick()
	require.Equal(t, Expired, e.Snapshot().State)

	require.NoError(t, e.Start(garde, 30))
	assert.Equal(t, Running, e.Snapshot().State)
	assert.Equal(t, 30, e.Snapshot().Remaining)
}

func TestEngine_ListenerRemoval(t *testing.T) {
	e := NewEngine(clockwork.NewFakeClockAt(showStart))
	rec := &recorder{}
	remove := e.OnChange(rec.record)

	require.NoError(t, e.Start(garde, 10))
	remove()
	e.Stop()

	assert.Len(t, rec.all(), 1)
}

func TestEngine_RunTicksAndReleasesListeners(t *testing.T) {
	clock := clockwork.NewFakeClockAt(showStart)
	e := NewEngine(clock)
	rec := &recorder{}
	e.OnChange(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	require.NoError(t, e.Start(garde, 5))
	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		return rec.last().Remaining == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	before := len(rec.all())
	e.Stop()
	assert.Len(t, rec.all(), before, "listeners are released when Run ends")
}

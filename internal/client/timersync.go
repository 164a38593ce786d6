package client

import (
	"encoding/json"
	"log/slog"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/websocket"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/JannisRoesner/PICARD-sub000/internal/timer"
	"github.com/google/uuid"
)

// BindTimer keeps engine in step with the session room: relayed timerUpdate
// frames drive the engine, and local starts and stops are announced. The
// returned func removes both listeners.
func (r *Realtime) BindTimer(engine *timer.Engine, sessionID uuid.UUID) func() {
	removeFrame := r.OnFrame(func(f websocket.Frame) {
		if f.Type != string(domain.EventTimerUpdate) || f.SessionID == nil || *f.SessionID != sessionID {
			return
		}
		applyTimerUpdate(engine, f.Data)
	})

	removeChange := engine.OnChange(func(s timer.Snapshot) {
		if s.Source != timer.SourceLocal {
			return
		}
		var err error
		switch s.State {
		case timer.Running:
			err = r.StartTimer(sessionID, s.Item, s.Total, s.Remaining)
		case timer.Idle:
			err = r.StopTimer(sessionID)
		}
		if err != nil {
			slog.Warn("Failed to announce timer change", "session_id", sessionID, "state", s.State.String(), "error", err)
		}
	})

	return func() {
		removeFrame()
		removeChange()
	}
}

func applyTimerUpdate(engine *timer.Engine, data json.RawMessage) {
	var u websocket.TimerUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		slog.Warn("Ignoring malformed timer update", "error", err)
		return
	}

	switch u.Type {
	case "start":
		if err := engine.ApplyRemoteStart(u.Item, u.Duration, u.Remaining); err != nil {
			slog.Warn("Ignoring timer start", "duration", u.Duration, "error", err)
		}
	case "stop":
		engine.ApplyRemoteStop()
	default:
		slog.Warn("Ignoring unknown timer update", "type", u.Type)
	}
}

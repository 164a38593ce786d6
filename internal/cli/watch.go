package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/websocket"
	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	"github.com/JannisRoesner/PICARD-sub000/internal/client"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/JannisRoesner/PICARD-sub000/internal/timer"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

const (
	defaultServerURL = "http://localhost:8080"
	frameBuffer      = 64
)

var errNoPassword = errors.New("password required (PICARD_PASSWORD env or --password-stdin)")

func NewWatchCommand() *cobra.Command {
	var (
		serverURL     string
		sessionFlag   string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the running order and countdown of a live session",
		Long: `Follow a session in the terminal: the running order, the item on stage and
its countdown, updated live over the websocket. Without --session the view
follows the active session and switches when it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fixed *uuid.UUID
			if sessionFlag != "" {
				id, err := uuid.Parse(sessionFlag)
				if err != nil {
					return fmt.Errorf("invalid --session: %w", err)
				}
				fixed = &id
			}

			password := envOr("", "PICARD_PASSWORD")
			if passwordStdin {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = line
			}
			if password == "" {
				return errNoPassword
			}

			base := envOr(serverURL, "PICARD_URL")
			if base == "" {
				base = defaultServerURL
			}
			api, err := client.NewAPI(base)
			if err != nil {
				return err
			}
			if err := api.Login(cmd.Context(), password); err != nil {
				return err
			}

			rt := client.NewRealtime(api.WebSocketURL(), client.Options{
				Jar:    api.Jar(),
				Origin: api.Origin(),
				Retry:  client.DefaultPolicy(),
			})
			engine := timer.NewEngine(clockwork.NewRealClock())

			w := newWatcher(api, rt, engine, fixed, terminalDrawer(cmd.OutOrStdout()))
			return w.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (or set PICARD_URL env, default "+defaultServerURL+")")
	cmd.Flags().StringVar(&sessionFlag, "session", "", "session ID to follow instead of the active session")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")

	return cmd
}

// terminalDrawer repaints the whole screen for every board.
func terminalDrawer(w io.Writer) func(Board) {
	out := termenv.NewOutput(w)
	renderer := lipgloss.NewRenderer(w)
	return func(b Board) {
		out.ClearScreen()
		_, _ = io.WriteString(out, Render(b, renderer))
	}
}

type sessionReader interface {
	ActiveSession(ctx context.Context) (*uuid.UUID, error)
	Session(ctx context.Context, sessionID uuid.UUID) (*app.SessionView, error)
}

// watcher owns the board. All state changes happen on the run loop.
type watcher struct {
	api    sessionReader
	rt     *client.Realtime
	engine *timer.Engine
	fixed  *uuid.UUID
	draw   func(Board)

	board   Board
	current *uuid.UUID
	unbind  func()
}

func newWatcher(api sessionReader, rt *client.Realtime, engine *timer.Engine, fixed *uuid.UUID, draw func(Board)) *watcher {
	return &watcher{api: api, rt: rt, engine: engine, fixed: fixed, draw: draw}
}

func (w *watcher) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		if w.unbind != nil {
			w.unbind()
		}
		_ = w.rt.Close()
	}()

	frames := make(chan websocket.Frame, frameBuffer)
	removeFrames := w.rt.OnFrame(func(f websocket.Frame) {
		select {
		case frames <- f:
		default:
			slog.Warn("Watch view is behind, dropping frame", "type", f.Type)
		}
	})
	defer removeFrames()

	timerChanged := make(chan struct{}, 1)
	w.engine.OnChange(func(timer.Snapshot) {
		select {
		case timerChanged <- struct{}{}:
		default:
		}
	})

	runErr := make(chan error, 1)
	go func() { runErr <- w.rt.Run(ctx) }()
	go w.engine.Run(ctx)

	w.draw(w.board)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case f := <-frames:
			w.handle(ctx, f)
		case <-timerChanged:
		}
		w.board.Timer = w.engine.Snapshot()
		w.draw(w.board)
	}
}

func (w *watcher) handle(ctx context.Context, f websocket.Frame) {
	switch f.Type {
	case client.FrameConnected:
		w.board.Connected = true
		w.reload(ctx)
	case client.FrameDisconnected:
		w.board.Connected = false
	case string(domain.EventActiveSessionChanged):
		if w.fixed == nil {
			w.reload(ctx)
		}
	case websocket.MsgJoined, websocket.MsgLeft, websocket.MsgError,
		string(domain.EventTimerUpdate), string(domain.EventNoteAdded), string(domain.EventNoteClosed),
		string(domain.EventSessionListChanged):
	default:
		if f.SessionID != nil && w.current != nil && *f.SessionID == *w.current {
			w.reload(ctx)
		}
	}
}

// reload resolves the session to show, moves to its room and refetches it.
func (w *watcher) reload(ctx context.Context) {
	target := w.fixed
	if target == nil {
		active, err := w.api.ActiveSession(ctx)
		if err != nil {
			slog.Warn("Failed to read active session", "error", err)
			return
		}
		target = active
	}
	w.follow(target)

	if target == nil {
		w.board.Session = nil
		return
	}
	session, err := w.api.Session(ctx, *target)
	if err != nil {
		var se *client.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			w.board.Session = nil
			return
		}
		slog.Warn("Failed to load session", "session_id", *target, "error", err)
		return
	}
	w.board.Session = session
}

func (w *watcher) follow(target *uuid.UUID) {
	if sameSession(w.current, target) {
		return
	}

	if w.current != nil {
		w.unbind()
		w.unbind = nil
		if err := w.rt.Leave(*w.current); err != nil {
			slog.Warn("Failed to leave session room", "session_id", *w.current, "error", err)
		}
		w.engine.ApplyRemoteStop()
	}

	w.current = target
	if target == nil {
		return
	}
	if err := w.rt.Join(*target); err != nil {
		slog.Warn("Failed to join session room", "session_id", *target, "error", err)
	}
	w.unbind = w.rt.BindTimer(w.engine, *target)
}

func sameSession(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

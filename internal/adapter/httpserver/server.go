package httpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/config"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
)

type appService interface {
	ListSessions(ctx context.Context) ([]domain.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	CreateSession(ctx context.Context, name string, items []app.ItemInput) (*domain.Session, error)
	RenameSession(ctx context.Context, sessionID uuid.UUID, name string) (*domain.Session, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error

	AddItem(ctx context.Context, sessionID uuid.UUID, in app.ItemInput, insertAfter *int) (*domain.Item, error)
	UpdateItem(ctx context.Context, sessionID, itemID uuid.UUID, in app.ItemInput) (*domain.Item, error)
	DeleteItem(ctx context.Context, sessionID, itemID uuid.UUID) error
	ReorderItems(ctx context.Context, sessionID uuid.UUID, itemIDs []uuid.UUID) ([]domain.Item, error)

	GetActiveSession(ctx context.Context) (*uuid.UUID, error)
	SetActiveSession(ctx context.Context, sessionID uuid.UUID) error
	ClearActiveSession(ctx context.Context) error

	AddNote(ctx context.Context, sessionID uuid.UUID, in app.NoteInput) (*domain.Note, error)
	CloseNote(ctx context.Context, sessionID, noteID uuid.UUID) (*domain.Note, error)
	ListNotes(ctx context.Context, sessionID uuid.UUID, includeClosed bool, recipient string) ([]domain.Note, error)

	UploadMedia(ctx context.Context, r io.Reader, contentType string) (domain.MediaInfo, error)
	OpenMedia(ctx context.Context, key string) (io.ReadCloser, domain.MediaInfo, error)
	PrepareExport(ctx context.Context, sessionID uuid.UUID) (*app.Export, error)
	ImportSession(ctx context.Context, data []byte) (*domain.Session, error)

	PasswordConfigured(ctx context.Context) (bool, error)
	SetupPassword(ctx context.Context, password string) error
	CheckPassword(ctx context.Context, password string) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app appService

	websocketHandler echo.HandlerFunc
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	sessionStore *sessions.CookieStore
	loginLimiter echo.MiddlewareFunc
	healthChecks []HealthCheck
	startTime    time.Time
}

// Deps bundles the optional collaborators of the server. Nil handlers leave
// their routes unregistered.
type Deps struct {
	WebsocketHandler echo.HandlerFunc
	MetricsHandler   http.Handler
	HTTPMetrics      *metrics.HTTPMetrics
	HealthChecks     []HealthCheck
}

func NewServer(cfg *config.Config, app appService, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = echo.ExtractIPDirect()
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	}

	srv := &Server{
		echo:             e,
		config:           cfg,
		app:              app,
		websocketHandler: deps.WebsocketHandler,
		metricsHandler:   deps.MetricsHandler,
		httpMetrics:      deps.HTTPMetrics,
		sessionStore:     setupSessionStore(cfg),
		loginLimiter:     newRateLimiter(loginRatePerSecond, loginBurst),
		healthChecks:     deps.HealthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Session keys
const (
	sessionName             = "picard-session"
	sessionKeyAuthenticated = "authenticated"
	sessionKeyLoginAt       = "login_at"
)

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   !cfg.IsDevelopment(),
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}

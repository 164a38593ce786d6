package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/mediastore"
	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/memory"
	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/config"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var errNotImplemented = errors.New("not implemented")

// --- Mock implementations ---

type mockAppService struct {
	listSessionsFn       func(ctx context.Context) ([]domain.Session, error)
	getSessionFn         func(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	createSessionFn      func(ctx context.Context, name string, items []app.ItemInput) (*domain.Session, error)
	renameSessionFn      func(ctx context.Context, sessionID uuid.UUID, name string) (*domain.Session, error)
	deleteSessionFn      func(ctx context.Context, sessionID uuid.UUID) error
	addItemFn            func(ctx context.Context, sessionID uuid.UUID, in app.ItemInput, insertAfter *int) (*domain.Item, error)
	updateItemFn         func(ctx context.Context, sessionID, itemID uuid.UUID, in app.ItemInput) (*domain.Item, error)
	deleteItemFn         func(ctx context.Context, sessionID, itemID uuid.UUID) error
	reorderItemsFn       func(ctx context.Context, sessionID uuid.UUID, itemIDs []uuid.UUID) ([]domain.Item, error)
	getActiveSessionFn   func(ctx context.Context) (*uuid.UUID, error)
	setActiveSessionFn   func(ctx context.Context, sessionID uuid.UUID) error
	clearActiveSessionFn func(ctx context.Context) error
	addNoteFn            func(ctx context.Context, sessionID uuid.UUID, in app.NoteInput) (*domain.Note, error)
	closeNoteFn          func(ctx context.Context, sessionID, noteID uuid.UUID) (*domain.Note, error)
	listNotesFn          func(ctx context.Context, sessionID uuid.UUID, includeClosed bool, recipient string) ([]domain.Note, error)
	uploadMediaFn        func(ctx context.Context, r io.Reader, contentType string) (domain.MediaInfo, error)
	openMediaFn          func(ctx context.Context, key string) (io.ReadCloser, domain.MediaInfo, error)
	prepareExportFn      func(ctx context.Context, sessionID uuid.UUID) (*app.Export, error)
	importSessionFn      func(ctx context.Context, data []byte) (*domain.Session, error)
	passwordConfiguredFn func(ctx context.Context) (bool, error)
	setupPasswordFn      func(ctx context.Context, password string) error
	checkPasswordFn      func(ctx context.Context, password string) error
}

func (m *mockAppService) ListSessions(ctx context.Context) ([]domain.Session, error) {
	if m.listSessionsFn != nil {
		return m.listSessionsFn(ctx)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, sessionID)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockAppService) CreateSession(ctx context.Context, name string, items []app.ItemInput) (*domain.Session, error) {
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, name, items)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) RenameSession(ctx context.Context, sessionID uuid.UUID, name string) (*domain.Session, error) {
	if m.renameSessionFn != nil {
		return m.renameSessionFn(ctx, sessionID, name)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if m.deleteSessionFn != nil {
		return m.deleteSessionFn(ctx, sessionID)
	}
	return errNotImplemented
}

func (m *mockAppService) AddItem(ctx context.Context, sessionID uuid.UUID, in app.ItemInput, insertAfter *int) (*domain.Item, error) {
	if m.addItemFn != nil {
		return m.addItemFn(ctx, sessionID, in, insertAfter)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) UpdateItem(ctx context.Context, sessionID, itemID uuid.UUID, in app.ItemInput) (*domain.Item, error) {
	if m.updateItemFn != nil {
		return m.updateItemFn(ctx, sessionID, itemID, in)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) DeleteItem(ctx context.Context, sessionID, itemID uuid.UUID) error {
	if m.deleteItemFn != nil {
		return m.deleteItemFn(ctx, sessionID, itemID)
	}
	return errNotImplemented
}

func (m *mockAppService) ReorderItems(ctx context.Context, sessionID uuid.UUID, itemIDs []uuid.UUID) ([]domain.Item, error) {
	if m.reorderItemsFn != nil {
		return m.reorderItemsFn(ctx, sessionID, itemIDs)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) GetActiveSession(ctx context.Context) (*uuid.UUID, error) {
	if m.getActiveSessionFn != nil {
		return m.getActiveSessionFn(ctx)
	}
	return nil, nil
}

func (m *mockAppService) SetActiveSession(ctx context.Context, sessionID uuid.UUID) error {
	if m.setActiveSessionFn != nil {
		return m.setActiveSessionFn(ctx, sessionID)
	}
	return errNotImplemented
}

func (m *mockAppService) ClearActiveSession(ctx context.Context) error {
	if m.clearActiveSessionFn != nil {
		return m.clearActiveSessionFn(ctx)
	}
	return nil
}

func (m *mockAppService) AddNote(ctx context.Context, sessionID uuid.UUID, in app.NoteInput) (*domain.Note, error) {
	if m.addNoteFn != nil {
		return m.addNoteFn(ctx, sessionID, in)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) CloseNote(ctx context.Context, sessionID, noteID uuid.UUID) (*domain.Note, error) {
	if m.closeNoteFn != nil {
		return m.closeNoteFn(ctx, sessionID, noteID)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) ListNotes(ctx context.Context, sessionID uuid.UUID, includeClosed bool, recipient string) ([]domain.Note, error) {
	if m.listNotesFn != nil {
		return m.listNotesFn(ctx, sessionID, includeClosed, recipient)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) UploadMedia(ctx context.Context, r io.Reader, contentType string) (domain.MediaInfo, error) {
	if m.uploadMediaFn != nil {
		return m.uploadMediaFn(ctx, r, contentType)
	}
	return domain.MediaInfo{}, errNotImplemented
}

func (m *mockAppService) OpenMedia(ctx context.Context, key string) (io.ReadCloser, domain.MediaInfo, error) {
	if m.openMediaFn != nil {
		return m.openMediaFn(ctx, key)
	}
	return nil, domain.MediaInfo{}, domain.ErrMediaNotFound
}

func (m *mockAppService) PrepareExport(ctx context.Context, sessionID uuid.UUID) (*app.Export, error) {
	if m.prepareExportFn != nil {
		return m.prepareExportFn(ctx, sessionID)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) ImportSession(ctx context.Context, data []byte) (*domain.Session, error) {
	if m.importSessionFn != nil {
		return m.importSessionFn(ctx, data)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) PasswordConfigured(ctx context.Context) (bool, error) {
	if m.passwordConfiguredFn != nil {
		return m.passwordConfiguredFn(ctx)
	}
	return true, nil
}

func (m *mockAppService) SetupPassword(ctx context.Context, password string) error {
	if m.setupPasswordFn != nil {
		return m.setupPasswordFn(ctx, password)
	}
	return errNotImplemented
}

func (m *mockAppService) CheckPassword(ctx context.Context, password string) error {
	if m.checkPasswordFn != nil {
		return m.checkPasswordFn(ctx, password)
	}
	return app.ErrInvalidPassword
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, domain.Event) error { return nil }

// --- Test helpers ---

const testMaxUploadBytes = 4096

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:         "development",
		Port:           "0",
		SessionSecret:  "test-secret-key-32-bytes-long!!!",
		SessionMaxAge:  time.Hour,
		MaxUploadBytes: testMaxUploadBytes,
	}
}

func newTestServer(t *testing.T, svc appService, opts ...func(*Deps)) *Server {
	t.Helper()
	var deps Deps
	for _, opt := range opts {
		opt(&deps)
	}
	return NewServer(testConfig(), svc, deps)
}

func withHealthChecks(checks ...HealthCheck) func(*Deps) {
	return func(d *Deps) {
		d.HealthChecks = checks
	}
}

// newRealService wires the app layer to the in-memory store and a media
// directory, for tests that exercise whole request flows.
func newRealService(t *testing.T) *app.Service {
	t.Helper()
	media, err := mediastore.New(t.TempDir())
	require.NoError(t, err)
	return app.NewService(memory.NewStore(), discardPublisher{}, media, clockwork.NewRealClock(), nil)
}

// testClient drives the full router. It carries the CSRF cookie and, when
// authenticated, a logged-in session cookie.
type testClient struct {
	t       *testing.T
	srv     *Server
	cookies []*http.Cookie
	csrf    string
}

func newTestClient(t *testing.T, srv *Server, authenticated bool) *testClient {
	t.Helper()
	tc := &testClient{t: t, srv: srv}

	rec := tc.serve(httptest.NewRequest(http.MethodGet, "/api/auth/status", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status authStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotEmpty(t, status.CSRFToken)
	tc.csrf = status.CSRFToken
	tc.cookies = rec.Result().Cookies()

	if authenticated {
		tc.cookies = append(tc.cookies, sessionCookie(t, srv))
	}
	return tc
}

func sessionCookie(t *testing.T, srv *Server) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	session, err := srv.sessionStore.New(req, sessionName)
	require.NoError(t, err)
	session.Values[sessionKeyAuthenticated] = true
	require.NoError(t, session.Save(req, rec))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func (tc *testClient) serve(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range tc.cookies {
		req.AddCookie(c)
	}
	if tc.csrf != "" {
		req.Header.Set("X-CSRF-Token", tc.csrf)
	}
	rec := httptest.NewRecorder()
	tc.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (tc *testClient) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return tc.serve(req)
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

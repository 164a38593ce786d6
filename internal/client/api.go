// Package client talks to a running PICARD server: a small REST client for
// login and read access, and a reconnecting realtime client that keeps the
// local timer engine in sync with the other members of a session room.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/google/uuid"
)

const (
	httpCallTimeout = 10 * time.Second
	csrfHeader      = "X-CSRF-Token"
)

// StatusError is a non-2xx API response.
type StatusError struct {
	Code    int
	Type    apperrors.ErrorType
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded %d", e.Code)
	}
	return fmt.Sprintf("server responded %d: %s", e.Code, e.Message)
}

// API is a cookie-authenticated REST client. Its cookie jar is shared with the
// realtime client so one login covers both.
type API struct {
	base *url.URL
	http *http.Client
	csrf string
}

func NewAPI(baseURL string) (*API, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &API{
		base: base,
		http: &http.Client{Jar: jar, Timeout: httpCallTimeout},
	}, nil
}

func (a *API) Jar() http.CookieJar {
	return a.http.Jar
}

// WebSocketURL returns the ws:// or wss:// address of the realtime endpoint.
func (a *API) WebSocketURL() string {
	u := *a.base
	u.Scheme = "ws"
	if a.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// Origin is the value sent in the websocket Origin header.
func (a *API) Origin() string {
	return a.base.Scheme + "://" + a.base.Host
}

type authStatus struct {
	Authenticated bool   `json:"authenticated"`
	PasswordSet   bool   `json:"passwordSet"`
	CSRFToken     string `json:"csrfToken"`
}

// Login fetches a CSRF token and exchanges the password for a session cookie.
func (a *API) Login(ctx context.Context, password string) error {
	var status authStatus
	if err := a.do(ctx, http.MethodGet, "/api/auth/status", nil, &status); err != nil {
		return fmt.Errorf("failed to read auth status: %w", err)
	}
	a.csrf = status.CSRFToken

	body := map[string]string{"password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", body, nil); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

type activeSessionResponse struct {
	SessionID *uuid.UUID `json:"sessionId"`
}

// ActiveSession returns the active session id, or nil when none is set.
func (a *API) ActiveSession(ctx context.Context) (*uuid.UUID, error) {
	var resp activeSessionResponse
	if err := a.do(ctx, http.MethodGet, "/api/active-session", nil, &resp); err != nil {
		return nil, err
	}
	return resp.SessionID, nil
}

func (a *API) Session(ctx context.Context, sessionID uuid.UUID) (*app.SessionView, error) {
	var session app.SessionView
	if err := a.do(ctx, http.MethodGet, "/api/session/"+sessionID.String(), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.csrf != "" {
		req.Header.Set(csrfHeader, a.csrf)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{Code: resp.StatusCode}
	var body apperrors.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil {
		se.Type = body.Type
		se.Message = body.Error
	}
	return se
}

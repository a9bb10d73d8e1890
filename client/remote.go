// Package client implements the chat capabilities against a dischat server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dischat/models"
	"dischat/realtime"
	"dischat/sessionstore"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrNoSession indicates nobody is signed in on this client.
	ErrNoSession = sessionstore.ErrNoSession
	// ErrSessionExpired indicates the saved token is past its expiry.
	ErrSessionExpired = errors.New("client: session expired")
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// SessionStore persists the signed-in session.
type SessionStore interface {
	Load() (models.Session, error)
	Save(session models.Session) error
	Clear() error
}

// Options configures a Remote.
type Options struct {
	BaseURL    string
	Sessions   SessionStore
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *zerolog.Logger
}

// Remote talks to a dischat server on behalf of one signed-in user.
type Remote struct {
	base     *url.URL
	sessions SessionStore
	http     *http.Client
	now      func() time.Time
	logger   zerolog.Logger
}

// New validates options and returns a Remote. Without a SessionStore the
// session is kept in memory only.
func New(options Options) (*Remote, error) {
	if strings.TrimSpace(options.BaseURL) == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(options.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base URL scheme %q", base.Scheme)
	}
	if options.Sessions == nil {
		options.Sessions = &memorySessions{}
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	logger := log.Logger
	if options.Logger != nil {
		logger = *options.Logger
	}

	return &Remote{
		base:     base,
		sessions: options.Sessions,
		http:     options.HTTPClient,
		now:      options.Now,
		logger:   logger.With().Str("component", "client").Logger(),
	}, nil
}

// BaseURL returns the server address.
func (r *Remote) BaseURL() string {
	return r.base.String()
}

// Session returns the saved session if it is still valid.
func (r *Remote) Session() (models.Session, error) {
	session, err := r.sessions.Load()
	if err != nil {
		return models.Session{}, err
	}
	if session.Expired(r.now()) {
		return models.Session{}, ErrSessionExpired
	}
	return session, nil
}

// CurrentUser resolves the saved session against the server.
func (r *Remote) CurrentUser(ctx context.Context) (models.Identity, error) {
	var identity models.Identity
	if err := r.authed(ctx, http.MethodGet, "/auth/v1/user", nil, nil, &identity); err != nil {
		return models.Identity{}, err
	}
	return identity, nil
}

// SignUp registers and saves the new session.
func (r *Remote) SignUp(ctx context.Context, email, password string) (models.Session, error) {
	return r.signIn(ctx, "/auth/v1/signup", email, password)
}

// SignIn authenticates and saves the session.
func (r *Remote) SignIn(ctx context.Context, email, password string) (models.Session, error) {
	return r.signIn(ctx, "/auth/v1/token", email, password)
}

func (r *Remote) signIn(ctx context.Context, path, email, password string) (models.Session, error) {
	body := map[string]string{"email": email, "password": password}
	var session models.Session
	if err := r.do(ctx, http.MethodPost, path, nil, "", body, &session); err != nil {
		return models.Session{}, err
	}
	if err := r.sessions.Save(session); err != nil {
		return models.Session{}, fmt.Errorf("save session: %w", err)
	}
	r.logger.Debug().Str("user_id", session.User.ID).Msg("session saved")
	return session, nil
}

// SignOut revokes the token on the server and forgets it locally. The local
// session is cleared even if the server refuses.
func (r *Remote) SignOut(ctx context.Context) error {
	session, err := r.sessions.Load()
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil
		}
		return err
	}

	remoteErr := r.do(ctx, http.MethodPost, "/auth/v1/logout", nil, session.AccessToken, nil, nil)
	var apiErr *APIError
	if errors.As(remoteErr, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		remoteErr = nil
	}
	if err := r.sessions.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return remoteErr
}

// ListUsers returns every profile except excludeID's.
func (r *Remote) ListUsers(ctx context.Context, excludeID string) ([]models.User, error) {
	query := url.Values{}
	if excludeID != "" {
		query.Set("exclude", excludeID)
	}
	var users []models.User
	if err := r.authed(ctx, http.MethodGet, "/rest/v1/users", query, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// InsertUser creates the signed-in user's profile row.
func (r *Remote) InsertUser(ctx context.Context, user models.User) (models.User, error) {
	var stored models.User
	if err := r.authed(ctx, http.MethodPost, "/rest/v1/users", nil, user, &stored); err != nil {
		return models.User{}, err
	}
	return stored, nil
}

// Conversation returns the history with peerID, oldest first.
func (r *Remote) Conversation(ctx context.Context, peerID string) ([]models.Message, error) {
	query := url.Values{"peer": []string{peerID}}
	var history []models.Message
	if err := r.authed(ctx, http.MethodGet, "/rest/v1/messages", query, nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// InsertMessage sends msg as the signed-in user.
func (r *Remote) InsertMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	var stored models.Message
	if err := r.authed(ctx, http.MethodPost, "/rest/v1/messages", nil, msg, &stored); err != nil {
		return models.Message{}, err
	}
	return stored, nil
}

// MarkReceived stamps received_time on the signed-in user's inbound rows.
func (r *Remote) MarkReceived(ctx context.Context) (int64, error) {
	return r.markReceipt(ctx, "received_time")
}

// MarkRead stamps read_time on the signed-in user's inbound rows.
func (r *Remote) MarkRead(ctx context.Context) (int64, error) {
	return r.markReceipt(ctx, "read_time")
}

func (r *Remote) markReceipt(ctx context.Context, column string) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	body := map[string]string{"column": column}
	if err := r.authed(ctx, http.MethodPatch, "/rest/v1/messages/receipts", nil, body, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// Subscribe opens the realtime insert feed.
func (r *Remote) Subscribe(ctx context.Context) (realtime.Subscription, error) {
	session, err := r.Session()
	if err != nil {
		return nil, err
	}

	feedURL := *r.base
	feedURL.Path = strings.TrimRight(feedURL.Path, "/") + "/realtime/v1/messages"
	if feedURL.Scheme == "https" {
		feedURL.Scheme = "wss"
	} else {
		feedURL.Scheme = "ws"
	}
	return realtime.Dial(ctx, feedURL.String(), session.AccessToken)
}

func (r *Remote) authed(ctx context.Context, method, path string, query url.Values, body, out any) error {
	session, err := r.Session()
	if err != nil {
		return err
	}
	return r.do(ctx, method, path, query, session.AccessToken, body, out)
}

func (r *Remote) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	target := *r.base
	target.Path = strings.TrimRight(target.Path, "/") + path
	target.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type memorySessions struct {
	mu      sync.Mutex
	session *models.Session
}

func (m *memorySessions) Load() (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return models.Session{}, ErrNoSession
	}
	return *m.session, nil
}

func (m *memorySessions) Save(session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &session
	return nil
}

func (m *memorySessions) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

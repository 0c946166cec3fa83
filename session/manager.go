// Package session owns the persisted credential pair and resolves
// authentication failures: a single shared refresh-token exchange, or a forced
// logout with a redirect to the login screen when the exchange cannot succeed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/go-authgate/triply-cli/credstore"
)

// Storage keys.
const (
	KeyCredential   = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyProfile      = "user_data"
)

const (
	// DefaultHeaderName carries the bare access token on authenticated calls.
	DefaultHeaderName = "X-Access-Token"

	refreshPath           = "/authentication/refresh-token"
	defaultRefreshTimeout = 10 * time.Second
)

// ErrNoRefreshToken means there is nothing to exchange for a new credential.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// Doer performs the refresh-token exchange. *retry.Client from
// github.com/appleboy/go-httpretry satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// LoginRedirector replaces the current screen with the login screen.
type LoginRedirector interface {
	RedirectToLogin(ctx context.Context)
}

// RedirectFunc adapts a function to LoginRedirector.
type RedirectFunc func(ctx context.Context)

func (f RedirectFunc) RedirectToLogin(ctx context.Context) { f(ctx) }

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithRedirector sets the action run when the session ends on a failed refresh.
func WithRedirector(r LoginRedirector) Option {
	return func(m *Manager) { m.redirect = r }
}

// WithHeaderName overrides the access token header name.
func WithHeaderName(name string) Option {
	return func(m *Manager) { m.headerName = name }
}

// WithClock overrides the time source used for expiry stamping and checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRefreshTimeout bounds a single refresh-token exchange.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.refreshTimeout = d }
}

// flight is one in-progress shared operation. ok is written before done is
// closed and read only after.
type flight struct {
	done chan struct{}
	ok   bool
}

// Manager is the single source of truth for the current credential.
type Manager struct {
	store          credstore.Store
	doer           Doer
	refreshURL     string
	headerName     string
	refreshTimeout time.Duration
	now            func() time.Time
	redirect       LoginRedirector
	log            *zap.Logger

	mu       sync.Mutex
	refresh  *flight // nil when idle
	resolve  *flight // nil when no auth failure is being handled
	endHooks []func(context.Context)
}

// New returns a Manager persisting to store and refreshing against the user
// service at userServiceURL.
func New(store credstore.Store, doer Doer, userServiceURL string, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		doer:           doer,
		refreshURL:     strings.TrimRight(userServiceURL, "/") + refreshPath,
		headerName:     DefaultHeaderName,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
		redirect:       RedirectFunc(func(context.Context) {}),
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnSessionEnd registers fn to run, in registration order, whenever the session
// ends (explicit logout or an unrecoverable authentication failure).
func (m *Manager) OnSessionEnd(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endHooks = append(m.endHooks, fn)
}

// Credential returns the stored credential, or nil when there is none. Read
// failures are logged and treated as no credential.
func (m *Manager) Credential(ctx context.Context) *Credential {
	raw, err := m.store.Get(ctx, KeyCredential)
	if errors.Is(err, credstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		m.log.Error("failed to read stored credential", zap.Error(err))
		return nil
	}

	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		m.log.Error("failed to decode stored credential", zap.Error(err))
		return nil
	}
	return &cred
}

// StoreCredential persists cred, replacing the previous credential wholesale.
// ExpiresAt is stamped from ExpiresIn. Persistence failures are returned.
func (m *Manager) StoreCredential(ctx context.Context, cred Credential) error {
	if cred.ExpiresIn > 0 {
		cred.ExpiresAt = m.now().Add(time.Duration(cred.ExpiresIn) * time.Second)
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	// the bare refresh token entry is read by tooling that does not parse JSON
	if err := m.store.SetMany(ctx, map[string]string{
		KeyCredential:   string(data),
		KeyRefreshToken: cred.RefreshToken,
	}); err != nil {
		m.log.Error("failed to store credential", zap.Error(err))
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// AuthHeader returns the header carrying the current access token, or nil when
// there is no credential. Callers proceed unauthenticated on nil.
func (m *Manager) AuthHeader(ctx context.Context) http.Header {
	cred := m.Credential(ctx)
	if cred == nil || cred.AccessToken == "" {
		return nil
	}
	h := make(http.Header, 1)
	h.Set(m.headerName, cred.AccessToken)
	return h
}

// IsAuthenticated reports whether a credential is stored and its access token
// has not passed its recorded expiry.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	cred := m.Credential(ctx)
	return cred != nil && !cred.Expired(m.now())
}

// Refreshing reports whether a refresh-token exchange is in flight.
func (m *Manager) Refreshing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh != nil
}

// Refresh exchanges the stored refresh token for a new credential. Concurrent
// callers share one exchange and its result. The exchange is not canceled when
// the triggering caller's context is; it is bounded by its own timeout.
func (m *Manager) Refresh(ctx context.Context) bool {
	return m.join(&m.refresh, "refresh", func() bool {
		return m.performRefresh(ctx)
	})
}

// HandleAuthFailure resolves a rejected credential: it refreshes, and when that
// fails it ends the session and redirects to login. It returns true when the
// caller should retry. Concurrent callers share one resolution, so a failed
// refresh produces exactly one logout and one redirect. The resolution is not
// canceled with ctx; it never panics.
func (m *Manager) HandleAuthFailure(ctx context.Context) bool {
	return m.join(&m.resolve, "auth failure", func() bool {
		return m.resolveAuthFailure(ctx)
	})
}

// ClearCredential removes every persisted session key.
func (m *Manager) ClearCredential(ctx context.Context) error {
	if err := m.store.Remove(ctx, KeyCredential, KeyRefreshToken, KeyProfile); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// Logout ends the session. Failures are logged, never returned.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.endSession(ctx); err != nil {
		m.log.Error("error during logout", zap.Error(err))
	}
}

// StoreProfile caches the signed-in user's profile next to the credential.
func (m *Manager) StoreProfile(ctx context.Context, profile any) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := m.store.SetMany(ctx, map[string]string{KeyProfile: string(data)}); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

// LoadProfile decodes the cached profile into dst and reports whether one was
// found. Read failures are logged and reported as not found.
func (m *Manager) LoadProfile(ctx context.Context, dst any) bool {
	raw, err := m.store.Get(ctx, KeyProfile)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			m.log.Error("failed to read cached profile", zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		m.log.Error("failed to decode cached profile", zap.Error(err))
		return false
	}
	return true
}

// join runs fn as the single flight stored in *slot, or waits for the one
// already running and returns its result.
func (m *Manager) join(slot **flight, name string, fn func() bool) bool {
	m.mu.Lock()
	if f := *slot; f != nil {
		m.mu.Unlock()
		m.log.Debug(name+" already in progress, waiting for it")
		<-f.done
		return f.ok
	}
	f := &flight{done: make(chan struct{})}
	*slot = f
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		*slot = nil
		m.mu.Unlock()
		close(f.done)
	}()

	f.ok = fn()
	return f.ok
}

func (m *Manager) resolveAuthFailure(ctx context.Context) (ok bool) {
	// the logout outlives the caller whose request hit the 401
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			m.log.Error("error handling authentication failure", zap.Any("panic", r))
			m.fallbackEndSession(ctx)
			ok = false
		}
	}()

	if m.Refresh(ctx) {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	m.log.Info("token refresh failed, clearing session and redirecting to login")
	if err := m.endSession(ctx); err != nil {
		m.log.Error("error ending session after failed refresh", zap.Error(err))
		m.fallbackEndSession(ctx)
		return false
	}
	m.redirect.RedirectToLogin(ctx)
	return false
}

// fallbackEndSession retries the clear and redirect once more, swallowing
// anything that goes wrong.
func (m *Manager) fallbackEndSession(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("error in fallback clear/redirect", zap.Any("panic", r))
		}
	}()

	if err := m.ClearCredential(ctx); err != nil {
		m.log.Error("error in fallback clear", zap.Error(err))
	}
	m.redirect.RedirectToLogin(ctx)
}

// endSession runs the session-end callbacks, then clears storage.
func (m *Manager) endSession(ctx context.Context) error {
	m.mu.Lock()
	hooks := append([]func(context.Context){}, m.endHooks...)
	m.mu.Unlock()

	for i, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("session end callback panicked", zap.Int("index", i), zap.Any("panic", r))
				}
			}()
			fn(ctx)
		}()
	}

	return m.ClearCredential(ctx)
}

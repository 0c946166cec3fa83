package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/go-authgate/triply-cli/api"
	"github.com/go-authgate/triply-cli/credstore"
	"github.com/go-authgate/triply-cli/netmon"
	"github.com/go-authgate/triply-cli/session"
	"github.com/go-authgate/triply-cli/tui"
)

// recorder counts displayer events. Redirects arrive from request goroutines.
type recorder struct {
	tui.NoopDisplayer

	mu            sync.Mutex
	loginRequired int
	signedIn      bool
	home          tui.Home
	search        []string
	tripID        string
	network       []netmon.Entry
}

func (r *recorder) LoginRequired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loginRequired++
}

func (r *recorder) SignedIn(time.Duration)                         { r.signedIn = true }
func (r *recorder) HomeLoaded(h tui.Home)                          { r.home = h }
func (r *recorder) TripCreated(id string)                          { r.tripID = id }
func (r *recorder) SearchResults(_ string, cities []string, _ int) { r.search = cities }
func (r *recorder) NetworkLog(entries []netmon.Entry)              { r.network = entries }

func envelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

// triplyBackend serves every service from one mux. Protected routes accept
// only the current access token.
type triplyBackend struct {
	*httptest.Server
	token     atomic.Value
	revoked   atomic.Bool
	refreshes atomic.Int32
}

func newTriplyBackend(t *testing.T) *triplyBackend {
	t.Helper()
	b := &triplyBackend{}
	b.token.Store("A1")

	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(session.DefaultHeaderName) != b.token.Load().(string) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/authentication/triply/login", func(w http.ResponseWriter, r *http.Request) {
		envelope(w, map[string]any{"token": map[string]any{
			"accessToken": b.token.Load(), "refreshToken": "R1", "expiresIn": 3600,
		}})
	})
	mux.HandleFunc("POST /users/authentication/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		b.refreshes.Add(1)
		if b.revoked.Load() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		envelope(w, map[string]any{"token": map[string]any{
			"accessToken": b.token.Load(), "refreshToken": "R2", "expiresIn": 3600,
		}})
	})
	mux.HandleFunc("GET /users/profile/me", protected(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, api.Profile{ID: "u-1", FirstName: "Ana"})
	}))
	mux.HandleFunc("GET /travel/cities/popular", protected(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, []api.City{{ID: 1, Name: "Lisbon", Country: &api.Country{Name: "Portugal"}}})
	}))
	mux.HandleFunc("GET /travel/cities/search", protected(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, api.SearchResult{Cities: []api.City{{ID: 2, Name: "Porto"}}, Total: 1})
	}))
	mux.HandleFunc("POST /travel/trips", protected(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, api.CreateTripResponse{TripID: "trip-42"})
	}))
	mux.HandleFunc("GET /recommendations/criterias", protected(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, []api.Criteria{{ID: 1, Name: "Beaches"}})
	}))

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func testConfig(t *testing.T, b *triplyBackend) *Config {
	t.Helper()
	return &Config{
		UserServiceURL:           b.URL + "/users",
		TravelServiceURL:         b.URL + "/travel",
		RecommendationServiceURL: b.URL + "/recommendations",
		APITimeout:               5 * time.Second,
		Store:                    storeFile,
		StorePath:                filepath.Join(t.TempDir(), "session.json"),
		NetworkMonitor:           true,
	}
}

func newTestApp(t *testing.T, cfg *Config, d tui.Displayer) *app {
	t.Helper()
	a, closeStore, err := newApp(context.Background(), cfg, d, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeStore() })
	return a
}

func TestApp_SignInAndPlanTrip(t *testing.T) {
	b := newTriplyBackend(t)
	cfg := testConfig(t, b)
	cfg.Email, cfg.Password = "ana@example.com", "secret"
	d := &recorder{}
	a := newTestApp(t, cfg, d)

	trip, err := tripFlags{days: 3, budget: 800}.request(1, time.Now())
	require.NoError(t, err)

	require.NoError(t, a.run(context.Background(), &Actions{Search: "por", Trip: trip}))
	a.showNetwork()

	assert.True(t, d.signedIn)
	assert.Equal(t, "Ana", d.home.UserName)
	assert.Equal(t, []string{"Lisbon (Portugal)"}, d.home.Popular)
	assert.Equal(t, []string{"Beaches"}, d.home.Criteria)
	assert.Equal(t, []string{"Porto"}, d.search)
	assert.Equal(t, "trip-42", d.tripID)
	assert.Zero(t, d.loginRequired)

	// login, three home reads, search, trip
	assert.Len(t, d.network, 6)
	for _, e := range d.network {
		assert.Equal(t, netmon.StateSuccess, e.State, e.URL)
		for _, v := range e.RequestHeader {
			assert.NotEqual(t, b.token.Load(), v, "access token leaked into the network log")
		}
	}
}

func TestApp_ExpiredTokenRefreshesOnceDuringHomeLoad(t *testing.T) {
	b := newTriplyBackend(t)
	cfg := testConfig(t, b)
	d := &recorder{}
	a := newTestApp(t, cfg, d)

	ctx := context.Background()
	require.NoError(t, a.session.StoreCredential(ctx, session.Credential{
		AccessToken: "A1", RefreshToken: "R1", ExpiresIn: 3600,
	}))
	b.token.Store("A2")

	require.NoError(t, a.run(ctx, &Actions{}))

	assert.Equal(t, int32(1), b.refreshes.Load())
	assert.Equal(t, "Ana", d.home.UserName)
	assert.Equal(t, "A2", a.session.Credential(ctx).AccessToken)
}

func TestApp_RevokedRefreshTokenRedirectsOnce(t *testing.T) {
	b := newTriplyBackend(t)
	cfg := testConfig(t, b)
	d := &recorder{}
	a := newTestApp(t, cfg, d)

	ctx := context.Background()
	require.NoError(t, a.session.StoreCredential(ctx, session.Credential{
		AccessToken: "A1", RefreshToken: "R1", ExpiresIn: 3600,
	}))
	b.token.Store("A2")
	b.revoked.Store(true)

	err := a.run(ctx, &Actions{})
	require.ErrorIs(t, err, errSessionEnded)

	assert.Equal(t, 1, d.loginRequired)
	assert.Equal(t, int32(1), b.refreshes.Load())
	assert.Nil(t, a.session.Credential(ctx))

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Nil(t, a.home)
}

func TestApp_NoSessionWithoutCredentials(t *testing.T) {
	b := newTriplyBackend(t)
	d := &recorder{}
	a := newTestApp(t, testConfig(t, b), d)

	err := a.run(context.Background(), &Actions{})
	require.ErrorIs(t, err, errLoginRequired)
	assert.Equal(t, 1, d.loginRequired)
}

func TestApp_Logout(t *testing.T) {
	b := newTriplyBackend(t)
	a := newTestApp(t, testConfig(t, b), &recorder{})

	ctx := context.Background()
	require.NoError(t, a.session.StoreCredential(ctx, session.Credential{
		AccessToken: "A1", RefreshToken: "R1", ExpiresIn: 3600,
	}))

	require.NoError(t, a.run(ctx, &Actions{Logout: true}))
	assert.Nil(t, a.session.Credential(ctx))
	_, err := a.store.Get(ctx, session.KeyRefreshToken)
	assert.ErrorIs(t, err, credstore.ErrNotFound)
}

func TestApp_SQLiteStore(t *testing.T) {
	b := newTriplyBackend(t)
	cfg := testConfig(t, b)
	cfg.Store = storeSQLite
	cfg.StorePath = filepath.Join(t.TempDir(), "session.db")
	cfg.Email, cfg.Password = "ana@example.com", "secret"

	a := newTestApp(t, cfg, &recorder{})
	require.NoError(t, a.run(context.Background(), &Actions{}))

	rt, err := a.store.Get(context.Background(), session.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "R1", rt)
}

func TestRun_ReportsOutcome(t *testing.T) {
	b := newTriplyBackend(t)
	cfg := testConfig(t, b)
	cfg.Email, cfg.Password = "ana@example.com", "secret"

	d := &recorder{}
	require.NoError(t, run(d, cfg, &Actions{}, zaptest.NewLogger(t)))
	assert.NotEmpty(t, d.network)
}

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/go-authgate/triply-cli/api"
	"github.com/go-authgate/triply-cli/credstore"
	"github.com/go-authgate/triply-cli/httpclient"
	"github.com/go-authgate/triply-cli/netmon"
	"github.com/go-authgate/triply-cli/session"
	"github.com/go-authgate/triply-cli/tui"
)

var (
	// errLoginRequired means there is no usable session and no credentials to
	// sign in with.
	errLoginRequired = errors.New("not signed in: provide -email and -password")
	// errSessionEnded means the session was ended by an unrecoverable
	// authentication failure during the run.
	errSessionEnded = errors.New("session ended, sign in again")
)

// app wires the session stack for one run.
type app struct {
	cfg      *Config
	d        tui.Displayer
	log      *zap.Logger
	store    credstore.Store
	session  *session.Manager
	services *api.Services
	monitor  *netmon.Monitor

	mu   sync.Mutex
	home *tui.Home
}

// newApp builds the stack. The returned close func releases the store.
func newApp(ctx context.Context, cfg *Config, d tui.Displayer, log *zap.Logger) (*app, func() error, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	// the refresh exchange retries transient failures; API calls do not
	refresher, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(&http.Client{Transport: transport}),
	)
	if err != nil {
		_ = closeStore()
		return nil, nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	a := &app{
		cfg:     cfg,
		d:       d,
		log:     log,
		store:   store,
		monitor: netmon.New(cfg.NetworkMonitor),
	}

	a.session = session.New(store, refresher, cfg.UserServiceURL,
		session.WithLogger(log.Named("session")),
		session.WithRedirector(tui.LoginRedirect{D: d}),
	)
	a.session.OnSessionEnd(a.forget)

	client := httpclient.New(&http.Client{Transport: transport}, a.session,
		httpclient.WithTimeout(cfg.APITimeout),
		httpclient.WithObserver(a.monitor),
		httpclient.WithLogger(log.Named("http")),
	)
	a.services = api.New(client, a.session, cfg.endpoints(), log.Named("api"))

	return a, closeStore, nil
}

func openStore(ctx context.Context, cfg *Config) (credstore.Store, func() error, error) {
	switch cfg.Store {
	case storeSQLite:
		s, err := credstore.OpenSQLite(ctx, cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return credstore.NewFileStore(cfg.StorePath), func() error { return nil }, nil
	}
}

// forget drops in-memory user data when the session ends.
func (a *app) forget(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.home = nil
	a.log.Info("cleared in-memory home data")
}

func (a *app) run(ctx context.Context, acts *Actions) error {
	if acts.Logout {
		a.services.Auth.Logout(ctx)
		a.d.LoggedOut()
		return nil
	}

	if err := a.ensureSession(ctx); err != nil {
		return err
	}

	a.d.LoadingHome()
	home, err := a.loadHome(ctx)
	if err != nil {
		return a.fail(err)
	}
	a.d.HomeLoaded(home)

	if acts.Search != "" {
		res := a.services.City.Search(ctx, acts.Search)
		a.d.SearchResults(acts.Search, cityNames(res.Cities), res.Total)
	}

	if acts.CountryID != "" {
		cities := a.services.Trip.AdditionalCities(ctx, acts.CountryID, acts.Exclude)
		a.d.AdditionalCities(acts.CountryID, cityNames(cities))
	}

	if acts.Trip != nil {
		a.d.CreatingTrip()
		resp, err := a.services.Trip.Create(ctx, *acts.Trip)
		if err != nil {
			a.d.TripFailed(err)
			return a.fail(err)
		}
		a.d.TripCreated(resp.TripID)
	}

	return nil
}

// ensureSession reports the stored session and signs in when there is none.
func (a *app) ensureSession(ctx context.Context) error {
	if cred := a.session.Credential(ctx); cred != nil {
		a.d.SessionFound()
		if a.session.IsAuthenticated(ctx) {
			a.d.SessionValid()
		} else {
			a.d.SessionExpired()
		}
		return nil
	}

	a.d.NoSession()
	if a.cfg.Email == "" || a.cfg.Password == "" {
		a.d.LoginRequired()
		return errLoginRequired
	}

	a.d.SigningIn(a.cfg.Email)
	resp, err := a.services.Auth.Login(ctx, a.cfg.Email, a.cfg.Password)
	if err != nil {
		a.d.SignInFailed(err)
		return err
	}
	a.d.SignedIn(time.Duration(resp.Token.ExpiresIn) * time.Second)
	return nil
}

// loadHome runs the home screen's independent reads concurrently. Only the
// profile can fail the load; the other reads degrade to empty.
func (a *app) loadHome(ctx context.Context) (tui.Home, error) {
	var (
		profile  *api.Profile
		popular  []api.City
		criteria []api.Criteria
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := a.services.Profile.Info(gctx)
		if err != nil {
			if errors.Is(err, httpclient.ErrSessionExpired) {
				return err
			}
			cached, ok := a.services.Profile.Cached(gctx)
			if !ok {
				a.log.Warn("profile unavailable", zap.Error(err))
				return nil
			}
			p = cached
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		popular = a.services.City.Popular(gctx)
		return nil
	})
	g.Go(func() error {
		criteria = a.services.Recommendation.Criteria(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return tui.Home{}, err
	}

	home := tui.Home{
		Popular:  cityNames(popular),
		Criteria: make([]string, 0, len(criteria)),
	}
	if profile != nil {
		home.UserName = profile.FirstName
	}
	for _, c := range criteria {
		home.Criteria = append(home.Criteria, c.Name)
	}

	a.mu.Lock()
	a.home = &home
	a.mu.Unlock()
	return home, nil
}

// fail maps an ended session to errSessionEnded; the redirect has already
// been shown.
func (a *app) fail(err error) error {
	if errors.Is(err, httpclient.ErrSessionExpired) {
		return errSessionEnded
	}
	return err
}

// showNetwork prints the network log when the monitor is enabled.
func (a *app) showNetwork() {
	if a.monitor.Enabled() {
		a.d.NetworkLog(a.monitor.Entries())
	}
}

func cityNames(cities []api.City) []string {
	names := make([]string, 0, len(cities))
	for _, c := range cities {
		name := c.Name
		if c.Country != nil && c.Country.Name != "" {
			name += " (" + c.Country.Name + ")"
		}
		names = append(names, name)
	}
	return names
}

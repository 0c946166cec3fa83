package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/go-authgate/triply-cli/api"
)

const (
	storeFile   = "file"
	storeSQLite = "sqlite"

	dateLayout = "2006-01-02"
)

// Config is the runtime configuration. Priority: flag > env > default.
type Config struct {
	UserServiceURL           string        `env:"USER_SERVICE_URL"           envDefault:"http://localhost:3001"`
	TravelServiceURL         string        `env:"TRAVEL_SERVICE_URL"         envDefault:"http://localhost:3002"`
	RecommendationServiceURL string        `env:"RECOMMENDATION_SERVICE_URL" envDefault:"http://localhost:3003"`
	APITimeout               time.Duration `env:"API_TIMEOUT"                envDefault:"10s"`

	Environment    string `env:"TRIPLY_ENV"             envDefault:"development"`
	Store          string `env:"TRIPLY_STORE"           envDefault:"file"`
	StorePath      string `env:"TRIPLY_STORE_PATH"      envDefault:".triply-session.json"`
	LogFile        string `env:"TRIPLY_LOG_FILE"        envDefault:"triply.log"`
	NetworkMonitor bool   `env:"ENABLE_NETWORK_MONITOR"`

	Email    string `env:"TRIPLY_EMAIL"`
	Password string `env:"TRIPLY_PASSWORD"`
}

// Actions are the one-shot operations requested on the command line.
type Actions struct {
	Logout    bool
	Search    string
	CountryID string
	Exclude   []int
	Trip      *api.CreateTripRequest
}

// loadConfig reads .env, then the environment, then args.
func loadConfig(args []string, stderr io.Writer) (*Config, *Actions, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, nil, fmt.Errorf("parse env: %w", err)
	}

	var (
		acts     Actions
		exclude  string
		tripCity int
		trip     tripFlags
	)

	fs := flag.NewFlagSet("triply", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.UserServiceURL, "user-service-url", cfg.UserServiceURL, "user service base URL (or USER_SERVICE_URL env)")
	fs.StringVar(&cfg.TravelServiceURL, "travel-service-url", cfg.TravelServiceURL, "travel service base URL (or TRAVEL_SERVICE_URL env)")
	fs.StringVar(&cfg.RecommendationServiceURL, "recommendation-service-url", cfg.RecommendationServiceURL, "recommendation service base URL (or RECOMMENDATION_SERVICE_URL env)")
	fs.DurationVar(&cfg.APITimeout, "timeout", cfg.APITimeout, "default per-request timeout (or API_TIMEOUT env)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "credential store backend: file or sqlite (or TRIPLY_STORE env)")
	fs.StringVar(&cfg.StorePath, "store-path", cfg.StorePath, "credential store location (or TRIPLY_STORE_PATH env)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file (or TRIPLY_LOG_FILE env)")
	fs.BoolVar(&cfg.NetworkMonitor, "network-monitor", cfg.NetworkMonitor, "print the network log at exit (or ENABLE_NETWORK_MONITOR env)")
	fs.StringVar(&cfg.Email, "email", cfg.Email, "account email used to sign in (or TRIPLY_EMAIL env)")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "account password (or TRIPLY_PASSWORD env)")

	fs.BoolVar(&acts.Logout, "logout", false, "end the stored session and exit")
	fs.StringVar(&acts.Search, "search", "", "search cities by name")
	fs.StringVar(&acts.CountryID, "country", "", "suggest more cities in this country id")
	fs.StringVar(&exclude, "exclude", "", "comma-separated city ids to leave out of -country suggestions")
	fs.IntVar(&tripCity, "trip-city", 0, "create a trip to this city id")
	fs.StringVar(&trip.start, "trip-start", "", "trip start date, "+dateLayout+" (default: tomorrow)")
	fs.IntVar(&trip.days, "trip-days", 3, "trip duration in days")
	fs.IntVar(&trip.budget, "trip-budget", 1000, "trip budget")
	fs.StringVar(&trip.criteria, "trip-criteria", "", "comma-separated criteria ids")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	ids, err := parseIDs(exclude)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid -exclude: %w", err)
	}
	acts.Exclude = ids

	if tripCity != 0 {
		req, err := trip.request(tripCity, time.Now())
		if err != nil {
			return nil, nil, err
		}
		acts.Trip = req
	}

	return cfg, &acts, nil
}

func (c *Config) validate() error {
	for name, u := range map[string]string{
		"USER_SERVICE_URL":           c.UserServiceURL,
		"TRAVEL_SERVICE_URL":         c.TravelServiceURL,
		"RECOMMENDATION_SERVICE_URL": c.RecommendationServiceURL,
	} {
		if err := validateServerURL(u); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.Store != storeFile && c.Store != storeSQLite {
		return fmt.Errorf("store must be %q or %q, got: %q", storeFile, storeSQLite, c.Store)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %s", c.APITimeout)
	}
	return nil
}

// plaintextServices lists the service URLs that would send tokens unencrypted.
func (c *Config) plaintextServices() []string {
	var out []string
	for _, u := range []string{c.UserServiceURL, c.TravelServiceURL, c.RecommendationServiceURL} {
		if strings.HasPrefix(strings.ToLower(u), "http://") {
			out = append(out, u)
		}
	}
	return out
}

func (c *Config) endpoints() api.Endpoints {
	return api.Endpoints{
		User:           c.UserServiceURL,
		Travel:         c.TravelServiceURL,
		Recommendation: c.RecommendationServiceURL,
	}
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

type tripFlags struct {
	start    string
	days     int
	budget   int
	criteria string
}

func (f tripFlags) request(cityID int, now time.Time) (*api.CreateTripRequest, error) {
	start := now.AddDate(0, 0, 1).Truncate(24 * time.Hour)
	if f.start != "" {
		t, err := time.Parse(dateLayout, f.start)
		if err != nil {
			return nil, fmt.Errorf("invalid -trip-start: %w", err)
		}
		start = t
	}
	if f.days <= 0 {
		return nil, fmt.Errorf("-trip-days must be positive, got: %d", f.days)
	}
	if f.budget < 0 {
		return nil, fmt.Errorf("-trip-budget must not be negative, got: %d", f.budget)
	}
	criteria, err := parseIDs(f.criteria)
	if err != nil {
		return nil, fmt.Errorf("invalid -trip-criteria: %w", err)
	}
	if criteria == nil {
		criteria = []int{}
	}

	return &api.CreateTripRequest{
		StartDate: start,
		Destinations: []api.Destination{{
			CityID:      cityID,
			Budget:      f.budget,
			Duration:    f.days,
			CriteriaIDs: criteria,
		}},
	}, nil
}

// parseIDs parses "1,2,3". Empty input yields nil.
func parseIDs(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("not an id: %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

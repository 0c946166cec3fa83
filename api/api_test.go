package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/go-authgate/triply-cli/credstore"
	"github.com/go-authgate/triply-cli/httpclient"
	"github.com/go-authgate/triply-cli/session"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data}))
}

type fixture struct {
	services *Services
	session  *session.Manager
	store    credstore.Store
	mux      *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	store := credstore.NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	refresher, err := retry.NewClient()
	require.NoError(t, err)

	m := session.New(store, refresher, server.URL+"/user-service", session.WithLogger(log))
	client := httpclient.New(server.Client(), m, httpclient.WithLogger(log))

	return &fixture{
		services: New(client, m, Endpoints{
			User:           server.URL + "/user-service/",
			Travel:         server.URL + "/travel-service",
			Recommendation: server.URL + "/recommendation-service",
		}, log),
		session: m,
		store:   store,
		mux:     mux,
	}
}

func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.StoreCredential(context.Background(), session.Credential{
		AccessToken: "A1", RefreshToken: "R1", ExpiresIn: 3600,
	}))
}

func TestAuth_Login(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("POST /user-service/authentication/triply/login", func(w http.ResponseWriter, r *http.Request) {
		_, err := uuid.Parse(r.Header.Get("X-Request-Id"))
		assert.NoError(t, err)

		var body loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ana@example.com", body.Credentials.Email)
		assert.Equal(t, "secret", body.Credentials.Password)

		writeEnvelope(t, w, map[string]any{"token": map[string]any{
			"accessToken": "A1", "refreshToken": "R1", "expiresIn": 3600,
		}})
	})

	ctx := context.Background()
	resp, err := f.services.Auth.Login(ctx, "ana@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "A1", resp.Token.AccessToken)

	assert.True(t, f.services.Auth.IsAuthenticated(ctx))
	rt, err := f.store.Get(ctx, session.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "R1", rt)
}

func TestAuth_LoginRejectedDoesNotRefresh(t *testing.T) {
	f := newFixture(t)
	var refreshes atomic.Int32
	f.mux.HandleFunc("POST /user-service/authentication/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})
	f.mux.HandleFunc("POST /user-service/authentication/triply/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid email or password","code":"INVALID_CREDENTIALS"}`))
	})

	_, err := f.services.Auth.Login(context.Background(), "ana@example.com", "wrong")

	var apiErr *httpclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
	assert.Equal(t, "Invalid email or password", apiErr.Message)
	assert.Zero(t, refreshes.Load())
}

func TestAuth_LoginWithMalformedCredential(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("POST /user-service/authentication/triply/login", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, map[string]any{"token": map[string]any{"accessToken": "", "expiresIn": 3600}})
	})

	_, err := f.services.Auth.Login(context.Background(), "ana@example.com", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accessToken is empty")
	assert.False(t, f.services.Auth.IsAuthenticated(context.Background()))
}

func TestAuth_RegistrationFlow(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("POST /user-service/authentication/triply/pre-register", func(w http.ResponseWriter, r *http.Request) {
		var body RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Ana", body.FirstName)
		writeEnvelope(t, w, map[string]any{"otpToken": "otp-1"})
	})
	f.mux.HandleFunc("POST /user-service/authentication/resend-otp", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, map[string]any{"message": "sent", "email": "ana@example.com"})
	})
	f.mux.HandleFunc("POST /user-service/authentication/verify-otp", func(w http.ResponseWriter, r *http.Request) {
		var body verifyOTPRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, verifyOTPRequest{OTPCode: "123456", OTPToken: "otp-1"}, body)
		writeEnvelope(t, w, map[string]any{"token": map[string]any{
			"accessToken": "A1", "refreshToken": "R1", "expiresIn": 3600,
		}})
	})

	ctx := context.Background()
	pre, err := f.services.Auth.PreRegister(ctx, RegisterRequest{
		Email: "ana@example.com", Password: "pw", ConfirmPassword: "pw", FirstName: "Ana", LastName: "Silva",
	})
	require.NoError(t, err)
	assert.Equal(t, "otp-1", pre.OTPToken)

	resent, err := f.services.Auth.ResendOTP(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", resent.Email)

	_, err = f.services.Auth.VerifyOTP(ctx, "123456", pre.OTPToken)
	require.NoError(t, err)
	assert.True(t, f.services.Auth.IsAuthenticated(ctx))
}

func TestAuth_Logout(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	ctx := context.Background()

	f.services.Auth.Logout(ctx)

	assert.False(t, f.services.Auth.IsAuthenticated(ctx))
	_, err := f.store.Get(ctx, session.KeyRefreshToken)
	assert.ErrorIs(t, err, credstore.ErrNotFound)
}

func TestProfile_InfoCachesProfile(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	f.mux.HandleFunc("GET /user-service/profile/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "A1", r.Header.Get(session.DefaultHeaderName))
		writeEnvelope(t, w, Profile{ID: "u-1", Email: "ana@example.com", FirstName: "Ana"})
	})

	ctx := context.Background()
	_, ok := f.services.Profile.Cached(ctx)
	assert.False(t, ok)

	p, err := f.services.Profile.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.ID)

	cached, ok := f.services.Profile.Cached(ctx)
	require.True(t, ok)
	assert.Equal(t, *p, *cached)
}

func TestCity_Popular(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	f.mux.HandleFunc("GET /travel-service/cities/popular", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, []City{{ID: 1, Name: "Lisbon"}, {ID: 2, Name: "Porto"}})
	})

	cities := f.services.City.Popular(context.Background())
	require.Len(t, cities, 2)
	assert.Equal(t, "Porto", cities[1].Name)
}

func TestCity_SearchEncodesQuery(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	f.mux.HandleFunc("GET /travel-service/cities/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "são paulo & co", r.URL.Query().Get("q"))
		assert.Equal(t, "true", r.URL.Query().Get("includeCountry"))
		writeEnvelope(t, w, SearchResult{Cities: []City{{ID: 9, Name: "São Paulo"}}, Total: 1})
	})

	result := f.services.City.Search(context.Background(), "são paulo & co")
	require.Len(t, result.Cities, 1)
	assert.Equal(t, 1, result.Total)
	assert.False(t, result.HasMore)
}

func TestReads_DegradeToEmpty(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	fail := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	f.mux.HandleFunc("GET /travel-service/cities/popular", fail)
	f.mux.HandleFunc("GET /travel-service/cities/search", fail)
	f.mux.HandleFunc("GET /travel-service/cities/country/{id}", fail)
	f.mux.HandleFunc("GET /recommendation-service/criterias", fail)

	ctx := context.Background()
	popular := f.services.City.Popular(ctx)
	assert.NotNil(t, popular)
	assert.Empty(t, popular)

	search := f.services.City.Search(ctx, "x")
	assert.NotNil(t, search.Cities)
	assert.Empty(t, search.Cities)

	assert.Empty(t, f.services.Trip.AdditionalCities(ctx, "12", nil))
	assert.Empty(t, f.services.Recommendation.Criteria(ctx))
}

func TestRecommendation_Criteria(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	f.mux.HandleFunc("GET /recommendation-service/criterias", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, []Criteria{{ID: 3, Name: "Beaches", Category: "nature"}})
	})

	criteria := f.services.Recommendation.Criteria(context.Background())
	require.Len(t, criteria, 1)
	assert.Equal(t, "Beaches", criteria[0].Name)
}

func TestTrip_AdditionalCities(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	f.mux.HandleFunc("GET /travel-service/cities/country/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12", r.PathValue("id"))
		assert.Equal(t, "3,5", r.URL.Query().Get("excludeList"))
		assert.Equal(t, "primary,admin", r.URL.Query().Get("capital"))
		writeEnvelope(t, w, []map[string]any{
			{"id": 7, "name": "Braga", "country": map[string]any{"id": 12, "name": "Portugal", "iso2": "PT"}},
			{"id": 8, "name": "Faro"},
		})
	})

	cities := f.services.Trip.AdditionalCities(context.Background(), "12", []int{3, 5})
	require.Len(t, cities, 2)
	assert.Equal(t, "Portugal", cities[0].Country.Name)
	require.NotNil(t, cities[1].Country)
	assert.Equal(t, "Unknown Country", cities[1].Country.Name)
	assert.Equal(t, "UN", cities[1].Country.ISO2)
}

func TestTrip_AdditionalCitiesInvalidCountry(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	var calls atomic.Int32
	f.mux.HandleFunc("GET /travel-service/cities/country/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	for _, id := range []string{"", "undefined", "null"} {
		cities := f.services.Trip.AdditionalCities(context.Background(), id, nil)
		assert.NotNil(t, cities)
		assert.Empty(t, cities)
	}
	assert.Zero(t, calls.Load())
}

func TestTrip_Create(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f.mux.HandleFunc("POST /travel-service/trips", func(w http.ResponseWriter, r *http.Request) {
		var body CreateTripRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, start.Equal(body.StartDate))
		require.Len(t, body.Destinations, 1)
		assert.Equal(t, []int{1, 2}, body.Destinations[0].CriteriaIDs)
		writeEnvelope(t, w, CreateTripResponse{TripID: "trip-42"})
	})

	resp, err := f.services.Trip.Create(context.Background(), CreateTripRequest{
		StartDate:    start,
		Destinations: []Destination{{CityID: 7, Budget: 1500, Duration: 4, CriteriaIDs: []int{1, 2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "trip-42", resp.TripID)
}

func TestTrip_CreatePropagatesErrors(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	f.mux.HandleFunc("POST /travel-service/trips", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"budget too low"}`))
	})

	_, err := f.services.Trip.Create(context.Background(), CreateTripRequest{StartDate: time.Now()})

	assert.True(t, httpclient.IsStatus(err, http.StatusUnprocessableEntity))
	assert.ErrorContains(t, err, "budget too low")
}

func TestReads_RecoverExpiredSession(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	var refreshes atomic.Int32
	f.mux.HandleFunc("POST /user-service/authentication/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		writeEnvelope(t, w, map[string]any{"token": map[string]any{
			"accessToken": "A2", "refreshToken": "R2", "expiresIn": 3600,
		}})
	})
	f.mux.HandleFunc("GET /travel-service/cities/popular", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(session.DefaultHeaderName) != "A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeEnvelope(t, w, []City{{ID: 1, Name: "Lisbon"}})
	})

	cities := f.services.City.Popular(context.Background())
	require.Len(t, cities, 1)
	assert.Equal(t, int32(1), refreshes.Load())
}

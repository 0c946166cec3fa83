package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/go-authgate/triply-cli/httpclient"
)

// createTripTimeout covers itinerary generation on the backend.
const createTripTimeout = 5 * time.Minute

// Destination is one leg of a trip to create.
type Destination struct {
	CityID      int   `json:"cityId"`
	Budget      int   `json:"budget"`
	Duration    int   `json:"duration"`
	CriteriaIDs []int `json:"criteriaIds"`
}

// CreateTripRequest describes a trip to plan.
type CreateTripRequest struct {
	StartDate    time.Time     `json:"startDate"`
	Destinations []Destination `json:"destinations"`
}

// CreateTripResponse identifies the created trip.
type CreateTripResponse struct {
	TripID string `json:"tripId"`
}

var unknownCountry = Country{ID: 0, Name: "Unknown Country", ISO2: "UN"}

// TripService plans trips.
type TripService struct {
	base
	url string
}

// AdditionalCities suggests more cities in a country, skipping exclude. It
// returns none when countryID is not usable or the call fails.
func (s *TripService) AdditionalCities(ctx context.Context, countryID string, exclude []int) []City {
	if countryID == "" || countryID == "undefined" || countryID == "null" {
		s.log.Warn("invalid country id", zap.String("country_id", countryID))
		return []City{}
	}

	q := url.Values{}
	if len(exclude) > 0 {
		ids := make([]string, len(exclude))
		for i, id := range exclude {
			ids[i] = strconv.Itoa(id)
		}
		q.Set("excludeList", strings.Join(ids, ","))
	}
	q.Set("capital", "primary,admin")

	u := s.url + "/cities/country/" + url.PathEscape(countryID) + "?" + q.Encode()
	env, err := httpclient.Call[[]City](ctx, s.client, request(http.MethodGet, u, nil))
	if err != nil {
		s.log.Warn("additional cities unavailable", zap.String("country_id", countryID), zap.Error(err))
		return []City{}
	}

	cities := make([]City, 0, len(env.Data))
	for _, c := range env.Data {
		if c.Country == nil {
			country := unknownCountry
			c.Country = &country
		}
		cities = append(cities, c)
	}
	return cities
}

// Create plans a trip. Generation can take minutes.
func (s *TripService) Create(ctx context.Context, r CreateTripRequest) (*CreateTripResponse, error) {
	req := request(http.MethodPost, s.url+"/trips", r)
	req.Timeout = createTripTimeout

	env, err := httpclient.Call[CreateTripResponse](ctx, s.client, req)
	if err != nil {
		s.log.Error("create trip failed", zap.Error(err))
		return nil, err
	}
	return &env.Data, nil
}

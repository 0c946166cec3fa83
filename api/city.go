package api

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/go-authgate/triply-cli/httpclient"
)

// Country is a city's country.
type Country struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	ISO2 string `json:"iso2"`
}

// City is a destination.
type City struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	CountryID  int      `json:"countryId"`
	Population int      `json:"population"`
	Country    *Country `json:"country"`
	ImageURL   *string  `json:"imageUrl,omitempty"`
}

// SearchResult is one page of a city search.
type SearchResult struct {
	Cities  []City `json:"cities"`
	Total   int    `json:"total"`
	HasMore bool   `json:"hasMore"`
}

// CityService lists and searches destinations.
type CityService struct {
	base
	url string
}

// Popular returns the featured destinations, or none when the call fails.
func (s *CityService) Popular(ctx context.Context) []City {
	env, err := httpclient.Call[[]City](ctx, s.client, request(http.MethodGet, s.url+"/cities/popular", nil))
	if err != nil {
		s.log.Warn("popular cities unavailable", zap.Error(err))
		return []City{}
	}
	if env.Data == nil {
		return []City{}
	}
	return env.Data
}

// Search finds cities by name, or returns an empty result when the call fails.
func (s *CityService) Search(ctx context.Context, query string) SearchResult {
	q := url.Values{}
	q.Set("q", query)
	q.Set("includeCountry", "true")

	env, err := httpclient.Call[SearchResult](ctx, s.client, request(http.MethodGet, s.url+"/cities/search?"+q.Encode(), nil))
	if err != nil {
		s.log.Warn("city search failed", zap.String("query", query), zap.Error(err))
		return SearchResult{Cities: []City{}}
	}
	if env.Data.Cities == nil {
		env.Data.Cities = []City{}
	}
	return env.Data
}

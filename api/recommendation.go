package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/go-authgate/triply-cli/httpclient"
)

// Criteria is a trip preference the recommender understands.
type Criteria struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Category    string `json:"category"`
}

// RecommendationService reads recommender metadata.
type RecommendationService struct {
	base
	url string
}

// Criteria lists the selectable trip preferences, or none when the call fails.
func (s *RecommendationService) Criteria(ctx context.Context) []Criteria {
	env, err := httpclient.Call[[]Criteria](ctx, s.client, request(http.MethodGet, s.url+"/criterias", nil))
	if err != nil {
		s.log.Warn("recommendation criteria unavailable", zap.Error(err))
		return []Criteria{}
	}
	if env.Data == nil {
		return []Criteria{}
	}
	return env.Data
}

// Package api wraps the Triply backend services. Reads that feed optional
// screens degrade to empty results on failure; writes and authentication
// calls return their errors.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-authgate/triply-cli/httpclient"
	"github.com/go-authgate/triply-cli/session"
)

// Endpoints holds the base URL of each backend service.
type Endpoints struct {
	User           string
	Travel         string
	Recommendation string
}

// Session is the part of session.Manager the services use.
type Session interface {
	StoreCredential(ctx context.Context, cred session.Credential) error
	IsAuthenticated(ctx context.Context) bool
	Logout(ctx context.Context)
	StoreProfile(ctx context.Context, profile any) error
	LoadProfile(ctx context.Context, dst any) bool
}

// Services bundles every backend service over one client.
type Services struct {
	Auth           *AuthService
	Profile        *ProfileService
	City           *CityService
	Recommendation *RecommendationService
	Trip           *TripService
}

// New wires all services.
func New(c *httpclient.Client, s Session, ep Endpoints, log *zap.Logger) *Services {
	if log == nil {
		log = zap.NewNop()
	}
	b := base{client: c, log: log}
	return &Services{
		Auth:           &AuthService{base: b.named("auth"), session: s, url: trim(ep.User)},
		Profile:        &ProfileService{base: b.named("profile"), session: s, url: trim(ep.User)},
		City:           &CityService{base: b.named("city"), url: trim(ep.Travel)},
		Recommendation: &RecommendationService{base: b.named("recommendation"), url: trim(ep.Recommendation)},
		Trip:           &TripService{base: b.named("trip"), url: trim(ep.Travel)},
	}
}

type base struct {
	client *httpclient.Client
	log    *zap.Logger
}

func (b base) named(name string) base {
	return base{client: b.client, log: b.log.Named(name)}
}

func trim(u string) string {
	return strings.TrimRight(u, "/")
}

// request builds a call tagged with a fresh request id.
func request(method, url string, body any) httpclient.Request {
	return httpclient.Request{
		Method: method,
		URL:    url,
		Body:   body,
		Header: http.Header{"X-Request-Id": []string{uuid.NewString()}},
	}
}

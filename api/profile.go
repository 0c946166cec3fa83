package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/go-authgate/triply-cli/httpclient"
)

// Profile is the signed-in user.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ProfileService reads the signed-in user's profile.
type ProfileService struct {
	base
	session Session
	url     string
}

// Info fetches the profile and caches it for offline display.
func (s *ProfileService) Info(ctx context.Context) (*Profile, error) {
	env, err := httpclient.Call[Profile](ctx, s.client, request(http.MethodGet, s.url+"/profile/me", nil))
	if err != nil {
		s.log.Error("profile request failed", zap.Error(err))
		return nil, err
	}
	if err := s.session.StoreProfile(ctx, env.Data); err != nil {
		s.log.Warn("failed to cache profile", zap.Error(err))
	}
	return &env.Data, nil
}

// Cached returns the last profile fetched, if any.
func (s *ProfileService) Cached(ctx context.Context) (*Profile, bool) {
	var p Profile
	if !s.session.LoadProfile(ctx, &p) {
		return nil, false
	}
	return &p, true
}

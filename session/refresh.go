package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Data struct {
		Token Credential `json:"token"`
	} `json:"data"`
}

// rejection is the backend's error envelope.
type rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (m *Manager) performRefresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
	defer cancel()

	stored := m.Credential(ctx)
	if stored == nil || stored.RefreshToken == "" {
		m.log.Info("cannot refresh session", zap.Error(ErrNoRefreshToken))
		return false
	}

	cred, err := m.exchange(ctx, stored.RefreshToken)
	var rerr *oauth2.RetrieveError
	switch {
	case errors.As(err, &rerr):
		m.log.Warn("refresh token rejected",
			zap.Int("status", rerr.Response.StatusCode),
			zap.String("code", rerr.ErrorCode),
			zap.String("reason", rerr.ErrorDescription),
		)
		return false
	case err != nil:
		m.log.Warn("token refresh failed", zap.Error(err))
		return false
	}

	if err := m.StoreCredential(ctx, *cred); err != nil {
		return false
	}

	m.log.Info("token refreshed", zap.Int64("expires_in", cred.ExpiresIn))
	return true
}

// exchange trades refreshToken for a new credential at the user service.
func (m *Manager) exchange(ctx context.Context, refreshToken string) (*Credential, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.doer.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := &oauth2.RetrieveError{Response: resp, Body: body}
		var rej rejection
		if json.Unmarshal(body, &rej) == nil {
			rerr.ErrorCode = rej.Code
			rerr.ErrorDescription = rej.Message
		}
		return nil, rerr
	}

	var out refreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}

	cred := out.Data.Token
	if err := cred.Validate(); err != nil {
		return nil, fmt.Errorf("invalid refresh response: %w", err)
	}

	// servers with fixed refresh tokens omit it from the response
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return &cred, nil
}

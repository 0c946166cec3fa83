package session

import (
	"errors"
	"fmt"
	"time"
)

// Credential is one authenticated session: the token pair plus its validity.
type Credential struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresIn is the access token lifetime in seconds as issued by the backend.
	ExpiresIn int64 `json:"expiresIn"`
	// ExpiresAt is stamped when the credential is stored.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the access token is past its expiry at now. A
// credential without a recorded expiry is never considered expired here; the
// backend rejecting it with 401 is what ends it.
func (c *Credential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// Validate checks a credential received from the backend. A missing expiresIn
// is accepted and leaves the credential without a recorded expiry.
func (c *Credential) Validate() error {
	if c.AccessToken == "" {
		return errors.New("accessToken is empty")
	}
	if c.ExpiresIn < 0 {
		return fmt.Errorf("expiresIn must not be negative, got: %d", c.ExpiresIn)
	}
	return nil
}

package tui

import (
	"time"

	"github.com/go-authgate/triply-cli/netmon"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgSessionFound signals that a stored credential was found.
type MsgSessionFound struct{}

// MsgSessionValid signals that the stored access token has not expired.
type MsgSessionValid struct{}

// MsgSessionExpired signals that the stored access token has expired and will
// be refreshed on the first rejected call.
type MsgSessionExpired struct{}

// MsgNoSession signals that no credential is stored.
type MsgNoSession struct{}

// MsgSigningIn signals that a login call is in progress.
type MsgSigningIn struct{ Email string }

// MsgSignedIn signals that login succeeded and the credential was stored.
type MsgSignedIn struct{ ExpiresIn time.Duration }

// MsgSignInFailed signals that login failed.
type MsgSignInFailed struct{ Err error }

// MsgLoadingHome signals that the home screen reads started.
type MsgLoadingHome struct{}

// MsgHomeLoaded carries the home screen data.
type MsgHomeLoaded struct{ Home Home }

// MsgSearchResults carries a city search result.
type MsgSearchResults struct {
	Query  string
	Cities []string
	Total  int
}

// MsgAdditionalCities carries suggestions for a country.
type MsgAdditionalCities struct {
	CountryID string
	Cities    []string
}

// MsgCreatingTrip signals that trip creation started.
type MsgCreatingTrip struct{}

// MsgTripCreated signals that the trip was created.
type MsgTripCreated struct{ TripID string }

// MsgTripFailed signals that trip creation failed.
type MsgTripFailed struct{ Err error }

// MsgLoginRequired signals that the session ended and the user must sign in
// again.
type MsgLoginRequired struct{}

// MsgLoggedOut signals an explicit logout.
type MsgLoggedOut struct{}

// MsgNetworkLog carries a snapshot of the network monitor.
type MsgNetworkLog struct{ Entries []netmon.Entry }

// MsgDone signals that the run finished.
type MsgDone struct{}

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }

package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/triply-cli/netmon"
)

// Home is what the home screen shows after sign-in.
type Home struct {
	UserName string
	Popular  []string
	Criteria []string
}

// Displayer abstracts all output from the CLI flow.
type Displayer interface {
	Banner()
	SessionFound()
	SessionValid()
	SessionExpired()
	NoSession()
	SigningIn(email string)
	SignedIn(expiresIn time.Duration)
	SignInFailed(err error)
	LoadingHome()
	HomeLoaded(h Home)
	SearchResults(query string, cities []string, total int)
	AdditionalCities(countryID string, cities []string)
	CreatingTrip()
	TripCreated(tripID string)
	TripFailed(err error)
	LoginRequired()
	LoggedOut()
	NetworkLog(entries []netmon.Entry)
	Done()
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Triply ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionFound() {
	fmt.Fprintln(p.w, "Found a stored session.")
}

func (p *PlainDisplayer) SessionValid() {
	fmt.Fprintln(p.w, "Access token is still valid.")
}

func (p *PlainDisplayer) SessionExpired() {
	fmt.Fprintln(p.w, "Access token expired, it will be refreshed on first use.")
}

func (p *PlainDisplayer) NoSession() {
	fmt.Fprintln(p.w, "No stored session.")
}

func (p *PlainDisplayer) SigningIn(email string) {
	fmt.Fprintf(p.w, "Signing in as %s...\n", email)
}

func (p *PlainDisplayer) SignedIn(expiresIn time.Duration) {
	fmt.Fprintln(p.w, signedInText(expiresIn))
}

func (p *PlainDisplayer) SignInFailed(err error) {
	fmt.Fprintf(p.w, "Sign-in failed: %v\n", err)
}

func (p *PlainDisplayer) LoadingHome() {
	fmt.Fprintln(p.w, "\nLoading home...")
}

func (p *PlainDisplayer) HomeLoaded(h Home) {
	if h.UserName != "" {
		fmt.Fprintf(p.w, "Welcome, %s!\n", h.UserName)
	}
	fmt.Fprintf(p.w, "Popular cities: %s\n", joinOrNone(h.Popular))
	fmt.Fprintf(p.w, "Trip criteria: %s\n", joinOrNone(h.Criteria))
}

func (p *PlainDisplayer) SearchResults(query string, cities []string, total int) {
	fmt.Fprintf(p.w, "Search %q: %d match(es): %s\n", query, total, joinOrNone(cities))
}

func (p *PlainDisplayer) AdditionalCities(countryID string, cities []string) {
	fmt.Fprintf(p.w, "More cities in country %s: %s\n", countryID, joinOrNone(cities))
}

func (p *PlainDisplayer) CreatingTrip() {
	fmt.Fprintln(p.w, "Creating trip, this can take a few minutes...")
}

func (p *PlainDisplayer) TripCreated(tripID string) {
	fmt.Fprintf(p.w, "Trip created: %s\n", tripID)
}

func (p *PlainDisplayer) TripFailed(err error) {
	fmt.Fprintf(p.w, "Trip creation failed: %v\n", err)
}

func (p *PlainDisplayer) LoginRequired() {
	fmt.Fprintln(p.w, "Session expired, please log in again.")
}

func (p *PlainDisplayer) LoggedOut() {
	fmt.Fprintln(p.w, "Logged out.")
}

func (p *PlainDisplayer) NetworkLog(entries []netmon.Entry) {
	fmt.Fprintf(p.w, "\nNetwork log (%d):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintln(p.w, "  "+formatEntry(e))
	}
}

func (p *PlainDisplayer) Done() {
	fmt.Fprintln(p.w, "\nDone.")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                                   {}
func (NoopDisplayer) SessionFound()                             {}
func (NoopDisplayer) SessionValid()                             {}
func (NoopDisplayer) SessionExpired()                           {}
func (NoopDisplayer) NoSession()                                {}
func (NoopDisplayer) SigningIn(_ string)                        {}
func (NoopDisplayer) SignedIn(_ time.Duration)                  {}
func (NoopDisplayer) SignInFailed(_ error)                      {}
func (NoopDisplayer) LoadingHome()                              {}
func (NoopDisplayer) HomeLoaded(_ Home)                         {}
func (NoopDisplayer) SearchResults(_ string, _ []string, _ int) {}
func (NoopDisplayer) AdditionalCities(_ string, _ []string)     {}
func (NoopDisplayer) CreatingTrip()                             {}
func (NoopDisplayer) TripCreated(_ string)                      {}
func (NoopDisplayer) TripFailed(_ error)                        {}
func (NoopDisplayer) LoginRequired()                            {}
func (NoopDisplayer) LoggedOut()                                {}
func (NoopDisplayer) NetworkLog(_ []netmon.Entry)               {}
func (NoopDisplayer) Done()                                     {}
func (NoopDisplayer) Fatal(_ error)                             {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) SessionFound() {
	t.p.Send(MsgSessionFound{})
}

func (t *ProgramDisplayer) SessionValid() {
	t.p.Send(MsgSessionValid{})
}

func (t *ProgramDisplayer) SessionExpired() {
	t.p.Send(MsgSessionExpired{})
}

func (t *ProgramDisplayer) NoSession() {
	t.p.Send(MsgNoSession{})
}

func (t *ProgramDisplayer) SigningIn(email string) {
	t.p.Send(MsgSigningIn{Email: email})
}

func (t *ProgramDisplayer) SignedIn(expiresIn time.Duration) {
	t.p.Send(MsgSignedIn{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) SignInFailed(err error) {
	t.p.Send(MsgSignInFailed{Err: err})
}

func (t *ProgramDisplayer) LoadingHome() {
	t.p.Send(MsgLoadingHome{})
}

func (t *ProgramDisplayer) HomeLoaded(h Home) {
	t.p.Send(MsgHomeLoaded{Home: h})
}

func (t *ProgramDisplayer) SearchResults(query string, cities []string, total int) {
	t.p.Send(MsgSearchResults{Query: query, Cities: cities, Total: total})
}

func (t *ProgramDisplayer) AdditionalCities(countryID string, cities []string) {
	t.p.Send(MsgAdditionalCities{CountryID: countryID, Cities: cities})
}

func (t *ProgramDisplayer) CreatingTrip() {
	t.p.Send(MsgCreatingTrip{})
}

func (t *ProgramDisplayer) TripCreated(tripID string) {
	t.p.Send(MsgTripCreated{TripID: tripID})
}

func (t *ProgramDisplayer) TripFailed(err error) {
	t.p.Send(MsgTripFailed{Err: err})
}

func (t *ProgramDisplayer) LoginRequired() {
	t.p.Send(MsgLoginRequired{})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) NetworkLog(entries []netmon.Entry) {
	t.p.Send(MsgNetworkLog{Entries: entries})
}

func (t *ProgramDisplayer) Done() {
	t.p.Send(MsgDone{})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

// formatEntry renders one network log line, e.g. "GET 200 12ms https://...".
func formatEntry(e netmon.Entry) string {
	status := "..."
	switch e.State {
	case netmon.StateSuccess:
		status = fmt.Sprint(e.Status)
	case netmon.StateError:
		status = "ERR"
		if e.Status != 0 {
			status = fmt.Sprint(e.Status)
		}
	}
	line := fmt.Sprintf("%-6s %-4s %6s %s", e.Method, status, e.Duration.Round(time.Millisecond), e.URL)
	if e.Error != "" {
		line += " (" + e.Error + ")"
	}
	return line
}

// signedInText describes a fresh sign-in. A zero lifetime means the backend
// reported none.
func signedInText(expiresIn time.Duration) string {
	if expiresIn <= 0 {
		return "Signed in"
	}
	return "Signed in, token expires in " + formatDuration(expiresIn)
}

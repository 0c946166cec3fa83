package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/go-authgate/triply-cli/netmon"
)

// maxNetworkRows caps the network overlay; the monitor keeps more.
const maxNetworkRows = 15

// state represents the current phase of the run.
type state int

const (
	stateInit          state = iota
	stateSigningIn           // login call in flight
	stateLoading             // home reads in flight
	stateCreating            // trip generation in flight
	stateSuccess             // all done
	stateLoginRequired       // session ended
	stateError               // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the CLI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	home    *Home
	results []string
	tripID  string
	errMsg  string
	network []netmon.Entry

	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 2)

	styleOverlay = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("244")).
			Padding(0, 1)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("39"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case MsgSessionFound:
		m.addStatus(statusOK, "Found stored session")

	case MsgSessionValid:
		m.addStatus(statusOK, "Access token is still valid")

	case MsgSessionExpired:
		m.addStatus(statusWarn, "Access token expired, refreshing on first use")

	case MsgNoSession:
		m.addStatus(statusInfo, "No stored session")

	case MsgSigningIn:
		m.state = stateSigningIn
		m.addStatus(statusInfo, "Signing in as "+msg.Email)

	case MsgSignedIn:
		m.addStatus(statusOK, signedInText(msg.ExpiresIn))

	case MsgSignInFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Sign-in failed: %v", msg.Err))

	case MsgLoadingHome:
		m.state = stateLoading

	case MsgHomeLoaded:
		h := msg.Home
		m.home = &h
		m.addStatus(statusOK, fmt.Sprintf(
			"Loaded %d popular cities and %d criteria", len(h.Popular), len(h.Criteria)))

	case MsgSearchResults:
		m.results = msg.Cities
		m.addStatus(statusInfo, fmt.Sprintf("Search %q: %d match(es)", msg.Query, msg.Total))

	case MsgAdditionalCities:
		m.addStatus(statusInfo, fmt.Sprintf(
			"More cities in country %s: %s", msg.CountryID, joinOrNone(msg.Cities)))

	case MsgCreatingTrip:
		m.state = stateCreating
		m.addStatus(statusInfo, "Creating trip...")

	case MsgTripCreated:
		m.tripID = msg.TripID
		m.addStatus(statusOK, "Trip created: "+msg.TripID)

	case MsgTripFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Trip creation failed: %v", msg.Err))

	case MsgLoginRequired:
		m.state = stateLoginRequired
		m.addStatus(statusWarn, "Session expired, please log in again")

	case MsgLoggedOut:
		m.addStatus(statusOK, "Logged out")

	case MsgNetworkLog:
		m.network = msg.Entries

	case MsgDone:
		if m.state != stateLoginRequired && m.state != stateError {
			m.state = stateSuccess
		}

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	var b strings.Builder
	switch m.state {
	case stateSuccess:
		b.WriteString(m.viewSuccess())
	case stateLoginRequired:
		b.WriteString(m.viewLoginRequired())
	case stateError:
		b.WriteString(m.viewError())
	default:
		b.WriteString(m.viewMain())
	}
	b.WriteString(m.viewStatusLog())
	b.WriteString(m.viewNetwork())
	return tea.NewView(b.String())
}

// viewMain is shown while calls are in flight.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Triply  "))
	b.WriteString("\n\n")
	b.WriteString(m.spinner.View())

	switch m.state {
	case stateSigningIn:
		b.WriteString(" Signing in...\n")
	case stateLoading:
		b.WriteString(" Loading home...\n")
	case stateCreating:
		b.WriteString(" Planning your trip...\n")
	default:
		b.WriteString(" Initializing...\n")
	}
	return b.String()
}

func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.home != nil && m.home.UserName != "" {
		b.WriteString(styleOK.Render("  ✓ Welcome, " + m.home.UserName + "!"))
	} else {
		b.WriteString(styleOK.Render("  ✓ Done"))
	}
	b.WriteString("\n\n")

	if m.home != nil {
		b.WriteString(styleBold.Render("Popular: "))
		b.WriteString(joinOrNone(m.home.Popular) + "\n")
		b.WriteString(styleBold.Render("Criteria: "))
		b.WriteString(joinOrNone(m.home.Criteria) + "\n")
	}
	if m.results != nil {
		b.WriteString(styleBold.Render("Search: "))
		b.WriteString(joinOrNone(m.results) + "\n")
	}
	if m.tripID != "" {
		b.WriteString(styleBold.Render("Trip: "))
		b.WriteString(m.tripID + "\n")
	}
	return b.String()
}

func (m Model) viewLoginRequired() string {
	return "\n" + styleWarn.Render("  ⚠ Session expired") + "\n\n" +
		styleDim.Render("  Run again with -email and -password to sign in.") + "\n"
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// viewNetwork renders the network monitor overlay, newest first.
func (m Model) viewNetwork() string {
	if len(m.network) == 0 {
		return ""
	}

	rows := m.network
	if len(rows) > maxNetworkRows {
		rows = rows[:maxNetworkRows]
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, styleBold.Render(fmt.Sprintf("Network (%d)", len(m.network))))
	for _, e := range rows {
		style := styleDim
		switch e.State {
		case netmon.StateSuccess:
			style = styleOK
		case netmon.StateError:
			style = styleErr
		}
		lines = append(lines, style.Render(formatEntry(e)))
	}
	return "\n" + styleOverlay.Render(strings.Join(lines, "\n")) + "\n"
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

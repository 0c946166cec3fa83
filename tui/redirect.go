package tui

import "context"

// LoginRedirect sends the user back to the login screen when the session ends.
// It satisfies session.LoginRedirector.
type LoginRedirect struct {
	D Displayer
}

func (r LoginRedirect) RedirectToLogin(context.Context) {
	r.D.LoginRequired()
}

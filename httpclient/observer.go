package httpclient

import (
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	maxObservedHeader = 32
	maxObservedBody   = 1024

	redacted = "[REDACTED]"
)

// StartInfo describes an outbound call as it is dispatched.
type StartInfo struct {
	Method    string
	URL       string
	StartedAt time.Time
	Header    map[string]string
	Body      string
}

// FinishInfo describes how a call ended. Err is empty on success.
type FinishInfo struct {
	Status   int
	Duration time.Duration
	Header   map[string]string
	Body     string
	Err      string
}

// Observer receives a report for every transport attempt. It is a logging hook:
// a misbehaving observer never changes a call's outcome.
type Observer interface {
	Start(info StartInfo) string
	Finish(id string, info FinishInfo)
}

type nopObserver struct{}

func (nopObserver) Start(StartInfo) string     { return "" }
func (nopObserver) Finish(string, FinishInfo) {}

func (c *Client) observeStart(info StartInfo) (id string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Sugar().Warnw("network observer panicked on start", "panic", r)
			id = ""
		}
	}()
	return c.observer.Start(info)
}

func (c *Client) observeFinish(id string, info FinishInfo) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Sugar().Warnw("network observer panicked on finish", "panic", r)
		}
	}()
	c.observer.Finish(id, info)
}

// flattenHeader keeps the first value of each header, masking any header named
// in secret.
func flattenHeader(h, secret http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name := range h {
		if secret.Values(name) != nil {
			out[name] = redacted
			continue
		}
		out[name] = truncate(h.Get(name), maxObservedHeader)
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

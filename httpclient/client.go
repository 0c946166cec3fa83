// Package httpclient issues authenticated JSON calls to the backend and
// recovers transparently from an expired access token.
//
// A call rejected with 401 asks the session to resolve the failure. Only one
// resolution runs at a time: calls rejected while it is running are parked and
// replayed, oldest first, once it settles. Every call is retried at most once,
// and any other failure is returned to the caller as an *APIError without
// retry.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout applies to calls that set no timeout of their own.
const DefaultTimeout = 10 * time.Second

// Doer performs one HTTP round trip. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Session supplies credentials and resolves authentication failures.
// *session.Manager satisfies it.
type Session interface {
	AuthHeader(ctx context.Context) http.Header
	HandleAuthFailure(ctx context.Context) bool
}

// Request is one call to issue.
type Request struct {
	Method string
	URL    string
	// Body is JSON-encoded when non-nil.
	Body any
	// Header entries override the defaults and the auth header.
	Header http.Header
	// Timeout overrides the client's default timeout when positive.
	Timeout time.Duration
	// SkipAuthRecovery returns a 401 as-is. Login and registration calls set it,
	// since a 401 there means wrong credentials rather than an expired session.
	SkipAuthRecovery bool
}

// Response is a successful (2xx) reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithObserver reports every attempt to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client executes requests against the backend.
type Client struct {
	doer     Doer
	session  Session
	timeout  time.Duration
	observer Observer
	log      *zap.Logger

	mu         sync.Mutex
	refreshing bool
	parked     queue
}

// New returns a Client sending through doer and authenticating with s.
func New(doer Doer, s Session, opts ...Option) *Client {
	c := &Client{
		doer:     doer,
		session:  s,
		timeout:  DefaultTimeout,
		observer: nopObserver{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute performs req. On 401 it resolves the session failure (or waits for
// the resolution already in flight) and retries once with the new credential.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	auth := c.session.AuthHeader(ctx)

	resp, err := c.attempt(ctx, req, auth)
	if err == nil || req.SkipAuthRecovery || !isUnauthorized(err) {
		return resp, err
	}

	return c.recoverUnauthorized(ctx, req, auth)
}

// recoverUnauthorized handles a 401 for a call that was sent with auth.
func (c *Client) recoverUnauthorized(ctx context.Context, req Request, auth http.Header) (*Response, error) {
	// nothing to refresh; whatever cleared the credential already ended the session
	if auth == nil {
		return nil, sessionExpiredError()
	}

	c.mu.Lock()
	if c.refreshing {
		p := newParked(ctx, req)
		c.parked.push(p)
		c.log.Debug("refresh in flight, parking request",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Int("queued", c.parked.len()),
		)
		c.mu.Unlock()
		return c.wait(p)
	}

	// the credential may have moved on since this call was dispatched
	current := c.session.AuthHeader(ctx)
	if !sameHeader(current, auth) {
		c.mu.Unlock()
		if current == nil {
			return nil, sessionExpiredError()
		}
		return c.attempt(ctx, req, current)
	}

	c.refreshing = true
	c.mu.Unlock()

	ok, parked := c.resolve(ctx)
	if !ok {
		err := sessionExpiredError()
		for _, p := range parked {
			p.settle(nil, err)
		}
		return nil, err
	}

	if len(parked) > 0 {
		go c.drain(parked)
	}
	return c.attempt(ctx, req, c.session.AuthHeader(ctx))
}

// resolve runs the session's failure handler and then, whatever happened,
// leaves the refreshing state and hands back everything parked meanwhile.
func (c *Client) resolve(ctx context.Context) (ok bool, parked []*parked) {
	defer func() {
		c.mu.Lock()
		parked = c.parked.takeAll()
		c.refreshing = false
		c.mu.Unlock()
	}()
	return c.session.HandleAuthFailure(ctx), nil
}

// wait blocks until p is settled by the refresh that parked it, or until its
// caller gives up.
func (c *Client) wait(p *parked) (*Response, error) {
	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-p.ctx.Done():
		c.mu.Lock()
		c.parked.remove(p)
		c.mu.Unlock()
		return nil, canceledError(p.ctx)
	}
}

// drain replays parked calls oldest first with the refreshed credential. Each
// gets exactly one more attempt and settles independently.
func (c *Client) drain(parked []*parked) {
	c.log.Debug("replaying parked requests", zap.Int("count", len(parked)))
	for _, p := range parked {
		if p.ctx.Err() != nil {
			p.settle(nil, canceledError(p.ctx))
			continue
		}
		resp, err := c.attempt(p.ctx, p.req, c.session.AuthHeader(p.ctx))
		p.settle(resp, err)
	}
}

// attempt performs a single round trip with the given auth header.
func (c *Client) attempt(ctx context.Context, req Request, auth http.Header) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	reqCtx, cancel := context.WithTimeoutCause(ctx, timeout, errRequestTimeout)
	defer cancel()

	var payload []byte
	if req.Body != nil {
		var err error
		if payload, err = json.Marshal(req.Body); err != nil {
			return nil, &APIError{Code: CodeInvalidRequest, Message: "failed to encode request body", Err: err}
		}
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &APIError{Code: CodeInvalidRequest, Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for name, values := range auth {
		httpReq.Header[name] = slices.Clone(values)
	}
	for name, values := range req.Header {
		httpReq.Header.Del(name)
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	started := time.Now()
	id := c.observeStart(StartInfo{
		Method:    httpReq.Method,
		URL:       req.URL,
		StartedAt: started,
		Header:    flattenHeader(httpReq.Header, auth),
		Body:      truncate(string(payload), maxObservedBody),
	})

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		apiErr := transportError(ctx, reqCtx, err)
		c.observeFinish(id, FinishInfo{Duration: time.Since(started), Err: apiErr.Message})
		return nil, apiErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErr := transportError(ctx, reqCtx, err)
		c.observeFinish(id, FinishInfo{Status: resp.StatusCode, Duration: time.Since(started), Err: apiErr.Message})
		return nil, apiErr
	}

	finish := FinishInfo{
		Status:   resp.StatusCode,
		Duration: time.Since(started),
		Header:   flattenHeader(resp.Header, nil),
		Body:     truncate(string(body), maxObservedBody),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := statusError(resp.StatusCode, body)
		finish.Err = apiErr.Message
		c.observeFinish(id, finish)
		return nil, apiErr
	}

	c.observeFinish(id, finish)
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func sameHeader(a, b http.Header) bool {
	return maps.EqualFunc(a, b, slices.Equal)
}

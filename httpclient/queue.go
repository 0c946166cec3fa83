package httpclient

import (
	"context"
	"slices"
)

type result struct {
	resp *Response
	err  error
}

// parked is a call deferred while a refresh is in flight.
type parked struct {
	ctx  context.Context
	req  Request
	done chan result // buffered: settling never blocks
}

func newParked(ctx context.Context, req Request) *parked {
	return &parked{ctx: ctx, req: req, done: make(chan result, 1)}
}

func (p *parked) settle(resp *Response, err error) {
	select {
	case p.done <- result{resp: resp, err: err}:
	default:
	}
}

// queue holds parked calls in arrival order. Callers guard it with Client.mu.
type queue struct {
	items []*parked
}

func (q *queue) push(p *parked) {
	q.items = append(q.items, p)
}

// remove drops p and reports whether it was still queued.
func (q *queue) remove(p *parked) bool {
	i := slices.Index(q.items, p)
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	return true
}

// takeAll empties the queue, returning its records oldest first.
func (q *queue) takeAll() []*parked {
	items := q.items
	q.items = nil
	return items
}

func (q *queue) len() int {
	return len(q.items)
}

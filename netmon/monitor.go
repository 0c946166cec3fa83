// Package netmon keeps a bounded, newest-first log of outbound calls for
// on-device debugging. It implements httpclient.Observer.
package netmon

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-authgate/triply-cli/httpclient"
)

// MaxEntries bounds the log. The oldest entries fall off first.
const MaxEntries = 150

// State is the lifecycle of a logged call.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Entry is one logged call.
type Entry struct {
	ID             string
	Method         string
	URL            string
	StartedAt      time.Time
	CompletedAt    time.Time
	Status         int
	RequestHeader  map[string]string
	RequestBody    string
	ResponseHeader map[string]string
	ResponseBody   string
	Duration       time.Duration
	State          State
	Error          string
}

// Subscriber receives a snapshot of the log after every change.
type Subscriber func(entries []Entry)

// Monitor records calls reported by the HTTP client.
type Monitor struct {
	enabled bool
	now     func() time.Time

	mu      sync.Mutex
	entries []Entry
	subs    map[int]Subscriber
	nextSub int
}

var _ httpclient.Observer = (*Monitor)(nil)

// New returns a Monitor. A disabled monitor records nothing and every method is
// a no-op.
func New(enabled bool) *Monitor {
	return &Monitor{
		enabled: enabled,
		now:     time.Now,
		subs:    make(map[int]Subscriber),
	}
}

// Enabled reports whether the monitor records calls.
func (m *Monitor) Enabled() bool { return m.enabled }

// Start logs a dispatched call as pending and returns its entry id.
func (m *Monitor) Start(info httpclient.StartInfo) string {
	if !m.enabled {
		return ""
	}

	started := info.StartedAt
	if started.IsZero() {
		started = m.now()
	}
	e := Entry{
		ID:            uuid.NewString(),
		Method:        strings.ToUpper(info.Method),
		URL:           info.URL,
		StartedAt:     started,
		RequestHeader: info.Header,
		RequestBody:   info.Body,
		State:         StatePending,
	}

	m.mu.Lock()
	m.entries = append([]Entry{e}, m.entries...)
	if len(m.entries) > MaxEntries {
		m.entries = m.entries[:MaxEntries]
	}
	m.mu.Unlock()

	m.notify()
	return e.ID
}

// Finish settles the entry with the given id. Unknown ids, including entries
// already evicted or cleared, are ignored.
func (m *Monitor) Finish(id string, info httpclient.FinishInfo) {
	if !m.enabled || id == "" {
		return
	}

	m.mu.Lock()
	updated := false
	for i := range m.entries {
		e := &m.entries[i]
		if e.ID != id {
			continue
		}
		e.CompletedAt = m.now()
		e.Status = info.Status
		e.ResponseHeader = info.Header
		e.ResponseBody = info.Body
		e.Duration = info.Duration
		if e.Duration == 0 {
			e.Duration = e.CompletedAt.Sub(e.StartedAt)
		}
		e.State = StateSuccess
		if info.Err != "" {
			e.State = StateError
			e.Error = info.Err
		}
		updated = true
		break
	}
	m.mu.Unlock()

	if updated {
		m.notify()
	}
}

// Entries returns a snapshot of the log, newest first.
func (m *Monitor) Entries() []Entry {
	if !m.enabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Clear empties the log.
func (m *Monitor) Clear() {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	m.notify()
}

// Subscribe calls fn with the current log and again after every change until
// the returned function is called.
func (m *Monitor) Subscribe(fn Subscriber) (unsubscribe func()) {
	if !m.enabled {
		fn(nil)
		return func() {}
	}

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	snap := m.snapshot()
	m.mu.Unlock()

	fn(snap)
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) notify() {
	m.mu.Lock()
	snap := m.snapshot()
	subs := make([]Subscriber, 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// snapshot must be called with mu held.
func (m *Monitor) snapshot() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

package transport

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/lineage/internal/store"
)

// DefaultSafeOpenInterval spaces opens to computers that do not set their own.
const DefaultSafeOpenInterval = 5 * time.Second

// Factory creates an unopened transport for a computer.
type Factory func(c *store.Computer) (Transport, error)

// Pool shares one open transport per computer. The first request opens it,
// no earlier than the previous open plus the safe open interval; requests
// arriving meanwhile wait on the same open. The transport closes when the
// last lease is released.
type Pool struct {
	mu              sync.Mutex
	factory         Factory
	defaultInterval time.Duration
	now             func() time.Time
	entries         map[string]*entry
}

type entry struct {
	t        Transport
	refs     int
	waiters  int
	lastOpen time.Time
	pending  *attempt
}

// attempt is one in-flight open shared by every waiting request.
type attempt struct {
	done    chan struct{}
	cancel  context.CancelFunc
	waiters int
	t       Transport
	err     error
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithFactory replaces the transport constructor.
func WithFactory(f Factory) PoolOption {
	return func(p *Pool) { p.factory = f }
}

// WithSafeOpenInterval sets the interval used when a computer has none.
func WithSafeOpenInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.defaultInterval = d }
}

// NewPool creates an empty pool.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		factory:         New,
		defaultInterval: DefaultSafeOpenInterval,
		now:             time.Now,
		entries:         make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lease is a reference to an open transport. Release it when done.
type Lease struct {
	p        *Pool
	computer string
	t        Transport
	once     sync.Once
}

// Transport returns the shared transport.
func (l *Lease) Transport() Transport { return l.t }

// Computer returns the label of the leased computer.
func (l *Lease) Computer() string { return l.computer }

// Release drops the reference. Further calls do nothing.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.p.mu.Lock()
		defer l.p.mu.Unlock()
		e := l.p.entries[l.computer]
		e.refs--
		l.p.maybeCloseLocked(l.computer, e)
	})
}

// Request returns a lease on the computer's transport, opening it if
// needed. Cancelling ctx withdraws the request; an open nobody waits for
// any more is cancelled.
func (p *Pool) Request(ctx context.Context, c *store.Computer) (*Lease, error) {
	p.mu.Lock()
	e, ok := p.entries[c.Label]
	if !ok {
		e = &entry{}
		p.entries[c.Label] = e
	}
	if e.t != nil {
		e.refs++
		p.mu.Unlock()
		return &Lease{p: p, computer: c.Label, t: e.t}, nil
	}
	a := e.pending
	if a == nil {
		a = p.startOpenLocked(c, e)
	}
	a.waiters++
	e.waiters++
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		p.mu.Lock()
		a.waiters--
		e.waiters--
		if e.pending == a && a.waiters == 0 {
			// Abandon the open; a later request starts a fresh one.
			e.pending = nil
			a.cancel()
		}
		p.maybeCloseLocked(c.Label, e)
		p.mu.Unlock()
		return nil, ctx.Err()
	case <-a.done:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	a.waiters--
	e.waiters--
	if a.err != nil {
		return nil, a.err
	}
	e.refs++
	return &Lease{p: p, computer: c.Label, t: a.t}, nil
}

// RequestAsync requests a lease in the background and passes the result
// to cb. The returned function withdraws the request; cb still runs, with
// the context error or with a lease the callee must release.
func (p *Pool) RequestAsync(c *store.Computer, cb func(*Lease, error)) (cancel func()) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		l, err := p.Request(ctx, c)
		cb(l, err)
	}()
	return cancel
}

func (p *Pool) interval(c *store.Computer) time.Duration {
	if c.SafeOpenInterval > 0 {
		return c.SafeOpenInterval
	}
	return p.defaultInterval
}

func (p *Pool) startOpenLocked(c *store.Computer, e *entry) *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{done: make(chan struct{}), cancel: cancel}
	e.pending = a

	var wait time.Duration
	if !e.lastOpen.IsZero() {
		wait = e.lastOpen.Add(p.interval(c)).Sub(p.now())
	}
	comp := *c
	go p.open(ctx, &comp, e, a, wait)
	return a
}

func (p *Pool) open(ctx context.Context, c *store.Computer, e *entry, a *attempt, wait time.Duration) {
	defer a.cancel()

	t, err := p.dial(ctx, c, wait)

	p.mu.Lock()
	defer p.mu.Unlock()
	if e.pending != a {
		if t != nil {
			t.Close()
		}
		a.err = context.Canceled
		close(a.done)
		return
	}
	e.pending = nil
	a.t, a.err = t, err
	if err == nil {
		e.t = t
		e.lastOpen = p.now()
		slog.Info("transport opened", "computer", c.Label, "transport", c.TransportType)
	} else {
		slog.Warn("transport open failed", "computer", c.Label, "error", err)
	}
	close(a.done)
	p.maybeCloseLocked(c.Label, e)
}

func (p *Pool) dial(ctx context.Context, c *store.Computer, wait time.Duration) (Transport, error) {
	if wait > 0 {
		slog.Debug("waiting for safe open interval", "computer", c.Label, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	t, err := p.factory(c)
	if err != nil {
		return nil, err
	}
	if err := t.Open(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// maybeCloseLocked closes an open transport nobody holds or waits for.
func (p *Pool) maybeCloseLocked(label string, e *entry) {
	if e.t == nil || e.refs > 0 || e.waiters > 0 || e.pending != nil {
		return
	}
	if err := e.t.Close(); err != nil {
		slog.Warn("transport close failed", "computer", label, "error", err)
	}
	e.t = nil
	slog.Info("transport closed", "computer", label)
}

// Open lists the computers with an open transport and their lease counts.
func (p *Pool) Open() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int)
	for label, e := range p.entries {
		if e.t != nil {
			out[label] = e.refs
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Package browser manages a bounded set of reusable headless-browser page
// handles. The pool is the backpressure mechanism for the whole pipeline:
// no matter how many jobs the queue hands out, at most N pages are live.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/metrics"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser: pool is closed")

// NavigationResult is what a handle reports after navigation settles.
type NavigationResult struct {
	FinalURL string
	Title    string
	HTML     string
}

// Handle is one reusable browser page. A handle has exactly one holder at a
// time; the pool enforces that.
type Handle interface {
	// Navigate loads the URL and waits according to waitUntil ("load" or
	// "networkidle"). A deadline miss surfaces as context.DeadlineExceeded.
	Navigate(ctx context.Context, url string, timeout time.Duration, waitUntil string) (*NavigationResult, error)

	// Evaluate runs a JavaScript expression in the page, awaiting promises,
	// and unmarshals the result into out when out is non-nil.
	Evaluate(ctx context.Context, expr string, out any) error

	Close() error
}

// Factory creates a fresh Handle. Called lazily: the pool only creates
// handles when demand exceeds the idle set, up to capacity.
type Factory func(ctx context.Context) (Handle, error)

// Pool hands out Handles with a hard concurrency bound. Acquire blocks
// cooperatively while all handles are in use.
type Pool struct {
	factory Factory
	logger  *zap.SugaredLogger

	// slots is the capacity semaphore: one token per potential handle.
	slots chan struct{}

	mu     sync.Mutex
	idle   []Handle
	closed bool
}

// NewPool creates a pool of at most capacity concurrent handles.
func NewPool(capacity int, factory Factory, logger *zap.SugaredLogger) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	slots := make(chan struct{}, capacity)
	for i := 0; i < capacity; i++ {
		slots <- struct{}{}
	}
	return &Pool{
		factory: factory,
		logger:  logger,
		slots:   slots,
	}
}

// Acquire returns a leased handle, blocking until one is available or ctx
// is done. Callers must release the lease on every exit path.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.slots:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	var h Handle
	if n := len(p.idle); n > 0 {
		h = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if h == nil {
		created, err := p.factory(ctx)
		if err != nil {
			p.slots <- struct{}{}
			return nil, fmt.Errorf("browser: creating handle: %w", err)
		}
		h = created
		p.logger.Debugw("created browser handle")
	}

	metrics.BrowserHandlesInUse.Inc()
	return &Lease{pool: p, handle: h}, nil
}

// Close tears down all idle handles and rejects further acquisitions.
// Handles still leased are torn down by their error release.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, h := range idle {
		if err := h.Close(); err != nil {
			p.logger.Warnw("closing idle browser handle", "error", err)
		}
	}
}

func (p *Pool) put(h Handle, broken bool) {
	p.mu.Lock()
	closed := p.closed
	if !closed && !broken {
		p.idle = append(p.idle, h)
	}
	p.mu.Unlock()

	if closed || broken {
		// A handle that saw a failed attempt is discarded, not recycled:
		// the next caller must not inherit a stuck navigation or detached
		// page context. A replacement is created lazily on next demand.
		if err := h.Close(); err != nil {
			p.logger.Warnw("disposing browser handle", "error", err)
		}
	}

	metrics.BrowserHandlesInUse.Dec()
	if !closed {
		p.slots <- struct{}{}
	}
}

// Lease is one acquisition of a handle. Release is idempotent: only the
// first call returns the handle.
type Lease struct {
	pool   *Pool
	handle Handle
	once   sync.Once
}

// Handle returns the leased handle.
func (l *Lease) Handle() Handle { return l.handle }

// Release returns the handle to the pool. A nil err recycles the handle
// into the idle set; a non-nil err disposes it.
func (l *Lease) Release(err error) {
	l.once.Do(func() {
		l.pool.put(l.handle, err != nil)
	})
}

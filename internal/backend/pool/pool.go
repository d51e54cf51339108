// Package pool implements the Session Pool: a bounded set of reusable
// backend sessions keyed by working directory, used by Backend Invoker
// calls that opt into session reuse for parallel pipelines.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kdlabs/queuecore/internal/common/logger"
)

// Session is a checked-out unit of pooled backend state. Handle carries the
// concrete backend client (e.g. *copilotsdk.Client); the pool itself stays
// backend-agnostic and only manages lifecycle and idle bookkeeping.
type Session struct {
	ID               string
	WorkingDirectory string
	SdkSessionID     string
	Handle           interface{}
}

// Factory creates a new Session for workingDir.
type Factory func(ctx context.Context, workingDir string) (*Session, error)

// Destroyer tears down a Session's underlying resources.
type Destroyer func(*Session)

const (
	defaultMaxSessions = 5
	defaultIdleTimeout = 10 * time.Minute
)

// Pool is a bounded, idle-timeout-evicting set of sessions keyed by working
// directory.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	// idleMu guards calls into idle. It is separate from mu because the
	// LRU's eviction callback (onIdleEvicted) locks mu itself: calling
	// idle.Get/Add/Remove while already holding mu would deadlock the
	// first time an eviction fires synchronously inside that call.
	idleMu sync.Mutex

	max         int
	idleTimeout time.Duration
	total       int

	idle *expirable.LRU[string, *Session]
	// busy and creating are both keyed by working directory, not by
	// Session.ID: a Factory is free to derive ID from workingDir (the
	// copilot SDK one does), so keying by ID would let two concurrent
	// Checkouts for the same directory collide on the same busy-map slot
	// and silently leak one of the two sessions on Return.
	busy     map[string]*Session
	creating map[string]struct{}
	factory  Factory
	destroy  Destroyer
	logger   *logger.Logger
}

// Config holds the Session Pool's tunables.
type Config struct {
	MaxSessions int
	IdleTimeout time.Duration
}

// New constructs a Pool. factory creates a session for a working directory
// on checkout-miss; destroy releases a session's backend resources once its
// idle timer expires.
func New(cfg Config, factory Factory, destroy Destroyer, log *logger.Logger) *Pool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}

	p := &Pool{
		max:         cfg.MaxSessions,
		idleTimeout: cfg.IdleTimeout,
		busy:        make(map[string]*Session),
		creating:    make(map[string]struct{}),
		factory:     factory,
		destroy:     destroy,
		logger:      log,
	}
	p.cond = sync.NewCond(&p.mu)
	p.idle = expirable.NewLRU[string, *Session](cfg.MaxSessions, p.onIdleEvicted, cfg.IdleTimeout)
	return p
}

// onIdleEvicted is invoked by the LRU itself (never with mu held; possibly
// with idleMu held, when it fires inside idle.Add/Remove) when a session's
// idle timer elapses, when it is evicted for capacity, and when Checkout
// removes it for reuse. The last case is recognised by the session already
// being recorded in busy, and leaves the session alive.
func (p *Pool) onIdleEvicted(key string, s *Session) {
	p.mu.Lock()
	reclaimed := p.busy[key] == s
	p.mu.Unlock()
	if reclaimed {
		return
	}
	p.destroy(s)
	p.mu.Lock()
	p.total--
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Checkout returns an idle session for workingDir if one exists, otherwise
// creates a new one if under capacity, otherwise blocks until a slot frees.
func (p *Pool) Checkout(ctx context.Context, workingDir string) (*Session, error) {
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-stopWatch:
		}
	}()

	for {
		p.idleMu.Lock()
		s, ok := p.idle.Get(workingDir)
		if ok {
			// Record s as busy before removing it from idle: Remove fires
			// onIdleEvicted, which must not destroy a session being reused.
			p.mu.Lock()
			p.busy[workingDir] = s
			p.mu.Unlock()
			p.idle.Remove(workingDir)
		}
		p.idleMu.Unlock()
		if ok {
			return s, nil
		}

		p.mu.Lock()
		_, alreadyBusy := p.busy[workingDir]
		_, alreadyCreating := p.creating[workingDir]
		if alreadyBusy || alreadyCreating {
			// Someone else already owns this working directory; wait for
			// their Return rather than racing a second Factory call for
			// the same key.
			if ctx.Err() != nil {
				p.mu.Unlock()
				return nil, ctx.Err()
			}
			p.cond.Wait()
			p.mu.Unlock()
			continue
		}
		if p.total < p.max {
			p.total++
			p.creating[workingDir] = struct{}{}
			p.mu.Unlock()
			created, err := p.factory(ctx, workingDir)
			p.mu.Lock()
			delete(p.creating, workingDir)
			if err != nil {
				p.total--
				p.cond.Broadcast()
				p.mu.Unlock()
				return nil, fmt.Errorf("create session: %w", err)
			}
			p.busy[workingDir] = created
			p.cond.Broadcast()
			p.mu.Unlock()
			return created, nil
		}
		if ctx.Err() != nil {
			p.mu.Unlock()
			return nil, ctx.Err()
		}
		p.cond.Wait()
		p.mu.Unlock()
	}
}

// Return marks s idle again, starting its idle timer. A future Checkout for
// the same working directory reuses it until the timer elapses.
func (p *Pool) Return(s *Session) {
	p.mu.Lock()
	delete(p.busy, s.WorkingDirectory)
	p.mu.Unlock()

	p.idleMu.Lock()
	p.idle.Add(s.WorkingDirectory, s)
	p.idleMu.Unlock()

	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Len returns the current total session count (idle + busy).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

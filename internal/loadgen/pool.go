package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/wesleyorama2/loadpair/internal/loadgen/checks"
	"github.com/wesleyorama2/loadpair/internal/loadgen/metrics"
)

// VUFactory creates the Virtual User with the given identifier.
type VUFactory func(id int) (*VirtualUser, error)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Name of the owning scenario, used in errors
	Name string

	// PreAllocated VUs are created by NewPool
	PreAllocated int

	// Max is the hard ceiling on allocated VUs
	Max int

	// NewVU creates VUs; defaults to NewVirtualUser with http.DefaultClient
	NewVU VUFactory
}

// Pool manages a bounded set of reusable Virtual Users.
//
// Idle VUs are handed out first; when none is idle a new VU is created
// until Max is reached, after which Acquire reports ErrPoolExhausted.
// VUs are only destroyed by Close at run teardown.
//
// # Thread Safety
//
// Acquire, AcquireContext and Release may be called concurrently. A busy VU
// is never handed to a second caller.
type Pool struct {
	name  string
	max   int
	newVU VUFactory

	mu     sync.Mutex
	vus    []*VirtualUser
	idle   []*VirtualUser
	busy   int
	peak   int
	notify chan struct{} // closed and replaced on every Release
}

// NewPool creates a pool and pre-allocates cfg.PreAllocated VUs.
//
// A VU that cannot be pre-allocated is a fatal error.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Max <= 0 {
		return nil, fmt.Errorf("%w: scenario %q: max VUs must be positive", ErrConfigInvalid, cfg.Name)
	}
	if cfg.PreAllocated < 0 || cfg.PreAllocated > cfg.Max {
		return nil, fmt.Errorf("%w: scenario %q: pre-allocated VUs (%d) must be between 0 and max VUs (%d)",
			ErrConfigInvalid, cfg.Name, cfg.PreAllocated, cfg.Max)
	}

	newVU := cfg.NewVU
	if newVU == nil {
		newVU = func(id int) (*VirtualUser, error) {
			return NewVirtualUser(id, http.DefaultClient), nil
		}
	}

	p := &Pool{
		name:   cfg.Name,
		max:    cfg.Max,
		newVU:  newVU,
		vus:    make([]*VirtualUser, 0, cfg.PreAllocated),
		idle:   make([]*VirtualUser, 0, cfg.PreAllocated),
		notify: make(chan struct{}),
	}

	for i := 0; i < cfg.PreAllocated; i++ {
		vu, err := p.create()
		if err != nil {
			return nil, err
		}
		p.idle = append(p.idle, vu)
	}
	return p, nil
}

// create allocates a new VU. Caller holds mu or owns p exclusively.
func (p *Pool) create() (*VirtualUser, error) {
	id := len(p.vus) + 1
	vu, err := p.newVU(id)
	if err == nil && vu == nil {
		err = errors.New("factory returned no virtual user")
	}
	if err != nil {
		return nil, &FatalError{Scenario: p.name, Err: fmt.Errorf("creating virtual user %d: %w", id, err)}
	}
	vu.pool = p
	p.vus = append(p.vus, vu)
	return vu, nil
}

// Acquire hands out an idle VU without blocking.
//
// Returns ErrPoolExhausted when all Max VUs are busy, or a *FatalError when
// a new VU could not be created.
func (p *Pool) Acquire() (*VirtualUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked()
}

func (p *Pool) acquireLocked() (*VirtualUser, error) {
	var vu *VirtualUser
	if n := len(p.idle); n > 0 {
		vu = p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
	} else if len(p.vus) < p.max {
		created, err := p.create()
		if err != nil {
			return nil, err
		}
		vu = created
	} else {
		return nil, ErrPoolExhausted
	}

	if !vu.markBusy() {
		// Only reachable if a VU was released twice into the idle list.
		return nil, &FatalError{Scenario: p.name, Err: fmt.Errorf("virtual user %d handed out while busy", vu.ID)}
	}
	p.busy++
	if p.busy > p.peak {
		p.peak = p.busy
	}
	return vu, nil
}

// AcquireContext blocks until a VU is available or ctx is done.
//
// Closed-model loops use this; the arrival-rate scheduler never does.
func (p *Pool) AcquireContext(ctx context.Context) (*VirtualUser, error) {
	for {
		p.mu.Lock()
		vu, err := p.acquireLocked()
		if err == nil || !errors.Is(err, ErrPoolExhausted) {
			p.mu.Unlock()
			return vu, err
		}
		wait := p.notify
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a busy VU to the pool. Releasing an idle VU or a VU of
// another pool is a no-op.
func (p *Pool) Release(vu *VirtualUser) {
	if vu == nil || vu.pool != p {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !vu.markIdle() {
		return
	}
	p.idle = append(p.idle, vu)
	p.busy--

	close(p.notify)
	p.notify = make(chan struct{})
}

// Name returns the scenario name of the pool.
func (p *Pool) Name() string {
	return p.name
}

// Max returns the maximum number of VUs.
func (p *Pool) Max() int {
	return p.max
}

// Allocated returns the number of VUs created so far.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.vus)
}

// Busy returns the number of VUs currently handed out.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Peak returns the highest number of simultaneously busy VUs.
func (p *Pool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// VUs returns a snapshot of every allocated VU.
func (p *Pool) VUs() []*VirtualUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	vus := make([]*VirtualUser, len(p.vus))
	copy(vus, p.vus)
	return vus
}

// Collect merges the metric and check shards of every VU.
func (p *Pool) Collect() (*metrics.Registry, *checks.Tally) {
	reg := metrics.NewRegistry()
	tally := checks.NewTally()
	for _, vu := range p.VUs() {
		reg.Merge(vu.Metrics)
		tally.Merge(vu.Checks)
	}
	return reg, tally
}

// Close releases idle network connections held by the VUs' clients.
func (p *Pool) Close() {
	seen := make(map[*http.Client]bool)
	for _, vu := range p.VUs() {
		if vu.HTTPClient == nil || seen[vu.HTTPClient] {
			continue
		}
		seen[vu.HTTPClient] = true
		vu.HTTPClient.CloseIdleConnections()
	}
}

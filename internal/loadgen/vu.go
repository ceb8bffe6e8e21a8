package loadgen

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/loadpair/internal/loadgen/checks"
	"github.com/wesleyorama2/loadpair/internal/loadgen/metrics"
)

// VUState represents whether a Virtual User is handed out.
type VUState int32

const (
	// VUStateIdle indicates the VU is in the pool, ready to be acquired.
	VUStateIdle VUState = iota
	// VUStateBusy indicates the VU is running an iteration.
	VUStateBusy
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// VirtualUser is a reusable execution slot representing one logical caller.
//
// Each VU has its own:
// - metric registry and check tally (merged at the end of the run)
// - iteration counter
// - busy/idle state
//
// VUs are owned by exactly one Pool and are never shared across scenarios.
type VirtualUser struct {
	// Sequential identifier, unique within the pool
	ID int

	// Globally unique identifier
	UUID uuid.UUID

	// HTTP client used by iteration functions (usually shared per pool)
	HTTPClient *http.Client

	// Local metric shard
	Metrics *metrics.Registry

	// Local check shard
	Checks *checks.Tally

	pool      *Pool
	state     atomic.Int32
	iteration atomic.Int64
	lastUsed  atomic.Int64 // unix nanoseconds
}

// NewVirtualUser creates an idle Virtual User.
func NewVirtualUser(id int, client *http.Client) *VirtualUser {
	if client == nil {
		client = http.DefaultClient
	}
	return &VirtualUser{
		ID:         id,
		UUID:       uuid.New(),
		HTTPClient: client,
		Metrics:    metrics.NewRegistry(),
		Checks:     checks.NewTally(),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// LastUsed returns when the VU was last acquired (zero if never).
func (vu *VirtualUser) LastUsed() time.Time {
	ns := vu.lastUsed.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// NextIteration increments and returns the iteration counter.
func (vu *VirtualUser) NextIteration() int64 {
	return vu.iteration.Add(1)
}

func (vu *VirtualUser) markBusy() bool {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateBusy)) {
		return false
	}
	vu.lastUsed.Store(time.Now().UnixNano())
	return true
}

func (vu *VirtualUser) markIdle() bool {
	return vu.state.CompareAndSwap(int32(VUStateBusy), int32(VUStateIdle))
}

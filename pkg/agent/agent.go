// Package agent implements C4, the Agent Registry: it owns every Agent
// Instance, enforces the global concurrency ceiling, and drives each
// instance's lifecycle state machine, via a mutex-guarded map of in-flight
// work plus a reserved-slots counter that rejects dispatch once the
// concurrency ceiling is reached.
package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agent-forge/core/pkg/store"
)

// State is one node of the Agent Instance lifecycle state machine:
// offline -> idle <-> working -> idle, with error reachable from working
// and offline terminal on shutdown.
type State string

const (
	StateOffline State = "offline"
	StateIdle    State = "idle"
	StateWorking State = "working"
	StateError   State = "error"
)

// ErrBusy is returned by Acquire when an always_on role's singleton is
// already working.
var ErrBusy = errors.New("agent instance busy")

// ErrNoneAvailable is returned by Acquire when an on_demand role has no free
// concurrency_limit slot.
var ErrNoneAvailable = errors.New("no agent instance available")

// ErrUnknownRole is returned by Acquire for a role with no loaded profile.
var ErrUnknownRole = errors.New("unknown agent role")

// Instance is one realized Agent Instance.
type Instance struct {
	ID            string
	Profile       store.AgentProfile
	state         State
	lastHeartbeat time.Time
}

// State returns the instance's current lifecycle state.
func (i *Instance) State() State { return i.state }

// Registry is C4. Safe for concurrent use.
type Registry struct {
	mu             sync.Mutex
	profiles       map[string]store.AgentProfile // by role, always_on singleton or on_demand template
	instances      map[string]*Instance          // by instance ID
	byRole         map[string][]*Instance
	globalCeiling  int
	workingCount   int
	heartbeatEvery time.Duration
	missMultiple   int
	logger         *slog.Logger
	nextID         int
}

// Config configures the registry's concurrency ceiling and heartbeat policy.
type Config struct {
	GlobalCeiling         int
	HeartbeatInterval     time.Duration
	HeartbeatMissMultiple int
}

// New constructs a Registry and instantiates every always_on profile.
func New(profiles []store.AgentProfile, cfg Config) *Registry {
	r := &Registry{
		profiles:       make(map[string]store.AgentProfile),
		instances:      make(map[string]*Instance),
		byRole:         make(map[string][]*Instance),
		globalCeiling:  cfg.GlobalCeiling,
		heartbeatEvery: cfg.HeartbeatInterval,
		missMultiple:   cfg.HeartbeatMissMultiple,
		logger:         slog.Default().With("component", "agent-registry"),
	}
	for _, p := range profiles {
		r.profiles[string(p.Role)] = p
		if p.Lifecycle == store.LifecycleAlwaysOn {
			inst := r.newInstance(p)
			inst.state = StateIdle
			r.byRole[string(p.Role)] = append(r.byRole[string(p.Role)], inst)
		}
	}
	return r
}

func (r *Registry) newInstance(p store.AgentProfile) *Instance {
	r.nextID++
	inst := &Instance{
		ID:      fmt.Sprintf("%s-%d", p.AgentID, r.nextID),
		Profile: p,
		state:   StateOffline,
	}
	r.instances[inst.ID] = inst
	return inst
}

// Acquire resolves an idle instance for role, or constructs a fresh one for
// on_demand roles up to concurrency_limit. Returns ErrBusy for a working
// always_on singleton, ErrNoneAvailable when every on_demand slot is taken,
// and ErrUnknownRole for a role with no loaded profile.
func (r *Registry) Acquire(role string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	if r.globalCeiling > 0 && r.workingCount >= r.globalCeiling {
		return nil, ErrNoneAvailable
	}

	instances := r.byRole[role]
	if profile.Lifecycle == store.LifecycleAlwaysOn {
		if len(instances) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
		}
		inst := instances[0]
		if inst.state == StateWorking {
			return nil, ErrBusy
		}
		if inst.state == StateError {
			return nil, ErrBusy
		}
		r.markWorking(inst)
		return inst, nil
	}

	// on_demand: reuse an idle instance if one exists, else construct a new
	// one up to concurrency_limit.
	for _, inst := range instances {
		if inst.state == StateIdle {
			r.markWorking(inst)
			return inst, nil
		}
	}
	if len(instances) >= profile.ConcurrencyLimit {
		return nil, ErrNoneAvailable
	}
	inst := r.newInstance(profile)
	r.byRole[role] = append(r.byRole[role], inst)
	r.markWorking(inst)
	return inst, nil
}

func (r *Registry) markWorking(inst *Instance) {
	inst.state = StateWorking
	inst.lastHeartbeat = time.Now()
	r.workingCount++
}

// Release marks inst idle and frees its concurrency slot.
func (r *Registry) Release(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.state == StateWorking {
		r.workingCount--
	}
	inst.state = StateIdle
}

// Heartbeat records a liveness signal from a working instance.
func (r *Registry) Heartbeat(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst.lastHeartbeat = time.Now()
}

// SweepHeartbeats transitions any working instance silent for more than
// missMultiple*heartbeatEvery to StateError, releasing its slot. It runs
// only when called; the supervisor does not call it.
func (r *Registry) SweepHeartbeats() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := time.Duration(r.missMultiple) * r.heartbeatEvery
	var errored []*Instance
	for _, inst := range r.instances {
		if inst.state != StateWorking {
			continue
		}
		if time.Since(inst.lastHeartbeat) > threshold {
			inst.state = StateError
			r.workingCount--
			errored = append(errored, inst)
			r.logger.Warn("agent instance missed heartbeat deadline", "instance", inst.ID, "role", inst.Profile.Role)
		}
	}
	return errored
}

// Reset recovers an errored instance to idle on a supervisor-initiated
// reset.
func (r *Registry) Reset(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.state == StateError {
		inst.state = StateIdle
	}
}

// Shutdown transitions every instance to the terminal offline state.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances {
		inst.state = StateOffline
	}
	r.workingCount = 0
}

// WorkingCount reports the current number of instances in state working.
func (r *Registry) WorkingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workingCount
}

// InstanceView is a read-only snapshot of one Agent Instance, for the
// control plane's /agents listing.
type InstanceView struct {
	ID            string    `json:"id"`
	Role          string    `json:"role"`
	State         State     `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Snapshot returns a point-in-time view of every known Agent Instance.
func (r *Registry) Snapshot() []InstanceView {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := make([]InstanceView, 0, len(r.instances))
	for _, inst := range r.instances {
		views = append(views, InstanceView{
			ID:            inst.ID,
			Role:          string(inst.Profile.Role),
			State:         inst.state,
			LastHeartbeat: inst.lastHeartbeat,
		})
	}
	return views
}

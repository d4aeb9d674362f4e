package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-forge/core/pkg/store"
)

func testProfiles() []store.AgentProfile {
	return []store.AgentProfile{
		{AgentID: "coordinator-1", Role: store.RoleCoordinator, Lifecycle: store.LifecycleAlwaysOn, ConcurrencyLimit: 1},
		{AgentID: "developer", Role: store.RoleDeveloper, Lifecycle: store.LifecycleOnDemand, ConcurrencyLimit: 2},
	}
}

func TestAcquire_AlwaysOnSingletonBusyWhenWorking(t *testing.T) {
	r := New(testProfiles(), Config{GlobalCeiling: 10, HeartbeatInterval: time.Second, HeartbeatMissMultiple: 3})

	inst, err := r.Acquire(string(store.RoleCoordinator))
	require.NoError(t, err)
	assert.Equal(t, StateWorking, inst.State())

	_, err = r.Acquire(string(store.RoleCoordinator))
	assert.ErrorIs(t, err, ErrBusy)
}

func TestAcquire_OnDemandRespectsConcurrencyLimit(t *testing.T) {
	r := New(testProfiles(), Config{GlobalCeiling: 10, HeartbeatInterval: time.Second, HeartbeatMissMultiple: 3})

	first, err := r.Acquire(string(store.RoleDeveloper))
	require.NoError(t, err)
	second, err := r.Acquire(string(store.RoleDeveloper))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = r.Acquire(string(store.RoleDeveloper))
	assert.ErrorIs(t, err, ErrNoneAvailable)
}

func TestAcquire_GlobalCeilingEnforced(t *testing.T) {
	r := New(testProfiles(), Config{GlobalCeiling: 1, HeartbeatInterval: time.Second, HeartbeatMissMultiple: 3})

	_, err := r.Acquire(string(store.RoleCoordinator))
	require.NoError(t, err)

	_, err = r.Acquire(string(store.RoleDeveloper))
	assert.ErrorIs(t, err, ErrNoneAvailable)
}

func TestRelease_FreesSlotForReacquire(t *testing.T) {
	r := New(testProfiles(), Config{GlobalCeiling: 10, HeartbeatInterval: time.Second, HeartbeatMissMultiple: 3})

	inst, err := r.Acquire(string(store.RoleCoordinator))
	require.NoError(t, err)
	r.Release(inst)
	assert.Equal(t, StateIdle, inst.State())

	_, err = r.Acquire(string(store.RoleCoordinator))
	require.NoError(t, err)
}

func TestSweepHeartbeats_TransitionsStaleInstanceToError(t *testing.T) {
	r := New(testProfiles(), Config{GlobalCeiling: 10, HeartbeatInterval: 10 * time.Millisecond, HeartbeatMissMultiple: 2})

	inst, err := r.Acquire(string(store.RoleCoordinator))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	errored := r.SweepHeartbeats()
	require.Len(t, errored, 1)
	assert.Equal(t, StateError, inst.State())
	assert.Equal(t, 0, r.WorkingCount())
}

func TestReset_RecoversErroredInstanceToIdle(t *testing.T) {
	r := New(testProfiles(), Config{GlobalCeiling: 10, HeartbeatInterval: time.Millisecond, HeartbeatMissMultiple: 1})
	inst, err := r.Acquire(string(store.RoleCoordinator))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	r.SweepHeartbeats()
	require.Equal(t, StateError, inst.State())

	r.Reset(inst)
	assert.Equal(t, StateIdle, inst.State())
}

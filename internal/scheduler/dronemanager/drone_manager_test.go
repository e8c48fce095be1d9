package dronemanager

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyToResultsRepository(t *testing.T) {
	process := Process{Drone: "drone1", Pid: 222}
	tests := map[string]struct {
		sourcePath string
		copyBack   bool
		expectCopy bool
	}{
		"special task, copy-back disabled": {
			sourcePath: "hosts/122-verify/status.log",
			copyBack:   false,
			expectCopy: false,
		},
		"special task, copy-back enabled": {
			sourcePath: "hosts/122-verify/status.log",
			copyBack:   true,
			expectCopy: true,
		},
		"ordinary job, copy-back disabled": {
			sourcePath: "123-mytest/status.log",
			copyBack:   false,
			expectCopy: true,
		},
		"ordinary job, copy-back enabled": {
			sourcePath: "123-mytest/status.log",
			copyBack:   true,
			expectCopy: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			copier := &testCopier{}
			m := New([]string{"drone1"}, &testExecutor{}, copier, &testPolicy{copyBack: tc.copyBack}, &testLister{})

			err := m.CopyToResultsRepository(context.Background(), process, tc.sourcePath, "")
			require.NoError(t, err)

			if tc.expectCopy {
				require.Len(t, copier.copies, 1)
				assert.Equal(t, tc.sourcePath, copier.copies[0])
			} else {
				assert.Empty(t, copier.copies)
			}
		})
	}
}

func TestCopyToResultsRepository_FlagReadPerCall(t *testing.T) {
	policy := &testPolicy{copyBack: false}
	copier := &testCopier{}
	m := New([]string{"drone1"}, &testExecutor{}, copier, policy, &testLister{})
	process := Process{Drone: "drone1", Pid: 222}

	require.NoError(t, m.CopyToResultsRepository(context.Background(), process, "hosts/1-verify/x", ""))
	assert.Empty(t, copier.copies)

	// Toggling the flag takes effect without reconstructing the manager.
	policy.copyBack = true
	require.NoError(t, m.CopyToResultsRepository(context.Background(), process, "hosts/1-verify/x", ""))
	assert.Len(t, copier.copies, 1)
}

func TestQueueKillProcess_RoutesToOwningDrone(t *testing.T) {
	exec := &testExecutor{}
	m := New([]string{"drone1", "drone2"}, exec, &testCopier{}, &testPolicy{}, &testLister{})

	require.NoError(t, m.QueueKillProcess(Process{Drone: "drone2", Pid: 111}))
	require.NoError(t, m.ExecuteQueuedCalls(context.Background()))

	require.Len(t, exec.calls, 1)
	assert.Equal(t, "drone2", exec.calls[0].drone)
	assert.Equal(t, KillProcessesMethod, exec.calls[0].Method)
}

func TestQueueKillProcess_UnknownDrone(t *testing.T) {
	m := New([]string{"drone1"}, &testExecutor{}, &testCopier{}, &testPolicy{}, &testLister{})
	assert.Error(t, m.QueueKillProcess(Process{Drone: "nosuch", Pid: 111}))
}

func TestPickDrone(t *testing.T) {
	m := New([]string{"drone1", "drone2", "drone3"}, &testExecutor{}, &testCopier{}, &testPolicy{}, &testLister{})
	m.Drone("drone1").QueueJob(1, "host1")
	m.Drone("drone1").QueueJob(2, "host2")
	m.Drone("drone2").QueueJob(3, "host3")

	picked := m.PickDrone(10)
	require.NotNil(t, picked)
	assert.Equal(t, "drone3", picked.Name())

	// Full drones are skipped entirely.
	picked = m.PickDrone(2)
	require.NotNil(t, picked)
	assert.Equal(t, "drone3", picked.Name())

	// Nil when every drone is at the limit.
	m.Drone("drone3").QueueJob(4, "host4")
	assert.Nil(t, m.PickDrone(1))

	assert.Equal(t, 4, m.TotalActiveProcesses())
}

func TestRefreshActiveProcesses(t *testing.T) {
	lister := &testLister{procs: map[string][]Process{
		"drone1": {{Drone: "drone1", Pid: 111}, {Drone: "drone1", Pid: 222}},
	}}
	m := New([]string{"drone1", "drone2"}, &testExecutor{}, &testCopier{}, &testPolicy{}, lister)

	// Stale optimistic counts from earlier dispatches are overwritten.
	m.Drone("drone1").QueueJob(1, "host1")
	m.Drone("drone1").QueueJob(2, "host2")
	m.Drone("drone1").QueueJob(3, "host3")
	m.Drone("drone2").QueueJob(4, "host4")

	require.NoError(t, m.RefreshActiveProcesses(context.Background()))
	assert.Equal(t, 2, m.Drone("drone1").ActiveProcesses())
	assert.Equal(t, 0, m.Drone("drone2").ActiveProcesses())
}

func TestRefreshActiveProcesses_UnpollableDroneKeepsPreviousCount(t *testing.T) {
	lister := &testLister{
		procs:    map[string][]Process{"drone2": {{Drone: "drone2", Pid: 333}}},
		failures: map[string]bool{"drone1": true},
	}
	m := New([]string{"drone1", "drone2"}, &testExecutor{}, &testCopier{}, &testPolicy{}, lister)
	m.Drone("drone1").QueueJob(1, "host1")

	err := m.RefreshActiveProcesses(context.Background())
	assert.Error(t, err)

	// The unreachable drone stays at its last known count; the other drone
	// is still refreshed.
	assert.Equal(t, 1, m.Drone("drone1").ActiveProcesses())
	assert.Equal(t, 1, m.Drone("drone2").ActiveProcesses())
}

type testCopier struct {
	copies []string
}

func (t *testCopier) Copy(_ context.Context, _ Process, sourcePath string, _ string) error {
	t.copies = append(t.copies, sourcePath)
	return nil
}

type testPolicy struct {
	copyBack bool
}

func (t *testPolicy) CopyTaskResultsBack() bool {
	return t.copyBack
}

type testLister struct {
	procs    map[string][]Process
	failures map[string]bool
}

func (t *testLister) ListProcesses(_ context.Context, drone string) ([]Process, error) {
	if t.failures[drone] {
		return nil, errors.Errorf("drone %s unreachable", drone)
	}
	return append([]Process{}, t.procs[drone]...), nil
}

package dronemanager

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteQueuedCalls_KillBatchComesFirst(t *testing.T) {
	d := NewDrone("drone1")
	exec := &testExecutor{}

	// Work is queued before the abort arrives; the kill must still flush first.
	d.QueueJob(42, "chromeos1-row1-rack1-host2")
	d.QueueKillProcess(Process{Drone: "drone1", Pid: 111})

	require.NoError(t, d.ExecuteQueuedCalls(context.Background(), exec))

	require.Len(t, exec.calls, 2)
	assert.Equal(t, KillProcessesMethod, exec.calls[0].Method)
	assert.Equal(t, []interface{}{[]Process{{Drone: "drone1", Pid: 111}}}, exec.calls[0].Args)
	assert.Equal(t, RunJobMethod, exec.calls[1].Method)

	// A second flush within the same tick issues no further kill call.
	exec.calls = nil
	require.NoError(t, d.ExecuteQueuedCalls(context.Background(), exec))
	assert.Empty(t, exec.calls)
}

func TestExecuteQueuedCalls_EmptyFlushIsIdempotent(t *testing.T) {
	d := NewDrone("drone1")
	exec := &testExecutor{}

	require.NoError(t, d.ExecuteQueuedCalls(context.Background(), exec))
	require.NoError(t, d.ExecuteQueuedCalls(context.Background(), exec))
	assert.Empty(t, exec.calls)
}

func TestQueueKillProcess_DuplicatesPreserved(t *testing.T) {
	d := NewDrone("drone1")
	exec := &testExecutor{}

	p := Process{Drone: "drone1", Pid: 111}
	d.QueueKillProcess(p)
	d.QueueKillProcess(p)

	require.NoError(t, d.ExecuteQueuedCalls(context.Background(), exec))

	require.Len(t, exec.calls, 1)
	assert.Equal(t, []interface{}{[]Process{p, p}}, exec.calls[0].Args)
}

func TestExecuteQueuedCalls_KillQueueClearedEvenOnFailure(t *testing.T) {
	d := NewDrone("drone1")
	exec := &testExecutor{failMethods: map[string]bool{KillProcessesMethod: true}}

	d.QueueKillProcess(Process{Drone: "drone1", Pid: 111})
	err := d.ExecuteQueuedCalls(context.Background(), exec)
	assert.Error(t, err)

	// The failed batch is not retried on the next flush.
	exec.calls = nil
	exec.failMethods = nil
	require.NoError(t, d.ExecuteQueuedCalls(context.Background(), exec))
	assert.Empty(t, exec.calls)
}

func TestExecuteQueuedCalls_FailedCallDoesNotStopFlush(t *testing.T) {
	d := NewDrone("drone1")
	exec := &testExecutor{failMethods: map[string]bool{KillProcessesMethod: true}}

	d.QueueKillProcess(Process{Drone: "drone1", Pid: 111})
	d.QueueJob(42, "chromeos1-row1-rack1-host2")

	err := d.ExecuteQueuedCalls(context.Background(), exec)
	assert.Error(t, err)

	// The dispatch call still went out after the failed kill.
	require.Len(t, exec.calls, 2)
	assert.Equal(t, RunJobMethod, exec.calls[1].Method)
}

func TestActiveProcessAccounting(t *testing.T) {
	d := NewDrone("drone1")
	assert.Equal(t, 0, d.ActiveProcesses())

	d.QueueJob(1, "host1")
	d.QueueJob(2, "host2")
	assert.Equal(t, 2, d.ActiveProcesses())

	// The refresh overwrites the optimistic dispatch increments.
	d.SetActiveProcesses(1)
	assert.Equal(t, 1, d.ActiveProcesses())

	// Never goes negative, even on a nonsense report.
	d.SetActiveProcesses(-3)
	assert.Equal(t, 0, d.ActiveProcesses())
}

type executedCall struct {
	drone string
	RemoteCall
}

type testExecutor struct {
	calls       []executedCall
	failMethods map[string]bool
}

func (t *testExecutor) Call(_ context.Context, drone string, call RemoteCall) error {
	t.calls = append(t.calls, executedCall{drone: drone, RemoteCall: call})
	if t.failMethods[call.Method] {
		return errors.Errorf("call %s failed", call.Method)
	}
	return nil
}

package dronemanager

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// KillProcessesMethod is the remote call that terminates a batch of
// processes on a drone.
const KillProcessesMethod = "kill_processes"

// RunJobMethod is the remote call that launches an autoserv process for a
// queue entry on a drone.
const RunJobMethod = "run_autoserv"

// ListProcessesMethod is the remote call that reports the job processes
// currently running on a drone, one pid per output line.
const ListProcessesMethod = "list_processes"

// Process is a handle to an OS process executing a job step on a drone.
// Ephemeral: created when the step launches, gone once reaped.
type Process struct {
	Drone string
	Pid   int32
}

// RemoteCall is one pending operation for a drone, flushed at the end of the
// scheduling tick.
type RemoteCall struct {
	Method string
	Args   []interface{}
}

// Executor is the remote-execution channel to a drone.
type Executor interface {
	Call(ctx context.Context, drone string, call RemoteCall) error
}

// Drone accumulates remote calls during one scheduling tick and flushes them
// as a batch. All mutation happens on the single scheduling goroutine, so no
// locking is needed.
type Drone struct {
	name            string
	queuedCalls     []RemoteCall
	processesToKill []Process
	activeProcesses int
}

func NewDrone(name string) *Drone {
	return &Drone{name: name}
}

func (d *Drone) Name() string {
	return d.name
}

// ActiveProcesses is the number of job processes this drone is believed to be
// running.
func (d *Drone) ActiveProcesses() int {
	return d.activeProcesses
}

// QueueCall appends a remote call to this tick's pending list.
func (d *Drone) QueueCall(method string, args ...interface{}) {
	d.queuedCalls = append(d.queuedCalls, RemoteCall{Method: method, Args: args})
}

// QueueJob queues the launch of a job process on this drone.
func (d *Drone) QueueJob(jobID int64, hostname string) {
	d.QueueCall(RunJobMethod, jobID, hostname)
	d.activeProcesses++
}

// SetActiveProcesses overwrites the bookkeeping count with the number of
// processes the drone actually reports. Called from the per-tick refresh;
// the optimistic QueueJob increments only bridge the gap until then.
func (d *Drone) SetActiveProcesses(n int) {
	if n < 0 {
		n = 0
	}
	d.activeProcesses = n
}

// QueueKillProcess adds a process to this tick's kill batch. Duplicates are
// kept as-is: the downstream kill tolerates already-dead pids, so a duplicate
// is wasteful but harmless.
func (d *Drone) QueueKillProcess(p Process) {
	d.processesToKill = append(d.processesToKill, p)
}

// ClearProcessesToKill empties the kill batch.
func (d *Drone) ClearProcessesToKill() {
	d.processesToKill = nil
}

// ExecuteQueuedCalls flushes this tick's pending calls through the executor.
// If any processes are queued for killing, a single kill_processes call
// carrying the whole batch is inserted at position zero, so stale processes
// are asked to die before new work reaches the drone in the same flush. The
// kill batch is cleared unconditionally, even when empty, so every tick
// starts from a clean slate. A failed call does not stop the rest of the
// flush; failures are aggregated into the returned error.
func (d *Drone) ExecuteQueuedCalls(ctx context.Context, executor Executor) error {
	calls := d.queuedCalls
	if len(d.processesToKill) > 0 {
		batch := make([]Process, len(d.processesToKill))
		copy(batch, d.processesToKill)
		kill := RemoteCall{Method: KillProcessesMethod, Args: []interface{}{batch}}
		calls = append([]RemoteCall{kill}, calls...)
	}
	d.ClearProcessesToKill()
	d.queuedCalls = nil

	var result *multierror.Error
	for _, call := range calls {
		if err := executor.Call(ctx, d.name, call); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

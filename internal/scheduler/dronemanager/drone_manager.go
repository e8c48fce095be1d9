package dronemanager

import (
	"context"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// specialTaskPrefix marks results paths written by verify/repair/cleanup
// tasks, e.g. hosts/122-verify. Ordinary job results live under the job id.
const specialTaskPrefix = "hosts/"

// ResultsCopier copies results from a drone back to the permanent results
// repository. Supplied by the outer scheduler.
type ResultsCopier interface {
	Copy(ctx context.Context, p Process, sourcePath string, destinationPath string) error
}

// CopyBackPolicy reports whether special-task results should be copied back.
// Read fresh on every copy so operators can toggle it at runtime.
type CopyBackPolicy interface {
	CopyTaskResultsBack() bool
}

// ProcessLister reports the job processes currently running on a drone.
type ProcessLister interface {
	ListProcesses(ctx context.Context, drone string) ([]Process, error)
}

// DroneManager owns the set of drones this scheduler dispatches to and
// mediates results copy-back.
type DroneManager struct {
	drones   map[string]*Drone
	executor Executor
	copier   ResultsCopier
	policy   CopyBackPolicy
	lister   ProcessLister
}

func New(droneNames []string, executor Executor, copier ResultsCopier, policy CopyBackPolicy, lister ProcessLister) *DroneManager {
	drones := make(map[string]*Drone, len(droneNames))
	for _, name := range droneNames {
		drones[name] = NewDrone(name)
	}
	return &DroneManager{
		drones:   drones,
		executor: executor,
		copier:   copier,
		policy:   policy,
		lister:   lister,
	}
}

// Drone returns the drone with the given name, or nil.
func (m *DroneManager) Drone(name string) *Drone {
	return m.drones[name]
}

// Drones returns all drones in name order, so flushes happen in a stable
// sequence.
func (m *DroneManager) Drones() []*Drone {
	names := maps.Keys(m.drones)
	slices.Sort(names)
	drones := make([]*Drone, len(names))
	for i, name := range names {
		drones[i] = m.drones[name]
	}
	return drones
}

// PickDrone returns the least-loaded drone with capacity for another process
// under maxProcessesPerDrone, or nil if every drone is full.
func (m *DroneManager) PickDrone(maxProcessesPerDrone int) *Drone {
	var best *Drone
	for _, d := range m.Drones() {
		if d.ActiveProcesses() >= maxProcessesPerDrone {
			continue
		}
		if best == nil || d.ActiveProcesses() < best.ActiveProcesses() {
			best = d
		}
	}
	return best
}

// TotalActiveProcesses sums active processes across all drones.
func (m *DroneManager) TotalActiveProcesses() int {
	total := 0
	for _, d := range m.drones {
		total += d.ActiveProcesses()
	}
	return total
}

// RefreshActiveProcesses re-polls every drone for its running job processes
// and overwrites the bookkeeping counts, so processes that exited since the
// last tick free up dispatch capacity. A drone that cannot be polled keeps
// its previous count; failures are logged and aggregated, never blocking the
// other drones.
func (m *DroneManager) RefreshActiveProcesses(ctx context.Context) error {
	var result *multierror.Error
	for _, d := range m.Drones() {
		processes, err := m.lister.ListProcesses(ctx, d.Name())
		if err != nil {
			log.WithError(err).Warnf("Failed to refresh processes for drone %s", d.Name())
			result = multierror.Append(result, err)
			continue
		}
		d.SetActiveProcesses(len(processes))
	}
	return result.ErrorOrNil()
}

// QueueKillProcess routes a kill request to the owning drone's kill batch.
func (m *DroneManager) QueueKillProcess(p Process) error {
	d := m.drones[p.Drone]
	if d == nil {
		return errors.Errorf("no such drone %q for pid %d", p.Drone, p.Pid)
	}
	d.QueueKillProcess(p)
	return nil
}

// ExecuteQueuedCalls flushes every drone's pending calls. Per-drone failures
// are logged and aggregated; one bad drone does not block the others.
func (m *DroneManager) ExecuteQueuedCalls(ctx context.Context) error {
	var result *multierror.Error
	for _, d := range m.Drones() {
		if err := d.ExecuteQueuedCalls(ctx, m.executor); err != nil {
			log.WithError(err).Errorf("Failed to flush queued calls for drone %s", d.Name())
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// CopyToResultsRepository copies results for the given process back to the
// permanent results store. Special-task results (verify/repair/cleanup,
// identified by the hosts/ path prefix) are skipped unless the copy-back flag
// is set: routine maintenance results are rarely inspected and the transfers
// add up. Ordinary job results always copy.
func (m *DroneManager) CopyToResultsRepository(ctx context.Context, p Process, sourcePath string, destinationPath string) error {
	specialTask := strings.HasPrefix(sourcePath, specialTaskPrefix)
	if m.policy.CopyTaskResultsBack() || !specialTask {
		return m.copier.Copy(ctx, p, sourcePath, destinationPath)
	}
	return nil
}

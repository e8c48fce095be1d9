package scheduler

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/dutlab/labsched/internal/scheduler/configuration"
	"github.com/dutlab/labsched/internal/scheduler/database"
	"github.com/dutlab/labsched/internal/scheduler/dronemanager"
	"github.com/dutlab/labsched/internal/scheduler/hostscheduler"
)

// Scheduler runs the tick loop: each cycle it matches pending queue entries
// to eligible hosts, queues dispatch calls on the least-loaded drone, then
// flushes every drone's pending calls (kill batches first). Single-threaded
// by design; the only blocking work inside a tick is the per-host SSH probe.
type Scheduler struct {
	// Provides pending queue entries from the job table
	jobRepository database.JobRepository
	// Used to resolve host ids to hostnames at dispatch time
	hostRepository database.HostRepository
	// Decides which host may run which entry
	hostScheduler *hostscheduler.HostScheduler
	// Owns drones, their call queues and results copy-back
	droneManager *dronemanager.DroneManager
	// Scheduler tunables, snapshotted at startup
	configStore *configuration.Store
	// Injected so tests can drive ticks with a fake clock
	clock   clock.Clock
	metrics *Metrics
}

func New(
	jobRepository database.JobRepository,
	hostRepository database.HostRepository,
	hostScheduler *hostscheduler.HostScheduler,
	droneManager *dronemanager.DroneManager,
	configStore *configuration.Store,
	metrics *Metrics,
) *Scheduler {
	return &Scheduler{
		jobRepository:  jobRepository,
		hostRepository: hostRepository,
		hostScheduler:  hostScheduler,
		droneManager:   droneManager,
		configStore:    configStore,
		clock:          clock.RealClock{},
		metrics:        metrics,
	}
}

// Run executes scheduling cycles until ctx is cancelled. Settings are read
// once here; a misconfigured scheduler must fail at startup rather than run
// with wrong limits.
func (s *Scheduler) Run(ctx context.Context) error {
	settings, err := s.configStore.Read()
	if err != nil {
		return err
	}

	ticker := s.clock.NewTicker(time.Duration(settings.TickPauseSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			start := s.clock.Now()
			if err := s.doTick(ctx, settings); err != nil {
				log.WithError(err).Error("Error in scheduling cycle")
			}
			taken := s.clock.Now().Sub(start)
			s.metrics.tickDuration.Observe(taken.Seconds())
			log.Infof("Completed scheduling cycle in %s", taken)
		}
	}
}

// QueueKillProcess asks the owning drone to terminate a process at the next
// flush, e.g. because its job was aborted mid-tick.
func (s *Scheduler) QueueKillProcess(p dronemanager.Process) error {
	return s.droneManager.QueueKillProcess(p)
}

func (s *Scheduler) doTick(ctx context.Context, settings configuration.Settings) error {
	// Re-poll drone process state first: processes that exited since the
	// last tick must free up dispatch capacity before entries are matched.
	if err := s.droneManager.RefreshActiveProcesses(ctx); err != nil {
		log.WithError(err).Warn("Could not refresh process state for every drone, keeping previous counts")
	}

	entries, err := s.jobRepository.PendingQueueEntries(ctx)
	if err != nil {
		return err
	}
	s.metrics.pendingEntries.Set(float64(len(entries)))

	started := 0
	for i := range entries {
		if started >= settings.MaxJobsStartedPerCycle {
			log.Infof("Started %d jobs this cycle, deferring the rest", started)
			break
		}
		drone := s.droneManager.PickDrone(settings.MaxProcessesPerDrone)
		if drone == nil {
			log.Warn("All drones at process capacity, deferring remaining entries")
			break
		}
		if s.scheduleEntry(ctx, &entries[i], drone) {
			started++
		}
	}

	s.warnIfNearCapacity(settings)
	s.metrics.activeProcesses.Set(float64(s.droneManager.TotalActiveProcesses()))

	return s.droneManager.ExecuteQueuedCalls(ctx)
}

// scheduleEntry finds an eligible host for the entry and queues its dispatch
// on the given drone. Returns false if no host qualifies this cycle; the
// entry simply waits for the next tick.
func (s *Scheduler) scheduleEntry(ctx context.Context, entry *database.QueueEntry, drone *dronemanager.Drone) bool {
	if !entry.LabelID.Valid {
		// Hostless entries are handled by the frontend, not this layer.
		return false
	}

	hostIDs, err := s.hostScheduler.HostsInLabel(ctx, entry.LabelID.Int64)
	if err != nil {
		log.WithError(err).Errorf("Failed to list hosts for label %d", entry.LabelID.Int64)
		return false
	}

	for _, hostID := range hostIDs {
		if !s.hostScheduler.IsHostEligibleForJob(ctx, hostID, entry) {
			continue
		}
		host, err := s.hostRepository.Host(ctx, hostID)
		if err != nil || host == nil {
			log.WithError(err).Warnf("Could not resolve host %d at dispatch time, skipping", hostID)
			continue
		}
		drone.QueueJob(entry.JobID, host.Hostname)
		s.metrics.scheduledJobs.Inc()
		log.Infof("Scheduled job %d (entry %d) on host %s via drone %s",
			entry.JobID, entry.ID, host.Hostname, drone.Name())
		return true
	}
	return false
}

func (s *Scheduler) warnIfNearCapacity(settings configuration.Settings) {
	numDrones := len(s.droneManager.Drones())
	if numDrones == 0 {
		return
	}
	capacity := settings.MaxProcessesPerDrone * numDrones
	active := s.droneManager.TotalActiveProcesses()
	if float64(active) > settings.MaxProcessesWarningThreshold*float64(capacity) {
		log.Warnf("Running %d processes of a maximum %d", active, capacity)
	}
}

package hostscheduler

import (
	"context"
	"math/rand"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/dutlab/labsched/internal/common/util"
	"github.com/dutlab/labsched/internal/scheduler/database"
)

var probeOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "labsched",
		Subsystem: "host_scheduler",
		Name:      "probe_outcomes_total",
		Help:      "Reachability probe outcomes by status.",
	},
	[]string{"status"},
)

// EligibilityChecker is the base label/lock/capacity check supplied by the
// outer scheduler. Opaque to this layer.
type EligibilityChecker interface {
	IsHostEligible(ctx context.Context, hostID int64, entry *database.QueueEntry) bool
}

// HostScheduler decides which hosts in a label may run a given queue entry.
// On top of the base eligibility check it randomizes host order, so that no
// host is systematically preferred when several tie, and skips hosts that
// fail a short SSH reachability probe.
type HostScheduler struct {
	hosts  database.HostRepository
	base   EligibilityChecker
	prober Prober
	rand   *rand.Rand
}

func New(hosts database.HostRepository, base EligibilityChecker, prober Prober) *HostScheduler {
	return &HostScheduler{
		hosts:  hosts,
		base:   base,
		prober: prober,
		rand:   util.NewSeededRand(),
	}
}

// HostsInLabel returns the ids of schedulable hosts carrying the label, in a
// uniformly shuffled order. Membership is the only guaranteed property.
func (s *HostScheduler) HostsInLabel(ctx context.Context, labelID int64) ([]int64, error) {
	ids, err := s.hosts.HostIdsInLabel(ctx, labelID)
	if err != nil {
		return nil, err
	}
	util.ShuffleInt64s(s.rand, ids)
	return ids, nil
}

// HostSetInLabel is the membership view of HostsInLabel, for callers that
// only test containment and don't care about dispatch order.
func (s *HostScheduler) HostSetInLabel(ctx context.Context, labelID int64) (map[int64]bool, error) {
	ids, err := s.HostsInLabel(ctx, labelID)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// IsHostEligibleForJob reports whether the host may run the queue entry. The
// base check runs first; if it fails no probe is attempted. Otherwise the
// host must also pass an SSH reachability probe. Never returns an error and
// never panics: a host we cannot assess is simply skipped for this attempt.
func (s *HostScheduler) IsHostEligibleForJob(ctx context.Context, hostID int64, entry *database.QueueEntry) bool {
	if !s.base.IsHostEligible(ctx, hostID, entry) {
		return false
	}
	return s.hostIsReachable(ctx, hostID)
}

func (s *HostScheduler) hostIsReachable(ctx context.Context, hostID int64) (reachable bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("Panic probing host %d, treating as unreachable: %v", hostID, r)
			probeOutcomes.WithLabelValues("probe_error").Inc()
			reachable = false
		}
	}()

	host, err := s.hosts.Host(ctx, hostID)
	if err != nil {
		log.WithError(err).Warnf("Failed to look up host %d, treating as unreachable", hostID)
		probeOutcomes.WithLabelValues("probe_error").Inc()
		return false
	}
	if host == nil {
		log.Warnf("Host %d no longer exists, treating as unreachable", hostID)
		probeOutcomes.WithLabelValues("probe_error").Inc()
		return false
	}

	result := s.prober.Probe(ctx, host.Hostname)
	switch result.Status {
	case Reachable:
		probeOutcomes.WithLabelValues("reachable").Inc()
		return true
	case Unreachable:
		log.Infof("Host %s is unreachable, skipping: %v", host.Hostname, result.Cause)
		probeOutcomes.WithLabelValues("unreachable").Inc()
	default:
		log.WithError(result.Cause).Warnf("Probe failed for host %s", host.Hostname)
		probeOutcomes.WithLabelValues("probe_error").Inc()
	}
	return false
}

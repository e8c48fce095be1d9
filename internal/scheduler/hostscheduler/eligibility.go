package hostscheduler

import (
	"context"

	"github.com/dutlab/labsched/internal/scheduler/database"
)

// RepositoryEligibility is the default base check: the host must still exist
// and be unlocked and valid at assignment time. Label membership is already
// enforced by the label query that produced the candidate.
type RepositoryEligibility struct {
	hosts database.HostRepository
}

func NewRepositoryEligibility(hosts database.HostRepository) *RepositoryEligibility {
	return &RepositoryEligibility{hosts: hosts}
}

func (c *RepositoryEligibility) IsHostEligible(ctx context.Context, hostID int64, _ *database.QueueEntry) bool {
	host, err := c.hosts.Host(ctx, hostID)
	if err != nil || host == nil {
		return false
	}
	return !host.Locked && !host.Invalid
}

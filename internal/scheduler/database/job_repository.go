package database

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"
)

var (
	// Tables
	queueEntryTable = goqu.T("afe_host_queue_entries")
	jobTable        = goqu.T("afe_jobs")

	// Columns: afe_host_queue_entries
	hqe_id       = goqu.I("afe_host_queue_entries.id")
	hqe_jobId    = goqu.I("afe_host_queue_entries.job_id")
	hqe_hostId   = goqu.I("afe_host_queue_entries.host_id")
	hqe_metaHost = goqu.I("afe_host_queue_entries.meta_host")
	hqe_active   = goqu.I("afe_host_queue_entries.active")
	hqe_complete = goqu.I("afe_host_queue_entries.complete")
	hqe_aborted  = goqu.I("afe_host_queue_entries.aborted")

	// Columns: afe_jobs
	job_id       = goqu.I("afe_jobs.id")
	job_priority = goqu.I("afe_jobs.priority")
)

// QueueEntry is a pending request to run a job on a host matching the entry's
// label. Entries are owned by the job table; this layer only reads them.
type QueueEntry struct {
	ID            int64         `db:"id"`
	JobID         int64         `db:"job_id"`
	Priority      int           `db:"priority"`
	LabelID       sql.NullInt64 `db:"meta_host"`
	AtomicGroupID sql.NullInt64 `db:"atomic_group_id"`
}

// JobRepository provides read access to pending host queue entries.
type JobRepository interface {
	// PendingQueueEntries returns unassigned, unaborted queue entries in
	// dispatch order: highest priority first, oldest first within a priority.
	PendingQueueEntries(ctx context.Context) ([]QueueEntry, error)
}

// SQLJobRepository is a JobRepository backed by the AFE job database.
type SQLJobRepository struct {
	db *goqu.Database
}

func NewSQLJobRepository(db *goqu.Database) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

func (r *SQLJobRepository) PendingQueueEntries(ctx context.Context) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := r.db.
		From(queueEntryTable).
		InnerJoin(jobTable, goqu.On(hqe_jobId.Eq(job_id))).
		Select(hqe_id, hqe_jobId, job_priority.As("priority"), hqe_metaHost).
		Where(
			hqe_active.IsFalse(),
			hqe_complete.IsFalse(),
			hqe_aborted.IsFalse(),
			hqe_hostId.IsNull(),
		).
		Order(job_priority.Desc(), hqe_id.Asc()).
		ScanStructsContext(ctx, &entries)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return entries, nil
}

package database

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"
)

var (
	// Tables
	hostTable      = goqu.T("afe_hosts")
	labelTable     = goqu.T("afe_labels")
	hostLabelTable = goqu.T("afe_hosts_labels")

	// Columns: afe_hosts
	host_id       = goqu.I("afe_hosts.id")
	host_hostname = goqu.I("afe_hosts.hostname")
	host_locked   = goqu.I("afe_hosts.locked")
	host_invalid  = goqu.I("afe_hosts.invalid")

	// Columns: afe_labels
	label_id      = goqu.I("afe_labels.id")
	label_name    = goqu.I("afe_labels.name")
	label_invalid = goqu.I("afe_labels.invalid")

	// Columns: afe_hosts_labels
	hostLabel_hostId  = goqu.I("afe_hosts_labels.host_id")
	hostLabel_labelId = goqu.I("afe_hosts_labels.label_id")
)

// Host is a DUT record. Inventory management owns the row; this layer only
// reads id, hostname and the lock/invalid flags.
type Host struct {
	ID       int64  `db:"id"`
	Hostname string `db:"hostname"`
	Locked   bool   `db:"locked"`
	Invalid  bool   `db:"invalid"`
}

// Label is a named host pool, e.g. board:lumpy. Read-only lookup table.
type Label struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// HostRepository provides read access to hosts and labels.
type HostRepository interface {
	// HostIdsInLabel returns the ids of unlocked, valid hosts carrying the label.
	HostIdsInLabel(ctx context.Context, labelID int64) ([]int64, error)
	// Host returns the host with the given id, or nil if no such host exists.
	Host(ctx context.Context, id int64) (*Host, error)
	// Labels returns all valid labels.
	Labels(ctx context.Context) ([]Label, error)
}

// SQLHostRepository is a HostRepository backed by the AFE job database.
type SQLHostRepository struct {
	db *goqu.Database
}

func NewSQLHostRepository(db *goqu.Database) *SQLHostRepository {
	return &SQLHostRepository{db: db}
}

func (r *SQLHostRepository) HostIdsInLabel(ctx context.Context, labelID int64) ([]int64, error) {
	var ids []int64
	err := r.db.
		From(hostLabelTable).
		InnerJoin(hostTable, goqu.On(hostLabel_hostId.Eq(host_id))).
		Select(hostLabel_hostId).
		Where(
			hostLabel_labelId.Eq(labelID),
			host_locked.IsFalse(),
			host_invalid.IsFalse(),
		).
		ScanValsContext(ctx, &ids)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ids, nil
}

func (r *SQLHostRepository) Host(ctx context.Context, id int64) (*Host, error) {
	var host Host
	found, err := r.db.
		From(hostTable).
		Select(host_id, host_hostname, host_locked, host_invalid).
		Where(host_id.Eq(id)).
		ScanStructContext(ctx, &host)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !found {
		return nil, nil
	}
	return &host, nil
}

func (r *SQLHostRepository) Labels(ctx context.Context) ([]Label, error) {
	var labels []Label
	err := r.db.
		From(labelTable).
		Select(label_id, label_name).
		Where(label_invalid.IsFalse()).
		ScanStructsContext(ctx, &labels)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return labels, nil
}

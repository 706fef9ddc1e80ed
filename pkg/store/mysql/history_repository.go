package mysql

import (
	"context"
	"fmt"

	"loadwarden/pkg/sampler"
	"loadwarden/pkg/store/mysql/model"
)

const snapshotBatchSize = 200

// HistoryRepository persists the monitor history in metrics_snapshots. It
// implements monitor.HistoryStore.
type HistoryRepository struct {
	ds *Datastore
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(ds *Datastore) *HistoryRepository {
	return &HistoryRepository{ds: ds}
}

// Name implements monitor.HistoryStore
func (r *HistoryRepository) Name() string { return "mysql" }

// Save replaces the stored history in one transaction
func (r *HistoryRepository) Save(ctx context.Context, history []sampler.Snapshot) error {
	rows := make([]*model.MetricsSnapshot, 0, len(history))
	for _, snap := range history {
		row, err := FromSnapshotDomain(snap)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return r.ds.ExecTx(ctx, func(ctx context.Context) error {
		if err := r.ds.DB(ctx).Where("1 = 1").Delete(&model.MetricsSnapshot{}).Error; err != nil {
			return fmt.Errorf("failed to clear snapshots: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := r.ds.DB(ctx).CreateInBatches(rows, snapshotBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert snapshots: %w", err)
		}
		return nil
	})
}

// Load returns the stored history oldest first
func (r *HistoryRepository) Load(ctx context.Context) ([]sampler.Snapshot, error) {
	var rows []*model.MetricsSnapshot
	if err := r.ds.DB(ctx).Order("sampled_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	history := make([]sampler.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := ToSnapshotDomain(row)
		if err != nil {
			return nil, err
		}
		history = append(history, snap)
	}
	return history, nil
}

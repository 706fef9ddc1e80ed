package mysql

import (
	"context"
	"fmt"

	"loadwarden/pkg/config"
	"loadwarden/pkg/store/mysql/model"
)

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	History *HistoryRepository
	Alert   *AlertRepository
}

// NewRepository connects to MySQL and migrates the monitor tables
func NewRepository(ctx context.Context, cfg config.MySQLConfig) (*Repository, error) {
	ds, err := NewDatastore(cfg)
	if err != nil {
		return nil, err
	}

	if err := ds.DB(ctx).AutoMigrate(&model.MetricsSnapshot{}, &model.MonitorAlert{}); err != nil {
		ds.Close()
		return nil, fmt.Errorf("failed to migrate monitor tables: %w", err)
	}

	return &Repository{
		ds:      ds,
		History: NewHistoryRepository(ds),
		Alert:   NewAlertRepository(ds),
	}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}

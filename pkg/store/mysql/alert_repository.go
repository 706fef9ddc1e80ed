package mysql

import (
	"context"
	"time"

	"loadwarden/pkg/logger"
	"loadwarden/pkg/monitor"
	"loadwarden/pkg/store/mysql/model"

	"go.uber.org/zap"
)

// AlertRepository archives monitor alerts beyond the in-memory window
type AlertRepository struct {
	ds *Datastore
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(ds *Datastore) *AlertRepository {
	return &AlertRepository{ds: ds}
}

// Create archives one alert
func (r *AlertRepository) Create(ctx context.Context, alert monitor.Alert) error {
	return r.ds.DB(ctx).Create(FromAlertDomain(alert)).Error
}

// List returns the newest limit alerts of alertType (all types when empty),
// newest first
func (r *AlertRepository) List(ctx context.Context, alertType string, limit int) ([]monitor.Alert, error) {
	var rows []*model.MonitorAlert
	query := r.ds.DB(ctx).Order("raised_at DESC, id DESC")
	if alertType != "" {
		query = query.Where("type = ?", alertType)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	alerts := make([]monitor.Alert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, ToAlertDomain(row))
	}
	return alerts, nil
}

// CleanupBefore removes alerts raised before the given time
func (r *AlertRepository) CleanupBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.ds.DB(ctx).Where("raised_at < ?", before).Delete(&model.MonitorAlert{})
	return result.RowsAffected, result.Error
}

// Hook returns an alert hook that archives alerts from a separate goroutine
// so the monitor loop never waits on the database.
func (r *AlertRepository) Hook(timeout time.Duration) monitor.AlertHook {
	return func(_ context.Context, alert monitor.Alert) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := r.Create(ctx, alert); err != nil {
				logger.Warn("failed to archive alert", zap.String("type", alert.Type), zap.Error(err))
			}
		}()
	}
}

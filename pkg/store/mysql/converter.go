package mysql

import (
	"encoding/json"
	"fmt"

	"loadwarden/pkg/monitor"
	"loadwarden/pkg/sampler"
	"loadwarden/pkg/store/mysql/model"
)

// FromSnapshotDomain converts a sampler snapshot to its MySQL row
func FromSnapshotDomain(snap sampler.Snapshot) (*model.MetricsSnapshot, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	percent := func(field string) *float64 {
		if v, ok := snap.Percent(field); ok {
			return &v
		}
		return nil
	}

	return &model.MetricsSnapshot{
		SampledAt:     snap.Timestamp,
		CPUPercent:    percent(sampler.FieldCPU),
		MemoryPercent: percent(sampler.FieldMemory),
		SwapPercent:   percent(sampler.FieldSwap),
		DiskPercent:   percent(sampler.FieldDisk),
		FieldErrors:   model.JSONStringMap(snap.FieldErrors),
		Error:         snap.Error,
		Payload:       model.JSONRaw(payload),
	}, nil
}

// ToSnapshotDomain converts a MySQL row back to a sampler snapshot
func ToSnapshotDomain(row *model.MetricsSnapshot) (sampler.Snapshot, error) {
	var snap sampler.Snapshot
	if row == nil {
		return snap, fmt.Errorf("nil snapshot row")
	}
	if err := json.Unmarshal(row.Payload, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal snapshot %d: %w", row.ID, err)
	}
	return snap, nil
}

// FromAlertDomain converts a monitor alert to its MySQL row
func FromAlertDomain(alert monitor.Alert) *model.MonitorAlert {
	return &model.MonitorAlert{
		Type:     alert.Type,
		Message:  alert.Message,
		Value:    alert.Value,
		Limit:    alert.Limit,
		RaisedAt: alert.Timestamp,
	}
}

// ToAlertDomain converts a MySQL row back to a monitor alert
func ToAlertDomain(row *model.MonitorAlert) monitor.Alert {
	return monitor.Alert{
		Type:      row.Type,
		Message:   row.Message,
		Value:     row.Value,
		Limit:     row.Limit,
		Timestamp: row.RaisedAt,
	}
}

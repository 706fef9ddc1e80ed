package model

import "time"

// MetricsSnapshot is one persisted monitor sample. The percent columns are
// denormalised for querying; Payload holds the full snapshot.
type MetricsSnapshot struct {
	ID            int64         `gorm:"primaryKey;autoIncrement"`
	SampledAt     time.Time     `gorm:"not null;index:idx_sampled_at"`
	CPUPercent    *float64      `gorm:"type:decimal(5,2)"`
	MemoryPercent *float64      `gorm:"type:decimal(5,2)"`
	SwapPercent   *float64      `gorm:"type:decimal(5,2)"`
	DiskPercent   *float64      `gorm:"type:decimal(5,2)"`
	FieldErrors   JSONStringMap `gorm:"type:json"`
	Error         string        `gorm:"type:text"`
	Payload       JSONRaw       `gorm:"type:json;not null"`
	CreatedAt     time.Time     `gorm:"autoCreateTime"`
}

func (MetricsSnapshot) TableName() string { return "metrics_snapshots" }

// MonitorAlert is an archived hard-limit alert
type MonitorAlert struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Type      string    `gorm:"size:32;not null;index:idx_type_raised,priority:1"`
	Message   string    `gorm:"size:512;not null"`
	Value     float64   `gorm:"type:decimal(5,2)"`
	Limit     float64   `gorm:"column:limit_value;type:decimal(5,2)"`
	RaisedAt  time.Time `gorm:"not null;index:idx_type_raised,priority:2;index:idx_raised_at"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (MonitorAlert) TableName() string { return "monitor_alerts" }

// Package sampler collects host, process and accelerator metrics into
// immutable snapshots. A failed sub-reading leaves its field nil and never
// aborts the rest of the collection.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoAccelerator is returned by accelerator probes when no device is present.
var ErrNoAccelerator = errors.New("no accelerator available")

// Field names used in SamplingError and Snapshot.FieldErrors
const (
	FieldCPU         = "cpu"
	FieldMemory      = "memory"
	FieldSwap        = "swap"
	FieldDisk        = "disk"
	FieldProcess     = "process"
	FieldAccelerator = "accelerator"
)

// SamplingError reports a sub-reading that could not be taken.
type SamplingError struct {
	Field string
	Err   error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("sampling %s: %v", e.Field, e.Err)
}

func (e *SamplingError) Unwrap() error { return e.Err }

// CPUStats host CPU reading
type CPUStats struct {
	Percent      float64 `json:"percent"`
	Cores        int     `json:"cores"`
	FrequencyMHz float64 `json:"frequency_mhz"`
}

// MemoryStats host memory reading
type MemoryStats struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Used      uint64  `json:"used"`
	Percent   float64 `json:"percent"`
}

// SwapStats host swap reading
type SwapStats struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Percent float64 `json:"percent"`
}

// DiskStats usage of the monitored mount
type DiskStats struct {
	Path    string  `json:"path"`
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Percent float64 `json:"percent"`
}

// ProcessStats reading for the current process
type ProcessStats struct {
	RSS        uint64  `json:"rss"`
	VMS        uint64  `json:"vms"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

// AcceleratorStats aggregated accelerator memory
type AcceleratorStats struct {
	Devices     int     `json:"devices"`
	MemoryUsed  uint64  `json:"memory_used"`  // bytes
	MemoryTotal uint64  `json:"memory_total"` // bytes
	Percent     float64 `json:"percent"`
}

// Snapshot is one metrics sample. It is never mutated after Collect returns;
// readers share the pointed-to sub-records.
type Snapshot struct {
	Timestamp   time.Time         `json:"timestamp"`
	CPU         *CPUStats         `json:"cpu"`
	Memory      *MemoryStats      `json:"memory"`
	Swap        *SwapStats        `json:"swap"`
	Disk        *DiskStats        `json:"disk"`
	Process     *ProcessStats     `json:"process"`
	Accelerator *AcceleratorStats `json:"accelerator"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Percent returns the snapshot value for a resource category name and
// whether it was sampled.
func (s Snapshot) Percent(category string) (float64, bool) {
	switch category {
	case FieldCPU:
		if s.CPU != nil {
			return s.CPU.Percent, true
		}
	case FieldMemory:
		if s.Memory != nil {
			return s.Memory.Percent, true
		}
	case FieldSwap:
		if s.Swap != nil {
			return s.Swap.Percent, true
		}
	case FieldDisk:
		if s.Disk != nil {
			return s.Disk.Percent, true
		}
	case FieldAccelerator:
		if s.Accelerator != nil {
			return s.Accelerator.Percent, true
		}
	}
	return 0, false
}

// Source provides the individual readings that make up a snapshot.
type Source interface {
	CPU(ctx context.Context) (*CPUStats, error)
	Memory(ctx context.Context) (*MemoryStats, error)
	Swap(ctx context.Context) (*SwapStats, error)
	Disk(ctx context.Context) (*DiskStats, error)
	Process(ctx context.Context) (*ProcessStats, error)
	Accelerator(ctx context.Context) (*AcceleratorStats, error)
}

// Accelerator probes accelerator memory.
type Accelerator interface {
	Stats(ctx context.Context) (*AcceleratorStats, error)
}

// CacheReleaser is implemented by accelerators that can drop allocator caches.
type CacheReleaser interface {
	ReleaseCache(ctx context.Context) error
}

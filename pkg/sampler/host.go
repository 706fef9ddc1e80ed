package sampler

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"loadwarden/pkg/resource"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostConfig configures HostSource.
type HostConfig struct {
	// DiskPath is the mount whose usage is reported. Default "/".
	DiskPath string
	// CPUWindow is how long a CPU percent reading averages over. Default 1s.
	CPUWindow time.Duration
	// Accelerator is optional; nil means no accelerator readings.
	Accelerator Accelerator
}

// HostSource reads metrics of the local host and current process via gopsutil.
type HostSource struct {
	cfg HostConfig

	procOnce sync.Once
	proc     *process.Process
	procErr  error
}

// NewHostSource creates a host source
func NewHostSource(cfg HostConfig) *HostSource {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.CPUWindow <= 0 {
		cfg.CPUWindow = time.Second
	}
	return &HostSource{cfg: cfg}
}

// AcceleratorProbe returns the configured accelerator probe, if any.
func (h *HostSource) AcceleratorProbe() Accelerator {
	return h.cfg.Accelerator
}

func (h *HostSource) CPU(ctx context.Context) (*CPUStats, error) {
	percents, err := cpu.PercentWithContext(ctx, h.cfg.CPUWindow, false)
	if err != nil {
		return nil, err
	}
	if len(percents) == 0 {
		return nil, fmt.Errorf("empty cpu percent reading")
	}

	stats := &CPUStats{Percent: percents[0], Cores: runtime.NumCPU()}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		stats.Cores = n
	}
	// frequency is informational, missing on some virtualised hosts
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		stats.FrequencyMHz = infos[0].Mhz
	}
	return stats, nil
}

func (h *HostSource) Memory(ctx context.Context) (*MemoryStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &MemoryStats{
		Total:     vm.Total,
		Available: vm.Available,
		Used:      vm.Used,
		Percent:   vm.UsedPercent,
	}, nil
}

func (h *HostSource) Swap(ctx context.Context) (*SwapStats, error) {
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &SwapStats{Total: sw.Total, Used: sw.Used, Percent: sw.UsedPercent}, nil
}

func (h *HostSource) Disk(ctx context.Context) (*DiskStats, error) {
	usage, err := disk.UsageWithContext(ctx, h.cfg.DiskPath)
	if err != nil {
		return nil, err
	}
	return &DiskStats{
		Path:    h.cfg.DiskPath,
		Total:   usage.Total,
		Used:    usage.Used,
		Percent: usage.UsedPercent,
	}, nil
}

func (h *HostSource) self(ctx context.Context) (*process.Process, error) {
	h.procOnce.Do(func() {
		h.proc, h.procErr = process.NewProcessWithContext(ctx, int32(os.Getpid()))
	})
	return h.proc, h.procErr
}

func (h *HostSource) Process(ctx context.Context) (*ProcessStats, error) {
	p, err := h.self(ctx)
	if err != nil {
		return nil, err
	}

	memInfo, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	stats := &ProcessStats{
		RSS:        memInfo.RSS,
		VMS:        memInfo.VMS,
		Goroutines: runtime.NumGoroutine(),
	}
	// interval 0 reports the delta since the previous call
	if pct, err := p.PercentWithContext(ctx, 0); err == nil {
		stats.CPUPercent = pct
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		stats.Threads = n
	}
	return stats, nil
}

func (h *HostSource) Accelerator(ctx context.Context) (*AcceleratorStats, error) {
	if h.cfg.Accelerator == nil {
		return nil, ErrNoAccelerator
	}
	return h.cfg.Accelerator.Stats(ctx)
}

// Usage implements resource.UsageSource with a non-blocking CPU reading
// (delta since the previous call), suitable for the admission loop.
func (h *HostSource) Usage(ctx context.Context) (resource.Usage, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return resource.Usage{}, &SamplingError{Field: FieldMemory, Err: err}
	}
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return resource.Usage{}, &SamplingError{Field: FieldCPU, Err: err}
	}
	usage := resource.Usage{MemoryPercent: vm.UsedPercent, SampledAt: time.Now()}
	if len(percents) > 0 {
		usage.CPUPercent = percents[0]
	}
	return usage, nil
}

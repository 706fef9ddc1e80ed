package sampler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const mib = 1024 * 1024

// NvidiaSMI reads accelerator memory by shelling out to nvidia-smi.
type NvidiaSMI struct {
	Binary  string
	Timeout time.Duration
}

// NewNvidiaSMI returns a probe using nvidia-smi from PATH
func NewNvidiaSMI() *NvidiaSMI {
	return &NvidiaSMI{Binary: "nvidia-smi", Timeout: 5 * time.Second}
}

func (n *NvidiaSMI) Stats(ctx context.Context) (*AcceleratorStats, error) {
	if _, err := exec.LookPath(n.Binary); err != nil {
		return nil, ErrNoAccelerator
	}

	ctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, n.Binary,
		"--query-gpu=memory.used,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("nvidia-smi exited: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return parseNvidiaSMI(out)
}

// parseNvidiaSMI sums "used, total" MiB rows across devices.
func parseNvidiaSMI(out []byte) (*AcceleratorStats, error) {
	stats := &AcceleratorStats{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("unexpected nvidia-smi row: %q", line)
		}
		used, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse memory.used: %w", err)
		}
		total, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse memory.total: %w", err)
		}
		stats.Devices++
		stats.MemoryUsed += used * mib
		stats.MemoryTotal += total * mib
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if stats.Devices == 0 {
		return nil, ErrNoAccelerator
	}
	if stats.MemoryTotal > 0 {
		stats.Percent = float64(stats.MemoryUsed) / float64(stats.MemoryTotal) * 100
	}
	return stats, nil
}

package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Collect takes one snapshot from src. Each reading is isolated: an error or
// panic in one degrades that field to nil and records it in FieldErrors.
func Collect(ctx context.Context, src Source) Snapshot {
	snap := Snapshot{Timestamp: time.Now()}

	record := func(field string, err error) {
		if err == nil {
			return
		}
		if snap.FieldErrors == nil {
			snap.FieldErrors = make(map[string]string)
		}
		snap.FieldErrors[field] = (&SamplingError{Field: field, Err: err}).Error()
	}

	var err error
	snap.CPU, err = read(ctx, src.CPU)
	record(FieldCPU, err)
	snap.Memory, err = read(ctx, src.Memory)
	record(FieldMemory, err)
	snap.Swap, err = read(ctx, src.Swap)
	record(FieldSwap, err)
	snap.Disk, err = read(ctx, src.Disk)
	record(FieldDisk, err)
	snap.Process, err = read(ctx, src.Process)
	record(FieldProcess, err)
	snap.Accelerator, err = read(ctx, src.Accelerator)
	if err != nil && !errors.Is(err, ErrNoAccelerator) {
		record(FieldAccelerator, err)
	}

	if snap.CPU == nil && snap.Memory == nil && snap.Disk == nil {
		snap.Error = "no host metrics could be sampled"
	}
	return snap
}

func read[T any](ctx context.Context, fn func(context.Context) (*T, error)) (v *T, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	v, err = fn(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name     string
	interval time.Duration
	delayed  bool
	runs     atomic.Int32
	fn       func(ctx context.Context) error
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Interval() time.Duration { return j.interval }
func (j *countingJob) SkipInitialRun() bool    { return j.delayed }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.fn != nil {
		return j.fn(ctx)
	}
	return nil
}

func TestManager_RunsImmediatelyAndOnInterval(t *testing.T) {
	m := NewManager(context.Background())
	job := &countingJob{name: "tick", interval: 10 * time.Millisecond}
	m.Register(job)
	m.Start()

	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Wait()
	after := job.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, job.runs.Load(), "no runs after Stop")
}

func TestManager_DelayedJobSkipsFirstRun(t *testing.T) {
	m := NewManager(context.Background())
	job := &countingJob{name: "delayed", interval: time.Hour, delayed: true}
	m.Register(job)
	m.Start()

	time.Sleep(20 * time.Millisecond)
	m.Stop()
	m.Wait()
	assert.Equal(t, int32(0), job.runs.Load())
}

func TestManager_FailingAndPanickingJobsKeepRunning(t *testing.T) {
	m := NewManager(context.Background())
	failing := &countingJob{name: "fails", interval: 5 * time.Millisecond, fn: func(context.Context) error {
		return errors.New("boom")
	}}
	panicking := &countingJob{name: "panics", interval: 5 * time.Millisecond, fn: func(context.Context) error {
		panic("bad job")
	}}
	m.Register(failing)
	m.Register(panicking)
	m.Start()

	require.Eventually(t, func() bool {
		return failing.runs.Load() >= 2 && panicking.runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Wait()
}

func TestManager_RegisterAfterStartIgnored(t *testing.T) {
	m := NewManager(context.Background())
	m.Register(&countingJob{name: "first", interval: time.Hour})
	m.Register(nil)
	m.Start()
	m.Start()
	m.Register(&countingJob{name: "late", interval: time.Hour})

	assert.Equal(t, []string{"first"}, m.Jobs())
	m.Stop()
	m.Wait()
}

func TestManager_ParentCancelStopsJobs(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	m := NewManager(parent)
	job := &countingJob{name: "tick", interval: 5 * time.Millisecond}
	m.Register(job)
	m.Start()

	cancel()
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("jobs did not stop after parent cancellation")
	}
}

package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"loadwarden/pkg/cache"
	"loadwarden/pkg/lifecycle"
	"loadwarden/pkg/resource"
	"loadwarden/pkg/sampler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUsage struct {
	mu     sync.Mutex
	cpu    float64
	memory float64
	err    error
}

func (u *stubUsage) Usage(ctx context.Context) (resource.Usage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return resource.Usage{}, u.err
	}
	return resource.Usage{CPUPercent: u.cpu, MemoryPercent: u.memory, SampledAt: time.Now()}, nil
}

func (u *stubUsage) set(cpu, memory float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cpu, u.memory = cpu, memory
}

type stubProcess struct{}

func (stubProcess) Process(ctx context.Context) (*sampler.ProcessStats, error) {
	return &sampler.ProcessStats{RSS: 4096, CPUPercent: 3.5, Threads: 9}, nil
}

func testConfig() Config {
	return Config{
		MaxWorkerThreads:   4,
		MaxConcurrentTasks: 10,
		PollInterval:       5 * time.Millisecond,
		PressureBackoff:    20 * time.Millisecond,
	}
}

func newTestScheduler(t *testing.T, cfg Config, usage resource.UsageSource, opts ...Option) *Scheduler {
	t.Helper()
	if usage == nil {
		usage = &stubUsage{}
	}
	opts = append([]Option{WithUsageSource(usage), WithProcessProbe(stubProcess{})}, opts...)
	s := New(cfg, opts...)
	t.Cleanup(func() { _ = s.Close(time.Second) })
	return s
}

func waitTerminal(t *testing.T, s *Scheduler, id string) TaskStatusView {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	v, err := s.Wait(ctx, id)
	require.NoError(t, err)
	return v
}

func blockingTask(release <-chan struct{}) TaskFunc {
	return func(ctx context.Context) (any, error) {
		<-release
		return "released", nil
	}
}

func TestScheduler_BasicAdmissionOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWorkerThreads = 1
	s := newTestScheduler(t, cfg, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) TaskFunc {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	low, err := s.Submit(record("low"), WithPriority(PriorityLow))
	require.NoError(t, err)
	high, err := s.Submit(record("high"), WithPriority(PriorityHigh))
	require.NoError(t, err)
	medium, err := s.Submit(record("medium"))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	for _, id := range []string{low, high, medium} {
		assert.Equal(t, StatusCompleted, waitTerminal(t, s, id).Status)
	}

	assert.Equal(t, []string{"high", "medium", "low"}, order)
}

func TestScheduler_ConcurrencyCapEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTasks = 2
	cfg.MaxWorkerThreads = 4
	s := newTestScheduler(t, cfg, nil)

	release := make(chan struct{})
	var current, peak atomic.Int32
	body := func(ctx context.Context) (any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return nil, nil
	}

	ids := make([]string, 5)
	for i := range ids {
		id, err := s.Submit(body)
		require.NoError(t, err)
		ids[i] = id
	}
	require.NoError(t, s.Start(context.Background()))

	countStatus := func(want Status) int {
		n := 0
		for _, id := range ids {
			if s.Status(id).Status == want {
				n++
			}
		}
		return n
	}

	require.Eventually(t, func() bool { return countStatus(StatusRunning) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, countStatus(StatusRunning))
	assert.Equal(t, 3, countStatus(StatusQueued))

	release <- struct{}{}
	require.Eventually(t, func() bool {
		return countStatus(StatusCompleted) == 1 && countStatus(StatusRunning) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, countStatus(StatusQueued))

	close(release)
	for _, id := range ids {
		assert.Equal(t, StatusCompleted, waitTerminal(t, s, id).Status)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestScheduler_CancelOnlyQueued(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWorkerThreads = 1
	s := newTestScheduler(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	release := make(chan struct{})
	running, err := s.Submit(blockingTask(release))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status(running).Status == StatusRunning }, 2*time.Second, 5*time.Millisecond)

	var ran atomic.Bool
	queued, err := s.Submit(func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	assert.True(t, s.Cancel(queued))
	assert.Equal(t, StatusCancelled, s.Status(queued).Status)
	assert.False(t, s.Cancel(queued), "cancelling twice is a no-op")

	assert.False(t, s.Cancel(running))
	assert.Equal(t, StatusRunning, s.Status(running).Status)
	assert.False(t, s.Cancel("unknown-id"))

	close(release)
	v := waitTerminal(t, s, running)
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Equal(t, "released", v.Result)
	assert.False(t, s.Cancel(running))
	assert.Equal(t, StatusCompleted, s.Status(running).Status)

	cancelled := waitTerminal(t, s, queued)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.StartedAt)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load(), "cancelled task is never dispatched")
}

func TestScheduler_FailureIsolation(t *testing.T) {
	s := newTestScheduler(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	errBoom := errors.New("boom")
	failures := make(chan error, 2)
	onFailure := OnFailure(func(err error) { failures <- err })

	failing, err := s.Submit(func(ctx context.Context) (any, error) { return nil, errBoom }, onFailure)
	require.NoError(t, err)
	panicking, err := s.Submit(func(ctx context.Context) (any, error) { panic("kaboom") }, onFailure)
	require.NoError(t, err)

	v := waitTerminal(t, s, failing)
	assert.Equal(t, StatusFailed, v.Status)
	assert.Contains(t, v.Error, "boom")
	assert.Nil(t, v.Result)

	v = waitTerminal(t, s, panicking)
	assert.Equal(t, StatusFailed, v.Status)
	assert.Contains(t, v.Error, "kaboom")

	for i := 0; i < 2; i++ {
		select {
		case err := <-failures:
			var execErr *TaskExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.NotEmpty(t, execErr.TaskID)
			if execErr.Panic == nil {
				assert.ErrorIs(t, err, errBoom)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("failure callback not invoked")
		}
	}

	healthy, err := s.Submit(func(ctx context.Context) (any, error) { return 42, nil })
	require.NoError(t, err)
	v = waitTerminal(t, s, healthy)
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Equal(t, 42, v.Result)
}

func TestScheduler_CallbackPanicSwallowed(t *testing.T) {
	s := newTestScheduler(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	first, err := s.Submit(func(ctx context.Context) (any, error) { return "ok", nil },
		OnSuccess(func(any) { panic("callback exploded") }))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitTerminal(t, s, first).Status)

	got := make(chan any, 1)
	second, err := s.Submit(func(ctx context.Context) (any, error) { return "still alive", nil },
		OnSuccess(func(r any) { got <- r }))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitTerminal(t, s, second).Status)

	select {
	case r := <-got:
		assert.Equal(t, "still alive", r)
	case <-time.After(2 * time.Second):
		t.Fatal("success callback not invoked")
	}
}

func TestScheduler_PressureBackoff(t *testing.T) {
	usage := &stubUsage{memory: 95}
	s := newTestScheduler(t, testConfig(), usage)

	var memoryCalls, cpuCalls atomic.Int32
	s.RegisterOptimizationStrategy(resource.CategoryMemory, func(ctx context.Context) error {
		memoryCalls.Add(1)
		return nil
	})
	s.RegisterOptimizationStrategy(resource.CategoryMemory, func(ctx context.Context) error {
		return errors.New("second strategy fails")
	})
	s.RegisterOptimizationStrategy(resource.CategoryCPU, func(ctx context.Context) error {
		cpuCalls.Add(1)
		return nil
	})

	id, err := s.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return memoryCalls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StatusQueued, s.Status(id).Status, "nothing is admitted while memory is over the limit")
	assert.Equal(t, int32(0), cpuCalls.Load())

	usage.set(0, 10)
	assert.Equal(t, StatusCompleted, waitTerminal(t, s, id).Status)
}

func TestScheduler_PressureRunsStrategiesWithIdleQueue(t *testing.T) {
	usage := &stubUsage{memory: 99}
	s := newTestScheduler(t, testConfig(), usage)

	var calls atomic.Int32
	s.RegisterOptimizationStrategy(resource.CategoryMemory, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.CurrentResourceUsage(context.Background()).QueueDepth)

	usage.set(0, 10)
	id, err := s.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitTerminal(t, s, id).Status)
}

func TestScheduler_SamplingErrorAdmits(t *testing.T) {
	usage := &stubUsage{err: errors.New("procfs unavailable")}
	s := newTestScheduler(t, testConfig(), usage)
	require.NoError(t, s.Start(context.Background()))

	id, err := s.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitTerminal(t, s, id).Status)
}

func TestScheduler_CloseRejectsSubmit(t *testing.T) {
	s := newTestScheduler(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, lifecycle.Running, s.State())

	require.NoError(t, s.Close(time.Second))
	assert.Equal(t, lifecycle.Stopped, s.State())

	_, err := s.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrSchedulerClosed)
	assert.NoError(t, s.Close(time.Second), "closing twice is harmless")
}

func TestScheduler_CloseCancelsQueuedAndDrains(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWorkerThreads = 1
	s := newTestScheduler(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	release := make(chan struct{})
	var succeeded atomic.Bool
	running, err := s.Submit(blockingTask(release), OnSuccess(func(any) { succeeded.Store(true) }))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status(running).Status == StatusRunning }, 2*time.Second, 5*time.Millisecond)

	queued, err := s.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- s.Close(5 * time.Second) }()

	require.Eventually(t, func() bool { return s.Status(queued).Status == StatusCancelled }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, lifecycle.Stopping, s.State())

	close(release)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, StatusCompleted, s.Status(running).Status)
	assert.True(t, succeeded.Load())
}

func TestScheduler_CloseTimeoutAbandonsRunning(t *testing.T) {
	s := newTestScheduler(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	var succeeded atomic.Bool
	id, err := s.Submit(func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return "gave up", nil
	}, OnSuccess(func(any) { succeeded.Store(true) }))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status(id).Status == StatusRunning }, 2*time.Second, 5*time.Millisecond)

	err = s.Close(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrCloseTimeout)
	assert.Equal(t, lifecycle.Stopped, s.State())

	require.Eventually(t, func() bool { return s.Status(id).Status == StatusCompleted }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, succeeded.Load(), "callbacks of abandoned tasks never fire")
	assert.Equal(t, 0, s.CurrentResourceUsage(context.Background()).ActiveTasks)
}

func TestScheduler_ConcurrentCloseWaitsForDrain(t *testing.T) {
	s := newTestScheduler(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	release := make(chan struct{})
	id, err := s.Submit(blockingTask(release))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status(id).Status == StatusRunning }, 2*time.Second, 5*time.Millisecond)

	first := make(chan error, 1)
	go func() { first <- s.Close(5 * time.Second) }()
	require.Eventually(t, func() bool { return s.State() == lifecycle.Stopping }, 2*time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- s.Close(5 * time.Second) }()
	select {
	case <-second:
		t.Fatal("second Close returned before the drain finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for _, ch := range []chan error{first, second} {
		select {
		case err := <-ch:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("Close did not return")
		}
	}
	assert.Equal(t, lifecycle.Stopped, s.State())
	assert.Equal(t, StatusCompleted, s.Status(id).Status)
}

func TestScheduler_RestartStartsEmpty(t *testing.T) {
	s := newTestScheduler(t, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))

	old, err := s.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	waitTerminal(t, s, old)
	require.NoError(t, s.Close(time.Second))

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StatusNotFound, s.Status(old).Status)

	fresh, err := s.Submit(func(ctx context.Context) (any, error) { return "again", nil })
	require.NoError(t, err)
	assert.Equal(t, "again", waitTerminal(t, s, fresh).Result)
}

func TestScheduler_Wait(t *testing.T) {
	s := newTestScheduler(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	release := make(chan struct{})
	defer close(release)
	id, err := s.Submit(blockingTask(release))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	v, err := s.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, v.Status.Terminal())
}

func TestScheduler_PruneTerminal(t *testing.T) {
	t.Run("observed tasks only without a result store", func(t *testing.T) {
		s := newTestScheduler(t, testConfig(), nil)
		require.NoError(t, s.Start(context.Background()))

		observed, err := s.Submit(func(ctx context.Context) (any, error) { return nil, nil })
		require.NoError(t, err)
		unobserved, err := s.Submit(func(ctx context.Context) (any, error) { return nil, nil })
		require.NoError(t, err)

		waitTerminal(t, s, observed)
		require.Eventually(t, func() bool { return len(s.ListActive()) == 0 }, 2*time.Second, 5*time.Millisecond)

		assert.Equal(t, 0, s.PruneTerminal(time.Hour))
		assert.Equal(t, 1, s.PruneTerminal(0))
		assert.Equal(t, StatusNotFound, s.Status(observed).Status)
		assert.Equal(t, StatusCompleted, s.Status(unobserved).Status)
	})

	t.Run("unobserved tasks survive pruning and a cleared result store", func(t *testing.T) {
		results := cache.New[TaskStatusView]("test:tasks:", time.Hour)
		s := newTestScheduler(t, testConfig(), nil, WithResultStore(results))
		require.NoError(t, s.Start(context.Background()))

		id, err := s.Submit(func(ctx context.Context) (any, error) { return "kept", nil }, WithName("report"))
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(s.ListActive()) == 0 }, 2*time.Second, 5*time.Millisecond)

		assert.Equal(t, 0, s.PruneTerminal(0))
		results.Clear()

		v := s.Status(id)
		assert.Equal(t, StatusCompleted, v.Status)
		assert.Equal(t, "kept", v.Result)
		assert.Equal(t, "report", v.Name)
	})

	t.Run("observed views are copied to the result store", func(t *testing.T) {
		results := cache.New[TaskStatusView]("test:tasks:", time.Hour)
		s := newTestScheduler(t, testConfig(), nil, WithResultStore(results))
		require.NoError(t, s.Start(context.Background()))

		id, err := s.Submit(func(ctx context.Context) (any, error) { return "kept", nil })
		require.NoError(t, err)
		waitTerminal(t, s, id)

		assert.Equal(t, 1, s.PruneTerminal(0))
		assert.Equal(t, 1, results.Size())

		v := s.Status(id)
		assert.Equal(t, StatusCompleted, v.Status)
		assert.Equal(t, "kept", v.Result)
	})
}

func TestScheduler_StagingDirectory(t *testing.T) {
	cfg := testConfig()
	cfg.TaskDirectory = filepath.Join(t.TempDir(), "tasks")
	s := newTestScheduler(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.DirExists(t, cfg.TaskDirectory)

	type seen struct {
		ID  string
		Dir string
	}
	id, err := s.Submit(func(ctx context.Context) (any, error) {
		dir, ok := StagingDir(ctx)
		if !ok {
			return nil, errors.New("no staging dir")
		}
		if err := os.WriteFile(filepath.Join(dir, "artifact.bin"), []byte("x"), 0o644); err != nil {
			return nil, err
		}
		taskID, _ := TaskID(ctx)
		return seen{ID: taskID, Dir: dir}, nil
	})
	require.NoError(t, err)

	v := waitTerminal(t, s, id)
	require.Equal(t, StatusCompleted, v.Status, v.Error)
	got := v.Result.(seen)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, filepath.Join(cfg.TaskDirectory, id), got.Dir)
	assert.NoDirExists(t, got.Dir)
}

func TestScheduler_ListActiveOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWorkerThreads = 1
	s := newTestScheduler(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	release := make(chan struct{})
	defer close(release)
	blocker, err := s.Submit(blockingTask(release))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status(blocker).Status == StatusRunning }, 2*time.Second, 5*time.Millisecond)

	low, _ := s.Submit(blockingTask(release), WithPriority(PriorityLow))
	high, _ := s.Submit(blockingTask(release), WithPriority(PriorityHigh))
	medium, _ := s.Submit(blockingTask(release))

	active := s.ListActive()
	require.Len(t, active, 4)
	ids := []string{active[0].ID, active[1].ID, active[2].ID, active[3].ID}
	assert.Equal(t, []string{high, blocker, medium, low}, ids)
	assert.Equal(t, StatusRunning, active[1].Status)
	assert.NotNil(t, active[1].StartedAt)
}

func TestScheduler_CurrentResourceUsage(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWorkerThreads = 1
	cfg.MaxConcurrentTasks = 3
	s := newTestScheduler(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	release := make(chan struct{})
	defer close(release)
	blocker, _ := s.Submit(blockingTask(release))
	require.Eventually(t, func() bool { return s.Status(blocker).Status == StatusRunning }, 2*time.Second, 5*time.Millisecond)
	_, _ = s.Submit(blockingTask(release))

	usage := s.CurrentResourceUsage(context.Background())
	assert.Equal(t, uint64(4096), usage.MemoryRSS)
	assert.Equal(t, int32(9), usage.Threads)
	assert.Equal(t, 1, usage.QueueDepth)
	assert.Equal(t, 1, usage.ActiveTasks)
	assert.Equal(t, 1, usage.PoolSize)
	assert.Equal(t, 3, usage.MaxConcurrent)
	assert.Greater(t, usage.Goroutines, 0)
}

func TestScheduler_PoolResizeLimitsAdmission(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWorkerThreads = 3
	s := newTestScheduler(t, cfg, nil)
	assert.Equal(t, 2, s.Pool().Resize(2))
	assert.Equal(t, 1, s.Pool().Resize(0))

	release := make(chan struct{})
	defer close(release)
	for i := 0; i < 3; i++ {
		_, err := s.Submit(blockingTask(release))
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return s.CurrentResourceUsage(context.Background()).ActiveTasks == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, s.CurrentResourceUsage(context.Background()).QueueDepth)
}

func TestSubmit_Validation(t *testing.T) {
	s := newTestScheduler(t, testConfig(), nil)

	_, err := s.Submit(nil)
	assert.ErrorIs(t, err, ErrNilTask)

	id, err := s.Submit(func(ctx context.Context) (any, error) { return nil, nil }, WithPriority(Priority(9)))
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, s.Status(id).Priority, "invalid priorities fall back to medium")
}

func TestBackground(t *testing.T) {
	submit := Background(nil, PriorityHigh)
	_, err := submit(func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, Go(nil, func() {}), ErrNotInitialized)

	s := newTestScheduler(t, testConfig(), nil)
	_, err = submit(func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotInitialized, "a helper bound to nil stays unbound")

	id, err := Background(s, PriorityHigh)(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, s.Status(id).Priority)

	done := make(chan struct{})
	require.NoError(t, Go(s, func() { close(done) }))
	require.NoError(t, s.Start(context.Background()))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background function did not run")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{in: "", want: PriorityMedium},
		{in: "high", want: PriorityHigh},
		{in: "LOW", want: PriorityLow},
		{in: "2", want: PriorityMedium},
		{in: "urgent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

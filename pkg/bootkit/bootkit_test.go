package bootkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	bootkit := New(
		StartTimeout(time.Second*2),
		StopTimeout(time.Second*5),
	)

	assert.Equal(t, time.Second*2, bootkit.options.startTimeout)
	assert.Equal(t, time.Second*5, bootkit.options.stopTimeout)
	assert.NotNil(t, bootkit.lifeCycle)
	assert.Empty(t, bootkit.parallelRun)
}

func TestBootKit_Add(t *testing.T) {
	t.Parallel()

	bootkit := New()

	var wg sync.WaitGroup

	for range 50 {
		wg.Go(func() {
			bootkit.Add(func(ctx context.Context, lifeCycle LifeCycle) error {
				return nil
			})
		})
	}

	wg.Wait()

	assert.Len(t, bootkit.runnables(), 50)
}

func TestWaitAll(t *testing.T) {
	t.Parallel()

	t.Run("Done", func(t *testing.T) {
		t.Parallel()

		wg := new(sync.WaitGroup)
		wg.Go(func() { time.Sleep(10 * time.Millisecond) })

		require.NoError(t, waitAll(context.Background(), wg, make(chan error)))
	})

	t.Run("CollectsErrors", func(t *testing.T) {
		t.Parallel()

		wg := new(sync.WaitGroup)
		errChan := make(chan error, 2)

		wg.Go(func() { errChan <- errors.New("first") })
		wg.Go(func() { errChan <- errors.New("second") })

		err := waitAll(context.Background(), wg, errChan)
		require.Error(t, err)
		assert.ErrorContains(t, err, "first")
		assert.ErrorContains(t, err, "second")
	})

	t.Run("ContextDone", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		release := make(chan struct{})
		defer close(release)

		wg := new(sync.WaitGroup)
		wg.Go(func() { <-release })

		err := waitAll(ctx, wg, make(chan error))
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestLifeCycleHook(t *testing.T) {
	t.Parallel()

	hook := LifeCycleHook{}
	assert.Equal(t, "unnamed", hook.Name())
	require.NoError(t, hook.Start(context.Background()))
	require.NoError(t, hook.Stop(context.Background()))

	lc := newLifeCycle()
	lc.Append(LifeCycleHook{HookName: "gateway"})
	lc.Append(LifeCycleHook{HookName: "admin"})

	hooks := lc.GetHooks()
	require.Len(t, hooks, 2)
	assert.Equal(t, "gateway", hooks[0].Name())
	assert.Equal(t, "admin", hooks[1].Name())
}

// blockingHook serves until stopped, like a listener.
func blockingHook(name string, started *sync.WaitGroup, stopped *[]string, mu *sync.Mutex) LifeCycleHook {
	release := make(chan struct{})

	started.Add(1)

	return LifeCycleHook{
		HookName: name,
		OnStart: func(ctx context.Context) error {
			started.Done()
			<-release

			return nil
		},
		OnStop: func(ctx context.Context) error {
			mu.Lock()
			*stopped = append(*stopped, name)
			mu.Unlock()

			close(release)

			return nil
		},
	}
}

func TestBootKit_StartAndStop(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		stopped []string
		started sync.WaitGroup
	)

	bootkit := New(StartTimeout(time.Second), StopTimeout(time.Second))
	bootkit.Add(func(ctx context.Context, lifeCycle LifeCycle) error {
		lifeCycle.Append(blockingHook("first", &started, &stopped, &mu))
		return nil
	})

	startErr := make(chan error, 1)

	go func() {
		startErr <- bootkit.Start()
	}()

	// Runnables register hooks asynchronously, so wait until one exists.
	require.Eventually(t, func() bool {
		return len(bootkit.lifeCycle.GetHooks()) == 1
	}, time.Second, 5*time.Millisecond)

	started.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, bootkit.Stop(ctx))
	require.NoError(t, <-startErr)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"first"}, stopped)
}

func TestBootKit_RunnableFailure(t *testing.T) {
	t.Parallel()

	started := false

	bootkit := New(StartTimeout(time.Second))
	bootkit.Add(func(ctx context.Context, lifeCycle LifeCycle) error {
		lifeCycle.Append(LifeCycleHook{
			OnStart: func(ctx context.Context) error {
				started = true
				return nil
			},
		})

		return errors.New("invalid configuration")
	})

	err := bootkit.Start()
	require.ErrorContains(t, err, "invalid configuration")
	assert.False(t, started)
}

func TestBootKit_StartHookFailure(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		stopped []string
		started sync.WaitGroup
	)

	bootkit := New(StartTimeout(time.Second), StopTimeout(time.Second))
	bootkit.Add(func(ctx context.Context, lifeCycle LifeCycle) error {
		lifeCycle.Append(blockingHook("gateway", &started, &stopped, &mu))
		lifeCycle.Append(LifeCycleHook{
			HookName: "admin",
			OnStart: func(ctx context.Context) error {
				started.Wait()
				return errors.New("address already in use")
			},
		})

		return nil
	})

	err := bootkit.Start()
	require.ErrorContains(t, err, "admin: address already in use")

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"gateway"}, stopped)
}

func TestBootKit_StopErrorsAreJoined(t *testing.T) {
	t.Parallel()

	bootkit := New(StopTimeout(time.Second))
	bootkit.Add(func(ctx context.Context, lifeCycle LifeCycle) error {
		lifeCycle.Append(LifeCycleHook{
			HookName: "redis",
			OnStop: func(ctx context.Context) error {
				return errors.New("connection reset")
			},
		})

		return nil
	})

	err := bootkit.Start()
	require.ErrorContains(t, err, "redis: connection reset")

	// Stop hooks only run once.
	err = bootkit.Stop(context.Background())
	require.ErrorContains(t, err, "redis: connection reset")
}

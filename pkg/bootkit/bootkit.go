package bootkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo/mutable"

	"speechway.dev/pkg/utils"
)

const (
	DefaultStartTimeout = time.Second * 15
	DefaultStopTimeout  = time.Second * 30
)

// Runnable wires a component and registers its hooks on the lifecycle. It
// must not block.
type Runnable func(ctx context.Context, lifeCycle LifeCycle) error

// BootKit runs the registered runnables, then every start hook in parallel,
// and stops all hooks in reverse order once any start hook fails, all of them
// return, a signal arrives, or Stop is called.
type BootKit struct {
	options     *bootkitOptions
	parallelRun []Runnable
	lifeCycle   *lifeCycle

	selfCtx    context.Context
	selfCancel context.CancelFunc

	mutex    sync.Mutex
	stopOnce sync.Once
	stopErr  error
}

func New(options ...Option) *BootKit {
	applyOptions := &bootkitApplyOptions{
		bootkit: &bootkitOptions{
			startTimeout: DefaultStartTimeout,
			stopTimeout:  DefaultStopTimeout,
		},
	}

	for _, opt := range options {
		opt.apply(applyOptions)
	}

	selfCtx, selfCancel := context.WithCancel(context.Background())

	return &BootKit{
		options:     applyOptions.bootkit,
		parallelRun: make([]Runnable, 0),
		lifeCycle:   newLifeCycle(),
		selfCtx:     selfCtx,
		selfCancel:  selfCancel,
	}
}

func (b *BootKit) Add(invokeFn Runnable) *BootKit {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.parallelRun = append(b.parallelRun, invokeFn)

	return b
}

func (b *BootKit) runnables() []Runnable {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return utils.Clone(b.parallelRun)
}

// waitAll collects every error sent on errChan until wg is done or ctx ends.
func waitAll(ctx context.Context, wg *sync.WaitGroup, errChan <-chan error) error {
	var result *multierror.Error

	done := waitGroupToChan(wg)

	for {
		select {
		case err := <-errChan:
			result = multierror.Append(result, err)
		case <-done:
			for {
				select {
				case err := <-errChan:
					result = multierror.Append(result, err)
				default:
					return result.ErrorOrNil()
				}
			}
		case <-ctx.Done():
			return multierror.Append(result, ctx.Err()).ErrorOrNil()
		}
	}
}

func callRunnable(ctx context.Context, runnable []Runnable, lifecycle LifeCycle) error {
	wg := sync.WaitGroup{}
	errChan := make(chan error, len(runnable))

	for _, r := range runnable {
		wg.Go(func() {
			err := r(ctx, lifecycle)
			if err != nil {
				errChan <- err
			}
		})
	}

	return waitAll(ctx, &wg, errChan)
}

func callStartHooks(ctx context.Context, wg *sync.WaitGroup, errChan chan<- error, hooks []lifeCycler) {
	for _, hook := range hooks {
		wg.Go(func() {
			slog.Debug("starting", "hook", hook.Name())

			err := hook.Start(ctx)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", hook.Name(), err)
			}
		})
	}
}

func callStopHooks(ctx context.Context, hooks []lifeCycler) error {
	wg := sync.WaitGroup{}
	errChan := make(chan error, len(hooks))

	reversed := utils.Clone(hooks)
	mutable.Reverse(reversed)

	for _, hook := range reversed {
		wg.Go(func() {
			err := hook.Stop(ctx)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", hook.Name(), err)
			}
		})
	}

	return waitAll(ctx, &wg, errChan)
}

func waitGroupToChan(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	return done
}

// handleSignals cancels the kit on the first SIGINT or SIGTERM and exits the
// process on the second.
func (b *BootKit) handleSignals() func() {
	sigs := make(chan os.Signal, 2) //nolint:mnd
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})

	go func() {
		cancelled := false

		for {
			select {
			case <-quit:
				return
			case sig := <-sigs:
				if cancelled {
					fmt.Fprintln(os.Stderr, "received signal again, force terminated")
					os.Exit(1)
				}

				slog.Info("received signal, shutting down", "signal", sig.String())
				b.selfCancel()

				cancelled = true
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(quit)
	}
}

// Start blocks until the kit shuts down. It returns the start failure, if
// any, joined with any error from the stop hooks.
func (b *BootKit) Start() error {
	runCtx, cancel := context.WithTimeout(b.selfCtx, b.options.startTimeout)
	defer cancel()

	err := callRunnable(runCtx, b.runnables(), b.lifeCycle)
	if err != nil {
		slog.Error("failed to run", "error", err)
		return errors.Join(err, b.stop())
	}

	hooks := b.lifeCycle.GetHooks()
	startWg := &sync.WaitGroup{}
	errChan := make(chan error, len(hooks))

	stopSignals := b.handleSignals()
	defer stopSignals()

	callStartHooks(b.selfCtx, startWg, errChan, hooks)

	var startErr error

	select {
	case startErr = <-errChan:
		slog.Error("failed to start", "error", startErr)
	case <-waitGroupToChan(startWg):
	case <-b.selfCtx.Done():
	}

	b.selfCancel()

	return errors.Join(startErr, b.stop())
}

func (b *BootKit) stop() error {
	b.stopOnce.Do(func() {
		hooks := b.lifeCycle.GetHooks()
		if len(hooks) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.options.stopTimeout)
		defer cancel()

		b.stopErr = callStopHooks(ctx, hooks)
		if b.stopErr != nil {
			slog.Error("failed to stop", "error", b.stopErr)
		}
	})

	return b.stopErr
}

// Stop cancels a running Start and runs the stop hooks once. ctx bounds how
// long the caller waits.
func (b *BootKit) Stop(ctx context.Context) error {
	b.selfCancel()

	done := make(chan error, 1)

	go func() {
		done <- b.stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

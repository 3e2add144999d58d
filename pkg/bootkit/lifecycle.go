package bootkit

import (
	"context"
	"sync"
)

// LifeCycle lets runnables register start and stop hooks. Stop hooks are
// launched in reverse registration order and run concurrently.
type LifeCycle interface {
	Append(hook LifeCycleHook)
}

type lifeCycler interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// LifeCycleHook is a pair of callbacks. OnStart may block for as long as the
// component serves; OnStop must make it return.
type LifeCycleHook struct {
	HookName string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (h LifeCycleHook) Name() string {
	if h.HookName == "" {
		return "unnamed"
	}

	return h.HookName
}

func (h LifeCycleHook) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}

	return h.OnStart(ctx)
}

func (h LifeCycleHook) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}

	return h.OnStop(ctx)
}

type lifeCycle struct {
	mutex sync.Mutex
	hooks []lifeCycler
}

func newLifeCycle() *lifeCycle {
	return &lifeCycle{
		hooks: make([]lifeCycler, 0),
	}
}

func (l *lifeCycle) Append(hook LifeCycleHook) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.hooks = append(l.hooks, hook)
}

func (l *lifeCycle) GetHooks() []lifeCycler {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return append([]lifeCycler(nil), l.hooks...)
}

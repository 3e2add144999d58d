package bootkit

import "time"

type bootkitOptions struct {
	startTimeout time.Duration
	stopTimeout  time.Duration
}

type bootkitApplyOptions struct {
	bootkit *bootkitOptions
}

type Option interface {
	apply(*bootkitApplyOptions)
}

type optionFunc func(*bootkitApplyOptions)

func (f optionFunc) apply(o *bootkitApplyOptions) {
	f(o)
}

// StartTimeout bounds how long runnables may take to register their hooks.
func StartTimeout(timeout time.Duration) Option {
	return optionFunc(func(o *bootkitApplyOptions) {
		o.bootkit.startTimeout = timeout
	})
}

// StopTimeout bounds how long all stop hooks may take together.
func StopTimeout(timeout time.Duration) Option {
	return optionFunc(func(o *bootkitApplyOptions) {
		o.bootkit.stopTimeout = timeout
	})
}

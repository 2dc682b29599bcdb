package executor

import (
	"time"

	"github.com/nexus-link/durable/activity"
)

// CallOption configures a single activity call.
type CallOption func(*options)

type options struct {
	urgency      activity.FailUrgency
	maxTime      time.Duration
	defaultValue func() any
}

func newOptions(opts []CallOption) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithFailUrgency decides what a failure of the activity does to the
// workflow. The urgency is recorded on the activity version the first time
// the activity is seen; later changes to the call site do not alter it.
func WithFailUrgency(u activity.FailUrgency) CallOption {
	return func(o *options) { o.urgency = u }
}

// WithMaxExecutionTime bounds the activity from its first start across
// all attempts. Exceeding it fails the activity with MaxTimeReachedError.
func WithMaxExecutionTime(d time.Duration) CallOption {
	return func(o *options) { o.maxTime = d }
}

// WithDefault supplies the value returned when the activity cannot run:
// the workflow is being cancelled, or the activity failed with an urgency
// that lets the workflow continue.
func WithDefault[T any](fn func() T) CallOption {
	return func(o *options) { o.defaultValue = func() any { return fn() } }
}

// fallbackValue returns the configured default, or the zero value when
// none was given or it has another type.
func fallbackValue[T any](o *options) (T, bool) {
	var zero T
	if o.defaultValue == nil {
		return zero, false
	}
	v, ok := o.defaultValue().(T)
	if !ok {
		return zero, false
	}
	return v, true
}

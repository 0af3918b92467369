// Package pipeline runs the two halves of the optical link: the sender polls
// the monitor cache and renders each new snapshot as a code image, and the
// receiver captures images, decodes them and logs one record per attempt.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/logging"
)

// Clock supplies wall-clock time to the loops.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

type options struct {
	clock   Clock
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures a Sender or Receiver.
type Option func(*options)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{clock: SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrNop(o.logger)
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	return o
}

// runLoop calls step immediately and then every interval until ctx is done.
// Step errors are reported to onErr and never stop the loop.
func runLoop(ctx context.Context, interval time.Duration, step func(context.Context) error, onErr func(error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := step(ctx); err != nil && ctx.Err() == nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

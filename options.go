package codeflow

import (
	"github.com/rs/zerolog"

	"github.com/cloudcmds/codeflow/flowgraph"
)

// Option configures a codeflow pipeline run.
type Option func(*options)

type options struct {
	logger    zerolog.Logger
	maxPasses int
}

func collectOptions(opts ...Option) *options {
	o := &options{
		logger:    zerolog.Nop(),
		maxPasses: flowgraph.DefaultMaxIterations,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func (o *options) optimizerOpts() []flowgraph.Option {
	return []flowgraph.Option{
		flowgraph.WithLogger(o.logger),
		flowgraph.WithMaxIterations(o.maxPasses),
	}
}

// WithLogger supplies a logger used to trace optimizer passes at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMaxPasses overrides the optimizer's fixpoint iteration cap.
func WithMaxPasses(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPasses = n
		}
	}
}

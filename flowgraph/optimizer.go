package flowgraph

import (
	"github.com/rs/zerolog"
)

// DefaultMaxIterations bounds the fixpoint loop of the optimizer pipeline.
// Well-formed graphs converge in a handful of iterations; the cap prevents
// pathological non-termination.
const DefaultMaxIterations = 100

// Optimizer runs a fixed, ordered pipeline of graph-rewriting passes to a
// fixpoint.
type Optimizer struct {
	passes        []Pass
	maxIterations int
	logger        zerolog.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger supplies a logger used to trace pass execution at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Optimizer) {
		o.logger = logger
	}
}

// WithMaxIterations overrides the fixpoint iteration cap.
func WithMaxIterations(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// NewOptimizer creates an optimizer over the given constants table. The
// constants are consulted by constant-branch folding.
func NewOptimizer(consts []any, opts ...Option) *Optimizer {
	o := &Optimizer{
		passes: []Pass{
			eliminateUnreachable{},
			threadJumps{},
			removeRedundantJumps{},
			&foldConstBranches{consts: consts},
			mergeBlocks{},
		},
		maxIterations: DefaultMaxIterations,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Run applies the pass pipeline repeatedly until an iteration makes no
// change or the iteration cap is reached. The graph is valid after every
// iteration, so hitting the cap is not an error.
func (o *Optimizer) Run(g *Graph) error {
	for i := 0; i < o.maxIterations; i++ {
		changed := false
		for _, p := range o.passes {
			c, err := p.Apply(g)
			if err != nil {
				return err
			}
			o.logger.Debug().
				Int("iteration", i).
				Str("pass", p.Name()).
				Bool("changed", c).
				Int("blocks", g.BlockCount()).
				Msg("optimizer pass")
			changed = changed || c
		}
		if !changed {
			return nil
		}
	}
	o.logger.Debug().Int("iterations", o.maxIterations).Msg("optimizer iteration cap reached")
	return nil
}

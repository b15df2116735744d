// Package codeflow implements the backend of a bytecode compiler: it takes
// the abstract instruction sequence emitted by a code generator, builds a
// control-flow graph, optimizes it to a fixpoint, verifies and measures
// stack usage, and assembles the result into an immutable code unit with
// exception and source-location tables.
//
// The code generator and the virtual machine that executes the output are
// external collaborators. Code generation produces a seq.Sequence plus an
// assembler.Metadata describing the unit's tables; Finalize turns the pair
// into a *bytecode.Code ready for a loader.
package codeflow

import (
	"fmt"

	"github.com/cloudcmds/codeflow/assembler"
	"github.com/cloudcmds/codeflow/bytecode"
	"github.com/cloudcmds/codeflow/errors"
	"github.com/cloudcmds/codeflow/flowgraph"
	"github.com/cloudcmds/codeflow/op"
	"github.com/cloudcmds/codeflow/seq"
)

// Finalize runs the full backend pipeline on one code unit: resolve labels,
// build the control-flow graph, optimize it, and assemble the optimized
// graph into an immutable code unit. The constant cache is shared across
// all units of one compilation; pass the same cache when finalizing nested
// units so identical constants are interned once.
func Finalize(s *seq.Sequence, meta assembler.Metadata, cache *assembler.ConstCache, opts ...Option) (*bytecode.Code, error) {
	o := collectOptions(opts...)
	g, err := flowgraph.Build(s)
	if err != nil {
		return nil, err
	}
	opt := flowgraph.NewOptimizer(meta.Consts, o.optimizerOpts()...)
	if err := opt.Run(g); err != nil {
		return nil, err
	}
	code, err := assembler.AssembleGraph(g, meta, cache)
	if err != nil {
		return nil, err
	}
	o.logger.Debug().
		Str("unit", meta.Name).
		Int("instructions", code.InstructionCount()).
		Int("max_stack_depth", code.MaxStackDepth()).
		Int("exception_ranges", code.ExceptionRangeCount()).
		Msg("finalized code unit")
	return code, nil
}

// OptimizeCfg exercises the graph stages in isolation: it takes instructions
// whose jump operands are already physical offsets, builds and optimizes the
// graph, verifies stack depths against the given constants and local count,
// and returns the optimized linear instruction stream with final offsets.
// No assembly takes place, so no tables are produced.
func OptimizeCfg(instrs []seq.Instruction, consts []any, nlocals int, opts ...Option) ([]seq.Instruction, error) {
	o := collectOptions(opts...)
	for i, instr := range instrs {
		if op.HasLocal(instr.Op) && (instr.Arg < 0 || instr.Arg >= nlocals) {
			return nil, &errors.MalformedGraphError{
				Offset:  i,
				Message: fmt.Sprintf("local slot %d out of range (%d locals)", instr.Arg, nlocals),
			}
		}
	}
	s, err := seq.FromInstructions(instrs)
	if err != nil {
		return nil, err
	}
	g, err := flowgraph.Build(s)
	if err != nil {
		return nil, err
	}
	opt := flowgraph.NewOptimizer(consts, o.optimizerOpts()...)
	if err := opt.Run(g); err != nil {
		return nil, err
	}
	if _, err := g.MaxStackDepth(); err != nil {
		return nil, err
	}
	return g.Linearize(), nil
}

// Assemble exercises the assembly stage in isolation: it takes instructions
// that are already optimized, with jump operands as physical offsets, and
// assembles them into a code unit without running the optimizer.
func Assemble(instrs []seq.Instruction, meta assembler.Metadata) (*bytecode.Code, error) {
	s, err := seq.FromInstructions(instrs)
	if err != nil {
		return nil, err
	}
	g, err := flowgraph.Build(s)
	if err != nil {
		return nil, err
	}
	return assembler.AssembleGraph(g, meta, assembler.NewConstCache())
}

// Package assembler turns an optimized control-flow graph into an immutable
// code unit: final offsets, resolved operands, the exception table, and the
// source-location table.
package assembler

import (
	"fmt"

	"github.com/cloudcmds/codeflow/bytecode"
	"github.com/cloudcmds/codeflow/errors"
	"github.com/cloudcmds/codeflow/flowgraph"
	"github.com/cloudcmds/codeflow/op"
	"github.com/cloudcmds/codeflow/seq"
)

// AssembleGraph measures the graph's stack requirement, linearizes it, and
// assembles the result into a code unit using the unit's metadata. Constants
// are interned through the cache, cell and free variable operands are shifted
// into the combined fast-local index space, and exception and location
// information is compressed into range tables.
func AssembleGraph(g *flowgraph.Graph, meta Metadata, cache *ConstCache) (*bytecode.Code, error) {
	depth, err := g.MaxStackDepth()
	if err != nil {
		return nil, err
	}
	return assemble(g.Linearize(), meta, cache, depth)
}

// AssembleInstructions assembles an already linearized instruction stream.
// Jump operands and handler associations must be physical offsets.
func AssembleInstructions(instrs []seq.Instruction, meta Metadata, cache *ConstCache, maxStackDepth int) (*bytecode.Code, error) {
	return assemble(instrs, meta, cache, maxStackDepth)
}

func assemble(instrs []seq.Instruction, meta Metadata, cache *ConstCache, maxStackDepth int) (*bytecode.Code, error) {
	if len(instrs) > seq.MaxInstructions {
		return nil, &errors.CapacityError{
			What:  "instructions",
			Count: len(instrs),
			Limit: seq.MaxInstructions,
		}
	}
	// Table indexes must fit in an operand word.
	if len(meta.Consts) > seq.MaxOperand+1 {
		return nil, &errors.CapacityError{
			What:  "constants",
			Count: len(meta.Consts),
			Limit: seq.MaxOperand + 1,
		}
	}
	if len(meta.Names) > seq.MaxOperand+1 {
		return nil, &errors.CapacityError{
			What:  "names",
			Count: len(meta.Names),
			Limit: seq.MaxOperand + 1,
		}
	}
	nlocalsplus := meta.NLocalsPlus()
	if nlocalsplus > seq.MaxOperand {
		return nil, &errors.CapacityError{
			What:  "local variable slots",
			Count: nlocalsplus,
			Limit: seq.MaxOperand,
		}
	}

	out := make([]bytecode.Instruction, 0, len(instrs))
	var excTable []bytecode.ExceptionRange
	var locTable []bytecode.LocationRange

	for i, instr := range instrs {
		arg, err := resolveOperand(instr, i, meta)
		if err != nil {
			return nil, err
		}
		if (op.HasJump(instr.Op) || op.HasExc(instr.Op)) && arg >= len(instrs) {
			return nil, &errors.MalformedGraphError{
				Offset:  i,
				Message: fmt.Sprintf("jump target %d out of range (%d instructions)", arg, len(instrs)),
			}
		}
		if arg > seq.MaxOperand {
			return nil, &errors.CapacityError{
				What:  "operand value",
				Count: arg,
				Limit: seq.MaxOperand,
			}
		}
		out = append(out, bytecode.Instruction{Op: instr.Op, Arg: arg, Offset: i})

		if instr.Except != nil {
			excTable = appendExceptionRange(excTable, i, instr.Except)
		}
		if !instr.Loc.IsZero() {
			locTable = appendLocationRange(locTable, i, instr.Loc)
		}
	}

	consts := make([]any, len(meta.Consts))
	for i, c := range meta.Consts {
		if cache != nil {
			c = cache.Intern(c)
		}
		consts[i] = c
	}

	return bytecode.NewCode(bytecode.CodeParams{
		Name:            meta.Name,
		QualifiedName:   meta.QualifiedName,
		Filename:        meta.Filename,
		Instructions:    out,
		ExceptionTable:  excTable,
		LocationTable:   locTable,
		Constants:       consts,
		Names:           meta.Names,
		Varnames:        meta.Varnames,
		Cellvars:        meta.Cellvars,
		Freevars:        meta.Freevars,
		ArgCount:        meta.ArgCount,
		PosOnlyArgCount: meta.PosOnlyArgCount,
		KwOnlyArgCount:  meta.KwOnlyArgCount,
		FirstLine:       meta.FirstLine,
		MaxStackDepth:   maxStackDepth,
		NLocalsPlus:     nlocalsplus,
	}), nil
}

// resolveOperand validates the instruction's operand against the unit's
// tables and shifts cell and free variable slots into the combined
// fast-local index space: plain locals first, then cells, then frees.
func resolveOperand(instr seq.Instruction, offset int, meta Metadata) (int, error) {
	arg := instr.Arg
	info := op.GetInfo(instr.Op)
	if info.Arg != op.ArgNone && arg < 0 {
		return 0, &errors.MalformedGraphError{
			Offset:  offset,
			Message: fmt.Sprintf("%s has negative operand %d", info.Name, arg),
		}
	}
	switch info.Arg {
	case op.ArgConst:
		if arg >= len(meta.Consts) {
			return 0, &errors.MalformedGraphError{
				Offset:  offset,
				Message: fmt.Sprintf("constant index %d out of range (%d constants)", arg, len(meta.Consts)),
			}
		}
	case op.ArgName:
		if arg >= len(meta.Names) {
			return 0, &errors.MalformedGraphError{
				Offset:  offset,
				Message: fmt.Sprintf("name index %d out of range (%d names)", arg, len(meta.Names)),
			}
		}
	case op.ArgLocal:
		if arg >= len(meta.Varnames) {
			return 0, &errors.MalformedGraphError{
				Offset:  offset,
				Message: fmt.Sprintf("local slot %d out of range (%d locals)", arg, len(meta.Varnames)),
			}
		}
	case op.ArgCell:
		if arg >= len(meta.Cellvars) {
			return 0, &errors.MalformedGraphError{
				Offset:  offset,
				Message: fmt.Sprintf("cell slot %d out of range (%d cells)", arg, len(meta.Cellvars)),
			}
		}
		arg += len(meta.Varnames)
	case op.ArgFree:
		if arg >= len(meta.Freevars) {
			return 0, &errors.MalformedGraphError{
				Offset:  offset,
				Message: fmt.Sprintf("free slot %d out of range (%d frees)", arg, len(meta.Freevars)),
			}
		}
		arg += len(meta.Varnames) + len(meta.Cellvars)
	}
	return arg, nil
}

// appendExceptionRange extends the last exception table entry when the
// instruction at offset continues the same handler association, otherwise
// starts a new entry. Entries use half-open [Start, End) offset ranges.
func appendExceptionRange(table []bytecode.ExceptionRange, offset int, exc *seq.ExceptInfo) []bytecode.ExceptionRange {
	handler := int(exc.Handler)
	if n := len(table); n > 0 {
		last := &table[n-1]
		if last.End == offset &&
			last.Handler == handler &&
			last.StartDepth == exc.StartDepth &&
			last.PreserveLasti == exc.PreserveLasti {
			last.End = offset + 1
			return table
		}
	}
	return append(table, bytecode.ExceptionRange{
		Start:         offset,
		End:           offset + 1,
		Handler:       handler,
		StartDepth:    exc.StartDepth,
		PreserveLasti: exc.PreserveLasti,
	})
}

// appendLocationRange extends the last location table entry when the
// instruction at offset carries the same source location, otherwise starts a
// new entry.
func appendLocationRange(table []bytecode.LocationRange, offset int, loc bytecode.SourceLocation) []bytecode.LocationRange {
	if n := len(table); n > 0 {
		last := &table[n-1]
		if last.End == offset && last.Location == loc {
			last.End = offset + 1
			return table
		}
	}
	return append(table, bytecode.LocationRange{
		Start:    offset,
		End:      offset + 1,
		Location: loc,
	})
}

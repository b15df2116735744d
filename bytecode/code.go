// Package bytecode provides the immutable representation of an assembled
// code unit: the final instruction stream plus the auxiliary tables needed
// by a loader to construct an executable unit.
//
// All types in this package are immutable after construction. Constructors
// copy input slices, fields are unexported, and collections are exposed via
// index-based accessors.
package bytecode

import (
	"github.com/cloudcmds/codeflow/op"
)

// Instruction is one assembled instruction: an opcode, its resolved operand,
// and its final physical offset.
type Instruction struct {
	Op     op.Code
	Arg    int
	Offset int
}

// Code represents one assembled code unit (module, function body, etc.).
// It is immutable after creation and safe for concurrent use.
type Code struct {
	name          string
	qualifiedName string
	filename      string

	instructions   []Instruction
	exceptionTable []ExceptionRange
	locationTable  []LocationRange

	constants []any
	names     []string
	varnames  []string
	cellvars  []string
	freevars  []string

	argCount        int
	posOnlyArgCount int
	kwOnlyArgCount  int
	firstLine       int

	maxStackDepth int
	nlocalsPlus   int
}

// CodeParams contains parameters for creating a new Code.
type CodeParams struct {
	Name          string
	QualifiedName string
	Filename      string

	Instructions   []Instruction
	ExceptionTable []ExceptionRange
	LocationTable  []LocationRange

	Constants []any
	Names     []string
	Varnames  []string
	Cellvars  []string
	Freevars  []string

	ArgCount        int
	PosOnlyArgCount int
	KwOnlyArgCount  int
	FirstLine       int

	MaxStackDepth int
	NLocalsPlus   int
}

// NewCode creates a new immutable Code from the given parameters.
// Input slices are copied to ensure immutability.
func NewCode(params CodeParams) *Code {
	return &Code{
		name:            params.Name,
		qualifiedName:   params.QualifiedName,
		filename:        params.Filename,
		instructions:    copySlice(params.Instructions),
		exceptionTable:  copySlice(params.ExceptionTable),
		locationTable:   copySlice(params.LocationTable),
		constants:       copySlice(params.Constants),
		names:           copySlice(params.Names),
		varnames:        copySlice(params.Varnames),
		cellvars:        copySlice(params.Cellvars),
		freevars:        copySlice(params.Freevars),
		argCount:        params.ArgCount,
		posOnlyArgCount: params.PosOnlyArgCount,
		kwOnlyArgCount:  params.KwOnlyArgCount,
		firstLine:       params.FirstLine,
		maxStackDepth:   params.MaxStackDepth,
		nlocalsPlus:     params.NLocalsPlus,
	}
}

func copySlice[T any](src []T) []T {
	if len(src) == 0 {
		return nil
	}
	dst := make([]T, len(src))
	copy(dst, src)
	return dst
}

// Name returns the name of this code unit.
func (c *Code) Name() string { return c.name }

// QualifiedName returns the dot-separated qualified name of this code unit.
func (c *Code) QualifiedName() string { return c.qualifiedName }

// Filename returns the source filename.
func (c *Code) Filename() string { return c.filename }

// InstructionCount returns the number of instructions.
func (c *Code) InstructionCount() int { return len(c.instructions) }

// InstructionAt returns the instruction at the given index.
func (c *Code) InstructionAt(index int) Instruction { return c.instructions[index] }

// ConstantCount returns the number of constants.
func (c *Code) ConstantCount() int { return len(c.constants) }

// ConstantAt returns the constant at the given index.
func (c *Code) ConstantAt(index int) any { return c.constants[index] }

// NameCount returns the number of names referenced by this code unit.
func (c *Code) NameCount() int { return len(c.names) }

// NameAt returns the name at the given index.
func (c *Code) NameAt(index int) string { return c.names[index] }

// VarnameCount returns the number of local variable names.
func (c *Code) VarnameCount() int { return len(c.varnames) }

// VarnameAt returns the local variable name at the given index.
func (c *Code) VarnameAt(index int) string { return c.varnames[index] }

// CellvarCount returns the number of cell variable names.
func (c *Code) CellvarCount() int { return len(c.cellvars) }

// CellvarAt returns the cell variable name at the given index.
func (c *Code) CellvarAt(index int) string { return c.cellvars[index] }

// FreevarCount returns the number of free variable names.
func (c *Code) FreevarCount() int { return len(c.freevars) }

// FreevarAt returns the free variable name at the given index.
func (c *Code) FreevarAt(index int) string { return c.freevars[index] }

// ArgCount returns the number of positional arguments.
func (c *Code) ArgCount() int { return c.argCount }

// PosOnlyArgCount returns the number of positional-only arguments.
func (c *Code) PosOnlyArgCount() int { return c.posOnlyArgCount }

// KwOnlyArgCount returns the number of keyword-only arguments.
func (c *Code) KwOnlyArgCount() int { return c.kwOnlyArgCount }

// FirstLine returns the first source line of this code unit.
func (c *Code) FirstLine() int { return c.firstLine }

// MaxStackDepth returns the evaluation-stack size required by this unit.
func (c *Code) MaxStackDepth() int { return c.maxStackDepth }

// NLocalsPlus returns the combined count of local, cell, and free variable
// slots.
func (c *Code) NLocalsPlus() int { return c.nlocalsPlus }

// ExceptionRangeCount returns the number of exception table entries.
func (c *Code) ExceptionRangeCount() int { return len(c.exceptionTable) }

// ExceptionRangeAt returns the exception table entry at the given index.
func (c *Code) ExceptionRangeAt(index int) ExceptionRange { return c.exceptionTable[index] }

// LocationRangeCount returns the number of location table entries.
func (c *Code) LocationRangeCount() int { return len(c.locationTable) }

// LocationRangeAt returns the location table entry at the given index.
func (c *Code) LocationRangeAt(index int) LocationRange { return c.locationTable[index] }

// LocationAt returns the source location covering the given instruction
// offset, or the zero location if none is recorded.
func (c *Code) LocationAt(offset int) SourceLocation {
	for _, r := range c.locationTable {
		if offset >= r.Start && offset < r.End {
			return r.Location
		}
	}
	return SourceLocation{}
}

// HandlerAt returns the innermost exception range covering the given offset.
// The second return value is false if no handler covers the offset.
func (c *Code) HandlerAt(offset int) (ExceptionRange, bool) {
	for i := len(c.exceptionTable) - 1; i >= 0; i-- {
		r := c.exceptionTable[i]
		if offset >= r.Start && offset < r.End {
			return r, true
		}
	}
	return ExceptionRange{}, false
}

// Stats returns statistics about this code unit.
func (c *Code) Stats() Stats {
	return Stats{
		InstructionCount:    c.InstructionCount(),
		ConstantCount:       c.ConstantCount(),
		NameCount:           c.NameCount(),
		ExceptionRangeCount: c.ExceptionRangeCount(),
		MaxStackDepth:       c.MaxStackDepth(),
		NLocalsPlus:         c.NLocalsPlus(),
	}
}

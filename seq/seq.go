// Package seq implements the instruction sequence: the growable, ordered
// buffer of abstract instructions produced by code generation and consumed
// by the control-flow graph builder.
//
// Jump targets are expressed with labels, using an explicit two-phase
// protocol: a label is created with NewLabel, bound to a position with Bind,
// and every jump operand is rewritten from label id to bound offset by
// ResolveLabels before the sequence is handed off.
package seq

import (
	"fmt"

	"github.com/cloudcmds/codeflow/bytecode"
	"github.com/cloudcmds/codeflow/errors"
	"github.com/cloudcmds/codeflow/op"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
)

const (
	// MaxInstructions is the maximum number of instructions in one sequence,
	// bounded by the fixed-width operand encoding used for offsets.
	MaxInstructions = 1 << 16

	// MaxOperand is the largest value representable in an operand word.
	MaxOperand = 1<<16 - 1

	initialCapacity = 32
)

// Label is a symbolic placeholder for the offset where a future instruction
// will land. Labels are only meaningful within the sequence that created
// them; they are never valid across sequences.
type Label int

// ExceptInfo associates an instruction with the exception handler covering
// it. Handler is a label before resolution and an offset afterwards.
type ExceptInfo struct {
	Handler       Label
	StartDepth    int
	PreserveLasti bool
}

// Instruction is one abstract instruction. Arg holds a label id for
// jump-class opcodes before label resolution and a physical offset after.
// Target and Offset are written during assembly.
type Instruction struct {
	Op     op.Code
	Arg    int
	Loc    bytecode.SourceLocation
	Except *ExceptInfo

	// Used by the assembler
	Target int
	Offset int
}

// Sequence is a growable ordered buffer of instructions plus a label table.
// A Sequence is owned exclusively by the builder that created it until
// handed off to the assembler; it is not safe for concurrent use.
type Sequence struct {
	id       string
	instrs   []Instruction
	used     int
	labelMap []int // label id -> bound offset, -1 if unbound
	resolved bool

	// Handler association attached to instructions appended while set
	pendingHandler *ExceptInfo
}

// New creates an empty instruction sequence.
func New() *Sequence {
	return &Sequence{
		id:     uuid.Must(uuid.NewV4()).String(),
		instrs: make([]Instruction, initialCapacity),
	}
}

// ID returns the unique identity of this sequence. Two sequences never share
// an ID, so numerically identical labels in different sequences cannot alias.
func (s *Sequence) ID() string {
	return s.id
}

// Count returns the number of instructions appended so far.
func (s *Sequence) Count() int {
	return s.used
}

// Instruction returns the instruction at the given offset.
func (s *Sequence) Instruction(offset int) Instruction {
	return s.instrs[offset]
}

// Instructions returns a copy of the appended instructions.
func (s *Sequence) Instructions() []Instruction {
	out := make([]Instruction, s.used)
	copy(out, s.instrs[:s.used])
	return out
}

// Resolved returns true once ResolveLabels has rewritten jump operands from
// label ids to offsets.
func (s *Sequence) Resolved() bool {
	return s.resolved
}

// NewLabel creates a new, unbound label scoped to this sequence.
func (s *Sequence) NewLabel() Label {
	s.labelMap = append(s.labelMap, -1)
	return Label(len(s.labelMap) - 1)
}

// Bind records that the next appended instruction is the target of the
// given label. Binding a label twice is a LabelStateError.
func (s *Sequence) Bind(label Label) error {
	if int(label) < 0 || int(label) >= len(s.labelMap) {
		return &errors.LabelStateError{
			Label:   int(label),
			Message: fmt.Sprintf("unknown label in sequence %s", s.id),
		}
	}
	if s.labelMap[label] != -1 {
		return &errors.LabelStateError{
			Label:   int(label),
			Message: "label already bound",
		}
	}
	s.labelMap[label] = s.used
	return nil
}

// LabelOffset returns the offset a label was bound to. The second return
// value is false if the label is unbound.
func (s *Sequence) LabelOffset(label Label) (int, bool) {
	if int(label) < 0 || int(label) >= len(s.labelMap) {
		return 0, false
	}
	off := s.labelMap[label]
	if off == -1 {
		return 0, false
	}
	return off, true
}

// BoundLabelOffsets returns the offsets of all bound labels, in label order.
func (s *Sequence) BoundLabelOffsets() []int {
	var offsets []int
	for _, off := range s.labelMap {
		if off != -1 {
			offsets = append(offsets, off)
		}
	}
	return offsets
}

// SetPendingHandler attaches the given handler association to every
// instruction appended until ClearPendingHandler is called. The code
// generator uses this to mark the extent of a try region.
func (s *Sequence) SetPendingHandler(info ExceptInfo) {
	s.pendingHandler = &info
}

// ClearPendingHandler stops attaching handler associations to appended
// instructions.
func (s *Sequence) ClearPendingHandler() {
	s.pendingHandler = nil
}

// Append adds an instruction to the sequence. For jump-class and
// exception-class opcodes, arg must be a label created by this sequence.
// The backing storage grows geometrically.
func (s *Sequence) Append(opcode op.Code, arg int, loc bytecode.SourceLocation) error {
	if !op.IsValid(opcode) {
		return &errors.MalformedGraphError{
			Offset:  s.used,
			Message: fmt.Sprintf("invalid opcode %d", opcode),
		}
	}
	if op.HasJump(opcode) || op.HasExc(opcode) {
		if _, ok := s.labelIsKnown(Label(arg)); !ok {
			return &errors.LabelStateError{
				Label:   arg,
				Message: fmt.Sprintf("jump references label not created by sequence %s", s.id),
			}
		}
	}
	if err := s.CheckSize(); err != nil {
		return err
	}
	if s.used == len(s.instrs) {
		s.grow()
	}
	s.instrs[s.used] = Instruction{
		Op:     opcode,
		Arg:    arg,
		Loc:    loc,
		Except: s.pendingHandler,
		Target: -1,
		Offset: -1,
	}
	s.used++
	return nil
}

// AppendInstruction adds a pre-built instruction, keeping its handler
// association but resetting assembler state. Label operands are not
// validated; this is the low-level path used when converting a graph back
// into a sequence.
func (s *Sequence) AppendInstruction(instr Instruction) error {
	if !op.IsValid(instr.Op) {
		return &errors.MalformedGraphError{
			Offset:  s.used,
			Message: fmt.Sprintf("invalid opcode %d", instr.Op),
		}
	}
	if err := s.CheckSize(); err != nil {
		return err
	}
	if s.used == len(s.instrs) {
		s.grow()
	}
	instr.Target = -1
	instr.Offset = -1
	s.instrs[s.used] = instr
	s.used++
	return nil
}

// FromInstructions creates a sequence from instructions whose jump-class
// operands and handler associations are already physical offsets. The
// sequence is marked resolved, so no label rewriting takes place.
func FromInstructions(instrs []Instruction) (*Sequence, error) {
	s := New()
	for _, instr := range instrs {
		if err := s.AppendInstruction(instr); err != nil {
			return nil, err
		}
	}
	s.resolved = true
	return s, nil
}

func (s *Sequence) labelIsKnown(label Label) (int, bool) {
	if int(label) < 0 || int(label) >= len(s.labelMap) {
		return 0, false
	}
	return s.labelMap[label], true
}

func (s *Sequence) grow() {
	grown := make([]Instruction, len(s.instrs)*2)
	copy(grown, s.instrs)
	s.instrs = grown
}

// CheckSize returns a CapacityError if appending one more instruction would
// overflow the fixed-width operand encoding used for offsets.
func (s *Sequence) CheckSize() error {
	if s.used >= MaxInstructions {
		return &errors.CapacityError{
			What:  "instructions",
			Count: s.used + 1,
			Limit: MaxInstructions,
		}
	}
	return nil
}

// ResolveLabels rewrites every jump-class and exception-class operand, and
// every handler association, from label id to the offset the label was bound
// to. All unbound referenced labels are reported, not just the first.
func (s *Sequence) ResolveLabels() error {
	if s.resolved {
		return nil
	}
	var result *multierror.Error
	for i := 0; i < s.used; i++ {
		instr := &s.instrs[i]
		if op.HasJump(instr.Op) || op.HasExc(instr.Op) {
			off, bound := s.LabelOffset(Label(instr.Arg))
			if !bound {
				result = multierror.Append(result, &errors.LabelStateError{
					Label:   instr.Arg,
					Message: fmt.Sprintf("jump at offset %d references unbound label", i),
				})
				continue
			}
			instr.Arg = off
		}
		if instr.Except != nil {
			off, bound := s.LabelOffset(instr.Except.Handler)
			if !bound {
				result = multierror.Append(result, &errors.LabelStateError{
					Label:   int(instr.Except.Handler),
					Message: fmt.Sprintf("handler for offset %d references unbound label", i),
				})
				continue
			}
			// Copy before rewriting: multiple instructions may share one
			// ExceptInfo via the pending-handler mechanism.
			resolved := *instr.Except
			resolved.Handler = Label(off)
			instr.Except = &resolved
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	s.resolved = true
	return nil
}

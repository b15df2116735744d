// Package errors defines the error types reported by the codeflow backend.
//
// Errors fall into two categories. Internal errors (LabelStateError,
// MalformedGraphError, StackDepthError) indicate a bug in the code that
// emitted the instruction sequence: the caller should surface these as
// implementation defects. CapacityError is the one user-triggerable
// condition ("code unit too large") and should be presented as a normal
// compile error.
package errors

import (
	goerrors "errors"
	"fmt"
)

// LabelStateError indicates misuse of the bind-then-resolve label protocol:
// a label bound more than once, or a label referenced by a jump that was
// never bound by the time labels were resolved.
type LabelStateError struct {
	Label   int
	Message string
}

func (e *LabelStateError) Error() string {
	return fmt.Sprintf("label error: %s (label %d)", e.Message, e.Label)
}

// MalformedGraphError indicates an internal consistency violation in the
// control-flow graph, such as a jump that targets an offset which is not a
// block boundary.
type MalformedGraphError struct {
	Offset  int
	Message string
}

func (e *MalformedGraphError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("malformed graph: %s (offset %d)", e.Message, e.Offset)
	}
	return fmt.Sprintf("malformed graph: %s", e.Message)
}

// StackDepthError indicates that abstract interpretation of the graph found
// an inconsistent or invalid stack depth: two predecessors of a block
// disagree on the entry depth, or an instruction pops from an empty stack.
type StackDepthError struct {
	Block   int
	Message string
}

func (e *StackDepthError) Error() string {
	if e.Block >= 0 {
		return fmt.Sprintf("stack depth error: %s (block %d)", e.Message, e.Block)
	}
	return fmt.Sprintf("stack depth error: %s", e.Message)
}

// CapacityError indicates that the code unit exceeds the fixed-width operand
// encoding: too many instructions, constants, names, or an offset that does
// not fit in an operand word.
type CapacityError struct {
	What  string
	Count int
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("code unit too large: %d %s exceeds limit of %d", e.Count, e.What, e.Limit)
}

// IsInternal returns true if the error indicates an internal invariant
// violation rather than a user-triggerable condition.
func IsInternal(err error) bool {
	var labelErr *LabelStateError
	var graphErr *MalformedGraphError
	var depthErr *StackDepthError
	return goerrors.As(err, &labelErr) ||
		goerrors.As(err, &graphErr) ||
		goerrors.As(err, &depthErr)
}

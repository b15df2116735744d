package flowgraph

import (
	"sort"

	"github.com/cloudcmds/codeflow/errors"
	"github.com/cloudcmds/codeflow/op"
	"github.com/cloudcmds/codeflow/seq"
)

// Build partitions an instruction sequence into basic blocks and attaches
// successor edges, producing a control-flow graph. The sequence may have
// labels already resolved or still symbolic; symbolic labels are resolved
// here first.
//
// A new block starts at offset zero, at every label-bound offset, and
// immediately after every control-transferring instruction. A jump whose
// target offset is not a block boundary indicates an upstream emission bug
// and is reported as a MalformedGraphError.
func Build(s *seq.Sequence) (*Graph, error) {
	if !s.Resolved() {
		if err := s.ResolveLabels(); err != nil {
			return nil, err
		}
	}
	instrs := s.Instructions()
	n := len(instrs)

	boundary := map[int]bool{0: true}
	for _, off := range s.BoundLabelOffsets() {
		if off < n {
			boundary[off] = true
		}
	}
	for i := range instrs {
		instr := &instrs[i]
		if op.EndsBlock(instr.Op) && i+1 < n {
			boundary[i+1] = true
		}
		// Jump targets and handler offsets are block entry points whether
		// they arrived as bound labels or as raw offsets.
		if op.HasJump(instr.Op) || op.HasExc(instr.Op) {
			if instr.Arg < 0 || instr.Arg >= n {
				return nil, &errors.MalformedGraphError{
					Offset:  instr.Arg,
					Message: "jump targets an offset with no block boundary",
				}
			}
			boundary[instr.Arg] = true
		}
		if instr.Except != nil {
			handler := int(instr.Except.Handler)
			if handler < 0 || handler >= n {
				return nil, &errors.MalformedGraphError{
					Offset:  handler,
					Message: "handler association targets an offset with no block boundary",
				}
			}
			boundary[handler] = true
		}
	}

	starts := make([]int, 0, len(boundary))
	for off := range boundary {
		starts = append(starts, off)
	}
	sort.Ints(starts)

	startIndex := make(map[int]int, len(starts))
	blocks := make([]*Block, len(starts))
	for i, start := range starts {
		end := n
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		body := make([]seq.Instruction, end-start)
		copy(body, instrs[start:end])
		blocks[i] = &Block{
			index:        i,
			instrs:       body,
			next:         -1,
			handlerDepth: -1,
		}
		startIndex[start] = i
	}

	g := &Graph{blocks: blocks}
	for bi, b := range blocks {
		for i := range b.instrs {
			instr := &b.instrs[i]
			if op.HasJump(instr.Op) || op.HasExc(instr.Op) {
				target, ok := startIndex[instr.Arg]
				if !ok {
					return nil, &errors.MalformedGraphError{
						Offset:  instr.Arg,
						Message: "jump targets an offset with no block boundary",
					}
				}
				instr.Target = target
				if op.HasExc(instr.Op) {
					blocks[target].isHandler = true
				}
			}
			if instr.Except != nil {
				handler, ok := startIndex[int(instr.Except.Handler)]
				if !ok {
					return nil, &errors.MalformedGraphError{
						Offset:  int(instr.Except.Handler),
						Message: "handler association targets an offset with no block boundary",
					}
				}
				clone := *instr.Except
				clone.Handler = seq.Label(handler)
				instr.Except = &clone

				hb := blocks[handler]
				hb.isHandler = true
				if hb.handlerDepth == -1 {
					hb.handlerDepth = clone.StartDepth
				} else if hb.handlerDepth != clone.StartDepth {
					return nil, &errors.StackDepthError{
						Block:   handler,
						Message: "handler referenced with conflicting entry depths",
					}
				}
			}
		}
		if len(b.instrs) > 0 && op.IsTerminator(b.instrs[len(b.instrs)-1].Op) {
			continue // no fallthrough
		}
		if bi+1 < len(blocks) {
			b.next = bi + 1
		}
	}
	return g, nil
}

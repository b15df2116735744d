package flowgraph

import (
	"fmt"

	"github.com/cloudcmds/codeflow/errors"
	"github.com/cloudcmds/codeflow/op"
)

// MaxStackDepth performs an abstract interpretation of the graph, computing
// the evaluation-stack depth at every point and validating that all
// predecessors of a block agree on its entry depth. It returns the maximum
// depth observed across all reachable blocks: the unit's required
// evaluation-stack size.
//
// The entry block starts at depth zero. An exception-handler target starts
// at the depth recorded in its handler association, or at the raising
// block's depth plus one (the pushed exception) when the association leaves
// it implied. Any disagreement or stack underflow is a StackDepthError: a
// miscompiled graph aborts the unit, never silently coerced.
func (g *Graph) MaxStackDepth() (int, error) {
	n := len(g.blocks)
	if n == 0 {
		return 0, nil
	}
	depths := make([]int, n)
	for i := range depths {
		depths[i] = -1
	}
	var work []int
	push := func(idx, depth int) error {
		if depths[idx] == -1 {
			depths[idx] = depth
			work = append(work, idx)
			return nil
		}
		if depths[idx] != depth {
			return &errors.StackDepthError{
				Block:   idx,
				Message: fmt.Sprintf("predecessors disagree on entry depth (%d != %d)", depths[idx], depth),
			}
		}
		return nil
	}

	if err := push(0, 0); err != nil {
		return 0, err
	}
	for i, b := range g.blocks {
		if b.isHandler && b.handlerDepth >= 0 {
			if err := push(i, b.handlerDepth); err != nil {
				return 0, err
			}
		}
	}

	maxDepth := 0
	for len(work) > 0 {
		idx := work[len(work)-1]
		work = work[:len(work)-1]
		b := g.blocks[idx]
		depth := depths[idx]
		if depth > maxDepth {
			maxDepth = depth
		}
		for i := range b.instrs {
			instr := b.instrs[i]
			if instr.Op == op.SetupTry {
				hb := g.blocks[instr.Target]
				if hb.handlerDepth < 0 {
					if err := push(instr.Target, depth+1); err != nil {
						return 0, err
					}
				}
			}
			depth += op.StackEffect(instr.Op, instr.Arg)
			if depth < 0 {
				return 0, &errors.StackDepthError{
					Block:   idx,
					Message: fmt.Sprintf("%s pops from an empty stack", op.GetInfo(instr.Op).Name),
				}
			}
			if depth > maxDepth {
				maxDepth = depth
			}
			if op.HasJump(instr.Op) {
				if err := push(instr.Target, depth); err != nil {
					return 0, err
				}
			}
		}
		if b.next != -1 {
			if err := push(b.next, depth); err != nil {
				return 0, err
			}
		}
	}
	return maxDepth, nil
}

package flowgraph

import (
	"github.com/cloudcmds/codeflow/op"
	"github.com/cloudcmds/codeflow/seq"
)

// Pass is one graph-rewriting optimization. Apply returns true if the graph
// was changed. Passes remove, merge, and rewrite blocks and edges but never
// reorder blocks.
type Pass interface {
	Name() string
	Apply(g *Graph) (bool, error)
}

// eliminateUnreachable drops every block not reachable from the entry block
// via successor edges or handler references.
type eliminateUnreachable struct{}

func (eliminateUnreachable) Name() string { return "eliminate-unreachable" }

func (eliminateUnreachable) Apply(g *Graph) (bool, error) {
	for _, b := range g.blocks {
		b.reachable = false
	}
	g.blocks[0].reachable = true
	queue := []int{0}
	for len(queue) > 0 {
		b := g.blocks[queue[0]]
		queue = queue[1:]
		targets := append(g.successors(b), b.handlerRefs()...)
		for _, t := range targets {
			if !g.blocks[t].reachable {
				g.blocks[t].reachable = true
				queue = append(queue, t)
			}
		}
	}
	changed := false
	for _, b := range g.blocks {
		if !b.reachable {
			changed = true
			break
		}
	}
	if changed {
		g.compact()
	}
	return changed, nil
}

// threadJumps retargets jumps whose destination block consists solely of
// another unconditional jump, skipping chains of single-jump blocks. Chain
// length is capped by the block count to terminate on degenerate cycles.
type threadJumps struct{}

func (threadJumps) Name() string { return "thread-jumps" }

func (threadJumps) Apply(g *Graph) (bool, error) {
	changed := false
	maxHops := len(g.blocks)
	for _, b := range g.blocks {
		if len(b.instrs) == 0 {
			continue
		}
		last := &b.instrs[len(b.instrs)-1]
		if !op.HasJump(last.Op) {
			continue
		}
		target := last.Target
		for hops := 0; hops < maxHops; hops++ {
			tb := g.blocks[target]
			if len(tb.instrs) != 1 || tb.instrs[0].Op != op.Jump {
				break
			}
			next := tb.instrs[0].Target
			if next == target {
				break // self-referential jump, nothing to skip to
			}
			target = next
		}
		if target != last.Target {
			last.Target = target
			changed = true
		}
	}
	return changed, nil
}

// removeRedundantJumps deletes unconditional jumps whose target is the
// immediately following block; control falls through instead.
type removeRedundantJumps struct{}

func (removeRedundantJumps) Name() string { return "remove-redundant-jumps" }

func (removeRedundantJumps) Apply(g *Graph) (bool, error) {
	changed := false
	for i, b := range g.blocks {
		if len(b.instrs) == 0 {
			continue
		}
		last := b.instrs[len(b.instrs)-1]
		if last.Op != op.Jump || last.Target != i+1 || i+1 >= len(g.blocks) {
			continue
		}
		b.instrs = b.instrs[:len(b.instrs)-1]
		b.next = i + 1
		changed = true
	}
	return changed, nil
}

// foldConstBranches rewrites conditional jumps whose condition is a constant
// pushed by the immediately preceding instruction into an unconditional
// transfer to the statically-determined successor. The dead branch becomes
// unreachable and is pruned by eliminateUnreachable on the next iteration.
type foldConstBranches struct {
	consts []any
}

func (*foldConstBranches) Name() string { return "fold-const-branches" }

func (p *foldConstBranches) Apply(g *Graph) (bool, error) {
	changed := false
	for _, b := range g.blocks {
		n := len(b.instrs)
		if n < 2 {
			continue
		}
		branch := b.instrs[n-1]
		if !op.IsBranch(branch.Op) {
			continue
		}
		val, known := p.constValue(b.instrs[n-2])
		if !known {
			continue
		}
		truthy, ok := truthiness(val)
		if !ok {
			continue
		}
		if truthy == (branch.Op == op.PopJumpIfTrue) {
			// Branch is always taken: the condition push and the branch
			// become a single unconditional jump.
			jump := branch
			jump.Op = op.Jump
			b.instrs = append(b.instrs[:n-2], jump)
			b.next = -1
		} else {
			// Branch is never taken: both instructions disappear and
			// control falls through.
			b.instrs = b.instrs[:n-2]
		}
		changed = true
	}
	return changed, nil
}

func (p *foldConstBranches) constValue(instr seq.Instruction) (any, bool) {
	switch instr.Op {
	case op.True:
		return true, true
	case op.False:
		return false, true
	case op.Nil:
		return nil, true
	case op.LoadConst:
		if instr.Arg >= 0 && instr.Arg < len(p.consts) {
			return p.consts[instr.Arg], true
		}
	}
	return nil, false
}

func truthiness(v any) (bool, bool) {
	switch v := v.(type) {
	case nil:
		return false, true
	case bool:
		return v, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case float64:
		return v != 0, true
	case string:
		return v != "", true
	}
	return false, false
}

// mergeBlocks merges a block that purely falls through into a successor with
// no other predecessors, provided neither block is an exception-handler
// target. It also removes NOP instructions whose removal loses no distinct
// source location.
type mergeBlocks struct{}

func (mergeBlocks) Name() string { return "merge-blocks" }

func (mergeBlocks) Apply(g *Graph) (bool, error) {
	changed := false
	for _, b := range g.blocks {
		if cleanupNops(b) {
			changed = true
		}
	}
	for {
		i := findMergeCandidate(g)
		if i == -1 {
			break
		}
		b, s := g.blocks[i], g.blocks[i+1]
		b.instrs = append(b.instrs, s.instrs...)
		b.next = s.next
		for _, blk := range g.blocks {
			blk.reachable = true
		}
		s.reachable = false
		g.compact()
		changed = true
	}
	return changed, nil
}

func findMergeCandidate(g *Graph) int {
	g.recomputePreds()
	for i := 0; i+1 < len(g.blocks); i++ {
		b := g.blocks[i]
		if b.JumpTarget() != -1 || b.endsUnconditionally() || b.next != i+1 {
			continue
		}
		s := g.blocks[i+1]
		if b.isHandler || s.isHandler {
			continue
		}
		if len(s.preds) != 1 {
			continue
		}
		return i
	}
	return -1
}

// cleanupNops drops NOPs with no source location, or whose location is
// already carried by an adjacent instruction in the block.
func cleanupNops(b *Block) bool {
	hasNop := false
	for i := range b.instrs {
		if b.instrs[i].Op == op.Nop {
			hasNop = true
			break
		}
	}
	if !hasNop {
		return false
	}
	changed := false
	out := b.instrs[:0:0]
	for i, instr := range b.instrs {
		if instr.Op == op.Nop {
			keepsLocation := !instr.Loc.IsZero() &&
				!(i+1 < len(b.instrs) && b.instrs[i+1].Loc == instr.Loc) &&
				!(len(out) > 0 && out[len(out)-1].Loc == instr.Loc)
			if !keepsLocation {
				changed = true
				continue
			}
		}
		out = append(out, instr)
	}
	if changed {
		b.instrs = out
	}
	return changed
}

// Package flowgraph builds, optimizes, and measures the control-flow graph
// of one code unit.
//
// Blocks live in a flat arena and reference each other by index, so cyclic
// control flow never requires cyclic ownership. The optimizer removes,
// merges, and rewrites blocks but never reorders them: the arena order of
// live blocks is the original emission order, which keeps final offset
// assignment deterministic.
package flowgraph

import (
	"github.com/cloudcmds/codeflow/op"
	"github.com/cloudcmds/codeflow/seq"
)

// Block is a basic block: a contiguous run of instructions with a single
// entry point and at most two successors.
type Block struct {
	index  int
	instrs []seq.Instruction

	// next is the fallthrough successor block index, -1 if control never
	// falls through (unconditional jump, return, raise, or last block).
	next int

	// Recomputed by the optimizer, never by the builder
	preds     []int
	reachable bool

	// Exception-handler target bookkeeping
	isHandler    bool
	handlerDepth int // entry stack depth, -1 if implied by the raising site
}

// Index returns the block's position in the graph arena.
func (b *Block) Index() int { return b.index }

// InstructionCount returns the number of instructions in the block.
func (b *Block) InstructionCount() int { return len(b.instrs) }

// InstructionAt returns the instruction at the given index within the block.
func (b *Block) InstructionAt(i int) seq.Instruction { return b.instrs[i] }

// Next returns the fallthrough successor block index, or -1.
func (b *Block) Next() int { return b.next }

// JumpTarget returns the block index targeted by the block's final jump or
// branch instruction, or -1 if the block does not end in one.
func (b *Block) JumpTarget() int {
	if len(b.instrs) == 0 {
		return -1
	}
	last := b.instrs[len(b.instrs)-1]
	if op.HasJump(last.Op) {
		return last.Target
	}
	return -1
}

// IsHandlerTarget returns true if the block is the target of an
// exception-handler association.
func (b *Block) IsHandlerTarget() bool { return b.isHandler }

// HandlerDepth returns the stack depth on entry to a handler-target block,
// or -1 if the depth is implied by the raising site.
func (b *Block) HandlerDepth() int { return b.handlerDepth }

// Predecessors returns the block indexes of the block's predecessors, as of
// the last recomputation by the optimizer.
func (b *Block) Predecessors() []int { return b.preds }

// endsUnconditionally reports whether control cannot fall through the block.
func (b *Block) endsUnconditionally() bool {
	if len(b.instrs) == 0 {
		return false
	}
	return op.IsTerminator(b.instrs[len(b.instrs)-1].Op)
}

// handlerRefs returns the block indexes of handler blocks referenced by the
// block's instructions, via either an exception-class operand or a handler
// association.
func (b *Block) handlerRefs() []int {
	var refs []int
	for i := range b.instrs {
		instr := &b.instrs[i]
		if op.HasExc(instr.Op) {
			refs = append(refs, instr.Target)
		}
		if instr.Except != nil {
			refs = append(refs, int(instr.Except.Handler))
		}
	}
	return refs
}

// Graph is a control-flow graph over an arena of basic blocks. The entry
// block is always at index 0.
type Graph struct {
	blocks []*Block
}

// BlockCount returns the number of blocks in the arena.
func (g *Graph) BlockCount() int { return len(g.blocks) }

// BlockAt returns the block at the given arena index.
func (g *Graph) BlockAt(i int) *Block { return g.blocks[i] }

// Entry returns the entry block.
func (g *Graph) Entry() *Block { return g.blocks[0] }

// successors returns the at-most-two successor indexes of a block.
func (g *Graph) successors(b *Block) []int {
	var succ []int
	if t := b.JumpTarget(); t != -1 {
		succ = append(succ, t)
	}
	if b.next != -1 {
		succ = append(succ, b.next)
	}
	return succ
}

// recomputePreds rebuilds every block's predecessor set from the current
// successor edges. Handler references count as predecessor edges so that
// handler entry blocks are never considered orphaned.
func (g *Graph) recomputePreds() {
	for _, b := range g.blocks {
		b.preds = nil
	}
	for _, b := range g.blocks {
		for _, s := range g.successors(b) {
			g.blocks[s].preds = append(g.blocks[s].preds, b.index)
		}
		for _, h := range b.handlerRefs() {
			g.blocks[h].preds = append(g.blocks[h].preds, b.index)
		}
	}
}

// compact removes blocks whose reachable flag is false and remaps all block
// indexes (successor edges, jump targets, handler references) to the new
// arena. The relative order of surviving blocks is preserved.
func (g *Graph) compact() {
	remap := make([]int, len(g.blocks))
	var live []*Block
	for i, b := range g.blocks {
		if b.reachable {
			remap[i] = len(live)
			live = append(live, b)
		} else {
			remap[i] = -1
		}
	}
	for _, b := range live {
		b.index = remap[b.index]
		if b.next != -1 {
			b.next = remap[b.next]
		}
		for i := range b.instrs {
			instr := &b.instrs[i]
			if (op.HasJump(instr.Op) || op.HasExc(instr.Op)) && instr.Target != -1 {
				instr.Target = remap[instr.Target]
			}
			if instr.Except != nil {
				clone := *instr.Except
				clone.Handler = seq.Label(remap[int(clone.Handler)])
				instr.Except = &clone
			}
		}
		b.preds = nil
	}
	g.blocks = live
}

// blockOffsets assigns a final physical offset to the first instruction of
// every block, in arena order, and returns the offsets plus the total
// instruction count.
func (g *Graph) blockOffsets() ([]int, int) {
	offsets := make([]int, len(g.blocks))
	off := 0
	for i, b := range g.blocks {
		offsets[i] = off
		off += len(b.instrs)
	}
	return offsets, off
}

// Linearize walks blocks in arena order, assigns each instruction its final
// offset, and rewrites every jump-class operand and handler association to
// resolved physical offsets. The graph is not modified.
func (g *Graph) Linearize() []seq.Instruction {
	offsets, total := g.blockOffsets()
	out := make([]seq.Instruction, 0, total)
	off := 0
	for _, b := range g.blocks {
		for _, instr := range b.instrs {
			instr.Offset = off
			if (op.HasJump(instr.Op) || op.HasExc(instr.Op)) && instr.Target != -1 {
				instr.Arg = offsets[instr.Target]
			}
			if instr.Except != nil {
				clone := *instr.Except
				clone.Handler = seq.Label(offsets[int(clone.Handler)])
				instr.Except = &clone
			}
			out = append(out, instr)
			off++
		}
	}
	return out
}

// ToSequence converts the graph back into an instruction sequence with fresh
// labels bound at the start of every block that is a jump or handler target.
// The returned sequence is unresolved: jump operands are label ids.
func (g *Graph) ToSequence() (*seq.Sequence, error) {
	s := seq.New()
	labels := make(map[int]seq.Label)
	for _, b := range g.blocks {
		if t := b.JumpTarget(); t != -1 {
			if _, ok := labels[t]; !ok {
				labels[t] = s.NewLabel()
			}
		}
		for _, h := range b.handlerRefs() {
			if _, ok := labels[h]; !ok {
				labels[h] = s.NewLabel()
			}
		}
	}
	for _, b := range g.blocks {
		if label, ok := labels[b.index]; ok {
			if err := s.Bind(label); err != nil {
				return nil, err
			}
		}
		for _, instr := range b.instrs {
			if (op.HasJump(instr.Op) || op.HasExc(instr.Op)) && instr.Target != -1 {
				instr.Arg = int(labels[instr.Target])
			}
			if instr.Except != nil {
				clone := *instr.Except
				clone.Handler = labels[int(clone.Handler)]
				instr.Except = &clone
			}
			if err := s.AppendInstruction(instr); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

package assembler

import (
	"testing"

	"github.com/cloudcmds/codeflow/bytecode"
	cferrors "github.com/cloudcmds/codeflow/errors"
	"github.com/cloudcmds/codeflow/flowgraph"
	"github.com/cloudcmds/codeflow/op"
	"github.com/cloudcmds/codeflow/seq"
	"github.com/stretchr/testify/require"
)

func TestAssembleStraightLine(t *testing.T) {
	s := seq.New()
	require.Nil(t, s.Append(op.LoadConst, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.Return, 0, bytecode.NoLocation))

	g, err := flowgraph.Build(s)
	require.Nil(t, err)

	meta := Metadata{
		Name:     "main",
		Filename: "main.cf",
		Consts:   []any{int64(42)},
	}
	code, err := AssembleGraph(g, meta, NewConstCache())
	require.Nil(t, err)

	require.Equal(t, "main", code.Name())
	require.Equal(t, "main.cf", code.Filename())
	require.Equal(t, 2, code.InstructionCount())
	require.Equal(t, bytecode.Instruction{Op: op.LoadConst, Arg: 0, Offset: 0}, code.InstructionAt(0))
	require.Equal(t, bytecode.Instruction{Op: op.Return, Arg: 0, Offset: 1}, code.InstructionAt(1))
	require.Equal(t, 1, code.MaxStackDepth())
	require.Equal(t, 1, code.ConstantCount())
	require.Equal(t, int64(42), code.ConstantAt(0))
}

func TestAssembleRewritesJumpOffsets(t *testing.T) {
	// The branch target label becomes a physical instruction offset.
	s := seq.New()
	end := s.NewLabel()
	require.Nil(t, s.Append(op.True, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.PopJumpIfFalse, int(end), bytecode.NoLocation))
	require.Nil(t, s.Append(op.Nil, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.PopTop, 0, bytecode.NoLocation))
	require.Nil(t, s.Bind(end))
	require.Nil(t, s.Append(op.Nil, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.Return, 0, bytecode.NoLocation))

	g, err := flowgraph.Build(s)
	require.Nil(t, err)
	code, err := AssembleGraph(g, Metadata{Name: "main"}, NewConstCache())
	require.Nil(t, err)

	branch := code.InstructionAt(1)
	require.Equal(t, op.PopJumpIfFalse, branch.Op)
	require.Equal(t, 4, branch.Arg)
}

func TestAssembleSlotShifting(t *testing.T) {
	// Fast-local storage is laid out locals, then cells, then frees. Cell
	// and free operands are emitted relative to their own tables and must
	// be shifted into the combined space.
	s := seq.New()
	require.Nil(t, s.Append(op.LoadFast, 1, bytecode.NoLocation))
	require.Nil(t, s.Append(op.StoreCell, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.LoadFree, 1, bytecode.NoLocation))
	require.Nil(t, s.Append(op.Return, 0, bytecode.NoLocation))

	g, err := flowgraph.Build(s)
	require.Nil(t, err)
	meta := Metadata{
		Name:     "f",
		Varnames: []string{"a", "b"},
		Cellvars: []string{"c"},
		Freevars: []string{"x", "y"},
	}
	code, err := AssembleGraph(g, meta, NewConstCache())
	require.Nil(t, err)

	require.Equal(t, 1, code.InstructionAt(0).Arg) // local b
	require.Equal(t, 2, code.InstructionAt(1).Arg) // cell c, after 2 locals
	require.Equal(t, 4, code.InstructionAt(2).Arg) // free y, after locals and cells
	require.Equal(t, 5, code.NLocalsPlus())
}

func TestAssembleSlotOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		opcode op.Code
		arg    int
	}{
		{"local", op.LoadFast, 2},
		{"cell", op.LoadCell, 1},
		{"free", op.LoadFree, 0},
		{"constant", op.LoadConst, 3},
		{"name", op.LoadName, 0},
	}
	meta := Metadata{
		Name:     "f",
		Varnames: []string{"a", "b"},
		Cellvars: []string{"c"},
		Consts:   []any{nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seq.New()
			require.Nil(t, s.Append(tt.opcode, tt.arg, bytecode.NoLocation))
			require.Nil(t, s.Append(op.Return, 0, bytecode.NoLocation))

			g, err := flowgraph.Build(s)
			require.Nil(t, err)
			_, err = AssembleGraph(g, meta, NewConstCache())
			require.NotNil(t, err)
			var malformed *cferrors.MalformedGraphError
			require.ErrorAs(t, err, &malformed)
			require.Equal(t, 0, malformed.Offset)
		})
	}
}

func TestAssembleExceptionTable(t *testing.T) {
	// A contiguous run of instructions sharing one handler association
	// collapses into a single exception table entry.
	s := seq.New()
	handler := s.NewLabel()
	end := s.NewLabel()
	require.Nil(t, s.Append(op.SetupTry, int(handler), bytecode.NoLocation))
	s.SetPendingHandler(seq.ExceptInfo{Handler: handler, StartDepth: 0})
	require.Nil(t, s.Append(op.Nil, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.PopTop, 0, bytecode.NoLocation))
	s.ClearPendingHandler()
	require.Nil(t, s.Append(op.Jump, int(end), bytecode.NoLocation))
	require.Nil(t, s.Bind(handler))
	require.Nil(t, s.Append(op.PopExcept, 0, bytecode.NoLocation))
	require.Nil(t, s.Bind(end))
	require.Nil(t, s.Append(op.Nil, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.Return, 0, bytecode.NoLocation))

	g, err := flowgraph.Build(s)
	require.Nil(t, err)
	code, err := AssembleGraph(g, Metadata{Name: "main"}, NewConstCache())
	require.Nil(t, err)

	require.Equal(t, 1, code.ExceptionRangeCount())
	r := code.ExceptionRangeAt(0)
	require.Equal(t, 1, r.Start)
	require.Equal(t, 3, r.End)
	require.Equal(t, code.InstructionAt(0).Arg, r.Handler)
	require.Equal(t, 0, r.StartDepth)
	require.False(t, r.PreserveLasti)

	// Interior offsets resolve to the handler, the rest do not.
	_, covered := code.HandlerAt(2)
	require.True(t, covered)
	_, covered = code.HandlerAt(3)
	require.False(t, covered)
}

func TestExceptionTableSplitsOnDistinctHandlers(t *testing.T) {
	s := seq.New()
	h1 := s.NewLabel()
	h2 := s.NewLabel()
	end := s.NewLabel()
	require.Nil(t, s.Append(op.SetupTry, int(h1), bytecode.NoLocation))
	s.SetPendingHandler(seq.ExceptInfo{Handler: h1, StartDepth: 0})
	require.Nil(t, s.Append(op.Nop, 0, bytecode.NoLocation))
	s.SetPendingHandler(seq.ExceptInfo{Handler: h2, StartDepth: 0})
	require.Nil(t, s.Append(op.Nop, 0, bytecode.NoLocation))
	s.ClearPendingHandler()
	require.Nil(t, s.Append(op.Jump, int(end), bytecode.NoLocation))
	require.Nil(t, s.Bind(h1))
	require.Nil(t, s.Append(op.PopExcept, 0, bytecode.NoLocation))
	require.Nil(t, s.Bind(h2))
	require.Nil(t, s.Append(op.PopExcept, 0, bytecode.NoLocation))
	require.Nil(t, s.Bind(end))
	require.Nil(t, s.Append(op.Nil, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.Return, 0, bytecode.NoLocation))

	g, err := flowgraph.Build(s)
	require.Nil(t, err)
	code, err := AssembleGraph(g, Metadata{Name: "main"}, NewConstCache())
	require.Nil(t, err)

	require.Equal(t, 2, code.ExceptionRangeCount())
	require.Equal(t, bytecode.ExceptionRange{Start: 1, End: 2, Handler: 4}, code.ExceptionRangeAt(0))
	require.Equal(t, bytecode.ExceptionRange{Start: 2, End: 3, Handler: 5}, code.ExceptionRangeAt(1))
}

func TestHandlerAssociationSurvivesOptimization(t *testing.T) {
	// Optimizing the graph moves instructions around, but every protected
	// instruction keeps its original handler association in the final table.
	s := seq.New()
	handler := s.NewLabel()
	after := s.NewLabel()
	end := s.NewLabel()
	require.Nil(t, s.Append(op.SetupTry, int(handler), bytecode.NoLocation))
	s.SetPendingHandler(seq.ExceptInfo{Handler: handler, StartDepth: 0})
	require.Nil(t, s.Append(op.LoadName, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.Call, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.PopTop, 0, bytecode.NoLocation))
	s.ClearPendingHandler()
	// A jump-to-jump chain for the optimizer to collapse.
	require.Nil(t, s.Append(op.Jump, int(after), bytecode.NoLocation))
	require.Nil(t, s.Bind(handler))
	require.Nil(t, s.Append(op.PopExcept, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.Jump, int(end), bytecode.NoLocation))
	require.Nil(t, s.Bind(after))
	require.Nil(t, s.Append(op.Jump, int(end), bytecode.NoLocation))
	require.Nil(t, s.Bind(end))
	require.Nil(t, s.Append(op.Nil, 0, bytecode.NoLocation))
	require.Nil(t, s.Append(op.Return, 0, bytecode.NoLocation))

	g, err := flowgraph.Build(s)
	require.Nil(t, err)
	opt := flowgraph.NewOptimizer(nil)
	require.Nil(t, opt.Run(g))

	meta := Metadata{Name: "main", Names: []string{"f"}}
	code, err := AssembleGraph(g, meta, NewConstCache())
	require.Nil(t, err)

	require.Equal(t, 1, code.ExceptionRangeCount())
	r := code.ExceptionRangeAt(0)
	require.Equal(t, 3, r.End-r.Start)
	for off := r.Start; off < r.End; off++ {
		got, covered := code.HandlerAt(off)
		require.True(t, covered)
		require.Equal(t, r.Handler, got.Handler)
	}
	// The handler offset points at the PopExcept.
	require.Equal(t, op.PopExcept, code.InstructionAt(r.Handler).Op)
}

func TestAssembleLocationTable(t *testing.T) {
	line2 := bytecode.SourceLocation{Line: 2, Column: 1, EndLine: 2, EndColumn: 10}
	line3 := bytecode.SourceLocation{Line: 3, Column: 1, EndLine: 3, EndColumn: 5}

	s := seq.New()
	require.Nil(t, s.Append(op.Nil, 0, line2))
	require.Nil(t, s.Append(op.PopTop, 0, line2))
	require.Nil(t, s.Append(op.Nil, 0, line3))
	require.Nil(t, s.Append(op.Return, 0, bytecode.NoLocation))

	g, err := flowgraph.Build(s)
	require.Nil(t, err)
	code, err := AssembleGraph(g, Metadata{Name: "main"}, NewConstCache())
	require.Nil(t, err)

	require.Equal(t, 2, code.LocationRangeCount())
	require.Equal(t, bytecode.LocationRange{Start: 0, End: 2, Location: line2}, code.LocationRangeAt(0))
	require.Equal(t, bytecode.LocationRange{Start: 2, End: 3, Location: line3}, code.LocationRangeAt(1))

	require.Equal(t, line2, code.LocationAt(1))
	require.Equal(t, line3, code.LocationAt(2))
	require.True(t, code.LocationAt(3).IsZero())
}

func TestAssembleInternsConstantsAcrossUnits(t *testing.T) {
	cache := NewConstCache()

	build := func(name string) *bytecode.Code {
		s := seq.New()
		require.Nil(t, s.Append(op.LoadConst, 0, bytecode.NoLocation))
		require.Nil(t, s.Append(op.Return, 0, bytecode.NoLocation))
		g, err := flowgraph.Build(s)
		require.Nil(t, err)
		code, err := AssembleGraph(g, Metadata{Name: name, Consts: []any{"shared"}}, cache)
		require.Nil(t, err)
		return code
	}

	outer := build("outer")
	inner := build("inner")
	require.Equal(t, outer.ConstantAt(0), inner.ConstantAt(0))
	require.Equal(t, 1, cache.Len())
}

func TestAssembleInstructionsCapacity(t *testing.T) {
	instrs := []seq.Instruction{{Op: op.Swap, Arg: seq.MaxOperand + 1}}
	_, err := AssembleInstructions(instrs, Metadata{Name: "main"}, nil, 0)
	require.NotNil(t, err)
	var capErr *cferrors.CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, "operand value", capErr.What)
	require.False(t, cferrors.IsInternal(err))
}

package op

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo(LoadConst)
	require.Equal(t, LoadConst, info.Code)
	require.Equal(t, "LOAD_CONST", info.Name)
	require.Equal(t, ArgConst, info.Arg)

	info = GetInfo(Return)
	require.Equal(t, "RETURN", info.Name)
	require.Equal(t, ArgNone, info.Arg)
}

func TestIsValid(t *testing.T) {
	require.True(t, IsValid(Nop))
	require.True(t, IsValid(PopJumpIfTrue))
	require.False(t, IsValid(Invalid))
	require.False(t, IsValid(Code(200)))
	require.False(t, IsValid(Code(9999)))
}

func TestArgClassPredicates(t *testing.T) {
	tests := []struct {
		op       Code
		hasArg   bool
		hasConst bool
		hasName  bool
		hasJump  bool
		hasLocal bool
		hasFree  bool
		hasExc   bool
	}{
		{op: Nop},
		{op: LoadConst, hasArg: true, hasConst: true},
		{op: LoadName, hasArg: true, hasName: true},
		{op: StoreFast, hasArg: true, hasLocal: true},
		{op: LoadCell, hasArg: true, hasFree: true},
		{op: StoreFree, hasArg: true, hasFree: true},
		{op: Jump, hasArg: true, hasJump: true},
		{op: PopJumpIfFalse, hasArg: true, hasJump: true},
		{op: SetupTry, hasArg: true, hasExc: true},
		{op: Call, hasArg: true},
	}
	for _, tt := range tests {
		t.Run(GetInfo(tt.op).Name, func(t *testing.T) {
			require.Equal(t, tt.hasArg, HasArg(tt.op))
			require.Equal(t, tt.hasConst, HasConst(tt.op))
			require.Equal(t, tt.hasName, HasName(tt.op))
			require.Equal(t, tt.hasJump, HasJump(tt.op))
			require.Equal(t, tt.hasLocal, HasLocal(tt.op))
			require.Equal(t, tt.hasFree, HasFree(tt.op))
			require.Equal(t, tt.hasExc, HasExc(tt.op))
		})
	}
}

func TestBlockStructure(t *testing.T) {
	require.True(t, IsTerminator(Jump))
	require.True(t, IsTerminator(Return))
	require.True(t, IsTerminator(Raise))
	require.False(t, IsTerminator(PopJumpIfFalse))

	require.True(t, IsBranch(PopJumpIfFalse))
	require.True(t, IsBranch(PopJumpIfTrue))
	require.False(t, IsBranch(Jump))

	require.True(t, EndsBlock(Jump))
	require.True(t, EndsBlock(PopJumpIfTrue))
	require.False(t, EndsBlock(LoadConst))
}

func TestStackEffect(t *testing.T) {
	tests := []struct {
		name     string
		op       Code
		arg      int
		expected int
	}{
		{"nop", Nop, 0, 0},
		{"load const", LoadConst, 0, 1},
		{"store fast", StoreFast, 1, -1},
		{"pop top", PopTop, 0, -1},
		{"binary op", BinaryOp, 1, -1},
		{"call zero args", Call, 0, 0},
		{"call three args", Call, 3, -3},
		{"build empty list", BuildList, 0, 1},
		{"build list of four", BuildList, 4, -3},
		{"build map of two pairs", BuildMap, 2, -3},
		{"conditional jump", PopJumpIfFalse, 7, -1},
		{"return", Return, 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, StackEffect(tt.op, tt.arg))
		})
	}
}

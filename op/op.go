// Package op defines the abstract opcodes consumed by the codeflow backend
// and the static metadata table describing them.
package op

// Code is an integer opcode that indicates an operation to execute.
type Code uint16

const (
	Invalid Code = 0

	// Execution
	Nop    Code = 1
	Return Code = 2
	Raise  Code = 3
	Call   Code = 4

	// Jump
	Jump           Code = 10
	PopJumpIfFalse Code = 11
	PopJumpIfTrue  Code = 12

	// Load
	LoadConst Code = 20
	LoadName  Code = 21
	LoadFast  Code = 22
	LoadCell  Code = 23
	LoadFree  Code = 24

	// Store
	StoreName Code = 30
	StoreFast Code = 31
	StoreCell Code = 32
	StoreFree Code = 33

	// Operations
	BinaryOp      Code = 40
	CompareOp     Code = 41
	UnaryNot      Code = 42
	UnaryNegative Code = 43

	// Build
	BuildList Code = 50
	BuildMap  Code = 51

	// Stack
	Swap   Code = 60
	Copy   Code = 61
	PopTop Code = 62

	// Push constants
	Nil   Code = 70
	True  Code = 71
	False Code = 72

	// Exception handling
	SetupTry  Code = 80 // Operand is the handler label
	PopExcept Code = 81
)

// ArgKind describes what an instruction's operand denotes.
type ArgKind int

const (
	// ArgNone means the opcode takes no operand.
	ArgNone ArgKind = iota
	// ArgInt means the operand is a plain integer (e.g. an argument count).
	ArgInt
	// ArgConst means the operand indexes the constants table.
	ArgConst
	// ArgName means the operand indexes the names table.
	ArgName
	// ArgLocal means the operand is a local variable slot.
	ArgLocal
	// ArgCell means the operand is a cell variable slot.
	ArgCell
	// ArgFree means the operand is a free variable slot.
	ArgFree
	// ArgJump means the operand is a jump target: a label id before label
	// resolution, a physical offset after.
	ArgJump
	// ArgExcept means the operand is an exception-handler label.
	ArgExcept
)

// Info contains static information about an opcode.
type Info struct {
	Code Code
	Name string
	Arg  ArgKind
}

var infos = make([]Info, 256)

func init() {
	type opInfo struct {
		op   Code
		name string
		arg  ArgKind
	}
	ops := []opInfo{
		{BinaryOp, "BINARY_OP", ArgInt},
		{BuildList, "BUILD_LIST", ArgInt},
		{BuildMap, "BUILD_MAP", ArgInt},
		{Call, "CALL", ArgInt},
		{CompareOp, "COMPARE_OP", ArgInt},
		{Copy, "COPY", ArgInt},
		{False, "FALSE", ArgNone},
		{Jump, "JUMP", ArgJump},
		{LoadCell, "LOAD_CELL", ArgCell},
		{LoadConst, "LOAD_CONST", ArgConst},
		{LoadFast, "LOAD_FAST", ArgLocal},
		{LoadFree, "LOAD_FREE", ArgFree},
		{LoadName, "LOAD_NAME", ArgName},
		{Nil, "NIL", ArgNone},
		{Nop, "NOP", ArgNone},
		{PopExcept, "POP_EXCEPT", ArgNone},
		{PopJumpIfFalse, "POP_JUMP_IF_FALSE", ArgJump},
		{PopJumpIfTrue, "POP_JUMP_IF_TRUE", ArgJump},
		{PopTop, "POP_TOP", ArgNone},
		{Raise, "RAISE", ArgNone},
		{Return, "RETURN", ArgNone},
		{SetupTry, "SETUP_TRY", ArgExcept},
		{StoreCell, "STORE_CELL", ArgCell},
		{StoreFast, "STORE_FAST", ArgLocal},
		{StoreFree, "STORE_FREE", ArgFree},
		{StoreName, "STORE_NAME", ArgName},
		{Swap, "SWAP", ArgInt},
		{True, "TRUE", ArgNone},
		{UnaryNegative, "UNARY_NEGATIVE", ArgNone},
		{UnaryNot, "UNARY_NOT", ArgNone},
	}
	for _, o := range ops {
		infos[o.op] = Info{
			Code: o.op,
			Name: o.name,
			Arg:  o.arg,
		}
	}
}

// GetInfo returns information about the given opcode.
func GetInfo(op Code) Info {
	if int(op) >= len(infos) {
		return Info{}
	}
	return infos[op]
}

// IsValid returns true if the opcode is known to the metadata table.
func IsValid(op Code) bool {
	return GetInfo(op).Name != ""
}

// HasArg returns true if the opcode carries an operand.
func HasArg(op Code) bool {
	info := GetInfo(op)
	return info.Name != "" && info.Arg != ArgNone
}

// HasConst returns true if the opcode's operand indexes the constants table.
func HasConst(op Code) bool { return GetInfo(op).Arg == ArgConst }

// HasName returns true if the opcode's operand indexes the names table.
func HasName(op Code) bool { return GetInfo(op).Arg == ArgName }

// HasJump returns true if the opcode's operand is a jump target.
func HasJump(op Code) bool { return GetInfo(op).Arg == ArgJump }

// HasLocal returns true if the opcode's operand is a local variable slot.
func HasLocal(op Code) bool { return GetInfo(op).Arg == ArgLocal }

// HasFree returns true if the opcode's operand is a cell or free variable slot.
func HasFree(op Code) bool {
	kind := GetInfo(op).Arg
	return kind == ArgCell || kind == ArgFree
}

// HasExc returns true if the opcode's operand is an exception-handler label.
func HasExc(op Code) bool { return GetInfo(op).Arg == ArgExcept }

// IsTerminator returns true if the opcode unconditionally transfers control
// away from the next instruction: an unconditional jump, return, or raise.
func IsTerminator(op Code) bool {
	switch op {
	case Jump, Return, Raise:
		return true
	}
	return false
}

// IsBranch returns true if the opcode conditionally transfers control.
func IsBranch(op Code) bool {
	switch op {
	case PopJumpIfFalse, PopJumpIfTrue:
		return true
	}
	return false
}

// EndsBlock returns true if the opcode terminates a basic block.
func EndsBlock(op Code) bool {
	return IsTerminator(op) || IsBranch(op)
}

// StackEffect returns the net change in evaluation-stack depth caused by the
// opcode with the given operand. The effect of several opcodes depends on the
// operand (argument counts, element counts).
func StackEffect(op Code, arg int) int {
	switch op {
	case Nop, Jump, Swap, UnaryNot, UnaryNegative, SetupTry, PopExcept:
		return 0
	case LoadConst, LoadName, LoadFast, LoadCell, LoadFree, Nil, True, False, Copy:
		return 1
	case StoreName, StoreFast, StoreCell, StoreFree,
		PopTop, Return, Raise,
		PopJumpIfFalse, PopJumpIfTrue,
		BinaryOp, CompareOp:
		return -1
	case Call:
		// Pops the callable and arg arguments, pushes the result.
		return -arg
	case BuildList:
		return 1 - arg
	case BuildMap:
		// arg is the number of key/value pairs.
		return 1 - 2*arg
	}
	return 0
}

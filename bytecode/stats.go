package bytecode

// Stats contains statistics about an assembled code unit.
// This is useful for auditing units before loading them.
type Stats struct {
	// InstructionCount is the total number of instructions.
	InstructionCount int

	// ConstantCount is the number of constants in the constant pool.
	ConstantCount int

	// NameCount is the number of names referenced by the unit.
	NameCount int

	// ExceptionRangeCount is the number of exception table entries.
	ExceptionRangeCount int

	// MaxStackDepth is the required evaluation-stack size.
	MaxStackDepth int

	// NLocalsPlus is the combined variable slot count.
	NLocalsPlus int
}

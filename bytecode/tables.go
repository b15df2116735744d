package bytecode

// ExceptionRange maps a contiguous range of instruction offsets to the
// exception handler covering it. Ranges are half-open: [Start, End).
type ExceptionRange struct {
	Start         int  // First offset covered by the handler
	End           int  // One past the last offset covered
	Handler       int  // Offset of the handler's first instruction
	StartDepth    int  // Stack depth on entry to the handler
	PreserveLasti bool // Whether the last instruction offset is preserved
}

// LocationRange maps a contiguous range of instruction offsets to one source
// location. Ranges are half-open: [Start, End).
type LocationRange struct {
	Start    int
	End      int
	Location SourceLocation
}

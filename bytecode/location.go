package bytecode

import "fmt"

// SourceLocation represents a span in source code. Only line and column
// information is stored; filenames are stored once on the Code object.
type SourceLocation struct {
	Line      int // 1-based line number
	Column    int // 1-based column number
	EndLine   int // 1-based end line (0 if unknown)
	EndColumn int // 1-based end column (0 if unknown)
}

// String returns a formatted string representation of the source location.
func (s SourceLocation) String() string {
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// IsZero returns true if the location has not been set.
func (s SourceLocation) IsZero() bool {
	return s == SourceLocation{}
}

// NoLocation is the sentinel for instructions with no source position, such
// as compiler-synthesized instructions.
var NoLocation = SourceLocation{}

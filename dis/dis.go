// Package dis supports analysis of assembled code units by disassembling
// them. It works with the opcodes defined in the `op` package and the
// assembled form produced by the `assembler` package.
package dis

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/cloudcmds/codeflow/bytecode"
	"github.com/cloudcmds/codeflow/op"
)

// Instruction represents a single assembled instruction in a form suitable
// for display: its offset, mnemonic, operand, and a human-readable note
// resolving table indexes to the values or names they reference.
type Instruction struct {
	Offset     int
	Name       string
	Opcode     op.Code
	Arg        int
	HasArg     bool
	Line       int
	JumpTarget bool
	Annotation string
}

// Disassemble returns a parsed representation of the given code unit.
func Disassemble(code *bytecode.Code) ([]Instruction, error) {
	targets := jumpTargets(code)
	var instructions []Instruction
	for i := 0; i < code.InstructionCount(); i++ {
		instr := code.InstructionAt(i)
		info := op.GetInfo(instr.Op)
		if info.Name == "" {
			return nil, fmt.Errorf("unknown opcode %d at offset %d", instr.Op, i)
		}
		annotation, err := annotate(code, info, instr.Arg)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, Instruction{
			Offset:     instr.Offset,
			Name:       info.Name,
			Opcode:     instr.Op,
			Arg:        instr.Arg,
			HasArg:     info.Arg != op.ArgNone,
			Line:       code.LocationAt(i).Line,
			JumpTarget: targets[i],
			Annotation: annotation,
		})
	}
	return instructions, nil
}

func jumpTargets(code *bytecode.Code) map[int]bool {
	targets := make(map[int]bool)
	for i := 0; i < code.InstructionCount(); i++ {
		instr := code.InstructionAt(i)
		if op.HasJump(instr.Op) || op.HasExc(instr.Op) {
			targets[instr.Arg] = true
		}
	}
	for i := 0; i < code.ExceptionRangeCount(); i++ {
		targets[code.ExceptionRangeAt(i).Handler] = true
	}
	return targets
}

func annotate(code *bytecode.Code, info op.Info, arg int) (string, error) {
	switch info.Arg {
	case op.ArgConst:
		if arg >= code.ConstantCount() {
			return "", fmt.Errorf("constant index out of range: %d", arg)
		}
		c := code.ConstantAt(arg)
		if s, ok := c.(string); ok {
			if len(s) > 80 {
				s = s[:77] + "..."
			}
			return fmt.Sprintf("%q", s), nil
		}
		if nested, ok := c.(*bytecode.Code); ok {
			return fmt.Sprintf("code:%s", nested.QualifiedName()), nil
		}
		return fmt.Sprintf("%v", c), nil
	case op.ArgName:
		if arg >= code.NameCount() {
			return "", fmt.Errorf("name index out of range: %d", arg)
		}
		return code.NameAt(arg), nil
	case op.ArgLocal, op.ArgCell, op.ArgFree:
		return fastLocalName(code, arg)
	case op.ArgJump:
		return fmt.Sprintf("to %d", arg), nil
	case op.ArgExcept:
		return fmt.Sprintf("handler %d", arg), nil
	}
	return "", nil
}

// fastLocalName resolves a combined fast-local slot back to its name. Slots
// are laid out locals first, then cells, then frees.
func fastLocalName(code *bytecode.Code, slot int) (string, error) {
	if slot < 0 || slot >= code.NLocalsPlus() {
		return "", fmt.Errorf("fast local slot out of range: %d", slot)
	}
	if slot < code.VarnameCount() {
		return code.VarnameAt(slot), nil
	}
	slot -= code.VarnameCount()
	if slot < code.CellvarCount() {
		return code.CellvarAt(slot), nil
	}
	return code.FreevarAt(slot - code.CellvarCount()), nil
}

var (
	opcodeColor     = color.New(color.Bold)
	annotationColor = color.New(color.FgCyan)
	lineColor       = color.New(color.FgYellow)
)

// Print writes a string representation of the given instructions to the
// given writer, one instruction per line. Jump and handler targets are
// marked with ">>" and source lines are printed once where they change.
func Print(instructions []Instruction, writer io.Writer) {
	lastLine := -1
	for _, instr := range instructions {
		line := ""
		if instr.Line != 0 && instr.Line != lastLine {
			line = lineColor.Sprintf("%d", instr.Line)
			lastLine = instr.Line
		}
		marker := "  "
		if instr.JumpTarget {
			marker = ">>"
		}
		arg := ""
		if instr.HasArg {
			arg = fmt.Sprintf("%d", instr.Arg)
		}
		note := ""
		if instr.Annotation != "" {
			note = annotationColor.Sprintf("(%s)", instr.Annotation)
		}
		fmt.Fprintf(writer, "%4s %s %4d %-20s %4s %s\n",
			line, marker, instr.Offset, opcodeColor.Sprint(instr.Name), arg, note)
	}
}

// Fprint disassembles the code unit and prints it to the writer.
func Fprint(writer io.Writer, code *bytecode.Code) error {
	instructions, err := Disassemble(code)
	if err != nil {
		return err
	}
	Print(instructions, writer)
	return nil
}

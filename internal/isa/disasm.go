package isa

import "fmt"

// DisassembleOne decodes the instruction at code[offset:] into a
// human-readable line and returns the offset of the following instruction.
//
// Instruction length follows strictly from which addressing-mode slots
// carry inline arguments (2, 6, or 10 bytes) — never from a per-opcode
// operand table.
func DisassembleOne(code []byte, offset int) (line string, next int) {
	if offset+2 > len(code) {
		return fmt.Sprintf("0x%04x | <truncated>", offset), len(code)
	}

	flags := code[offset]
	op := Opcode(code[offset+1])

	// An opcode byte that doesn't match a known instruction may not sit on
	// a real header at all (disassembling raw/garbage memory): don't trust
	// its neighboring flags nibbles to mean addressing modes. Print <?>
	// and advance a single byte.
	if _, known := opcodeNames[op]; !known {
		return fmt.Sprintf("0x%04x | <?>", offset), offset + 1
	}

	mode1 := ExtractMode1(flags)
	mode2 := ExtractMode2(flags)
	cursor := offset + 2

	var arg1, arg2 string
	var have1, have2 bool

	if hasInlineArg(mode1) && cursor+4 <= len(code) {
		arg1 = formatArg(mode1, code, cursor)
		cursor += 4
		have1 = true
	}
	if hasInlineArg(mode2) && cursor+4 <= len(code) {
		arg2 = formatArg(mode2, code, cursor)
		cursor += 4
		have2 = true
	}

	switch {
	case have1 && have2:
		line = fmt.Sprintf("0x%04x | %-8s %s, %s", offset, op, arg1, arg2)
	case have1:
		line = fmt.Sprintf("0x%04x | %-8s %s", offset, op, arg1)
	default:
		line = fmt.Sprintf("0x%04x | %-8s", offset, op)
	}

	return line, cursor
}

// hasInlineArg reports whether an addressing mode carries a 4-byte inline
// argument slot. STK and NONE contribute nothing to instruction length.
func hasInlineArg(mode Mode) bool {
	switch mode {
	case IMM, ABS, PRO, NRO:
		return true
	}
	return false
}

func formatArg(mode Mode, code []byte, at int) string {
	v := ReadInt32(code, at)
	switch mode {
	case PRO:
		target := at + int(v)
		return fmt.Sprintf("0x%x (0x%x)", v, target)
	case NRO:
		target := at - int(v)
		return fmt.Sprintf("0x%x (0x%x)", v, target)
	default:
		return fmt.Sprintf("0x%x", v)
	}
}

package assemble

import (
	"github.com/maxrt101/xvm-go/internal/isa"
	"github.com/maxrt101/xvm-go/internal/object"
)

type operandKind int

const (
	operandNumber operandKind = iota
	operandLabel
	operandAddrOf
	operandVarDeref
)

type operand struct {
	kind   operandKind
	number int64
	name   string
	offset int64
}

// mode returns the addressing mode a plain (non-deref) operand encodes as.
// A numeric literal is always IMM; a label or address-of reference is
// always ABS at emission time — PIC rewriting, if enabled, turns it into
// PRO/NRO during the later patch phase once the symbol's address is known.
func (o operand) mode() isa.Mode {
	if o.kind == operandNumber {
		return isa.IMM
	}
	return isa.ABS
}

// tryOperand looks at the next token; if it sits on mnemonicLine it is
// consumed as one inline operand, otherwise nothing is consumed and ok is
// false.
func (a *Assembler) tryOperand(mnemonicLine int) (operand, bool, error) {
	tok, err := a.peek()
	if err != nil {
		return operand{}, false, err
	}
	if tok.Line != mnemonicLine {
		return operand{}, false, nil
	}
	_, _ = a.next()

	switch {
	case tok.Kind == TokNumber:
		return operand{kind: operandNumber, number: tok.Num}, true, nil
	case tok.Kind == TokChar:
		return operand{kind: operandNumber, number: tok.Num}, true, nil
	case tok.Kind == TokIdent:
		o := operand{kind: operandLabel, name: tok.Text}
		return a.maybeTrailingOffset(o, mnemonicLine)
	case tok.Kind == TokPunct && tok.Text == "$":
		name, err := a.next()
		if err != nil {
			return operand{}, false, err
		}
		return operand{kind: operandVarDeref, name: name.Text}, true, nil
	case tok.Kind == TokPunct && tok.Text == "@":
		name, err := a.next()
		if err != nil {
			return operand{}, false, err
		}
		o := operand{kind: operandAddrOf, name: name.Text}
		return a.maybeTrailingOffset(o, mnemonicLine)
	default:
		a.errorf(tok.Line, "unexpected operand token %q", tok.String())
		return operand{}, false, nil
	}
}

func (a *Assembler) maybeTrailingOffset(o operand, mnemonicLine int) (operand, bool, error) {
	tok, err := a.peek()
	if err != nil {
		return operand{}, false, err
	}
	if tok.Line != mnemonicLine || tok.Kind != TokPunct || (tok.Text != "+" && tok.Text != "-") {
		return o, true, nil
	}
	sign := int64(1)
	if tok.Text == "-" {
		sign = -1
	}
	_, _ = a.next()
	num, err := a.next()
	if err != nil {
		return operand{}, false, err
	}
	if num.Kind != TokNumber {
		a.errorf(num.Line, "expected constant after %s in offset expression", tok.Text)
		return o, true, nil
	}
	o.offset = sign * num.Num
	return o, true, nil
}

// emitOperand appends o's wire form (always argSize bytes: the 4-byte
// placeholder/literal slot) and records a mention when o refers to a
// symbol by name. A `label+expr`/`label-expr` compound pre-writes the
// constant-folded offset into the slot and is recorded with ordinal 0, so
// the patcher adds the symbol address without touching the header's
// addressing-mode flags.
func (a *Assembler) emitOperand(o operand, argOrdinal uint8) {
	if o.kind == operandNumber {
		a.appendInt32(int32(o.number))
		return
	}
	off := int32(len(a.code))
	a.appendInt32(int32(o.offset))
	if o.offset != 0 {
		argOrdinal = 0
	}
	a.recordMention(o.name, off, argOrdinal)
}

func (a *Assembler) recordMention(name string, offset int32, ordinal uint8) {
	a.labelMention[name] = append(a.labelMention[name], object.Mention{CodeOffset: offset, ArgOrdinal: ordinal})
}

func (a *Assembler) emitHeader(m1, m2 isa.Mode, op isa.Opcode) {
	a.code = append(a.code, isa.EncodeFlags(m1, m2), byte(op))
}

// instruction parses and emits one mnemonic statement, already past the
// opcode token.
func (a *Assembler) instruction(op isa.Opcode, line int) error {
	switch op {
	case isa.NOP, isa.HALT, isa.RESET, isa.RET, isa.DUP, isa.ROL, isa.ROL3:
		a.emitHeader(isa.NONE, isa.NONE, op)
		return nil

	case isa.PUSH:
		return a.instrPush(line)

	case isa.POP:
		return a.instrPop(line)

	case isa.DEREF8, isa.DEREF16, isa.DEREF32, isa.LOAD8, isa.LOAD16, isa.LOAD32:
		return a.instrAddr1(op, line)

	case isa.INC, isa.DEC:
		return a.instrIncDec(op, line)

	case isa.STORE8, isa.STORE16, isa.STORE32:
		return a.instrStore(op, line)

	case isa.ADD, isa.SUB, isa.MUL, isa.DIV, isa.EQU, isa.LT, isa.GT, isa.AND, isa.OR:
		return a.instrBinary(op, line)

	case isa.SHL, isa.SHR:
		return a.instrShift(op, line)

	case isa.JUMP, isa.JUMPT, isa.JUMPF, isa.CALL:
		return a.instrJump(op, line)

	case isa.SYSCALL:
		return a.instrSyscall(line)

	default:
		a.errorf(line, "internal: unhandled opcode %s", op)
		return nil
	}
}

// instrPush implements PUSH's three forms: stack (no operand), plain value
// (number/label/address-of), and the `$name` auto-deref shorthand.
func (a *Assembler) instrPush(line int) error {
	opn, ok, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !ok {
		a.emitHeader(isa.STK, isa.NONE, isa.PUSH)
		return nil
	}
	if opn.kind == operandVarDeref {
		a.emitHeader(isa.IMM, isa.NONE, isa.PUSH)
		argOff := int32(len(a.code))
		a.appendInt32(0)
		a.code = append(a.code, 0x00, 0x00) // placeholder flags(NONE,NONE) + opcode NOP
		a.varMention[opn.name] = append(a.varMention[opn.name], VarMention{CodeOffset: argOff, ArgOrdinal: 1, IsDeref: true})
		return nil
	}
	a.emitHeader(opn.mode(), isa.NONE, isa.PUSH)
	a.emitOperand(opn, 1)
	return nil
}

func (a *Assembler) instrPop(line int) error {
	opn, ok, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !ok {
		a.emitHeader(isa.NONE, isa.NONE, isa.POP)
		return nil
	}
	a.emitHeader(isa.IMM, isa.NONE, isa.POP)
	a.emitOperand(opn, 1)
	return nil
}

func (a *Assembler) instrAddr1(op isa.Opcode, line int) error {
	opn, ok, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !ok {
		a.emitHeader(isa.STK, isa.NONE, op)
		return nil
	}
	a.emitHeader(opn.mode(), isa.NONE, op)
	a.emitOperand(opn, 1)
	return nil
}

func (a *Assembler) instrIncDec(op isa.Opcode, line int) error {
	opn, ok, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !ok {
		a.emitHeader(isa.STK, isa.NONE, op)
		return nil
	}
	a.emitHeader(isa.ABS, isa.NONE, op)
	a.emitOperand(opn, 1)
	return nil
}

func (a *Assembler) instrStore(op isa.Opcode, line int) error {
	addrOpn, hasAddr, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !hasAddr {
		a.emitHeader(isa.STK, isa.STK, op)
		return nil
	}
	valOpn, hasVal, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !hasVal {
		a.emitHeader(addrOpn.mode(), isa.STK, op)
		a.emitOperand(addrOpn, 1)
		return nil
	}
	a.emitHeader(addrOpn.mode(), valOpn.mode(), op)
	a.emitOperand(addrOpn, 1)
	a.emitOperand(valOpn, 2)
	return nil
}

func (a *Assembler) instrBinary(op isa.Opcode, line int) error {
	opn1, has1, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !has1 {
		a.emitHeader(isa.STK, isa.STK, op)
		return nil
	}
	opn2, has2, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !has2 {
		a.emitHeader(opn1.mode(), isa.STK, op)
		a.emitOperand(opn1, 1)
		return nil
	}
	a.emitHeader(opn1.mode(), opn2.mode(), op)
	a.emitOperand(opn1, 1)
	a.emitOperand(opn2, 2)
	return nil
}

func (a *Assembler) instrShift(op isa.Opcode, line int) error {
	opn, ok, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !ok {
		a.errorf(line, "%s requires an inline operand", op)
		return nil
	}
	a.emitHeader(isa.IMM, isa.NONE, op)
	a.emitOperand(opn, 1)
	return nil
}

func (a *Assembler) instrJump(op isa.Opcode, line int) error {
	opn, ok, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !ok {
		a.emitHeader(isa.STK, isa.NONE, op)
		return nil
	}
	a.emitHeader(opn.mode(), isa.NONE, op)
	a.emitOperand(opn, 1)
	if op == isa.CALL && opn.kind == operandLabel {
		a.callTargets[opn.name] = true
	}
	return nil
}

func (a *Assembler) instrSyscall(line int) error {
	opn, ok, err := a.tryOperand(line)
	if err != nil {
		return err
	}
	if !ok {
		a.emitHeader(isa.STK, isa.NONE, isa.SYSCALL)
		return nil
	}
	if opn.kind == operandLabel {
		num, known := a.syscall[opn.name]
		if !known {
			a.errorf(line, "unknown syscall %q (missing %%syscall directive)", opn.name)
			return nil
		}
		a.emitHeader(isa.IMM, isa.NONE, isa.SYSCALL)
		a.appendInt32(num)
		return nil
	}
	a.emitHeader(isa.IMM, isa.NONE, isa.SYSCALL)
	a.emitOperand(opn, 1)
	return nil
}

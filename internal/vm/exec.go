package vm

import (
	"fmt"

	"github.com/maxrt101/xvm-go/internal/isa"
	"github.com/maxrt101/xvm-go/internal/xerr"
)

// Run drives the fetch-decode-execute loop until HALT, a runtime error,
// or ip running past the bus's bound extent.
func (v *VM) Run() error {
	v.running = true
	for v.running && v.IP < v.Bus.Max() {
		if err := v.step(); err != nil {
			v.running = false
			return err
		}
	}
	return nil
}

// Start marks the dispatch loop live without executing anything, for hosts
// that drive the machine one Step at a time (the breakpoint REPL) instead
// of handing control to Run.
func (v *VM) Start() { v.running = true }

// Step executes exactly one instruction. Callers driving the machine
// manually should check Running and the bus extent between steps, the same
// way Run's loop does.
func (v *VM) Step() error { return v.step() }

// step fetches, decodes and executes exactly one instruction.
func (v *VM) step() error {
	start := v.IP
	flags := v.fetchByte()
	op := isa.Opcode(v.fetchByte())
	mode1, mode2 := isa.ExtractMode1(flags), isa.ExtractMode2(flags)

	if v.Trace != nil {
		line, _ := isa.DisassembleOne(v.snapshotFrom(start), 0)
		fmt.Fprintf(v.Trace, "%06x: %s\n", start, line)
	}

	return v.execute(op, mode1, mode2)
}

// snapshotFrom copies enough bytes from the bus starting at addr for the
// disassembler to decode one instruction of the widest possible form
// (2-byte header + two 4-byte arguments), reading whatever the trailing
// bytes happen to be past the end of a shorter instruction — disassembly
// of those extra bytes is simply discarded by the caller.
func (v *VM) snapshotFrom(addr uint32) []byte {
	buf := make([]byte, 10)
	for i := range buf {
		buf[i] = v.Bus.Read(addr + uint32(i))
	}
	return buf
}

// combine applies a binary opcode's operator as `left OP right`. Which
// fetched operand is which side depends on the addressing modes: with two
// inline literals the first literal is the left operand, but when the
// second operand comes off the data stack the pops arrive right-then-left
// (`push 10; push 4; sub` computes 10 - 4); execute resolves that before
// calling here, so left/right are already in operator order.
func combine(op isa.Opcode, left, right int32) (int32, error) {
	switch op {
	case isa.ADD:
		return left + right, nil
	case isa.SUB:
		return left - right, nil
	case isa.MUL:
		return left * right, nil
	case isa.DIV:
		if right == 0 {
			return 0, xerr.New(xerr.Runtime, "division by zero")
		}
		return left / right, nil
	case isa.EQU:
		return boolToInt(left == right), nil
	case isa.LT:
		return boolToInt(left < right), nil
	case isa.GT:
		return boolToInt(left > right), nil
	case isa.AND:
		return left & right, nil
	case isa.OR:
		return left | right, nil
	default:
		return 0, xerr.New(xerr.Runtime, "unknown binary opcode %s", op)
	}
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (v *VM) execute(op isa.Opcode, mode1, mode2 isa.Mode) error {
	switch op {
	case isa.NOP:
		return nil

	case isa.HALT:
		v.running = false
		return nil

	case isa.RESET:
		v.Reset()
		return nil

	case isa.PUSH:
		val, err := v.fetchOperand(mode1)
		if err != nil {
			return err
		}
		return v.Data.push(val)

	case isa.POP:
		n := int32(1)
		if mode1 != isa.NONE {
			val, err := v.fetchOperand(mode1)
			if err != nil {
				return err
			}
			n = val
		}
		for i := int32(0); i < n; i++ {
			if _, err := v.Data.pop(); err != nil {
				return err
			}
		}
		return nil

	case isa.DUP:
		val, err := v.Data.peek(0)
		if err != nil {
			return err
		}
		return v.Data.push(val)

	case isa.ROL:
		a, err := v.Data.pop()
		if err != nil {
			return err
		}
		b, err := v.Data.pop()
		if err != nil {
			return err
		}
		if err := v.Data.push(a); err != nil {
			return err
		}
		return v.Data.push(b)

	case isa.ROL3:
		a, err := v.Data.pop()
		if err != nil {
			return err
		}
		b, err := v.Data.pop()
		if err != nil {
			return err
		}
		c, err := v.Data.pop()
		if err != nil {
			return err
		}
		if err := v.Data.push(a); err != nil {
			return err
		}
		if err := v.Data.push(b); err != nil {
			return err
		}
		return v.Data.push(c)

	case isa.DEREF8, isa.LOAD8:
		return v.execLoad8(mode1)
	case isa.DEREF16, isa.LOAD16:
		return v.execLoad16(mode1)
	case isa.DEREF32, isa.LOAD32:
		return v.execLoad32(mode1)

	case isa.STORE8:
		return v.execStore8(mode1, mode2)
	case isa.STORE16:
		return v.execStore16(mode1, mode2)
	case isa.STORE32:
		return v.execStore32(mode1, mode2)

	case isa.ADD, isa.SUB, isa.MUL, isa.DIV, isa.EQU, isa.LT, isa.GT, isa.AND, isa.OR:
		x, err := v.fetchOperand(mode1)
		if err != nil {
			return err
		}
		y, err := v.fetchOperand(mode2)
		if err != nil {
			return err
		}
		// Two inline literals evaluate in source order; a stack-supplied
		// second operand was pushed last, so the first fetch popped the
		// right-hand side.
		left, right := x, y
		if mode2 == isa.STK {
			left, right = y, x
		}
		result, err := combine(op, left, right)
		if err != nil {
			return err
		}
		return v.Data.push(result)

	case isa.SHL, isa.SHR:
		value, err := v.Data.pop()
		if err != nil {
			return err
		}
		k, err := v.fetchOperand(mode1)
		if err != nil {
			return err
		}
		var result int32
		if op == isa.SHL {
			result = value << uint32(k)
		} else {
			result = value >> uint32(k)
		}
		return v.Data.push(result)

	case isa.INC, isa.DEC:
		addr, err := v.fetchOperand(mode1)
		if err != nil {
			return err
		}
		value := v.readBusInt32(uint32(addr))
		if op == isa.INC {
			value++
		} else {
			value--
		}
		return v.Data.push(value)

	case isa.JUMP:
		addr, err := v.fetchOperand(mode1)
		if err != nil {
			return err
		}
		v.IP = uint32(addr)
		return nil

	case isa.JUMPT, isa.JUMPF:
		addr, err := v.fetchOperand(mode1)
		if err != nil {
			return err
		}
		cond, err := v.Data.pop()
		if err != nil {
			return err
		}
		if (op == isa.JUMPT) == (cond != 0) {
			v.IP = uint32(addr)
		}
		return nil

	case isa.CALL:
		addr, err := v.fetchOperand(mode1)
		if err != nil {
			return err
		}
		if err := v.Call.push(v.IP); err != nil {
			return err
		}
		v.IP = uint32(addr)
		return nil

	case isa.RET:
		addr, err := v.Call.pop()
		if err != nil {
			return err
		}
		v.IP = addr
		return nil

	case isa.SYSCALL:
		id, err := v.fetchOperand(mode1)
		if err != nil {
			return err
		}
		sys, ok := v.Sys.Lookup(id)
		if !ok {
			return xerr.New(xerr.Runtime, "unknown syscall %d", id)
		}
		return sys.Handler(v)

	default:
		return xerr.New(xerr.Runtime, "unknown opcode %d", op)
	}
}

func (v *VM) execLoad8(mode isa.Mode) error {
	addr, err := v.fetchOperand(mode)
	if err != nil {
		return err
	}
	return v.Data.push(int32(int8(v.Bus.Read(uint32(addr)))))
}

func (v *VM) execLoad16(mode isa.Mode) error {
	addr, err := v.fetchOperand(mode)
	if err != nil {
		return err
	}
	return v.Data.push(int32(v.readBusInt16(uint32(addr))))
}

func (v *VM) execLoad32(mode isa.Mode) error {
	addr, err := v.fetchOperand(mode)
	if err != nil {
		return err
	}
	return v.Data.push(v.readBusInt32(uint32(addr)))
}

func (v *VM) execStore8(mode1, mode2 isa.Mode) error {
	addr, err := v.fetchOperand(mode1)
	if err != nil {
		return err
	}
	val, err := v.fetchOperand(mode2)
	if err != nil {
		return err
	}
	v.Bus.Write(uint32(addr), byte(val))
	return nil
}

func (v *VM) execStore16(mode1, mode2 isa.Mode) error {
	addr, err := v.fetchOperand(mode1)
	if err != nil {
		return err
	}
	val, err := v.fetchOperand(mode2)
	if err != nil {
		return err
	}
	v.writeBusInt16(uint32(addr), int16(val))
	return nil
}

func (v *VM) execStore32(mode1, mode2 isa.Mode) error {
	addr, err := v.fetchOperand(mode1)
	if err != nil {
		return err
	}
	val, err := v.fetchOperand(mode2)
	if err != nil {
		return err
	}
	v.writeBusInt32(uint32(addr), val)
	return nil
}

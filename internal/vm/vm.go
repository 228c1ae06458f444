// Package vm implements the xvm interpreter: VM state, the fetch-decode-
// execute dispatch loop, and per-opcode execution semantics. A single
// struct owns the whole machine; a running flag threaded through the
// dispatch loop is the only termination signal.
package vm

import (
	"io"

	"github.com/maxrt101/xvm-go/internal/bus"
	"github.com/maxrt101/xvm-go/internal/isa"
	"github.com/maxrt101/xvm-go/internal/object"
	"github.com/maxrt101/xvm-go/internal/xerr"
)

// SyscallFunc is a host-provided routine invoked by the SYSCALL opcode. It
// receives the VM so it can pop arguments from the data stack and push a
// result.
type SyscallFunc func(v *VM) error

// Syscall pairs a syscall's diagnostic name with its handler.
type Syscall struct {
	Name    string
	Handler SyscallFunc
}

// SyscallTable is the VM's integer-keyed registry of host routines.
type SyscallTable struct {
	entries map[int32]Syscall
}

// NewSyscallTable returns an empty table.
func NewSyscallTable() *SyscallTable {
	return &SyscallTable{entries: map[int32]Syscall{}}
}

// Register binds id to name/handler, overwriting any previous binding.
func (t *SyscallTable) Register(id int32, name string, handler SyscallFunc) {
	t.entries[id] = Syscall{Name: name, Handler: handler}
}

// Lookup returns the syscall bound to id, if any.
func (t *SyscallTable) Lookup(id int32) (Syscall, bool) {
	s, ok := t.entries[id]
	return s, ok
}

// VM owns one interpreter's full state: instruction pointer, both stacks,
// the memory bus it fetches and executes against, the syscall table, and
// the symbol table installed by the loader (informational only — never
// consulted during dispatch).
type VM struct {
	IP      uint32
	Data    dataStack
	Call    callStack
	Bus     *bus.Bus
	Sys     *SyscallTable
	Symbols object.SymbolTable

	running bool

	// Trace, when non-nil, receives one disassembled line per executed
	// instruction — the `debug` config key's trace mode.
	Trace io.Writer
}

// New returns a VM ready to run code already copied into b.
func New(b *bus.Bus, sys *SyscallTable) *VM {
	if sys == nil {
		sys = NewSyscallTable()
	}
	return &VM{Bus: b, Sys: sys}
}

// Reset implements the RESET opcode: clears both stacks and the ip, but
// does not touch bus contents or the syscall table.
func (v *VM) Reset() {
	v.Data.reset()
	v.Call.reset()
	v.IP = 0
}

// Running reports whether the dispatch loop is currently executing.
func (v *VM) Running() bool { return v.running }

// Halt stops the dispatch loop after the current instruction, as if a
// HALT had been executed. Exposed for the breakpoint REPL's "quit" command
// and for syscall handlers that need to terminate the machine early.
func (v *VM) Halt() { v.running = false }

// fetchByte reads one byte from the bus at ip and advances ip.
func (v *VM) fetchByte() byte {
	b := v.Bus.Read(v.IP)
	v.IP++
	return b
}

// fetchArg reads the 4-byte little-endian argument slot that follows an
// instruction header and advances ip past it.
func (v *VM) fetchArg() int32 {
	buf := [4]byte{v.Bus.Read(v.IP), v.Bus.Read(v.IP + 1), v.Bus.Read(v.IP + 2), v.Bus.Read(v.IP + 3)}
	v.IP += 4
	return isa.ReadInt32(buf[:], 0)
}

// readBusInt32 reads a little-endian 32-bit value from the bus at addr,
// without touching ip.
func (v *VM) readBusInt32(addr uint32) int32 {
	buf := [4]byte{v.Bus.Read(addr), v.Bus.Read(addr + 1), v.Bus.Read(addr + 2), v.Bus.Read(addr + 3)}
	return isa.ReadInt32(buf[:], 0)
}

func (v *VM) writeBusInt32(addr uint32, val int32) {
	buf := make([]byte, 4)
	isa.WriteInt32(buf, 0, val)
	for i, b := range buf {
		v.Bus.Write(addr+uint32(i), b)
	}
}

func (v *VM) readBusInt16(addr uint32) int16 {
	buf := [2]byte{v.Bus.Read(addr), v.Bus.Read(addr + 1)}
	return isa.ReadInt16(buf[:], 0)
}

func (v *VM) writeBusInt16(addr uint32, val int16) {
	buf := make([]byte, 2)
	isa.WriteInt16(buf, 0, val)
	v.Bus.Write(addr, buf[0])
	v.Bus.Write(addr+1, buf[1])
}

// Push places a value on top of the data stack. Exposed for syscall
// handlers, which live outside this package.
func (v *VM) Push(val int32) error { return v.Data.push(val) }

// Pop removes and returns the top of the data stack.
func (v *VM) Pop() (int32, error) { return v.Data.pop() }

// Peek returns the data stack slot `depth` entries below the top without
// removing it.
func (v *VM) Peek(depth int) (int32, error) { return v.Data.peek(depth) }

// ReadBytes copies n bytes from the bus starting at addr.
func (v *VM) ReadBytes(addr uint32, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = v.Bus.Read(addr + uint32(i))
	}
	return buf
}

// WriteBytes copies data into the bus starting at addr.
func (v *VM) WriteBytes(addr uint32, data []byte) {
	for i, b := range data {
		v.Bus.Write(addr+uint32(i), b)
	}
}

// ReadCString reads a NUL-terminated string from the bus starting at addr.
func (v *VM) ReadCString(addr uint32) string {
	var buf []byte
	for {
		b := v.Bus.Read(addr)
		if b == 0 {
			break
		}
		buf = append(buf, b)
		addr++
	}
	return string(buf)
}

// fetchOperand reads one instruction argument according to mode, advancing
// ip for every form that consumes inline bytes.
func (v *VM) fetchOperand(mode isa.Mode) (int32, error) {
	switch mode {
	case isa.NONE:
		return 0, nil
	case isa.STK:
		return v.Data.pop()
	case isa.IMM:
		return v.fetchArg(), nil
	case isa.ABS:
		return v.fetchArg(), nil
	case isa.PRO:
		d := v.fetchArg()
		return int32(v.IP) + d - 4, nil
	case isa.NRO:
		d := v.fetchArg()
		return int32(v.IP) - d - 4, nil
	default:
		return 0, xerr.New(xerr.Runtime, "unknown addressing mode %d", mode)
	}
}

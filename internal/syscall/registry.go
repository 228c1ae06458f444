// Package syscall implements the xvm syscall surface: the integer-keyed
// registry of host routines a running program invokes with the SYSCALL
// opcode. Numbering is this package's own convention — the
// assembler never hard-codes a syscall number, resolving names via
// %syscall directives instead.
package syscall

import (
	"io"

	"github.com/maxrt101/xvm-go/internal/bus"
	"github.com/maxrt101/xvm-go/internal/vm"
)

// Numbers assigns every required syscall name a stable i32 key. Programs
// bind symbolic names to these via `%syscall NAME NUMBER` in source; a host
// embedding this package is expected to register the same numbering.
const (
	Putc int32 = iota
	Readc
	Readl
	Open
	Close
	Read
	Write
	Sleep
	Fsctl
	Vmctl
	Sysctl
	Breakpoint
	InitVideo
)

// Names maps each syscall number to its canonical name — handy for
// %syscall stub generation and tracing.
var Names = map[int32]string{
	Putc:       "putc",
	Readc:      "readc",
	Readl:      "readl",
	Open:       "open",
	Close:      "close",
	Read:       "read",
	Write:      "write",
	Sleep:      "sleep",
	Fsctl:      "fsctl",
	Vmctl:      "vmctl",
	Sysctl:     "sysctl",
	Breakpoint: "breakpoint",
	InitVideo:  "init_video",
}

// Host owns the process-global resources the syscall handlers need: the
// console device and the open-file-descriptor table. It outlives any
// single VM; the fd map is shared across runs within one process.
type Host struct {
	console *bus.Console
	files   *fdTable

	onBreakpoint vm.SyscallFunc
}

// NewHost returns a Host whose putc/readc/readl syscalls talk to a console
// device wrapping the given streams. onBreakpoint, if non-nil, is invoked
// by the BREAKPOINT syscall instead of the default no-op — the CLI wires
// in the bubbletea REPL here, which pauses the machine by blocking the
// host thread inside the handler.
func NewHost(out io.Writer, in io.Reader, onBreakpoint vm.SyscallFunc) *Host {
	return &Host{
		console:      bus.NewConsole(out, in),
		files:        newFDTable(),
		onBreakpoint: onBreakpoint,
	}
}

// Console exposes the host's console device so a CLI embedding this package
// can additionally bind it on the memory bus as a byte port.
func (h *Host) Console() *bus.Console { return h.console }

// Table builds a *vm.SyscallTable with every required and reserved syscall
// registered against h.
func (h *Host) Table() *vm.SyscallTable {
	t := vm.NewSyscallTable()
	t.Register(Putc, Names[Putc], h.putc)
	t.Register(Readc, Names[Readc], h.readc)
	t.Register(Readl, Names[Readl], h.readl)
	t.Register(Open, Names[Open], h.open)
	t.Register(Close, Names[Close], h.close)
	t.Register(Read, Names[Read], h.read)
	t.Register(Write, Names[Write], h.write)
	t.Register(Sleep, Names[Sleep], h.sleep)
	t.Register(Fsctl, Names[Fsctl], h.reserved)
	t.Register(Vmctl, Names[Vmctl], h.reserved)
	t.Register(Sysctl, Names[Sysctl], h.reserved)
	t.Register(Breakpoint, Names[Breakpoint], h.breakpoint)
	t.Register(InitVideo, Names[InitVideo], h.reserved)
	return t
}

// Close releases every file descriptor the host opened during a run.
func (h *Host) Close() error {
	return h.files.closeAll()
}

package syscall

import (
	"os"
	"sync"
	"time"

	"github.com/maxrt101/xvm-go/internal/vm"
)

// fdTable hands out small integer descriptors for os.Files opened by the
// OPEN syscall.
type fdTable struct {
	mu     sync.Mutex
	files  map[int32]*os.File
	nextFD int32
}

func newFDTable() *fdTable {
	return &fdTable{files: map[int32]*os.File{}}
}

func (t *fdTable) add(f *os.File) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.nextFD
	t.nextFD++
	t.files[fd] = f
	return fd
}

func (t *fdTable) get(fd int32) (*os.File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	return f, ok
}

func (t *fdTable) remove(fd int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, fd)
}

func (t *fdTable) closeAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for fd, f := range t.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(t.files, fd)
	}
	return first
}

// putc: pop(byte) -> write to the console.
func (h *Host) putc(v *vm.VM) error {
	b, err := v.Pop()
	if err != nil {
		return err
	}
	return h.console.WriteByte(byte(b))
}

// readc: push(byte read from the console), or -1 on EOF/error.
func (h *Host) readc(v *vm.VM) error {
	b, err := h.console.ReadByte()
	if err != nil {
		return v.Push(-1)
	}
	return v.Push(int32(b))
}

// readl: pop(addr) pop(maxlen) -> reads one line (without its newline),
// writes up to maxlen bytes into the bus at addr, pushes the byte count
// actually written.
func (h *Host) readl(v *vm.VM) error {
	addr, err := v.Pop()
	if err != nil {
		return err
	}
	maxLen, err := v.Pop()
	if err != nil {
		return err
	}
	line, err := h.console.ReadLine()
	if err != nil && len(line) == 0 {
		return v.Push(-1)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	if int32(len(line)) > maxLen {
		line = line[:maxLen]
	}
	v.WriteBytes(uint32(addr), []byte(line))
	return v.Push(int32(len(line)))
}

// open: pop(pathAddr) pop(flags) -> reads a NUL-terminated path from the
// bus, opens it, pushes the new fd (or -1 on failure).
func (h *Host) open(v *vm.VM) error {
	pathAddr, err := v.Pop()
	if err != nil {
		return err
	}
	flags, err := v.Pop()
	if err != nil {
		return err
	}
	path := v.ReadCString(uint32(pathAddr))
	f, openErr := os.OpenFile(path, osFlags(flags), 0644)
	if openErr != nil {
		return v.Push(-1)
	}
	return v.Push(h.files.add(f))
}

// close: pop(fd) -> pushes 0 on success, -1 if fd is unknown or close fails.
func (h *Host) close(v *vm.VM) error {
	fd, err := v.Pop()
	if err != nil {
		return err
	}
	f, ok := h.files.get(fd)
	if !ok {
		return v.Push(-1)
	}
	h.files.remove(fd)
	if f.Close() != nil {
		return v.Push(-1)
	}
	return v.Push(0)
}

// read: pop(fd) pop(addr) pop(maxlen) -> writes up to maxlen bytes read
// from fd into the bus at addr, pushes the byte count read (or -1).
func (h *Host) read(v *vm.VM) error {
	fd, err := v.Pop()
	if err != nil {
		return err
	}
	addr, err := v.Pop()
	if err != nil {
		return err
	}
	maxLen, err := v.Pop()
	if err != nil {
		return err
	}
	f, ok := h.files.get(fd)
	if !ok {
		return v.Push(-1)
	}
	buf := make([]byte, maxLen)
	n, readErr := f.Read(buf)
	if readErr != nil && n == 0 {
		return v.Push(-1)
	}
	v.WriteBytes(uint32(addr), buf[:n])
	return v.Push(int32(n))
}

// write: pop(fd) pop(addr) pop(length) -> writes length bytes from the bus
// at addr into fd, pushes the byte count written (or -1).
func (h *Host) write(v *vm.VM) error {
	fd, err := v.Pop()
	if err != nil {
		return err
	}
	addr, err := v.Pop()
	if err != nil {
		return err
	}
	length, err := v.Pop()
	if err != nil {
		return err
	}
	f, ok := h.files.get(fd)
	if !ok {
		return v.Push(-1)
	}
	n, writeErr := f.Write(v.ReadBytes(uint32(addr), int(length)))
	if writeErr != nil {
		return v.Push(-1)
	}
	return v.Push(int32(n))
}

// sleep: pop(millis) -> blocks the whole machine for millis milliseconds;
// there is no preemption, so a blocking syscall blocks everything.
func (h *Host) sleep(v *vm.VM) error {
	millis, err := v.Pop()
	if err != nil {
		return err
	}
	time.Sleep(time.Duration(millis) * time.Millisecond)
	return nil
}

// breakpoint invokes the host-installed debugger hook, if any, otherwise
// it is a no-op.
func (h *Host) breakpoint(v *vm.VM) error {
	if h.onBreakpoint != nil {
		return h.onBreakpoint(v)
	}
	return nil
}

// reserved backs fsctl/vmctl/sysctl/init_video: slots that are
// registered but not yet given host behavior.
func (h *Host) reserved(v *vm.VM) error {
	return nil
}

func osFlags(flags int32) int {
	const (
		fRead = 1 << iota
		fWrite
		fCreate
		fAppend
		fTruncate
	)
	var f int
	switch {
	case flags&fWrite != 0 && flags&fRead != 0:
		f = os.O_RDWR
	case flags&fWrite != 0:
		f = os.O_WRONLY
	default:
		f = os.O_RDONLY
	}
	if flags&fCreate != 0 {
		f |= os.O_CREATE
	}
	if flags&fAppend != 0 {
		f |= os.O_APPEND
	}
	if flags&fTruncate != 0 {
		f |= os.O_TRUNC
	}
	return f
}

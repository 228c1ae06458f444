package bus

import (
	"bufio"
	"io"
)

// Console is a single-byte-port console device: writing the port emits one
// byte to the output stream, reading the port blocks for one byte from the
// input stream. The same device backs the putc/readc/readl syscalls, which
// block the handler instead of waiting on an async response — there is no
// interrupt vector in this design.
type Console struct {
	out io.Writer
	in  *bufio.Reader
}

// NewConsole wires a Console device to host stdio.
func NewConsole(out io.Writer, in io.Reader) *Console {
	return &Console{out: out, in: bufio.NewReader(in)}
}

func (c *Console) Name() string { return "console" }

// ReadByte blocks until one byte is available from the input stream. The
// readc syscall uses this form so EOF stays distinguishable from a NUL.
func (c *Console) ReadByte() (byte, error) {
	return c.in.ReadByte()
}

// ReadLine blocks for one newline-terminated line, terminator included.
func (c *Console) ReadLine() (string, error) {
	return c.in.ReadString('\n')
}

// WriteByte emits one byte to the output stream.
func (c *Console) WriteByte(v byte) error {
	_, err := c.out.Write([]byte{v})
	return err
}

// Read is the bus-port form of ReadByte; EOF reads as 0.
func (c *Console) Read(addr uint32) byte {
	b, err := c.ReadByte()
	if err != nil {
		return 0
	}
	return b
}

// Write is the bus-port form of WriteByte. A write error is swallowed at
// the device layer; the putc syscall drives WriteByte directly and surfaces
// I/O failure through its own return contract.
func (c *Console) Write(addr uint32, v byte) {
	_ = c.WriteByte(v)
}

// Package load implements the xvm loader: it validates a linked
// Executable's container header, copies its code section into a bus, and
// optionally installs a symbol table for trace/debug use.
package load

import (
	"github.com/maxrt101/xvm-go/internal/bus"
	"github.com/maxrt101/xvm-go/internal/object"
	"github.com/maxrt101/xvm-go/internal/xerr"
)

// RAMDevice is the subset of *bus.RAM the loader needs, so it can place
// code without depending on the device's full construction logic.
type RAMDevice interface {
	bus.Device
	Load(offset uint32, code []byte)
}

// Load validates exe's magic and code section, then copies the code bytes
// into ram starting at address 0. It returns the decoded
// symbol table when exe carries one — installing it is the caller's job,
// since the VM owns where that table lives.
func Load(exe object.Executable, ram RAMDevice) (object.SymbolTable, error) {
	if exe.Magic != object.Magic {
		return object.SymbolTable{}, xerr.New(xerr.Load, "load: bad magic 0x%x (LoadError)", exe.Magic)
	}

	codeSec, ok := exe.Section("code")
	if !ok {
		return object.SymbolTable{}, xerr.New(xerr.Load, "load: missing code section (LoadError)")
	}
	if codeSec.Checksum != 0 && codeSec.Checksum != object.Checksum(codeSec.Data) {
		return object.SymbolTable{}, xerr.New(xerr.Load, "load: code section checksum mismatch (LoadError)")
	}
	ram.Load(0, codeSec.Data)

	symSec, ok := exe.Section("symbols")
	if !ok {
		return object.SymbolTable{}, nil
	}
	table, err := object.SymbolTableFromSection(symSec)
	if err != nil {
		return object.SymbolTable{}, xerr.Wrap(xerr.Load, err, "load: decode symbols")
	}
	return table, nil
}

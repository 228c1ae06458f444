package load_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxrt101/xvm-go/internal/bus"
	"github.com/maxrt101/xvm-go/internal/load"
	"github.com/maxrt101/xvm-go/internal/object"
)

func TestLoadCopiesCodeToAddressZero(t *testing.T) {
	exe := object.NewExecutable(1)
	exe.Sections = []object.Section{
		{Label: "code", Type: object.SectionCode, Data: []byte{0x10, 0x01, 0xAA, 0xBB}},
	}

	ram := bus.NewRAM(0, 64)
	_, err := load.Load(exe, ram)
	require.NoError(t, err)
	require.EqualValues(t, 0x10, ram.Read(0))
	require.EqualValues(t, 0xBB, ram.Read(3))
}

func TestLoadRejectsBadMagic(t *testing.T) {
	exe := object.NewExecutable(1)
	exe.Magic = 0x12345678
	exe.Sections = []object.Section{{Label: "code", Type: object.SectionCode, Data: []byte{0}}}

	_, err := load.Load(exe, bus.NewRAM(0, 64))
	require.Error(t, err)
}

func TestLoadRejectsMissingCodeSection(t *testing.T) {
	exe := object.NewExecutable(1)

	_, err := load.Load(exe, bus.NewRAM(0, 64))
	require.Error(t, err)
}

func TestLoadRejectsCorruptChecksum(t *testing.T) {
	sec := object.Section{Label: "code", Type: object.SectionCode, Data: []byte{1, 2, 3}}
	sec.Stamp()
	sec.Data[0] ^= 0xFF

	exe := object.NewExecutable(1)
	exe.Sections = []object.Section{sec}

	_, err := load.Load(exe, bus.NewRAM(0, 64))
	require.Error(t, err)
}

func TestLoadReturnsSymbolTableWhenPresent(t *testing.T) {
	var syms object.SymbolTable
	syms.Add(4, "main", object.FlagLabel|object.FlagEntry, 0)

	exe := object.NewExecutable(1)
	exe.Sections = []object.Section{
		{Label: "code", Type: object.SectionCode, Data: []byte{0, 1}},
		syms.ToSection("symbols"),
	}

	table, err := load.Load(exe, bus.NewRAM(0, 64))
	require.NoError(t, err)
	sym, ok := table.ByLabel("main")
	require.True(t, ok)
	require.True(t, sym.IsEntry())
	require.EqualValues(t, 4, sym.Address)
}

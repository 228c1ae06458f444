package object_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxrt101/xvm-go/internal/object"
)

// from_bytes(to_bytes(E)) == E structurally, for every section type.
func TestExecutableRoundTrip(t *testing.T) {
	exe := object.NewExecutable(1)
	exe.Sections = []object.Section{
		{Label: "code", Type: object.SectionCode, Data: []byte{0x01, 0x02, 0x03}},
		{Label: "symbols", Type: object.SectionSymbols, Data: []byte{}},
		{Label: "relocations", Type: object.SectionRelocations, Data: []byte{}},
	}

	decoded, err := object.FromBytes(exe.ToBytes())
	require.NoError(t, err)
	require.Equal(t, exe.Magic, decoded.Magic)
	require.Equal(t, exe.Version, decoded.Version)
	require.Equal(t, exe.Flags, decoded.Flags)
	require.Len(t, decoded.Sections, len(exe.Sections))
	for i, s := range exe.Sections {
		require.Equal(t, s.Label, decoded.Sections[i].Label)
		require.Equal(t, s.Type, decoded.Sections[i].Type)
		require.Equal(t, s.Data, decoded.Sections[i].Data)
	}
}

func TestFromBytesRejectsTruncatedHeader(t *testing.T) {
	_, err := object.FromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestSymbolTableRoundTrip(t *testing.T) {
	var table object.SymbolTable
	table.Add(10, "foo", object.FlagLabel|object.FlagProcedure, 0)
	table.Add(-1, "bar", object.FlagExtern, 0)
	table.Add(20, "buf", object.FlagVariable, 4)

	sec := table.ToSection("symbols")
	decoded, err := object.SymbolTableFromSection(sec)
	require.NoError(t, err)
	require.Equal(t, table.Symbols, decoded.Symbols)

	sym, ok := decoded.ByLabel("bar")
	require.True(t, ok)
	require.True(t, sym.IsExtern())
	require.Equal(t, int32(-1), sym.Address)
}

func TestRelocationTableRoundTrip(t *testing.T) {
	var table object.RelocationTable
	table.Add("foo", 4, 1)
	table.Add("foo", 20, 2)
	table.Add("bar", 8, 0)

	sec := table.ToSection("relocations")
	decoded, err := object.RelocationTableFromSection(sec)
	require.NoError(t, err)
	require.Equal(t, table.Relocations, decoded.Relocations)

	r, ok := decoded.ByLabel("foo")
	require.True(t, ok)
	require.Len(t, r.Mentions, 2)
}

package object

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SymbolFlags is a bitfield describing what kind of entity a Symbol names.
type SymbolFlags uint16

const (
	FlagLabel     SymbolFlags = 1 << 0
	FlagProcedure SymbolFlags = 1 << 1
	FlagVariable  SymbolFlags = 1 << 2
	FlagEntry     SymbolFlags = 1 << 3
	FlagExtern    SymbolFlags = 1 << 4
)

// Symbol is one entry of a SymbolTable: a named address with a size and a
// bitfield describing its kind. An EXTERN symbol carries Address == -1
// until resolved by the linker.
type Symbol struct {
	Address int32
	Flags   SymbolFlags
	Size    uint16
	Label   string
}

func (s Symbol) IsLabel() bool     { return s.Flags&FlagLabel != 0 }
func (s Symbol) IsProcedure() bool { return s.Flags&FlagProcedure != 0 }
func (s Symbol) IsVariable() bool  { return s.Flags&FlagVariable != 0 }
func (s Symbol) IsEntry() bool     { return s.Flags&FlagEntry != 0 }
func (s Symbol) IsExtern() bool    { return s.Flags&FlagExtern != 0 }

// SymbolTable is a flat, serializable list of Symbols, looked up by address
// or label on demand (the tables are small enough that linear scan is the
// simplest correct implementation, matching the original collaborator's
// lookup contract).
type SymbolTable struct {
	Symbols []Symbol
}

// Add appends a new symbol record.
func (t *SymbolTable) Add(address int32, label string, flags SymbolFlags, size uint16) {
	t.Symbols = append(t.Symbols, Symbol{Address: address, Flags: flags, Size: size, Label: label})
}

// ByAddress returns the symbol at the given address, if any.
func (t SymbolTable) ByAddress(address int32) (Symbol, bool) {
	for _, s := range t.Symbols {
		if s.Address == address {
			return s, true
		}
	}
	return Symbol{}, false
}

// ByLabel returns the symbol with the given label, if any.
func (t SymbolTable) ByLabel(label string) (Symbol, bool) {
	for _, s := range t.Symbols {
		if s.Label == label {
			return s, true
		}
	}
	return Symbol{}, false
}

// HasAddress reports whether any symbol occupies the given address.
func (t SymbolTable) HasAddress(address int32) bool {
	_, ok := t.ByAddress(address)
	return ok
}

// ToSection serializes the table as a SYMBOLS section: repeated
// {i32 address, u16 flags, u16 size, cstring label}.
func (t SymbolTable) ToSection(label string) Section {
	var buf bytes.Buffer
	for _, s := range t.Symbols {
		_ = binary.Write(&buf, binary.LittleEndian, s.Address)
		_ = binary.Write(&buf, binary.LittleEndian, uint16(s.Flags))
		_ = binary.Write(&buf, binary.LittleEndian, s.Size)
		buf.WriteString(s.Label)
		buf.WriteByte(0)
	}
	return Section{Label: label, Type: SectionSymbols, Data: buf.Bytes()}
}

// SymbolTableFromSection decodes a SYMBOLS section back into a table.
func SymbolTableFromSection(s Section) (SymbolTable, error) {
	var table SymbolTable
	data := s.Data
	i := 0
	for i < len(data) {
		if i+8 > len(data) {
			return table, fmt.Errorf("object: truncated symbol entry")
		}
		address := int32(binary.LittleEndian.Uint32(data[i:]))
		flags := SymbolFlags(binary.LittleEndian.Uint16(data[i+4:]))
		size := binary.LittleEndian.Uint16(data[i+6:])
		i += 8

		start := i
		for i < len(data) && data[i] != 0 {
			i++
		}
		if i >= len(data) {
			return table, fmt.Errorf("object: unterminated symbol label")
		}
		label := string(data[start:i])
		i++ // NUL

		table.Symbols = append(table.Symbols, Symbol{Address: address, Flags: flags, Size: size, Label: label})
	}
	return table, nil
}

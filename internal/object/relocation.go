package object

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Mention is one recorded place in a code stream where a symbol's address
// must be patched in once it is resolved. ArgOrdinal identifies which
// argument slot of the instruction header the mention belongs to: 1 or 2
// select that argument (and therefore which nibble of the header's flags
// byte the PIC patcher may rewrite); 0 marks a compound address-expression
// patch that must not touch the flags byte at all.
type Mention struct {
	CodeOffset int32
	ArgOrdinal uint8
}

// Relocation groups every mention of a single label.
type Relocation struct {
	Label    string
	Mentions []Mention
}

// RelocationTable is a flat, serializable list of Relocations.
type RelocationTable struct {
	Relocations []Relocation
}

// Add records a mention of label, creating the Relocation entry if this is
// the first mention seen for it.
func (t *RelocationTable) Add(label string, codeOffset int32, argOrdinal uint8) {
	for i := range t.Relocations {
		if t.Relocations[i].Label == label {
			t.Relocations[i].Mentions = append(t.Relocations[i].Mentions, Mention{codeOffset, argOrdinal})
			return
		}
	}
	t.Relocations = append(t.Relocations, Relocation{
		Label:    label,
		Mentions: []Mention{{codeOffset, argOrdinal}},
	})
}

// ByLabel returns the relocation entry for label, if any.
func (t RelocationTable) ByLabel(label string) (Relocation, bool) {
	for _, r := range t.Relocations {
		if r.Label == label {
			return r, true
		}
	}
	return Relocation{}, false
}

// ToSection serializes the table as a RELOCATIONS section: repeated
// {cstring label, u32 n_mentions, (i32 code_offset, u8 arg_ordinal)[n]}.
func (t RelocationTable) ToSection(label string) Section {
	var buf bytes.Buffer
	for _, r := range t.Relocations {
		buf.WriteString(r.Label)
		buf.WriteByte(0)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(r.Mentions)))
		for _, m := range r.Mentions {
			_ = binary.Write(&buf, binary.LittleEndian, m.CodeOffset)
			buf.WriteByte(m.ArgOrdinal)
		}
	}
	return Section{Label: label, Type: SectionRelocations, Data: buf.Bytes()}
}

// RelocationTableFromSection decodes a RELOCATIONS section back into a table.
func RelocationTableFromSection(s Section) (RelocationTable, error) {
	var table RelocationTable
	data := s.Data
	i := 0
	for i < len(data) {
		start := i
		for i < len(data) && data[i] != 0 {
			i++
		}
		if i >= len(data) {
			return table, fmt.Errorf("object: unterminated relocation label")
		}
		label := string(data[start:i])
		i++ // NUL

		if i+4 > len(data) {
			return table, fmt.Errorf("object: truncated relocation count for %q", label)
		}
		n := binary.LittleEndian.Uint32(data[i:])
		i += 4

		mentions := make([]Mention, 0, n)
		for j := uint32(0); j < n; j++ {
			if i+5 > len(data) {
				return table, fmt.Errorf("object: truncated mention for %q", label)
			}
			offset := int32(binary.LittleEndian.Uint32(data[i:]))
			ordinal := data[i+4]
			mentions = append(mentions, Mention{offset, ordinal})
			i += 5
		}
		table.Relocations = append(table.Relocations, Relocation{Label: label, Mentions: mentions})
	}
	return table, nil
}

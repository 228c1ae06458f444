// Package link implements the xvm linker: it concatenates the code
// sections of a list of assembled objects, offsets their symbol and
// relocation tables to match, resolves extern references against symbols
// defined elsewhere in the list, and patches every mention that can be
// resolved — leaving only genuinely cross-link externs in the output
// relocation table for a further link pass.
package link

import (
	"github.com/maxrt101/xvm-go/internal/isa"
	"github.com/maxrt101/xvm-go/internal/object"
	"github.com/maxrt101/xvm-go/internal/xerr"
)

// Options configures one link run.
type Options struct {
	PIC bool
}

const argSize = 4

// Link merges objs in order into a single executable containing exactly a
// code, symbols and relocations section.
func Link(objs []object.Executable, opts Options) (object.Executable, error) {
	if len(objs) == 0 {
		return object.Executable{}, xerr.New(xerr.Link, "link: no input objects")
	}

	var code []byte
	var bases []int32
	var symTables []object.SymbolTable
	var relTables []object.RelocationTable

	for i, o := range objs {
		codeSec, ok := o.Section("code")
		if !ok {
			return object.Executable{}, xerr.New(xerr.Link, "link: input %d has no code section", i)
		}
		symSec, ok := o.Section("symbols")
		if !ok {
			return object.Executable{}, xerr.New(xerr.Link, "link: input %d missing symbols section (MissingSymbolsSection)", i)
		}
		relSec, ok := o.Section("relocations")
		if !ok {
			return object.Executable{}, xerr.New(xerr.Link, "link: input %d missing relocations section (MissingRelocationsSection)", i)
		}

		symTable, err := object.SymbolTableFromSection(symSec)
		if err != nil {
			return object.Executable{}, xerr.Wrap(xerr.Link, err, "link: input %d: decode symbols", i)
		}
		relTable, err := object.RelocationTableFromSection(relSec)
		if err != nil {
			return object.Executable{}, xerr.Wrap(xerr.Link, err, "link: input %d: decode relocations", i)
		}

		bases = append(bases, int32(len(code)))
		code = append(code, codeSec.Data...)
		symTables = append(symTables, symTable)
		relTables = append(relTables, relTable)
	}

	globalSyms, err := mergeSymbols(symTables, bases)
	if err != nil {
		return object.Executable{}, err
	}
	globalRelocs := mergeRelocations(relTables, bases)

	resolved := splitExterns(globalSyms)

	remaining, err := patchResolvable(code, globalRelocs, resolved, opts)
	if err != nil {
		return object.Executable{}, err
	}

	out := object.NewExecutable(1)
	out.Sections = append(out.Sections,
		object.Section{Label: "code", Type: object.SectionCode, Data: code},
		resolved.ToSection("symbols"),
		remaining.ToSection("relocations"),
	)
	for i := range out.Sections {
		out.Sections[i].Stamp()
	}
	return out, nil
}

// mergeSymbols offsets every non-extern symbol's address by its object's
// code base and fails on a duplicate non-extern label (DuplicateDefinition).
func mergeSymbols(tables []object.SymbolTable, bases []int32) (object.SymbolTable, error) {
	var merged object.SymbolTable
	seen := map[string]bool{}

	for i, t := range tables {
		for _, s := range t.Symbols {
			sym := s
			if !sym.IsExtern() {
				sym.Address += bases[i]
				if seen[sym.Label] {
					return merged, xerr.New(xerr.Link, "link: duplicate definition of %q (DuplicateDefinition)", sym.Label)
				}
				seen[sym.Label] = true
			}
			merged.Symbols = append(merged.Symbols, sym)
		}
	}
	return merged, nil
}

func mergeRelocations(tables []object.RelocationTable, bases []int32) object.RelocationTable {
	var merged object.RelocationTable
	for i, t := range tables {
		for _, r := range t.Relocations {
			for _, m := range r.Mentions {
				merged.Add(r.Label, m.CodeOffset+bases[i], m.ArgOrdinal)
			}
		}
	}
	return merged
}

// splitExterns drops every EXTERN symbol whose label also names a
// non-extern symbol in the merged table, returning the surviving table.
// EXTERN symbols with no definition anywhere in the input list are kept,
// preserved for a further link pass.
func splitExterns(merged object.SymbolTable) object.SymbolTable {
	defined := map[string]bool{}
	for _, s := range merged.Symbols {
		if !s.IsExtern() {
			defined[s.Label] = true
		}
	}
	var resolved object.SymbolTable
	for _, s := range merged.Symbols {
		if s.IsExtern() && defined[s.Label] {
			continue
		}
		resolved.Symbols = append(resolved.Symbols, s)
	}
	return resolved
}

// patchResolvable writes every relocation whose label resolves to a
// non-extern symbol into code, and returns the relocation table of what's
// left (labels still extern after the merge).
func patchResolvable(code []byte, relocs object.RelocationTable, syms object.SymbolTable, opts Options) (object.RelocationTable, error) {
	var remaining object.RelocationTable

	for _, r := range relocs.Relocations {
		sym, ok := syms.ByLabel(r.Label)
		if !ok || sym.IsExtern() {
			for _, m := range r.Mentions {
				remaining.Add(r.Label, m.CodeOffset, m.ArgOrdinal)
			}
			continue
		}
		for _, m := range r.Mentions {
			if err := patchMention(code, m, sym.Address, opts); err != nil {
				return remaining, err
			}
		}
	}
	return remaining, nil
}

// patchMention applies the same PIC/absolute patch rule as the assembler's
// patch phase (internal/assemble/patch.go), operating directly on the
// merged code buffer.
func patchMention(code []byte, m object.Mention, target int32, opts Options) error {
	offset := int(m.CodeOffset)
	if offset+argSize > len(code) {
		return xerr.New(xerr.Link, "link: mention offset %d out of range", offset)
	}

	if opts.PIC && m.ArgOrdinal != 0 {
		headerOff := offset - 2
		if m.ArgOrdinal == 2 {
			headerOff = offset - 6
		}
		if headerOff < 0 || headerOff >= len(code) {
			return xerr.New(xerr.Link, "link: header offset out of range for mention at %d", offset)
		}
		delta := target - m.CodeOffset
		mode := isa.PRO
		if delta < 0 {
			mode = isa.NRO
			delta = -delta
		}
		flags := code[headerOff]
		mode1, mode2 := isa.ExtractMode1(flags), isa.ExtractMode2(flags)
		if m.ArgOrdinal == 1 {
			mode1 = mode
		} else {
			mode2 = mode
		}
		code[headerOff] = isa.EncodeFlags(mode1, mode2)
		isa.AddInt32(code, offset, delta)
		return nil
	}

	isa.AddInt32(code, offset, target)
	return nil
}

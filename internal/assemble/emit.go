package assemble

import (
	"sort"

	"github.com/maxrt101/xvm-go/internal/object"
)

// shouldExport reports whether a declared name should appear in the output
// symbol table: %export * exports everything not explicitly %unexport-ed,
// %export NAME exports it regardless of the default.
func (a *Assembler) shouldExport(name string) bool {
	if a.unexported[name] {
		return false
	}
	if a.exported[name] {
		return true
	}
	return a.exportAll
}

// emit builds the object's code/symbols/relocations sections from the
// patched code buffer and the assembler's label/variable/extern records.
func (a *Assembler) emit() object.Executable {
	exe := object.NewExecutable(1)
	exe.Sections = append(exe.Sections, object.Section{
		Label: "code",
		Type:  object.SectionCode,
		Data:  a.code,
	})

	if a.opts.IncludeSymbols {
		exe.Sections = append(exe.Sections, a.buildSymbolTable().ToSection("symbols"))
	}

	exe.Sections = append(exe.Sections, a.buildRelocationTable().ToSection("relocations"))

	for i := range exe.Sections {
		exe.Sections[i].Stamp()
	}
	return exe
}

func (a *Assembler) buildSymbolTable() object.SymbolTable {
	var table object.SymbolTable

	for _, name := range a.labelOrder {
		if !a.shouldExport(name) {
			continue
		}
		lbl := a.labels[name]
		flags := object.FlagLabel
		if lbl.IsProcedure {
			flags |= object.FlagProcedure
		}
		table.Add(lbl.Address, name, flags, 0)
	}

	for _, name := range a.varOrder {
		if !a.shouldExport(name) {
			continue
		}
		v := a.vars[name]
		table.Add(v.Address, name, object.FlagVariable, uint16(v.Count))
	}

	for name := range a.externs {
		table.Add(-1, name, object.FlagExtern, 0)
	}

	sort.Slice(table.Symbols, func(i, j int) bool {
		return table.Symbols[i].Address < table.Symbols[j].Address
	})
	return table
}

// buildRelocationTable emits exactly the mentions that still reference an
// unresolved extern — every other mention was patched directly into the
// code buffer and needs no further relocation downstream.
func (a *Assembler) buildRelocationTable() object.RelocationTable {
	var table object.RelocationTable
	for name, mentions := range a.labelMention {
		if !a.externs[name] {
			continue
		}
		for _, m := range mentions {
			table.Add(name, m.CodeOffset, m.ArgOrdinal)
		}
	}
	return table
}

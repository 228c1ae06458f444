package assemble

import (
	"github.com/maxrt101/xvm-go/internal/isa"
	"github.com/maxrt101/xvm-go/internal/object"
	"github.com/maxrt101/xvm-go/internal/xerr"
)

// patch resolves every recorded label/variable mention against the final
// code buffer. It must run after the whole source has been parsed, since a
// mention may refer to a label or variable declared later in the file.
func (a *Assembler) patch() error {
	for name := range a.callTargets {
		if lbl, ok := a.labels[name]; ok {
			lbl.IsProcedure = true
		}
	}

	if err := a.patchPlainMentions(); err != nil {
		return err
	}
	return a.patchVarMentions()
}

// patchPlainMentions resolves every non-deref label/address-of mention,
// preferring a variable definition over a label of the same name (the two
// namespaces are otherwise disjoint in well-formed source).
func (a *Assembler) patchPlainMentions() error {
	for name, mentions := range a.labelMention {
		if v, ok := a.vars[name]; ok {
			for _, m := range mentions {
				if err := a.patchMention(m, v.Address); err != nil {
					return err
				}
			}
			continue
		}
		if lbl, ok := a.labels[name]; ok {
			for _, m := range mentions {
				if err := a.patchMention(m, lbl.Address); err != nil {
					return err
				}
			}
			continue
		}
		if a.externs[name] {
			continue // left for the linker to resolve
		}
		return xerr.New(xerr.Resolve, "%s: unresolved symbol %q", a.curFile(), name)
	}
	return nil
}

// patchMention writes the target address into one argument slot, applying
// the PIC addressing-mode rewrite when enabled and the mention isn't a
// compound offset-expression patch (ArgOrdinal 0).
func (a *Assembler) patchMention(m object.Mention, target int32) error {
	offset := int(m.CodeOffset)
	if offset+argSize > len(a.code) {
		return xerr.New(xerr.Resolve, "%s: mention offset %d out of range", a.curFile(), offset)
	}

	if a.opts.PIC && m.ArgOrdinal != 0 {
		headerOff := offset - 2
		if m.ArgOrdinal == 2 {
			headerOff = offset - 6
		}
		if headerOff < 0 || headerOff >= len(a.code) {
			return xerr.New(xerr.Resolve, "%s: header offset out of range for mention at %d", a.curFile(), offset)
		}
		delta := target - m.CodeOffset
		mode := isa.PRO
		if delta < 0 {
			mode = isa.NRO
			delta = -delta
		}
		flags := a.code[headerOff]
		mode1, mode2 := isa.ExtractMode1(flags), isa.ExtractMode2(flags)
		if m.ArgOrdinal == 1 {
			mode1 = mode
		} else {
			mode2 = mode
		}
		a.code[headerOff] = isa.EncodeFlags(mode1, mode2)
		isa.AddInt32(a.code, offset, delta)
		return nil
	}

	isa.AddInt32(a.code, offset, target)
	return nil
}

// patchVarMentions resolves every variable mention, including `push $name`
// auto-deref sites, whose patch additionally rewrites the two placeholder
// bytes immediately after the address slot into a derefN instruction.
func (a *Assembler) patchVarMentions() error {
	for name, mentions := range a.varMention {
		v, ok := a.vars[name]
		if !ok {
			return xerr.New(xerr.Resolve, "%s: unresolved variable %q", a.curFile(), name)
		}
		for _, m := range mentions {
			plain := object.Mention{CodeOffset: m.CodeOffset, ArgOrdinal: m.ArgOrdinal}
			if err := a.patchMention(plain, v.Address); err != nil {
				return err
			}
			if m.IsDeref {
				derefOff := int(m.CodeOffset) + argSize
				if derefOff+2 > len(a.code) {
					return xerr.New(xerr.Resolve, "%s: deref site out of range for %q", a.curFile(), name)
				}
				a.code[derefOff] = isa.EncodeFlags(isa.STK, isa.NONE)
				a.code[derefOff+1] = byte(derefOpcodeFor(v.Type))
			}
		}
	}
	return nil
}

func derefOpcodeFor(t VarType) isa.Opcode {
	switch t.derefWidth() {
	case 16:
		return isa.DEREF16
	case 32:
		return isa.DEREF32
	default:
		return isa.DEREF8
	}
}

// Package assemble implements the xvm two-pass assembler: tokenize,
// macro-expand, parse mnemonics/directives into a code buffer plus
// label/variable mention records, then patch every mention (with optional
// PIC addressing-mode rewriting) before emitting the object's sections.
package assemble

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/maxrt101/xvm-go/internal/isa"
	"github.com/maxrt101/xvm-go/internal/object"
	"github.com/maxrt101/xvm-go/internal/xerr"
)

// Options configures one assembly run.
type Options struct {
	PIC            bool
	IncludeSymbols bool
	IncludeDirs    []string
}

const argSize = 4

// Assembler owns the token stream, label/variable maps, and the
// accumulating code buffer for exactly one translation unit. Nothing about
// it is safe for concurrent use.
type Assembler struct {
	opts Options

	lexStack  []*lexer
	fileStack []string
	pending   []Token // macro-expansion splice queue
	replay    []Token // tokens pushed back by an over-reading scanner
	tokBuf    []Token // 1-token lookahead buffer
	included  map[string]bool

	defines map[string][]Token
	syscall map[string]int32

	code []byte

	labels       map[string]*Label
	labelOrder   []string
	labelMention map[string][]object.Mention
	callTargets  map[string]bool

	vars       map[string]*Variable
	varOrder   []string
	varMention map[string][]VarMention

	externs map[string]bool

	exportAll  bool
	exported   map[string]bool
	unexported map[string]bool

	errs []error
}

// Assemble runs the full pipeline over source and returns the resulting
// object file (code + optional symbols + relocations sections).
func Assemble(source []byte, filename string, opts Options) (object.Executable, error) {
	a := &Assembler{
		opts:         opts,
		included:     map[string]bool{filename: true},
		defines:      map[string][]Token{},
		syscall:      map[string]int32{},
		labels:       map[string]*Label{},
		labelMention: map[string][]object.Mention{},
		callTargets:  map[string]bool{},
		vars:         map[string]*Variable{},
		varMention:   map[string][]VarMention{},
		externs:      map[string]bool{},
		exported:     map[string]bool{},
		unexported:   map[string]bool{},
	}
	a.lexStack = append(a.lexStack, newLexer(source, filename))
	a.fileStack = append(a.fileStack, filename)

	a.run()

	if len(a.errs) > 0 {
		return object.Executable{}, errors.Join(a.errs...)
	}

	if err := a.patch(); err != nil {
		return object.Executable{}, err
	}

	return a.emit(), nil
}

func (a *Assembler) curFile() string {
	if len(a.fileStack) == 0 {
		return ""
	}
	return a.fileStack[len(a.fileStack)-1]
}

func (a *Assembler) errorf(line int, format string, args ...any) {
	a.errs = append(a.errs, xerr.At(xerr.Parse, a.curFile(), line, format, args...))
}

// ---- token plumbing -------------------------------------------------------

// lexNext pulls one token directly from the include-file stack (or the
// replay buffer of an over-reading scanner), with no macro expansion and no
// pending-splice queue. Directive parsing and %ifdef/%ifndef skipping both
// use this: directive arguments are never macro-expanded.
func (a *Assembler) lexNext() (Token, error) {
	if len(a.replay) > 0 {
		t := a.replay[0]
		a.replay = a.replay[1:]
		return t, nil
	}
	for {
		if len(a.lexStack) == 0 {
			return Token{Kind: TokEOF}, nil
		}
		top := a.lexStack[len(a.lexStack)-1]
		t, err := top.Next()
		if err != nil {
			return Token{}, err
		}
		if t.Kind == TokEOF {
			if len(a.lexStack) == 1 {
				return t, nil
			}
			a.lexStack = a.lexStack[:len(a.lexStack)-1]
			a.fileStack = a.fileStack[:len(a.fileStack)-1]
			continue
		}
		return t, nil
	}
}

// rawNext applies the pending macro-splice queue and define expansion on
// top of lexNext. A token spliced in by a define expansion is returned
// as-is without being checked against defines again — expansion is
// non-recursive at the splice site.
func (a *Assembler) rawNext() (Token, error) {
	for {
		if len(a.pending) > 0 {
			t := a.pending[0]
			a.pending = a.pending[1:]
			return t, nil
		}
		t, err := a.lexNext()
		if err != nil {
			return Token{}, err
		}
		if t.Kind == TokIdent {
			if seq, ok := a.defines[t.Text]; ok {
				// Spliced tokens take the line of the name they replace, so
				// the same-line operand test sees them where the name stood.
				spliced := make([]Token, len(seq))
				for i, s := range seq {
					s.Line = t.Line
					spliced[i] = s
				}
				a.pending = append(spliced, a.pending...)
				continue
			}
		}
		return t, nil
	}
}

func (a *Assembler) next() (Token, error) {
	if len(a.tokBuf) > 0 {
		t := a.tokBuf[0]
		a.tokBuf = a.tokBuf[1:]
		return t, nil
	}
	return a.rawNext()
}

func (a *Assembler) peek() (Token, error) {
	if len(a.tokBuf) == 0 {
		t, err := a.rawNext()
		if err != nil {
			return Token{}, err
		}
		a.tokBuf = append(a.tokBuf, t)
	}
	return a.tokBuf[0], nil
}

// ---- main loop -------------------------------------------------------

func (a *Assembler) run() {
	for {
		tok, err := a.next()
		if err != nil {
			a.errs = append(a.errs, err)
			return
		}
		if tok.Kind == TokEOF {
			return
		}
		if tok.Kind == TokPunct && tok.Text == "%" {
			if err := a.directive(); err != nil {
				a.errs = append(a.errs, err)
				return
			}
			continue
		}
		if tok.Kind == TokIdent {
			if err := a.statement(tok); err != nil {
				a.errs = append(a.errs, err)
			}
			continue
		}
		a.errorf(tok.Line, "unexpected token %q", tok.String())
	}
}

// statement handles one `NAME:` label declaration or one mnemonic.
func (a *Assembler) statement(tok Token) error {
	nxt, err := a.peek()
	if err != nil {
		return err
	}
	if nxt.Kind == TokPunct && nxt.Text == ":" {
		_, _ = a.next()
		return a.declareLabel(tok.Text, tok.Line)
	}
	if op, ok := isa.LookupOpcode(tok.Text); ok {
		return a.instruction(op, tok.Line)
	}
	a.errorf(tok.Line, "unknown mnemonic %q", tok.Text)
	return nil
}

func (a *Assembler) declareLabel(name string, line int) error {
	if _, exists := a.labels[name]; exists {
		a.errorf(line, "duplicate label %q", name)
		return nil
	}
	a.labels[name] = &Label{Address: int32(len(a.code))}
	a.labelOrder = append(a.labelOrder, name)
	return nil
}

// ---- directives -------------------------------------------------------

func (a *Assembler) directive() error {
	kw, err := a.lexNext()
	if err != nil {
		return err
	}
	return a.directiveNamed(kw)
}

// directiveNamed dispatches on an already-read directive keyword. Split out
// of directive so the active-%ifdef-branch scanner, which has to look at the
// keyword itself to spot its closing %else/%endif, can hand non-closing
// directives straight to the dispatcher.
func (a *Assembler) directiveNamed(kw Token) error {
	if kw.Kind != TokIdent {
		a.errorf(kw.Line, "expected directive name after %%")
		return nil
	}
	switch kw.Text {
	case "define":
		return a.dDefine(kw.Line)
	case "undef":
		return a.dUndef(kw.Line)
	case "ifdef":
		return a.dIf(kw.Line, true)
	case "ifndef":
		return a.dIf(kw.Line, false)
	case "else", "endif":
		a.errorf(kw.Line, "%%%s without matching %%ifdef/%%ifndef", kw.Text)
		return nil
	case "include":
		return a.dInclude(kw.Line)
	case "def":
		return a.dDef(kw.Line)
	case "data":
		return a.dData(kw.Line)
	case "repeat":
		return a.dRepeat(kw.Line)
	case "repeat_until":
		return a.dRepeatUntil(kw.Line)
	case "syscall":
		return a.dSyscall(kw.Line)
	case "export":
		return a.dExport(kw.Line)
	case "unexport":
		return a.dUnexport(kw.Line)
	case "extern":
		return a.dExtern(kw.Line)
	default:
		a.errorf(kw.Line, "unknown directive %%%s", kw.Text)
		return nil
	}
}

func (a *Assembler) restOfLineTokens(line int) ([]Token, error) {
	var toks []Token
	for {
		t, err := a.lexNext()
		if err != nil {
			return nil, err
		}
		if t.Kind == TokEOF || t.Line != line {
			a.pushback(t)
			break
		}
		toks = append(toks, t)
	}
	return toks, nil
}

// pushback returns a raw (post-lexNext) token to the front of processing.
// Only used by directive argument scanners that over-read by one token. The
// replayed token goes back through lexNext, so it is still subject to
// define expansion if the main loop is what reads it next.
func (a *Assembler) pushback(t Token) {
	a.replay = append([]Token{t}, a.replay...)
}

func (a *Assembler) dDefine(line int) error {
	name, err := a.lexNext()
	if err != nil {
		return err
	}
	if name.Kind != TokIdent {
		a.errorf(line, "%%define requires a name")
		return nil
	}
	toks, err := a.restOfLineTokens(name.Line)
	if err != nil {
		return err
	}
	a.defines[name.Text] = toks
	return nil
}

func (a *Assembler) dUndef(line int) error {
	name, err := a.lexNext()
	if err != nil {
		return err
	}
	delete(a.defines, name.Text)
	return nil
}

func (a *Assembler) dIf(line int, wantDefined bool) error {
	name, err := a.lexNext()
	if err != nil {
		return err
	}
	_, defined := a.defines[name.Text]
	active := defined == wantDefined
	if active {
		return a.runActiveBranchUntilElseOrEndif()
	}
	hitElse, err := a.skipUntilElseOrEndif()
	if err != nil {
		return err
	}
	if hitElse {
		return a.runActiveBranchUntilElseOrEndif()
	}
	return nil
}

// runActiveBranchUntilElseOrEndif interleaves normal statement parsing with
// watching (at depth 0) for this branch's closing %else/%endif.
func (a *Assembler) runActiveBranchUntilElseOrEndif() error {
	for {
		tok, err := a.next()
		if err != nil {
			return err
		}
		if tok.Kind == TokEOF {
			return xerr.New(xerr.Parse, "%s: missing %%endif", a.curFile())
		}
		if tok.Kind == TokPunct && tok.Text == "%" {
			kw, err := a.lexNext()
			if err != nil {
				return err
			}
			switch kw.Text {
			case "ifdef", "ifndef":
				if err := a.dIf(kw.Line, kw.Text == "ifdef"); err != nil {
					return err
				}
				continue
			case "else":
				return a.skipUntilEndif()
			case "endif":
				return nil
			default:
				if err := a.directiveNamed(kw); err != nil {
					return err
				}
				continue
			}
		}
		if tok.Kind == TokIdent {
			if err := a.statement(tok); err != nil {
				a.errs = append(a.errs, err)
			}
			continue
		}
		a.errorf(tok.Line, "unexpected token %q", tok.String())
	}
}

func (a *Assembler) skipUntilElseOrEndif() (bool, error) {
	depth := 0
	for {
		t, err := a.lexNext()
		if err != nil {
			return false, err
		}
		if t.Kind == TokEOF {
			return false, xerr.New(xerr.Parse, "%s: missing %%endif", a.curFile())
		}
		if t.Kind == TokPunct && t.Text == "%" {
			kw, err := a.lexNext()
			if err != nil {
				return false, err
			}
			switch kw.Text {
			case "ifdef", "ifndef":
				depth++
			case "else":
				if depth == 0 {
					return true, nil
				}
			case "endif":
				if depth == 0 {
					return false, nil
				}
				depth--
			}
		}
	}
}

func (a *Assembler) skipUntilEndif() error {
	depth := 0
	for {
		t, err := a.lexNext()
		if err != nil {
			return err
		}
		if t.Kind == TokEOF {
			return xerr.New(xerr.Parse, "%s: missing %%endif", a.curFile())
		}
		if t.Kind == TokPunct && t.Text == "%" {
			kw, err := a.lexNext()
			if err != nil {
				return err
			}
			switch kw.Text {
			case "ifdef", "ifndef":
				depth++
			case "endif":
				if depth == 0 {
					return nil
				}
				depth--
			}
		}
	}
}

func (a *Assembler) dInclude(line int) error {
	file, err := a.lexNext()
	if err != nil {
		return err
	}
	if file.Kind != TokString {
		a.errorf(line, "%%include requires a quoted filename")
		return nil
	}
	if a.included[file.Text] {
		return nil
	}
	data, path, err := a.readInclude(file.Text)
	if err != nil {
		a.errorf(line, "%%include %q: %v", file.Text, err)
		return nil
	}
	a.included[file.Text] = true
	a.lexStack = append(a.lexStack, newLexer(data, path))
	a.fileStack = append(a.fileStack, path)
	return nil
}

func (a *Assembler) readInclude(name string) ([]byte, string, error) {
	candidates := append([]string{"."}, a.opts.IncludeDirs...)
	for _, dir := range candidates {
		p := filepath.Join(dir, name)
		if data, err := os.ReadFile(p); err == nil {
			return data, p, nil
		}
	}
	return nil, "", xerr.New(xerr.IO, "not found in search path")
}

func (a *Assembler) dSyscall(line int) error {
	name, err := a.lexNext()
	if err != nil {
		return err
	}
	num, err := a.lexNext()
	if err != nil {
		return err
	}
	if name.Kind != TokIdent || num.Kind != TokNumber {
		a.errorf(line, "%%syscall requires NAME NUMBER")
		return nil
	}
	a.syscall[name.Text] = int32(num.Num)
	return nil
}

func (a *Assembler) dExport(line int) error {
	for {
		t, err := a.lexNext()
		if err != nil {
			return err
		}
		if t.Line == line && t.Kind == TokPunct && t.Text == "*" {
			a.exportAll = true
			continue
		}
		if t.Kind != TokIdent || t.Line != line {
			a.pushback(t)
			return nil
		}
		a.exported[t.Text] = true
	}
}

func (a *Assembler) dUnexport(line int) error {
	for {
		t, err := a.lexNext()
		if err != nil {
			return err
		}
		if t.Kind != TokIdent || t.Line != line {
			a.pushback(t)
			return nil
		}
		a.unexported[t.Text] = true
	}
}

func (a *Assembler) dExtern(line int) error {
	for {
		t, err := a.lexNext()
		if err != nil {
			return err
		}
		if t.Kind != TokIdent || t.Line != line {
			a.pushback(t)
			return nil
		}
		a.externs[t.Text] = true
	}
}

func (a *Assembler) varType(tok Token) (VarType, bool) {
	switch tok.Text {
	case "i8":
		return TypeI8, true
	case "i16":
		return TypeI16, true
	case "i32":
		return TypeI32, true
	case "str":
		return TypeStr, true
	default:
		return 0, false
	}
}

func (a *Assembler) dDef(line int) error {
	typTok, err := a.lexNext()
	if err != nil {
		return err
	}
	typ, ok := a.varType(typTok)
	if !ok {
		a.errorf(line, "unknown variable type %q", typTok.Text)
		return nil
	}
	name, err := a.lexNext()
	if err != nil {
		return err
	}
	val, err := a.lexNext()
	if err != nil {
		return err
	}
	addr := int32(len(a.code))
	count := a.emitVarValue(typ, val)
	a.vars[name.Text] = &Variable{Name: name.Text, Address: addr, Type: typ, Count: count}
	a.varOrder = append(a.varOrder, name.Text)
	return nil
}

func (a *Assembler) dData(line int) error {
	typTok, err := a.lexNext()
	if err != nil {
		return err
	}
	typ, ok := a.varType(typTok)
	if !ok {
		a.errorf(line, "unknown variable type %q", typTok.Text)
		return nil
	}
	name, err := a.lexNext()
	if err != nil {
		return err
	}
	addr := int32(len(a.code))
	count := 0
	for {
		t, err := a.lexNext()
		if err != nil {
			return err
		}
		if t.Line != name.Line || (t.Kind != TokNumber && t.Kind != TokString && t.Kind != TokChar) {
			a.pushback(t)
			break
		}
		a.emitVarValue(typ, t)
		count++
	}
	a.vars[name.Text] = &Variable{Name: name.Text, Address: addr, Type: typ, Count: count}
	a.varOrder = append(a.varOrder, name.Text)
	return nil
}

// emitVarValue writes one literal of the given type into the code buffer
// and returns the element count it represents (>1 only for a string's
// bytes when Count is measured in bytes rather than elements).
func (a *Assembler) emitVarValue(typ VarType, tok Token) int {
	switch typ {
	case TypeI8:
		a.code = append(a.code, byte(tok.Num))
		return 1
	case TypeI16:
		b := make([]byte, 2)
		isa.WriteInt16(b, 0, int16(tok.Num))
		a.code = append(a.code, b...)
		return 1
	case TypeI32:
		a.appendInt32(int32(tok.Num))
		return 1
	case TypeStr:
		a.code = append(a.code, []byte(tok.Text)...)
		a.code = append(a.code, 0)
		return len(tok.Text) + 1
	default:
		return 0
	}
}

func (a *Assembler) dRepeat(line int) error {
	typTok, err := a.lexNext()
	if err != nil {
		return err
	}
	typ, ok := a.varType(typTok)
	if !ok {
		a.errorf(line, "unknown repeat type %q", typTok.Text)
		return nil
	}
	val, err := a.lexNext()
	if err != nil {
		return err
	}
	count, err := a.lexNext()
	if err != nil {
		return err
	}
	for i := int64(0); i < count.Num; i++ {
		a.emitVarValue(typ, val)
	}
	return nil
}

func (a *Assembler) dRepeatUntil(line int) error {
	typTok, err := a.lexNext()
	if err != nil {
		return err
	}
	typ, ok := a.varType(typTok)
	if !ok {
		a.errorf(line, "unknown repeat type %q", typTok.Text)
		return nil
	}
	val, err := a.lexNext()
	if err != nil {
		return err
	}
	until, err := a.lexNext()
	if err != nil {
		return err
	}
	for int64(len(a.code)) < until.Num {
		a.emitVarValue(typ, val)
	}
	return nil
}

func (a *Assembler) appendInt32(v int32) {
	b := make([]byte, argSize)
	isa.WriteInt32(b, 0, v)
	a.code = append(a.code, b...)
}

package assemble_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxrt101/xvm-go/internal/assemble"
	"github.com/maxrt101/xvm-go/internal/isa"
	"github.com/maxrt101/xvm-go/internal/object"
)

func codeOf(t *testing.T, source string, opts assemble.Options) []byte {
	t.Helper()
	exe, err := assemble.Assemble([]byte(source), "t.asm", opts)
	require.NoError(t, err)
	sec, ok := exe.Section("code")
	require.True(t, ok)
	return sec.Data
}

func TestStackFormAndInlineFormHeaders(t *testing.T) {
	code := codeOf(t, "push\npush 1\nhalt\n", assemble.Options{})
	// Bare push: STK in the arg1 nibble, 2-byte instruction.
	require.Equal(t, isa.EncodeFlags(isa.STK, isa.NONE), code[0])
	require.Equal(t, byte(isa.PUSH), code[1])
	// push 1: IMM arg1, 4-byte literal follows.
	require.Equal(t, isa.EncodeFlags(isa.IMM, isa.NONE), code[2])
	require.Equal(t, byte(isa.PUSH), code[3])
	require.EqualValues(t, 1, isa.ReadInt32(code, 4))
}

func TestNumericLiteralBases(t *testing.T) {
	code := codeOf(t, "push 0x10\npush 0b101\npush 'A'\nhalt\n", assemble.Options{})
	require.EqualValues(t, 0x10, isa.ReadInt32(code, 2))
	require.EqualValues(t, 5, isa.ReadInt32(code, 8))
	require.EqualValues(t, 'A', isa.ReadInt32(code, 14))
}

func TestDefineExpansion(t *testing.T) {
	expanded := codeOf(t, "%define SIZE 3\npush SIZE\nhalt\n", assemble.Options{})
	literal := codeOf(t, "push 3\nhalt\n", assemble.Options{})
	require.Equal(t, literal, expanded)
}

func TestDefineExpandsFirstTokenAfterDirectiveLine(t *testing.T) {
	// The token that terminates a %define's rest-of-line scan is the first
	// token of the next statement; it must still be macro-expanded.
	expanded := codeOf(t, "%define PAD nop\n%define GO halt\nGO\n", assemble.Options{})
	literal := codeOf(t, "halt\n", assemble.Options{})
	require.Equal(t, literal, expanded)
}

func TestUndefStopsExpansion(t *testing.T) {
	_, err := assemble.Assemble([]byte("%define X halt\n%undef X\nX\n"), "t.asm", assemble.Options{})
	require.Error(t, err) // X is no longer defined, and is not a mnemonic
}

func TestIfdefTakesDefinedBranch(t *testing.T) {
	src := `
%define FEATURE
%ifdef FEATURE
push 1
%else
push 2
%endif
halt
`
	require.Equal(t, codeOf(t, "push 1\nhalt\n", assemble.Options{}), codeOf(t, src, assemble.Options{}))
}

func TestIfndefTakesElseBranchWhenDefined(t *testing.T) {
	src := `
%define FEATURE
%ifndef FEATURE
push 1
%else
push 2
%endif
halt
`
	require.Equal(t, codeOf(t, "push 2\nhalt\n", assemble.Options{}), codeOf(t, src, assemble.Options{}))
}

func TestNestedDefineInsideActiveBranch(t *testing.T) {
	src := `
%define OUTER
%ifdef OUTER
%define VALUE 7
%endif
push VALUE
halt
`
	require.Equal(t, codeOf(t, "push 7\nhalt\n", assemble.Options{}), codeOf(t, src, assemble.Options{}))
}

func TestSkippedBranchEmitsNothing(t *testing.T) {
	src := `
%ifdef MISSING
push 1
push 2
push 3
%endif
halt
`
	require.Equal(t, codeOf(t, "halt\n", assemble.Options{}), codeOf(t, src, assemble.Options{}))
}

func TestDefVariableEmitsInitializer(t *testing.T) {
	code := codeOf(t, "halt\n%def i32 answer 42\n", assemble.Options{})
	require.EqualValues(t, 42, isa.ReadInt32(code, 2))
}

func TestDataVariableEmitsEveryValue(t *testing.T) {
	code := codeOf(t, "halt\n%data i8 bytes 1 2 3\n", assemble.Options{})
	require.Equal(t, []byte{1, 2, 3}, code[2:5])
}

func TestStrVariableIsNulTerminated(t *testing.T) {
	code := codeOf(t, "halt\n%def str msg \"hi\\n\"\n", assemble.Options{})
	require.Equal(t, []byte{'h', 'i', '\n', 0}, code[2:6])
}

func TestRepeatEmitsPadding(t *testing.T) {
	code := codeOf(t, "halt\n%repeat i8 0xAA 4\n", assemble.Options{})
	require.Equal(t, []byte{0xAA, 0xAA, 0xAA, 0xAA}, code[2:6])
}

func TestRepeatUntilPadsToOffset(t *testing.T) {
	code := codeOf(t, "halt\n%repeat_until i8 0 16\n", assemble.Options{})
	require.Len(t, code, 16)
}

func TestVarDerefRewritesPlaceholderToDeref(t *testing.T) {
	// push $v emits a 4-byte address slot plus two placeholder bytes that
	// patching must rewrite into a (STK, NONE) derefN instruction chosen
	// from the variable's type.
	code := codeOf(t, "push $v\nhalt\n%def i32 v 7\n", assemble.Options{})
	require.Equal(t, byte(isa.PUSH), code[1])
	require.Equal(t, isa.EncodeFlags(isa.STK, isa.NONE), code[6])
	require.Equal(t, byte(isa.DEREF32), code[7])

	code = codeOf(t, "push $s\nhalt\n%def str s \"x\"\n", assemble.Options{})
	require.Equal(t, byte(isa.DEREF8), code[7])

	code = codeOf(t, "push $h\nhalt\n%def i16 h 1\n", assemble.Options{})
	require.Equal(t, byte(isa.DEREF16), code[7])
}

func TestPICLabelPatchRewritesModeNibble(t *testing.T) {
	code := codeOf(t, "jump target\nnop\ntarget:\nhalt\n", assemble.Options{PIC: true})
	require.Equal(t, isa.PRO, isa.ExtractMode1(code[0]))
	require.EqualValues(t, 6, isa.ReadInt32(code, 2)) // target at 8, slot at 2

	code = codeOf(t, "back:\nnop\njump back\n", assemble.Options{PIC: true})
	require.Equal(t, isa.NRO, isa.ExtractMode1(code[2]))
	require.EqualValues(t, 4, isa.ReadInt32(code, 4)) // back at 0, slot at 4
}

func TestNonPICLabelPatchWritesAbsolute(t *testing.T) {
	code := codeOf(t, "jump target\nnop\ntarget:\nhalt\n", assemble.Options{PIC: false})
	require.Equal(t, isa.ABS, isa.ExtractMode1(code[0]))
	require.EqualValues(t, 8, isa.ReadInt32(code, 2))
}

func TestOffsetExpressionDoesNotRewriteFlags(t *testing.T) {
	// label+expr is a compound address patch: the constant folds into the
	// slot and the header's mode nibble stays ABS even under PIC.
	code := codeOf(t, "push buf + 2\nhalt\n%data i8 buf 1 2 3 4\n", assemble.Options{PIC: true})
	require.Equal(t, isa.ABS, isa.ExtractMode1(code[0]))
	require.EqualValues(t, 8+2, isa.ReadInt32(code, 2)) // buf at 8, +2 folded in
}

func TestExternMentionsLandInRelocations(t *testing.T) {
	exe, err := assemble.Assemble([]byte("%extern far\ncall far\nhalt\n"), "t.asm",
		assemble.Options{PIC: true, IncludeSymbols: true})
	require.NoError(t, err)

	relSec, ok := exe.Section("relocations")
	require.True(t, ok)
	relocs, err := object.RelocationTableFromSection(relSec)
	require.NoError(t, err)
	r, ok := relocs.ByLabel("far")
	require.True(t, ok)
	require.Len(t, r.Mentions, 1)
	require.EqualValues(t, 2, r.Mentions[0].CodeOffset)
	require.EqualValues(t, 1, r.Mentions[0].ArgOrdinal)

	symSec, ok := exe.Section("symbols")
	require.True(t, ok)
	syms, err := object.SymbolTableFromSection(symSec)
	require.NoError(t, err)
	sym, ok := syms.ByLabel("far")
	require.True(t, ok)
	require.True(t, sym.IsExtern())
	require.EqualValues(t, -1, sym.Address)
}

func TestExportControlsSymbolTable(t *testing.T) {
	src := "%export visible\nvisible:\nhidden:\nhalt\n"
	exe, err := assemble.Assemble([]byte(src), "t.asm", assemble.Options{IncludeSymbols: true})
	require.NoError(t, err)
	symSec, _ := exe.Section("symbols")
	syms, err := object.SymbolTableFromSection(symSec)
	require.NoError(t, err)

	_, ok := syms.ByLabel("visible")
	require.True(t, ok)
	_, ok = syms.ByLabel("hidden")
	require.False(t, ok)
}

func TestExportStarWithUnexport(t *testing.T) {
	src := "%export *\n%unexport hidden\nvisible:\nhidden:\nhalt\n"
	exe, err := assemble.Assemble([]byte(src), "t.asm", assemble.Options{IncludeSymbols: true})
	require.NoError(t, err)
	symSec, _ := exe.Section("symbols")
	syms, err := object.SymbolTableFromSection(symSec)
	require.NoError(t, err)

	_, ok := syms.ByLabel("visible")
	require.True(t, ok)
	_, ok = syms.ByLabel("hidden")
	require.False(t, ok)
}

func TestCallTargetMarkedProcedure(t *testing.T) {
	src := "%export *\ncall f\nhalt\nf:\nret\n"
	exe, err := assemble.Assemble([]byte(src), "t.asm", assemble.Options{IncludeSymbols: true})
	require.NoError(t, err)
	symSec, _ := exe.Section("symbols")
	syms, err := object.SymbolTableFromSection(symSec)
	require.NoError(t, err)
	sym, ok := syms.ByLabel("f")
	require.True(t, ok)
	require.True(t, sym.IsProcedure())
}

func TestSyscallDirectiveBindsName(t *testing.T) {
	code := codeOf(t, "%syscall putc 0\nsyscall putc\nhalt\n", assemble.Options{})
	require.Equal(t, isa.EncodeFlags(isa.IMM, isa.NONE), code[0])
	require.Equal(t, byte(isa.SYSCALL), code[1])
	require.EqualValues(t, 0, isa.ReadInt32(code, 2))
}

func TestStoreOperandForms(t *testing.T) {
	// Stack form: both address and value come off the stack.
	code := codeOf(t, "store32\nhalt\n", assemble.Options{})
	require.Equal(t, isa.EncodeFlags(isa.STK, isa.STK), code[0])

	// One inline operand: address is the literal, value comes off the stack.
	code = codeOf(t, "store32 100\nhalt\n", assemble.Options{})
	require.Equal(t, isa.EncodeFlags(isa.IMM, isa.STK), code[0])
	require.EqualValues(t, 100, isa.ReadInt32(code, 2))

	// Two inline operands.
	code = codeOf(t, "store32 100 7\nhalt\n", assemble.Options{})
	require.Equal(t, isa.EncodeFlags(isa.IMM, isa.IMM), code[0])
	require.EqualValues(t, 100, isa.ReadInt32(code, 2))
	require.EqualValues(t, 7, isa.ReadInt32(code, 6))
}

func TestIncludeSearchPathAndDeduplication(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "defs.inc"), []byte("%define ANSWER 42\n"), 0644))

	src := "%include \"defs.inc\"\n%include \"defs.inc\"\npush ANSWER\nhalt\n"
	code := codeOf(t, src, assemble.Options{IncludeDirs: []string{dir}})
	require.Equal(t, codeOf(t, "push 42\nhalt\n", assemble.Options{}), code)
}

func TestIncludeMissingFileIsFatal(t *testing.T) {
	_, err := assemble.Assemble([]byte("%include \"no-such-file.inc\"\nhalt\n"), "t.asm", assemble.Options{})
	require.Error(t, err)
}

func TestUnresolvedLabelIsFatal(t *testing.T) {
	_, err := assemble.Assemble([]byte("jump nowhere\nhalt\n"), "t.asm", assemble.Options{})
	require.Error(t, err)
}

func TestDuplicateLabelIsFatal(t *testing.T) {
	_, err := assemble.Assemble([]byte("x:\nnop\nx:\nhalt\n"), "t.asm", assemble.Options{})
	require.Error(t, err)
}

func TestUnknownMnemonicIsFatal(t *testing.T) {
	_, err := assemble.Assemble([]byte("frobnicate\n"), "t.asm", assemble.Options{})
	require.Error(t, err)
}

func TestUnterminatedStringIsFatal(t *testing.T) {
	_, err := assemble.Assemble([]byte("%def str s \"oops\n"), "t.asm", assemble.Options{})
	require.Error(t, err)
}

func TestCommentsAndBlankLinesIgnored(t *testing.T) {
	src := "; leading comment\n\npush 1 ; trailing comment\n\nhalt\n"
	require.Equal(t, codeOf(t, "push 1\nhalt\n", assemble.Options{}), codeOf(t, src, assemble.Options{}))
}

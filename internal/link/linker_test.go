package link_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxrt101/xvm-go/internal/assemble"
	"github.com/maxrt101/xvm-go/internal/bus"
	"github.com/maxrt101/xvm-go/internal/link"
	"github.com/maxrt101/xvm-go/internal/object"
	"github.com/maxrt101/xvm-go/internal/vm"
)

func assembleOne(t *testing.T, source string) object.Executable {
	t.Helper()
	exe, err := assemble.Assemble([]byte(source), "t.asm", assemble.Options{PIC: true, IncludeSymbols: true})
	require.NoError(t, err)
	return exe
}

// Object A defines foo and refers to extern bar; object B defines bar and
// refers to extern foo. After link([A, B]) no extern symbols remain and
// relocations are empty.
func TestLinkerMergesMutualExterns(t *testing.T) {
	a := assembleOne(t, "%export *\n%extern bar\nfoo:\ncall bar\nret\n")
	b := assembleOne(t, "%export *\n%extern foo\nbar:\ncall foo\nret\n")

	linked, err := link.Link([]object.Executable{a, b}, link.Options{PIC: true})
	require.NoError(t, err)

	symSec, ok := linked.Section("symbols")
	require.True(t, ok)
	syms, err := object.SymbolTableFromSection(symSec)
	require.NoError(t, err)
	for _, s := range syms.Symbols {
		require.Falsef(t, s.IsExtern(), "symbol %q should be resolved, not extern", s.Label)
	}

	relSec, ok := linked.Section("relocations")
	require.True(t, ok)
	relocs, err := object.RelocationTableFromSection(relSec)
	require.NoError(t, err)
	require.Empty(t, relocs.Relocations)
}

// Linker idempotence: link([O]) == O up to section reordering for a
// single, already-resolved object (code identical, relocations empty,
// symbols preserved).
func TestLinkerIdempotentOnResolvedObject(t *testing.T) {
	o := assembleOne(t, "%export *\nfoo:\npush 1\nhalt\n")

	linked, err := link.Link([]object.Executable{o}, link.Options{PIC: true})
	require.NoError(t, err)

	origCode, _ := o.Section("code")
	linkedCode, _ := linked.Section("code")
	require.Equal(t, origCode.Data, linkedCode.Data)

	relSec, _ := linked.Section("relocations")
	relocs, err := object.RelocationTableFromSection(relSec)
	require.NoError(t, err)
	require.Empty(t, relocs.Relocations)
}

// Linker associativity on disjoint-symbol objects: link([A, link([B, C])])
// yields the same code bytes as link([A, B, C]).
func TestLinkerAssociative(t *testing.T) {
	a := assembleOne(t, "%export *\na:\npush 1\nhalt\n")
	b := assembleOne(t, "%export *\nb:\npush 2\nhalt\n")
	c := assembleOne(t, "%export *\nc:\npush 3\nhalt\n")

	direct, err := link.Link([]object.Executable{a, b, c}, link.Options{PIC: true})
	require.NoError(t, err)

	bc, err := link.Link([]object.Executable{b, c}, link.Options{PIC: true})
	require.NoError(t, err)
	nested, err := link.Link([]object.Executable{a, bc}, link.Options{PIC: true})
	require.NoError(t, err)

	directCode, _ := direct.Section("code")
	nestedCode, _ := nested.Section("code")
	require.Equal(t, directCode.Data, nestedCode.Data)
}

func TestLinkerFailsOnDuplicateDefinition(t *testing.T) {
	a := assembleOne(t, "%export *\nfoo:\nhalt\n")
	b := assembleOne(t, "%export *\nfoo:\nhalt\n")

	_, err := link.Link([]object.Executable{a, b}, link.Options{PIC: true})
	require.Error(t, err)
}

func TestLinkerFailsOnMissingRequiredSections(t *testing.T) {
	bare := object.NewExecutable(1)
	bare.Sections = []object.Section{{Label: "code", Type: object.SectionCode, Data: []byte{}}}

	_, err := link.Link([]object.Executable{bare}, link.Options{PIC: true})
	require.Error(t, err)
}

// End-to-end: the linked mutual-extern executable actually runs: foo's call
// reaches bar through its resolved extern target, and bar's RET returns to
// foo's HALT.
func TestLinkedMutualExternsExecutes(t *testing.T) {
	a := assembleOne(t, "%export *\n%extern bar\nfoo:\ncall bar\nhalt\nbar_caller:\nret\n")
	b := assembleOne(t, "%export *\n%extern foo\nbar:\npush 42\nret\n")

	linked, err := link.Link([]object.Executable{a, b}, link.Options{PIC: true})
	require.NoError(t, err)

	codeSec, ok := linked.Section("code")
	require.True(t, ok)

	busInst := bus.New()
	ram := bus.NewRAM(0, 4096)
	require.NoError(t, busInst.Bind(0, 4096, ram, true))
	ram.Load(0, codeSec.Data)

	m := vm.New(busInst, nil)
	require.NoError(t, m.Run())
	top, err := m.Pop()
	require.NoError(t, err)
	require.EqualValues(t, 42, top)
}

package assemble

import "github.com/maxrt101/xvm-go/internal/object"

// Label is an assembler-internal record of a declared `NAME:` site: its
// code offset and every place in the code stream that refers to it.
type Label struct {
	Address     int32
	IsProcedure bool
	Mentions    []object.Mention
}

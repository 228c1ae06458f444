// Package xerr defines the typed error kinds shared by every stage of the
// toolchain: lexing, parsing, symbol resolution, linking, loading and
// runtime execution. Each stage wraps failures in an *Error carrying a kind
// tag, optional source position, and a human message, instead of returning
// bare fmt.Errorf strings, so callers can branch on which stage failed
// without string-matching messages.
package xerr

import "fmt"

// Kind tags which stage of the pipeline produced an error.
type Kind int

const (
	Lex Kind = iota
	Parse
	Resolve
	Link
	Load
	Runtime
	IO
)

func (k Kind) String() string {
	switch k {
	case Lex:
		return "LexError"
	case Parse:
		return "ParseError"
	case Resolve:
		return "ResolveError"
	case Link:
		return "LinkError"
	case Load:
		return "LoadError"
	case Runtime:
		return "RuntimeError"
	case IO:
		return "IOError"
	default:
		return "UnknownError"
	}
}

// Error is the common error value returned by every package in the
// toolchain. File/Line are zero when a stage has no source position to
// report (linker, loader, interpreter).
type Error struct {
	Kind Kind
	File string
	Line int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s:%d: %s", e.Kind, e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a position-less error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// At builds an error with file:line context, for lexer/parser diagnostics.
func At(kind Kind, file string, line int, format string, args ...any) *Error {
	return &Error{Kind: kind, File: file, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the Kind of err if it (or something it wraps) is an *Error,
// and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return 0, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		case interface{ Unwrap() []error }:
			// errors.Join — the assembler accumulates diagnostics this way;
			// the first tagged error decides the reported kind.
			for _, sub := range u.Unwrap() {
				if asError(sub, target) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	return false
}

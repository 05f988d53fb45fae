// Package errs defines the core's error taxonomy. Every error the core
// returns is one of these kinds; callers use errors.As to recover the
// offending identifier and decide on an HTTP status (see cmd/semlayerd).
package errs

import "fmt"

// Kind is one of the distinct error kinds the core can surface.
type Kind string

const (
	KindUnknownCube                Kind = "UnknownCube"
	KindUnknownField                Kind = "UnknownField"
	KindAmbiguousJoin               Kind = "AmbiguousJoin"
	KindInvalidFilter                Kind = "InvalidFilter"
	KindInvalidDateRange            Kind = "InvalidDateRange"
	KindUnsupportedDialectFeature    Kind = "UnsupportedDialectFeature"
	KindExecutionFailed              Kind = "ExecutionFailed"
	KindResultDecodeError            Kind = "ResultDecodeError"
)

// Error is the concrete error type returned by every core package.
// It carries the offending identifier (a field name, a dialect
// operator name, ...) so a transport layer can build the
// `{error, message, details}` envelope from §6 without re-parsing
// the message string.
type Error struct {
	Kind    Kind
	Ident   string // offending identifier, when applicable
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Ident != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Ident)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

func New(kind Kind, ident, message string) *Error {
	return &Error{Kind: kind, Ident: ident, Message: message}
}

func Wrap(kind Kind, ident string, wrapped error) *Error {
	return &Error{Kind: kind, Ident: ident, Message: wrapped.Error(), Wrapped: wrapped}
}

func UnknownCube(name string) *Error {
	return New(KindUnknownCube, name, "no cube registered with this name")
}

func UnknownField(ref string) *Error {
	return New(KindUnknownField, ref, "field reference does not resolve to any registered member")
}

func AmbiguousJoin(from string) *Error {
	return New(KindAmbiguousJoin, from, "multiple join paths exist; supply an explicit cubes list")
}

func InvalidFilter(member, reason string) *Error {
	return New(KindInvalidFilter, member, reason)
}

func InvalidDateRange(raw, reason string) *Error {
	return New(KindInvalidDateRange, raw, reason)
}

func UnsupportedDialectFeature(feature string) *Error {
	return New(KindUnsupportedDialectFeature, feature, "dialect adapter cannot emit this construct")
}

func ExecutionFailed(wrapped error) *Error {
	return Wrap(KindExecutionFailed, "", wrapped)
}

func ResultDecodeError(wrapped error) *Error {
	return Wrap(KindResultDecodeError, "", wrapped)
}

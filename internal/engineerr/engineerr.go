// Package engineerr defines the error taxonomy shared by the loader, compiler, and VM.
package engineerr

import "fmt"

// Kind classifies an engine error without requiring a distinct Go type per kind.
type Kind string

const (
	ArtifactNotFound  Kind = "ArtifactNotFound"
	SchemaInvalid     Kind = "SchemaInvalid"
	CycleDetected     Kind = "CycleDetected"
	IdCollision       Kind = "IdCollision"
	TypeError         Kind = "TypeError"
	ExternalCallError Kind = "ExternalCallError"
	DeadlineExceeded  Kind = "DeadlineExceeded"
	InternalError     Kind = "InternalError"
)

// Error is the single concrete error type for every engine failure. Compile-time kinds
// (ArtifactNotFound, SchemaInvalid, CycleDetected, IdCollision) carry Path, the
// dependency chain or source location that led to the failure.
type Error struct {
	Kind    Kind
	Message string
	Path    []string
	Cause   error
}

func (e *Error) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%s: %s (path: %v)", e.Kind, e.Message, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithPath attaches a dependency/source path to a compile-time error.
func (e *Error) WithPath(path []string) *Error {
	e.Path = path
	return e
}

// Is reports whether err carries the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

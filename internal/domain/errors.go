package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a catalog failure. Callers match on kind through the
// sentinel errors below with errors.Is.
type Kind int

const (
	KindUnknown Kind = iota
	// KindArgument is a missing/nil required argument. It is checked
	// before any domain logic runs.
	KindArgument
	// KindNotFound covers missing roots, catalogs, files, entries and
	// metadata keys or ids.
	KindNotFound
	// KindValidation covers malformed tags, wrong metadata key arity and
	// malformed values.
	KindValidation
	// KindConflict is returned for duplicate init and occupied move targets.
	KindConflict
	// KindRender is a thumbnail/tile generation failure.
	KindRender
	// KindBuild is a build pipeline failure.
	KindBuild
	// KindIO wraps filesystem and index failures.
	KindIO
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "argument"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindRender:
		return "render"
	case KindBuild:
		return "build"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind.
var (
	// ErrArgument indicates a required argument was nil or missing
	ErrArgument = errors.New("invalid argument")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates the input was rejected by a domain rule
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates the resource already exists
	ErrConflict = errors.New("conflict")

	// ErrRender indicates a derived image could not be produced
	ErrRender = errors.New("render failed")

	// ErrBuild indicates the build pipeline failed
	ErrBuild = errors.New("build failed")

	// ErrIO indicates a filesystem or index failure
	ErrIO = errors.New("i/o error")
)

// Adapter-level errors returned by the filesystem adapter.
var (
	// ErrPermissionDenied indicates the path escapes the root or is not accessible
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates expected a file but got a directory
	ErrNotFile = errors.New("not a file")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)

var kindSentinels = map[Kind]error{
	KindArgument:   ErrArgument,
	KindNotFound:   ErrNotFound,
	KindValidation: ErrValidation,
	KindConflict:   ErrConflict,
	KindRender:     ErrRender,
	KindBuild:      ErrBuild,
	KindIO:         ErrIO,
}

// Error is the structured error returned by every catalog operation.
type Error struct {
	Kind Kind
	Op   string // operation name, e.g. "add"
	Path string // offending path, if any
	Msg  string
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	s := e.Op
	if s != "" {
		s += ": "
	}
	s += e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Path != "" {
		s += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes the cause so errors.Is/As reach through the wrapper.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// E builds a structured error.
func E(kind Kind, op, path, msg string) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Msg: msg}
}

// Wrap builds a structured error around cause. A cause that already
// carries a kind keeps it unless kind is given explicitly.
func Wrap(kind Kind, op, path string, cause error) *Error {
	if kind == KindUnknown {
		kind = KindOf(cause)
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// KindOf reports the kind carried by err, KindIO for foreign errors and
// KindUnknown for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var de *Error
	if errors.As(err, &de) && de.Kind != KindUnknown {
		return de.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	if errors.Is(err, ErrPermissionDenied) {
		return KindNotFound
	}
	return KindIO
}

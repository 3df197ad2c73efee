package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// Kind classifies a filesystem failure
type Kind int

const (
	KindIOFailure Kind = iota
	KindPathTraversal
	KindNotFound
	KindAlreadyExists
	KindNotADirectory
	KindIsADirectory
	KindDirectoryNotEmpty
	KindInvalidName
	KindInvalidOperation
	KindTooLarge
	KindInvalidArchive
	KindInvalidArgument
)

var kindCodes = map[Kind]string{
	KindIOFailure:         "io_failure",
	KindPathTraversal:     "path_traversal",
	KindNotFound:          "not_found",
	KindAlreadyExists:     "already_exists",
	KindNotADirectory:     "not_a_directory",
	KindIsADirectory:      "is_a_directory",
	KindDirectoryNotEmpty: "directory_not_empty",
	KindInvalidName:       "invalid_name",
	KindInvalidOperation:  "invalid_operation",
	KindTooLarge:          "too_large",
	KindInvalidArchive:    "invalid_archive",
	KindInvalidArgument:   "invalid_argument",
}

// Code returns the stable wire code for the kind
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindIOFailure]
}

func (k Kind) String() string { return k.Code() }

// Sentinels for errors.Is matching
var (
	ErrIOFailure         = &Error{Kind: KindIOFailure}
	ErrPathTraversal     = &Error{Kind: KindPathTraversal}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists}
	ErrNotADirectory     = &Error{Kind: KindNotADirectory}
	ErrIsADirectory      = &Error{Kind: KindIsADirectory}
	ErrDirectoryNotEmpty = &Error{Kind: KindDirectoryNotEmpty}
	ErrInvalidName       = &Error{Kind: KindInvalidName}
	ErrInvalidOperation  = &Error{Kind: KindInvalidOperation}
	ErrTooLarge          = &Error{Kind: KindTooLarge}
	ErrInvalidArchive    = &Error{Kind: KindInvalidArchive}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
)

// Error is the single error type returned by the filesystem core.
// Path is always sandbox-relative; host paths never leak through it.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindPathTraversal {
		if e.Op == "" {
			return "access denied"
		}
		return e.Op + ": access denied"
	}

	msg := e.Kind.Code()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	case e.Op != "":
		return e.Op + ": " + msg
	case e.Path != "":
		return e.Path + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message returns the client-safe description
func (e *Error) Message() string {
	if e.Kind == KindPathTraversal {
		return "access denied"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Code()
}

func newError(kind Kind, op, rel string, format string, args ...any) *Error {
	var err error
	if format != "" {
		err = fmt.Errorf(format, args...)
	}
	return &Error{Kind: kind, Op: op, Path: rel, Err: err}
}

func traversal(op, rel string) *Error {
	return &Error{Kind: KindPathTraversal, Op: op, Path: rel}
}

// KindOf classifies err; anything unrecognized is an IO failure
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindIOFailure
}

// wrapOS translates an OS error into an *Error carrying the sandbox-relative path.
// The host path inside *fs.PathError / *os.LinkError is dropped.
func wrapOS(op, rel string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}

	kind := KindIOFailure
	// ENOTEMPTY also satisfies fs.ErrExist, so it goes first
	switch {
	case errors.Is(err, syscall.ENOTEMPTY):
		kind = KindDirectoryNotEmpty
	case errors.Is(err, fs.ErrNotExist):
		kind = KindNotFound
	case errors.Is(err, fs.ErrExist):
		kind = KindAlreadyExists
	case errors.Is(err, syscall.ENOTDIR):
		kind = KindNotADirectory
	case errors.Is(err, syscall.EISDIR):
		kind = KindIsADirectory
	}
	return &Error{Kind: kind, Op: op, Path: rel, Err: scrub(err)}
}

// scrub strips host paths from wrapped OS errors
func scrub(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return le.Err
	}
	return err
}

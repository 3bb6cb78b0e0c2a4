package graphstore

import "errors"

// ErrParse is matched by every error caused by malformed input data.
var ErrParse = errors.New("invalid RDF input")

// ParseError wraps a parser failure so callers can tell bad input (a client
// error) from storage failures.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// Is reports whether target is ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

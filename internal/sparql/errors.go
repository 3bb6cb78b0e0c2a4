package sparql

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrSyntax is matched by every *SyntaxError.
	ErrSyntax = errors.New("sparql syntax error")

	// ErrUnsupported marks valid SPARQL that this engine does not evaluate.
	ErrUnsupported = errors.New("unsupported sparql feature")

	// ErrGraphNotFound is returned by graph management operations on a
	// missing graph without SILENT.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrGraphExists is returned by CREATE on an existing graph without SILENT.
	ErrGraphExists = errors.New("graph already exists")

	// errStop unwinds evaluation when the consumer stops pulling.
	errStop = errors.New("evaluation stopped")
)

// SyntaxError reports a malformed query or update.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("error at line %d column %d: %s", e.Line, e.Column, e.Message)
}

// Is makes errors.Is(err, ErrSyntax) hold for every syntax error.
func (e *SyntaxError) Is(target error) bool { return target == ErrSyntax }

func newSyntaxError(line, col int, format string, args ...any) error {
	return &SyntaxError{Line: line, Column: col, Message: fmt.Sprintf(format, args...)}
}

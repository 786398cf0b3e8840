package script

import (
	"errors"
	"fmt"
)

// Compile-time errors. A *CompileError wraps exactly one of these, so callers
// can classify failures with errors.Is.
var (
	// ErrScriptRead is returned when a script file cannot be opened or read.
	ErrScriptRead = errors.New("script: cannot read file")

	// ErrSyntax is returned for malformed statements (missing operands, bad numbers).
	ErrSyntax = errors.New("script: syntax error")

	// ErrRange is returned when a channel, value or time is outside its legal range.
	ErrRange = errors.New("script: value out of range")

	// ErrUnknownVerb is returned for a statement keyword the language does not define.
	ErrUnknownVerb = errors.New("script: unknown statement")

	// ErrUnmatchedBlock is returned when a block closer has no open block of its kind.
	ErrUnmatchedBlock = errors.New("script: no matching block is open")

	// ErrNestedBlock is returned when a block is opened while one of the same kind is open.
	ErrNestedBlock = errors.New("script: block already open")

	// ErrUnclosedBlock is returned when the script ends with a block still open.
	ErrUnclosedBlock = errors.New("script: block not closed")

	// ErrImportCycle is returned when a file imports itself directly or transitively.
	ErrImportCycle = errors.New("script: import cycle")

	// ErrImportDepth is returned when imports nest deeper than the configured limit.
	ErrImportDepth = errors.New("script: import depth exceeded")
)

// Run-time errors returned by CPU.Run.
var (
	// ErrStatement is returned when a statement cannot execute, e.g. a block
	// closer reached without its opener being active.
	ErrStatement = errors.New("script: statement failed")

	// ErrTransmit is returned when a frame could not be sent within the retry budget.
	ErrTransmit = errors.New("script: frame transmission failed")

	// ErrNoProgress is returned when the run is cancelled before its first statement started.
	ErrNoProgress = errors.New("script: cancelled before the first statement")
)

// CompileError describes the first invalid statement found by the compiler.
type CompileError struct {
	// File is the script file containing the error (the imported file, not
	// the top-level one, when the error is inside an import).
	File string

	// Line is the 1-based line number within File. Zero when the file itself
	// could not be read.
	Line int

	// Source is the offending line as written.
	Source string

	// Message is the operator-facing description.
	Message string

	// Err is the sentinel classifying the failure.
	Err error
}

func (e *CompileError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Messages returns the error as the ordered list of lines shown to an operator:
// location, offending source text, then the description.
func (e *CompileError) Messages() []string {
	if e.Line == 0 {
		return []string{fmt.Sprintf("Script error in %s", e.File), e.Message}
	}
	return []string{
		fmt.Sprintf("Script error at line %d of %s", e.Line, e.File),
		e.Source,
		e.Message,
	}
}

// Package migerr defines the failure classes a migration stage can report.
// Each class maps to its own process exit code.
package migerr

import (
	"errors"
	"fmt"

	"github.com/loykin/ch2migrate/internal/constants"
)

var (
	// ErrSnapshot: the source could not be read, was locked, or the copy is incomplete
	ErrSnapshot = errors.New("snapshot failed")

	// ErrIntegrity: a constraint was violated while pruning
	ErrIntegrity = errors.New("integrity violation")

	// ErrStructuralMismatch: a table rewrite lost or gained rows
	ErrStructuralMismatch = errors.New("structural mismatch")

	// ErrSerialization: the extractor produced, or would produce, non-replayable output
	ErrSerialization = errors.New("serialization failed")

	// ErrReplay: loading violated a constraint of the fresh target
	ErrReplay = errors.New("replay failed")
)

// ExitCoder is implemented by every error in this package.
type ExitCoder interface {
	ExitCode() int
}

// details is shared by every failure class.
type details struct {
	Stage  string // pipeline stage, e.g. "prune"
	Table  string // offending table, if known
	Detail string // predicate or condition that failed
	Err    error  // underlying error
}

func (c details) format(class error) string {
	msg := class.Error()
	if c.Stage != "" {
		msg = c.Stage + ": " + msg
	}
	if c.Table != "" {
		msg += " in " + c.Table
	}
	if c.Detail != "" {
		msg += ": " + c.Detail
	}
	if c.Err != nil {
		msg += ": " + c.Err.Error()
	}
	return msg
}

// SnapshotError reports a failed working-copy preparation.
type SnapshotError struct {
	details
	Path string // source or working copy path
}

func (e *SnapshotError) Error() string {
	msg := e.format(ErrSnapshot)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path %s)", e.Path)
	}
	return msg
}
func (e *SnapshotError) Unwrap() error        { return e.Err }
func (e *SnapshotError) Is(target error) bool { return target == ErrSnapshot }
func (e *SnapshotError) ExitCode() int        { return constants.ExitSnapshot }

// NewSnapshotError creates a SnapshotError for path.
func NewSnapshotError(path, detail string, err error) *SnapshotError {
	return &SnapshotError{details: details{Stage: "prepare-snapshot", Detail: detail, Err: err}, Path: path}
}

// IntegrityError reports a violated constraint or postcondition while pruning.
type IntegrityError struct {
	details
	Rule string // pruning rule or postcondition that failed
}

func (e *IntegrityError) Error() string {
	msg := e.format(ErrIntegrity)
	if e.Rule != "" {
		msg += fmt.Sprintf(" (rule %s)", e.Rule)
	}
	return msg
}
func (e *IntegrityError) Unwrap() error        { return e.Err }
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }
func (e *IntegrityError) ExitCode() int        { return constants.ExitIntegrity }

// NewIntegrityError creates an IntegrityError raised by rule.
func NewIntegrityError(rule, table, detail string, err error) *IntegrityError {
	return &IntegrityError{details: details{Stage: "prune", Table: table, Detail: detail, Err: err}, Rule: rule}
}

// StructuralMismatchError reports a table rewrite that did not carry every row.
type StructuralMismatchError struct {
	details
	Expected int64
	Actual   int64
}

func (e *StructuralMismatchError) Error() string {
	msg := e.format(ErrStructuralMismatch)
	if e.Expected != e.Actual {
		msg += fmt.Sprintf(" (expected %d rows, copied %d)", e.Expected, e.Actual)
	}
	return msg
}
func (e *StructuralMismatchError) Unwrap() error        { return e.Err }
func (e *StructuralMismatchError) Is(target error) bool { return target == ErrStructuralMismatch }
func (e *StructuralMismatchError) ExitCode() int        { return constants.ExitStructural }

// NewStructuralMismatchError creates a StructuralMismatchError for table.
func NewStructuralMismatchError(table, detail string, expected, actual int64, err error) *StructuralMismatchError {
	return &StructuralMismatchError{
		details:  details{Stage: "transform", Table: table, Detail: detail, Err: err},
		Expected: expected,
		Actual:   actual,
	}
}

// SerializationError reports a value or table that cannot be written as a
// replayable statement.
type SerializationError struct {
	details
	Column string
	Row    int64 // 1-based row ordinal within the table, 0 if unknown
}

func (e *SerializationError) Error() string {
	msg := e.format(ErrSerialization)
	if e.Column != "" {
		msg += fmt.Sprintf(" (column %s, row %d)", e.Column, e.Row)
	}
	return msg
}
func (e *SerializationError) Unwrap() error        { return e.Err }
func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }
func (e *SerializationError) ExitCode() int        { return constants.ExitSerialization }

// NewSerializationError creates a SerializationError for a table.
func NewSerializationError(table, detail string, err error) *SerializationError {
	return &SerializationError{details: details{Stage: "extract", Table: table, Detail: detail, Err: err}}
}

// ReplayError reports a load failure. Statement is the 1-based index of
// the failing statement in the dump, 0 when the failure is not tied to one.
type ReplayError struct {
	details
	Statement int
}

func (e *ReplayError) Error() string {
	msg := e.format(ErrReplay)
	if e.Statement > 0 {
		msg += fmt.Sprintf(" (statement %d)", e.Statement)
	}
	return msg
}
func (e *ReplayError) Unwrap() error        { return e.Err }
func (e *ReplayError) Is(target error) bool { return target == ErrReplay }
func (e *ReplayError) ExitCode() int        { return constants.ExitReplay }

// NewReplayError creates a ReplayError.
func NewReplayError(statement int, table, detail string, err error) *ReplayError {
	return &ReplayError{details: details{Stage: "load", Table: table, Detail: detail, Err: err}, Statement: statement}
}

// WithStage returns err with its stage replaced when err belongs to this
// package. Other errors are returned unchanged.
func WithStage(err error, stage string) error {
	switch e := err.(type) {
	case *SnapshotError:
		e.Stage = stage
	case *IntegrityError:
		e.Stage = stage
	case *StructuralMismatchError:
		e.Stage = stage
	case *SerializationError:
		e.Stage = stage
	case *ReplayError:
		e.Stage = stage
	}
	return err
}

// ExitCode returns the exit code for err: the code of the first ExitCoder
// in its chain, ExitFailure for any other error, ExitOK for nil.
func ExitCode(err error) int {
	if err == nil {
		return constants.ExitOK
	}
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return constants.ExitFailure
}

// Discards reports whether err means the working copy can no longer be
// trusted and must be rebuilt from the source.
func Discards(err error) bool {
	return errors.Is(err, ErrIntegrity) || errors.Is(err, ErrStructuralMismatch)
}

// Package fault defines the error categories shared by the codecs, the world
// file serializer and the edit log.
//
// Callers match categories with errors.As (or the Is* helpers) so that "bad
// data" (FormatError), "value does not fit the target version" (RangeError),
// "side table disagrees with the grid" (ConsistencyError) and "bad environment"
// (IOError) can be handled differently.
package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrTruncated          = errors.New("truncated data")
	ErrCellCount          = errors.New("cell count mismatch")
	// ErrCorrupt marks bytes that were read but cannot be decoded.
	ErrCorrupt = errors.New("corrupt data")
)

// FormatError reports a corrupt or unsupported file. It is fatal for the load.
type FormatError struct {
	Op     string
	Offset int64 // -1 when unknown
	Err    error
}

func (e *FormatError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s: corrupt or unsupported data at offset %d: %v", e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: corrupt or unsupported data: %v", e.Op, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Format builds a FormatError with an unknown offset.
func Format(op string, err error) error {
	return &FormatError{Op: op, Offset: -1, Err: err}
}

// Formatf builds a FormatError from a message.
func Formatf(op, format string, args ...any) error {
	return &FormatError{Op: op, Offset: -1, Err: fmt.Errorf(format, args...)}
}

// RangeError reports a value that exceeds what the target format version can store.
// Saves reject such values; nothing is clamped.
type RangeError struct {
	Field   string
	Value   int
	Max     int
	Version int32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %d exceeds max %d for format version %d", e.Field, e.Value, e.Max, e.Version)
}

// ConsistencyError reports an entity whose anchor cell does not bear the structure it
// claims. It is recoverable: the grid wins and the entity is dropped.
type ConsistencyError struct {
	Entity string
	X, Y   int
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s at (%d,%d): %s", e.Entity, e.X, e.Y, e.Reason)
}

// IOError wraps an environment failure (missing file, permissions, disk full).
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IO wraps err in an IOError unless it is nil or already categorized. A bare
// IOError without a path gets path filled in.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ie *IOError
	if errors.As(err, &ie) && ie == err && ie.Path == "" {
		return &IOError{Op: ie.Op, Path: path, Err: ie.Err}
	}
	if IsFormat(err) || IsRange(err) || IsIO(err) || IsConsistency(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// Read categorizes a failed read at offset. Running out of input or hitting
// ErrCorrupt is a FormatError; any other failure from the underlying reader is
// an IOError. Categorized and context errors pass through.
func Read(op string, offset int64, err error) error {
	if err == nil {
		return nil
	}
	if IsFormat(err) || IsRange(err) || IsIO(err) || IsConsistency(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &FormatError{Op: op, Offset: offset, Err: fmt.Errorf("%w: %w", ErrTruncated, err)}
	}
	if errors.Is(err, ErrCorrupt) {
		return &FormatError{Op: op, Offset: offset, Err: err}
	}
	return &IOError{Op: "read " + op, Err: err}
}

func IsFormat(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

func IsRange(err error) bool {
	var re *RangeError
	return errors.As(err, &re)
}

func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

func IsIO(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

package fetchz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the failure kinds a pipeline can produce.
// Every typed error below matches exactly one of them with errors.Is.
var (
	ErrTransfer    = errors.New("transfer failed")
	ErrDecode      = errors.New("decode failed")
	ErrParse       = errors.New("parse failed")
	ErrDateParse   = errors.New("date parse failed")
	ErrKeyNotFound = errors.New("key not found")
	ErrEmptyInput  = errors.New("empty input")
	ErrUnsupported = errors.New("operation not supported")
)

// Error provides rich context about a stage failure.
// It wraps the underlying error with the path of stages the value travelled
// through, the input that caused the failure and how long the stage ran.
type Error struct {
	Timestamp time.Time
	InputData any
	Err       error
	Path      []Name
	Duration  time.Duration
	Timeout   bool
	Canceled  bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	location := strings.Join(e.Path, " -> ")
	if e.Timeout {
		return fmt.Sprintf("%s timed out after %v: %v", location, e.Duration, e.Err)
	}
	if e.Canceled {
		return fmt.Sprintf("%s canceled after %v: %v", location, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s failed after %v: %v", location, e.Duration, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error was caused by a timeout.
func (e *Error) IsTimeout() bool {
	return e.Timeout || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled returns true if the error was caused by cancellation.
func (e *Error) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled)
}

// wrapError builds the *Error returned by adapters. An error that already
// carries a path is extended instead of wrapped twice.
func wrapError(name Name, input any, err error, start time.Time) error {
	var stageErr *Error
	if errors.As(err, &stageErr) {
		stageErr.Path = append([]Name{name}, stageErr.Path...)
		return stageErr
	}
	return &Error{
		Path:      []Name{name},
		InputData: input,
		Err:       err,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Timeout:   errors.Is(err, context.DeadlineExceeded),
		Canceled:  errors.Is(err, context.Canceled),
	}
}

// TransferError reports an I/O failure while fetching or listing remote data.
type TransferError struct {
	Err  error
	Op   string
	Path string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is matches ErrTransfer.
func (*TransferError) Is(target error) bool { return target == ErrTransfer }

// DecodeError reports a corrupt archive, an unsupported compression method or
// a wrong password.
type DecodeError struct {
	Err    error
	Format string
	Member string
}

func (e *DecodeError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("%s member %q: %v", e.Format, e.Member, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches ErrDecode.
func (*DecodeError) Is(target error) bool { return target == ErrDecode }

// ParseError reports malformed structured data. Line is one-based and Offset
// is a byte offset into the input; values below those ranges mean the
// position is unknown.
type ParseError struct {
	Err    error
	Format string
	Line   int
	Offset int64
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Offset >= 0:
		return fmt.Sprintf("%s: line %d, offset %d: %v", e.Format, e.Line, e.Offset, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("%s: line %d: %v", e.Format, e.Line, e.Err)
	case e.Offset >= 0:
		return fmt.Sprintf("%s: offset %d: %v", e.Format, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches ErrParse.
func (*ParseError) Is(target error) bool { return target == ErrParse }

// DateParseError reports an input that does not match a date format.
type DateParseError struct {
	Err    error
	Input  string
	Format string
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("parse %q with format %q: %v", e.Input, e.Format, e.Err)
}

func (e *DateParseError) Unwrap() error { return e.Err }

// Is matches ErrDateParse.
func (*DateParseError) Is(target error) bool { return target == ErrDateParse }

// KeyNotFoundError reports a missing key or an out of range index.
// Segment is the part of a dotted key that could not be resolved.
type KeyNotFoundError struct {
	Key     string
	Segment string
}

func (e *KeyNotFoundError) Error() string {
	if e.Segment != "" && e.Segment != e.Key {
		return fmt.Sprintf("key %q: segment %q not found", e.Key, e.Segment)
	}
	return fmt.Sprintf("key %q not found", e.Key)
}

// Is matches ErrKeyNotFound.
func (*KeyNotFoundError) Is(target error) bool { return target == ErrKeyNotFound }

package failure

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error is a message with an optional wrapped cause.
type Error struct {
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns an *Error without a cause.
func New(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates cause. A nil cause yields nil.
func Wrap(cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Render walks the cause chain and prints one line per level, outermost first.
// Levels that only repeat their cause (fmt %w wrappers) contribute the text
// they add in front of it.
func Render(err error) string {
	if err == nil {
		return ""
	}
	var lines []string
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		lines = append(lines, ownMessage(cur))
	}
	var b strings.Builder
	for i, l := range lines {
		if l == "" {
			continue
		}
		if b.Len() > 0 && i > 0 {
			b.WriteString("\ncaused by: ")
		}
		b.WriteString(l)
	}
	return b.String()
}

func ownMessage(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Msg
	}
	msg := err.Error()
	if next := errors.Unwrap(err); next != nil {
		inner := next.Error()
		msg = strings.TrimSuffix(msg, inner)
		msg = strings.TrimSuffix(strings.TrimSpace(msg), ":")
	}
	return msg
}

// TimeoutError is raised when a bounded operation (conversion, OCR,
// extraction) exceeds its caller-supplied limit. It is never retried.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Op, e.After)
}

// DocumentError marks input that cannot be processed: corrupt or injured
// PDFs, failed conversions, password protected files.
type DocumentError struct {
	Reason string
	Cause  error
}

func (e *DocumentError) Error() string {
	if e.Cause == nil {
		return "unprocessable document: " + e.Reason
	}
	return fmt.Sprintf("unprocessable document: %s: %v", e.Reason, e.Cause)
}

func (e *DocumentError) Unwrap() error { return e.Cause }

// ProcessError is a subprocess that exited with a non-zero code.
type ProcessError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if len(stderr) > 500 {
		stderr = stderr[:500] + "..."
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Cmd, e.ExitCode, stderr)
}

// IsTimeout reports whether err carries a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsDocument reports whether err carries a *DocumentError.
func IsDocument(err error) bool {
	var de *DocumentError
	return errors.As(err, &de)
}

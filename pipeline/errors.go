package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the engine raises wraps exactly one of these so callers can
// classify failures with errors.Is regardless of how much context was added on the way up.
var (
	// ErrConfig marks invalid or contradictory configuration (unknown task type,
	// completeness-invariant violation). Fatal, never retried.
	ErrConfig = errors.New("configuration error")

	// ErrParse marks a malformed input record. Fatal for the run; the engine does not
	// skip bad records.
	ErrParse = errors.New("parse error")

	// ErrPipeline marks a violated structural invariant, e.g. writing into a directory
	// that already carries a completion marker.
	ErrPipeline = errors.New("pipeline error")
)

// Error carries an error kind plus enough context (Path) to locate the offending input
// or artifact directory.
type Error struct {
	Kind error
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.Err }

// ConfigErrorf returns an ErrConfig error with a formatted message.
func ConfigErrorf(format string, args ...any) error {
	return &Error{Kind: ErrConfig, Msg: fmt.Sprintf(format, args...)}
}

// ParseErrorf returns an ErrParse error for the input at path.
func ParseErrorf(path string, format string, args ...any) error {
	return &Error{Kind: ErrParse, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// PipelineErrorf returns an ErrPipeline error about the directory at path.
func PipelineErrorf(path string, format string, args ...any) error {
	return &Error{Kind: ErrPipeline, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is, or wraps, a configuration error.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfig) }

// IsParseError reports whether err is, or wraps, a malformed-input error.
func IsParseError(err error) bool { return errors.Is(err, ErrParse) }

// IsPipelineError reports whether err is, or wraps, a structural invariant violation.
func IsPipelineError(err error) bool { return errors.Is(err, ErrPipeline) }

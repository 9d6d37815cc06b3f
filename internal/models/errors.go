package models

import (
	"errors"
	"fmt"
)

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// Manifest loading
	ErrManifestNotFound ErrorType = "manifest_not_found"
	ErrManifestParse    ErrorType = "manifest_parse_error"

	// Patch resolution
	ErrPatchPathResolution ErrorType = "patch_path_resolution_error"

	// Raised by the build backend
	ErrDependencyFetch ErrorType = "dependency_fetch_error"
	ErrBuildScript     ErrorType = "build_script_error"

	// Harness
	ErrConfigInvalid ErrorType = "config_invalid"
	ErrResultRecord  ErrorType = "result_record_error"

	// Catch-all
	ErrInternalError ErrorType = "internal_error"
)

// Error is a pipeline failure tagged with its ErrorType.
type Error struct {
	Type ErrorType
	Err  error
}

// NewError wraps err with the given type.
func NewError(t ErrorType, err error) *Error {
	return &Error{Type: t, Err: err}
}

// Errorf formats a new typed error.
func Errorf(t ErrorType, format string, args ...any) *Error {
	return &Error{Type: t, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return string(e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same type, so callers can
// match kinds with errors.Is(err, &models.Error{Type: models.ErrBuildScript}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// ErrorTypeOf returns the type of the outermost *Error in err's chain, or ""
// if there is none.
func ErrorTypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// AsTyped returns err unchanged if it already carries an ErrorType, and
// otherwise wraps it with t.
func AsTyped(t ErrorType, err error) error {
	if err == nil {
		return nil
	}
	if ErrorTypeOf(err) != "" {
		return err
	}
	return NewError(t, err)
}

// Package errors defines the structured error taxonomy shared by the
// fingerprinter, the watchers and the rebuild actions.
//
// Every error carries a Type and a Recoverable flag. Watchers use the flag to
// decide whether a failed rebuild only costs that single attempt or stops the
// watcher altogether.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeScanIO         ErrorType = "scan_io"
	ErrorTypeExternalTool   ErrorType = "external_tool"
	ErrorTypeIncludeMissing ErrorType = "include_missing"
	ErrorTypeRender         ErrorType = "render"
	ErrorTypeIO             ErrorType = "io"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeInternal       ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeRootMissing      = "ERR_ROOT_MISSING"
	ErrCodeRootNotDir       = "ERR_ROOT_NOT_DIR"
	ErrCodeUnreadableFile   = "ERR_UNREADABLE_FILE"
	ErrCodeToolMissing      = "ERR_TOOL_MISSING"
	ErrCodeToolFailed       = "ERR_TOOL_FAILED"
	ErrCodeToolTimeout      = "ERR_TOOL_TIMEOUT"
	ErrCodeIncludeMissing   = "ERR_INCLUDE_MISSING"
	ErrCodeRenderFailed     = "ERR_RENDER_FAILED"
	ErrCodeWriteFailed      = "ERR_WRITE_FAILED"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeActionPanicked   = "ERR_ACTION_PANICKED"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)

// SiteError is a structured error type with context.
type SiteError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Path        string
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *SiteError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SiteError) Unwrap() error {
	return e.Cause
}

// Is matches another SiteError with the same type and code.
func (e *SiteError) Is(target error) bool {
	var t *SiteError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *SiteError) WithContext(key string, value interface{}) *SiteError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the filesystem path the error is about.
func (e *SiteError) WithPath(path string) *SiteError {
	e.Path = path

	return e
}

// NewConfigurationError reports a misconfigured or missing monitored root.
// It is fatal to launching the affected watch target.
func NewConfigurationError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewScanIOError reports a file that could not be read during a
// fingerprinting pass. The scan skips the file and carries on.
func NewScanIOError(path string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeScanIO,
		Code:        ErrCodeUnreadableFile,
		Message:     "unreadable file skipped",
		Cause:       cause,
		Path:        path,
		Recoverable: true,
	}
}

// NewExternalToolError reports a preprocessor that could not be launched,
// timed out or exited non-zero. Only the current compile attempt is lost.
func NewExternalToolError(code, tool, message string, cause error) *SiteError {
	return (&SiteError{
		Type:        ErrorTypeExternalTool,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}).WithContext("tool", tool)
}

// NewIncludeMissingError reports an include fragment that could not be read.
// The render pass is abandoned.
func NewIncludeMissingError(path string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeIncludeMissing,
		Code:        ErrCodeIncludeMissing,
		Message:     "include fragment unavailable",
		Cause:       cause,
		Path:        path,
		Recoverable: true,
	}
}

// NewRenderError reports a markdown source that failed to convert.
func NewRenderError(path string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeRender,
		Code:        ErrCodeRenderFailed,
		Message:     "markdown conversion failed",
		Cause:       cause,
		Path:        path,
		Recoverable: true,
	}
}

// NewSourceUnavailableError reports a source root that was present at
// startup but is missing or no longer a directory when a pass runs. Only
// that pass is lost; the next change retries.
func NewSourceUnavailableError(code, path string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeRender,
		Code:        code,
		Message:     "source root unavailable",
		Cause:       cause,
		Path:        path,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error. Output write failures are not
// recoverable: a watcher that cannot write its output stops.
func NewIOError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *SiteError {
	return &SiteError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Recoverable
	}

	return false
}

// IsType reports whether err is a SiteError of the given type.
func IsType(err error, t ErrorType) bool {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Type == t
	}

	return false
}

// ValidationErrorCollection gathers field errors found while validating
// configuration.
type ValidationErrorCollection struct {
	Errors []*FieldValidationError
}

// FieldValidationError is a single invalid configuration field.
type FieldValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", fve.Field, fve.Message)
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(field string, value interface{}, message string) {
	vec.Errors = append(vec.Errors, &FieldValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	})
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	switch len(vec.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return vec.Errors[0].Error()
	}

	messages := make([]string, 0, len(vec.Errors))
	for _, err := range vec.Errors {
		messages = append(messages, err.Error())
	}

	return fmt.Sprintf("validation failed with %d errors: %s", len(vec.Errors), strings.Join(messages, "; "))
}

// ToSiteError converts the collection to a SiteError, or nil when empty.
func (vec *ValidationErrorCollection) ToSiteError() *SiteError {
	if !vec.HasErrors() {
		return nil
	}

	se := &SiteError{
		Type:        ErrorTypeValidation,
		Code:        ErrCodeValidationFailed,
		Message:     vec.Error(),
		Recoverable: false,
	}
	for _, err := range vec.Errors {
		se.WithContext(err.Field, err.Value)
	}

	return se
}

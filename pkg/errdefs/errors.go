// Package errdefs defines the error taxonomy shared by the management plane.
//
// Every failure surfaced to a caller is an *Error carrying a Class (where the
// failure arose) and a Code (what went wrong). Comparison with errors.Is
// matches on Code, so the sentinel values below can be used against any
// wrapped error:
//
//	if errors.Is(err, errdefs.ErrResourceNotFound) { ... }
package errdefs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Class identifies the stage or layer an error originated in.
type Class string

const (
	// ClassModel errors are raised while validating or mutating the
	// configuration tree. They are local and never have runtime side effects.
	ClassModel Class = "model"

	// ClassRuntime errors are raised by service installation, removal or
	// startup.
	ClassRuntime Class = "runtime"

	// ClassTransformation errors are raised when an operation or resource
	// cannot be expressed for an older model version.
	ClassTransformation Class = "transformation"

	// ClassSecurity errors are raised by access control.
	ClassSecurity Class = "security"

	// ClassInternal covers everything else.
	ClassInternal Class = "internal"
)

// Code is the machine-readable failure kind.
type Code string

const (
	CodeSchemaViolation        Code = "SchemaViolation"
	CodeUnknownAttribute       Code = "UnknownAttribute"
	CodeWrongType              Code = "WrongType"
	CodeMissingRequired        Code = "MissingRequired"
	CodeImmutable              Code = "Immutable"
	CodeDuplicateResource      Code = "DuplicateResource"
	CodeResourceNotFound       Code = "ResourceNotFound"
	CodeResourceHasChildren    Code = "ResourceHasChildren"
	CodeUnknownOperation       Code = "UnknownOperation"
	CodeDuplicateService       Code = "DuplicateService"
	CodeServiceNotFound        Code = "ServiceNotFound"
	CodeServiceInUse           Code = "ServiceInUse"
	CodeCyclicDependency       Code = "CyclicDependency"
	CodeServiceStartFailure    Code = "ServiceStartFailure"
	CodeMissingDependencies    Code = "MissingDependencies"
	CodeVersionIncompatibility Code = "VersionIncompatibility"
	CodeAccessDenied           Code = "AccessDenied"
	CodeRollbackFailed         Code = "RollbackFailed"
	CodeTimeout                Code = "Timeout"
)

// Sentinels for errors.Is.
var (
	ErrSchemaViolation        = &Error{Code: CodeSchemaViolation}
	ErrUnknownAttribute       = &Error{Code: CodeUnknownAttribute}
	ErrWrongType              = &Error{Code: CodeWrongType}
	ErrMissingRequired        = &Error{Code: CodeMissingRequired}
	ErrImmutable              = &Error{Code: CodeImmutable}
	ErrDuplicateResource      = &Error{Code: CodeDuplicateResource}
	ErrResourceNotFound       = &Error{Code: CodeResourceNotFound}
	ErrResourceHasChildren    = &Error{Code: CodeResourceHasChildren}
	ErrUnknownOperation       = &Error{Code: CodeUnknownOperation}
	ErrDuplicateService       = &Error{Code: CodeDuplicateService}
	ErrServiceNotFound        = &Error{Code: CodeServiceNotFound}
	ErrServiceInUse           = &Error{Code: CodeServiceInUse}
	ErrCyclicDependency       = &Error{Code: CodeCyclicDependency}
	ErrServiceStartFailure    = &Error{Code: CodeServiceStartFailure}
	ErrMissingDependencies    = &Error{Code: CodeMissingDependencies}
	ErrVersionIncompatibility = &Error{Code: CodeVersionIncompatibility}
	ErrAccessDenied           = &Error{Code: CodeAccessDenied}
	ErrRollbackFailed         = &Error{Code: CodeRollbackFailed}
	ErrTimeout                = &Error{Code: CodeTimeout}
)

// Error is a classified management error with context.
type Error struct {
	// Class is the layer the error originated in.
	Class Class `json:"class"`

	// Code is the failure kind.
	Code Code `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Address is the rendered resource address or service name involved.
	Address string `json:"address,omitempty"`

	// Operation is the operation being executed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	switch {
	case e.Address != "" && e.Operation != "":
		fmt.Fprintf(&b, " (address=%s, operation=%s)", e.Address, e.Operation)
	case e.Address != "":
		fmt.Fprintf(&b, " (address=%s)", e.Address)
	case e.Operation != "":
		fmt.Fprintf(&b, " (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code, and on Class when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Class != "" && t.Class != e.Class {
		return false
	}
	return e.Code == t.Code
}

// New creates an error of the given class and code.
func New(class Class, code Code, message string) *Error {
	return &Error{Class: class, Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(class Class, code Code, format string, args ...interface{}) *Error {
	return &Error{Class: class, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given class and code around a cause.
func Wrap(class Class, code Code, message string, err error) *Error {
	return &Error{Class: class, Code: code, Message: message, Err: err}
}

// Model creates a model-stage error.
func Model(code Code, format string, args ...interface{}) *Error {
	return Newf(ClassModel, code, format, args...)
}

// Runtime creates a runtime-stage error.
func Runtime(code Code, format string, args ...interface{}) *Error {
	return Newf(ClassRuntime, code, format, args...)
}

// WithAddress adds address context to an error.
func (e *Error) WithAddress(address string) *Error {
	e.Address = address
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassOf returns the class of the first *Error in the chain. Errors outside
// the taxonomy are internal.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassInternal
}

// IsModel reports whether err arose before any runtime effect.
func IsModel(err error) bool {
	return ClassOf(err) == ClassModel
}

// IsRuntime reports whether err arose from the service layer.
func IsRuntime(err error) bool {
	return ClassOf(err) == ClassRuntime
}

// Rollback builds the error reported when compensations could not all be
// applied. The original failure stays in the chain.
func Rollback(original error, failures map[string]error) *Error {
	e := Wrap(ClassInternal, CodeRollbackFailed, "rollback did not complete", original)
	keys := make([]string, 0, len(failures))
	for k := range failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fmt.Sprintf("%s: %v", k, failures[k]))
	}
	return e.WithDetail("compensation_failures", msgs)
}

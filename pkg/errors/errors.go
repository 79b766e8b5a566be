// Package errors provides structured errors for the datalake.
// Every failure surfaced by the ingestion path carries a Code so callers can
// branch on the kind of failure without string matching.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies the kind of failure.
type Code string

const (
	// Source errors (1xx)
	CodeUnsupportedFormat Code = "E101"
	CodeSourceUnreadable  Code = "E102"
	CodeEmptySchema       Code = "E103"

	// Catalog errors (2xx)
	CodeDuplicateLogicalName Code = "E201"
	CodeCatalogCorrupt       Code = "E202"
	CodeTableNotFound        Code = "E203"

	// Storage errors (3xx)
	CodeLayoutUnwritable Code = "E301"
	CodeWriteFailed      Code = "E302"

	// Collaborator / system errors (4xx)
	CodeVersionControl  Code = "E401"
	CodeContextCanceled Code = "E402"
	CodeInvalidArgument Code = "E403"

	// Unknown
	CodeUnknown Code = "E999"
)

var codeNames = map[Code]string{
	CodeUnsupportedFormat:    "UnsupportedFormat",
	CodeSourceUnreadable:     "SourceUnreadable",
	CodeEmptySchema:          "EmptySchema",
	CodeDuplicateLogicalName: "DuplicateLogicalName",
	CodeCatalogCorrupt:       "CatalogCorrupt",
	CodeTableNotFound:        "TableNotFound",
	CodeLayoutUnwritable:     "LayoutUnwritable",
	CodeWriteFailed:          "WriteFailed",
	CodeVersionControl:       "VersionControlNotified=false",
	CodeContextCanceled:      "Canceled",
	CodeInvalidArgument:      "InvalidArgument",
}

// Name returns the human readable kind for the code.
func (c Code) Name() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "Unknown"
}

// LakeError is the error type returned by every datalake package.
type LakeError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *LakeError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s %s] %s", e.Code, e.Code.Name(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *LakeError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a LakeError with the same code.
func (e *LakeError) Is(target error) bool {
	if t, ok := target.(*LakeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *LakeError) WithContext(key string, value interface{}) *LakeError {
	if e == nil {
		return nil
	}
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Step returns the pipeline step recorded on the error, if any.
func (e *LakeError) Step() string {
	if s, ok := e.Context["step"].(string); ok {
		return s
	}
	return ""
}

// New creates a new LakeError.
func New(code Code, message string) *LakeError {
	return &LakeError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new LakeError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *LakeError {
	return &LakeError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
// Wrap returns nil when err is nil.
func Wrap(err error, code Code, message string) *LakeError {
	if err == nil {
		return nil
	}

	return &LakeError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *LakeError {
	if err == nil {
		return nil
	}
	return &LakeError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *LakeError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// UnsupportedFormat reports a source whose extension is not csv or parquet.
func UnsupportedFormat(path, ext string) *LakeError {
	return New(CodeUnsupportedFormat, "unsupported table format").
		WithContext("path", path).
		WithContext("extension", ext)
}

// SourceUnreadable reports a source that could not be opened or parsed.
func SourceUnreadable(path string, err error) *LakeError {
	return Wrap(err, CodeSourceUnreadable, "source file unreadable").
		WithContext("path", path)
}

// EmptySchema reports a source with zero columns.
func EmptySchema(path string) *LakeError {
	return New(CodeEmptySchema, "no columns found").WithContext("path", path)
}

// DuplicateLogicalName reports a logical name that is already registered.
func DuplicateLogicalName(name string, id int64) *LakeError {
	return New(CodeDuplicateLogicalName, "logical name already registered").
		WithContext("name", name).
		WithContext("id", id)
}

// CatalogCorrupt reports an unparsable or self-inconsistent catalog.
func CatalogCorrupt(reason string, err error) *LakeError {
	if err == nil {
		return New(CodeCatalogCorrupt, reason)
	}
	return Wrap(err, CodeCatalogCorrupt, reason)
}

// LayoutUnwritable reports a lake directory that cannot be created.
func LayoutUnwritable(path string, err error) *LakeError {
	if err == nil {
		return New(CodeLayoutUnwritable, "lake layout unwritable").WithContext("path", path)
	}
	return Wrap(err, CodeLayoutUnwritable, "lake layout unwritable").WithContext("path", path)
}

// WriteFailed reports storage rejecting a write.
func WriteFailed(path string, err error) *LakeError {
	return Wrap(err, CodeWriteFailed, "write failed").WithContext("path", path)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, err error) *LakeError {
	if err == nil {
		return New(CodeContextCanceled, "operation canceled").WithContext("operation", operation)
	}
	return Wrap(err, CodeContextCanceled, "operation canceled").WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var lakeErr *LakeError
	if errors.As(err, &lakeErr) {
		return lakeErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var lakeErr *LakeError
	if errors.As(err, &lakeErr) {
		return lakeErr.Code
	}
	return CodeUnknown
}

// StepOf returns the pipeline step recorded on err, or "".
func StepOf(err error) string {
	var lakeErr *LakeError
	if errors.As(err, &lakeErr) {
		return lakeErr.Step()
	}
	return ""
}

// IsWarning returns true for codes that do not fail an ingestion.
func IsWarning(err error) bool {
	return GetCode(err) == CodeVersionControl
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}

// Package errors defines the failure taxonomy of the document pipeline and
// the parser that turns compiler stderr into structured diagnostics.
//
// Every component returns one of the typed errors below. The pipeline
// orchestrator wraps them in a PipelineError at its boundary so callers
// can tell a renderer failure from a compiler or validation failure with
// errors.As.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorises a pipeline failure.
type ErrorKind string

const (
	KindTemplateNotFound   ErrorKind = "template_not_found"
	KindMissingField       ErrorKind = "missing_field"
	KindRender             ErrorKind = "render"
	KindCompilation        ErrorKind = "compilation"
	KindValidationMismatch ErrorKind = "validation_mismatch"
	KindStorage            ErrorKind = "storage"
	KindConfig             ErrorKind = "config"
	KindInternal           ErrorKind = "internal"
)

// Stage names the pipeline step that was running when a failure occurred.
type Stage string

const (
	StageRender   Stage = "render"
	StageCompile  Stage = "compile"
	StageStore    Stage = "store"
	StageValidate Stage = "validate"
	StageInternal Stage = "internal"
)

// TemplateNotFoundError reports a template identifier that does not resolve
// to any loaded template. It is a deployment problem and is never retried.
type TemplateNotFoundError struct {
	TemplateID string
	Known      []string
}

func (e *TemplateNotFoundError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("template %q not found", e.TemplateID)
	}
	return fmt.Sprintf("template %q not found (known: %s)", e.TemplateID, strings.Join(e.Known, ", "))
}

// MissingFieldError reports required context fields that were absent.
type MissingFieldError struct {
	TemplateID string
	Fields     []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("template %q: missing required field(s): %s", e.TemplateID, strings.Join(e.Fields, ", "))
}

// RenderError wraps a failure of the template engine itself.
type RenderError struct {
	TemplateID string
	Cause      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template %q: render failed: %v", e.TemplateID, e.Cause)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// CompileFailure is the sub-kind of a CompilationError.
type CompileFailure string

const (
	FailureSpawn       CompileFailure = "spawn"
	FailureNonZeroExit CompileFailure = "nonzero-exit"
	FailureTimeout     CompileFailure = "timeout"
	// FailureCanceled means the caller's context ended before the compiler
	// finished.
	FailureCanceled    CompileFailure = "canceled"
	FailureOutput      CompileFailure = "output"
)

// CompilationError reports a failed compiler invocation. Stderr holds the
// compiler's raw diagnostic text; Diagnostics holds the parsed form.
type CompilationError struct {
	Reason      CompileFailure
	ExitCode    int
	Stderr      string
	Diagnostics []*Diagnostic
	Cause       error
}

func (e *CompilationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "compilation failed (%s)", e.Reason)
	if e.Reason == FailureNonZeroExit {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if len(e.Diagnostics) > 0 {
		fmt.Fprintf(&b, ": %s", e.Diagnostics[0])
	} else if msg := strings.TrimSpace(e.Stderr); msg != "" {
		fmt.Fprintf(&b, ": %s", firstLine(msg))
	}
	return b.String()
}

func (e *CompilationError) Unwrap() error {
	return e.Cause
}

// MismatchKind is the sub-kind of a ValidationMismatchError.
type MismatchKind string

const (
	MismatchPageCount     MismatchKind = "page-count"
	MismatchGoldenCount   MismatchKind = "golden-count"
	MismatchMissingGolden MismatchKind = "missing-golden"
	MismatchDimensions    MismatchKind = "dimensions"
	MismatchPixels        MismatchKind = "pixels"
)

// ValidationMismatchError reports a rendered page that differs from its
// golden image, or a page count that differs from the declared one.
type ValidationMismatchError struct {
	Case      string
	Kind      MismatchKind
	Page      int
	Expected  string
	Actual    string
	DiffRatio float64
	DiffPath  string
}

func (e *ValidationMismatchError) Error() string {
	switch e.Kind {
	case MismatchPageCount:
		return fmt.Sprintf("case %q: page count mismatch: expected %s pages, got %s", e.Case, e.Expected, e.Actual)
	case MismatchGoldenCount:
		return fmt.Sprintf("case %q: golden set has %s pages, declared page count is %s", e.Case, e.Actual, e.Expected)
	case MismatchMissingGolden:
		return fmt.Sprintf("case %q: page %d: golden image %s not found", e.Case, e.Page, e.Expected)
	case MismatchDimensions:
		return fmt.Sprintf("case %q: page %d: size %s, golden is %s", e.Case, e.Page, e.Actual, e.Expected)
	default:
		msg := fmt.Sprintf("case %q: page %d: %.4f%% of pixels differ", e.Case, e.Page, e.DiffRatio*100)
		if e.DiffPath != "" {
			msg += " (diff written to " + e.DiffPath + ")"
		}
		return msg
	}
}

// PipelineError is the single failure type returned by the orchestrator.
type PipelineError struct {
	Stage      Stage
	Kind       ErrorKind
	RecordID   string
	TemplateID string
	Cause      error
}

func (e *PipelineError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Stage))
	if e.RecordID != "" {
		parts = append(parts, "record:"+e.RecordID)
	}
	if e.TemplateID != "" {
		parts = append(parts, "template:"+e.TemplateID)
	}
	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += ": " + e.Cause.Error()
	}
	return result
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches another PipelineError by stage and kind.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Stage == t.Stage && e.Kind == t.Kind
	}
	return false
}

// Wrap builds a PipelineError for cause, deriving the kind from the cause.
func Wrap(stage Stage, recordID, templateID string, cause error) *PipelineError {
	return &PipelineError{
		Stage:      stage,
		Kind:       KindOf(cause),
		RecordID:   recordID,
		TemplateID: templateID,
		Cause:      cause,
	}
}

// KindOf classifies err by the typed error it wraps.
func KindOf(err error) ErrorKind {
	var (
		pe  *PipelineError
		tnf *TemplateNotFoundError
		mf  *MissingFieldError
		re  *RenderError
		ce  *CompilationError
		vm  *ValidationMismatchError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Kind
	case errors.As(err, &tnf):
		return KindTemplateNotFound
	case errors.As(err, &mf):
		return KindMissingField
	case errors.As(err, &re):
		return KindRender
	case errors.As(err, &ce):
		return KindCompilation
	case errors.As(err, &vm):
		return KindValidationMismatch
	default:
		return KindInternal
	}
}

// IsRetryable reports whether a caller may reasonably retry the operation
// that produced err. Only compiler failures qualify, and not those the
// caller canceled; nothing retries automatically.
func IsRetryable(err error) bool {
	var ce *CompilationError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Reason != FailureOutput && ce.Reason != FailureCanceled
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

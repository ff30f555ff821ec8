package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"nil", nil, ""},
		{"template not found", &TemplateNotFoundError{TemplateID: "x"}, KindTemplateNotFound},
		{"missing field", &MissingFieldError{TemplateID: "x", Fields: []string{"a"}}, KindMissingField},
		{"render", &RenderError{TemplateID: "x", Cause: errors.New("boom")}, KindRender},
		{"compilation", &CompilationError{Reason: FailureTimeout}, KindCompilation},
		{"wrapped compilation", fmt.Errorf("outer: %w", &CompilationError{Reason: FailureSpawn}), KindCompilation},
		{"validation", &ValidationMismatchError{Kind: MismatchPixels}, KindValidationMismatch},
		{"plain", errors.New("plain"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestPipelineError_UnwrapAndIs(t *testing.T) {
	cause := &MissingFieldError{TemplateID: "prescription", Fields: []string{"patient.name"}}
	err := Wrap(StageRender, "rec-1", "prescription", cause)

	assert.Equal(t, KindMissingField, err.Kind)
	assert.Contains(t, err.Error(), "[render]")
	assert.Contains(t, err.Error(), "record:rec-1")
	assert.Contains(t, err.Error(), "patient.name")

	var mf *MissingFieldError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, []string{"patient.name"}, mf.Fields)

	assert.True(t, errors.Is(err, &PipelineError{Stage: StageRender, Kind: KindMissingField}))
	assert.False(t, errors.Is(err, &PipelineError{Stage: StageCompile, Kind: KindMissingField}))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&CompilationError{Reason: FailureTimeout}))
	assert.True(t, IsRetryable(Wrap(StageCompile, "r", "t", &CompilationError{Reason: FailureNonZeroExit, ExitCode: 1})))
	assert.True(t, IsRetryable(&CompilationError{Reason: FailureSpawn}))
	assert.False(t, IsRetryable(&CompilationError{Reason: FailureOutput}))
	assert.False(t, IsRetryable(&CompilationError{Reason: FailureCanceled, Cause: context.Canceled}))
	assert.False(t, IsRetryable(&MissingFieldError{}))
	assert.False(t, IsRetryable(&TemplateNotFoundError{}))
	assert.False(t, IsRetryable(nil))
}

func TestCompilationError_Message(t *testing.T) {
	err := &CompilationError{
		Reason:   FailureNonZeroExit,
		ExitCode: 1,
		Stderr:   "error: unknown variable: x\n  ┌─ <stdin>:1:2\n",
	}
	assert.Equal(t, "compilation failed (nonzero-exit) with exit code 1: error: unknown variable: x", err.Error())

	err.Diagnostics = NewErrorParser().Parse(err.Stderr)
	assert.Equal(t, "compilation failed (nonzero-exit) with exit code 1: <stdin>:1:2: error: unknown variable: x", err.Error())
}

func TestValidationMismatchError_Message(t *testing.T) {
	err := &ValidationMismatchError{Case: "empty", Kind: MismatchPageCount, Expected: "1", Actual: "2"}
	assert.Equal(t, `case "empty": page count mismatch: expected 1 pages, got 2`, err.Error())

	err = &ValidationMismatchError{Case: "empty", Kind: MismatchPixels, Page: 1, DiffRatio: 0.5}
	assert.Equal(t, `case "empty": page 1: 50.0000% of pixels differ`, err.Error())
}

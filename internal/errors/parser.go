package errors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Severity of a compiler diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one structured message extracted from compiler output.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Message  string   `json:"message"`
	Hints    []string `json:"hints,omitempty"`
	Snippet  []string `json:"snippet,omitempty"`
}

func (d *Diagnostic) String() string {
	if d.File == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Severity, d.Message)
}

// ErrorParser parses typst's human-readable diagnostics:
//
//	error: unknown variable: foo
//	  ┌─ <stdin>:3:2
//	  │
//	3 │ #foo
//	  │  ^^^
//	  = hint: ...
type ErrorParser struct {
	header   *regexp.Regexp
	location *regexp.Regexp
	hint     *regexp.Regexp
	snippet  *regexp.Regexp
}

// NewErrorParser creates a new error parser
func NewErrorParser() *ErrorParser {
	return &ErrorParser{
		header:   regexp.MustCompile(`^(error|warning): (.+)$`),
		location: regexp.MustCompile(`^[┌╭]─ (.+?):(\d+):(\d+)$`),
		hint:     regexp.MustCompile(`^(?:= )?hint: (.+)$`),
		snippet:  regexp.MustCompile(`^\d+ │ (.*)$`),
	}
}

// Parse extracts diagnostics from compiler stderr. Lines that precede the
// first header are ignored.
func (p *ErrorParser) Parse(output string) []*Diagnostic {
	var (
		diags   []*Diagnostic
		current *Diagnostic
	)

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := p.header.FindStringSubmatch(line); m != nil {
			current = &Diagnostic{Severity: Severity(m[1]), Message: m[2]}
			diags = append(diags, current)
			continue
		}
		if current == nil {
			continue
		}

		if m := p.location.FindStringSubmatch(line); m != nil && current.File == "" {
			current.File = m[1]
			current.Line, _ = strconv.Atoi(m[2])
			current.Column, _ = strconv.Atoi(m[3])
			continue
		}
		if m := p.hint.FindStringSubmatch(line); m != nil {
			current.Hints = append(current.Hints, m[1])
			continue
		}
		if m := p.snippet.FindStringSubmatch(line); m != nil {
			current.Snippet = append(current.Snippet, m[1])
		}
	}

	return diags
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []*Diagnostic) []*Diagnostic {
	var out []*Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

package validator

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
)

// PageResult describes the comparison of one page.
type PageResult struct {
	Page       int     `json:"page"`
	Golden     string  `json:"golden"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	DiffPixels int     `json:"diff_pixels"`
	DiffRatio  float64 `json:"diff_ratio"`
	MaxDelta   int     `json:"max_delta"`
	DiffPath   string  `json:"diff_path,omitempty"`
	Passed     bool    `json:"passed"`
	Updated    bool    `json:"updated,omitempty"`
}

// Report summarises a golden case.
type Report struct {
	Case          string       `json:"case"`
	ExpectedPages int          `json:"expected_pages"`
	ActualPages   int          `json:"actual_pages"`
	GoldenPages   int          `json:"golden_pages"`
	Tolerance     Tolerance    `json:"tolerance"`
	Pages         []PageResult `json:"pages"`
	Updated       bool         `json:"updated,omitempty"`
	Removed       []int        `json:"removed,omitempty"`
	Err           error        `json:"-"`
}

func (r *Report) fail(err error) (*Report, error) {
	r.Err = err
	return r, err
}

// Passed reports whether the case passed or was updated.
func (r *Report) Passed() bool {
	return r.Err == nil
}

// Mismatch returns the validation mismatch behind a failure, if any.
func (r *Report) Mismatch() *rxerrors.ValidationMismatchError {
	var vm *rxerrors.ValidationMismatchError
	if errors.As(r.Err, &vm) {
		return vm
	}
	return nil
}

// String renders the report as Markdown.
func (r *Report) String() string {
	var report strings.Builder

	status := "PASS"
	switch {
	case r.Updated:
		status = "UPDATED"
	case r.Err != nil:
		status = "FAIL"
	}

	report.WriteString(fmt.Sprintf("# Golden Case %s: %s\n\n", r.Case, status))
	report.WriteString("## Summary\n")
	report.WriteString(fmt.Sprintf("- **Expected Pages**: %d\n", r.ExpectedPages))
	report.WriteString(fmt.Sprintf("- **Rendered Pages**: %d\n", r.ActualPages))
	report.WriteString(fmt.Sprintf("- **Golden Pages**: %d\n", r.GoldenPages))
	report.WriteString(fmt.Sprintf("- **Tolerance**: channel delta %d, diff ratio %g\n",
		r.Tolerance.MaxChannelDelta, r.Tolerance.MaxDiffRatio))
	if len(r.Removed) > 0 {
		report.WriteString(fmt.Sprintf("- **Removed Stale Pages**: %v\n", r.Removed))
	}
	report.WriteString("\n")

	if len(r.Pages) > 0 {
		report.WriteString("## Pages\n\n")
		report.WriteString("| Page | Result | Size | Differing Pixels | Max Delta | Diff |\n")
		report.WriteString("|------|--------|------|------------------|-----------|------|\n")
		for _, p := range r.Pages {
			result := "pass"
			switch {
			case p.Updated:
				result = "updated"
			case !p.Passed:
				result = "fail"
			}
			size := "-"
			if p.Width > 0 {
				size = fmt.Sprintf("%dx%d", p.Width, p.Height)
			}
			diff := p.DiffPath
			if diff == "" {
				diff = "-"
			}
			report.WriteString(fmt.Sprintf("| %d | %s | %s | %d (%.4f%%) | %d | %s |\n",
				p.Page, result, size, p.DiffPixels, p.DiffRatio*100, p.MaxDelta, diff))
		}
		report.WriteString("\n")
	}

	if r.Err != nil {
		report.WriteString("## Failure\n\n")
		report.WriteString(r.Err.Error())
		report.WriteString("\n")
	}

	return report.String()
}

// AssertGolden compiles source and fails t with the report when the case
// does not match its goldens.
func AssertGolden(t testing.TB, v *Validator, caseName string, source []byte) *Report {
	t.Helper()

	report, err := v.ValidateSource(t.Context(), caseName, source)
	if err != nil {
		t.Errorf("golden case %s failed:\n%s", caseName, report)
	}
	return report
}

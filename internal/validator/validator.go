// Package validator compares compiled pages against golden images.
//
// Golden images live at <golden>/<template>/<case>/page-<n>.png next to the
// case's context.yaml. A run fails when the rendered page count differs from
// the declared one, when the golden set has a different size, or when any
// page differs beyond the configured tolerance. Goldens are written only in
// update mode.
package validator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/conneroisu/rxpdf/internal/compiler"
	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
	"github.com/conneroisu/rxpdf/internal/logging"
	"github.com/conneroisu/rxpdf/internal/registry"
	"github.com/conneroisu/rxpdf/internal/validation"
)

// ContextFile is the per-case render context stored beside the goldens.
const ContextFile = "context.yaml"

// Options configure a Validator.
type Options struct {
	// GoldenDir holds one directory per case.
	GoldenDir string
	// ExpectedPages is the declared page count for every case not listed
	// in CasePages.
	ExpectedPages int
	CasePages     map[string]int
	Tolerance     Tolerance
	// Update rewrites goldens from the rendered pages instead of comparing.
	Update bool
	// KeepDiffs writes a diff image for every failing page under DiffDir.
	KeepDiffs bool
	DiffDir   string
	Logger    logging.Logger
}

// OptionsFor scopes base to one template: goldens under
// <base.GoldenDir>/<template> and page counts from the manifest layout.
func OptionsFor(src *registry.TemplateSource, base Options) Options {
	opts := base
	opts.GoldenDir = filepath.Join(base.GoldenDir, src.ID)
	if base.DiffDir != "" {
		opts.DiffDir = filepath.Join(base.DiffDir, src.ID)
	}
	opts.ExpectedPages = src.Layout.ExpectedPages
	opts.CasePages = src.Layout.Cases
	return opts
}

// Validator checks compiled pages against goldens.
type Validator struct {
	compiler compiler.Compiler
	opts     Options
	logger   logging.Logger
}

// New creates a Validator. c may be nil when only ValidatePages is used.
func New(c compiler.Compiler, opts Options) (*Validator, error) {
	if opts.GoldenDir == "" {
		return nil, errors.New("validator: golden directory is required")
	}
	if err := opts.Tolerance.Validate(); err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}
	if opts.KeepDiffs && opts.DiffDir == "" {
		opts.DiffDir = filepath.Join(opts.GoldenDir, "_diffs")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Validator{
		compiler: c,
		opts:     opts,
		logger:   opts.Logger.WithComponent("validator"),
	}, nil
}

// ExpectedPages returns the declared page count for caseName.
func (v *Validator) ExpectedPages(caseName string) int {
	if n, ok := v.opts.CasePages[caseName]; ok {
		return n
	}
	return v.opts.ExpectedPages
}

// CaseDir returns the golden directory for caseName.
func (v *Validator) CaseDir(caseName string) string {
	return filepath.Join(v.opts.GoldenDir, validation.SanitizeFileName(caseName))
}

// GoldenPath returns the golden image path for a 1-based page.
func (v *Validator) GoldenPath(caseName string, page int) string {
	return filepath.Join(v.CaseDir(caseName), pageFile(page))
}

func pageFile(page int) string {
	return "page-" + strconv.Itoa(page) + ".png"
}

// ValidateSource compiles source to PNG and validates the pages.
func (v *Validator) ValidateSource(ctx context.Context, caseName string, source []byte) (*Report, error) {
	if v.compiler == nil {
		return nil, errors.New("validator: no compiler configured")
	}
	out, err := v.compiler.Compile(ctx, source, compiler.FormatPNG)
	if err != nil {
		return &Report{Case: caseName, ExpectedPages: v.ExpectedPages(caseName), Err: err}, err
	}
	return v.ValidatePages(caseName, out.Pages)
}

// ValidatePages validates rendered PNG pages. The returned error is a
// *errors.ValidationMismatchError for a mismatch; the report is always
// returned and describes every page that was compared.
func (v *Validator) ValidatePages(caseName string, pages [][]byte) (*Report, error) {
	expected := v.ExpectedPages(caseName)
	report := &Report{
		Case:          caseName,
		ExpectedPages: expected,
		ActualPages:   len(pages),
		Tolerance:     v.opts.Tolerance,
	}

	if expected < 1 {
		return report.fail(fmt.Errorf("case %q: no expected page count declared", caseName))
	}
	if len(pages) != expected {
		return report.fail(&rxerrors.ValidationMismatchError{
			Case:     caseName,
			Kind:     rxerrors.MismatchPageCount,
			Expected: strconv.Itoa(expected),
			Actual:   strconv.Itoa(len(pages)),
		})
	}

	if v.opts.Update {
		return v.update(report, pages)
	}

	goldens, err := v.goldenPages(caseName)
	if err != nil {
		return report.fail(err)
	}
	report.GoldenPages = len(goldens)
	if len(goldens) != expected {
		return report.fail(&rxerrors.ValidationMismatchError{
			Case:     caseName,
			Kind:     rxerrors.MismatchGoldenCount,
			Expected: strconv.Itoa(expected),
			Actual:   strconv.Itoa(len(goldens)),
		})
	}

	var first error
	for i, data := range pages {
		result, err := v.comparePage(caseName, i+1, data)
		report.Pages = append(report.Pages, result)
		if err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return report.fail(first)
	}

	v.logger.Debug(context.Background(), "golden case passed", "case", caseName, "pages", len(pages))
	return report, nil
}

func (v *Validator) comparePage(caseName string, page int, data []byte) (PageResult, error) {
	goldenPath := v.GoldenPath(caseName, page)
	result := PageResult{Page: page, Golden: goldenPath}

	goldenData, err := os.ReadFile(goldenPath)
	if errors.Is(err, fs.ErrNotExist) {
		return result, &rxerrors.ValidationMismatchError{
			Case:     caseName,
			Kind:     rxerrors.MismatchMissingGolden,
			Page:     page,
			Expected: goldenPath,
		}
	}
	if err != nil {
		return result, err
	}

	golden, err := decodePNG(goldenData)
	if err != nil {
		return result, fmt.Errorf("golden %s: %w", goldenPath, err)
	}
	actual, err := decodePNG(data)
	if err != nil {
		return result, fmt.Errorf("case %q: page %d: decode rendered page: %w", caseName, page, err)
	}

	gb, ab := golden.Bounds(), actual.Bounds()
	if gb.Dx() != ab.Dx() || gb.Dy() != ab.Dy() {
		return result, &rxerrors.ValidationMismatchError{
			Case:     caseName,
			Kind:     rxerrors.MismatchDimensions,
			Page:     page,
			Expected: fmt.Sprintf("%dx%d", gb.Dx(), gb.Dy()),
			Actual:   fmt.Sprintf("%dx%d", ab.Dx(), ab.Dy()),
		}
	}

	cmp := compare(golden, actual, v.opts.Tolerance)
	result.Width, result.Height = cmp.Width, cmp.Height
	result.DiffPixels = cmp.DiffPixels
	result.DiffRatio = cmp.DiffRatio
	result.MaxDelta = cmp.MaxDelta
	result.Passed = cmp.Passed(v.opts.Tolerance)
	if result.Passed {
		return result, nil
	}

	if v.opts.KeepDiffs && cmp.diff != nil {
		path, err := v.writeDiff(caseName, page, cmp)
		if err != nil {
			v.logger.Warn(context.Background(), err, "could not write diff image", "case", caseName, "page", page)
		}
		result.DiffPath = path
	}

	return result, &rxerrors.ValidationMismatchError{
		Case:      caseName,
		Kind:      rxerrors.MismatchPixels,
		Page:      page,
		DiffRatio: cmp.DiffRatio,
		DiffPath:  result.DiffPath,
	}
}

func (v *Validator) writeDiff(caseName string, page int, cmp Comparison) (string, error) {
	data, err := encodePNG(cmp.diff)
	if err != nil {
		return "", err
	}
	path := filepath.Join(v.opts.DiffDir, validation.SanitizeFileName(caseName), "page-"+strconv.Itoa(page)+".diff.png")
	if err := compiler.WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// update writes the rendered pages as the new goldens and removes golden
// pages beyond the new count.
func (v *Validator) update(report *Report, pages [][]byte) (*Report, error) {
	paths := make([]string, len(pages))
	for i, data := range pages {
		if _, err := decodePNG(data); err != nil {
			return report.fail(fmt.Errorf("case %q: page %d: refusing to store undecodable golden: %w", report.Case, i+1, err))
		}
		paths[i] = v.GoldenPath(report.Case, i+1)
	}
	if err := compiler.WritePagesAtomic(paths, pages); err != nil {
		return report.fail(err)
	}
	for i, path := range paths {
		report.Pages = append(report.Pages, PageResult{Page: i + 1, Golden: path, Passed: true, Updated: true})
	}

	existing, err := v.goldenPages(report.Case)
	if err != nil {
		return report.fail(err)
	}
	for _, n := range existing {
		if n > len(pages) {
			if err := os.Remove(v.GoldenPath(report.Case, n)); err != nil {
				return report.fail(err)
			}
			report.Removed = append(report.Removed, n)
		}
	}

	report.GoldenPages = len(pages)
	report.Updated = true
	v.logger.Info(context.Background(), "golden images updated",
		"case", report.Case, "pages", len(pages), "removed", len(report.Removed))
	return report, nil
}

// goldenPages lists the page numbers present in a case directory.
func (v *Validator) goldenPages(caseName string) ([]int, error) {
	entries, err := os.ReadDir(v.CaseDir(caseName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var pages []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := compiler.PageNumber(e.Name(), ".png"); ok {
			pages = append(pages, n)
		}
	}
	sort.Ints(pages)
	return pages, nil
}

// Cases lists the case directories under the golden directory that carry a
// context file.
func (v *Validator) Cases() ([]string, error) {
	entries, err := os.ReadDir(v.opts.GoldenDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cases []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(v.opts.GoldenDir, e.Name(), ContextFile)); err == nil {
			cases = append(cases, e.Name())
		}
	}
	sort.Strings(cases)
	return cases, nil
}

// ContextPath returns the context file for caseName.
func (v *Validator) ContextPath(caseName string) string {
	return filepath.Join(v.CaseDir(caseName), ContextFile)
}

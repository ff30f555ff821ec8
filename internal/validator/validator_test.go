package validator

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/rxpdf/internal/compiler"
	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
	"github.com/conneroisu/rxpdf/internal/registry"
	"github.com/conneroisu/rxpdf/internal/testutils"
)

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.RGBA{A: 255}
)

func page(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	return testutils.EncodePNG(t, testutils.SolidPage(w, h, c))
}

func pageWithDots(t *testing.T, w, h int, dots int) []byte {
	t.Helper()
	img := testutils.SolidPage(w, h, white)
	for i := 0; i < dots; i++ {
		img.Set(i%w, i/w, black)
	}
	return testutils.EncodePNG(t, img)
}

func newValidator(t *testing.T, mutate ...func(*Options)) *Validator {
	t.Helper()
	opts := Options{GoldenDir: t.TempDir(), ExpectedPages: 1}
	for _, m := range mutate {
		m(&opts)
	}
	v, err := New(nil, opts)
	require.NoError(t, err)
	return v
}

func writeGoldens(t *testing.T, v *Validator, caseName string, pages ...[]byte) {
	t.Helper()
	for i, p := range pages {
		path := v.GoldenPath(caseName, i+1)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, p, 0o644))
	}
}

func mismatchKind(t *testing.T, err error) rxerrors.MismatchKind {
	t.Helper()
	var vm *rxerrors.ValidationMismatchError
	require.True(t, errors.As(err, &vm), "expected ValidationMismatchError, got %v", err)
	return vm.Kind
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	_, err = New(nil, Options{GoldenDir: "x", Tolerance: Tolerance{MaxDiffRatio: 1.5}})
	assert.Error(t, err)

	_, err = New(nil, Options{GoldenDir: "x", Tolerance: Tolerance{MaxChannelDelta: -1}})
	assert.Error(t, err)
}

func TestValidatePagesExactMatch(t *testing.T) {
	v := newValidator(t)
	writeGoldens(t, v, "basic", page(t, 8, 8, white))

	report, err := v.ValidatePages("basic", [][]byte{page(t, 8, 8, white)})
	require.NoError(t, err)
	assert.True(t, report.Passed())
	require.Len(t, report.Pages, 1)
	assert.Equal(t, 0, report.Pages[0].DiffPixels)
	assert.Equal(t, 8, report.Pages[0].Width)
}

func TestValidatePagesColorModelIndependent(t *testing.T) {
	v := newValidator(t)

	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range gray.Pix {
		gray.Pix[i] = 255
	}
	writeGoldens(t, v, "gray", testutils.EncodePNG(t, gray))

	_, err := v.ValidatePages("gray", [][]byte{page(t, 4, 4, white)})
	require.NoError(t, err)
}

func TestValidatePagesPageCount(t *testing.T) {
	v := newValidator(t, func(o *Options) {
		o.ExpectedPages = 2
		o.CasePages = map[string]int{"long": 3}
	})
	writeGoldens(t, v, "short", page(t, 4, 4, white), page(t, 4, 4, white))

	t.Run("fewer pages than declared", func(t *testing.T) {
		report, err := v.ValidatePages("short", [][]byte{page(t, 4, 4, white)})
		assert.Equal(t, rxerrors.MismatchPageCount, mismatchKind(t, err))
		assert.Empty(t, report.Pages, "no subset comparison")
	})

	t.Run("more pages than declared", func(t *testing.T) {
		_, err := v.ValidatePages("short", [][]byte{
			page(t, 4, 4, white), page(t, 4, 4, white), page(t, 4, 4, white),
		})
		assert.Equal(t, rxerrors.MismatchPageCount, mismatchKind(t, err))
	})

	t.Run("per case expectation", func(t *testing.T) {
		assert.Equal(t, 3, v.ExpectedPages("long"))
		assert.Equal(t, 2, v.ExpectedPages("short"))
	})
}

func TestValidatePagesGoldenCount(t *testing.T) {
	v := newValidator(t)

	t.Run("no goldens", func(t *testing.T) {
		_, err := v.ValidatePages("fresh", [][]byte{page(t, 4, 4, white)})
		assert.Equal(t, rxerrors.MismatchGoldenCount, mismatchKind(t, err))
	})

	t.Run("stale extra golden", func(t *testing.T) {
		writeGoldens(t, v, "stale", page(t, 4, 4, white), page(t, 4, 4, white))
		_, err := v.ValidatePages("stale", [][]byte{page(t, 4, 4, white)})
		assert.Equal(t, rxerrors.MismatchGoldenCount, mismatchKind(t, err))
	})
}

func TestValidatePagesDimensions(t *testing.T) {
	v := newValidator(t)
	writeGoldens(t, v, "dims", page(t, 8, 8, white))

	_, err := v.ValidatePages("dims", [][]byte{page(t, 8, 9, white)})
	assert.Equal(t, rxerrors.MismatchDimensions, mismatchKind(t, err))
	assert.Contains(t, err.Error(), "8x9")
}

func TestValidatePagesPixels(t *testing.T) {
	t.Run("exact by default", func(t *testing.T) {
		v := newValidator(t)
		writeGoldens(t, v, "px", page(t, 10, 10, white))

		report, err := v.ValidatePages("px", [][]byte{pageWithDots(t, 10, 10, 1)})
		assert.Equal(t, rxerrors.MismatchPixels, mismatchKind(t, err))
		assert.Equal(t, 1, report.Pages[0].DiffPixels)
		assert.InDelta(t, 0.01, report.Pages[0].DiffRatio, 1e-9)
		assert.Empty(t, report.Pages[0].DiffPath, "diffs only written on request")
	})

	t.Run("ratio tolerance", func(t *testing.T) {
		v := newValidator(t, func(o *Options) { o.Tolerance.MaxDiffRatio = 0.05 })
		writeGoldens(t, v, "px", page(t, 10, 10, white))

		_, err := v.ValidatePages("px", [][]byte{pageWithDots(t, 10, 10, 5)})
		require.NoError(t, err)

		_, err = v.ValidatePages("px", [][]byte{pageWithDots(t, 10, 10, 6)})
		assert.Equal(t, rxerrors.MismatchPixels, mismatchKind(t, err))
	})

	t.Run("channel tolerance", func(t *testing.T) {
		v := newValidator(t, func(o *Options) { o.Tolerance.MaxChannelDelta = 3 })
		writeGoldens(t, v, "px", page(t, 4, 4, white))

		_, err := v.ValidatePages("px", [][]byte{page(t, 4, 4, color.RGBA{R: 252, G: 253, B: 255, A: 255})})
		require.NoError(t, err)

		_, err = v.ValidatePages("px", [][]byte{page(t, 4, 4, color.RGBA{R: 251, G: 255, B: 255, A: 255})})
		assert.Equal(t, rxerrors.MismatchPixels, mismatchKind(t, err))
	})

	t.Run("keep diffs", func(t *testing.T) {
		diffDir := t.TempDir()
		v := newValidator(t, func(o *Options) {
			o.KeepDiffs = true
			o.DiffDir = diffDir
		})
		writeGoldens(t, v, "px", page(t, 4, 4, white))

		report, err := v.ValidatePages("px", [][]byte{pageWithDots(t, 4, 4, 2)})
		require.Error(t, err)

		diffPath := report.Pages[0].DiffPath
		assert.Equal(t, filepath.Join(diffDir, "px", "page-1.diff.png"), diffPath)
		assert.FileExists(t, diffPath)
		assert.Contains(t, err.Error(), diffPath)
	})
}

func TestValidatePagesReportsEveryPage(t *testing.T) {
	v := newValidator(t, func(o *Options) { o.ExpectedPages = 3 })
	writeGoldens(t, v, "multi", page(t, 4, 4, white), page(t, 4, 4, white), page(t, 4, 4, white))

	report, err := v.ValidatePages("multi", [][]byte{
		page(t, 4, 4, white), pageWithDots(t, 4, 4, 1), page(t, 4, 4, white),
	})
	require.Error(t, err)

	var vm *rxerrors.ValidationMismatchError
	require.True(t, errors.As(err, &vm))
	assert.Equal(t, 2, vm.Page)
	require.Len(t, report.Pages, 3)
	assert.True(t, report.Pages[0].Passed)
	assert.False(t, report.Pages[1].Passed)
	assert.True(t, report.Pages[2].Passed)
}

func TestUpdateMode(t *testing.T) {
	v := newValidator(t, func(o *Options) {
		o.Update = true
		o.ExpectedPages = 2
	})

	writeGoldens(t, v, "upd", page(t, 4, 4, black), page(t, 4, 4, black), page(t, 4, 4, black))

	report, err := v.ValidatePages("upd", [][]byte{page(t, 4, 4, white), page(t, 4, 4, white)})
	require.NoError(t, err)
	assert.True(t, report.Updated)
	assert.Equal(t, []int{3}, report.Removed)
	assert.NoFileExists(t, v.GoldenPath("upd", 3))

	got, err := os.ReadFile(v.GoldenPath("upd", 1))
	require.NoError(t, err)
	assert.Equal(t, page(t, 4, 4, white), got)

	t.Run("still enforces declared count", func(t *testing.T) {
		_, err := v.ValidatePages("upd", [][]byte{page(t, 4, 4, white)})
		assert.Equal(t, rxerrors.MismatchPageCount, mismatchKind(t, err))
	})

	t.Run("rejects undecodable pages", func(t *testing.T) {
		_, err := v.ValidatePages("upd", [][]byte{[]byte("nope"), []byte("nope")})
		assert.Error(t, err)
	})
}

func TestValidateSourceWithFakeCompiler(t *testing.T) {
	pagesDir := t.TempDir()
	testutils.WritePNG(t, filepath.Join(pagesDir, "page-1.png"), testutils.SolidPage(6, 6, white))

	c, err := compiler.NewTypst(compiler.Options{Binary: testutils.FakeTypst(t, pagesDir)})
	require.NoError(t, err)

	v, err := New(c, Options{GoldenDir: t.TempDir(), ExpectedPages: 1})
	require.NoError(t, err)
	writeGoldens(t, v, "fake", page(t, 6, 6, white))

	report := AssertGolden(t, v, "fake", []byte("= Page\n"))
	assert.True(t, report.Passed())

	t.Run("compiler failure surfaces", func(t *testing.T) {
		report, err := v.ValidateSource(context.Background(), "fake", []byte(testutils.MarkerFail))
		var ce *rxerrors.CompilationError
		require.True(t, errors.As(err, &ce))
		assert.False(t, report.Passed())
	})
}

func TestOptionsFor(t *testing.T) {
	src := &registry.TemplateSource{Manifest: registry.Manifest{
		ID:     "prescription",
		Layout: registry.Layout{ExpectedPages: 1, Cases: map[string]int{"long": 2}},
	}}

	opts := OptionsFor(src, Options{GoldenDir: "testdata/golden", DiffDir: "out/diffs"})
	assert.Equal(t, filepath.Join("testdata", "golden", "prescription"), opts.GoldenDir)
	assert.Equal(t, filepath.Join("out", "diffs", "prescription"), opts.DiffDir)
	assert.Equal(t, 1, opts.ExpectedPages)
	assert.Equal(t, 2, opts.CasePages["long"])
}

func TestCases(t *testing.T) {
	v := newValidator(t)
	for _, c := range []string{"b-case", "a-case"} {
		require.NoError(t, os.MkdirAll(v.CaseDir(c), 0o755))
		require.NoError(t, os.WriteFile(v.ContextPath(c), []byte("record_id: x\n"), 0o644))
	}
	require.NoError(t, os.MkdirAll(v.CaseDir("no-context"), 0o755))

	cases, err := v.Cases()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-case", "b-case"}, cases)
}

func TestReportString(t *testing.T) {
	v := newValidator(t)
	writeGoldens(t, v, "md", page(t, 4, 4, white))

	report, err := v.ValidatePages("md", [][]byte{pageWithDots(t, 4, 4, 4)})
	require.Error(t, err)

	md := report.String()
	assert.Contains(t, md, "# Golden Case md: FAIL")
	assert.Contains(t, md, "| 1 | fail | 4x4 | 4 (25.0000%) |")
	assert.Contains(t, md, "## Failure")
	assert.NotNil(t, report.Mismatch())
}

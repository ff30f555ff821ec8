package validator

import (
	"flag"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/rxpdf/internal/compiler"
	"github.com/conneroisu/rxpdf/internal/registry"
	"github.com/conneroisu/rxpdf/internal/renderer"
	"github.com/conneroisu/rxpdf/templates"
)

var (
	update    = flag.Bool("update", false, "rewrite golden images from the current typst output")
	keepDiffs = flag.String("keep-diffs", "", "write diff images of failing golden pages into this directory")
)

var (
	goldenDir = filepath.Join("..", "..", "testdata", "golden")
	fontDir   = filepath.Join("..", "..", "testdata", "fonts")
)

// goldenOptions returns the options for golden runs. Diff images are only
// written when diffDir is set.
func goldenOptions(update bool, diffDir string) Options {
	return Options{
		GoldenDir: goldenDir,
		Update:    update,
		KeepDiffs: diffDir != "",
		DiffDir:   diffDir,
	}
}

// realTypst returns the installed typst restricted to the vendored fonts,
// or skips the test.
func realTypst(t *testing.T) *compiler.Typst {
	t.Helper()
	bin, err := exec.LookPath("typst")
	if err != nil {
		t.Skip("typst not installed")
	}

	c, err := compiler.NewTypst(compiler.Options{
		Binary:            bin,
		PPI:               72,
		FontPaths:         []string{fontDir},
		IgnoreSystemFonts: true,
	})
	require.NoError(t, err)
	return c
}

// goldenCase is one case directory of a built-in template.
type goldenCase struct {
	template *registry.TemplateSource
	name     string
	v        *Validator
}

func builtinCases(t *testing.T, c compiler.Compiler, base Options) []goldenCase {
	t.Helper()
	reg, err := registry.Load(templates.FS())
	require.NoError(t, err)

	var out []goldenCase
	for _, src := range reg.List() {
		v, err := New(c, OptionsFor(src, base))
		require.NoError(t, err)

		names, err := v.Cases()
		require.NoError(t, err)
		for _, name := range names {
			out = append(out, goldenCase{template: src, name: name, v: v})
		}
	}
	require.NotEmpty(t, out, "no golden cases under %s", goldenDir)
	return out
}

func renderCase(t *testing.T, gc goldenCase) []byte {
	t.Helper()
	reg, err := registry.Load(templates.FS())
	require.NoError(t, err)

	rc, err := renderer.LoadContextFile(gc.v.ContextPath(gc.name))
	require.NoError(t, err)
	source, err := renderer.New(reg).Render(gc.template.ID, rc)
	require.NoError(t, err)
	return source
}

// TestGoldenTemplates renders every golden case of the built-in templates
// with the real compiler and the vendored fonts. Refresh with:
//
//	go test ./internal/validator -run Golden -update
//
// and inspect failures with -keep-diffs=<dir>.
func TestGoldenTemplates(t *testing.T) {
	c := realTypst(t)

	for _, gc := range builtinCases(t, c, goldenOptions(*update, *keepDiffs)) {
		t.Run(gc.template.ID+"/"+gc.name, func(t *testing.T) {
			goldens, err := gc.v.goldenPages(gc.name)
			require.NoError(t, err)
			if len(goldens) == 0 && !*update {
				t.Fatalf("no golden images in %s; run with -update to create them", gc.v.CaseDir(gc.name))
			}

			AssertGolden(t, gc.v, gc.name, renderCase(t, gc))
		})
	}
}

// TestTemplatesPageCount checks the real compiler output against the page
// count each manifest declares, independently of the stored images.
func TestTemplatesPageCount(t *testing.T) {
	c := realTypst(t)

	for _, gc := range builtinCases(t, c, goldenOptions(false, "")) {
		t.Run(gc.template.ID+"/"+gc.name, func(t *testing.T) {
			out, err := c.Compile(t.Context(), renderCase(t, gc), compiler.FormatPNG)
			require.NoError(t, err)
			assert.Len(t, out.Pages, gc.v.ExpectedPages(gc.name))
		})
	}
}

func TestGoldenOptions(t *testing.T) {
	opts := goldenOptions(false, "")
	assert.False(t, opts.KeepDiffs, "diffs are opt-in")
	assert.Empty(t, opts.DiffDir)
	assert.False(t, opts.Update)

	dir := t.TempDir()
	opts = goldenOptions(true, dir)
	assert.True(t, opts.KeepDiffs)
	assert.Equal(t, dir, opts.DiffDir)
	assert.True(t, opts.Update)
}

package cmd

import (
	"bytes"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/rxpdf/internal/config"
	"github.com/conneroisu/rxpdf/internal/testutils"
	"github.com/conneroisu/rxpdf/internal/validator"
)

// project is a temp working directory with a config pointing at the fake
// compiler and the built-in templates.
type project struct {
	dir   string
	cfg   *config.Config
	pages string
}

func newProject(t *testing.T) *project {
	t.Helper()
	dir := testutils.CreateTempProject(t)

	pages := filepath.Join(dir, "pages")
	testutils.WritePNG(t, filepath.Join(pages, "page-1.png"), testutils.SolidPage(4, 4, color.White))

	cfg := testutils.CreateTestConfig(dir, testutils.FakeTypst(t, pages))
	cfg.Templates.Dir = ""
	t.Setenv(config.ConfigFileEnv, testutils.WriteTestConfig(t, dir, cfg))
	t.Chdir(dir)

	return &project{dir: dir, cfg: cfg, pages: pages}
}

func (p *project) context(t *testing.T, name, content string) string {
	t.Helper()
	return testutils.CreateTestContext(t, filepath.Join(p.dir, "contexts"), name, content)
}

// execute runs the root command with fresh flag and viper state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	resetFlags(rootCmd)
	cfgFile = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Changed = false
		if f.Value.Type() == "stringArray" {
			return
		}
		if vv, ok := f.Value.(*validatingValue); ok {
			_ = vv.originalSet(f.DefValue)
			return
		}
		_ = f.Value.Set(f.DefValue)
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}

	for _, f := range []*StandardFlags{generateFlags, renderFlags, listFlags, validateFlags, watchFlags} {
		f.Contexts = nil
	}
	validateCases = nil
}

func TestGenerateCommand(t *testing.T) {
	p := newProject(t)
	ctx := p.context(t, "rx.yaml", testutils.SampleContext)

	out, err := execute(t, "generate", "-t", "prescription", "-c", ctx)
	require.NoError(t, err, out)

	assert.Contains(t, out, "rx-0001")
	assert.Contains(t, out, "1 generated, 0 failed")

	data, err := os.ReadFile(filepath.Join(p.cfg.Output.Dir, "prescription", "rx-0001.pdf"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-1.7")))
	assert.Contains(t, string(data), "Jane Doe")
}

func TestGenerateCommand_PagedOutput(t *testing.T) {
	p := newProject(t)
	ctx := p.context(t, "rx.yaml", testutils.SampleContext)
	outDir := filepath.Join(p.dir, "png-out")

	out, err := execute(t, "generate", "-t", "prescription", "-c", ctx, "--format", "png", "-o", outDir)
	require.NoError(t, err, out)

	assert.Contains(t, out, "1 png page(s)")
	assert.FileExists(t, filepath.Join(outDir, "prescription", "rx-0001-1.png"))
}

func TestGenerateCommand_PartialFailure(t *testing.T) {
	p := newProject(t)
	good := p.context(t, "good.yaml", testutils.SampleContext)
	bad := p.context(t, "bad.yaml", "record_id: rx-0002\nissued_at: \"2024-03-05\"\n")

	out, err := execute(t, "generate", "-t", "prescription", "-c", good, "-c", bad, "--workers", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 documents failed")

	assert.Contains(t, out, "missing required field(s): patient.name, patient.dob")
	assert.Contains(t, out, "render failures: 1")
	assert.FileExists(t, filepath.Join(p.cfg.Output.Dir, "prescription", "rx-0001.pdf"))
	assert.NoFileExists(t, filepath.Join(p.cfg.Output.Dir, "prescription", "rx-0002.pdf"))
}

func TestGenerateCommand_CompileFailure(t *testing.T) {
	p := newProject(t)
	// record_id reaches the source unescaped inside a string literal.
	ctx := p.context(t, "rx.yaml", strings.Replace(testutils.SampleContext, "rx-0001", testutils.MarkerFail, 1))

	out, err := execute(t, "generate", "-t", "prescription", "-c", ctx)
	require.Error(t, err)

	assert.Contains(t, out, "[compile]")
	assert.Contains(t, out, "unknown variable: nope")
	assert.Contains(t, out, "(retryable)")
}

func TestGenerateCommand_FlagValidation(t *testing.T) {
	p := newProject(t)
	ctx := p.context(t, "rx.yaml", testutils.SampleContext)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no template", []string{"generate", "-c", ctx}, "a template is required"},
		{"no context", []string{"generate", "-t", "prescription"}, "at least one context file is required"},
		{"missing context file", []string{"generate", "-t", "prescription", "-c", "nope.yaml"}, "file does not exist"},
		{"bad format", []string{"generate", "-t", "prescription", "-c", ctx, "--format", "pfd"}, `did you mean "pdf"?`},
		{"bad workers", []string{"generate", "-t", "prescription", "-c", ctx, "--workers", "0"}, "workers must be at least 1"},
		{"template traversal", []string{"generate", "-t", "../x", "-c", ctx}, "path separator"},
		{"unknown template", []string{"generate", "-t", "invoice", "-c", ctx}, `template "invoice" not found`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRenderCommand(t *testing.T) {
	p := newProject(t)
	ctx := p.context(t, "rx.yaml", testutils.SampleContext)

	out, err := execute(t, "render", "-t", "prescription", "-c", ctx)
	require.NoError(t, err)

	assert.Contains(t, out, "// prescription 1.0.0")
	assert.Contains(t, out, "Jane Doe")
	assert.NotContains(t, out, "{{")

	_, err = execute(t, "render", "-t", "prescription", "-c", ctx, "-c", ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one context file")
}

func TestListCommand(t *testing.T) {
	newProject(t)

	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "prescription")
	assert.Contains(t, out, "1.0.0")
	assert.Contains(t, out, "Total: 1 templates")

	out, err = execute(t, "list", "-f", "json", "--with-fields")
	require.NoError(t, err)
	var listings []templateListing
	require.NoError(t, json.Unmarshal([]byte(out), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "prescription", listings[0].ID)
	assert.Equal(t, 1, listings[0].ExpectedPages)
	assert.Contains(t, listings[0].Required, "patient.name")

	out, err = execute(t, "list", "-f", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "id: prescription")

	_, err = execute(t, "list", "-f", "csv")
	require.Error(t, err)
}

// writeCase stores a golden case whose page is filled with c.
func (p *project) writeCase(t *testing.T, name string, c color.Color) {
	t.Helper()
	dir := filepath.Join(p.cfg.Validation.GoldenDir, "prescription", name)
	testutils.WritePNG(t, filepath.Join(dir, "page-1.png"), testutils.SolidPage(4, 4, c))
	testutils.CreateTestContext(t, dir, validator.ContextFile, testutils.SampleContext)
}

func TestValidateCommand(t *testing.T) {
	p := newProject(t)
	p.writeCase(t, "standard", color.White)

	out, err := execute(t, "validate", "-t", "prescription")
	require.NoError(t, err, out)
	assert.Contains(t, out, "prescription/standard: passed")
}

func TestValidateCommand_Mismatch(t *testing.T) {
	p := newProject(t)
	p.writeCase(t, "standard", color.Black)
	p.writeCase(t, "other", color.White)

	out, err := execute(t, "validate", "-t", "prescription", "--keep-diffs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 golden cases failed")
	assert.Contains(t, out, "prescription/other: passed")
	assert.Contains(t, out, "prescription/standard:")
	assert.Contains(t, out, "# Golden Case standard: FAIL")

	out, err = execute(t, "validate", "-t", "prescription", "--case", "standard", "--max-channel-delta", "255")
	require.NoError(t, err, out)
}

func TestValidateCommand_Update(t *testing.T) {
	p := newProject(t)
	p.writeCase(t, "standard", color.Black)

	out, err := execute(t, "validate", "-t", "prescription", "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "updated 1 page(s)")

	want, err := os.ReadFile(filepath.Join(p.pages, "page-1.png"))
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(p.cfg.Validation.GoldenDir, "prescription", "standard", "page-1.png"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	out, err = execute(t, "validate", "-t", "prescription", "-f", "json")
	require.NoError(t, err, out)
	var results []caseResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
}

func TestValidateCommand_NoCases(t *testing.T) {
	newProject(t)

	_, err := execute(t, "validate", "-t", "prescription")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no golden cases")
}

func TestDoctorCommand(t *testing.T) {
	p := newProject(t)
	p.writeCase(t, "standard", color.White)

	out, err := execute(t, "doctor", "-f", "json")
	require.NoError(t, err, out)

	var report DoctorReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Summary.Errors)

	byName := map[string]DiagnosticResult{}
	for _, r := range report.Results {
		byName[r.Name] = r
	}
	assert.Equal(t, "ok", byName["Typst Compiler"].Status)
	assert.Contains(t, byName["Typst Compiler"].Message, testutils.FakeTypstVersion)
	assert.Equal(t, "ok", byName["Test Compile"].Status)
	assert.Equal(t, "ok", byName["Templates"].Status)
	assert.Equal(t, "ok", byName["Output Directory"].Status)
}

func TestDoctorCommand_MissingCompiler(t *testing.T) {
	p := newProject(t)
	p.cfg.Compiler.Binary = filepath.Join(p.dir, "bin", "typst")
	testutils.WriteTestConfig(t, p.dir, p.cfg)

	out, err := execute(t, "doctor", "-v")
	require.Error(t, err)
	assert.Contains(t, out, "not found")
	assert.Contains(t, out, "Skipped, no usable compiler")
}

func TestVersionCommand(t *testing.T) {
	newProject(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rxpdf ")
	assert.Contains(t, out, "Compiler: "+testutils.FakeTypstVersion)

	out, err = execute(t, "version", "--short")
	require.NoError(t, err)
	assert.NotContains(t, out, "Compiler")

	out, err = execute(t, "version", "-f", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, testutils.FakeTypstVersion, info["compiler"])
	assert.Contains(t, info, "is_release")
}

func TestExplicitConfigFileMustExist(t *testing.T) {
	newProject(t)

	_, err := execute(t, "list", "--config", "missing.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestEnvironmentOverridesConfig(t *testing.T) {
	p := newProject(t)
	ctx := p.context(t, "rx.yaml", testutils.SampleContext)
	envOut := filepath.Join(p.dir, "env-out")
	t.Setenv("RXPDF_OUTPUT_DIR", envOut)

	out, err := execute(t, "generate", "-t", "prescription", "-c", ctx)
	require.NoError(t, err, out)
	assert.FileExists(t, filepath.Join(envOut, "prescription", "rx-0001.pdf"))
}

func TestValidateFormatWithSuggestion(t *testing.T) {
	valid := []string{"table", "json", "yaml"}

	assert.NoError(t, ValidateFormatWithSuggestion("JSON", valid))

	err := ValidateFormatWithSuggestion("yml", valid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "yaml"?`)

	err = ValidateFormatWithSuggestion("markdown", valid)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestValidateArgument(t *testing.T) {
	for _, ok := range []string{"prescription", "rx-0001", "case_1"} {
		assert.NoError(t, validateArgument(ok), ok)
	}
	for _, bad := range []string{"..", ".", "a/b", `a\b`, "x;rm", "$(id)"} {
		assert.Error(t, validateArgument(bad), bad)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))
}

func TestParseTypstVersion(t *testing.T) {
	v, ok := parseTypstVersion("typst 0.13.1 (8ace67d9)")
	require.True(t, ok)
	assert.Equal(t, [3]int{0, 13, 1}, v)
	assert.False(t, versionLess(v, minTypstVersion))
	assert.True(t, versionLess([3]int{0, 10, 0}, minTypstVersion))

	_, ok = parseTypstVersion("typst dev")
	assert.False(t, ok)
}

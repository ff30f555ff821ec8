package testutils

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/rxpdf/internal/config"
)

// CreateTempProject creates a temporary project structure for testing
func CreateTempProject(t *testing.T) string {
	tempDir := t.TempDir()

	dirs := []string{
		"templates",
		"contexts",
		"out",
		"testdata/golden",
	}

	for _, dir := range dirs {
		err := os.MkdirAll(filepath.Join(tempDir, dir), 0755)
		require.NoError(t, err)
	}

	return tempDir
}

// CreateTestTemplate writes a template directory with a manifest and an
// entry file and returns the directory.
func CreateTestTemplate(t *testing.T, templatesDir, id, body string, required ...string) string {
	t.Helper()

	dir := filepath.Join(templatesDir, id)
	require.NoError(t, os.MkdirAll(dir, 0755))

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nversion: 1.0.0\nentry: main.typ.tpl\n", id)
	b.WriteString("required:\n")
	for _, r := range required {
		fmt.Fprintf(&b, "  - %s\n", r)
	}
	b.WriteString("layout:\n  expected_pages: 1\n")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(b.String()), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.typ.tpl"), []byte(body), 0644))
	return dir
}

// CreateTestContext writes a YAML context file and returns its path.
func CreateTestContext(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// CreateTestConfig creates a test configuration pointing at projectDir and
// the given compiler binary.
func CreateTestConfig(projectDir, binary string) *config.Config {
	return &config.Config{
		Compiler: config.CompilerConfig{
			Binary:          binary,
			AllowedBinaries: []string{"typst"},
			Timeout:         5 * time.Second,
			PPI:             72,
			SourceDateEpoch: 946684800,
		},
		Templates: config.TemplatesConfig{
			Dir: filepath.Join(projectDir, "templates"),
		},
		Output: config.OutputConfig{
			Dir:    filepath.Join(projectDir, "out"),
			Format: "pdf",
		},
		Validation: config.ValidationConfig{
			GoldenDir: filepath.Join(projectDir, "testdata", "golden"),
			DiffDir:   filepath.Join(projectDir, "out", "diffs"),
		},
		Pipeline: config.PipelineConfig{Workers: 2},
		Log:      config.LogConfig{Level: "error", Format: "text"},
		Preview:  config.PreviewConfig{Host: "localhost", Port: 0},
	}
}

// WriteTestConfig writes cfg as .rxpdf.yml in projectDir and returns its path.
func WriteTestConfig(t *testing.T, projectDir string, cfg *config.Config) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(projectDir, ".rxpdf.yml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// SampleContext is the record used across package tests.
const SampleContext = `record_id: rx-0001
issued_at: "2024-03-05"
patient:
  name: jane doe
  dob: "1980-01-02"
prescriptions:
  - drug: amoxicillin
    dose: 500 mg
    frequency: three times daily
    duration: 7 days
`

// SolidPage returns a w×h image filled with c.
func SolidPage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// EncodePNG encodes img as PNG.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// WritePNG encodes img to path, creating parent directories.
func WritePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0644))
}

// SecurityTestCases provides common security test vectors
var SecurityTestCases = struct {
	PathTraversal    []string
	CommandInjection []string
}{
	PathTraversal: []string{
		"../../../etc/passwd",
		"../secrets",
		"templates/../../etc",
		"/etc/passwd",
	},
	CommandInjection: []string{
		"out; rm -rf /",
		"out && rm -rf /",
		"out | cat /etc/passwd",
		"out`id`",
		"out$(id)",
		"out\nid",
		"out\x00id",
	},
}

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/rxpdf/internal/artifact"
	"github.com/conneroisu/rxpdf/internal/compiler"
	"github.com/conneroisu/rxpdf/internal/config"
	"github.com/conneroisu/rxpdf/internal/registry"
	"github.com/conneroisu/rxpdf/internal/validator"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the document generation environment",
	Long: `Diagnose the environment rxpdf runs in and report problems before they
surface as failed documents. It checks:

- The configuration file and values
- The typst binary, its version and a reproducible test compile
- Template loading and golden test cases
- Output directory permissions
- Preview port availability

Examples:
  rxpdf doctor                    # Full environment diagnosis
  rxpdf doctor --verbose          # Include check details
  rxpdf doctor --format json      # Output as JSON for tooling`,
	RunE: runDoctor,
}

var (
	doctorVerbose bool
	doctorFormat  string
)

// minTypstVersion is the oldest typst whose CLI supports every flag we pass.
var minTypstVersion = [3]int{0, 11, 0}

// DiagnosticResult represents the result of a diagnostic check
type DiagnosticResult struct {
	Name       string                 `json:"name" yaml:"name"`
	Category   string                 `json:"category" yaml:"category"`
	Status     string                 `json:"status" yaml:"status"` // "ok", "warning", "error", "info"
	Message    string                 `json:"message" yaml:"message"`
	Suggestion string                 `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp   time.Time          `json:"timestamp" yaml:"timestamp"`
	Environment map[string]string  `json:"environment" yaml:"environment"`
	Results     []DiagnosticResult `json:"results" yaml:"results"`
	Summary     ReportSummary      `json:"summary" yaml:"summary"`
}

// ReportSummary provides an overview of diagnostic results
type ReportSummary struct {
	Total    int `json:"total" yaml:"total"`
	OK       int `json:"ok" yaml:"ok"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Errors   int `json:"errors" yaml:"errors"`
	Info     int `json:"info" yaml:"info"`
}

// doctorState is shared by the checks. cfg is nil when the configuration
// could not be loaded; checks then fall back to defaults.
type doctorState struct {
	cfg    *config.Config
	cfgErr error
	typst  *compiler.Typst
}

type doctorCheck func(context.Context, *doctorState) DiagnosticResult

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "Show verbose diagnostic information")
	doctorCmd.Flags().StringVarP(&doctorFormat, "format", "f", "table", "Output format (table|json|yaml)")
	AddFlagValidation(doctorCmd, "format", func(s string) error {
		return ValidateFormatWithSuggestion(s, []string{"table", "json", "yaml"})
	})
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	table := doctorFormat == "table"

	state := &doctorState{}
	state.cfg, state.cfgErr = loadConfig()

	report := &DoctorReport{
		Timestamp:   time.Now(),
		Environment: gatherEnvironmentInfo(),
	}

	if table {
		fmt.Fprintln(out, "🔍 rxpdf Environment Doctor")
		fmt.Fprintln(out, "===========================")
		fmt.Fprintln(out)
	}

	checks := []doctorCheck{
		checkConfiguration,
		checkTypstBinary,
		checkTestCompile,
		checkTemplates,
		checkOutputDirectory,
		checkPreviewPort,
	}

	for _, check := range checks {
		result := check(ctx, state)
		report.Results = append(report.Results, result)

		if table && (doctorVerbose || result.Status != "info") {
			displayResult(out, result)
		}
	}

	report.Summary = calculateSummary(report.Results)

	switch doctorFormat {
	case "json":
		if err := outputJSON(out, report); err != nil {
			return err
		}
	case "yaml":
		if err := outputYAML(out, report); err != nil {
			return err
		}
	default:
		fmt.Fprintln(out, "📊 Summary")
		fmt.Fprintln(out, "==========")
		displaySummary(out, report.Summary)
	}

	if report.Summary.Errors > 0 {
		return fmt.Errorf("doctor found %d error(s)", report.Summary.Errors)
	}
	return nil
}

func gatherEnvironmentInfo() map[string]string {
	env := map[string]string{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"path":       os.Getenv("PATH"),
	}
	if wd, err := os.Getwd(); err == nil {
		env["working_dir"] = wd
	}
	if f := os.Getenv(config.ConfigFileEnv); f != "" {
		env["config_file_env"] = f
	}
	return env
}

// effectiveConfig returns the loaded configuration, or the defaults.
func (s *doctorState) effectiveConfig() *config.Config {
	if s.cfg != nil {
		return s.cfg
	}
	return config.Default()
}

func checkConfiguration(ctx context.Context, state *doctorState) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Configuration",
		Category: "Configuration",
		Status:   "ok",
	}

	if state.cfgErr != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Configuration has errors: %v", state.cfgErr)
		result.Suggestion = "Fix the reported values in .rxpdf.yml or the RXPDF_* environment variables"
		return result
	}

	details := config.ValidateConfigWithDetails(state.cfg)
	result.Message = "Configuration is valid"
	if used := configFileUsed(); used != "" {
		result.Message = fmt.Sprintf("Configuration is valid (%s)", used)
	}
	result.Details = map[string]interface{}{
		"compiler_binary":  state.cfg.Compiler.Binary,
		"compiler_timeout": state.cfg.Compiler.Timeout.String(),
		"templates_dir":    state.cfg.Templates.Dir,
		"output_dir":       state.cfg.Output.Dir,
		"output_format":    state.cfg.Output.Format,
		"workers":          state.cfg.Pipeline.Workers,
	}

	if details.HasWarnings() {
		result.Status = "warning"
		result.Message = fmt.Sprintf("Configuration is valid with %d warning(s)", len(details.Warnings))
		var suggestions []string
		for _, w := range details.Warnings {
			suggestions = append(suggestions, w.Error())
		}
		result.Suggestion = strings.Join(suggestions, "; ")
	}

	return result
}

func checkTypstBinary(ctx context.Context, state *doctorState) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Typst Compiler",
		Category: "Tools",
		Status:   "ok",
	}

	cc := state.effectiveConfig().Compiler
	path, err := exec.LookPath(cc.Binary)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Compiler binary %q not found", cc.Binary)
		result.Suggestion = "Install typst (https://github.com/typst/typst) or set compiler.binary"
		return result
	}

	typst, err := compiler.NewTypst(compiler.Options{
		Binary:            cc.Binary,
		AllowedBinaries:   cc.AllowedBinaries,
		Timeout:           cc.Timeout,
		PPI:               cc.PPI,
		Root:              cc.Root,
		FontPaths:         cc.FontPaths,
		IgnoreSystemFonts: cc.IgnoreSystemFonts,
		SourceDateEpoch:   cc.SourceDateEpoch,
	})
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		result.Suggestion = "Add the binary name to compiler.allowed_binaries"
		return result
	}

	versionCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	version, err := typst.Version(versionCtx)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Compiler did not report a version: %v", err)
		result.Suggestion = "Check that the binary is a working typst executable"
		return result
	}
	state.typst = typst

	result.Message = fmt.Sprintf("Typst installed: %s", version)
	result.Details = map[string]interface{}{
		"version": version,
		"path":    path,
	}

	if v, ok := parseTypstVersion(version); ok && versionLess(v, minTypstVersion) {
		result.Status = "warning"
		result.Message = fmt.Sprintf("Typst version may be too old: %s", version)
		result.Suggestion = fmt.Sprintf("Upgrade typst to %d.%d.%d or later",
			minTypstVersion[0], minTypstVersion[1], minTypstVersion[2])
	}

	return result
}

// doctorSample is a one-page document used to exercise the compiler.
const doctorSample = "#set page(width: 2cm, height: 2cm)\nrxpdf\n"

func checkTestCompile(ctx context.Context, state *doctorState) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Test Compile",
		Category: "Tools",
		Status:   "ok",
	}

	if state.typst == nil {
		result.Status = "info"
		result.Message = "Skipped, no usable compiler"
		return result
	}

	start := time.Now()
	first, err := state.typst.Compile(ctx, []byte(doctorSample), compiler.FormatPDF)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Test document failed to compile: %v", err)
		result.Suggestion = "Run 'rxpdf doctor -v' and check the compiler diagnostics"
		return result
	}
	elapsed := time.Since(start)

	second, err := state.typst.Compile(ctx, []byte(doctorSample), compiler.FormatPDF)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Second test compile failed: %v", err)
		return result
	}

	a, b := artifact.Sum(first.Bytes()), artifact.Sum(second.Bytes())
	result.Message = fmt.Sprintf("Test document compiled in %s", elapsed.Round(time.Millisecond))
	result.Details = map[string]interface{}{
		"bytes":  len(first.Bytes()),
		"digest": a.Short(),
	}

	if !bytes.HasPrefix(first.Bytes(), []byte("%PDF")) {
		result.Status = "error"
		result.Message = "Compiler output is not a PDF"
		return result
	}
	if a != b {
		result.Status = "warning"
		result.Message = "Repeated compiles produced different bytes"
		result.Suggestion = "Documents are not reproducible; check compiler.source_date_epoch and the typst version"
	}

	return result
}

func checkTemplates(ctx context.Context, state *doctorState) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Templates",
		Category: "Templates",
		Status:   "ok",
	}

	cfg := state.effectiveConfig()
	reg, err := registry.Load(templateFS(cfg.Templates))
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Templates failed to load: %v", err)
		result.Suggestion = "Check manifest.yaml files under templates.dir"
		return result
	}
	if reg.Count() == 0 {
		result.Status = "error"
		result.Message = "No templates found"
		result.Suggestion = "Each template needs <templates.dir>/<id>/manifest.yaml"
		return result
	}

	source := "built-in"
	if cfg.Templates.Dir != "" {
		source = cfg.Templates.Dir
	}

	cases := map[string]interface{}{}
	total := 0
	for _, src := range reg.List() {
		v, err := validator.New(nil, validator.OptionsFor(src, validator.Options{GoldenDir: cfg.Validation.GoldenDir}))
		if err != nil {
			continue
		}
		names, err := v.Cases()
		if err != nil {
			continue
		}
		cases[src.ID] = len(names)
		total += len(names)
	}

	result.Message = fmt.Sprintf("%d template(s) loaded from %s, %d golden case(s)", reg.Count(), source, total)
	result.Details = map[string]interface{}{
		"templates":    reg.IDs(),
		"golden_cases": cases,
	}
	if total == 0 {
		result.Status = "warning"
		result.Suggestion = fmt.Sprintf("Add golden cases under %s to guard against layout regressions", cfg.Validation.GoldenDir)
	}

	return result
}

func checkOutputDirectory(ctx context.Context, state *doctorState) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Output Directory",
		Category: "System",
		Status:   "ok",
	}

	dir := state.effectiveConfig().Output.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Cannot create output directory %s", dir)
		result.Suggestion = "Check permissions or set output.dir"
		return result
	}

	f, err := os.CreateTemp(dir, ".rxpdf-permission-test-*")
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Cannot write to output directory %s", dir)
		result.Suggestion = "Check directory permissions or set output.dir"
		return result
	}
	f.Close()
	os.Remove(f.Name())

	abs, _ := filepath.Abs(dir)
	result.Message = fmt.Sprintf("Output directory %s is writable", abs)
	return result
}

func checkPreviewPort(ctx context.Context, state *doctorState) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Preview Port",
		Category: "Network",
		Status:   "info",
	}

	pc := state.effectiveConfig().Preview
	addr := net.JoinHostPort(pc.Host, strconv.Itoa(pc.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		result.Status = "warning"
		result.Message = fmt.Sprintf("Preview address %s is not available", addr)
		result.Suggestion = "Use 'rxpdf watch --serve --port <n>' or set preview.port"
		return result
	}
	listener.Close()

	result.Message = fmt.Sprintf("Preview address %s is available", addr)
	return result
}

func configFileUsed() string {
	if cfgFile != "" {
		return cfgFile
	}
	return os.Getenv(config.ConfigFileEnv)
}

var typstVersionRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// parseTypstVersion extracts major.minor.patch from `typst --version`.
func parseTypstVersion(s string) ([3]int, bool) {
	m := typstVersionRe.FindStringSubmatch(s)
	if m == nil {
		return [3]int{}, false
	}
	var v [3]int
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}
	return v, true
}

func versionLess(a, b [3]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func displayResult(out io.Writer, result DiagnosticResult) {
	var icon string
	switch result.Status {
	case "ok":
		icon = "✅"
	case "warning":
		icon = "⚠️"
	case "error":
		icon = "❌"
	case "info":
		icon = "ℹ️"
	default:
		icon = "•"
	}

	fmt.Fprintf(out, "%s [%s] %s: %s\n", icon, strings.ToUpper(result.Category), result.Name, result.Message)

	if result.Suggestion != "" {
		fmt.Fprintf(out, "   💡 %s\n", result.Suggestion)
	}

	if doctorVerbose && len(result.Details) > 0 {
		fmt.Fprintf(out, "   📋 Details: %+v\n", result.Details)
	}

	fmt.Fprintln(out)
}

func calculateSummary(results []DiagnosticResult) ReportSummary {
	summary := ReportSummary{
		Total: len(results),
	}

	for _, result := range results {
		switch result.Status {
		case "ok":
			summary.OK++
		case "warning":
			summary.Warnings++
		case "error":
			summary.Errors++
		case "info":
			summary.Info++
		}
	}

	return summary
}

func displaySummary(out io.Writer, summary ReportSummary) {
	fmt.Fprintf(out, "Total Checks: %d\n", summary.Total)
	fmt.Fprintf(out, "✅ OK: %d\n", summary.OK)
	fmt.Fprintf(out, "⚠️  Warnings: %d\n", summary.Warnings)
	fmt.Fprintf(out, "❌ Errors: %d\n", summary.Errors)
	fmt.Fprintf(out, "ℹ️  Info: %d\n", summary.Info)
}

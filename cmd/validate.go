package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
	"github.com/conneroisu/rxpdf/internal/renderer"
	"github.com/conneroisu/rxpdf/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare rendered pages against golden images",
	Long: `Render every golden case of a template, compile it to PNG and compare
each page with the stored golden image.

Cases live under <validation.golden_dir>/<template>/<case>/ with a
context.yaml and page-<n>.png files. The page count declared in the
template manifest must match both the rendered and the golden pages.

Examples:
  rxpdf validate -t prescription                       # All cases
  rxpdf validate -t prescription --case standard       # One case
  rxpdf validate -t prescription --update              # Rewrite goldens
  rxpdf validate -t prescription --keep-diffs -f json  # Diff images, JSON report`,
	RunE: runValidate,
}

var (
	validateFlags     *StandardFlags
	validateCases     []string
	validateUpdate    bool
	validateKeepDiffs bool
	validateDelta     int
	validateRatio     float64
)

// caseResult is the per-case outcome printed by validate.
type caseResult struct {
	Template string            `json:"template" yaml:"template"`
	Case     string            `json:"case" yaml:"case"`
	Passed   bool              `json:"passed" yaml:"passed"`
	Error    string            `json:"error,omitempty" yaml:"error,omitempty"`
	Report   *validator.Report `json:"report,omitempty" yaml:"report,omitempty"`
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateFlags = AddStandardFlags(validateCmd, flagsReport)
	validateCmd.Flags().StringVarP(&validateFlags.Template, "template", "t", "", "Template id")
	validateCmd.Flags().StringArrayVar(&validateCases, "case", nil, "Golden case to run, repeatable (default: all)")
	validateCmd.Flags().BoolVar(&validateUpdate, "update", false, "Rewrite golden images from the current output")
	validateCmd.Flags().BoolVar(&validateKeepDiffs, "keep-diffs", false, "Write a diff image for every failing page")
	validateCmd.Flags().IntVar(&validateDelta, "max-channel-delta", -1, "Per-channel tolerance 0-255 (default: validation.max_channel_delta)")
	validateCmd.Flags().Float64Var(&validateRatio, "max-diff-ratio", -1, "Fraction of pixels allowed to differ (default: validation.max_diff_ratio)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if err := validateFlags.ValidateFlags(); err != nil {
		return err
	}
	if err := validateFlags.RequireTemplate(); err != nil {
		return err
	}
	if err := validateArguments(validateCases); err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	src, err := a.registry.Get(validateFlags.Template)
	if err != nil {
		return err
	}
	if err := a.withCompiler(); err != nil {
		return err
	}

	opts := a.validatorOptions()
	opts.Update = validateUpdate
	if validateKeepDiffs {
		opts.KeepDiffs = true
	}
	if validateDelta >= 0 {
		opts.Tolerance.MaxChannelDelta = validateDelta
	}
	if validateRatio >= 0 {
		opts.Tolerance.MaxDiffRatio = validateRatio
	}

	v, err := validator.New(a.compiler, validator.OptionsFor(src, opts))
	if err != nil {
		return err
	}

	cases := validateCases
	if len(cases) == 0 {
		if cases, err = v.Cases(); err != nil {
			return err
		}
	}
	if len(cases) == 0 {
		return fmt.Errorf("no golden cases for template %q under %s", src.ID, opts.GoldenDir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := make([]caseResult, 0, len(cases))
	failed := 0
	for _, name := range cases {
		res := caseResult{Template: src.ID, Case: name}

		report, err := func() (*validator.Report, error) {
			rc, err := renderer.LoadContextFile(v.ContextPath(name))
			if err != nil {
				return nil, err
			}
			source, err := a.renderer.Render(src.ID, rc)
			if err != nil {
				return nil, rxerrors.Wrap(rxerrors.StageRender, name, src.ID, err)
			}
			return v.ValidateSource(ctx, name, source)
		}()

		res.Report = report
		res.Passed = err == nil
		if err != nil {
			res.Error = err.Error()
			failed++
			a.logger.Warn(ctx, err, "golden case failed", "template", src.ID, "case", name)
		}
		results = append(results, res)
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(validateFlags.OutputFormat) {
	case "json":
		err = outputJSON(out, results)
	case "yaml":
		err = outputYAML(out, results)
	default:
		printCaseResults(out, results, validateFlags.Verbose)
	}
	if err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d golden cases failed", failed, len(results))
	}
	return nil
}

func printCaseResults(w io.Writer, results []caseResult, verbose bool) {
	for _, r := range results {
		switch {
		case r.Report != nil && r.Report.Updated:
			fmt.Fprintf(w, "📝 %s/%s: updated %d page(s)\n", r.Template, r.Case, r.Report.GoldenPages)
		case r.Passed:
			fmt.Fprintf(w, "✅ %s/%s: passed\n", r.Template, r.Case)
		default:
			fmt.Fprintf(w, "❌ %s/%s: %s\n", r.Template, r.Case, r.Error)
		}
		if r.Report != nil && (verbose || !r.Passed) {
			fmt.Fprintln(w)
			fmt.Fprintln(w, r.Report.String())
		}
	}
}

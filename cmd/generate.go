package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/rxpdf/internal/artifact"
	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
	"github.com/conneroisu/rxpdf/internal/pipeline"
)

var generateFlags *StandardFlags

// generateCmd represents the generate command.
var generateCmd = &cobra.Command{
	Use:     "generate",
	Aliases: []string{"gen", "g"},
	Short:   "Generate documents from record context files",
	Long: `Generate one document per context file: render the template with the
record, compile it with typst and write the result under the output
directory as <out>/<template>/<record>.<ext>.

Several context files are generated concurrently; a failure for one record
does not stop the others.

Examples:
  rxpdf generate -t prescription -c rx-0001.yaml
  rxpdf generate -t prescription -c a.yaml -c b.json --workers 4
  rxpdf generate -t prescription -c rx.yaml --format png -o ./pages`,
	RunE: runGenerateCommand,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateFlags = AddStandardFlags(generateCmd, flagsTemplate, flagsDocument)
	generateCmd.Flags().BoolVarP(&generateFlags.Quiet, "quiet", "q", false, "Only report failures")
}

func runGenerateCommand(cmd *cobra.Command, args []string) error {
	if err := generateFlags.ValidateFlags(); err != nil {
		return err
	}
	if err := generateFlags.RequireTemplate(); err != nil {
		return err
	}
	if err := generateFlags.RequireContexts(); err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	format, err := generateFlags.ApplyDocument(a.cfg)
	if err != nil {
		return err
	}

	contexts, err := generateFlags.LoadContexts()
	if err != nil {
		return err
	}

	orch, err := a.orchestrator(format, a.cfg.Output.Dir)
	if err != nil {
		return err
	}

	reqs := make([]pipeline.Request, len(contexts))
	for i, rc := range contexts {
		reqs[i] = pipeline.Request{TemplateID: generateFlags.Template, Context: rc}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := orch.GenerateAll(ctx, reqs, a.cfg.Pipeline.Workers)

	out := cmd.OutOrStdout()
	for i, res := range results {
		if res.Err != nil {
			printFailure(cmd.ErrOrStderr(), generateFlags.Contexts[i], res.Err)
			continue
		}
		if !generateFlags.Quiet {
			printHandle(out, res.Handle)
		}
	}

	if !generateFlags.Quiet {
		printSnapshot(out, orch.Metrics().Snapshot())
	}

	if failed := pipeline.Failed(results); len(failed) > 0 {
		return fmt.Errorf("%d of %d documents failed", len(failed), len(results))
	}
	return nil
}

func printHandle(w io.Writer, h *artifact.Handle) {
	if len(h.Pages) > 0 {
		fmt.Fprintf(w, "✅ %s: %d %s page(s), %s, %s\n",
			h.RecordID, len(h.Pages), h.Format, formatBytes(h.Size), h.Digest.Short())
		for _, p := range h.Pages {
			fmt.Fprintf(w, "   - %s\n", p.Path)
		}
		return
	}
	fmt.Fprintf(w, "✅ %s: %s (%s, %s)\n", h.RecordID, h.Path, formatBytes(h.Size), h.Digest.Short())
}

func printFailure(w io.Writer, source string, err error) {
	fmt.Fprintf(w, "❌ %s: %v\n", source, err)

	var ce *rxerrors.CompilationError
	if errors.As(err, &ce) {
		for _, d := range ce.Diagnostics {
			fmt.Fprintf(w, "   %s\n", d)
		}
	}
	if rxerrors.IsRetryable(err) {
		fmt.Fprintln(w, "   (retryable)")
	}
}

func printSnapshot(w io.Writer, s pipeline.MetricsSnapshot) {
	fmt.Fprintf(w, "\n📊 %d generated, %d failed (%.1f%% success), %s written in %s (avg %s)\n",
		s.Succeeded, s.Failed, s.SuccessRate(), formatBytes(s.TotalBytes),
		s.TotalDuration.Round(time.Millisecond), s.AverageDuration.Round(time.Millisecond))
	stages := make([]string, 0, len(s.FailedByStage))
	for stage, n := range s.FailedByStage {
		if n > 0 {
			stages = append(stages, stage)
		}
	}
	sort.Strings(stages)
	for _, stage := range stages {
		fmt.Fprintf(w, "   %s failures: %d\n", stage, s.FailedByStage[stage])
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/rxpdf/internal/compiler"
	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
	"github.com/conneroisu/rxpdf/internal/pipeline"
	"github.com/conneroisu/rxpdf/internal/preview"
	"github.com/conneroisu/rxpdf/internal/registry"
	"github.com/conneroisu/rxpdf/internal/renderer"
	"github.com/conneroisu/rxpdf/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Regenerate documents whenever a template or context file changes",
	Long: `Generate the given records, then watch their context files and the
template directory and regenerate on every change. With --serve the
documents are also served on a local preview page that reloads itself.

The built-in templates are embedded in the binary, so template edits are
only picked up when templates.dir points at a directory.

Examples:
  rxpdf watch -t prescription -c rx.yaml
  rxpdf watch -t prescription -c rx.yaml --serve --port 9000
  RXPDF_TEMPLATES_DIR=./templates rxpdf watch -t prescription -c rx.yaml --format png --serve`,
	RunE: runWatch,
}

var (
	watchFlags   *StandardFlags
	watchVerbose bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchFlags = AddStandardFlags(watchCmd, flagsTemplate, flagsDocument, flagsPreview)
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Verbose output")
}

// watchSession regenerates a fixed set of records. Template reloads swap
// the orchestrator under mu.
type watchSession struct {
	app      *app
	format   compiler.Format
	template string
	contexts []string
	preview  *preview.Server
	out      io.Writer

	mu   sync.Mutex
	orch *pipeline.Orchestrator
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := watchFlags.ValidateFlags(); err != nil {
		return err
	}
	if err := watchFlags.RequireTemplate(); err != nil {
		return err
	}
	if err := watchFlags.RequireContexts(); err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	format, err := watchFlags.ApplyDocument(a.cfg)
	if err != nil {
		return err
	}
	watchFlags.ApplyPreview(a.cfg)

	orch, err := a.orchestrator(format, a.cfg.Output.Dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &watchSession{
		app:      a,
		format:   format,
		template: watchFlags.Template,
		contexts: watchFlags.Contexts,
		out:      cmd.OutOrStdout(),
		orch:     orch,
	}

	if watchFlags.Serve {
		s.preview = preview.New(a.cfg.Preview.Host, a.cfg.Preview.Port, a.logger)
		if err := s.preview.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "🌐 Preview at %s\n", s.preview.URL())
	}

	fileWatcher, err := watcher.NewFileWatcher(watcher.DefaultDebounce, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fileWatcher.Stop()

	fileWatcher.AddFilter(watcher.AnyOf(watcher.TemplateFilter, watcher.ContextFilter))
	fileWatcher.AddFilter(watcher.NoEditorTempFilter)
	fileWatcher.AddFilter(watcher.NoGitFilter)
	fileWatcher.AddHandler(func(events []watcher.ChangeEvent) error {
		return s.onChange(ctx, events)
	})

	paths, err := s.watchPaths()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, "🔍 Setting up file watching...")
	for _, p := range paths {
		if err := fileWatcher.AddRecursive(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		fmt.Fprintf(s.out, "   - Watching: %s\n", p)
	}

	s.regenerate(ctx)

	if err := fileWatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	fmt.Fprintln(s.out, "👀 Watching for changes... (Press Ctrl+C to stop)")

	<-ctx.Done()
	fmt.Fprintln(s.out, "\n🛑 Stopping file watcher...")
	return nil
}

// watchPaths returns the directories holding the context files and, when
// configured, the template directory.
func (s *watchSession) watchPaths() ([]string, error) {
	seen := make(map[string]bool)
	for _, c := range s.contexts {
		abs, err := filepath.Abs(c)
		if err != nil {
			return nil, err
		}
		seen[filepath.Dir(abs)] = true
	}
	if dir := s.app.cfg.Templates.Dir; dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		seen[abs] = true
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *watchSession) onChange(ctx context.Context, events []watcher.ChangeEvent) error {
	if watchVerbose {
		fmt.Fprintln(s.out, "📁 File changes detected:")
		for _, event := range events {
			fmt.Fprintf(s.out, "   %s: %s\n", event.Type, event.Path)
		}
	} else {
		fmt.Fprintf(s.out, "📁 %d file(s) changed\n", len(events))
	}

	for _, event := range events {
		if watcher.TemplateFilter(event.Path) {
			if err := s.reloadTemplates(); err != nil {
				fmt.Fprintf(s.out, "❌ template reload failed: %v\n", err)
				return nil
			}
			break
		}
	}

	s.regenerate(ctx)
	return nil
}

// reloadTemplates reloads the registry and swaps in a fresh orchestrator.
// The previous one stays active when the new templates do not load.
func (s *watchSession) reloadTemplates() error {
	reg, err := registry.Load(templateFS(s.app.cfg.Templates))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.app.registry = reg
	s.app.renderer = renderer.New(reg)
	orch, err := s.app.orchestrator(s.format, s.app.cfg.Output.Dir)
	if err != nil {
		return err
	}
	s.orch = orch
	s.app.logger.Info(context.Background(), "templates reloaded", "count", reg.Count())
	return nil
}

// regenerate re-reads every context file and generates its document.
func (s *watchSession) regenerate(ctx context.Context) {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()

	for _, path := range s.contexts {
		if ctx.Err() != nil {
			return
		}

		rc, err := renderer.LoadContextFile(path)
		if err != nil {
			fmt.Fprintf(s.out, "❌ %s: %v\n", path, err)
			s.publishError(filepath.Base(path), err)
			continue
		}

		h, err := orch.Generate(ctx, pipeline.Request{TemplateID: s.template, Context: rc})
		if err != nil {
			printFailure(s.out, path, err)
			s.publishError(recordIDOrPath(err, path), err)
			continue
		}

		printHandle(s.out, h)
		if s.preview != nil {
			if err := s.preview.Publish(h); err != nil {
				s.app.logger.Error(ctx, err, "publish preview", "record_id", h.RecordID)
			}
		}
	}
}

func (s *watchSession) publishError(recordID string, err error) {
	if s.preview != nil {
		s.preview.PublishError(recordID, s.template, err)
	}
}

// recordIDOrPath names a failed record in the preview: its id when the
// failure carries one, else the context file.
func recordIDOrPath(err error, path string) string {
	var pe *rxerrors.PipelineError
	if errors.As(err, &pe) && pe.RecordID != "" {
		return pe.RecordID
	}
	return filepath.Base(path)
}

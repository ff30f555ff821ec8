package cmd

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/rxpdf/internal/artifact"
	"github.com/conneroisu/rxpdf/internal/compiler"
	"github.com/conneroisu/rxpdf/internal/config"
	"github.com/conneroisu/rxpdf/internal/logging"
	"github.com/conneroisu/rxpdf/internal/pipeline"
	"github.com/conneroisu/rxpdf/internal/registry"
	"github.com/conneroisu/rxpdf/internal/renderer"
	"github.com/conneroisu/rxpdf/internal/validator"
	"github.com/conneroisu/rxpdf/templates"
)

// app holds the components a command works with, built from the loaded
// configuration.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *registry.Registry
	renderer *renderer.Renderer
	compiler *compiler.Typst
}

// loadConfig reads the configuration through the global viper instance.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	cfg, err := config.LoadFrom(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newApp loads the configuration and builds the template registry,
// renderer and compiler. The compiler is created lazily by callers that need
// it through withCompiler so that list and render work without typst.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cmd, cfg.Log)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Load(templateFS(cfg.Templates))
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	logger.Debug(cmd.Context(), "templates loaded", "count", reg.Count(), "dir", cfg.Templates.Dir)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		renderer: renderer.New(reg),
	}, nil
}

func newLogger(cmd *cobra.Command, lc config.LogConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    lc.Format,
		Output:    cmd.ErrOrStderr(),
		Component: "rxpdf",
	}), nil
}

// templateFS returns the configured template tree, or the embedded one.
func templateFS(tc config.TemplatesConfig) fs.FS {
	if tc.Dir == "" {
		return templates.FS()
	}
	return os.DirFS(tc.Dir)
}

// withCompiler creates the typst compiler from the configuration.
func (a *app) withCompiler() error {
	if a.compiler != nil {
		return nil
	}
	c := a.cfg.Compiler
	typst, err := compiler.NewTypst(compiler.Options{
		Binary:            c.Binary,
		AllowedBinaries:   c.AllowedBinaries,
		Timeout:           c.Timeout,
		PPI:               c.PPI,
		Root:              c.Root,
		FontPaths:         c.FontPaths,
		IgnoreSystemFonts: c.IgnoreSystemFonts,
		SourceDateEpoch:   c.SourceDateEpoch,
		Logger:            a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create compiler: %w", err)
	}
	a.compiler = typst
	return nil
}

// orchestrator builds a pipeline writing format output under outDir.
func (a *app) orchestrator(format compiler.Format, outDir string, opts ...pipeline.Option) (*pipeline.Orchestrator, error) {
	if err := a.withCompiler(); err != nil {
		return nil, err
	}
	opts = append([]pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithStore(artifact.NewFileStore(outDir)),
		pipeline.WithFormat(format),
	}, opts...)
	return pipeline.New(a.renderer, a.compiler, opts...), nil
}

// validatorOptions maps the validation section onto validator options.
func (a *app) validatorOptions() validator.Options {
	v := a.cfg.Validation
	return validator.Options{
		GoldenDir: v.GoldenDir,
		Tolerance: validator.Tolerance{
			MaxChannelDelta: v.MaxChannelDelta,
			MaxDiffRatio:    v.MaxDiffRatio,
		},
		KeepDiffs: v.KeepDiffs,
		DiffDir:   v.DiffDir,
		Logger:    a.logger,
	}
}

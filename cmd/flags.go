package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/rxpdf/internal/compiler"
	"github.com/conneroisu/rxpdf/internal/config"
	"github.com/conneroisu/rxpdf/internal/renderer"
)

// Flag groups accepted by AddStandardFlags.
const (
	flagsTemplate = "template"
	flagsDocument = "document"
	flagsReport   = "report"
	flagsPreview  = "preview"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Template flags
	Template string   `flag:"template,t" desc:"Template id"`
	Contexts []string `flag:"context,c" desc:"Record context file (YAML or JSON), repeatable"`

	// Document flags
	Format  string `flag:"format" desc:"Document format (pdf|png|svg)"`
	OutDir  string `flag:"out,o" desc:"Output directory"`
	Workers int    `flag:"workers,w" desc:"Concurrent generations"`

	// Report flags
	OutputFormat string `flag:"format,f" desc:"Output format (table|json|yaml)" default:"table"`
	Verbose      bool   `flag:"verbose,v" desc:"Enable verbose output" default:"false"`
	Quiet        bool   `flag:"quiet,q" desc:"Suppress output" default:"false"`

	// Preview flags
	Serve bool   `flag:"serve" desc:"Serve a live preview" default:"false"`
	Host  string `flag:"host" desc:"Preview host"`
	Port  int    `flag:"port,p" desc:"Preview port"`
}

// AddStandardFlags adds standard flags to a command
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case flagsTemplate:
			addTemplateFlags(cmd, flags)
		case flagsDocument:
			addDocumentFlags(cmd, flags)
		case flagsReport:
			addReportFlags(cmd, flags)
		case flagsPreview:
			addPreviewFlags(cmd, flags)
		}
	}

	return flags
}

func addTemplateFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.Template, "template", "t", "", "Template id (see 'rxpdf list')")
	cmd.Flags().StringArrayVarP(&flags.Contexts, "context", "c", nil, "Record context file (YAML or JSON), repeatable")
	AddFlagValidation(cmd, "context", ValidateFileExists)
}

func addDocumentFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVar(&flags.Format, "format", "", "Document format (pdf|png|svg), defaults to output.format")
	cmd.Flags().StringVarP(&flags.OutDir, "out", "o", "", "Output directory, defaults to output.dir")
	cmd.Flags().IntVarP(&flags.Workers, "workers", "w", 0, "Concurrent generations, defaults to pipeline.workers")
	AddFlagValidation(cmd, "format", func(s string) error {
		return ValidateFormatWithSuggestion(s, []string{"pdf", "png", "svg"})
	})
	AddFlagValidation(cmd, "workers", ValidateWorkers)
}

func addReportFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "format", "f", "table", "Output format (table|json|yaml)")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress output")
	AddFlagValidation(cmd, "format", func(s string) error {
		return ValidateFormatWithSuggestion(s, []string{"table", "json", "yaml"})
	})
}

func addPreviewFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().BoolVar(&flags.Serve, "serve", false, "Serve a live preview that reloads on every regeneration")
	cmd.Flags().StringVar(&flags.Host, "host", "", "Preview host, defaults to preview.host")
	cmd.Flags().IntVarP(&flags.Port, "port", "p", 0, "Preview port, defaults to preview.port")
	AddFlagValidation(cmd, "port", ValidatePort)
}

// ValidateFlags validates flag combinations and values
func (f *StandardFlags) ValidateFlags() error {
	if f.Quiet && f.Verbose {
		return fmt.Errorf("cannot specify both --quiet and --verbose")
	}
	if f.Workers < 0 {
		return fmt.Errorf("workers must be at least 1, got %d", f.Workers)
	}
	if f.Format != "" {
		if _, err := compiler.ParseFormat(f.Format); err != nil {
			return err
		}
	}
	return nil
}

// RequireTemplate checks that a template id was given.
func (f *StandardFlags) RequireTemplate() error {
	if f.Template == "" {
		return fmt.Errorf("a template is required (--template); run 'rxpdf list' to see them")
	}
	return validateArgument(f.Template)
}

// RequireContexts checks that at least one context file was given.
func (f *StandardFlags) RequireContexts() error {
	if len(f.Contexts) == 0 {
		return fmt.Errorf("at least one context file is required (--context)")
	}
	return nil
}

// LoadContexts decodes every context file, in flag order.
func (f *StandardFlags) LoadContexts() ([]renderer.RenderContext, error) {
	contexts := make([]renderer.RenderContext, 0, len(f.Contexts))
	for _, path := range f.Contexts {
		rc, err := renderer.LoadContextFile(path)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, rc)
	}
	return contexts, nil
}

// ApplyDocument overrides the output section with any document flags set.
func (f *StandardFlags) ApplyDocument(cfg *config.Config) (compiler.Format, error) {
	if f.Format != "" {
		cfg.Output.Format = f.Format
	}
	if f.OutDir != "" {
		cfg.Output.Dir = f.OutDir
	}
	if f.Workers > 0 {
		cfg.Pipeline.Workers = f.Workers
	}
	return compiler.ParseFormat(cfg.Output.Format)
}

// ApplyPreview overrides the preview section with any preview flags set.
func (f *StandardFlags) ApplyPreview(cfg *config.Config) {
	if f.Host != "" {
		cfg.Preview.Host = f.Host
	}
	if f.Port > 0 {
		cfg.Preview.Port = f.Port
	}
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	// Store original value setter
	originalSet := flag.Value.Set

	// Create wrapper that validates
	flag.Value = &validatingValue{
		Value:       flag.Value,
		validator:   validator,
		originalSet: originalSet,
	}
}

type validatingValue struct {
	pflag.Value
	validator   func(string) error
	originalSet func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.originalSet(val)
}

// Port validation helper
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	return nil
}

// ValidateWorkers checks a worker count.
func ValidateWorkers(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid worker count: %s", s)
	}
	if n < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", n)
	}
	return nil
}

// File existence validation helper
func ValidateFileExists(filename string) error {
	if filename == "" {
		return nil // Empty is valid for optional files
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}

	return nil
}

// ValidateFormatWithSuggestion checks format against valid, case
// insensitively, and names the closest match when it is not listed.
func ValidateFormatWithSuggestion(format string, valid []string) error {
	for _, v := range valid {
		if strings.EqualFold(format, v) {
			return nil
		}
	}

	msg := fmt.Sprintf("invalid format %q, must be one of: %s", format, strings.Join(valid, ", "))
	if s := closest(strings.ToLower(format), valid); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return fmt.Errorf("%s", msg)
}

// closest returns the candidate within edit distance 2 of s, if any.
func closest(s string, candidates []string) string {
	best, bestDist := "", 3
	for _, c := range candidates {
		if d := levenshtein(s, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

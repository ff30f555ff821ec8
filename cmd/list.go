package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/rxpdf/internal/registry"
	"github.com/conneroisu/rxpdf/internal/validator"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l"},
	Short:   "List the available templates",
	Long: `List the loaded templates with their version, entry file and declared
page count. Templates come from templates.dir, or the built-in set when it is
not configured.

Examples:
  rxpdf list                    # List all templates in table format
  rxpdf list -f json            # Output as JSON (short flag)
  rxpdf list -r                 # Include required and optional fields
  rxpdf list -g -f yaml         # Include golden cases, output as YAML`,
	RunE: runList,
}

var (
	listFlags      *StandardFlags
	listWithFields bool
	listWithCases  bool
)

// templateListing is one row of list output.
type templateListing struct {
	ID            string   `json:"id" yaml:"id"`
	Version       string   `json:"version" yaml:"version"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Entry         string   `json:"entry" yaml:"entry"`
	ExpectedPages int      `json:"expected_pages" yaml:"expected_pages"`
	Required      []string `json:"required,omitempty" yaml:"required,omitempty"`
	Optional      []string `json:"optional,omitempty" yaml:"optional,omitempty"`
	Cases         []string `json:"cases,omitempty" yaml:"cases,omitempty"`
}

func init() {
	rootCmd.AddCommand(listCmd)

	listFlags = AddStandardFlags(listCmd, flagsReport)

	listCmd.Flags().
		BoolVarP(&listWithFields, "with-fields", "r", false, "Include required and optional context fields")
	listCmd.Flags().
		BoolVarP(&listWithCases, "with-cases", "g", false, "Include golden test cases")
}

func runList(cmd *cobra.Command, args []string) error {
	if err := listFlags.ValidateFlags(); err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	listings := make([]templateListing, 0, a.registry.Count())
	for _, src := range a.registry.List() {
		l := templateListing{
			ID:            src.ID,
			Version:       src.Version,
			Description:   src.Description,
			Entry:         src.EntryPath,
			ExpectedPages: src.Layout.ExpectedPages,
		}
		if listWithFields || listFlags.Verbose {
			l.Required = src.Required
			l.Optional = src.Optional
		}
		if listWithCases || listFlags.Verbose {
			cases, err := goldenCases(a, src)
			if err != nil {
				return err
			}
			l.Cases = cases
		}
		listings = append(listings, l)
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(listFlags.OutputFormat) {
	case "json":
		return outputJSON(out, listings)
	case "yaml":
		return outputYAML(out, listings)
	default:
		return outputTable(out, listings)
	}
}

func goldenCases(a *app, src *registry.TemplateSource) ([]string, error) {
	v, err := validator.New(nil, validator.OptionsFor(src, a.validatorOptions()))
	if err != nil {
		return nil, err
	}
	return v.Cases()
}

func outputJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func outputYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	return encoder.Encode(v)
}

func outputTable(out io.Writer, listings []templateListing) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	header := "ID\tVERSION\tENTRY\tPAGES"
	if listWithFields {
		header += "\tREQUIRED"
	}
	if listWithCases {
		header += "\tCASES"
	}
	fmt.Fprintln(w, header)

	for _, l := range listings {
		row := fmt.Sprintf("%s\t%s\t%s\t%d", l.ID, l.Version, l.Entry, l.ExpectedPages)
		if listWithFields {
			row += "\t" + strings.Join(l.Required, ", ")
		}
		if listWithCases {
			row += "\t" + strings.Join(l.Cases, ", ")
		}
		fmt.Fprintln(w, row)
	}

	fmt.Fprintf(w, "\nTotal: %d templates\n", len(listings))
	return w.Flush()
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
)

var renderFlags *StandardFlags

// renderCmd prints generated Typst source.
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the Typst source for a record without compiling it",
	Long: `Render the template with a record and print the Typst source that would
be handed to the compiler. Useful for inspecting escaping and transforms.

Examples:
  rxpdf render -t prescription -c rx-0001.yaml
  rxpdf render -t prescription -c rx-0001.yaml > rx.typ && typst compile rx.typ`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderFlags = AddStandardFlags(renderCmd, flagsTemplate)
}

func runRender(cmd *cobra.Command, args []string) error {
	if err := renderFlags.RequireTemplate(); err != nil {
		return err
	}
	if len(renderFlags.Contexts) != 1 {
		return fmt.Errorf("render takes exactly one context file (--context), got %d", len(renderFlags.Contexts))
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	contexts, err := renderFlags.LoadContexts()
	if err != nil {
		return err
	}

	source, err := a.renderer.Render(renderFlags.Template, contexts[0])
	if err != nil {
		return rxerrors.Wrap(rxerrors.StageRender, "", renderFlags.Template, err)
	}

	_, err = cmd.OutOrStdout().Write(source)
	return err
}

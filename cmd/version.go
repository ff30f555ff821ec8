package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/rxpdf/internal/compiler"
	"github.com/conneroisu/rxpdf/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for rxpdf including:

- Semantic version number
- Git commit hash
- Build timestamp
- Go version used for compilation
- Target platform (OS/architecture)
- The typst version found for the configured binary

Examples:
  rxpdf version              # Show version and typst version
  rxpdf version --short      # Show the rxpdf version only
  rxpdf version --detailed   # Show detailed version info
  rxpdf version --format json # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")
	out := cmd.OutOrStdout()

	if versionShort {
		fmt.Fprintln(out, version.GetBuildInfo("").Short())
		return nil
	}

	info := version.GetBuildInfo(compilerVersion(cmd.Context()))

	switch versionFormat {
	case "json":
		return outputJSON(out, struct {
			*version.BuildInfo
			IsRelease bool `json:"is_release"`
		}{info, version.IsRelease()})
	case "text":
		if detailed {
			return outputVersionDetailed(out, info)
		}
		fmt.Fprintln(out, info.Short())
		if info.Compiler != "" {
			fmt.Fprintf(out, "Compiler: %s\n", info.Compiler)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}

func outputVersionDetailed(out io.Writer, info *version.BuildInfo) error {
	fmt.Fprintln(out, info.Detailed())

	if info.Dirty {
		fmt.Fprintln(out, "Working directory: dirty")
	}

	if version.IsRelease() {
		fmt.Fprintln(out, "Build type: release")
	} else {
		fmt.Fprintln(out, "Build type: development")
	}

	return nil
}

// compilerVersion asks the configured typst binary for its version. It
// returns "" when the configuration or the binary is unusable.
func compilerVersion(ctx context.Context) string {
	cfg, err := loadConfig()
	if err != nil {
		return ""
	}
	typst, err := compiler.NewTypst(compiler.Options{
		Binary:          cfg.Compiler.Binary,
		AllowedBinaries: cfg.Compiler.AllowedBinaries,
		Timeout:         5 * time.Second,
	})
	if err != nil {
		return ""
	}
	v, err := typst.Version(ctx)
	if err != nil {
		return ""
	}
	return v
}

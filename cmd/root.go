// Package cmd provides the rxpdf command-line interface.
//
// Configuration System:
//
//	Settings come from several sources, highest priority first:
//	1. Command-line flags (--config, --log-level, --format, ...)
//	2. RXPDF_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (RXPDF_COMPILER_TIMEOUT, ...)
//	4. Configuration files (.rxpdf.yml) - lowest priority
//
// Environment Variables:
//
//	RXPDF_CONFIG_FILE: Path to custom configuration file
//	RXPDF_COMPILER_BINARY: typst executable to run
//	RXPDF_COMPILER_TIMEOUT: Per-document compile timeout (e.g. 45s)
//	RXPDF_OUTPUT_DIR: Where generated documents are written
//	And every other key following the RXPDF_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/rxpdf/internal/config"
)

var (
	cfgFile string
	// configErr holds the read error for an explicitly named config file.
	configErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rxpdf",
	Short: "Generate print-ready documents from templates and records",
	Long: `rxpdf renders a record into a versioned Typst template, compiles it
with the typst CLI and stores the resulting PDF (or PNG/SVG pages).

Quick Start:
  rxpdf list                                   List available templates
  rxpdf generate -t prescription -c rx.yaml    Generate one document
  rxpdf render -t prescription -c rx.yaml      Print the Typst source
  rxpdf validate -t prescription               Compare against golden images
  rxpdf watch -t prescription -c rx.yaml --serve
  rxpdf doctor                                 Check the environment`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .rxpdf.yml, can also use RXPDF_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "log format (text, json)")
}

// initConfig wires viper to the config file and environment.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag
//  2. RXPDF_CONFIG_FILE environment variable
//  3. .rxpdf.yml in the current directory
//
// A missing default config file is not an error; an explicitly named one
// that cannot be read is reported when the command loads its config.
func initConfig() {
	configErr = nil
	explicit := true
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.ConfigFileEnv); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		explicit = false
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rxpdf")
	}

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	if err := config.BindEnv(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, "Warning:", err)
	}

	err := viper.ReadInConfig()
	switch {
	case err == nil:
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	case explicit:
		configErr = fmt.Errorf("read config file: %w", err)
	}
}

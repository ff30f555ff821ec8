// Package config loads rxpdf settings using Viper from a YAML file,
// environment variables and command-line flags.
//
// The file is .rxpdf.yml in the working directory unless --config or
// RXPDF_CONFIG_FILE names another. Every key can be overridden from the
// environment with the RXPDF_ prefix and dots replaced by underscores, for
// example RXPDF_COMPILER_TIMEOUT=45s.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "RXPDF"

// ConfigFileEnv names a config file to load instead of .rxpdf.yml.
const ConfigFileEnv = "RXPDF_CONFIG_FILE"

// Defaults.
const (
	DefaultBinary          = "typst"
	DefaultTimeout         = 30 * time.Second
	DefaultPPI             = 144
	DefaultSourceDateEpoch = int64(946684800)
	DefaultOutputDir       = "out"
	DefaultFormat          = "pdf"
	DefaultGoldenDir       = "testdata/golden"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultPreviewHost     = "localhost"
	DefaultPreviewPort     = 8484
)

type Config struct {
	Compiler   CompilerConfig   `mapstructure:"compiler" yaml:"compiler" json:"compiler"`
	Templates  TemplatesConfig  `mapstructure:"templates" yaml:"templates" json:"templates"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation" json:"validation"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Log        LogConfig        `mapstructure:"log" yaml:"log" json:"log"`
	Preview    PreviewConfig    `mapstructure:"preview" yaml:"preview" json:"preview"`
}

type CompilerConfig struct {
	Binary            string        `mapstructure:"binary" yaml:"binary" json:"binary"`
	AllowedBinaries   []string      `mapstructure:"allowed_binaries" yaml:"allowed_binaries" json:"allowed_binaries"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	PPI               int           `mapstructure:"ppi" yaml:"ppi" json:"ppi"`
	Root              string        `mapstructure:"root" yaml:"root,omitempty" json:"root,omitempty"`
	FontPaths         []string      `mapstructure:"font_paths" yaml:"font_paths,omitempty" json:"font_paths,omitempty"`
	IgnoreSystemFonts bool          `mapstructure:"ignore_system_fonts" yaml:"ignore_system_fonts" json:"ignore_system_fonts"`
	SourceDateEpoch   int64         `mapstructure:"source_date_epoch" yaml:"source_date_epoch" json:"source_date_epoch"`
}

type TemplatesConfig struct {
	// Dir holds one directory per template. Empty uses the built-in set.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty" json:"dir,omitempty"`
}

type OutputConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

type ValidationConfig struct {
	GoldenDir       string  `mapstructure:"golden_dir" yaml:"golden_dir" json:"golden_dir"`
	MaxChannelDelta int     `mapstructure:"max_channel_delta" yaml:"max_channel_delta" json:"max_channel_delta"`
	MaxDiffRatio    float64 `mapstructure:"max_diff_ratio" yaml:"max_diff_ratio" json:"max_diff_ratio"`
	KeepDiffs       bool    `mapstructure:"keep_diffs" yaml:"keep_diffs" json:"keep_diffs"`
	DiffDir         string  `mapstructure:"diff_dir" yaml:"diff_dir,omitempty" json:"diff_dir,omitempty"`
}

type PipelineConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

type PreviewConfig struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port int    `mapstructure:"port" yaml:"port" json:"port"`
}

// Keys lists every configuration key. BindEnv registers them so that
// environment overrides reach Unmarshal even when no file sets the key.
var Keys = []string{
	"compiler.binary",
	"compiler.allowed_binaries",
	"compiler.timeout",
	"compiler.ppi",
	"compiler.root",
	"compiler.font_paths",
	"compiler.ignore_system_fonts",
	"compiler.source_date_epoch",
	"templates.dir",
	"output.dir",
	"output.format",
	"validation.golden_dir",
	"validation.max_channel_delta",
	"validation.max_diff_ratio",
	"validation.keep_diffs",
	"validation.diff_dir",
	"pipeline.workers",
	"log.level",
	"log.format",
	"preview.host",
	"preview.port",
}

// BindEnv enables RXPDF_ environment overrides on v.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range Keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals v, applies defaults and validates the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle slices set from the environment as a single comma-separated
	// string (workaround for viper slice handling)
	config.Compiler.AllowedBinaries = splitList(config.Compiler.AllowedBinaries)
	config.Compiler.FontPaths = splitList(config.Compiler.FontPaths)

	applyDefaults(&config, v)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	var config Config
	applyDefaults(&config, viper.New())
	return &config
}

func applyDefaults(config *Config, v *viper.Viper) {
	// Apply default values for CompilerConfig if not set
	if config.Compiler.Binary == "" {
		config.Compiler.Binary = DefaultBinary
	}
	if len(config.Compiler.AllowedBinaries) == 0 {
		config.Compiler.AllowedBinaries = []string{DefaultBinary}
	}
	if !v.IsSet("compiler.timeout") && config.Compiler.Timeout == 0 {
		config.Compiler.Timeout = DefaultTimeout
	}
	if !v.IsSet("compiler.ppi") && config.Compiler.PPI == 0 {
		config.Compiler.PPI = DefaultPPI
	}
	if !v.IsSet("compiler.source_date_epoch") && config.Compiler.SourceDateEpoch == 0 {
		config.Compiler.SourceDateEpoch = DefaultSourceDateEpoch
	}

	// Apply default values for OutputConfig if not set
	if config.Output.Dir == "" {
		config.Output.Dir = DefaultOutputDir
	}
	if config.Output.Format == "" {
		config.Output.Format = DefaultFormat
	}
	config.Output.Format = strings.ToLower(config.Output.Format)

	// Apply default values for ValidationConfig if not set
	if config.Validation.GoldenDir == "" {
		config.Validation.GoldenDir = DefaultGoldenDir
	}

	// Apply default values for PipelineConfig if not set
	if !v.IsSet("pipeline.workers") && config.Pipeline.Workers == 0 {
		config.Pipeline.Workers = 1
	}

	// Apply default values for LogConfig if not set
	if config.Log.Level == "" {
		config.Log.Level = DefaultLogLevel
	}
	if config.Log.Format == "" {
		config.Log.Format = DefaultLogFormat
	}

	// Apply default values for PreviewConfig if not set
	if config.Preview.Host == "" {
		config.Preview.Host = DefaultPreviewHost
	}
	if !v.IsSet("preview.port") && config.Preview.Port == 0 {
		config.Preview.Port = DefaultPreviewPort
	}
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	result := ValidateConfigWithDetails(config)
	if result.HasErrors() {
		first := result.Errors[0]
		return &first
	}
	return nil
}

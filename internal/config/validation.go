package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/rxpdf/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation Errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation Warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateCompilerConfigDetails(&config.Compiler, result)
	validatePathsDetails(config, result)
	validateOutputConfigDetails(&config.Output, result)
	validateValidationConfigDetails(&config.Validation, result)
	validatePipelineConfigDetails(&config.Pipeline, result)
	validateLogConfigDetails(&config.Log, result)
	validatePreviewConfigDetails(&config.Preview, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateCompilerConfigDetails(config *CompilerConfig, result *ValidationResult) {
	if err := validation.ValidateCommand(config.Binary, config.AllowedBinaries); err != nil {
		result.addError("compiler.binary", config.Binary, err.Error(),
			"Use 'typst' or an absolute path to a typst executable",
			"Add the executable name to compiler.allowed_binaries if it is renamed")
	}

	for i, name := range config.AllowedBinaries {
		if name == "" || strings.ContainsAny(name, `/\`) {
			result.addError(fmt.Sprintf("compiler.allowed_binaries[%d]", i), name,
				"allowed binaries are bare executable names",
				"List names such as 'typst', not paths")
		}
	}

	if config.Timeout <= 0 {
		result.addError("compiler.timeout", config.Timeout, "timeout must be positive",
			"Use a duration such as '30s'")
	}

	if config.PPI <= 0 {
		result.addError("compiler.ppi", config.PPI, "ppi must be positive",
			"144 renders A4 pages at roughly 1190x1684 pixels")
	} else if config.PPI > 1200 {
		result.addWarning("compiler.ppi", config.PPI, "very high ppi produces large page images")
	}

	if config.SourceDateEpoch < 0 {
		result.addError("compiler.source_date_epoch", config.SourceDateEpoch, "epoch cannot be negative")
	}

	for i, dir := range config.FontPaths {
		if err := validation.ValidateArgument(dir); err != nil {
			result.addError(fmt.Sprintf("compiler.font_paths[%d]", i), dir, err.Error())
		}
	}
	if config.Root != "" {
		if err := validation.ValidateArgument(config.Root); err != nil {
			result.addError("compiler.root", config.Root, err.Error())
		}
	}
}

func validatePathsDetails(config *Config, result *ValidationResult) {
	paths := []struct {
		field string
		value string
	}{
		{"templates.dir", config.Templates.Dir},
		{"output.dir", config.Output.Dir},
		{"validation.golden_dir", config.Validation.GoldenDir},
		{"validation.diff_dir", config.Validation.DiffDir},
	}

	for _, p := range paths {
		if p.value == "" || filepath.IsAbs(p.value) {
			continue
		}
		if err := validation.ValidatePath(p.value); err != nil {
			result.addError(p.field, p.value, err.Error(),
				"Use paths relative to the project root",
				"Absolute paths are accepted as given")
		}
	}
}

var formats = []string{"pdf", "png", "svg"}

func validateOutputConfigDetails(config *OutputConfig, result *ValidationResult) {
	if !contains(formats, config.Format) {
		result.addError("output.format", config.Format, "unsupported output format",
			"Supported formats: "+strings.Join(formats, ", "))
	}
}

func validateValidationConfigDetails(config *ValidationConfig, result *ValidationResult) {
	if config.MaxChannelDelta < 0 || config.MaxChannelDelta > 255 {
		result.addError("validation.max_channel_delta", config.MaxChannelDelta,
			"channel delta must be in 0-255",
			"0 requires exact pixel equality")
	}
	if config.MaxDiffRatio < 0 || config.MaxDiffRatio > 1 {
		result.addError("validation.max_diff_ratio", config.MaxDiffRatio,
			"diff ratio must be in [0, 1]",
			"0.001 allows one differing pixel in a thousand")
	} else if config.MaxDiffRatio > 0.05 {
		result.addWarning("validation.max_diff_ratio", config.MaxDiffRatio,
			"tolerance above 5% may hide layout regressions")
	}
}

func validatePipelineConfigDetails(config *PipelineConfig, result *ValidationResult) {
	if config.Workers < 1 {
		result.addError("pipeline.workers", config.Workers, "at least one worker is required")
	}
}

var logLevels = []string{"debug", "info", "warn", "warning", "error"}
var logFormats = []string{"text", "json"}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if !contains(logLevels, strings.ToLower(config.Level)) {
		result.addError("log.level", config.Level, "unknown log level",
			"Available levels: debug, info, warn, error")
	}
	if !contains(logFormats, strings.ToLower(config.Format)) {
		result.addError("log.format", config.Format, "unknown log format",
			"Available formats: text, json")
	}
}

func validatePreviewConfigDetails(config *PreviewConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.addError("preview.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Port 0 allows system to assign an available port")
	} else if config.Port > 0 && config.Port < 1024 {
		result.addWarning("preview.port", config.Port, "port below 1024 requires elevated privileges",
			"Consider using a port above 1024 for development")
	}

	if err := validateHostname(config.Host); err != nil {
		result.addError("preview.host", config.Host, err.Error(),
			"Use 'localhost' for local development",
			"Use a valid IP address or hostname")
	}
}

// Helper validation functions

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	// Check for dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

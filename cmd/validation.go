package cmd

import (
	"fmt"
	"strings"

	"github.com/conneroisu/rxpdf/internal/validation"
)

// validateArgument validates identifiers taken from the command line, such
// as template ids and golden case names. They become path elements, so
// separators and traversal are rejected on top of the shared screening.
func validateArgument(arg string) error {
	if err := validation.ValidateArgument(arg); err != nil {
		return fmt.Errorf("invalid argument '%s': %w", arg, err)
	}
	if strings.ContainsAny(arg, `/\`) {
		return fmt.Errorf("invalid argument '%s': must not contain a path separator", arg)
	}
	if arg == "." || arg == ".." {
		return fmt.Errorf("invalid argument '%s': path traversal attempt detected", arg)
	}
	return nil
}

// validateArguments validates a slice of arguments
func validateArguments(args []string) error {
	for _, arg := range args {
		if err := validateArgument(arg); err != nil {
			return err
		}
	}
	return nil
}

// Package validation provides the checks applied before anything reaches the
// compiler subprocess or the filesystem: binary allowlisting, argument
// screening, and path and file-name sanitising.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// shellMetacharacters never appear in arguments we build ourselves. The
// compiler is executed without a shell, so their presence means a value was
// spliced in from somewhere it should not have been.
var shellMetacharacters = []string{";", "&", "|", "$", "`", "<", ">", "\\", "\"", "'", "\n", "\r"}

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	if strings.ContainsRune(arg, 0) {
		return fmt.Errorf("contains null byte")
	}

	for _, r := range arg {
		if unicode.IsControl(r) && r != '\t' {
			return fmt.Errorf("contains control character %q", r)
		}
	}

	for _, char := range shellMetacharacters {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %q", char)
		}
	}

	return nil
}

// ValidateCommand validates a compiler binary against an allowlist of base
// names. The binary may be a bare name resolved through PATH or a path to an
// executable whose base name is allowed.
func ValidateCommand(binary string, allowed []string) error {
	if binary == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if err := ValidateArgument(binary); err != nil {
		return fmt.Errorf("invalid command '%s': %w", binary, err)
	}

	base := filepath.Base(binary)
	for _, name := range allowed {
		if base == name {
			return nil
		}
	}

	return fmt.Errorf("command '%s' is not allowed", base)
}

// ValidatePath validates a relative path from configuration: it must not be
// empty, absolute, or escape its base directory.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if err := ValidateArgument(path); err != nil {
		return fmt.Errorf("invalid path '%s': %w", path, err)
	}

	cleanPath := filepath.Clean(path)
	if filepath.IsAbs(cleanPath) {
		return fmt.Errorf("path should be relative: %s", path)
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s", path)
	}

	return nil
}

// SanitizeFileName maps an arbitrary identifier (a record id, a case name)
// to a safe single path element. Letters, digits, '-', '_' and '.' are kept,
// everything else becomes '_'. The result is never empty, "." or "..".
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "_"
	}
	if len(out) > 128 {
		out = out[:128]
	}
	return out
}

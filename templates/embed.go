// Package templates embeds the built-in document templates. Each template
// is a directory holding a manifest.yaml and its entry file.
package templates

import (
	"embed"
	"io/fs"
)

//go:embed */manifest.yaml */*.tpl
var files embed.FS

// FS returns the embedded template tree.
func FS() fs.FS {
	return files
}

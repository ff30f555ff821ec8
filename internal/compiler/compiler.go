// Package compiler invokes the external typesetting compiler on rendered
// source text. Every call owns its process, pipes and scratch directory, so a
// Compiler is safe for concurrent use.
package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format selects the compiler output.
type Format string

const (
	// FormatPDF is the production artifact.
	FormatPDF Format = "pdf"
	// FormatPNG rasterises each page, used by golden validation.
	FormatPNG Format = "png"
	// FormatSVG renders each page as vector graphics.
	FormatSVG Format = "svg"
)

// Formats lists the supported formats.
var Formats = []Format{FormatPDF, FormatPNG, FormatSVG}

// ParseFormat maps a config or flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPDF, FormatPNG, FormatSVG:
		return f, nil
	case "":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want pdf, png or svg)", s)
	}
}

// Paged reports whether the format produces one file per page.
func (f Format) Paged() bool {
	return f == FormatPNG || f == FormatSVG
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Output is one compiled document. PDF output is a single byte stream in
// Data; paged formats carry one entry per page in Pages, in page order.
type Output struct {
	Format Format
	Data   []byte
	Pages  [][]byte
	// Warnings holds non-fatal diagnostics the compiler reported.
	Warnings []string
}

// PageCount returns the number of pages for paged output, or 1 for PDF.
func (o *Output) PageCount() int {
	if o.Format.Paged() {
		return len(o.Pages)
	}
	return 1
}

// Bytes returns the artifact bytes: Data for PDF, the first page otherwise.
func (o *Output) Bytes() []byte {
	if !o.Format.Paged() {
		return o.Data
	}
	if len(o.Pages) == 0 {
		return nil
	}
	return o.Pages[0]
}

// Compiler turns source text into a compiled artifact.
type Compiler interface {
	Compile(ctx context.Context, source []byte, format Format) (*Output, error)
}

// CompileToFile compiles source and writes the result under dest. PDF output
// goes to dest itself; paged output goes to dest-<n><ext> per page. Files
// are written to a temporary name in the destination directory and renamed
// into place, so a failed call leaves nothing behind.
func CompileToFile(ctx context.Context, c Compiler, source []byte, format Format, dest string) ([]string, error) {
	out, err := c.Compile(ctx, source, format)
	if err != nil {
		return nil, err
	}

	if !format.Paged() {
		if err := WriteFileAtomic(dest, out.Data); err != nil {
			return nil, err
		}
		return []string{dest}, nil
	}

	stem := strings.TrimSuffix(dest, filepath.Ext(dest))
	pagePath := func(n int) string {
		return fmt.Sprintf("%s-%d%s", stem, n, format.Ext())
	}
	paths := make([]string, len(out.Pages))
	for i := range out.Pages {
		paths[i] = pagePath(i + 1)
	}
	if err := WritePagesAtomic(paths, out.Pages); err != nil {
		return nil, err
	}
	RemoveStalePages(pagePath, len(paths))
	return paths, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := stageFile(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// WritePagesAtomic writes one file per page. Every page is staged under a
// temporary name before any is renamed into place. If a rename fails, the
// pages already moved are removed together with the rest of the set at
// paths, so readers never see old and new pages mixed.
func WritePagesAtomic(paths []string, pages [][]byte) error {
	if len(paths) != len(pages) {
		return fmt.Errorf("write pages: %d paths for %d pages", len(paths), len(pages))
	}

	staged := make([]string, 0, len(pages))
	removeStaged := func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}
	for i, data := range pages {
		tmp, err := stageFile(paths[i], data)
		if err != nil {
			removeStaged()
			return err
		}
		staged = append(staged, tmp)
	}

	for i, tmp := range staged {
		if err := os.Rename(tmp, paths[i]); err != nil {
			removeStaged()
			if i > 0 {
				for j, p := range paths {
					if j != i {
						_ = os.Remove(p)
					}
				}
			}
			return fmt.Errorf("rename into %s: %w", paths[i], err)
		}
	}
	return nil
}

// RemoveStalePages deletes pages numbered after count left by an earlier,
// longer document. It stops at the first missing page.
func RemoveStalePages(pagePath func(n int) string, count int) {
	for n := count + 1; ; n++ {
		if err := os.Remove(pagePath(n)); err != nil {
			return
		}
	}
}

// stageFile writes data to a synced temporary file in path's directory and
// returns its name.
func stageFile(path string, data []byte) (name string, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod %s: %w", path, err)
	}
	return tmp.Name(), nil
}

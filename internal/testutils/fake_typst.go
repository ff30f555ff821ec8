package testutils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// FakeTypstVersion is what the fake compiler prints for --version.
const FakeTypstVersion = "typst 0.13.1 (fake)"

// Source markers the fake compiler reacts to.
const (
	// MarkerFail makes the fake exit 1 with a typst-style diagnostic.
	MarkerFail = "FAKE_TYPST_FAIL"
	// MarkerHang makes the fake spawn a child that sleeps, to exercise
	// timeouts and process-group kills.
	MarkerHang = "FAKE_TYPST_HANG"
	// MarkerEmpty makes the fake succeed without producing output.
	MarkerEmpty = "FAKE_TYPST_EMPTY"
	// MarkerWarn makes the fake print a warning and still succeed.
	MarkerWarn = "FAKE_TYPST_WARN"
)

const fakeTypstScript = `#!/bin/sh
if [ "$1" = "--version" ]; then
	echo "` + FakeTypstVersion + `"
	exit 0
fi

fmt=pdf
prev=
for a; do
	if [ "$prev" = "--format" ]; then fmt=$a; fi
	prev=$a
	out=$a
done

src=$(cat)

case "$src" in
*` + MarkerFail + `*)
	cat >&2 <<'DIAG'
error: unknown variable: nope
  ┌─ <stdin>:2:2
  │
2 │ #nope
  │  ^^^^
  = hint: if you meant to display text, escape the hash
DIAG
	exit 1
	;;
*` + MarkerHang + `*)
	sleep 30 &
	wait
	;;
*` + MarkerEmpty + `*)
	exit 0
	;;
*` + MarkerWarn + `*)
	echo "warning: unknown font family: nope" >&2
	;;
esac

if [ "$fmt" = "pdf" ]; then
	printf '%%PDF-1.7\n%% epoch %s\n' "$SOURCE_DATE_EPOCH"
	printf '%s\n' "$src"
	printf '%%%%EOF\n'
	exit 0
fi

dir=$(dirname "$out")
if [ "$fmt" = "png" ]; then
	if [ -z "$FAKE_TYPST_PAGES" ]; then
		echo "error: no pages configured" >&2
		exit 1
	fi
	cp "$FAKE_TYPST_PAGES"/page-*.png "$dir"/
	exit 0
fi

printf '<svg>1</svg>' > "$dir/page-1.svg"
printf '<svg>2</svg>' > "$dir/page-2.svg"
`

// FakeTypst writes a shell script named typst into a temp directory and
// returns its path. PDF output echoes the source between a header and
// trailer. PNG output copies page-*.png from pagesDir, which is passed to
// the script through FAKE_TYPST_PAGES; leave it empty when PNG output is
// not needed.
func FakeTypst(t *testing.T, pagesDir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler is a POSIX shell script")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "typst")
	if err := os.WriteFile(path, []byte(fakeTypstScript), 0o755); err != nil {
		t.Fatalf("write fake typst: %v", err)
	}
	t.Setenv("FAKE_TYPST_PAGES", pagesDir)
	return path
}

// FakePDF returns the bytes the fake compiler produces for source.
func FakePDF(source, epoch string) []byte {
	src := strings.TrimRight(source, "\n")
	return []byte("%PDF-1.7\n% epoch " + epoch + "\n" + src + "\n%%EOF\n")
}

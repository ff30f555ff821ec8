package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
	"github.com/conneroisu/rxpdf/internal/logging"
	"github.com/conneroisu/rxpdf/internal/validation"
)

const (
	// DefaultBinary is the compiler executable looked up on PATH.
	DefaultBinary = "typst"
	// DefaultTimeout bounds a single compiler run.
	DefaultTimeout = 30 * time.Second
	// DefaultPPI is the raster resolution for PNG output.
	DefaultPPI = 144
	// DefaultSourceDateEpoch pins document timestamps (2000-01-01T00:00:00Z).
	DefaultSourceDateEpoch int64 = 946684800

	// maxStderr caps how much diagnostic output is kept per run.
	maxStderr = 64 << 10
	// waitDelay bounds pipe draining after the process is killed.
	waitDelay = 2 * time.Second
)

// DefaultAllowedBinaries are the executable names accepted by NewTypst.
var DefaultAllowedBinaries = []string{"typst"}

// Options configure a Typst compiler.
type Options struct {
	Binary            string
	AllowedBinaries   []string
	Timeout           time.Duration
	PPI               int
	Root              string
	FontPaths         []string
	IgnoreSystemFonts bool
	SourceDateEpoch   int64
	Logger            logging.Logger
}

func (o *Options) setDefaults() {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if len(o.AllowedBinaries) == 0 {
		o.AllowedBinaries = DefaultAllowedBinaries
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PPI <= 0 {
		o.PPI = DefaultPPI
	}
	if o.SourceDateEpoch <= 0 {
		o.SourceDateEpoch = DefaultSourceDateEpoch
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

// Typst runs the typst CLI.
type Typst struct {
	opts   Options
	parser *rxerrors.ErrorParser
	logger logging.Logger
}

var _ Compiler = (*Typst)(nil)

// NewTypst validates the binary against the allowlist and every configured
// argument before any process is started.
func NewTypst(opts Options) (*Typst, error) {
	opts.setDefaults()

	if err := validation.ValidateCommand(opts.Binary, opts.AllowedBinaries); err != nil {
		return nil, fmt.Errorf("compiler binary: %w", err)
	}

	t := &Typst{
		opts:   opts,
		parser: rxerrors.NewErrorParser(),
		logger: opts.Logger.WithComponent("compiler"),
	}
	for _, arg := range t.baseArgs(FormatPDF) {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}
	return t, nil
}

// Timeout returns the per-run limit.
func (t *Typst) Timeout() time.Duration {
	return t.opts.Timeout
}

func (t *Typst) baseArgs(format Format) []string {
	args := []string{"compile", "--format", string(format)}
	if format == FormatPNG {
		args = append(args, "--ppi", strconv.Itoa(t.opts.PPI))
	}
	if t.opts.Root != "" {
		args = append(args, "--root", t.opts.Root)
	}
	for _, p := range t.opts.FontPaths {
		args = append(args, "--font-path", p)
	}
	if t.opts.IgnoreSystemFonts {
		args = append(args, "--ignore-system-fonts")
	}
	return args
}

// Compile runs typst with source on stdin. PDF is read from stdout; paged
// formats are written to a scratch directory as page-{p}<ext> and read back
// in page order.
func (t *Typst) Compile(ctx context.Context, source []byte, format Format) (*Output, error) {
	switch format {
	case FormatPDF, FormatPNG, FormatSVG:
	default:
		return nil, &rxerrors.CompilationError{
			Reason: rxerrors.FailureSpawn,
			Cause:  fmt.Errorf("unsupported format %q", format),
		}
	}

	args := t.baseArgs(format)
	args = append(args, "-")

	var scratch string
	if format.Paged() {
		dir, err := os.MkdirTemp("", "rxpdf-compile-*")
		if err != nil {
			return nil, &rxerrors.CompilationError{Reason: rxerrors.FailureSpawn, Cause: err}
		}
		defer os.RemoveAll(dir)
		scratch = dir
		args = append(args, filepath.Join(dir, "page-{p}"+format.Ext()))
	} else {
		args = append(args, "-")
	}

	stdout, stderr, err := t.run(ctx, source, args)
	warnings := t.warnings(stderr)
	if err != nil {
		return nil, err
	}

	out := &Output{Format: format, Warnings: warnings}
	if format.Paged() {
		pages, err := readPages(scratch, format)
		if err != nil {
			return nil, &rxerrors.CompilationError{Reason: rxerrors.FailureOutput, Stderr: stderr, Cause: err}
		}
		out.Pages = pages
	} else {
		if len(stdout) == 0 {
			return nil, &rxerrors.CompilationError{
				Reason: rxerrors.FailureOutput,
				Stderr: stderr,
				Cause:  errors.New("compiler produced no output"),
			}
		}
		out.Data = stdout
	}

	return out, nil
}

// run executes the binary and maps every failure to a CompilationError.
func (t *Typst) run(ctx context.Context, stdin []byte, args []string) ([]byte, string, error) {
	for _, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, "", &rxerrors.CompilationError{
				Reason: rxerrors.FailureSpawn,
				Cause:  fmt.Errorf("invalid argument '%s': %w", arg, err),
			}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.opts.Binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(os.Environ(), "SOURCE_DATE_EPOCH="+strconv.FormatInt(t.opts.SourceDateEpoch, 10))
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: maxStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		t.logger.Debug(ctx, "compiler finished",
			"duration_ms", elapsed.Milliseconds(),
			"stdout_bytes", stdout.Len())
		return stdout.Bytes(), stderr.String(), nil
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		reason := rxerrors.FailureTimeout
		if errors.Is(ctxErr, context.Canceled) {
			reason = rxerrors.FailureCanceled
		}
		t.logger.Warn(ctx, ctxErr, "compiler killed",
			"reason", string(reason),
			"timeout", t.opts.Timeout.String(),
			"duration_ms", elapsed.Milliseconds())
		return nil, stderr.String(), &rxerrors.CompilationError{
			Reason: reason,
			Stderr: stderr.String(),
			Cause:  ctxErr,
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		diags := t.parser.Parse(stderr.String())
		return nil, stderr.String(), &rxerrors.CompilationError{
			Reason:      rxerrors.FailureNonZeroExit,
			ExitCode:    exitErr.ExitCode(),
			Stderr:      stderr.String(),
			Diagnostics: rxerrors.Errors(diags),
		}
	}

	return nil, stderr.String(), &rxerrors.CompilationError{
		Reason: rxerrors.FailureSpawn,
		Stderr: stderr.String(),
		Cause:  err,
	}
}

func (t *Typst) warnings(stderr string) []string {
	var out []string
	for _, d := range t.parser.Parse(stderr) {
		if d.Severity == rxerrors.SeverityWarning {
			out = append(out, d.String())
		}
	}
	return out
}

// Version runs `typst --version` and returns its first output line.
func (t *Typst) Version(ctx context.Context) (string, error) {
	stdout, _, err := t.run(ctx, nil, []string{"--version"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(firstLine(string(stdout))), nil
}

// readPages loads page-<n><ext> files from dir sorted by page number.
func readPages(dir string, format Format) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type page struct {
		n    int
		name string
	}
	var found []page
	for _, e := range entries {
		n, ok := PageNumber(e.Name(), format.Ext())
		if !ok {
			continue
		}
		found = append(found, page{n: n, name: e.Name()})
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("compiler wrote no %s pages", format)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	pages := make([][]byte, 0, len(found))
	for i, p := range found {
		if p.n != i+1 {
			return nil, fmt.Errorf("page %d missing from compiler output", i+1)
		}
		data, err := os.ReadFile(filepath.Join(dir, p.name))
		if err != nil {
			return nil, err
		}
		pages = append(pages, data)
	}
	return pages, nil
}

// PageNumber parses "page-<n><ext>". typst zero-pads page numbers for
// documents with ten or more pages.
func PageNumber(name, ext string) (int, bool) {
	if !strings.HasPrefix(name, "page-") || !strings.HasSuffix(name, ext) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page-"), ext))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
			c.truncated = true
		} else {
			c.buf.Write(p)
		}
	} else if len(p) > 0 {
		c.truncated = true
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[stderr truncated]"
	}
	return c.buf.String()
}

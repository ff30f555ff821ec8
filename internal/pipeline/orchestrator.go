// Package pipeline sequences rendering, compilation and storage into a
// single Generate operation.
//
// Each invocation is independent: it owns its render context copy, its
// compiler process and its state tracker. Nothing is retried automatically;
// errors.IsRetryable tells callers which failures are worth another attempt.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/conneroisu/rxpdf/internal/artifact"
	"github.com/conneroisu/rxpdf/internal/compiler"
	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
	"github.com/conneroisu/rxpdf/internal/logging"
	"github.com/conneroisu/rxpdf/internal/registry"
	"github.com/conneroisu/rxpdf/internal/renderer"
)

// Request is one document to generate.
type Request struct {
	TemplateID string
	// RecordID identifies the record in logs and artifact names. When
	// empty it is read from the context field named by the manifest.
	RecordID string
	Context  renderer.RenderContext
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	renderer *renderer.Renderer
	compiler compiler.Compiler
	store    artifact.Store
	format   compiler.Format
	logger   logging.Logger
	metrics  *Metrics
	observer Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger scoped per invocation.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithStore sets where artifacts are written. Defaults to memory.
func WithStore(s artifact.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithFormat sets the compiler output format. Defaults to PDF.
func WithFormat(f compiler.Format) Option {
	return func(o *Orchestrator) { o.format = f }
}

// WithMetrics shares a Metrics across orchestrators.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver receives every state transition.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an Orchestrator.
func New(r *renderer.Renderer, c compiler.Compiler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		renderer: r,
		compiler: c,
		store:    artifact.NewMemoryStore(),
		format:   compiler.FormatPDF,
		logger:   logging.NewNop(),
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("pipeline")
	return o
}

// Metrics returns the orchestrator's counters.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// Format returns the configured output format.
func (o *Orchestrator) Format() compiler.Format {
	return o.format
}

// Generate renders, compiles and stores one document. Any failure is
// returned as *errors.PipelineError naming the stage that failed, and no
// artifact is produced.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (handle *artifact.Handle, err error) {
	o.metrics.recordStart()

	recordID := req.RecordID
	if recordID == "" {
		recordID = recordIDFrom(req.Context, registry.DefaultIDField)
	}
	op := logging.StartOperation(o.logger.With("record_id", recordID, "template", req.TemplateID), "generate")
	state := newTracker(recordID, req.TemplateID, o.observer)
	stage := rxerrors.StageRender

	fail := func(cause error) error {
		pe := rxerrors.Wrap(stage, recordID, req.TemplateID, cause)
		if stage == rxerrors.StageStore && pe.Kind == rxerrors.KindInternal {
			pe.Kind = rxerrors.KindStorage
		}
		_ = state.advance(StateFailed, pe)
		o.metrics.recordFailure(stage, op.Elapsed())

		fields := []interface{}{"stage", string(stage), "kind", string(pe.Kind)}
		var ce *rxerrors.CompilationError
		if errors.As(cause, &ce) {
			fields = append(fields, "reason", string(ce.Reason), "exit_code", ce.ExitCode)
			if len(ce.Diagnostics) > 0 {
				fields = append(fields, "diagnostic", ce.Diagnostics[0].String())
			}
		}
		op.EndWithError(ctx, cause, "document generation failed", fields...)
		return pe
	}

	defer func() {
		if r := recover(); r != nil {
			stage = rxerrors.StageInternal
			op.Debug(ctx, "recovered panic", "stack", string(debug.Stack()))
			handle = nil
			err = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	src, err := o.renderer.Registry().Get(req.TemplateID)
	if err != nil {
		return nil, fail(err)
	}

	// The manifest may name another id field than the default.
	if req.RecordID == "" && src.RecordIDField() != registry.DefaultIDField {
		recordID = recordIDFrom(req.Context, src.RecordIDField())
		state.recordID = recordID
		op.Logger = o.logger.With("record_id", recordID, "template", req.TemplateID, "operation", "generate")
	}
	if recordID == "" {
		return nil, fail(&rxerrors.MissingFieldError{
			TemplateID: req.TemplateID,
			Fields:     []string{src.RecordIDField()},
		})
	}

	op.Info(ctx, "generating document", "version", src.Version, "format", string(o.format))

	source, err := o.renderer.Render(req.TemplateID, req.Context)
	if err != nil {
		return nil, fail(err)
	}
	if err := state.advance(StateRendered, nil); err != nil {
		return nil, fail(err)
	}
	op.Debug(ctx, "template rendered", "source_bytes", len(source))

	stage = rxerrors.StageCompile
	out, err := o.compiler.Compile(ctx, source, o.format)
	if err != nil {
		return nil, fail(err)
	}
	if err := state.advance(StateCompiled, nil); err != nil {
		return nil, fail(err)
	}
	for _, w := range out.Warnings {
		op.Warn(ctx, nil, "compiler warning", "diagnostic", w)
	}

	stage = rxerrors.StageStore
	meta := artifact.Meta{
		RecordID:        recordID,
		TemplateID:      src.ID,
		TemplateVersion: src.Version,
		Format:          o.format,
	}
	handle, err = o.put(ctx, meta, out)
	if err != nil {
		return nil, fail(err)
	}
	if err := state.advance(StateDone, nil); err != nil {
		return nil, fail(err)
	}

	o.metrics.recordSuccess(op.Elapsed(), handle.Size)
	op.End(ctx, "document generated",
		"digest", handle.Digest.String(),
		"size", handle.Size,
		"pages", out.PageCount(),
		"path", handle.Path)

	return handle, nil
}

// put stores the compiled output. Paged formats are stored as one set and
// returned as one handle whose digest covers all pages in order.
func (o *Orchestrator) put(ctx context.Context, meta artifact.Meta, out *compiler.Output) (*artifact.Handle, error) {
	if !out.Format.Paged() {
		return o.store.Put(ctx, meta, out.Data)
	}

	pages, err := o.store.PutPages(ctx, meta, out.Pages)
	if err != nil {
		return nil, err
	}
	doc := &artifact.Handle{Meta: meta, Pages: pages}
	for _, h := range pages {
		doc.Size += h.Size
	}
	doc.Digest = artifact.Sum(bytes.Join(out.Pages, nil))
	return doc, nil
}

func recordIDFrom(rc renderer.RenderContext, field string) string {
	v, ok := renderer.Lookup(rc, field)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

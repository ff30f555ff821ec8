// Package internal contains the core implementation packages for rxpdf.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - registry: Template manifests and sources, loaded once and read-only
//   - renderer: Context validation and pongo2 rendering into typst source
//   - compiler: The typst process invoker and its output collection
//   - validator: Golden-image comparison of compiled PNG pages
//   - pipeline: Render then compile orchestration with a bounded worker pool
//   - artifact: Storage of generated documents
//   - preview: Local HTTP preview with WebSocket reload
//   - watcher: File system monitoring with debouncing
//   - config: Viper-backed configuration and validation
//   - errors: The error taxonomy and typst diagnostic parsing
//   - logging: Structured logging on top of log/slog
//
// # Data Flow
//
// A request names a template and carries a context. The renderer checks
// the manifest's required fields and renders the typst source, the
// compiler turns it into PDF, PNG or SVG, and the artifact store writes
// the result. Every failure is wrapped in a PipelineError that records
// the stage and the record id.
package internal

// Package renderer binds a RenderContext into a Typst template and produces
// the source text handed to the compiler.
//
// Templates use pongo2 syntax with HTML autoescaping switched off; values are
// escaped explicitly with the typst or typst_str transforms. Rendering is a
// pure function of (template, context): the context is deep-copied before
// use, nothing time- or environment-dependent is injected, and the output is
// NFC-normalised with LF line endings.
package renderer

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"golang.org/x/text/unicode/norm"

	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
	"github.com/conneroisu/rxpdf/internal/registry"
)

// RenderContext maps named fields to values. Nested fields are addressed
// with dotted paths ("patient.name").
type RenderContext map[string]any

// DocumentKey is the context key under which template metadata is exposed.
const DocumentKey = "document"

var errEmptySource = errors.New("template produced empty output")

var registerOnce sync.Once

func registerTransforms() {
	registerOnce.Do(func() {
		pongo2.SetAutoescape(false)
		for name, fn := range transforms {
			filter := toFilter(name, fn)
			if pongo2.FilterExists(name) {
				_ = pongo2.ReplaceFilter(name, filter)
				continue
			}
			_ = pongo2.RegisterFilter(name, filter)
		}
	})
}

func toFilter(name string, fn Transform) pongo2.FilterFunction {
	return func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		var input, arg any
		if in != nil && !in.IsNil() {
			input = in.Interface()
		}
		if param != nil && !param.IsNil() {
			arg = param.Interface()
		}
		out, err := fn(input, arg)
		if err != nil {
			return nil, &pongo2.Error{Sender: "filter:" + name, OrigError: err}
		}
		return pongo2.AsValue(out), nil
	}
}

// Renderer renders registry templates.
type Renderer struct {
	registry *registry.Registry
	set      *pongo2.TemplateSet
}

// New creates a renderer over the templates of reg.
func New(reg *registry.Registry) *Renderer {
	registerTransforms()
	return &Renderer{
		registry: reg,
		set:      pongo2.NewSet("rxpdf", pongo2.NewFSLoader(reg.FS())),
	}
}

// Registry returns the registry templates are resolved from.
func (r *Renderer) Registry() *registry.Registry {
	return r.registry
}

// Render produces Typst source for templateID bound to rc. It fails with a
// TemplateNotFoundError for an unknown id and with a MissingFieldError,
// listing every absent field, before the template is executed.
func (r *Renderer) Render(templateID string, rc RenderContext) ([]byte, error) {
	src, err := r.registry.Get(templateID)
	if err != nil {
		return nil, err
	}

	if missing := MissingFields(rc, src.Required); len(missing) > 0 {
		return nil, &rxerrors.MissingFieldError{TemplateID: templateID, Fields: missing}
	}

	tpl, err := r.set.FromCache(src.EntryPath)
	if err != nil {
		return nil, &rxerrors.RenderError{TemplateID: templateID, Cause: err}
	}

	data := pongo2.Context(Clone(rc))
	data[DocumentKey] = map[string]any{
		"template": src.ID,
		"version":  src.Version,
	}

	out, err := tpl.ExecuteBytes(data)
	if err != nil {
		return nil, &rxerrors.RenderError{TemplateID: templateID, Cause: err}
	}

	source := Normalize(out)
	if len(bytes.TrimSpace(source)) == 0 {
		return nil, &rxerrors.RenderError{TemplateID: templateID, Cause: errEmptySource}
	}
	return source, nil
}

// Normalize converts text to NFC with LF line endings and exactly one
// trailing newline.
func Normalize(text []byte) []byte {
	text = norm.NFC.Bytes(text)
	text = bytes.ReplaceAll(text, []byte("\r\n"), []byte("\n"))
	text = bytes.ReplaceAll(text, []byte("\r"), []byte("\n"))
	text = bytes.TrimRight(text, " \t\r\n")
	return append(text, '\n')
}

// MissingFields returns the sorted required paths that are absent or nil in
// rc. Empty strings and empty lists count as present; templates elide them.
func MissingFields(rc RenderContext, required []string) []string {
	var missing []string
	for _, field := range required {
		v, ok := Lookup(rc, field)
		if !ok || v == nil {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

// Lookup resolves a dotted path through nested maps and lists. List
// elements are addressed by index ("prescriptions.0.drug").
func Lookup(rc RenderContext, path string) (any, bool) {
	var cur any = map[string]any(rc)
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case RenderContext:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Clone deep-copies the maps and lists of rc so that rendering never shares
// mutable state with the caller or with concurrent renders.
func Clone(rc RenderContext) map[string]any {
	out := make(map[string]any, len(rc))
	for k, v := range rc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case RenderContext:
		return Clone(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = cloneValue(item)
		}
		return s
	case []map[string]any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = Clone(item)
		}
		return s
	case []string:
		return append([]string(nil), val...)
	case []Prescription:
		return append([]Prescription(nil), val...)
	default:
		return v
	}
}

// String is a convenience for debugging output.
func (rc RenderContext) String() string {
	keys := make([]string, 0, len(rc))
	for k := range rc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("RenderContext%v", keys)
}

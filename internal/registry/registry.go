// Package registry resolves template identifiers to versioned template
// sources. Templates live one per directory, each described by a
// manifest.yaml; the registry is loaded once at start-up and only read
// afterwards.
package registry

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"

	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
)

// TemplateSource is a loaded template: its manifest plus the location of the
// entry file inside the registry filesystem.
type TemplateSource struct {
	Manifest
	// Dir is the template directory relative to the registry root.
	Dir string
	// EntryPath is the entry file relative to the registry root.
	EntryPath string
}

// Registry manages all loaded templates
type Registry struct {
	fsys      fs.FS
	templates map[string]*TemplateSource
	mutex     sync.RWMutex
}

// NewRegistry creates an empty registry over fsys.
func NewRegistry(fsys fs.FS) *Registry {
	return &Registry{
		fsys:      fsys,
		templates: make(map[string]*TemplateSource),
	}
}

// Load discovers every <dir>/manifest.yaml directly under the root of fsys.
func Load(fsys fs.FS) (*Registry, error) {
	reg := NewRegistry(fsys)

	manifests, err := fs.Glob(fsys, path.Join("*", ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("scan templates: %w", err)
	}
	sort.Strings(manifests)

	for _, file := range manifests {
		m, err := readManifest(fsys, file)
		if err != nil {
			return nil, err
		}
		dir := path.Dir(file)
		if err := reg.Register(&TemplateSource{
			Manifest:  *m,
			Dir:       dir,
			EntryPath: path.Join(dir, m.Entry),
		}); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// Register adds a template; ids must be unique and the entry must exist.
func (r *Registry) Register(src *TemplateSource) error {
	if _, err := fs.Stat(r.fsys, src.EntryPath); err != nil {
		return fmt.Errorf("template %s: entry %s: %w", src.ID, src.EntryPath, err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, ok := r.templates[src.ID]; ok {
		return fmt.Errorf("template %s: declared by both %s and %s", src.ID, existing.Dir, src.Dir)
	}
	r.templates[src.ID] = src
	return nil
}

// Get resolves a template identifier.
func (r *Registry) Get(id string) (*TemplateSource, error) {
	r.mutex.RLock()
	src, ok := r.templates[id]
	r.mutex.RUnlock()

	if !ok {
		return nil, &rxerrors.TemplateNotFoundError{TemplateID: id, Known: r.IDs()}
	}
	return src, nil
}

// IDs returns the sorted identifiers of all templates.
func (r *Registry) IDs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all templates sorted by id.
func (r *Registry) List() []*TemplateSource {
	ids := r.IDs()

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]*TemplateSource, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.templates[id])
	}
	return out
}

// Count returns the number of templates.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.templates)
}

// FS returns the filesystem templates are loaded from.
func (r *Registry) FS() fs.FS {
	return r.fsys
}

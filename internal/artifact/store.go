// Package artifact stores compiled documents and hands out immutable handles
// to them.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/conneroisu/rxpdf/internal/compiler"
	"github.com/conneroisu/rxpdf/internal/validation"
)

// Meta identifies an artifact.
type Meta struct {
	RecordID        string          `json:"record_id" yaml:"record_id"`
	TemplateID      string          `json:"template" yaml:"template"`
	TemplateVersion string          `json:"template_version" yaml:"template_version"`
	Format          compiler.Format `json:"format" yaml:"format"`
	// Page is the 1-based page for paged formats, 0 for a whole document.
	Page int `json:"page,omitempty" yaml:"page,omitempty"`
}

// FileName returns the sanitized file name for the artifact.
func (m Meta) FileName() string {
	name := validation.SanitizeFileName(m.RecordID)
	if m.Page > 0 {
		name = fmt.Sprintf("%s-%d", name, m.Page)
	}
	return name + m.Format.Ext()
}

// Handle refers to a stored artifact. Handles are never mutated after Put
// returns them.
type Handle struct {
	Meta
	Digest Digest `json:"digest" yaml:"digest"`
	Size   int64  `json:"size" yaml:"size"`
	// Path is set for artifacts on disk.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Pages holds per-page handles for paged formats.
	Pages []*Handle `json:"pages,omitempty" yaml:"pages,omitempty"`

	data []byte
}

// Open returns a reader over the artifact bytes.
func (h *Handle) Open() (io.ReadCloser, error) {
	if h.Path != "" {
		return os.Open(h.Path)
	}
	if h.data == nil && len(h.Pages) > 0 {
		return h.Pages[0].Open()
	}
	return io.NopCloser(bytes.NewReader(h.data)), nil
}

// Bytes reads the whole artifact.
func (h *Handle) Bytes() ([]byte, error) {
	rc, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Store persists artifacts.
type Store interface {
	Put(ctx context.Context, meta Meta, data []byte) (*Handle, error)
	// PutPages stores every page of a paged document or none of them.
	// meta.Page is ignored; pages are numbered from 1 in order.
	PutPages(ctx context.Context, meta Meta, pages [][]byte) ([]*Handle, error)
}

func pageMetas(meta Meta, n int) []Meta {
	metas := make([]Meta, n)
	for i := range metas {
		metas[i] = meta
		metas[i].Page = i + 1
	}
	return metas
}

func newHandle(meta Meta, data []byte) *Handle {
	return &Handle{
		Meta:   meta,
		Digest: Sum(data),
		Size:   int64(len(data)),
	}
}

// FileStore writes artifacts to <Dir>/<template>/<record><ext>. Files appear
// atomically: a reader never observes a partially written artifact.
type FileStore struct {
	Dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns where meta is stored.
func (s *FileStore) Path(meta Meta) string {
	return filepath.Join(s.Dir, validation.SanitizeFileName(meta.TemplateID), meta.FileName())
}

// Put writes data atomically and returns its handle.
func (s *FileStore) Put(ctx context.Context, meta Meta, data []byte) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if meta.RecordID == "" {
		return nil, fmt.Errorf("artifact: record id is required")
	}

	path := s.Path(meta)
	if err := compiler.WriteFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", meta.RecordID, err)
	}

	h := newHandle(meta, data)
	h.Path = path
	return h, nil
}

// PutPages stages every page before moving any into place and removes pages
// left over from an earlier, longer document. A failure leaves no page of
// this record behind.
func (s *FileStore) PutPages(ctx context.Context, meta Meta, pages [][]byte) ([]*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if meta.RecordID == "" {
		return nil, fmt.Errorf("artifact: record id is required")
	}

	metas := pageMetas(meta, len(pages))
	paths := make([]string, len(pages))
	for i, m := range metas {
		paths[i] = s.Path(m)
	}
	if err := compiler.WritePagesAtomic(paths, pages); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", meta.RecordID, err)
	}
	compiler.RemoveStalePages(func(n int) string {
		m := meta
		m.Page = n
		return s.Path(m)
	}, len(pages))

	handles := make([]*Handle, len(pages))
	for i, data := range pages {
		handles[i] = newHandle(metas[i], data)
		handles[i].Path = paths[i]
	}
	return handles, nil
}

// MemoryStore keeps artifacts in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	handles []*Handle
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Put copies data into a new handle.
func (s *MemoryStore) Put(ctx context.Context, meta Meta, data []byte) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := newHandle(meta, data)
	h.data = append([]byte(nil), data...)

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h, nil
}

// PutPages copies every page into new handles under one lock.
func (s *MemoryStore) PutPages(ctx context.Context, meta Meta, pages [][]byte) ([]*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handles := make([]*Handle, len(pages))
	for i, m := range pageMetas(meta, len(pages)) {
		handles[i] = newHandle(m, pages[i])
		handles[i].data = append([]byte(nil), pages[i]...)
	}

	s.mu.Lock()
	s.handles = append(s.handles, handles...)
	s.mu.Unlock()
	return handles, nil
}

// Handles returns every handle stored so far, in insertion order.
func (s *MemoryStore) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Len returns the number of stored artifacts.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

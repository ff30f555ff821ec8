package registry

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the per-template descriptor.
const ManifestFile = "manifest.yaml"

// DefaultIDField is the context field used as the record identifier when a
// manifest does not name one.
const DefaultIDField = "record_id"

// Manifest describes one template version.
type Manifest struct {
	ID          string   `yaml:"id" json:"id"`
	Version     string   `yaml:"version" json:"version"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Entry       string   `yaml:"entry" json:"entry"`
	IDField     string   `yaml:"id_field,omitempty" json:"id_field,omitempty"`
	Required    []string `yaml:"required" json:"required"`
	Optional    []string `yaml:"optional,omitempty" json:"optional,omitempty"`
	Layout      Layout   `yaml:"layout" json:"layout"`
}

// Layout holds the page-count expectations for a template version. Golden
// tests read them from here, so a layout change that alters the page count
// fails until the manifest is updated alongside the goldens.
type Layout struct {
	ExpectedPages int            `yaml:"expected_pages" json:"expected_pages"`
	Cases         map[string]int `yaml:"cases,omitempty" json:"cases,omitempty"`
}

// ExpectedPages returns the declared page count for a golden case, falling
// back to the template default.
func (m *Manifest) ExpectedPages(caseName string) int {
	if n, ok := m.Layout.Cases[caseName]; ok {
		return n
	}
	return m.Layout.ExpectedPages
}

// RecordIDField returns the context field holding the record identifier.
func (m *Manifest) RecordIDField() string {
	if m.IDField == "" {
		return DefaultIDField
	}
	return m.IDField
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		return fmt.Errorf("manifest: id is required")
	}
	if strings.ContainsAny(m.ID, "/\\ ") {
		return fmt.Errorf("manifest %s: id must be a single path element", m.ID)
	}
	if m.Version == "" {
		return fmt.Errorf("manifest %s: version is required", m.ID)
	}
	if m.Entry == "" {
		return fmt.Errorf("manifest %s: entry is required", m.ID)
	}
	if path.IsAbs(m.Entry) || strings.HasPrefix(path.Clean(m.Entry), "..") {
		return fmt.Errorf("manifest %s: entry must be relative to the template directory", m.ID)
	}
	if m.Layout.ExpectedPages < 1 {
		return fmt.Errorf("manifest %s: layout.expected_pages must be at least 1", m.ID)
	}
	for name, pages := range m.Layout.Cases {
		if pages < 1 {
			return fmt.Errorf("manifest %s: layout.cases.%s must be at least 1", m.ID, name)
		}
	}
	for _, field := range m.Required {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("manifest %s: empty required field name", m.ID)
		}
	}
	return nil
}

func readManifest(fsys fs.FS, file string) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return m, nil
}

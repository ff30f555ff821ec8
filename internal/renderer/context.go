package renderer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseContext decodes a YAML or JSON document into a RenderContext.
func ParseContext(data []byte) (RenderContext, error) {
	var rc map[string]any
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if rc == nil {
		rc = map[string]any{}
	}
	return RenderContext(rc), nil
}

// LoadContextFile reads and decodes a context file.
func LoadContextFile(path string) (RenderContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rc, err := ParseContext(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rc, nil
}

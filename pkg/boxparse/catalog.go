package boxparse

import (
	_ "embed"
	"fmt"
	"os"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// BoxSpec tells the parser how to treat a box type.
type BoxSpec struct {
	Description string `yaml:"description" json:"description,omitempty"`
	// Container boxes hold child boxes after the header.
	Container bool `yaml:"container" json:"container,omitempty"`
	// Capture copies the box body into Box.Payload.
	Capture bool `yaml:"capture" json:"capture,omitempty"`
	// ChildOffset is the number of body bytes preceding the first child,
	// e.g. the version and flags of a full box.
	ChildOffset int64 `yaml:"child_offset" json:"child_offset,omitempty"`
}

// Catalog maps four-character box types to their BoxSpec.
type Catalog struct {
	Boxes map[string]BoxSpec `yaml:"boxes"`
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the built-in catalog of common ISO base media boxes.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := ParseCatalog(defaultCatalogYAML)
		if err != nil {
			panic(fmt.Sprintf("boxparse: invalid built-in catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// ParseCatalog parses a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if c.Boxes == nil {
		c.Boxes = make(map[string]BoxSpec)
	}
	for name, spec := range c.Boxes {
		if utf8.RuneCountInString(name) != 4 {
			return nil, fmt.Errorf("box type %q must be four characters", name)
		}
		if spec.Container && spec.Capture {
			return nil, fmt.Errorf("box type %q cannot be both container and captured", name)
		}
		if spec.ChildOffset < 0 || (spec.ChildOffset > 0 && !spec.Container) {
			return nil, fmt.Errorf("box type %q has invalid child_offset %d", name, spec.ChildOffset)
		}
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// Lookup returns the spec for boxType. Unknown types are leaf boxes.
func (c *Catalog) Lookup(boxType string) (BoxSpec, bool) {
	if c == nil {
		return BoxSpec{}, false
	}
	spec, ok := c.Boxes[boxType]
	return spec, ok
}

// Extend returns a catalog holding c's entries overridden by other's.
func (c *Catalog) Extend(other *Catalog) *Catalog {
	out := &Catalog{Boxes: make(map[string]BoxSpec, len(c.Boxes)+len(other.Boxes))}
	for k, v := range c.Boxes {
		out.Boxes[k] = v
	}
	for k, v := range other.Boxes {
		out.Boxes[k] = v
	}
	return out
}

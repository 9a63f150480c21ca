// Package sections parses ordered section configurations and classifies
// report pages against them.
package sections

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

// Section is one named region of an audit report.
type Section struct {
	Name        string
	SearchTerms []string // lowercased; every term must appear on a page for it to match
	Selected    bool     // selected sections are extracted and must be located
	Clause      string
	Pages       []int // identified 0-based page indices, ascending
}

// Config is an ordered list of sections. Order is significant: a section's
// page range ends where the next configured section ends.
type Config struct {
	Sections []Section
}

type sectionBody struct {
	SearchTerms []string `yaml:"search_terms"`
	Clause      string   `yaml:"clause"`
}

// ParseConfig reads a YAML mapping of section name -> {search_terms, selected?, clause?},
// preserving document order. A present "selected" key marks the section selected
// unless its value is false.
func ParseConfig(data []byte) (Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("%w: section config: %v", common.ErrInvalidInput, err)
	}
	if len(doc.Content) == 0 {
		return Config{}, fmt.Errorf("%w: section config is empty", common.ErrInvalidInput)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Config{}, fmt.Errorf("%w: section config must be a mapping", common.ErrInvalidInput)
	}

	var cfg Config
	seen := map[string]bool{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := strings.TrimSpace(root.Content[i].Value)
		val := root.Content[i+1]
		if name == "" {
			return Config{}, fmt.Errorf("%w: section with empty name", common.ErrInvalidInput)
		}
		if err := ValidateName(name); err != nil {
			return Config{}, err
		}
		if seen[name] {
			return Config{}, fmt.Errorf("%w: duplicate section %q", common.ErrInvalidInput, name)
		}
		seen[name] = true
		if val.Kind != yaml.MappingNode {
			return Config{}, fmt.Errorf("%w: section %q must be a mapping", common.ErrInvalidInput, name)
		}

		var body sectionBody
		if err := val.Decode(&body); err != nil {
			return Config{}, fmt.Errorf("%w: section %q: %v", common.ErrInvalidInput, name, err)
		}
		terms := make([]string, 0, len(body.SearchTerms))
		for _, t := range body.SearchTerms {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				terms = append(terms, t)
			}
		}
		if len(terms) == 0 {
			return Config{}, fmt.Errorf("%w: section %q has no search_terms", common.ErrInvalidInput, name)
		}

		cfg.Sections = append(cfg.Sections, Section{
			Name:        name,
			SearchTerms: terms,
			Selected:    selectedFlag(val),
			Clause:      strings.TrimSpace(body.Clause),
		})
	}
	if len(cfg.Sections) == 0 {
		return Config{}, fmt.Errorf("%w: section config has no sections", common.ErrInvalidInput)
	}
	return cfg, nil
}

// ValidateName rejects section names that cannot be used as a single storage
// key segment. Section names become part of the run's artifact keys.
func ValidateName(name string) error {
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: section name %q must be a single path segment", common.ErrInvalidInput, name)
	}
	return nil
}

func selectedFlag(m *yaml.Node) bool {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != "selected" {
			continue
		}
		v := m.Content[i+1]
		if v.Tag == "!!bool" {
			var b bool
			if err := v.Decode(&b); err == nil {
				return b
			}
		}
		return true
	}
	return false
}

// Selected returns the selected sections in configuration order.
func (c Config) Selected() []Section {
	var out []Section
	for _, s := range c.Sections {
		if s.Selected {
			out = append(out, s)
		}
	}
	return out
}

// Names returns the section names in configuration order.
func (c Config) Names() []string {
	out := make([]string, len(c.Sections))
	for i, s := range c.Sections {
		out[i] = s.Name
	}
	return out
}

func (c Config) clone() Config {
	out := Config{Sections: make([]Section, len(c.Sections))}
	for i, s := range c.Sections {
		s.SearchTerms = append([]string(nil), s.SearchTerms...)
		s.Pages = nil
		out.Sections[i] = s
	}
	return out
}

package extract

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

//go:embed tables.yaml
var defaultTables []byte

// TableSpec describes how to find one table of the supplier pages and what to ask about it.
type TableSpec struct {
	Name     string
	Title    string   // lowercased caption; empty when the table has none
	KeyTerms []string // lowercased
	Queries  []string
}

type tableBody struct {
	Structure struct {
		Title    *string  `yaml:"title"`
		KeyTerms []string `yaml:"key_terms"`
	} `yaml:"structure"`
	Queries []string `yaml:"queries"`
}

// ParseTables reads the ordered table definitions. Each table needs a title or key
// terms to be identifiable, and at least one query.
func ParseTables(data []byte) ([]TableSpec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: tables config: %v", common.ErrInvalidInput, err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: tables config must be a mapping", common.ErrInvalidInput)
	}
	root := doc.Content[0]

	var specs []TableSpec
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := strings.TrimSpace(root.Content[i].Value)
		var body tableBody
		if err := root.Content[i+1].Decode(&body); err != nil {
			return nil, fmt.Errorf("%w: table %q: %v", common.ErrInvalidInput, name, err)
		}
		spec := TableSpec{Name: name}
		if body.Structure.Title != nil {
			spec.Title = strings.ToLower(strings.TrimSpace(*body.Structure.Title))
		}
		for _, t := range body.Structure.KeyTerms {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				spec.KeyTerms = append(spec.KeyTerms, t)
			}
		}
		for _, q := range body.Queries {
			if q = strings.TrimSpace(q); q != "" {
				spec.Queries = append(spec.Queries, q)
			}
		}
		if spec.Title == "" && len(spec.KeyTerms) == 0 {
			return nil, fmt.Errorf("%w: table %q has neither title nor key_terms", common.ErrInvalidInput, name)
		}
		if len(spec.Queries) == 0 {
			return nil, fmt.Errorf("%w: table %q has no queries", common.ErrInvalidInput, name)
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: tables config has no tables", common.ErrInvalidInput)
	}
	return specs, nil
}

// LoadTables parses the file at path, or the embedded definitions when path is empty.
func LoadTables(path string) ([]TableSpec, error) {
	if path == "" {
		return ParseTables(defaultTables)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables config %s: %w", path, err)
	}
	return ParseTables(b)
}

// accepts reports whether every key term occurs in the table's text.
func (s TableSpec) accepts(t entity.Table) bool {
	text := t.Text()
	for _, term := range s.KeyTerms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

// Selection is the outcome of table matching over a document.
type Selection struct {
	Tables  map[string]entity.Table // spec name -> matched table
	Pages   map[string]entity.Page  // spec name -> fallback page for unmatched specs
	Missing []string                // specs matched by neither
}

// SelectTables matches every spec to a document table, then to a page for the rest.
//
//  1. Titled specs take the last table whose caption equals the title. If that table
//     fails key-term validation, the table right after it and then the one right before
//     it are tried, for captions that sit on a parent table.
//  2. Specs still unmatched take the first table, titled or not, that passes key-term
//     validation. Specs without key terms are skipped here.
//  3. Specs still unmatched take the last page whose text contains any key term.
func SelectTables(doc entity.Document, specs []TableSpec, logger *slog.Logger) Selection {
	if logger == nil {
		logger = slog.Default()
	}
	tables := doc.Tables()
	sel := Selection{Tables: map[string]entity.Table{}, Pages: map[string]entity.Page{}}

	for _, spec := range specs {
		if spec.Title == "" {
			continue
		}
		idx := -1
		for i, t := range tables {
			if strings.ToLower(strings.TrimSpace(t.Title)) == spec.Title {
				idx = i
			}
		}
		if idx < 0 {
			continue
		}
		for _, j := range []int{idx, idx + 1, idx - 1} {
			if j < 0 || j >= len(tables) {
				continue
			}
			if spec.accepts(tables[j]) {
				sel.Tables[spec.Name] = tables[j]
				logger.Debug("extract.table.matched", "table", spec.Name, "index", j, "nested", j != idx)
				break
			}
		}
	}

	for _, spec := range specs {
		if _, ok := sel.Tables[spec.Name]; ok || len(spec.KeyTerms) == 0 {
			continue
		}
		for _, t := range tables {
			if spec.accepts(t) {
				sel.Tables[spec.Name] = t
				logger.Debug("extract.table.matched_untitled", "table", spec.Name)
				break
			}
		}
	}

	for _, spec := range specs {
		if _, ok := sel.Tables[spec.Name]; ok {
			continue
		}
		found := false
		for _, p := range doc.Pages {
			text := strings.ToLower(p.Text)
			for _, term := range spec.KeyTerms {
				if strings.Contains(text, term) {
					sel.Pages[spec.Name] = p
					found = true
					break
				}
			}
		}
		if !found {
			sel.Missing = append(sel.Missing, spec.Name)
		}
	}
	if len(sel.Missing) > 0 {
		logger.Warn("extract.table.missing", "tables", sel.Missing)
	}
	return sel
}

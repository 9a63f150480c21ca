package sections

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

// Classify records, for every section, the pages whose lowercased text contains
// all of its search terms.
//
// Sections with no hit after the single-page pass get a second pass over page
// windows (page i joined with page i+1; the last page alone). A hit in the
// second pass records index i. Sections matched in the first pass never enter
// the second. A selected section still unmatched after both passes is an
// ErrSectionUnresolved; no partial result is returned.
//
// cfg is not modified.
func Classify(pages []string, cfg Config) (Config, error) {
	out := cfg.clone()
	lower := make([]string, len(pages))
	for i, p := range pages {
		lower[i] = strings.ToLower(p)
	}

	for i, text := range lower {
		for s := range out.Sections {
			if containsAll(text, out.Sections[s].SearchTerms) {
				out.Sections[s].Pages = append(out.Sections[s].Pages, i)
			}
		}
	}

	var missing []int
	for s := range out.Sections {
		if len(out.Sections[s].Pages) == 0 {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		for i := range lower {
			window := lower[i]
			if i < len(lower)-1 {
				window = lower[i] + "\n" + lower[i+1]
			}
			for _, s := range missing {
				if containsAll(window, out.Sections[s].SearchTerms) {
					out.Sections[s].Pages = append(out.Sections[s].Pages, i)
				}
			}
		}
	}

	for _, s := range out.Sections {
		if s.Selected && len(s.Pages) == 0 {
			return Config{}, fmt.Errorf("%w: unable to locate %s in report", common.ErrSectionUnresolved, s.Name)
		}
	}
	return out, nil
}

func containsAll(text string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

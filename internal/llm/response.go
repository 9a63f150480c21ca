package llm

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

// ParseResponse returns the trimmed body of the first <response>...</response> block.
// A missing delimiter is a hard contract failure (common.ErrParse).
func ParseResponse(raw string) (string, error) {
	return ParseTagged(raw, "response")
}

// ParseTagged returns the trimmed body between <tag> and the next </tag>.
func ParseTagged(raw, tag string) (string, error) {
	open, end := "<"+tag+">", "</"+tag+">"
	i := strings.Index(raw, open)
	if i < 0 {
		return "", fmt.Errorf("%w: missing %s", common.ErrParse, open)
	}
	rest := raw[i+len(open):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", fmt.Errorf("%w: missing %s", common.ErrParse, end)
	}
	return strings.TrimSpace(rest[:j]), nil
}

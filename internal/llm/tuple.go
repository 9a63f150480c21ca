package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

// TupleDecoder turns the body of a <response> block into string tuples.
// Tuples are returned as found; arity is checked by the caller.
type TupleDecoder interface {
	Decode(body string) ([][]string, error)
}

var reWrappedLine = regexp.MustCompile(`^"(.+)"$`)

// BracketDecoder tolerates the loosely quoted list-of-lists that models tend to emit:
//
//	[
//	    ["non-compliance", "Fire exits blocked", "30 days", "Two exits were locked"],
//	    ['observation', "No drills", "Other", "..."]
//	]
//
// An entry is a bracketed run that ends where "]," or "]" meets a line break.
// Fields are split on commas that precede a quote, so commas inside quoted
// text survive. Output without line breaks yields no tuples.
type BracketDecoder struct{}

func (BracketDecoder) Decode(body string) ([][]string, error) {
	lines := strings.Split(body, "\n")
	for i, ln := range lines {
		lines[i] = reWrappedLine.ReplaceAllString(ln, "$1")
	}
	content := strings.Join(lines, "\n")

	var out [][]string
	for _, entry := range bracketEntries(content) {
		entry = strings.TrimSpace(entry)
		entry = entry[1 : len(entry)-1]

		parts := splitBeforeQuote(entry)
		for i, p := range parts {
			parts[i] = strings.Trim(strings.TrimSpace(p), `'"`)
		}
		parts[0] = strings.TrimLeft(strings.TrimLeft(parts[0], "["), `'"`)
		parts[len(parts)-1] = strings.TrimRight(parts[len(parts)-1], "]")
		out = append(out, parts)
	}
	return out, nil
}

// bracketEntries finds, left to right, the shortest runs from '[' to a ']' that is
// followed by ",\n" or "\n]".
func bracketEntries(s string) []string {
	var out []string
	i := 0
	for i < len(s) {
		start := strings.IndexByte(s[i:], '[')
		if start < 0 {
			break
		}
		start += i
		end := -1
		for j := start + 1; j < len(s); j++ {
			if s[j] != ']' {
				continue
			}
			rest := s[j+1:]
			if strings.HasPrefix(rest, ",\n") || strings.HasPrefix(rest, "\n]") {
				end = j
				break
			}
		}
		if end < 0 {
			// No terminator for this '[': try from the next character.
			i = start + 1
			continue
		}
		out = append(out, s[start:end+1])
		i = end + 1
	}
	return out
}

// splitBeforeQuote splits on every comma whose next non-space character is a quote.
func splitBeforeQuote(s string) []string {
	var parts []string
	last := 0
	for k := 0; k < len(s); k++ {
		if s[k] != ',' {
			continue
		}
		m := k + 1
		for m < len(s) && isSpace(s[m]) {
			m++
		}
		if m < len(s) && (s[m] == '\'' || s[m] == '"') {
			parts = append(parts, s[last:k])
			last = m
			k = m - 1
		}
	}
	return append(parts, s[last:])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

// JSONDecoder accepts only a strict JSON array of arrays.
type JSONDecoder struct{}

var issueTuplesSchema = mustCompile(IssueTuplesJSONSchema())

func (JSONDecoder) Decode(body string) ([][]string, error) {
	raw := []byte(strings.TrimSpace(body))
	if err := common.ValidateJSON(issueTuplesSchema, raw); err != nil {
		return nil, err
	}
	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode tuples: %v", common.ErrParse, err)
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = make([]string, len(r))
		for j, v := range r {
			s, _ := stringify(v)
			out[i][j] = s
		}
	}
	return out, nil
}

// FirstOf tries each decoder in turn and keeps the first non-empty result.
// An error is returned only when every decoder fails.
type FirstOf []TupleDecoder

func (f FirstOf) Decode(body string) ([][]string, error) {
	var lastErr error
	ok := false
	for _, d := range f {
		out, err := d.Decode(body)
		if err != nil {
			lastErr = err
			continue
		}
		if len(out) > 0 {
			return out, nil
		}
		ok = true
	}
	if !ok && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

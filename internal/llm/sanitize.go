package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

// DecodeKeyValues decodes a model's key/value object and coerces every value to a string.
//   - numbers and booleans are formatted
//   - null and blank strings are dropped
//   - arrays of scalars are joined with ", "
//   - nested objects are re-encoded as JSON
//
// The decoded object is validated against KeyValueSchema first.
func DecodeKeyValues(body string, logger *slog.Logger) (map[string]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw := []byte(strings.TrimSpace(body))
	if err := common.ValidateJSON(keyValueSchema, raw); err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decode object: %v", common.ErrParse, err)
	}

	out := make(map[string]string, len(m))
	var dropped []string
	for k, v := range m {
		s, ok := stringify(v)
		if !ok {
			dropped = append(dropped, k)
			continue
		}
		out[k] = s
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		logger.Warn("llm.decode.dropped_values", "keys", dropped)
	}
	return out, nil
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := stringify(e); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), len(parts) > 0
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

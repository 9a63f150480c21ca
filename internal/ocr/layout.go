package ocr

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

var (
	// Ticked and empty checkbox glyphs as they come out of pdftotext and tesseract.
	reCheckbox = regexp.MustCompile(`\[[xX✓✔ ]\]|[☒☑☐■□]`)
	reColumns  = regexp.MustCompile(`\s{2,}`)
	reKeyValue = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 /&().,'#-]{0,60}?)\s*:\s*(.*)$`)
)

const notSelectedValue = "NOT_SELECTED"

// parseLayout recovers form fields and tables from layout-preserved page text.
//
// Lines with checkbox glyphs become one field per box, valued SELECTED or
// NOT_SELECTED. "Key: value" segments become fields. Runs of two or more lines
// with at least two space-separated columns become a table titled by the
// single-column line just above it.
func parseLayout(text string, conf float64) ([]entity.Table, []entity.FormField) {
	var (
		tables []entity.Table
		fields []entity.FormField
		cur    *entity.Table
		prev   string
	)
	flush := func() {
		if cur != nil && len(cur.Rows) >= 2 {
			tables = append(tables, *cur)
		}
		cur = nil
	}

	for _, raw := range strings.Split(reCRLF.ReplaceAllString(text, "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}

		if reCheckbox.MatchString(line) {
			flush()
			fields = append(fields, checkboxFields(line, conf)...)
			prev = ""
			continue
		}

		cols := reColumns.Split(line, -1)
		if len(cols) >= 2 {
			if kv := keyValueFields(cols, conf); len(kv) > 0 && cur == nil {
				fields = append(fields, kv...)
				prev = ""
				continue
			}
			if cur == nil {
				cur = &entity.Table{Title: prev}
				prev = ""
			}
			row := make([]entity.Cell, len(cols))
			for i, c := range cols {
				row[i] = entity.Cell{Text: c, Confidence: conf}
			}
			cur.Rows = append(cur.Rows, row)
			continue
		}

		flush()
		if kv := keyValueFields(cols, conf); len(kv) > 0 {
			fields = append(fields, kv...)
			prev = ""
			continue
		}
		prev = line
	}
	flush()
	return tables, fields
}

// keyValueFields returns fields only when every segment of the line reads as "Key: value"
// (a bare "Key:" takes the following segment as its value).
func keyValueFields(cols []string, conf float64) []entity.FormField {
	var out []entity.FormField
	for i := 0; i < len(cols); i++ {
		m := reKeyValue.FindStringSubmatch(cols[i])
		if m == nil {
			return nil
		}
		key, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if value == "" && i+1 < len(cols) && !reKeyValue.MatchString(cols[i+1]) {
			value = cols[i+1]
			i++
		}
		out = append(out, entity.FormField{Key: key, Value: value, Confidence: conf})
	}
	return out
}

func checkboxFields(line string, conf float64) []entity.FormField {
	locs := reCheckbox.FindAllStringIndex(line, -1)
	var out []entity.FormField
	for i, loc := range locs {
		end := len(line)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		label := line[loc[1]:end]
		if cut := reColumns.FindStringIndex(strings.TrimSpace(label)); cut != nil {
			label = strings.TrimSpace(label)[:cut[0]]
		}
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		value := notSelectedValue
		if isTicked(line[loc[0]:loc[1]]) {
			value = entity.SelectedValue
		}
		out = append(out, entity.FormField{Key: label, Value: value, Confidence: conf})
	}
	return out
}

func isTicked(box string) bool {
	switch box {
	case "☐", "□", "[ ]":
		return false
	}
	return true
}

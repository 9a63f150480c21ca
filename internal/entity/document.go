package entity

import (
	"fmt"
	"strings"
)

// Document is the OCR view of a PDF: pages in reading order.
type Document struct {
	Key   string `json:"key"`
	Pages []Page `json:"pages"`
}

// Page is a single page of OCR output. Index is 0-based.
type Page struct {
	Index      int         `json:"index"`
	Text       string      `json:"text"`
	Tables     []Table     `json:"tables,omitempty"`
	FormFields []FormField `json:"form_fields,omitempty"`
}

// Cell is one OCR'd table cell.
type Cell struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Table is a grid of cells with an optional caption.
type Table struct {
	Title string   `json:"title,omitempty"`
	Rows  [][]Cell `json:"rows"`
}

// FormField is a detected key/value pair (checkbox states carry "SELECTED" / "NOT_SELECTED").
type FormField struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// SelectedValue marks a ticked checkbox.
const SelectedValue = "SELECTED"

// Texts returns the text of every page in order.
func (d Document) Texts() []string {
	out := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		out[i] = p.Text
	}
	return out
}

// Tables returns every table in reading order.
func (d Document) Tables() []Table {
	var out []Table
	for _, p := range d.Pages {
		out = append(out, p.Tables...)
	}
	return out
}

// FormFields returns every form field in reading order.
func (d Document) FormFields() []FormField {
	var out []FormField
	for _, p := range d.Pages {
		out = append(out, p.FormFields...)
	}
	return out
}

// Markdown renders the table as a pipe table. The first row is the header.
func (t Table) Markdown() string {
	if len(t.Rows) == 0 {
		return ""
	}
	width := 0
	for _, r := range t.Rows {
		width = max(width, len(r))
	}

	var b strings.Builder
	if t.Title != "" {
		b.WriteString(t.Title)
		b.WriteString("\n\n")
	}
	writeRow := func(r []Cell) {
		b.WriteString("|")
		for c := 0; c < width; c++ {
			text := ""
			if c < len(r) {
				text = strings.ReplaceAll(strings.TrimSpace(r[c].Text), "|", "/")
			}
			b.WriteString(" ")
			b.WriteString(text)
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	writeRow(t.Rows[0])
	b.WriteString("|")
	for c := 0; c < width; c++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, r := range t.Rows[1:] {
		writeRow(r)
	}
	return b.String()
}

// Lines flattens the table as "Table[r][c] = text-confidence" lines, one per cell.
func (t Table) Lines() []string {
	var out []string
	for r, row := range t.Rows {
		for c, cell := range row {
			out = append(out, fmt.Sprintf("Table[%d][%d] = %s-%.2f", r, c, cell.Text, cell.Confidence))
		}
	}
	return out
}

// Text joins every cell of the table, lowercased, for key-term matching.
func (t Table) Text() string {
	var b strings.Builder
	for _, row := range t.Rows {
		for _, cell := range row {
			b.WriteString(strings.ToLower(cell.Text))
			b.WriteString(" ")
		}
	}
	return b.String()
}

package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableMarkdown(t *testing.T) {
	tbl := Table{
		Title: "Workers",
		Rows: [][]Cell{
			{{Text: "Type"}, {Text: "Count"}},
			{{Text: "Permanent"}, {Text: "12"}},
			{{Text: "a|b"}},
		},
	}
	want := "Workers\n\n| Type | Count |\n| --- | --- |\n| Permanent | 12 |\n| a/b |  |\n"
	assert.Equal(t, want, tbl.Markdown())
	assert.Empty(t, Table{}.Markdown())
}

func TestTableLines(t *testing.T) {
	tbl := Table{Rows: [][]Cell{{{Text: "NC", Confidence: 99.5}, {Text: "Fire exit", Confidence: 87}}}}
	assert.Equal(t, []string{
		"Table[0][0] = NC-99.50",
		"Table[0][1] = Fire exit-87.00",
	}, tbl.Lines())
}

func TestDocumentAccessors(t *testing.T) {
	doc := Document{Pages: []Page{
		{Index: 0, Text: "one", FormFields: []FormField{{Key: "a"}}},
		{Index: 1, Text: "two", Tables: []Table{{Title: "t"}}, FormFields: []FormField{{Key: "b"}}},
	}}
	assert.Equal(t, []string{"one", "two"}, doc.Texts())
	assert.Len(t, doc.Tables(), 1)
	assert.Equal(t, "a", doc.FormFields()[0].Key)
	assert.Equal(t, "b", doc.FormFields()[1].Key)
}

package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
)

// GradingReference is one row of the compliance grading table, keyed by its natural key columns.
type GradingReference struct{ ent.Schema }

func (GradingReference) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "grading_references"},
	}
}

func (GradingReference) Fields() []ent.Field {
	return []ent.Field{
		field.Int64("id"),
		field.String("ref_key").NotEmpty().Unique(),
		field.String("issue_title").Optional().Nillable(),
		field.String("updated_grading").Optional().Nillable(),
		field.String("resolution_window").Optional().Nillable(),
		field.JSON("attributes", map[string]string{}).Optional(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

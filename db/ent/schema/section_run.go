package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/db/ent/schema/utils"
)

// SectionRun holds the per-branch counters of one run. The id is "{run_id}/{section}".
type SectionRun struct{ ent.Schema }

func (SectionRun) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "section_runs"},
	}
}

func (SectionRun) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").NotEmpty().Immutable(),
		field.String("run_id").NotEmpty(),
		field.String("section").NotEmpty(),
		field.String("clause").Optional(),
		field.String("status").
			Validate(utils.EnumValidator(constants.SectionStatuses...)),
		field.Int("issues").Default(0),
		field.Int("observations").Default(0),
		field.Int("exact").Default(0),
		field.Int("deferred").Default(0),
		field.String("error_message").Optional().Nillable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (SectionRun) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("run", WorkflowRun.Type).
			Ref("sections").
			Field("run_id").
			Unique().
			Required(),
	}
}

func (SectionRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id"),
	}
}

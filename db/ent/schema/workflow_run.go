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

// WorkflowRun is one execution of the compliance state machine. The id is the run id
// taken from the input key.
type WorkflowRun struct{ ent.Schema }

func (WorkflowRun) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "workflow_runs"},
	}
}

func (WorkflowRun) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").NotEmpty().Immutable(),
		field.String("input_key").NotEmpty(),
		field.String("status").
			Validate(utils.EnumValidator(constants.RunStatuses...)),
		field.String("current_state").Optional(),
		field.String("error_message").Optional().Nillable(),
		field.String("company_name").Optional(),
		field.String("audit_date").Optional(),
		field.Time("started_at").Default(time.Now),
		field.Time("finished_at").Optional().Nillable(),
	}
}

func (WorkflowRun) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("sections", SectionRun.Type),
	}
}

func (WorkflowRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status", "started_at"),
	}
}

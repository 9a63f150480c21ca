package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/db/ent/schema/utils"
)

// AuditRecord is one reconciled finding. record_key is "{audit_date}-{section}#{n}".
type AuditRecord struct{ ent.Schema }

func (AuditRecord) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "audit_records"},
	}
}

func (AuditRecord) Fields() []ent.Field {
	return []ent.Field{
		field.Int64("id"),
		field.String("company_name").NotEmpty(),
		field.String("record_key").NotEmpty(),
		field.String("run_id").NotEmpty(),
		field.String("date_of_audit"),
		field.String("clause").Optional(),
		field.String("section"),
		field.String("issue_type").
			Validate(utils.EnumValidator(constants.AsStringSlice()...)),
		field.String("issue_title").
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.String("report_timescale"),
		field.String("report_explanation").
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.String("esg_rating"),
		field.String("esg_timescale"),
		field.String("exact_issue_title").Validate(utils.FlagValidator),
		field.String("timescales_match").Validate(utils.FlagValidator),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (AuditRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("company_name", "record_key").Unique(),
		index.Fields("run_id"),
	}
}

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

// SupplierRecord is the extracted supplier header of an audit plus its review state.
type SupplierRecord struct{ ent.Schema }

func (SupplierRecord) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "supplier_records"},
	}
}

func (SupplierRecord) Fields() []ent.Field {
	return []ent.Field{
		field.Int64("id"),
		field.String("company_name").NotEmpty(),
		field.String("audit_date").NotEmpty(),
		field.String("run_id").NotEmpty(),
		field.JSON("details", map[string]string{}),
		field.JSON("tables", map[string]string{}).Optional(),
		field.String("approval_status").
			Default(string(constants.ApprovalPending)).
			Validate(utils.EnumValidator(constants.ApprovalStatuses...)),
		field.String("approval_token").Optional(),
		field.Int("approval_version").Default(0),
		field.String("email_body").Optional().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (SupplierRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("company_name", "audit_date").Unique(),
		index.Fields("run_id"),
	}
}

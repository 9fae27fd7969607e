package schema

import (
	"encoding/json"
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"

	"github.com/hirelens/sourcing-engine/constants"
	"github.com/hirelens/sourcing-engine/db/ent/schema/utils"
)

type Search struct{ ent.Schema }

func (Search) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "search"},
	}
}

func (Search) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("org_id", uuid.UUID{}),
		field.UUID("user_id", uuid.UUID{}),
		field.String("query").NotEmpty().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.JSON("criteria", json.RawMessage{}).Optional(),
		field.String("status").Default(string(constants.SearchStatusCreated)).
			Validate(utils.EnumValidator(constants.SearchStatusStrings()...)),
		field.Int("progress").Default(0).Min(0).Max(100),
		field.String("task_id").Optional().Nillable(),
		field.String("error_message").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (Search) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("strategies", SourcingStrategy.Type),
		edge.To("links", SearchCandidate.Type),
	}
}

func (Search) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("org_id", "status", "created_at"),
		index.Fields("task_id"),
	}
}

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

type SourcingStrategy struct{ ent.Schema }

func (SourcingStrategy) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "sourcing_strategy"},
	}
}

func (SourcingStrategy) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("search_id", uuid.UUID{}),
		field.String("name").NotEmpty(),
		// Provider-ready body, page cursor included, so one strategy can be
		// re-executed on its own later.
		field.JSON("payload", json.RawMessage{}),
		field.String("status").Default(string(constants.StrategyStatusPending)).
			Validate(utils.EnumValidator(constants.StrategyStatusStrings()...)),
		field.String("task_id").Optional().Nillable(),
		field.Int("candidates_found").Default(0).Min(0),
		field.String("error_message").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (SourcingStrategy) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("search", Search.Type).
			Ref("strategies").
			Field("search_id").
			Unique().
			Required(),
	}
}

func (SourcingStrategy) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("search_id", "status"),
		index.Fields("task_id"),
	}
}

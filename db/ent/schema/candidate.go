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
)

type Candidate struct{ ent.Schema }

func (Candidate) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "candidate"},
	}
}

func (Candidate) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		// Stable external key; the unique index below is what makes concurrent
		// ingestion from unrelated searches safe.
		field.String("profile_url").NotEmpty().Unique().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.String("full_name").Optional(),
		field.String("headline").Optional().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.String("location").Optional(),
		field.String("current_title").Optional(),
		field.String("current_company").Optional(),
		field.JSON("skills", json.RawMessage{}).Optional(),
		field.JSON("experience", json.RawMessage{}).Optional(),
		field.JSON("raw", json.RawMessage{}).Optional(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (Candidate) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("links", SearchCandidate.Type),
	}
}

func (Candidate) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("profile_url").Unique(),
	}
}

package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"
)

type SearchCandidate struct{ ent.Schema }

func (SearchCandidate) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "search_candidate"},
	}
}

func (SearchCandidate) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("search_id", uuid.UUID{}),
		field.UUID("candidate_id", uuid.UUID{}),
		field.Float("match_score").Optional().Nillable(),
		field.String("status").Optional(),
		field.String("source").Optional(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (SearchCandidate) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("search", Search.Type).
			Ref("links").
			Field("search_id").
			Unique().
			Required(),
		edge.From("candidate", Candidate.Type).
			Ref("links").
			Field("candidate_id").
			Unique().
			Required(),
	}
}

func (SearchCandidate) Indexes() []ent.Index {
	return []ent.Index{
		// One link per (search, candidate) pair; re-ingestion is a no-op.
		index.Fields("search_id", "candidate_id").Unique(),
		index.Fields("search_id", "match_score"),
	}
}

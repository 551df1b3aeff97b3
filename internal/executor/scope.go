package executor

import (
	"context"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

// ScopeQuery restricts q to the actor's records. Owner filters supplied by
// a non-elevated caller are replaced, never trusted.
func ScopeQuery(q domain.StoreQuery, actor domain.Actor, ownerField string) domain.StoreQuery {
	if actor.IsElevated() {
		return q
	}
	out := domain.StoreQuery{OrderBy: q.OrderBy, Limit: q.Limit, StartAfter: q.StartAfter}
	for _, f := range q.Filters {
		if f.Field != ownerField {
			out.Filters = append(out.Filters, f)
		}
	}
	return out.Where(ownerField, domain.OpEqual, actor.ID)
}

// DropInactive hides soft-deleted records unless explicit is set
func DropInactive(docs []ports.Document, schema *domain.EntitySchema, explicit bool) []ports.Document {
	if explicit {
		return docs
	}
	return dropInactive(docs, schema, nil)
}

// ResolveName maps a human name to the id of one of the actor's records,
// using the same matching and ambiguity policy as workflow execution
func (e *Executor) ResolveName(ctx context.Context, actor domain.Actor, entity domain.EntityType, name string) (string, bool, error) {
	return newRun(e, actor).resolveName(ctx, entity, name)
}

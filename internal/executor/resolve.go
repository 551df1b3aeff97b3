package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

// run is the state of one workflow execution
type run struct {
	ex    *Executor
	actor domain.Actor
	// searches memoizes results by entity and canonical conditions.
	searches map[string][]ports.Document
	// names maps entity and lower-cased name to a resolved id.
	names map[string]string
	step  *StepResult
}

func newRun(ex *Executor, actor domain.Actor) *run {
	return &run{
		ex:       ex,
		actor:    actor,
		searches: make(map[string][]ports.Document),
		names:    make(map[string]string),
	}
}

func nameKey(entity domain.EntityType, name string) string {
	return string(entity) + "|" + strings.ToLower(strings.TrimSpace(name))
}

func searchKey(entity domain.EntityType, cond *domain.Conditions) string {
	return string(entity) + "|" + cond.CacheKey()
}

// invalidate drops memoized searches of an entity after it is mutated
func (r *run) invalidate(entity domain.EntityType) {
	prefix := string(entity) + "|"
	for k := range r.searches {
		if strings.HasPrefix(k, prefix) {
			delete(r.searches, k)
		}
	}
}

func (r *run) forgetIDs(entity domain.EntityType, ids []string) {
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	prefix := string(entity) + "|"
	for k, id := range r.names {
		if strings.HasPrefix(k, prefix) && gone[id] {
			delete(r.names, k)
		}
	}
}

// scope returns a query restricted to the actor's records
func (r *run) scope() domain.StoreQuery {
	if r.actor.IsElevated() {
		return domain.StoreQuery{}
	}
	return domain.StoreQuery{}.Where(r.ex.registry.OwnerField, domain.OpEqual, r.actor.ID)
}

// search translates conditions into a scoped store query. An unresolvable
// name reference yields an empty result, not an error.
func (r *run) search(ctx context.Context, schema *domain.EntitySchema, cond *domain.Conditions) ([]ports.Document, error) {
	key := searchKey(schema.Type, cond)
	if docs, ok := r.searches[key]; ok {
		return docs, nil
	}

	q := r.scope()

	refKeys := make([]string, 0)
	if cond != nil {
		for k := range cond.References {
			refKeys = append(refKeys, k)
		}
	}
	sort.Strings(refKeys)
	for _, k := range refKeys {
		name := cond.References[k]
		ref, ok := schema.Reference(k)
		if !ok {
			q = q.Where(k, domain.OpEqual, name)
			continue
		}
		id, found, err := r.resolveName(ctx, ref.Entity, name)
		if err != nil {
			return nil, err
		}
		if !found {
			r.searches[key] = []ports.Document{}
			return r.searches[key], nil
		}
		q = q.Where(ref.IDField, domain.OpEqual, id)
	}

	if cond != nil && !cond.Range.IsZero() {
		field := schema.DateField
		if field == "" {
			field = fieldCreatedAt
		}
		if cond.Range.Start != "" {
			q = q.Where(field, domain.OpGreaterEqual, cond.Range.Start)
		}
		if cond.Range.End != "" {
			q = q.Where(field, domain.OpLessEqual, rangeEnd(field, cond.Range.End))
		}
	}

	filters := cond.FilterFields()
	var nameValue string
	for _, k := range filters.Keys() {
		if k == r.ex.registry.OwnerField && !r.actor.IsElevated() {
			continue
		}
		v := filters[k]
		if k == schema.NameField {
			if s, ok := v.(string); ok {
				nameValue = s
			}
		}
		if list, ok := v.([]any); ok {
			q = q.Where(k, domain.OpIn, list)
			continue
		}
		q = q.Where(k, domain.OpEqual, v)
	}

	if field, desc, ok := cond.OrderBy(); ok {
		dir := domain.SortAsc
		if desc {
			dir = domain.SortDesc
		}
		q.OrderBy = []domain.OrderBy{{Field: field, Direction: dir}}
	}
	// soft-deleted rows are dropped after the query, so the limit must be too
	limit := cond.Limit()
	_, explicitFlag := filters[schema.SoftDelete]
	if schema.SoftDelete == "" || explicitFlag {
		q.Limit = limit
	}

	docs, err := r.ex.store.Query(ctx, schema.Collection, q)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", schema.Type, err)
	}

	// Names typed by an operator rarely match case exactly.
	if len(docs) == 0 && nameValue != "" {
		docs, err = r.ex.store.Query(ctx, schema.Collection, withoutFilter(q, schema.NameField))
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", schema.Type, err)
		}
		docs = matchName(docs, schema.NameField, nameValue)
	}

	docs = dropInactive(docs, schema, filters)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	r.searches[key] = docs
	return docs, nil
}

// rangeEnd widens a plain date to the end of that day for timestamp fields
func rangeEnd(field, end string) string {
	if field == fieldCreatedAt && len(end) == len("2006-01-02") {
		return end + "T23:59:59.999999999Z"
	}
	return end
}

func withoutFilter(q domain.StoreQuery, field string) domain.StoreQuery {
	out := domain.StoreQuery{OrderBy: q.OrderBy}
	for _, f := range q.Filters {
		if f.Field != field {
			out.Filters = append(out.Filters, f)
		}
	}
	return out
}

func matchName(docs []ports.Document, nameField, name string) []ports.Document {
	want := strings.TrimSpace(name)
	out := make([]ports.Document, 0)
	for _, d := range docs {
		if s, ok := d.Data[nameField].(string); ok && strings.EqualFold(strings.TrimSpace(s), want) {
			out = append(out, d)
		}
	}
	return out
}

// dropInactive hides soft-deleted records unless the caller filtered on the flag
func dropInactive(docs []ports.Document, schema *domain.EntitySchema, filters domain.Fields) []ports.Document {
	if schema.SoftDelete == "" {
		return docs
	}
	if _, explicit := filters[schema.SoftDelete]; explicit {
		return docs
	}
	out := docs[:0:0]
	for _, d := range docs {
		if active, ok := d.Data[schema.SoftDelete].(bool); ok && !active {
			continue
		}
		out = append(out, d)
	}
	return out
}

// resolveName maps a human name to the id of one of the actor's active
// records: exact match first, then a case-insensitive scan.
func (r *run) resolveName(ctx context.Context, entity domain.EntityType, name string) (string, bool, error) {
	key := nameKey(entity, name)
	if id, ok := r.names[key]; ok {
		return id, true, nil
	}

	schema, ok := r.ex.registry.Lookup(entity)
	if !ok || schema.NameField == "" {
		return "", false, domain.ErrValidation(fmt.Sprintf("%s cannot be referenced by name", entity))
	}

	exact, err := r.ex.store.Query(ctx, schema.Collection, r.scope().Where(schema.NameField, domain.OpEqual, name))
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve %s %q: %w", entity, name, err)
	}
	matches := dropInactive(exact, schema, nil)
	if len(matches) == 0 {
		q := r.scope()
		q.Limit = r.ex.cfg.ScanLimit
		all, err := r.ex.store.Query(ctx, schema.Collection, q)
		if err != nil {
			return "", false, fmt.Errorf("failed to resolve %s %q: %w", entity, name, err)
		}
		matches = dropInactive(matchName(all, schema.NameField, name), schema, nil)
	}

	if len(matches) == 0 {
		return "", false, nil
	}
	if len(matches) > 1 && r.ex.cfg.AmbiguityPolicy == ErrorOnAmbiguity {
		return "", false, domain.NewCommandError(domain.KindResolution,
			fmt.Sprintf("%d %s records are named %q", len(matches), entity, name), nil,
			fmt.Sprintf("use a more specific %s name", entity))
	}

	id := matches[0].ID
	r.names[key] = id
	return id, true, nil
}

// findOrCreate resolves a reference, creating a system-tagged stub when the
// reference allows it
func (r *run) findOrCreate(ctx context.Context, ref domain.Reference, name string) (string, error) {
	id, found, err := r.resolveName(ctx, ref.Entity, name)
	if err != nil {
		return "", err
	}
	if found {
		return id, nil
	}
	if !ref.AutoCreate {
		return "", domain.ErrResolution(ref.Entity, name)
	}

	target, _ := r.ex.registry.Lookup(ref.Entity)
	stub := domain.Fields{
		target.NameField: strings.TrimSpace(name),
		fieldAutoCreated: true,
		fieldSource:      sourceSystem,
	}
	applyDefaults(stub, target)

	id, err = r.add(ctx, target, stub)
	if err != nil {
		return "", err
	}
	r.names[nameKey(ref.Entity, name)] = id
	if r.step != nil {
		r.step.AutoCreated = append(r.step.AutoCreated, AutoCreated{Entity: ref.Entity, Name: name, ID: id})
	}

	r.ex.logger.Info(ctx, "Auto-created referenced entity", map[string]interface{}{
		"entity":   string(ref.Entity),
		"id":       id,
		"actor_id": r.actor.ID,
	})
	return id, nil
}

// add stamps ownership and timestamps and stores a new record
func (r *run) add(ctx context.Context, schema *domain.EntitySchema, data domain.Fields) (string, error) {
	owner := r.ex.registry.OwnerField
	if _, set := data[owner]; !set || !r.actor.IsElevated() {
		data[owner] = r.actor.ID
	}
	now := r.ex.now().UTC().Format(timestampLayout)
	data[fieldCreatedAt] = now
	data[fieldUpdatedAt] = now

	id, err := r.ex.store.Add(ctx, schema.Collection, data)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", schema.Type, err)
	}
	r.invalidate(schema.Type)
	return id, nil
}

func applyDefaults(data domain.Fields, schema *domain.EntitySchema) {
	for k, v := range schema.Defaults {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}
}

package dynamic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/executor"
	"github.com/Borui-Eduation/student-records-sub000/internal/indexhint"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
)

const groupKeySeparator = "|"

// OperationResult is the outcome of one query operation
type OperationResult struct {
	Index      int                       `json:"index"`
	Type       domain.QueryOperationType `json:"type"`
	Collection string                    `json:"collection"`
	Records    []domain.Fields           `json:"records,omitempty"`
	Count      int                       `json:"count"`
	ID         string                    `json:"id,omitempty"`
	Aggregate  *domain.AggregateResult   `json:"aggregate,omitempty"`
	Groups     []domain.AggregateResult  `json:"groups,omitempty"`
	IndexHint  *indexhint.Report         `json:"indexHint,omitempty"`
	Warnings   []string                  `json:"warnings,omitempty"`
}

// Result is the outcome of a query plan
type Result struct {
	Description string            `json:"description,omitempty"`
	Operations  []OperationResult `json:"operations"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// Runner executes query plans with the executor's scoping and resolution
type Runner struct {
	exec     *executor.Executor
	detector *indexhint.Detector
	logger   logger.Logger
}

// NewRunner creates a runner over the executor's store and registry
func NewRunner(exec *executor.Executor, detector *indexhint.Detector, log logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNoop()
	}
	if detector == nil {
		detector = indexhint.New(exec.Registry().OwnerField)
	}
	return &Runner{
		exec:     exec,
		detector: detector,
		logger:   log.WithFields(map[string]interface{}{"component": "dynamic_runner"}),
	}
}

// Run validates and executes plan as actor. Operations run in order and the
// first failure stops the plan.
func (r *Runner) Run(ctx context.Context, actor domain.Actor, plan *Plan) (*Result, error) {
	registry := r.exec.Registry()
	if err := ValidatePlan(plan, registry); err != nil {
		return nil, err
	}
	start := time.Now()

	result := &Result{Description: plan.Description, Operations: make([]OperationResult, 0, len(plan.Operations))}
	for i, op := range plan.Operations {
		opResult, err := r.runOperation(ctx, actor, op)
		if err != nil {
			ce := toCommandError(err).AtIndex(i)
			r.logger.Warn(ctx, "Query operation failed", map[string]interface{}{
				"index":      i,
				"collection": op.Collection,
				"kind":       string(ce.Kind),
				"actor_id":   actor.ID,
			})
			return result, ce
		}
		opResult.Index = i
		result.Operations = append(result.Operations, *opResult)
		result.Warnings = append(result.Warnings, opResult.Warnings...)
	}

	logger.LogPerformance(ctx, r.logger, "run_query_plan", time.Since(start), map[string]interface{}{
		"operations": len(plan.Operations),
		"actor_id":   actor.ID,
	})
	return result, nil
}

func (r *Runner) runOperation(ctx context.Context, actor domain.Actor, op domain.QueryOperation) (*OperationResult, error) {
	schema, _ := r.exec.Registry().ByCollection(op.Collection)
	out := &OperationResult{Type: op.Type, Collection: op.Collection}

	if op.Type == domain.QueryTypeCreate {
		return out, r.create(ctx, actor, schema, op, out)
	}

	filters, found, err := r.resolveFilters(ctx, actor, schema, op.Filters)
	if err != nil {
		return nil, err
	}

	// soft-deleted rows are dropped after the query, so the limit must be too
	explicitFlag := filtersOn(filters, schema.SoftDelete)
	limitInMemory := schema.SoftDelete != "" && !explicitFlag

	q := domain.StoreQuery{Filters: filters}
	if op.Type == domain.QueryTypeQuery {
		q.OrderBy = op.OrderBy
		if !limitInMemory {
			q.Limit = op.Limit
		}
	}

	analyzed := domain.QueryOperation{Type: op.Type, Collection: op.Collection, Filters: filters, OrderBy: q.OrderBy}
	hint := r.detector.Analyze(analyzed, !actor.IsElevated())
	if hint.NeedsIndex || len(hint.Warnings) > 0 {
		out.IndexHint = &hint
		out.Warnings = append(out.Warnings, hint.Warnings...)
		r.logger.Info(ctx, "Query likely needs a composite index", map[string]interface{}{
			"collection": op.Collection,
			"descriptor": hint.Firestore,
		})
	}

	var rows []domain.Fields
	if found {
		docs, err := r.exec.Store().Query(ctx, op.Collection, executor.ScopeQuery(q, actor, r.exec.Registry().OwnerField))
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", op.Collection, err)
		}
		docs = executor.DropInactive(docs, schema, explicitFlag)
		if op.Type == domain.QueryTypeQuery && op.Limit > 0 && len(docs) > op.Limit {
			docs = docs[:op.Limit]
		}
		rows = executor.SerializeDocuments(docs)
	}

	switch op.Type {
	case domain.QueryTypeQuery:
		out.Records = rows
		out.Count = len(rows)
	case domain.QueryTypeAggregate:
		if len(op.GroupBy) == 0 {
			agg := domain.Aggregate(rows, op.Aggregations)
			out.Aggregate = &agg
			out.Count = agg.Count
			break
		}
		groups := GroupAggregate(rows, op.GroupBy, op.Aggregations)
		groups = orderGroups(groups, op.OrderBy)
		if op.Limit > 0 && len(groups) > op.Limit {
			groups = groups[:op.Limit]
		}
		out.Groups = groups
		out.Count = len(groups)
	}
	return out, nil
}

// resolveFilters rewrites name references into id filters. found is false
// when a referenced name does not exist, so the operation matches nothing.
func (r *Runner) resolveFilters(ctx context.Context, actor domain.Actor, schema *domain.EntitySchema, filters []domain.Filter) ([]domain.Filter, bool, error) {
	out := make([]domain.Filter, 0, len(filters))
	for _, f := range filters {
		ref, isRef := schema.Reference(f.Field)
		if !isRef {
			out = append(out, f)
			continue
		}
		name, ok := f.Value.(string)
		if f.Operator != domain.OpEqual || !ok {
			return nil, false, domain.ErrValidation(fmt.Sprintf("%s can only be matched by name with ==", f.Field))
		}
		id, found, err := r.exec.ResolveName(ctx, actor, ref.Entity, name)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		out = append(out, domain.Filter{Field: ref.IDField, Operator: domain.OpEqual, Value: id})
	}
	return out, true, nil
}

func (r *Runner) create(ctx context.Context, actor domain.Actor, schema *domain.EntitySchema, op domain.QueryOperation, out *OperationResult) error {
	wf := &domain.Workflow{Commands: []domain.Command{{
		Operation: domain.OperationCreate,
		Entity:    schema.Type,
		Data:      op.Data,
	}}}
	res, err := r.exec.Execute(ctx, actor, wf)
	if err != nil {
		return err
	}
	step := res.Steps[0]
	out.ID = step.ID
	out.Records = step.Records
	out.Count = step.Count
	out.Warnings = append(out.Warnings, step.Warnings...)
	return nil
}

func filtersOn(filters []domain.Filter, field string) bool {
	if field == "" {
		return false
	}
	for _, f := range filters {
		if f.Field == field {
			return true
		}
	}
	return false
}

// GroupAggregate groups rows by the joined values of groupBy and computes
// aggs per group. Groups keep the order of their first row.
func GroupAggregate(rows []domain.Fields, groupBy []string, aggs []domain.Aggregation) []domain.AggregateResult {
	type bucket struct {
		group map[string]any
		rows  []domain.Fields
	}
	var order []string
	buckets := make(map[string]*bucket)

	for _, row := range rows {
		parts := make([]string, len(groupBy))
		for i, field := range groupBy {
			if v, ok := row[field]; ok && v != nil {
				parts[i] = fmt.Sprint(v)
			}
		}
		key := strings.Join(parts, groupKeySeparator)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{group: make(map[string]any, len(groupBy))}
			for _, field := range groupBy {
				b.group[field] = row[field]
			}
			buckets[key] = b
			order = append(order, key)
		}
		b.rows = append(b.rows, row)
	}

	out := make([]domain.AggregateResult, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		res := domain.Aggregate(b.rows, aggs)
		res.Group = b.group
		out = append(out, res)
	}
	return out
}

// orderGroups sorts groups by an aggregation ("sum(totalAmount)"), the
// group count ("count") or a group-by field. Null values sort last.
func orderGroups(groups []domain.AggregateResult, orderBy []domain.OrderBy) []domain.AggregateResult {
	if len(orderBy) == 0 {
		return groups
	}
	o := orderBy[0]
	value := func(g domain.AggregateResult) (float64, string, bool) {
		if agg, ok := domain.ParseAggregationRef(o.Field); ok {
			for _, a := range g.Aggregations {
				if a.Function == agg.Function && a.Field == agg.Field {
					x, ok := a.Result.Float()
					return x, "", ok
				}
			}
			return 0, "", false
		}
		if o.Field == "count" {
			return float64(g.Count), "", true
		}
		v, ok := g.Group[o.Field]
		if !ok || v == nil {
			return 0, "", false
		}
		if x, numeric := domain.ToNumber(v); numeric {
			return x, "", true
		}
		return 0, fmt.Sprint(v), true
	}

	sort.SliceStable(groups, func(i, j int) bool {
		xi, si, oki := value(groups[i])
		xj, sj, okj := value(groups[j])
		if oki != okj {
			return oki
		}
		if !oki {
			return false
		}
		if si != "" || sj != "" {
			if o.Descending() {
				return si > sj
			}
			return si < sj
		}
		if o.Descending() {
			return xi > xj
		}
		return xi < xj
	})
	return groups
}

func toCommandError(err error) *domain.CommandError {
	var ce *domain.CommandError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCommandError(domain.KindTimeout, "service busy", err, "try again in a moment")
	}
	return domain.ErrExecution("the data store could not complete the query", err)
}

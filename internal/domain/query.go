package domain

import (
	"fmt"
	"strings"
)

// FilterOperator represents a comparison supported by the document store
type FilterOperator string

const (
	OpEqual         FilterOperator = "=="
	OpNotEqual      FilterOperator = "!="
	OpLess          FilterOperator = "<"
	OpLessEqual     FilterOperator = "<="
	OpGreater       FilterOperator = ">"
	OpGreaterEqual  FilterOperator = ">="
	OpIn            FilterOperator = "in"
	OpContains      FilterOperator = "contains"
	OpArrayContains FilterOperator = "array-contains"
)

// IsValid reports whether the operator is supported
func (o FilterOperator) IsValid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpIn, OpContains, OpArrayContains:
		return true
	}
	return false
}

// IsRange reports whether the operator is an inequality
func (o FilterOperator) IsRange() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpNotEqual:
		return true
	}
	return false
}

// Filter is one field/operator/value predicate
type Filter struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value"`
}

// Validate checks the field name and operator
func (f Filter) Validate() error {
	if !IsFieldName(f.Field) {
		return fmt.Errorf("invalid filter field %q", f.Field)
	}
	if !f.Operator.IsValid() {
		return fmt.Errorf("unsupported filter operator %q", f.Operator)
	}
	if f.Operator == OpIn {
		if _, ok := f.Value.([]any); !ok {
			return fmt.Errorf("filter %s in requires a list value", f.Field)
		}
	}
	return nil
}

// SortDirection represents ascending or descending order
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// OrderBy is one sort key
type OrderBy struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction,omitempty"`
}

// Descending reports whether the sort is descending
func (o OrderBy) Descending() bool {
	return o.Direction == SortDesc
}

// StoreQuery is a collection-scoped query against the document store
type StoreQuery struct {
	Filters    []Filter
	OrderBy    []OrderBy
	Limit      int
	StartAfter string
}

// Where appends a filter and returns the query for chaining
func (q StoreQuery) Where(field string, op FilterOperator, value any) StoreQuery {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Operator: op, Value: value})
	return q
}

// QueryOperationType represents the kind of dynamic operation
type QueryOperationType string

const (
	QueryTypeQuery     QueryOperationType = "query"
	QueryTypeCreate    QueryOperationType = "create"
	QueryTypeAggregate QueryOperationType = "aggregate"
)

// QueryOperation is one step of a dynamic query plan
type QueryOperation struct {
	Type         QueryOperationType `json:"type"`
	Collection   string             `json:"collection"`
	Filters      []Filter           `json:"filters,omitempty"`
	OrderBy      []OrderBy          `json:"orderBy,omitempty"`
	Limit        int                `json:"limit,omitempty"`
	Aggregations []Aggregation      `json:"aggregations,omitempty"`
	GroupBy      []string           `json:"groupBy,omitempty"`
	Data         Fields             `json:"data,omitempty"`
}

// Validate checks the operation's shape against the allowed collections
func (op QueryOperation) Validate(allowed []string) error {
	switch op.Type {
	case QueryTypeQuery, QueryTypeCreate, QueryTypeAggregate:
	default:
		return fmt.Errorf("unsupported operation type %q", op.Type)
	}

	permitted := false
	for _, c := range allowed {
		if c == op.Collection {
			permitted = true
			break
		}
	}
	if !permitted {
		return fmt.Errorf("collection %q is not allowed", op.Collection)
	}

	for _, f := range op.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	for _, o := range op.OrderBy {
		if !IsFieldName(o.Field) {
			if _, isAgg := ParseAggregationRef(o.Field); !isAgg || op.Type != QueryTypeAggregate {
				return fmt.Errorf("invalid order field %q", o.Field)
			}
		}
		if o.Direction != "" && o.Direction != SortAsc && o.Direction != SortDesc {
			return fmt.Errorf("invalid order direction %q", o.Direction)
		}
	}
	for _, g := range op.GroupBy {
		if !IsFieldName(g) {
			return fmt.Errorf("invalid group field %q", g)
		}
	}
	if op.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}

	switch op.Type {
	case QueryTypeCreate:
		if len(op.Data) == 0 {
			return fmt.Errorf("create on %s requires data", op.Collection)
		}
	case QueryTypeAggregate:
		if len(op.Aggregations) == 0 {
			return fmt.Errorf("aggregate on %s requires at least one aggregation", op.Collection)
		}
		for _, agg := range op.Aggregations {
			if !agg.Function.IsValid() {
				return fmt.Errorf("unsupported aggregation %q", agg.Function)
			}
		}
	}
	return nil
}

// ParseAggregationRef reads an aggregation written as "function(field)"
func ParseAggregationRef(s string) (Aggregation, bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return Aggregation{}, false
	}
	agg := Aggregation{
		Function: AggregateFunction(strings.ToLower(strings.TrimSpace(s[:open]))),
		Field:    strings.TrimSpace(s[open+1 : len(s)-1]),
	}
	if !agg.Function.IsValid() || !IsFieldName(agg.Field) {
		return Aggregation{}, false
	}
	return agg, true
}

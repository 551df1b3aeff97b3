package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Operation represents the kind of work a command performs
type Operation string

const (
	OperationCreate    Operation = "create"
	OperationRead      Operation = "read"
	OperationUpdate    Operation = "update"
	OperationDelete    Operation = "delete"
	OperationSearch    Operation = "search"
	OperationAggregate Operation = "aggregate"
)

// Operations lists every allowed operation in prompt order
var Operations = []Operation{
	OperationCreate,
	OperationRead,
	OperationUpdate,
	OperationDelete,
	OperationSearch,
	OperationAggregate,
}

// IsValid reports whether the operation is in the allowed set
func (o Operation) IsValid() bool {
	for _, op := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// IsDestructive reports whether the operation removes data
func (o Operation) IsDestructive() bool {
	return o == OperationDelete
}

// IsMutation reports whether the operation writes to the store
func (o Operation) IsMutation() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// AggregateFunction represents a supported aggregation
type AggregateFunction string

const (
	AggregateSum   AggregateFunction = "sum"
	AggregateCount AggregateFunction = "count"
	AggregateAvg   AggregateFunction = "avg"
	AggregateMin   AggregateFunction = "min"
	AggregateMax   AggregateFunction = "max"
)

// IsValid reports whether the function is supported
func (f AggregateFunction) IsValid() bool {
	switch f {
	case AggregateSum, AggregateCount, AggregateAvg, AggregateMin, AggregateMax:
		return true
	}
	return false
}

// Aggregation requests one aggregate over a field
type Aggregation struct {
	Function AggregateFunction `json:"function"`
	Field    string            `json:"field"`
}

// CommandMetadata carries audit and routing hints for a command
type CommandMetadata struct {
	Confidence    float64  `json:"confidence,omitempty"`
	OriginalInput string   `json:"originalInput,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	// Dependency marks a command whose failure must abort the rest of the workflow.
	Dependency bool `json:"dependency,omitempty"`
}

// Command is a single structured operation against one entity type
type Command struct {
	Operation    Operation        `json:"operation"`
	Entity       EntityType       `json:"entity"`
	Data         Fields           `json:"data,omitempty"`
	Conditions   *Conditions      `json:"conditions,omitempty"`
	Aggregations []Aggregation    `json:"aggregations,omitempty"`
	Metadata     *CommandMetadata `json:"metadata,omitempty"`
}

// IsDependency reports whether a failure of this command is fatal to the workflow
func (c Command) IsDependency() bool {
	return c.Operation == OperationCreate || (c.Metadata != nil && c.Metadata.Dependency)
}

// Workflow is the ordered plan compiled from one operator input
type Workflow struct {
	Commands             []Command `json:"commands"`
	Description          string    `json:"description"`
	RequiresConfirmation bool      `json:"requiresConfirmation"`
}

// HasDestructive reports whether any command removes data
func (w *Workflow) HasDestructive() bool {
	for _, cmd := range w.Commands {
		if cmd.Operation.IsDestructive() {
			return true
		}
	}
	return false
}

// StampOriginalInput records the operator text on every command
func (w *Workflow) StampOriginalInput(input string) {
	for i := range w.Commands {
		if w.Commands[i].Metadata == nil {
			w.Commands[i].Metadata = &CommandMetadata{}
		}
		w.Commands[i].Metadata.OriginalInput = input
	}
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsFieldName reports whether s is an acceptable document field name
func IsFieldName(s string) bool {
	return fieldNamePattern.MatchString(s)
}

// Fields is a validated open map of document fields
type Fields map[string]any

// UnmarshalJSON rejects keys that are not plain identifiers
func (f *Fields) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*f = nil
		return nil
	}
	for k := range raw {
		if !IsFieldName(k) {
			return fmt.Errorf("invalid field name %q", k)
		}
	}
	*f = Fields(raw)
	return nil
}

// Keys returns the field names in sorted order
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// String returns the string value of a field, or "" when absent or not a string
func (f Fields) String(key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

const (
	conditionStartDate = "startDate"
	conditionEndDate   = "endDate"
)

// DateRange is an inclusive range on an entity's date field
type DateRange struct {
	Start string `json:"startDate,omitempty"`
	End   string `json:"endDate,omitempty"`
}

// IsZero reports whether neither bound is set
func (r *DateRange) IsZero() bool {
	return r == nil || (r.Start == "" && r.End == "")
}

// Conditions is the filter predicate of a command.
//
// On the wire it is a flat JSON object. startDate/endDate become Range, keys
// ending in "Name" (other than "name") become References, everything else
// stays in Fields.
type Conditions struct {
	Range      *DateRange
	References map[string]string
	Fields     Fields
}

// IsReferenceKey reports whether a conditions/data key names another entity by name
func IsReferenceKey(key string) bool {
	return key != "name" && len(key) > len("Name") && strings.HasSuffix(key, "Name")
}

// Count returns the number of individual predicates
func (c *Conditions) Count() int {
	if c == nil {
		return 0
	}
	n := len(c.References) + len(c.FilterFields())
	if c.Range != nil {
		if c.Range.Start != "" {
			n++
		}
		if c.Range.End != "" {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no predicate is set
func (c *Conditions) IsEmpty() bool {
	return c.Count() == 0
}

// Flatten returns the wire form of the conditions
func (c *Conditions) Flatten() map[string]any {
	out := make(map[string]any)
	if c == nil {
		return out
	}
	for k, v := range c.Fields {
		out[k] = v
	}
	for k, v := range c.References {
		out[k] = v
	}
	if c.Range != nil {
		if c.Range.Start != "" {
			out[conditionStartDate] = c.Range.Start
		}
		if c.Range.End != "" {
			out[conditionEndDate] = c.Range.End
		}
	}
	return out
}

// CacheKey is a canonical serialization used to memoize searches
func (c *Conditions) CacheKey() string {
	// encoding/json sorts map keys, so the output is canonical.
	b, err := json.Marshal(c.Flatten())
	if err != nil {
		return fmt.Sprintf("%v", c.Flatten())
	}
	return string(b)
}

// MarshalJSON writes the flat wire form
func (c Conditions) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Flatten())
}

// UnmarshalJSON splits the flat wire form into its typed parts
func (c *Conditions) UnmarshalJSON(b []byte) error {
	var raw Fields
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("invalid conditions: %w", err)
	}
	*c = Conditions{}
	for k, v := range raw {
		switch {
		case k == conditionStartDate || k == conditionEndDate:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("condition %s must be a date string", k)
			}
			if c.Range == nil {
				c.Range = &DateRange{}
			}
			if k == conditionStartDate {
				c.Range.Start = s
			} else {
				c.Range.End = s
			}
		case IsReferenceKey(k):
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("condition %s must be a name string", k)
			}
			if c.References == nil {
				c.References = make(map[string]string)
			}
			c.References[k] = s
		default:
			if c.Fields == nil {
				c.Fields = make(Fields)
			}
			c.Fields[k] = v
		}
	}
	return nil
}

// Keys in Conditions.Fields that shape the query instead of filtering it.
const (
	ConditionOrderBy = "orderBy"
	ConditionLimit   = "limit"
	ConditionGroupBy = "groupBy"
)

func isShapeKey(k string) bool {
	return k == ConditionOrderBy || k == ConditionLimit || k == ConditionGroupBy
}

// FilterFields returns the equality predicates, without query-shaping keys
func (c *Conditions) FilterFields() Fields {
	out := make(Fields)
	if c == nil {
		return out
	}
	for k, v := range c.Fields {
		if !isShapeKey(k) {
			out[k] = v
		}
	}
	return out
}

// OrderBy returns the requested sort ("field" or "field desc")
func (c *Conditions) OrderBy() (field string, desc bool, ok bool) {
	if c == nil {
		return "", false, false
	}
	raw, isString := c.Fields[ConditionOrderBy].(string)
	if !isString || strings.TrimSpace(raw) == "" {
		return "", false, false
	}
	parts := strings.Fields(raw)
	field = parts[0]
	if len(parts) > 1 {
		desc = strings.EqualFold(parts[1], "desc")
	}
	return field, desc, IsFieldName(field)
}

// Limit returns the requested row limit, or 0 for none
func (c *Conditions) Limit() int {
	if c == nil {
		return 0
	}
	switch v := c.Fields[ConditionLimit].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return 0
}

// GroupBy returns any group-by fields requested on the structured path
func (c *Conditions) GroupBy() []string {
	if c == nil {
		return nil
	}
	switch v := c.Fields[ConditionGroupBy].(type) {
	case string:
		if v != "" {
			return []string{v}
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Package indexhint flags query shapes that likely need a composite index.
package indexhint

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

// FieldMode is the index mode of one field
type FieldMode string

const (
	Ascending     FieldMode = "ASCENDING"
	Descending    FieldMode = "DESCENDING"
	ArrayContains FieldMode = "CONTAINS"
)

// IndexField is one field of a suggested composite index
type IndexField struct {
	Field string    `json:"field"`
	Mode  FieldMode `json:"mode"`
}

// Report is the analysis of one planned query
type Report struct {
	Collection string       `json:"collection"`
	NeedsIndex bool         `json:"needsIndex"`
	Fields     []IndexField `json:"fields,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
	// Firestore is a composite index definition in firestore.indexes.json form.
	Firestore string `json:"firestore,omitempty"`
	// Postgres is an expression index over the JSONB documents table.
	Postgres string `json:"postgres,omitempty"`
}

// Detector analyzes query shapes. It never blocks a query.
type Detector struct {
	ownerField string
}

// New creates a detector. ownerField is the tenant-scope field added to
// every non-elevated query.
func New(ownerField string) *Detector {
	return &Detector{ownerField: ownerField}
}

// Analyze inspects the filters and sort of op. scoped reports whether the
// tenant-scope filter will be added when the query runs.
func (d *Detector) Analyze(op domain.QueryOperation, scoped bool) Report {
	report := Report{Collection: op.Collection}

	var (
		equality []IndexField
		ranges   []string
		seen     = make(map[string]bool)
		filters  int
	)
	for _, f := range op.Filters {
		if f.Field == d.ownerField {
			continue
		}
		filters++
		if seen[f.Field] {
			continue
		}
		switch {
		case f.Operator.IsRange():
			if !contains(ranges, f.Field) {
				ranges = append(ranges, f.Field)
			}
		case f.Operator == domain.OpArrayContains:
			seen[f.Field] = true
			equality = append(equality, IndexField{Field: f.Field, Mode: ArrayContains})
		default:
			seen[f.Field] = true
			equality = append(equality, IndexField{Field: f.Field, Mode: Ascending})
		}
	}
	sorts := len(op.OrderBy)

	if len(ranges) > 1 {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"%s: range filters span %d fields (%s); only one range field can use an index, the rest are filtered after the scan",
			op.Collection, len(ranges), strings.Join(ranges, ", ")))
	}

	report.NeedsIndex = filters > 1 || (filters > 0 && sorts > 0) || sorts > 1
	if !report.NeedsIndex {
		return report
	}

	var fields []IndexField
	if scoped && d.ownerField != "" {
		fields = append(fields, IndexField{Field: d.ownerField, Mode: Ascending})
	}
	fields = append(fields, equality...)
	rangeField := ""
	if len(ranges) > 0 {
		rangeField = ranges[0]
		mode := Ascending
		if sorts > 0 && op.OrderBy[0].Field == rangeField && op.OrderBy[0].Descending() {
			mode = Descending
		}
		fields = append(fields, IndexField{Field: rangeField, Mode: mode})
	}
	for _, o := range op.OrderBy {
		if o.Field == rangeField || seen[o.Field] {
			continue
		}
		mode := Ascending
		if o.Descending() {
			mode = Descending
		}
		fields = append(fields, IndexField{Field: o.Field, Mode: mode})
		seen[o.Field] = true
	}
	report.Fields = fields

	if rangeField != "" && sorts > 0 && op.OrderBy[0].Field != rangeField {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"%s: the first sort field should be the range field %s", op.Collection, rangeField))
	}

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Field
	}
	report.Warnings = append(report.Warnings, fmt.Sprintf(
		"%s: this query likely needs a composite index on (%s)", op.Collection, strings.Join(names, ", ")))
	report.Firestore = firestoreDescriptor(op.Collection, fields)
	report.Postgres = postgresHint(op.Collection, fields)
	return report
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

type firestoreField struct {
	FieldPath   string `json:"fieldPath"`
	Order       string `json:"order,omitempty"`
	ArrayConfig string `json:"arrayConfig,omitempty"`
}

type firestoreIndex struct {
	CollectionGroup string           `json:"collectionGroup"`
	QueryScope      string           `json:"queryScope"`
	Fields          []firestoreField `json:"fields"`
}

func firestoreDescriptor(collection string, fields []IndexField) string {
	idx := firestoreIndex{CollectionGroup: collection, QueryScope: "COLLECTION"}
	for _, f := range fields {
		ff := firestoreField{FieldPath: f.Field}
		if f.Mode == ArrayContains {
			ff.ArrayConfig = string(ArrayContains)
		} else {
			ff.Order = string(f.Mode)
		}
		idx.Fields = append(idx.Fields, ff)
	}
	b, err := json.Marshal(idx)
	if err != nil {
		return ""
	}
	return string(b)
}

var identNormalizer = regexp.MustCompile(`[^a-z0-9_]+`)

func postgresHint(collection string, fields []IndexField) string {
	name := []string{"idx", collection}
	exprs := make([]string, 0, len(fields))
	for _, f := range fields {
		name = append(name, f.Field)
		switch f.Mode {
		case ArrayContains:
			exprs = append(exprs, fmt.Sprintf("(data->'%s')", f.Field))
		case Descending:
			exprs = append(exprs, fmt.Sprintf("(data->>'%s') DESC", f.Field))
		default:
			exprs = append(exprs, fmt.Sprintf("(data->>'%s')", f.Field))
		}
	}
	ident := identNormalizer.ReplaceAllString(strings.ToLower(strings.Join(name, "_")), "_")
	if len(ident) > 63 {
		ident = ident[:63]
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON documents (%s) WHERE collection = '%s';",
		ident, strings.Join(exprs, ", "), collection)
}

package persistence

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

// compareValues orders two document values of the same kind. Mixed kinds are
// not comparable.
func compareValues(a, b any) (int, bool) {
	if isNumeric(a) && isNumeric(b) {
		x, _ := domain.ToNumber(a)
		y, _ := domain.ToNumber(b)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	ba, okA := a.(bool)
	bb, okB := b.(bool)
	if okA && okB {
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func matchFilter(data domain.Fields, f domain.Filter) bool {
	v, present := data[f.Field]

	switch f.Operator {
	case domain.OpEqual:
		return present && equalValues(v, f.Value)
	case domain.OpNotEqual:
		return present && !equalValues(v, f.Value)
	case domain.OpIn:
		list, _ := f.Value.([]any)
		for _, item := range list {
			if present && equalValues(v, item) {
				return true
			}
		}
		return false
	case domain.OpContains:
		s, ok := v.(string)
		needle, okNeedle := f.Value.(string)
		return ok && okNeedle && strings.Contains(strings.ToLower(s), strings.ToLower(needle))
	case domain.OpArrayContains:
		list, ok := v.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if equalValues(item, f.Value) {
				return true
			}
		}
		return false
	}

	if !present {
		return false
	}
	c, ok := compareValues(v, f.Value)
	if !ok {
		return false
	}
	switch f.Operator {
	case domain.OpLess:
		return c < 0
	case domain.OpLessEqual:
		return c <= 0
	case domain.OpGreater:
		return c > 0
	case domain.OpGreaterEqual:
		return c >= 0
	}
	return false
}

func matchAll(data domain.Fields, filters []domain.Filter) bool {
	for _, f := range filters {
		if !matchFilter(data, f) {
			return false
		}
	}
	return true
}

// sortDocuments orders docs by the requested keys; documents missing a key sort last
func sortDocuments(docs []ports.Document, orderBy []domain.OrderBy) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orderBy {
			a, okA := docs[i].Data[o.Field]
			b, okB := docs[j].Data[o.Field]
			switch {
			case !okA && !okB:
				continue
			case !okA:
				return false
			case !okB:
				return true
			}
			c, ok := compareValues(a, b)
			if !ok {
				c = strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
			}
			if c == 0 {
				continue
			}
			if o.Descending() {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// page applies a start-after cursor and a limit to ordered documents
func page(docs []ports.Document, startAfter string, limit int) []ports.Document {
	if startAfter != "" {
		for i, d := range docs {
			if d.ID == startAfter {
				docs = docs[i+1:]
				break
			}
		}
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

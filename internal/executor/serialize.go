package executor

import (
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339Nano
)

// SerializeDocuments flattens documents into rows with an id field and
// canonical date strings
func SerializeDocuments(docs []ports.Document) []domain.Fields {
	rows := make([]domain.Fields, 0, len(docs))
	for _, d := range docs {
		row := SerializeFields(d.Data)
		row["id"] = d.ID
		rows = append(rows, row)
	}
	return rows
}

// SerializeFields returns a copy of data with date-like values as strings
func SerializeFields(data domain.Fields) domain.Fields {
	out := make(domain.Fields, len(data))
	for k, v := range data {
		out[k] = serializeValue(v)
	}
	return out
}

func serializeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return formatTime(*t)
	case domain.Fields:
		return SerializeFields(t)
	case map[string]any:
		return SerializeFields(domain.Fields(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = serializeValue(item)
		}
		return out
	}
	return v
}

// formatTime renders midnight UTC values as dates and everything else as RFC 3339
func formatTime(t time.Time) string {
	u := t.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		return u.Format(dateLayout)
	}
	return u.Format(time.RFC3339)
}

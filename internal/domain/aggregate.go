package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AggregateValue is either a number or null. The zero value is Null, so
// "no data" and "zero" are never conflated.
type AggregateValue struct {
	value float64
	valid bool
}

// Number wraps x as a present aggregate value
func Number(x float64) AggregateValue {
	return AggregateValue{value: x, valid: true}
}

// Null is the absent aggregate value
func Null() AggregateValue {
	return AggregateValue{}
}

// IsNull reports whether the value is absent
func (v AggregateValue) IsNull() bool {
	return !v.valid
}

// Float returns the number and whether it is present
func (v AggregateValue) Float() (float64, bool) {
	return v.value, v.valid
}

func (v AggregateValue) String() string {
	if !v.valid {
		return "null"
	}
	return strconv.FormatFloat(v.value, 'f', -1, 64)
}

// MarshalJSON writes a number or null
func (v AggregateValue) MarshalJSON() ([]byte, error) {
	if !v.valid || math.IsNaN(v.value) || math.IsInf(v.value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

// UnmarshalJSON reads a number or null
func (v *AggregateValue) UnmarshalJSON(b []byte) error {
	if strings.TrimSpace(string(b)) == "null" {
		*v = Null()
		return nil
	}
	var x float64
	if err := json.Unmarshal(b, &x); err != nil {
		return fmt.Errorf("aggregate value must be a number or null: %w", err)
	}
	*v = Number(x)
	return nil
}

// AggregationResult is the outcome of one requested aggregation
type AggregationResult struct {
	Function AggregateFunction `json:"function"`
	Field    string            `json:"field"`
	Result   AggregateValue    `json:"result"`
}

// AggregateResult is the outcome of an aggregate command or one dynamic group
type AggregateResult struct {
	Group        map[string]any      `json:"group,omitempty"`
	Count        int                 `json:"count"`
	Aggregations []AggregationResult `json:"aggregations"`
}

// ToNumber coerces a document value to a number. Missing and non-numeric
// values report ok=false.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Aggregate computes the requested aggregations over rows.
//
// sum treats missing or non-numeric values as 0; avg, min and max consider
// only numeric values and yield null when there are none; count is the row
// count. An empty row set yields count 0 and null for every other function.
func Aggregate(rows []Fields, aggs []Aggregation) AggregateResult {
	result := AggregateResult{
		Count:        len(rows),
		Aggregations: make([]AggregationResult, 0, len(aggs)),
	}
	for _, agg := range aggs {
		result.Aggregations = append(result.Aggregations, AggregationResult{
			Function: agg.Function,
			Field:    agg.Field,
			Result:   aggregateOne(rows, agg),
		})
	}
	return result
}

func aggregateOne(rows []Fields, agg Aggregation) AggregateValue {
	if agg.Function == AggregateCount {
		return Number(float64(len(rows)))
	}
	if len(rows) == 0 {
		return Null()
	}

	var (
		sum     float64
		numeric int
		min     = math.Inf(1)
		max     = math.Inf(-1)
	)
	for _, row := range rows {
		x, ok := ToNumber(row[agg.Field])
		if !ok {
			continue
		}
		numeric++
		sum += x
		min = math.Min(min, x)
		max = math.Max(max, x)
	}

	switch agg.Function {
	case AggregateSum:
		return Number(sum)
	case AggregateAvg:
		if numeric == 0 {
			return Null()
		}
		return Number(sum / float64(numeric))
	case AggregateMin:
		if numeric == 0 {
			return Null()
		}
		return Number(min)
	case AggregateMax:
		if numeric == 0 {
			return Null()
		}
		return Number(max)
	}
	return Null()
}

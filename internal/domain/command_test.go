package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditions_UnmarshalSplitsWireForm(t *testing.T) {
	var c Conditions
	err := json.Unmarshal([]byte(`{
		"startDate": "2024-05-01",
		"endDate": "2024-05-31",
		"clientName": "Alice",
		"name": "Bob",
		"billingStatus": "unbilled",
		"orderBy": "date desc",
		"limit": 5
	}`), &c)
	require.NoError(t, err)

	require.NotNil(t, c.Range)
	assert.Equal(t, DateRange{Start: "2024-05-01", End: "2024-05-31"}, *c.Range)
	assert.Equal(t, map[string]string{"clientName": "Alice"}, c.References)
	assert.Equal(t, "Bob", c.Fields["name"])

	assert.Equal(t, Fields{"name": "Bob", "billingStatus": "unbilled"}, c.FilterFields())
	assert.Equal(t, 5, c.Count())

	field, desc, ok := c.OrderBy()
	assert.True(t, ok)
	assert.Equal(t, "date", field)
	assert.True(t, desc)
	assert.Equal(t, 5, c.Limit())
}

func TestConditions_RoundTrip(t *testing.T) {
	wire := `{"clientName":"Alice","endDate":"2024-05-31","status":"paid"}`

	var c Conditions
	require.NoError(t, json.Unmarshal([]byte(wire), &c))
	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, wire, string(out))
	assert.Equal(t, wire, c.CacheKey())
}

func TestConditions_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		wire    string
		wantErr string
	}{
		{name: "numeric date", wire: `{"startDate": 20240501}`, wantErr: "condition startDate must be a date string"},
		{name: "numeric reference", wire: `{"clientName": 7}`, wantErr: "condition clientName must be a name string"},
		{name: "bad key", wire: `{"a.b": 1}`, wantErr: `invalid field name "a.b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Conditions
			err := json.Unmarshal([]byte(tt.wire), &c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConditions_NilSafe(t *testing.T) {
	var c *Conditions
	assert.Equal(t, 0, c.Count())
	assert.True(t, c.IsEmpty())
	assert.Equal(t, 0, c.Limit())
	assert.Nil(t, c.GroupBy())
	_, _, ok := c.OrderBy()
	assert.False(t, ok)
	assert.Empty(t, c.Flatten())
}

func TestConditions_GroupBy(t *testing.T) {
	single := &Conditions{Fields: Fields{ConditionGroupBy: "clientId"}}
	assert.Equal(t, []string{"clientId"}, single.GroupBy())

	multi := &Conditions{Fields: Fields{ConditionGroupBy: []any{"clientId", "", "status"}}}
	assert.Equal(t, []string{"clientId", "status"}, multi.GroupBy())
}

func TestIsReferenceKey(t *testing.T) {
	assert.True(t, IsReferenceKey("clientName"))
	assert.True(t, IsReferenceKey("expenseCategoryName"))
	assert.False(t, IsReferenceKey("name"))
	assert.False(t, IsReferenceKey("Name"))
	assert.False(t, IsReferenceKey("clientId"))
}

func TestWorkflow_JSON(t *testing.T) {
	raw := `{
		"commands": [
			{"operation": "create", "entity": "session", "data": {"clientName": "Alice", "date": "2024-05-02"}},
			{"operation": "delete", "entity": "expense", "conditions": {"startDate": "2024-05-01"}}
		],
		"description": "book and clean up",
		"requiresConfirmation": true
	}`

	var wf Workflow
	require.NoError(t, json.Unmarshal([]byte(raw), &wf))
	require.Len(t, wf.Commands, 2)
	assert.Equal(t, OperationCreate, wf.Commands[0].Operation)
	assert.Equal(t, EntitySession, wf.Commands[0].Entity)
	assert.Equal(t, "Alice", wf.Commands[0].Data.String("clientName"))
	assert.Equal(t, "2024-05-01", wf.Commands[1].Conditions.Range.Start)
	assert.True(t, wf.HasDestructive())
	assert.True(t, wf.Commands[0].IsDependency())
	assert.False(t, wf.Commands[1].IsDependency())

	wf.StampOriginalInput("book Alice, drop yesterday's expenses")
	for _, cmd := range wf.Commands {
		require.NotNil(t, cmd.Metadata)
		assert.Equal(t, "book Alice, drop yesterday's expenses", cmd.Metadata.OriginalInput)
	}
}

func TestOperation(t *testing.T) {
	assert.True(t, OperationSearch.IsValid())
	assert.False(t, Operation("drop").IsValid())
	assert.True(t, OperationDelete.IsDestructive())
	assert.False(t, OperationUpdate.IsDestructive())
	assert.True(t, OperationUpdate.IsMutation())
	assert.False(t, OperationAggregate.IsMutation())
}

func TestFields_Clone(t *testing.T) {
	orig := Fields{"a": 1}
	clone := orig.Clone()
	clone["a"] = 2
	assert.Equal(t, 1, orig["a"])
	assert.Nil(t, Fields(nil).Clone())
	assert.Equal(t, []string{"a", "b"}, Fields{"b": 1, "a": 2}.Keys())
}

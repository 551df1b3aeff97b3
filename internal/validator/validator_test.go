package validator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

func workflow(t *testing.T, raw string) *domain.Workflow {
	t.Helper()
	var wf domain.Workflow
	require.NoError(t, json.Unmarshal([]byte(raw), &wf))
	return &wf
}

func TestValidate(t *testing.T) {
	registry := domain.DefaultRegistry()

	tests := []struct {
		name         string
		raw          string
		wantValid    bool
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:      "valid aggregate",
			raw:       `{"commands":[{"operation":"aggregate","entity":"session","conditions":{"clientName":"Alex"},"aggregations":[{"function":"sum","field":"totalAmount"}]}]}`,
			wantValid: true,
		},
		{
			name:       "empty workflow",
			raw:        `{"commands":[]}`,
			wantErrors: []string{"workflow has no commands"},
		},
		{
			name:       "unknown operation and entity",
			raw:        `{"commands":[{"operation":"drop","entity":"users"}]}`,
			wantErrors: []string{`command 0: operation "drop" is not allowed`, `command 0: entity "users" is not allowed`},
		},
		{
			name:       "create without data",
			raw:        `{"commands":[{"operation":"create","entity":"client"}]}`,
			wantErrors: []string{"command 0: create requires data"},
		},
		{
			name:         "update without conditions is a warning",
			raw:          `{"commands":[{"operation":"update","entity":"client","data":{"email":"a@b.c"}}]}`,
			wantValid:    true,
			wantWarnings: []string{"command 0: update has no conditions and will be refused"},
		},
		{
			name:       "aggregate without aggregations",
			raw:        `{"commands":[{"operation":"aggregate","entity":"session"}]}`,
			wantErrors: []string{"command 0: aggregate requires at least one aggregation"},
		},
		{
			name: "aggregate with bad function and missing field",
			raw:  `{"commands":[{"operation":"aggregate","entity":"session","aggregations":[{"function":"median","field":"totalAmount"},{"function":"sum"}]}]}`,
			wantErrors: []string{
				`command 0: aggregation function "median" is not supported`,
				"command 0: aggregation sum requires a field",
			},
		},
		{
			name:       "aggregate with group by",
			raw:        `{"commands":[{"operation":"aggregate","entity":"session","conditions":{"groupBy":"clientId"},"aggregations":[{"function":"count","field":"id"}]}]}`,
			wantErrors: []string{"command 0: aggregate does not support groupBy"},
		},
		{
			name:      "delete without confirmation",
			raw:       `{"commands":[{"operation":"delete","entity":"session","conditions":{"date":"2024-03-01"}}]}`,
			wantValid: true,
			wantWarnings: []string{
				"workflow deletes records but does not ask for confirmation",
			},
		},
		{
			name:         "undeclared data field",
			raw:          `{"commands":[{"operation":"create","entity":"client","data":{"name":"Kai","shoeSize":42}}]}`,
			wantValid:    true,
			wantWarnings: []string{`command 0: field "shoeSize" is not declared for client`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(workflow(t, tt.raw), registry)
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.wantErrors, res.Errors)
			assert.Equal(t, tt.wantWarnings, res.Warnings)
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	res := Validate(nil, domain.DefaultRegistry())
	assert.False(t, res.Valid)
	assert.True(t, domain.IsKind(res.Err(), domain.KindValidation))
}

func TestResult_ErrNilWhenValid(t *testing.T) {
	assert.NoError(t, Result{Valid: true}.Err())
}

package persistence

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name      string
		query     domain.StoreQuery
		wantSQL   string
		wantArgs  []interface{}
		wantError bool
	}{
		{
			name:     "collection only",
			query:    domain.StoreQuery{},
			wantSQL:  "SELECT id, data FROM documents WHERE collection = $1 ORDER BY created_at ASC, id ASC",
			wantArgs: []interface{}{"sessions"},
		},
		{
			name: "equality range and order",
			query: domain.StoreQuery{
				Filters: []domain.Filter{
					{Field: "userId", Operator: domain.OpEqual, Value: "u1"},
					{Field: "date", Operator: domain.OpGreaterEqual, Value: "2024-03-01"},
				},
				OrderBy: []domain.OrderBy{{Field: "date", Direction: domain.SortDesc}},
				Limit:   10,
			},
			wantSQL: "SELECT id, data FROM documents WHERE collection = $1" +
				" AND data->$2::text = $3::jsonb AND data->$4::text >= $5::jsonb" +
				" ORDER BY data->$6::text DESC NULLS LAST, created_at ASC, id ASC LIMIT $7",
			wantArgs: []interface{}{"sessions", "userId", `"u1"`, "date", `"2024-03-01"`, "date", 10},
		},
		{
			name: "in contains and array contains",
			query: domain.StoreQuery{
				Filters: []domain.Filter{
					{Field: "status", Operator: domain.OpIn, Value: []any{"draft", "sent"}},
					{Field: "notes", Operator: domain.OpContains, Value: "50%_off"},
					{Field: "tags", Operator: domain.OpArrayContains, Value: "piano"},
				},
			},
			wantSQL: "SELECT id, data FROM documents WHERE collection = $1" +
				" AND data->$2::text = ANY($3::jsonb[]) AND data->>$4::text ILIKE $5 AND data->$6::text @> $7::jsonb" +
				" ORDER BY created_at ASC, id ASC",
			wantArgs: []interface{}{"sessions", "status", pq.Array([]string{`"draft"`, `"sent"`}),
				"notes", `%50\%\_off%`, "tags", `["piano"]`},
		},
		{
			name: "cursor disables sql limit",
			query: domain.StoreQuery{
				Limit:      5,
				StartAfter: "abc",
			},
			wantSQL:  "SELECT id, data FROM documents WHERE collection = $1 ORDER BY created_at ASC, id ASC",
			wantArgs: []interface{}{"sessions"},
		},
		{
			name: "invalid field",
			query: domain.StoreQuery{
				Filters: []domain.Filter{{Field: "a-b", Operator: domain.OpEqual, Value: 1}},
			},
			wantError: true,
		},
		{
			name: "invalid order field",
			query: domain.StoreQuery{
				OrderBy: []domain.OrderBy{{Field: "x;drop"}},
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := buildSelect("sessions", tt.query)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestFilterClause_ComparisonOperators(t *testing.T) {
	tests := []struct {
		op   domain.FilterOperator
		want string
	}{
		{op: domain.OpEqual, want: "data->$1::text = $2::jsonb"},
		{op: domain.OpNotEqual, want: "data->$1::text <> $2::jsonb"},
		{op: domain.OpLess, want: "data->$1::text < $2::jsonb"},
		{op: domain.OpLessEqual, want: "data->$1::text <= $2::jsonb"},
		{op: domain.OpGreater, want: "data->$1::text > $2::jsonb"},
		{op: domain.OpGreaterEqual, want: "data->$1::text >= $2::jsonb"},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			n := 0
			arg := func(interface{}) string {
				n++
				return fmt.Sprintf("$%d", n)
			}
			clause, err := filterClause(domain.Filter{Field: "userId", Operator: tt.op, Value: "alice"}, arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, clause)
			assert.NotContains(t, clause, "==")
		})
	}
}

func TestBuildSelect_TenantScopeUsesSQLEquality(t *testing.T) {
	sql, args, err := buildSelect("clients", domain.StoreQuery{}.Where("userId", domain.OpEqual, "alice"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, data FROM documents WHERE collection = $1 AND data->$2::text = $3::jsonb ORDER BY created_at ASC, id ASC", sql)
	assert.Equal(t, []interface{}{"clients", "userId", `"alice"`}, args)
}

func TestParseVersionAndName(t *testing.T) {
	v, name, err := parseVersionAndName("001_create_documents.up.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, "create_documents", name)

	_, _, err = parseVersionAndName("x_create.up.sql")
	assert.Error(t, err)
}

func TestLoadMigrationFiles(t *testing.T) {
	files, err := loadMigrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	ups := 0
	for i, f := range files {
		if i > 0 {
			assert.LessOrEqual(t, files[i-1].version, f.version)
		}
		if f.kind == "up" {
			ups++
		}
	}
	assert.Equal(t, len(files)/2, ups)
}

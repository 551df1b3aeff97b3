package dynamic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Borui-Eduation/student-records-sub000/internal/adapter/persistence"
	"github.com/Borui-Eduation/student-records-sub000/internal/compiler"
	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/executor"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
)

type MockModel struct {
	mock.Mock
}

func (m *MockModel) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockModel) Provider() string {
	return "mock"
}

var alice = domain.Actor{ID: "alice", Role: domain.RoleUser}

func newRunner(t *testing.T) (*Runner, *persistence.MemoryDocumentStore) {
	t.Helper()
	store := persistence.NewMemoryDocumentStore()
	exec := executor.New(store, domain.DefaultRegistry(), executor.Config{}, logger.NewNoop())
	return NewRunner(exec, nil, logger.NewNoop()), store
}

func add(t *testing.T, store *persistence.MemoryDocumentStore, collection string, data domain.Fields) string {
	t.Helper()
	id, err := store.Add(context.Background(), collection, data)
	require.NoError(t, err)
	return id
}

func plan(t *testing.T, raw string) *Plan {
	t.Helper()
	p, err := ParsePlan(raw)
	require.NoError(t, err)
	return p
}

func TestGenerator_Generate(t *testing.T) {
	t.Run("valid plan", func(t *testing.T) {
		model := new(MockModel)
		model.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
			return strings.Contains(prompt, "Input: top 3 clients by revenue\nOutput:")
		})).Return("```json\n"+`{"description":"Revenue per client","operations":[{"type":"aggregate","collection":"sessions",`+
			`"groupBy":["clientId"],"aggregations":[{"function":"sum","field":"totalAmount"}],`+
			`"orderBy":[{"field":"sum(totalAmount)","direction":"desc"}],"limit":3}]}`+"\n```", nil)

		g := NewGenerator(model, domain.DefaultRegistry(), logger.NewNoop())
		p, err := g.Generate(context.Background(), "top 3 clients by revenue", compiler.Context{})
		require.NoError(t, err)
		require.Len(t, p.Operations, 1)
		assert.Equal(t, []string{"clientId"}, p.Operations[0].GroupBy)
	})

	t.Run("collection outside the allow-list", func(t *testing.T) {
		model := new(MockModel)
		model.On("Generate", mock.Anything, mock.Anything).
			Return(`{"operations":[{"type":"query","collection":"users"}]}`, nil)

		g := NewGenerator(model, domain.DefaultRegistry(), logger.NewNoop())
		_, err := g.Generate(context.Background(), "list users", compiler.Context{})

		var ce *domain.CommandError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, domain.KindValidation, ce.Kind)
		assert.Equal(t, 0, ce.Index)
		assert.Contains(t, ce.Message, `collection "users" is not allowed`)
	})

	t.Run("unparseable reply", func(t *testing.T) {
		model := new(MockModel)
		model.On("Generate", mock.Anything, mock.Anything).Return("no idea", nil)

		g := NewGenerator(model, domain.DefaultRegistry(), logger.NewNoop())
		_, err := g.Generate(context.Background(), "something", compiler.Context{})
		assert.True(t, domain.IsKind(err, domain.KindCompile))
	})
}

func TestBuildPrompt_ListsCollectionsAndDates(t *testing.T) {
	cctx := compiler.Context{}.Normalize(time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	prompt := BuildPrompt(domain.DefaultRegistry(), "revenue per client", cctx)

	assert.Contains(t, prompt, "- expense (collection expenses)")
	assert.Contains(t, prompt, `{"field":"date","operator":">=","value":"2024-03-01"}`)
	assert.Contains(t, prompt, "Input: revenue per client\nOutput:")
}

func TestRunner_GroupByClient(t *testing.T) {
	r, store := newRunner(t)
	alex := add(t, store, "clients", domain.Fields{"name": "Alex", "userId": "alice"})
	nova := add(t, store, "clients", domain.Fields{"name": "Nova", "userId": "alice"})
	add(t, store, "sessions", domain.Fields{"clientId": alex, "billingStatus": "billed", "totalAmount": 100.0, "userId": "alice"})
	add(t, store, "sessions", domain.Fields{"clientId": nova, "billingStatus": "billed", "totalAmount": 300.0, "userId": "alice"})
	add(t, store, "sessions", domain.Fields{"clientId": alex, "billingStatus": "unbilled", "totalAmount": 120.0, "userId": "alice"})
	add(t, store, "sessions", domain.Fields{"clientId": alex, "billingStatus": "billed", "totalAmount": 50.0, "userId": "alice"})
	add(t, store, "sessions", domain.Fields{"clientId": alex, "billingStatus": "billed", "totalAmount": 999.0, "userId": "bob"})

	t.Run("single field ordered by aggregation", func(t *testing.T) {
		res, err := r.Run(context.Background(), alice, plan(t, `{"operations":[{"type":"aggregate","collection":"sessions",
			"groupBy":["clientId"],"aggregations":[{"function":"sum","field":"totalAmount"},{"function":"count","field":"id"}],
			"orderBy":[{"field":"sum(totalAmount)","direction":"desc"}]}]}`))
		require.NoError(t, err)

		groups := res.Operations[0].Groups
		require.Len(t, groups, 2)
		assert.Equal(t, nova, groups[0].Group["clientId"])
		assert.Equal(t, alex, groups[1].Group["clientId"])

		raw, err := json.Marshal(groups[1])
		require.NoError(t, err)
		assert.JSONEq(t, `{"group":{"clientId":"`+alex+`"},"count":3,"aggregations":[
			{"function":"sum","field":"totalAmount","result":270},
			{"function":"count","field":"id","result":3}]}`, string(raw))
	})

	t.Run("two fields with limit", func(t *testing.T) {
		res, err := r.Run(context.Background(), alice, plan(t, `{"operations":[{"type":"aggregate","collection":"sessions",
			"groupBy":["clientId","billingStatus"],"aggregations":[{"function":"sum","field":"totalAmount"}],
			"orderBy":[{"field":"sum(totalAmount)"}],"limit":2}]}`))
		require.NoError(t, err)

		groups := res.Operations[0].Groups
		require.Len(t, groups, 2)
		assert.Equal(t, map[string]any{"clientId": alex, "billingStatus": "unbilled"}, groups[0].Group)
		assert.Equal(t, map[string]any{"clientId": alex, "billingStatus": "billed"}, groups[1].Group)
		assert.Equal(t, 120.0, mustFloat(t, groups[0].Aggregations[0].Result))
	})
}

func mustFloat(t *testing.T, v domain.AggregateValue) float64 {
	t.Helper()
	x, ok := v.Float()
	require.True(t, ok)
	return x
}

func TestRunner_TenantScopeCannotBeOverridden(t *testing.T) {
	r, store := newRunner(t)
	add(t, store, "expenses", domain.Fields{"amount": 10.0, "userId": "alice"})
	add(t, store, "expenses", domain.Fields{"amount": 20.0, "userId": "bob"})

	res, err := r.Run(context.Background(), alice, plan(t, `{"operations":[{"type":"query","collection":"expenses",
		"filters":[{"field":"userId","operator":"==","value":"bob"}]}]}`))
	require.NoError(t, err)
	require.Len(t, res.Operations[0].Records, 1)
	assert.Equal(t, 10.0, res.Operations[0].Records[0]["amount"])

	admin := domain.Actor{ID: "root", Role: domain.RoleAdmin}
	res, err = r.Run(context.Background(), admin, plan(t, `{"operations":[{"type":"query","collection":"expenses"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Operations[0].Count)
}

func TestRunner_NameReferenceFilters(t *testing.T) {
	r, store := newRunner(t)
	alex := add(t, store, "clients", domain.Fields{"name": "Alex", "userId": "alice"})
	bobsAlex := add(t, store, "clients", domain.Fields{"name": "Alex", "userId": "bob"})
	add(t, store, "sessions", domain.Fields{"clientId": alex, "totalAmount": 100.0, "userId": "alice"})
	add(t, store, "sessions", domain.Fields{"clientId": bobsAlex, "totalAmount": 500.0, "userId": "bob"})

	res, err := r.Run(context.Background(), alice, plan(t, `{"operations":[{"type":"aggregate","collection":"sessions",
		"filters":[{"field":"clientName","operator":"==","value":"alex"}],
		"aggregations":[{"function":"sum","field":"totalAmount"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, 100.0, mustFloat(t, res.Operations[0].Aggregate.Aggregations[0].Result))

	res, err = r.Run(context.Background(), alice, plan(t, `{"operations":[{"type":"aggregate","collection":"sessions",
		"filters":[{"field":"clientName","operator":"==","value":"Nobody"}],
		"aggregations":[{"function":"sum","field":"totalAmount"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Operations[0].Aggregate.Count)
	assert.True(t, res.Operations[0].Aggregate.Aggregations[0].Result.IsNull())
}

func TestRunner_AttachesIndexWarnings(t *testing.T) {
	r, _ := newRunner(t)

	res, err := r.Run(context.Background(), alice, plan(t, `{"operations":[
		{"type":"query","collection":"sessions","filters":[
			{"field":"clientId","operator":"==","value":"c1"},
			{"field":"billingStatus","operator":"==","value":"billed"}],
			"orderBy":[{"field":"date","direction":"desc"}]},
		{"type":"query","collection":"sessions","filters":[{"field":"clientId","operator":"==","value":"c1"}]}
	]}`))
	require.NoError(t, err)

	flagged := res.Operations[0]
	require.NotNil(t, flagged.IndexHint)
	assert.True(t, flagged.IndexHint.NeedsIndex)
	assert.Equal(t, "userId", flagged.IndexHint.Fields[0].Field)
	assert.NotEmpty(t, res.Warnings)

	assert.Nil(t, res.Operations[1].IndexHint)
}

func TestRunner_CreateSharesResolution(t *testing.T) {
	r, store := newRunner(t)

	res, err := r.Run(context.Background(), alice, plan(t, `{"operations":[{"type":"create","collection":"rates",
		"data":{"clientName":"Nova","amount":75}}]}`))
	require.NoError(t, err)
	require.NotEmpty(t, res.Operations[0].ID)

	clients, err := store.Query(context.Background(), "clients", domain.StoreQuery{})
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, true, clients[0].Data["autoCreated"])
	assert.Equal(t, "alice", clients[0].Data["userId"])
	assert.Equal(t, "general", res.Operations[0].Records[0]["category"])
}

func TestRunner_HidesSoftDeleted(t *testing.T) {
	r, store := newRunner(t)
	add(t, store, "clients", domain.Fields{"name": "Kai", "active": true, "userId": "alice"})
	add(t, store, "clients", domain.Fields{"name": "Old", "active": false, "userId": "alice"})

	res, err := r.Run(context.Background(), alice, plan(t, `{"operations":[{"type":"query","collection":"clients"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Operations[0].Count)

	res, err = r.Run(context.Background(), alice, plan(t, `{"operations":[{"type":"query","collection":"clients",
		"filters":[{"field":"active","operator":"==","value":false}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Operations[0].Count)
	assert.Equal(t, "Old", res.Operations[0].Records[0]["name"])
}

func TestRunner_LimitCountsActiveRowsOnly(t *testing.T) {
	r, store := newRunner(t)
	add(t, store, "clients", domain.Fields{"name": "Old", "active": false, "userId": "alice"})
	add(t, store, "clients", domain.Fields{"name": "New", "active": true, "userId": "alice"})

	res, err := r.Run(context.Background(), alice, plan(t, `{"operations":[{"type":"query","collection":"clients","limit":1}]}`))
	require.NoError(t, err)
	require.Equal(t, 1, res.Operations[0].Count)
	assert.Equal(t, "New", res.Operations[0].Records[0]["name"])
}

func TestRunner_RejectsInvalidPlan(t *testing.T) {
	r, _ := newRunner(t)
	_, err := r.Run(context.Background(), alice, &Plan{Operations: []domain.QueryOperation{
		{Type: domain.QueryTypeQuery, Collection: "sessions", OrderBy: []domain.OrderBy{{Field: "sum(totalAmount)"}}},
	}})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestGroupAggregate_MissingValuesShareAGroup(t *testing.T) {
	rows := []domain.Fields{
		{"category": "rent", "amount": 100.0},
		{"amount": 5.0},
		{"category": nil, "amount": 7.0},
	}
	groups := GroupAggregate(rows, []string{"category"}, []domain.Aggregation{{Function: domain.AggregateSum, Field: "amount"}})
	require.Len(t, groups, 2)
	assert.Equal(t, 12.0, mustFloat(t, groups[1].Aggregations[0].Result))
	assert.Equal(t, 2, groups[1].Count)
}

package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Borui-Eduation/student-records-sub000/internal/adapter/persistence"
	"github.com/Borui-Eduation/student-records-sub000/internal/compiler"
	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/dynamic"
	"github.com/Borui-Eduation/student-records-sub000/internal/executor"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
	"github.com/Borui-Eduation/student-records-sub000/internal/ratelimit"
	"github.com/Borui-Eduation/student-records-sub000/internal/router"
)

type MockRouter struct {
	mock.Mock
}

func (m *MockRouter) Route(ctx context.Context, req router.Request) (*router.Outcome, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*router.Outcome)
	return out, args.Error(1)
}

func (m *MockRouter) Decisions(limit int) []domain.RoutingDecision {
	return m.Called(limit).Get(0).([]domain.RoutingDecision)
}

func (m *MockRouter) Stats() router.DecisionStats {
	return m.Called().Get(0).(router.DecisionStats)
}

type MockCompiler struct {
	mock.Mock
}

func (m *MockCompiler) Compile(ctx context.Context, text string, cctx compiler.Context) (*domain.Workflow, error) {
	args := m.Called(ctx, text, cctx)
	wf, _ := args.Get(0).(*domain.Workflow)
	return wf, args.Error(1)
}

var alice = domain.Actor{ID: "alice", Role: domain.RoleUser}

func newUseCase(r CommandRouter, c router.WorkflowCompiler) (*CommandUseCase, *persistence.MemoryDocumentStore) {
	store := persistence.NewMemoryDocumentStore()
	registry := domain.DefaultRegistry()
	exec := executor.New(store, registry, executor.Config{}, logger.NewNoop())
	return NewCommandUseCase(r, c, exec, registry, nil, logger.NewNoop()), store
}

func TestCommandUseCase_Run(t *testing.T) {
	structured := &router.Outcome{Structured: &executor.Result{Success: true, Steps: []executor.StepResult{{
		Index:       0,
		Operation:   domain.OperationCreate,
		Entity:      "session",
		Status:      executor.StepSucceeded,
		ID:          "s1",
		AutoCreated: []executor.AutoCreated{{Entity: "client", Name: "Nova", ID: "c1"}},
	}}}}

	tests := []struct {
		name        string
		locale      string
		outcome     *router.Outcome
		wantSummary string
	}{
		{
			name:        "structured en",
			outcome:     structured,
			wantSummary: `Created session s1. Also created client "Nova".`,
		},
		{
			name:        "structured zh",
			locale:      "zh-CN",
			outcome:     structured,
			wantSummary: "已创建session s1。同时创建了client「Nova」。",
		},
		{
			name:        "confirmation",
			outcome:     &router.Outcome{ConfirmationRequired: true},
			wantSummary: "This request deletes data and was not run. Confirm to proceed.",
		},
		{
			name: "dynamic",
			outcome: &router.Outcome{Dynamic: &dynamic.Result{Operations: []dynamic.OperationResult{
				{Type: domain.QueryTypeAggregate, Collection: "sessions", Groups: make([]domain.AggregateResult, 3)},
				{Type: domain.QueryTypeQuery, Collection: "expenses", Count: 5},
			}}},
			wantSummary: "3 group(s) of sessions. Found 5 expenses record(s).",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := new(MockRouter)
			r.On("Route", mock.Anything, mock.MatchedBy(func(req router.Request) bool {
				return req.Text == "do it" && req.Actor == alice && req.Confirmed
			})).Return(tt.outcome, nil)
			uc, _ := newUseCase(r, nil)

			resp, err := uc.Run(context.Background(), alice, CommandRequest{Text: "  do it ", Locale: tt.locale, Confirmed: true})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSummary, resp.Summary)
			r.AssertExpectations(t)
		})
	}
}

func TestCommandUseCase_RunSetsPriority(t *testing.T) {
	r := new(MockRouter)
	r.On("Route", mock.MatchedBy(func(ctx context.Context) bool {
		return ratelimit.PriorityFrom(ctx) == ratelimit.PriorityHigh
	}), mock.Anything).Return(&router.Outcome{}, nil)
	uc, _ := newUseCase(r, nil)

	_, err := uc.Run(context.Background(), alice, CommandRequest{Text: "list clients", Priority: "high"})
	require.NoError(t, err)
	r.AssertExpectations(t)
}

func TestCommandUseCase_RunRejectsEmptyText(t *testing.T) {
	uc, _ := newUseCase(new(MockRouter), nil)
	_, err := uc.Run(context.Background(), alice, CommandRequest{Text: "   "})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestCommandUseCase_Compile(t *testing.T) {
	c := new(MockCompiler)
	wf := &domain.Workflow{Commands: []domain.Command{{Operation: domain.OperationAggregate, Entity: "session"}}}
	c.On("Compile", mock.Anything, "total for Alex", mock.MatchedBy(func(cctx compiler.Context) bool {
		return cctx.Locale == compiler.LocaleEN && cctx.Currency == "USD"
	})).Return(wf, nil)
	uc, _ := newUseCase(new(MockRouter), c)

	resp, err := uc.Compile(context.Background(), CommandRequest{Text: "total for Alex"})
	require.NoError(t, err)
	assert.Same(t, wf, resp.Workflow)
	assert.False(t, resp.Validation.Valid)
	assert.Contains(t, resp.Validation.Errors, "command 0: aggregate requires at least one aggregation")
}

func TestCommandUseCase_Execute(t *testing.T) {
	ctx := context.Background()
	uc, store := newUseCase(new(MockRouter), nil)
	id, err := store.Add(ctx, "expenses", domain.Fields{"amount": 5.0, "date": "2024-03-19", "userId": "alice"})
	require.NoError(t, err)

	deleteWorkflow := &domain.Workflow{Commands: []domain.Command{{
		Operation:  domain.OperationDelete,
		Entity:     "expense",
		Conditions: &domain.Conditions{Fields: domain.Fields{"date": "2024-03-19"}},
	}}}

	t.Run("missing workflow", func(t *testing.T) {
		_, err := uc.Execute(ctx, alice, ExecuteRequest{})
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	})

	t.Run("invalid workflow", func(t *testing.T) {
		_, err := uc.Execute(ctx, alice, ExecuteRequest{Workflow: &domain.Workflow{}, Confirmed: true})
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	})

	t.Run("destructive needs confirmation", func(t *testing.T) {
		_, err := uc.Execute(ctx, alice, ExecuteRequest{Workflow: deleteWorkflow, Locale: "zh"})
		assert.True(t, domain.IsKind(err, domain.KindConfirmationNeed))
		assert.Contains(t, err.Error(), "请确认")
		_, err = store.Get(ctx, "expenses", id)
		assert.NoError(t, err)
	})

	t.Run("confirmed", func(t *testing.T) {
		resp, err := uc.Execute(ctx, alice, ExecuteRequest{Workflow: deleteWorkflow, Confirmed: true})
		require.NoError(t, err)
		assert.True(t, resp.Result.Success)
		assert.Equal(t, "Deleted 1 expense record(s).", resp.Summary)
	})
}

func TestCommandUseCase_Stats(t *testing.T) {
	r := new(MockRouter)
	r.On("Decisions", 5).Return([]domain.RoutingDecision{{ID: "d1"}})
	r.On("Stats").Return(router.DecisionStats{Total: 1, Structured: 1})
	uc, _ := newUseCase(r, nil)

	stats := uc.RouterStats(5)
	assert.Len(t, stats.Decisions, 1)
	assert.Equal(t, 1, stats.Stats.Structured)

	_, err := uc.LimiterStats(context.Background())
	assert.Error(t, err)
}

func TestSummarizeWorkflow(t *testing.T) {
	res := &executor.Result{Steps: []executor.StepResult{
		{Index: 0, Operation: domain.OperationAggregate, Entity: "session", Status: executor.StepSucceeded,
			Aggregate: &domain.AggregateResult{Count: 2, Aggregations: []domain.AggregationResult{
				{Function: domain.AggregateSum, Field: "totalAmount", Result: domain.Number(250)},
			}}},
		{Index: 1, Operation: domain.OperationAggregate, Entity: "expense", Status: executor.StepSucceeded,
			Aggregate: &domain.AggregateResult{Aggregations: []domain.AggregationResult{
				{Function: domain.AggregateCount, Field: "id", Result: domain.Number(0)},
				{Function: domain.AggregateAvg, Field: "amount", Result: domain.Null()},
			}}},
		{Index: 2, Operation: domain.OperationUpdate, Entity: "session", Status: executor.StepFailed,
			Error: domain.NewCommandError(domain.KindNotFound, "no session matched", nil)},
		{Index: 3, Operation: domain.OperationSearch, Entity: "client", Status: executor.StepSkipped},
	}}

	assert.Equal(t,
		"sum(totalAmount) over 2 session record(s): 250. "+
			"aggregate over 0 expense record(s): count(id) = 0, avg(amount) = null. "+
			"Step 3 failed: no session matched. Step 4 was skipped.",
		SummarizeWorkflow(compiler.LocaleEN, res))
	assert.Equal(t, "Nothing was done.", SummarizeWorkflow(compiler.LocaleEN, nil))
	assert.Equal(t, "未执行任何操作。", SummarizeWorkflow(compiler.LocaleZH, &executor.Result{}))
}

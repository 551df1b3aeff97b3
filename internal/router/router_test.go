package router

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

type MockCompiler struct {
	mock.Mock
}

func (m *MockCompiler) Compile(ctx context.Context, text string, cctx compiler.Context) (*domain.Workflow, error) {
	args := m.Called(ctx, text, cctx)
	wf, _ := args.Get(0).(*domain.Workflow)
	return wf, args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, text string, cctx compiler.Context) (*dynamic.Plan, error) {
	args := m.Called(ctx, text, cctx)
	p, _ := args.Get(0).(*dynamic.Plan)
	return p, args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, d domain.RoutingDecision) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

var alice = domain.Actor{ID: "alice", Role: domain.RoleUser}

type fixture struct {
	router    *Router
	compiler  *MockCompiler
	generator *MockGenerator
	store     *persistence.MemoryDocumentStore
}

func newFixture(t *testing.T, cfg Config, recorder DecisionRecorder) *fixture {
	t.Helper()
	store := persistence.NewMemoryDocumentStore()
	registry := domain.DefaultRegistry()
	exec := executor.New(store, registry, executor.Config{}, logger.NewNoop())
	f := &fixture{compiler: new(MockCompiler), generator: new(MockGenerator), store: store}
	f.router = New(cfg, Deps{
		Compiler:  f.compiler,
		Executor:  exec,
		Generator: f.generator,
		Runner:    dynamic.NewRunner(exec, nil, logger.NewNoop()),
		Registry:  registry,
		Recorder:  recorder,
		Logger:    logger.NewNoop(),
	})
	return f
}

func enabled() Config {
	return Config{Enabled: true, MaxAggregations: 2, MaxConditions: 3, DynamicScoreDirect: 3, DecisionLogSize: 10}
}

func workflow(t *testing.T, raw string) *domain.Workflow {
	t.Helper()
	var wf domain.Workflow
	require.NoError(t, json.Unmarshal([]byte(raw), &wf))
	return &wf
}

var countPlan = &dynamic.Plan{Operations: []domain.QueryOperation{{
	Type:         domain.QueryTypeAggregate,
	Collection:   "sessions",
	GroupBy:      []string{"clientId"},
	Aggregations: []domain.Aggregation{{Function: domain.AggregateCount, Field: "id"}},
}}}

func TestScore(t *testing.T) {
	tests := []struct {
		text           string
		wantDynamicMin int
		wantStructMin  int
		favoursDynamic bool
	}{
		{text: "revenue per client grouped by month", wantDynamicMin: 5, favoursDynamic: true},
		{text: "top 5 clients by revenue", wantDynamicMin: 3, favoursDynamic: true},
		{text: "每个客户的平均课时", wantDynamicMin: 4, favoursDynamic: true},
		{text: "收入前5名的客户", wantDynamicMin: 3, favoursDynamic: true},
		{text: "create session for Nova today 10:00-12:00", wantStructMin: 2},
		{text: "delete yesterday's expenses", wantStructMin: 2},
		{text: "total for Alex this month", wantStructMin: 1},
		{text: "删除昨天的支出", wantStructMin: 2},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			dyn, structured := Score(tt.text)
			assert.GreaterOrEqual(t, dyn, tt.wantDynamicMin)
			assert.GreaterOrEqual(t, structured, tt.wantStructMin)
			assert.Equal(t, tt.favoursDynamic, dyn >= 3 && dyn > structured)
		})
	}
}

func TestRoute_StrongDynamicSkipsCompiler(t *testing.T) {
	f := newFixture(t, enabled(), nil)
	f.generator.On("Generate", mock.Anything, "sessions per client grouped by status", mock.Anything).Return(countPlan, nil)

	out, err := f.router.Route(context.Background(), Request{Actor: alice, Text: "sessions per client grouped by status"})
	require.NoError(t, err)

	assert.Equal(t, domain.PathDynamic, out.Decision.Path)
	assert.False(t, out.Decision.Fallback)
	assert.True(t, out.Decision.Success)
	require.NotNil(t, out.Dynamic)
	f.compiler.AssertNotCalled(t, "Compile", mock.Anything, mock.Anything, mock.Anything)
}

func TestRoute_StructuredRuns(t *testing.T) {
	f := newFixture(t, enabled(), nil)
	f.compiler.On("Compile", mock.Anything, "add client Kai", mock.Anything).
		Return(workflow(t, `{"commands":[{"operation":"create","entity":"client","data":{"name":"Kai"}}]}`), nil)

	out, err := f.router.Route(context.Background(), Request{Actor: alice, Text: "add client Kai"})
	require.NoError(t, err)

	assert.Equal(t, domain.PathStructured, out.Decision.Path)
	require.NotNil(t, out.Structured)
	assert.True(t, out.Structured.Success)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRoute_FallsBack(t *testing.T) {
	tests := []struct {
		name       string
		workflow   string
		wantReason string
	}{
		{
			name:       "validation failure",
			workflow:   `{"commands":[{"operation":"aggregate","entity":"session"}]}`,
			wantReason: "validation failed: command 0: aggregate requires at least one aggregation",
		},
		{
			name: "too many aggregations",
			workflow: `{"commands":[{"operation":"aggregate","entity":"session","aggregations":[
				{"function":"sum","field":"totalAmount"},{"function":"avg","field":"totalAmount"},{"function":"max","field":"totalAmount"}]}]}`,
			wantReason: "command 0 has 3 aggregations (max 2)",
		},
		{
			name: "too many conditions",
			workflow: `{"commands":[{"operation":"search","entity":"session","conditions":{
				"clientName":"Alex","billingStatus":"billed","startDate":"2024-03-01","endDate":"2024-03-31"}}]}`,
			wantReason: "command 0 has 4 conditions (max 3)",
		},
		{
			name:       "range with sort",
			workflow:   `{"commands":[{"operation":"search","entity":"expense","conditions":{"startDate":"2024-03-01","orderBy":"amount desc"}}]}`,
			wantReason: "command 0 combines a date range with a sort",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, enabled(), nil)
			f.compiler.On("Compile", mock.Anything, "show me things", mock.Anything).Return(workflow(t, tt.workflow), nil)
			f.generator.On("Generate", mock.Anything, "show me things", mock.Anything).Return(countPlan, nil)

			out, err := f.router.Route(context.Background(), Request{Actor: alice, Text: "show me things"})
			require.NoError(t, err)

			assert.Equal(t, domain.PathDynamic, out.Decision.Path)
			assert.True(t, out.Decision.Fallback)
			assert.Equal(t, tt.wantReason, out.Decision.Reason)
			assert.Nil(t, out.Structured)
			assert.NotNil(t, out.Dynamic)
		})
	}
}

func TestRoute_DisabledNeverUsesDynamic(t *testing.T) {
	cfg := enabled()
	cfg.Enabled = false
	f := newFixture(t, cfg, nil)
	f.compiler.On("Compile", mock.Anything, mock.Anything, mock.Anything).
		Return(workflow(t, `{"commands":[{"operation":"aggregate","entity":"session"}]}`), nil)

	out, err := f.router.Route(context.Background(), Request{Actor: alice, Text: "average per client grouped by month"})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, domain.PathStructured, out.Decision.Path)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRoute_CompileFailureDoesNotFallBack(t *testing.T) {
	f := newFixture(t, enabled(), nil)
	f.compiler.On("Compile", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.NewCommandError(domain.KindCompile, "the request could not be understood", nil))

	out, err := f.router.Route(context.Background(), Request{Actor: alice, Text: "blorp"})
	assert.True(t, domain.IsKind(err, domain.KindCompile))
	assert.False(t, out.Decision.Success)
	assert.NotEmpty(t, out.Decision.Error)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)

	recent := f.router.Decisions(1)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Success)
}

func TestRoute_ConfirmationGate(t *testing.T) {
	f := newFixture(t, enabled(), nil)
	id, err := f.store.Add(context.Background(), "expenses", domain.Fields{"amount": 5.0, "date": "2024-03-19", "userId": "alice"})
	require.NoError(t, err)

	wf := workflow(t, `{"requiresConfirmation":true,"commands":[{"operation":"delete","entity":"expense","conditions":{"date":"2024-03-19"}}]}`)
	f.compiler.On("Compile", mock.Anything, mock.Anything, mock.Anything).Return(wf, nil)

	out, err := f.router.Route(context.Background(), Request{Actor: alice, Text: "delete yesterday's expenses"})
	require.NoError(t, err)
	assert.True(t, out.ConfirmationRequired)
	assert.Nil(t, out.Structured)
	_, err = f.store.Get(context.Background(), "expenses", id)
	require.NoError(t, err)

	out, err = f.router.Route(context.Background(), Request{Actor: alice, Text: "delete yesterday's expenses", Confirmed: true})
	require.NoError(t, err)
	assert.False(t, out.ConfirmationRequired)
	_, err = f.store.Get(context.Background(), "expenses", id)
	assert.True(t, errors.Is(err, ports.ErrDocumentNotFound))
}

func TestRoute_RecordsDecisions(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("Record", mock.Anything, mock.MatchedBy(func(d domain.RoutingDecision) bool {
		return d.Path == domain.PathStructured && d.ActorID == "alice" && d.ID != ""
	})).Return(errors.New("database unavailable")).Once()

	f := newFixture(t, enabled(), recorder)
	f.compiler.On("Compile", mock.Anything, mock.Anything, mock.Anything).
		Return(workflow(t, `{"commands":[{"operation":"search","entity":"client"}]}`), nil)

	_, err := f.router.Route(context.Background(), Request{Actor: alice, Text: "list clients"})
	require.NoError(t, err)
	recorder.AssertExpectations(t)
}

func TestDecisionLog(t *testing.T) {
	log := NewDecisionLog(2)
	log.Add(domain.RoutingDecision{ID: "1", Path: domain.PathStructured, Success: true})
	log.Add(domain.RoutingDecision{ID: "2", Path: domain.PathDynamic, Fallback: true, Success: true})
	log.Add(domain.RoutingDecision{ID: "3", Path: domain.PathDynamic, Success: false})

	recent := log.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
	assert.Equal(t, "2", recent[1].ID)
	assert.Len(t, log.Recent(1), 1)

	assert.Equal(t, DecisionStats{Total: 2, Dynamic: 2, Fallbacks: 1, Failures: 1}, log.Stats())
}

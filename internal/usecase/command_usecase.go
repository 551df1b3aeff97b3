package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/compiler"
	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/executor"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
	"github.com/Borui-Eduation/student-records-sub000/internal/ratelimit"
	"github.com/Borui-Eduation/student-records-sub000/internal/router"
	"github.com/Borui-Eduation/student-records-sub000/internal/validator"
)

// CommandRouter routes and runs operator input
type CommandRouter interface {
	Route(ctx context.Context, req router.Request) (*router.Outcome, error)
	Decisions(limit int) []domain.RoutingDecision
	Stats() router.DecisionStats
}

// LimiterStats reports model call limiter state
type LimiterStats interface {
	Stats(ctx context.Context) (ratelimit.Stats, error)
}

// CommandRequest represents one natural-language command
type CommandRequest struct {
	Text      string `json:"text"`
	Locale    string `json:"locale"`
	Timezone  string `json:"timezone"`
	Currency  string `json:"currency"`
	Priority  string `json:"priority"`
	Confirmed bool   `json:"confirmed"`
}

// CommandResponse is the routed outcome plus a human summary
type CommandResponse struct {
	*router.Outcome
	Summary string `json:"summary"`
}

// CompileResponse is a compiled but unexecuted workflow
type CompileResponse struct {
	Workflow   *domain.Workflow `json:"workflow"`
	Validation validator.Result `json:"validation"`
}

// ExecuteRequest runs a workflow the operator already reviewed
type ExecuteRequest struct {
	Workflow  *domain.Workflow `json:"workflow"`
	Locale    string           `json:"locale"`
	Confirmed bool             `json:"confirmed"`
}

// ExecuteResponse is the result of an explicit workflow execution
type ExecuteResponse struct {
	Validation validator.Result `json:"validation"`
	Result     *executor.Result `json:"result,omitempty"`
	Summary    string           `json:"summary"`
}

// RouterStatsResponse bundles decision history and counters
type RouterStatsResponse struct {
	Decisions []domain.RoutingDecision `json:"decisions"`
	Stats     router.DecisionStats     `json:"stats"`
}

// CommandUseCase handles natural-language command business logic
type CommandUseCase struct {
	router   CommandRouter
	compiler router.WorkflowCompiler
	executor router.WorkflowExecutor
	registry *domain.Registry
	limiter  LimiterStats
	logger   logger.Logger
	now      func() time.Time
}

// NewCommandUseCase creates a new command use case
func NewCommandUseCase(
	r CommandRouter,
	c router.WorkflowCompiler,
	e router.WorkflowExecutor,
	registry *domain.Registry,
	limiter LimiterStats,
	log logger.Logger,
) *CommandUseCase {
	if log == nil {
		log = logger.NewNoop()
	}
	return &CommandUseCase{
		router:   r,
		compiler: c,
		executor: e,
		registry: registry,
		limiter:  limiter,
		logger:   log.WithFields(map[string]interface{}{"component": "command_usecase"}),
		now:      time.Now,
	}
}

func (uc *CommandUseCase) compileContext(req CommandRequest) compiler.Context {
	return compiler.Context{
		Locale:   req.Locale,
		Timezone: req.Timezone,
		Currency: req.Currency,
	}.Normalize(uc.now())
}

// Run routes req for actor, executes it and summarizes the outcome
func (uc *CommandUseCase) Run(ctx context.Context, actor domain.Actor, req CommandRequest) (*CommandResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, domain.NewCommandError(domain.KindValidation, "text is required", nil)
	}
	cctx := uc.compileContext(req)
	ctx = ratelimit.WithPriority(ctx, ratelimit.ParsePriority(req.Priority))

	out, err := uc.router.Route(ctx, router.Request{
		Actor:     actor,
		Text:      text,
		Context:   cctx,
		Confirmed: req.Confirmed,
	})
	if err != nil {
		uc.logger.Warn(ctx, "Command failed", map[string]interface{}{
			"actor_id": actor.ID,
			"kind":     string(domain.KindOf(err)),
		})
		return nil, err
	}

	resp := &CommandResponse{Outcome: out}
	switch {
	case out.ConfirmationRequired:
		resp.Summary = SummarizeConfirmation(cctx.Locale)
	case out.Dynamic != nil:
		resp.Summary = SummarizePlan(cctx.Locale, out.Dynamic)
	default:
		resp.Summary = SummarizeWorkflow(cctx.Locale, out.Structured)
	}
	return resp, nil
}

// Compile turns req into a validated workflow without running it
func (uc *CommandUseCase) Compile(ctx context.Context, req CommandRequest) (*CompileResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, domain.NewCommandError(domain.KindValidation, "text is required", nil)
	}
	ctx = ratelimit.WithPriority(ctx, ratelimit.ParsePriority(req.Priority))

	wf, err := uc.compiler.Compile(ctx, text, uc.compileContext(req))
	if err != nil {
		return nil, err
	}
	return &CompileResponse{Workflow: wf, Validation: validator.Validate(wf, uc.registry)}, nil
}

// Execute runs a reviewed workflow for actor. Invalid workflows are refused
// and destructive ones need req.Confirmed.
func (uc *CommandUseCase) Execute(ctx context.Context, actor domain.Actor, req ExecuteRequest) (*ExecuteResponse, error) {
	if req.Workflow == nil {
		return nil, domain.NewCommandError(domain.KindValidation, "workflow is required", nil)
	}
	locale := compiler.Context{Locale: req.Locale}.Normalize(uc.now()).Locale

	res := validator.Validate(req.Workflow, uc.registry)
	if !res.Valid {
		return nil, res.Err()
	}
	if (req.Workflow.RequiresConfirmation || req.Workflow.HasDestructive()) && !req.Confirmed {
		return nil, domain.NewCommandError(domain.KindConfirmationNeed, SummarizeConfirmation(locale), nil)
	}

	result, err := uc.executor.Execute(ctx, actor, req.Workflow)
	if err != nil {
		return nil, err
	}
	return &ExecuteResponse{Validation: res, Result: result, Summary: SummarizeWorkflow(locale, result)}, nil
}

// RouterStats returns recent routing decisions and counters
func (uc *CommandUseCase) RouterStats(limit int) RouterStatsResponse {
	return RouterStatsResponse{Decisions: uc.router.Decisions(limit), Stats: uc.router.Stats()}
}

// LimiterStats returns the model call limiter state
func (uc *CommandUseCase) LimiterStats(ctx context.Context) (ratelimit.Stats, error) {
	if uc.limiter == nil {
		return ratelimit.Stats{}, domain.NewCommandError(domain.KindValidation, "rate limiter is not configured", nil)
	}
	return uc.limiter.Stats(ctx)
}

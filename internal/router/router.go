// Package router chooses between the structured workflow path and the
// dynamic query path for operator input.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Borui-Eduation/student-records-sub000/internal/compiler"
	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/dynamic"
	"github.com/Borui-Eduation/student-records-sub000/internal/executor"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
	"github.com/Borui-Eduation/student-records-sub000/internal/validator"
)

// WorkflowCompiler turns text into a workflow
type WorkflowCompiler interface {
	Compile(ctx context.Context, text string, cctx compiler.Context) (*domain.Workflow, error)
}

// WorkflowExecutor runs a workflow as an actor
type WorkflowExecutor interface {
	Execute(ctx context.Context, actor domain.Actor, wf *domain.Workflow) (*executor.Result, error)
}

// PlanGenerator turns text into a dynamic query plan
type PlanGenerator interface {
	Generate(ctx context.Context, text string, cctx compiler.Context) (*dynamic.Plan, error)
}

// PlanRunner runs a dynamic query plan as an actor
type PlanRunner interface {
	Run(ctx context.Context, actor domain.Actor, plan *dynamic.Plan) (*dynamic.Result, error)
}

// DecisionRecorder persists routing decisions
type DecisionRecorder interface {
	Record(ctx context.Context, d domain.RoutingDecision) error
}

// Config holds the heuristic and complexity thresholds
type Config struct {
	// Enabled turns on the dynamic path. When false every input is structured.
	Enabled            bool
	MaxAggregations    int
	MaxConditions      int
	DynamicScoreDirect int
	DecisionLogSize    int
}

// Deps are the collaborators of the router
type Deps struct {
	Compiler  WorkflowCompiler
	Executor  WorkflowExecutor
	Generator PlanGenerator
	Runner    PlanRunner
	Registry  *domain.Registry
	Recorder  DecisionRecorder
	Logger    logger.Logger
}

// Request is one routed input
type Request struct {
	Actor   domain.Actor
	Text    string
	Context compiler.Context
	// Confirmed allows workflows that require confirmation to run.
	Confirmed bool
}

// Outcome is the result of routing and running one input
type Outcome struct {
	Decision             domain.RoutingDecision `json:"decision"`
	Workflow             *domain.Workflow       `json:"workflow,omitempty"`
	Validation           *validator.Result      `json:"validation,omitempty"`
	Structured           *executor.Result       `json:"structured,omitempty"`
	Plan                 *dynamic.Plan          `json:"plan,omitempty"`
	Dynamic              *dynamic.Result        `json:"dynamic,omitempty"`
	ConfirmationRequired bool                   `json:"confirmationRequired"`
}

// Router arbitrates between the structured and dynamic paths
type Router struct {
	cfg  Config
	deps Deps
	log  *DecisionLog
	now  func() time.Time
}

// New creates a router
func New(cfg Config, deps Deps) *Router {
	if cfg.MaxAggregations <= 0 {
		cfg.MaxAggregations = 2
	}
	if cfg.MaxConditions <= 0 {
		cfg.MaxConditions = 3
	}
	if cfg.DynamicScoreDirect <= 0 {
		cfg.DynamicScoreDirect = 3
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoop()
	}
	deps.Logger = deps.Logger.WithFields(map[string]interface{}{"component": "router"})
	return &Router{cfg: cfg, deps: deps, log: NewDecisionLog(cfg.DecisionLogSize), now: time.Now}
}

// Decisions returns up to limit recent decisions, newest first
func (r *Router) Decisions(limit int) []domain.RoutingDecision {
	return r.log.Recent(limit)
}

// Stats returns counters over the retained decisions
func (r *Router) Stats() DecisionStats {
	return r.log.Stats()
}

// Route picks a path for req, runs it and records the decision
func (r *Router) Route(ctx context.Context, req Request) (*Outcome, error) {
	start := r.now()
	dyn, structured := Score(req.Text)
	out := &Outcome{Decision: domain.RoutingDecision{
		ID:              uuid.NewString(),
		ActorID:         req.Actor.ID,
		Input:           req.Text,
		StructuredScore: structured,
		DynamicScore:    dyn,
		CreatedAt:       start.UTC(),
	}}

	err := r.route(ctx, req, out)

	out.Decision.Success = err == nil
	if err != nil {
		out.Decision.Error = err.Error()
	}
	out.Decision.DurationMs = r.now().Sub(start).Milliseconds()
	r.record(ctx, out.Decision)
	return out, err
}

func (r *Router) route(ctx context.Context, req Request, out *Outcome) error {
	d := &out.Decision
	if r.cfg.Enabled && d.DynamicScore >= r.cfg.DynamicScoreDirect && d.DynamicScore > d.StructuredScore {
		d.Path = domain.PathDynamic
		d.Reason = fmt.Sprintf("keyword heuristic favors dynamic (%d vs %d)", d.DynamicScore, d.StructuredScore)
		return r.runDynamic(ctx, req, out)
	}

	d.Path = domain.PathStructured
	d.Reason = "structured first"
	wf, err := r.deps.Compiler.Compile(ctx, req.Text, req.Context)
	if err != nil {
		return err
	}
	out.Workflow = wf

	res := validator.Validate(wf, r.deps.Registry)
	out.Validation = &res
	if !res.Valid {
		if !r.cfg.Enabled {
			return res.Err()
		}
		return r.fallback(ctx, req, out, "validation failed: "+joinFirst(res.Errors))
	}
	if reason, exceeded := r.ExceedsComplexity(wf); exceeded {
		if r.cfg.Enabled {
			return r.fallback(ctx, req, out, reason)
		}
		d.Reason = "structured only; " + reason
	}

	if wf.RequiresConfirmation && !req.Confirmed {
		out.ConfirmationRequired = true
		d.Reason = "awaiting confirmation"
		return nil
	}

	result, err := r.deps.Executor.Execute(ctx, req.Actor, wf)
	out.Structured = result
	return err
}

func (r *Router) fallback(ctx context.Context, req Request, out *Outcome, reason string) error {
	out.Decision.Path = domain.PathDynamic
	out.Decision.Fallback = true
	out.Decision.Reason = reason
	return r.runDynamic(ctx, req, out)
}

func (r *Router) runDynamic(ctx context.Context, req Request, out *Outcome) error {
	if r.deps.Generator == nil || r.deps.Runner == nil {
		return domain.NewCommandError(domain.KindValidation, "this request needs the analytical query path, which is disabled", nil)
	}
	plan, err := r.deps.Generator.Generate(ctx, req.Text, req.Context)
	if err != nil {
		return err
	}
	out.Plan = plan
	result, err := r.deps.Runner.Run(ctx, req.Actor, plan)
	out.Dynamic = result
	return err
}

// ExceedsComplexity reports whether a workflow has a shape the structured
// path handles poorly
func (r *Router) ExceedsComplexity(wf *domain.Workflow) (string, bool) {
	for i, cmd := range wf.Commands {
		if n := len(cmd.Aggregations); n > r.cfg.MaxAggregations {
			return fmt.Sprintf("command %d has %d aggregations (max %d)", i, n, r.cfg.MaxAggregations), true
		}
		if n := cmd.Conditions.Count(); n > r.cfg.MaxConditions {
			return fmt.Sprintf("command %d has %d conditions (max %d)", i, n, r.cfg.MaxConditions), true
		}
		if cmd.Conditions != nil && !cmd.Conditions.Range.IsZero() {
			if _, _, ok := cmd.Conditions.OrderBy(); ok {
				return fmt.Sprintf("command %d combines a date range with a sort", i), true
			}
		}
		if len(cmd.Conditions.GroupBy()) > 0 {
			return fmt.Sprintf("command %d groups results", i), true
		}
	}
	return "", false
}

func (r *Router) record(ctx context.Context, d domain.RoutingDecision) {
	r.log.Add(d)
	logger.LogRoutingDecision(ctx, r.deps.Logger, string(d.Path), d.Reason, d.Success, map[string]interface{}{
		"decision_id":      d.ID,
		"actor_id":         d.ActorID,
		"fallback":         d.Fallback,
		"dynamic_score":    d.DynamicScore,
		"structured_score": d.StructuredScore,
		"duration_ms":      d.DurationMs,
	})
	if r.deps.Recorder == nil {
		return
	}
	// detached so a cancelled request is still recorded
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.deps.Recorder.Record(recordCtx, d); err != nil && !errors.Is(err, context.Canceled) {
		r.deps.Logger.Error(ctx, "Failed to persist routing decision", err, map[string]interface{}{"decision_id": d.ID})
	}
}

func joinFirst(errs []string) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf("%s (and %d more)", errs[0], len(errs)-1)
}

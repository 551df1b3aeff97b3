package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

// AmbiguityPolicy decides what happens when a name matches several records
type AmbiguityPolicy string

const (
	// FirstMatch resolves to the earliest matching record
	FirstMatch AmbiguityPolicy = "first"
	// ErrorOnAmbiguity fails resolution with a ResolutionFailure
	ErrorOnAmbiguity AmbiguityPolicy = "error"
)

const (
	fieldCreatedAt   = "createdAt"
	fieldUpdatedAt   = "updatedAt"
	fieldAutoCreated = "autoCreated"
	fieldSource      = "source"
	sourceSystem     = "system"
)

// Config controls resolution behavior
type Config struct {
	AmbiguityPolicy AmbiguityPolicy
	// ScanLimit bounds the case-insensitive fallback scan.
	ScanLimit int
}

// StepStatus is the outcome of one command
type StepStatus string

const (
	StepSucceeded StepStatus = "success"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// AutoCreated describes a stub record created during resolution
type AutoCreated struct {
	Entity domain.EntityType `json:"entity"`
	Name   string            `json:"name"`
	ID     string            `json:"id"`
}

// StepResult is the outcome of one command of a workflow
type StepResult struct {
	Index       int                     `json:"index"`
	Operation   domain.Operation        `json:"operation"`
	Entity      domain.EntityType       `json:"entity"`
	Status      StepStatus              `json:"status"`
	ID          string                  `json:"id,omitempty"`
	Records     []domain.Fields         `json:"records,omitempty"`
	Count       int                     `json:"count"`
	AffectedIDs []string                `json:"affectedIds,omitempty"`
	Aggregate   *domain.AggregateResult `json:"aggregate,omitempty"`
	AutoCreated []AutoCreated           `json:"autoCreated,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	Error       *domain.CommandError    `json:"error,omitempty"`
}

// Result is the outcome of a workflow execution
type Result struct {
	Steps   []StepResult           `json:"steps"`
	Success bool                   `json:"success"`
	Aborted bool                   `json:"aborted"`
	Errors  []*domain.CommandError `json:"errors,omitempty"`
}

// Executor runs validated workflows against a document store
type Executor struct {
	store    ports.DocumentStore
	registry *domain.Registry
	cfg      Config
	logger   logger.Logger
	now      func() time.Time
}

// New creates an executor
func New(store ports.DocumentStore, registry *domain.Registry, cfg Config, log logger.Logger) *Executor {
	if cfg.AmbiguityPolicy == "" {
		cfg.AmbiguityPolicy = FirstMatch
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 500
	}
	if log == nil {
		log = logger.NewNoop()
	}
	return &Executor{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "executor"}),
		now:      time.Now,
	}
}

// Registry returns the entity registry the executor resolves against
func (e *Executor) Registry() *domain.Registry {
	return e.registry
}

// Store returns the underlying document store
func (e *Executor) Store() ports.DocumentStore {
	return e.store
}

// Execute runs the commands of wf in order as actor. A failing dependency
// command aborts the rest of the workflow and is returned as the error; other
// failures are recorded in the result.
func (e *Executor) Execute(ctx context.Context, actor domain.Actor, wf *domain.Workflow) (*Result, error) {
	if wf == nil || len(wf.Commands) == 0 {
		return nil, domain.ErrValidation("the workflow has no commands")
	}
	start := e.now()

	r := newRun(e, actor)
	result := &Result{Steps: make([]StepResult, 0, len(wf.Commands)), Success: true}

	var abortErr *domain.CommandError
	for i, cmd := range wf.Commands {
		if abortErr != nil {
			result.Steps = append(result.Steps, StepResult{
				Index: i, Operation: cmd.Operation, Entity: cmd.Entity, Status: StepSkipped,
			})
			continue
		}

		step := StepResult{Index: i, Operation: cmd.Operation, Entity: cmd.Entity}
		err := r.execute(ctx, cmd, &step)
		if err == nil {
			step.Status = StepSucceeded
			result.Steps = append(result.Steps, step)
			continue
		}

		ce := toCommandError(err).AtIndex(i)
		step.Status = StepFailed
		step.Error = ce
		result.Steps = append(result.Steps, step)
		result.Errors = append(result.Errors, ce)
		result.Success = false

		e.logger.Warn(ctx, "Workflow step failed", map[string]interface{}{
			"index":     i,
			"operation": string(cmd.Operation),
			"entity":    string(cmd.Entity),
			"kind":      string(ce.Kind),
			"actor_id":  actor.ID,
		})
		if cmd.IsDependency() {
			abortErr = ce
			result.Aborted = true
		}
	}

	logger.LogPerformance(ctx, e.logger, "execute_workflow", e.now().Sub(start), map[string]interface{}{
		"commands": len(wf.Commands),
		"success":  result.Success,
		"aborted":  result.Aborted,
		"actor_id": actor.ID,
	})

	if abortErr != nil {
		return result, abortErr
	}
	return result, nil
}

func (r *run) execute(ctx context.Context, cmd domain.Command, step *StepResult) error {
	schema, ok := r.ex.registry.Lookup(cmd.Entity)
	if !ok {
		return domain.ErrValidation(fmt.Sprintf("unknown entity %q", cmd.Entity))
	}
	r.step = step
	defer func() { r.step = nil }()

	switch cmd.Operation {
	case domain.OperationSearch, domain.OperationRead:
		return r.searchStep(ctx, schema, cmd, step)
	case domain.OperationCreate:
		return r.createStep(ctx, schema, cmd, step)
	case domain.OperationUpdate:
		return r.updateStep(ctx, schema, cmd, step)
	case domain.OperationDelete:
		return r.deleteStep(ctx, schema, cmd, step)
	case domain.OperationAggregate:
		return r.aggregateStep(ctx, schema, cmd, step)
	}
	return domain.ErrValidation(fmt.Sprintf("unsupported operation %q", cmd.Operation))
}

func (r *run) searchStep(ctx context.Context, schema *domain.EntitySchema, cmd domain.Command, step *StepResult) error {
	docs, err := r.search(ctx, schema, cmd.Conditions)
	if err != nil {
		return err
	}
	step.Records = SerializeDocuments(docs)
	step.Count = len(docs)
	return nil
}

func (r *run) aggregateStep(ctx context.Context, schema *domain.EntitySchema, cmd domain.Command, step *StepResult) error {
	if len(cmd.Aggregations) == 0 {
		return domain.ErrValidation("aggregate requires at least one aggregation")
	}
	if len(cmd.Conditions.GroupBy()) > 0 {
		return domain.NewCommandError(domain.KindValidation,
			"grouping is not supported on this path", nil,
			"rephrase as a breakdown, for example \"revenue per client\"")
	}

	docs, err := r.search(ctx, schema, cmd.Conditions)
	if err != nil {
		return err
	}
	rows := SerializeDocuments(docs)
	agg := domain.Aggregate(rows, cmd.Aggregations)
	step.Aggregate = &agg
	step.Count = agg.Count
	return nil
}

// toCommandError maps store and unexpected errors to an ExecutionFailure
func toCommandError(err error) *domain.CommandError {
	var ce *domain.CommandError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCommandError(domain.KindTimeout, "service busy", err, "try again in a moment")
	}
	return domain.ErrExecution("the data store could not complete the request", err)
}

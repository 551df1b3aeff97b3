package domain

import "time"

// ExecutionPath identifies which pipeline handled an input
type ExecutionPath string

const (
	PathStructured ExecutionPath = "structured"
	PathDynamic    ExecutionPath = "dynamic"
)

// RoutingDecision records how the router handled one input
type RoutingDecision struct {
	ID              string        `json:"id"`
	ActorID         string        `json:"actorId"`
	Input           string        `json:"input"`
	Path            ExecutionPath `json:"path"`
	Reason          string        `json:"reason"`
	Fallback        bool          `json:"fallback"`
	StructuredScore int           `json:"structuredScore"`
	DynamicScore    int           `json:"dynamicScore"`
	Success         bool          `json:"success"`
	Error           string        `json:"error,omitempty"`
	DurationMs      int64         `json:"durationMs"`
	CreatedAt       time.Time     `json:"createdAt"`
}

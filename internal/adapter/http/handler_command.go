package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ratelimit"
	"github.com/Borui-Eduation/student-records-sub000/internal/usecase"
)

const maxBodyBytes = 1 << 20

// CommandUseCase defines the behavior the handler depends on
type CommandUseCase interface {
	Run(ctx context.Context, actor domain.Actor, req usecase.CommandRequest) (*usecase.CommandResponse, error)
	Compile(ctx context.Context, req usecase.CommandRequest) (*usecase.CompileResponse, error)
	Execute(ctx context.Context, actor domain.Actor, req usecase.ExecuteRequest) (*usecase.ExecuteResponse, error)
	RouterStats(limit int) usecase.RouterStatsResponse
	LimiterStats(ctx context.Context) (ratelimit.Stats, error)
}

// CommandHandler handles HTTP requests for natural-language commands
type CommandHandler struct {
	commandUseCase CommandUseCase
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(commandUseCase CommandUseCase) *CommandHandler {
	return &CommandHandler{commandUseCase: commandUseCase}
}

// RegisterRoutes registers command routes on the /api/v1 subrouter
func (h *CommandHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/commands", h.RunCommand).Methods("POST")
	router.HandleFunc("/commands/compile", h.CompileCommand).Methods("POST")
	router.HandleFunc("/workflows/execute", h.ExecuteWorkflow).Methods("POST")
	router.HandleFunc("/router/decisions", h.GetDecisions).Methods("GET")
	router.HandleFunc("/ratelimit/stats", h.GetLimiterStats).Methods("GET")
}

// RunCommand routes, executes and summarizes one command
func (h *CommandHandler) RunCommand(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeErrorResponse(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	var req usecase.CommandRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	response, err := h.commandUseCase.Run(r.Context(), actor, req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	status, message := http.StatusOK, "Command executed"
	if response.ConfirmationRequired {
		status, message = http.StatusAccepted, "Confirmation required"
	} else if response.Structured != nil && !response.Structured.Success {
		message = "Command completed with errors"
	}
	writeSuccessResponse(w, status, message, response)
}

// CompileCommand compiles and validates a command without running it
func (h *CommandHandler) CompileCommand(w http.ResponseWriter, r *http.Request) {
	var req usecase.CommandRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	response, err := h.commandUseCase.Compile(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Command compiled", response)
}

// ExecuteWorkflow runs a reviewed workflow
func (h *CommandHandler) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeErrorResponse(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	var req usecase.ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	response, err := h.commandUseCase.Execute(r.Context(), actor, req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Workflow executed", response)
}

// GetDecisions returns recent routing decisions. Only elevated actors see them.
func (h *CommandHandler) GetDecisions(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok || !actor.IsElevated() {
		writeErrorResponse(w, http.StatusForbidden, "PERMISSION_DENIED", "Routing decisions require an admin role")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}
	writeSuccessResponse(w, http.StatusOK, "Routing decisions retrieved", h.commandUseCase.RouterStats(limit))
}

// GetLimiterStats returns the model call limiter state. Only elevated actors see it.
func (h *CommandHandler) GetLimiterStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok || !actor.IsElevated() {
		writeErrorResponse(w, http.StatusForbidden, "PERMISSION_DENIED", "Limiter stats require an admin role")
		return
	}

	stats, err := h.commandUseCase.LimiterStats(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Rate limiter stats retrieved", stats)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

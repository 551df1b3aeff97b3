package validator

import (
	"fmt"
	"strings"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

// Result is the outcome of validating a workflow
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Err returns a ValidationFailure listing every error, or nil when valid
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return domain.NewCommandError(domain.KindValidation,
		"the command could not be validated: "+strings.Join(r.Errors, "; "), nil,
		"rephrase the request with the record type and the fields to change")
}

// Validate checks a compiled workflow structurally before execution.
// Missing conditions on update or delete are warnings, everything else is an error.
func Validate(wf *domain.Workflow, registry *domain.Registry) Result {
	var res Result
	if wf == nil || len(wf.Commands) == 0 {
		res.Errors = append(res.Errors, "workflow has no commands")
		return res
	}

	for i, cmd := range wf.Commands {
		errs, warns := validateCommand(cmd, registry)
		for _, e := range errs {
			res.Errors = append(res.Errors, fmt.Sprintf("command %d: %s", i, e))
		}
		for _, w := range warns {
			res.Warnings = append(res.Warnings, fmt.Sprintf("command %d: %s", i, w))
		}
	}

	if wf.HasDestructive() && !wf.RequiresConfirmation {
		res.Warnings = append(res.Warnings, "workflow deletes records but does not ask for confirmation")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func validateCommand(cmd domain.Command, registry *domain.Registry) (errs, warns []string) {
	if !cmd.Operation.IsValid() {
		errs = append(errs, fmt.Sprintf("operation %q is not allowed", cmd.Operation))
	}

	schema, ok := registry.Lookup(cmd.Entity)
	if !ok {
		errs = append(errs, fmt.Sprintf("entity %q is not allowed", cmd.Entity))
	}

	switch cmd.Operation {
	case domain.OperationCreate, domain.OperationUpdate:
		if len(cmd.Data) == 0 {
			errs = append(errs, fmt.Sprintf("%s requires data", cmd.Operation))
		}
	}

	switch cmd.Operation {
	case domain.OperationUpdate, domain.OperationDelete:
		if cmd.Conditions.IsEmpty() {
			warns = append(warns, fmt.Sprintf("%s has no conditions and will be refused", cmd.Operation))
		}
	}

	if cmd.Operation == domain.OperationAggregate {
		if len(cmd.Aggregations) == 0 {
			errs = append(errs, "aggregate requires at least one aggregation")
		}
		for _, agg := range cmd.Aggregations {
			if !agg.Function.IsValid() {
				errs = append(errs, fmt.Sprintf("aggregation function %q is not supported", agg.Function))
			}
			if agg.Field == "" {
				errs = append(errs, fmt.Sprintf("aggregation %s requires a field", agg.Function))
			} else if !domain.IsFieldName(agg.Field) {
				errs = append(errs, fmt.Sprintf("aggregation field %q is not a valid field name", agg.Field))
			}
		}
		if len(cmd.Conditions.GroupBy()) > 0 {
			errs = append(errs, "aggregate does not support groupBy")
		}
	} else if len(cmd.Aggregations) > 0 {
		warns = append(warns, fmt.Sprintf("aggregations are ignored for %s", cmd.Operation))
	}

	if schema != nil {
		for _, k := range cmd.Data.Keys() {
			if k == registry.OwnerField || schema.HasField(k) {
				continue
			}
			if _, isRef := schema.Reference(k); isRef {
				continue
			}
			warns = append(warns, fmt.Sprintf("field %q is not declared for %s", k, schema.Type))
		}
		if cmd.Conditions != nil {
			for k := range cmd.Conditions.References {
				if _, isRef := schema.Reference(k); !isRef {
					warns = append(warns, fmt.Sprintf("%s is not a reference of %s and is matched as a plain field", k, schema.Type))
				}
			}
		}
	}
	return errs, warns
}

package executor

import (
	"context"
	"fmt"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

// targets resolves the records an update or delete applies to and checks ownership
func (r *run) targets(ctx context.Context, schema *domain.EntitySchema, cmd domain.Command) ([]ports.Document, error) {
	if cmd.Conditions.IsEmpty() {
		return nil, domain.NewCommandError(domain.KindValidation,
			fmt.Sprintf("%s %s needs conditions to select records", cmd.Operation, schema.Type), nil,
			fmt.Sprintf("say which %s to %s, for example by name or date", schema.Type, cmd.Operation))
	}

	docs, err := r.search(ctx, schema, cmd.Conditions)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, domain.ErrNotFound(schema.Type)
	}

	owner := r.ex.registry.OwnerField
	for _, d := range docs {
		if !r.actor.Owns(d.Data[owner]) {
			return nil, domain.ErrPermission(schema.Type)
		}
	}
	return docs, nil
}

func (r *run) updateStep(ctx context.Context, schema *domain.EntitySchema, cmd domain.Command, step *StepResult) error {
	if len(cmd.Data) == 0 {
		return domain.ErrValidation(fmt.Sprintf("update %s requires data", schema.Type))
	}
	docs, err := r.targets(ctx, schema, cmd)
	if err != nil {
		return err
	}

	patch := cmd.Data.Clone()
	delete(patch, "id")
	delete(patch, fieldCreatedAt)
	if !r.actor.IsElevated() {
		delete(patch, r.ex.registry.OwnerField)
	}
	if err := r.resolveDataReferences(ctx, schema, patch); err != nil {
		return err
	}
	patch[fieldUpdatedAt] = r.ex.now().UTC().Format(timestampLayout)

	mutations := make([]ports.Mutation, 0, len(docs))
	for _, d := range docs {
		docPatch := patch.Clone()
		merged := d.Data.Clone()
		for k, v := range patch {
			merged[k] = v
		}
		if err := deriveNumbers(merged, schema); err != nil {
			return err
		}
		for _, f := range derivedFields(schema) {
			if v, ok := merged[f]; ok {
				docPatch[f] = v
			}
		}
		mutations = append(mutations, ports.Mutation{
			Kind: ports.MutationUpdate, Collection: schema.Collection, ID: d.ID, Data: docPatch,
		})
		step.AffectedIDs = append(step.AffectedIDs, d.ID)
	}

	if err := r.ex.store.Batch(ctx, mutations); err != nil {
		return fmt.Errorf("failed to update %s: %w", schema.Type, err)
	}
	r.invalidate(schema.Type)
	if len(docs) > 1 {
		step.Warnings = append(step.Warnings, fmt.Sprintf("updated %d %s records", len(docs), schema.Type))
	}
	step.Count = len(docs)
	return nil
}

func (r *run) deleteStep(ctx context.Context, schema *domain.EntitySchema, cmd domain.Command, step *StepResult) error {
	docs, err := r.targets(ctx, schema, cmd)
	if err != nil {
		return err
	}

	now := r.ex.now().UTC().Format(timestampLayout)
	mutations := make([]ports.Mutation, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if schema.SoftDelete != "" {
			mutations = append(mutations, ports.Mutation{
				Kind:       ports.MutationUpdate,
				Collection: schema.Collection,
				ID:         d.ID,
				Data:       domain.Fields{schema.SoftDelete: false, fieldUpdatedAt: now},
			})
		} else {
			mutations = append(mutations, ports.Mutation{
				Kind: ports.MutationDelete, Collection: schema.Collection, ID: d.ID,
			})
		}
		ids = append(ids, d.ID)
	}

	if err := r.ex.store.Batch(ctx, mutations); err != nil {
		return fmt.Errorf("failed to delete %s: %w", schema.Type, err)
	}
	r.invalidate(schema.Type)
	r.forgetIDs(schema.Type, ids)

	step.AffectedIDs = ids
	step.Count = len(ids)
	if schema.SoftDelete != "" {
		step.Warnings = append(step.Warnings, fmt.Sprintf("%s records were deactivated, not removed", schema.Type))
	}
	return nil
}

func derivedFields(schema *domain.EntitySchema) []string {
	var out []string
	if schema.Derive.Duration != nil {
		out = append(out, schema.Derive.Duration.Into)
	}
	if schema.Derive.Total != nil {
		out = append(out, schema.Derive.Total.Into)
	}
	return out
}

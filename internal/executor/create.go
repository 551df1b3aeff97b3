package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

var clockLayouts = []string{"15:04", "15:04:05", "3:04PM", "3:04 PM", "3PM", "3 PM"}

// parseClock reads a time of day and returns minutes since midnight
func parseClock(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("time must be a string like 10:00")
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized time %q", s)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// deriveNumbers computes duration and total fields in place
func deriveNumbers(data domain.Fields, schema *domain.EntitySchema) error {
	if rule := schema.Derive.Duration; rule != nil {
		start, hasStart := data[rule.Start]
		end, hasEnd := data[rule.End]
		if hasStart && hasEnd {
			from, err := parseClock(start)
			if err != nil {
				return domain.ErrValidation(fmt.Sprintf("%s: %v", rule.Start, err))
			}
			to, err := parseClock(end)
			if err != nil {
				return domain.ErrValidation(fmt.Sprintf("%s: %v", rule.End, err))
			}
			if to <= from {
				return domain.NewCommandError(domain.KindValidation,
					fmt.Sprintf("%s must be after %s", rule.End, rule.Start), nil,
					"check the start and end times")
			}
			data[rule.Into] = round2(float64(to-from) / 60)
		}
		if v, ok := data[rule.Into]; ok {
			if hours, numeric := domain.ToNumber(v); !numeric || hours <= 0 {
				return domain.ErrValidation(fmt.Sprintf("%s must be a positive number of hours", rule.Into))
			}
		}
	}

	if rule := schema.Derive.Total; rule != nil {
		quantity, okQ := domain.ToNumber(data[rule.Quantity])
		price, okP := domain.ToNumber(data[rule.Price])
		if okQ && okP {
			data[rule.Into] = round2(quantity * price)
		}
	}
	return nil
}

func (r *run) createStep(ctx context.Context, schema *domain.EntitySchema, cmd domain.Command, step *StepResult) error {
	if len(cmd.Data) == 0 {
		return domain.ErrValidation(fmt.Sprintf("create %s requires data", schema.Type))
	}

	data := cmd.Data.Clone()
	delete(data, "id")
	applyDefaults(data, schema)

	if err := r.resolveDataReferences(ctx, schema, data); err != nil {
		return err
	}
	if err := deriveNumbers(data, schema); err != nil {
		return err
	}
	if err := r.linkPriceRecord(ctx, schema, data); err != nil {
		return err
	}
	if err := deriveNumbers(data, schema); err != nil {
		return err
	}

	var missing []string
	for _, f := range schema.Required {
		if v, ok := data[f]; !ok || v == nil || v == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return domain.NewCommandError(domain.KindValidation,
			fmt.Sprintf("create %s is missing %s", schema.Type, strings.Join(missing, ", ")), nil,
			fmt.Sprintf("include %s in the request", strings.Join(missing, " and ")))
	}

	id, err := r.add(ctx, schema, data)
	if err != nil {
		return err
	}
	if schema.NameField != "" {
		if name, ok := data[schema.NameField].(string); ok && name != "" {
			r.names[nameKey(schema.Type, name)] = id
		}
	}

	record := data.Clone()
	record["id"] = id
	step.ID = id
	step.Records = []domain.Fields{SerializeFields(record)}
	step.Count = 1
	return nil
}

// resolveDataReferences replaces name references in data with resolved ids
func (r *run) resolveDataReferences(ctx context.Context, schema *domain.EntitySchema, data domain.Fields) error {
	for _, ref := range schema.References {
		raw, ok := data[ref.Field]
		if !ok {
			continue
		}
		delete(data, ref.Field)
		if raw == nil {
			continue
		}
		name, ok := raw.(string)
		if !ok || strings.TrimSpace(name) == "" {
			return domain.ErrValidation(fmt.Sprintf("%s must be a name", ref.Field))
		}
		id, err := r.findOrCreate(ctx, ref, name)
		if err != nil {
			return err
		}
		data[ref.IDField] = id
	}
	return nil
}

// linkPriceRecord connects a record to a price record. A given price is
// matched against or stored as a price record; a linked price record
// supplies a missing price.
func (r *run) linkPriceRecord(ctx context.Context, schema *domain.EntitySchema, data domain.Fields) error {
	rule := schema.Derive.PriceRecord
	if rule == nil {
		return nil
	}
	target, ok := r.ex.registry.Lookup(rule.Entity)
	if !ok {
		return nil
	}

	linkedID, hasLink := data[rule.IDField].(string)
	price, hasPrice := domain.ToNumber(data[rule.PriceField])

	switch {
	case hasLink && linkedID != "" && !hasPrice:
		doc, err := r.ex.store.Get(ctx, target.Collection, linkedID)
		if err != nil {
			return domain.NewCommandError(domain.KindResolution,
				fmt.Sprintf("%s %s was not found", rule.Entity, linkedID), err)
		}
		if !r.actor.Owns(doc.Data[r.ex.registry.OwnerField]) {
			return domain.ErrPermission(rule.Entity)
		}
		if amount, ok := domain.ToNumber(doc.Data[rule.AmountField]); ok {
			data[rule.PriceField] = amount
		}
		return nil

	case hasPrice && (!hasLink || linkedID == ""):
		q := r.scope().Where(rule.AmountField, domain.OpEqual, price)
		match := make([]string, len(rule.Match))
		copy(match, rule.Match)
		sort.Strings(match)
		for _, f := range match {
			if v, ok := data[f]; ok {
				q = q.Where(f, domain.OpEqual, v)
			}
		}
		existing, err := r.ex.store.Query(ctx, target.Collection, q)
		if err != nil {
			return fmt.Errorf("failed to find %s: %w", rule.Entity, err)
		}
		existing = dropInactive(existing, target, nil)
		if len(existing) > 0 {
			data[rule.IDField] = existing[0].ID
			return nil
		}

		stub := domain.Fields{
			rule.AmountField: price,
			fieldAutoCreated: true,
			fieldSource:      sourceSystem,
		}
		for _, f := range match {
			if v, ok := data[f]; ok {
				stub[f] = v
			}
		}
		applyDefaults(stub, target)
		id, err := r.add(ctx, target, stub)
		if err != nil {
			return err
		}
		data[rule.IDField] = id
		if r.step != nil {
			r.step.AutoCreated = append(r.step.AutoCreated, AutoCreated{
				Entity: rule.Entity, Name: fmt.Sprintf("%g", price), ID: id,
			})
		}
	}
	return nil
}

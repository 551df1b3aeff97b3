// Package dynamic plans and runs free-form query operations for requests
// the structured workflow cannot express.
package dynamic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/compiler"
	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

// Plan is the list of operations generated for one request
type Plan struct {
	Description string                  `json:"description"`
	Operations  []domain.QueryOperation `json:"operations"`
}

// Generator asks the model for a query plan
type Generator struct {
	model    ports.GenerativeModel
	registry *domain.Registry
	logger   logger.Logger
	now      func() time.Time
}

// NewGenerator creates a dynamic query generator
func NewGenerator(model ports.GenerativeModel, registry *domain.Registry, log logger.Logger) *Generator {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Generator{
		model:    model,
		registry: registry,
		logger:   log.WithFields(map[string]interface{}{"component": "dynamic_generator"}),
		now:      time.Now,
	}
}

// Generate produces a validated plan for text with one model call
func (g *Generator) Generate(ctx context.Context, text string, cctx compiler.Context) (*Plan, error) {
	cctx = cctx.Normalize(g.now())
	input := strings.TrimSpace(text)
	if input == "" {
		return nil, domain.NewCommandError(domain.KindCompile, "the request is empty", nil,
			compiler.Suggestions(cctx.Locale)...)
	}

	reply, err := g.model.Generate(ctx, BuildPrompt(g.registry, input, cctx))
	if err != nil {
		return nil, compiler.ModelError(g.model.Provider(), err)
	}

	plan, err := ParsePlan(reply)
	if err != nil {
		g.logger.Warn(ctx, "Query plan could not be parsed", map[string]interface{}{
			"provider": g.model.Provider(),
			"error":    err.Error(),
		})
		return nil, domain.NewCommandError(domain.KindCompile, "the request could not be turned into a query", err,
			compiler.Suggestions(cctx.Locale)...)
	}
	if err := ValidatePlan(plan, g.registry); err != nil {
		return nil, err
	}
	return plan, nil
}

// ParsePlan extracts and decodes a plan from a model reply
func ParsePlan(reply string) (*Plan, error) {
	raw, err := compiler.ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("failed to decode query plan: %w", err)
	}
	return &plan, nil
}

// ValidatePlan checks every operation against the collection allow-list
// before anything touches the store
func ValidatePlan(plan *Plan, registry *domain.Registry) error {
	if plan == nil || len(plan.Operations) == 0 {
		return domain.ErrValidation("the query plan has no operations")
	}
	allowed := registry.Collections()
	for i, op := range plan.Operations {
		if err := op.Validate(allowed); err != nil {
			return domain.NewCommandError(domain.KindValidation, err.Error(), err,
				"ask about clients, sessions, rates, invoices or expenses").AtIndex(i)
		}
	}
	return nil
}

var planExamples = []struct {
	input  string
	output string
}{
	{
		input: "revenue per client this month, highest first",
		output: `{"description":"Revenue per client this month","operations":[{"type":"aggregate","collection":"sessions",` +
			`"filters":[{"field":"date","operator":">=","value":"{monthStart}"},{"field":"date","operator":"<=","value":"{monthEnd}"}],` +
			`"groupBy":["clientId"],"aggregations":[{"function":"sum","field":"totalAmount"},{"function":"count","field":"id"}],` +
			`"orderBy":[{"field":"sum(totalAmount)","direction":"desc"}]}]}`,
	},
	{
		input: "top 5 most expensive expenses this year",
		output: `{"description":"Five largest expenses this year","operations":[{"type":"query","collection":"expenses",` +
			`"filters":[{"field":"date","operator":">=","value":"{yearStart}"},{"field":"date","operator":"<=","value":"{yearEnd}"}],` +
			`"orderBy":[{"field":"amount","direction":"desc"}],"limit":5}]}`,
	},
	{
		input: "average session length by session type and billing status",
		output: `{"description":"Average duration by type and billing status","operations":[{"type":"aggregate","collection":"sessions",` +
			`"groupBy":["sessionTypeId","billingStatus"],"aggregations":[{"function":"avg","field":"durationHours"}]}]}`,
	},
}

// BuildPrompt renders the instruction block for a query plan
func BuildPrompt(registry *domain.Registry, text string, cctx compiler.Context) string {
	phrases := compiler.DatePhrases(cctx.Now)
	var b strings.Builder

	b.WriteString("You translate an analytical request into a JSON query plan over a document store.\n")
	b.WriteString("Reply with one JSON object and nothing else.\n\n")
	b.WriteString(`JSON shape: {"description": string, "operations": [{"type": "query"|"aggregate"|"create", "collection": string, "filters": [{"field": string, "operator": string, "value": any}], "orderBy": [{"field": string, "direction": "asc"|"desc"}], "limit": number, "groupBy": [string], "aggregations": [{"function": string, "field": string}], "data": object}]}`)
	b.WriteString("\n\n")
	b.WriteString("Operators: ==, !=, <, <=, >, >=, in (list value), contains (substring), array-contains.\n")
	b.WriteString("Aggregation functions: sum, count, avg, min, max. To sort groups by an aggregation use the field \"function(field)\".\n")
	b.WriteString("Filter on ids and stored fields only. Names of referenced records may be used as clientName, sessionTypeName and similar with ==.\n\n")

	b.WriteString("Collections:\n")
	b.WriteString(compiler.DescribeEntities(registry))
	b.WriteString("\n")

	fmt.Fprintf(&b, "Current date: %s.\n", phrases[0].Start)
	var start, end = map[string]string{}, map[string]string{}
	for _, p := range phrases {
		fmt.Fprintf(&b, "- %q = %s to %s\n", p.Phrase, p.Start, p.End)
		start[p.Phrase], end[p.Phrase] = p.Start, p.End
	}
	b.WriteString("\n")

	replacer := strings.NewReplacer(
		"{monthStart}", start["this month"], "{monthEnd}", end["this month"],
		"{yearStart}", start["this year"], "{yearEnd}", end["this year"],
	)
	b.WriteString("Examples:\n")
	for _, ex := range planExamples {
		fmt.Fprintf(&b, "Input: %s\nOutput: %s\n\n", ex.input, replacer.Replace(ex.output))
	}
	fmt.Fprintf(&b, "Input: %s\nOutput:", text)
	return b.String()
}

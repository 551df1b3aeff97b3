package compiler

import (
	"fmt"
	"strings"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

// Context is the optional environment a command is compiled in
type Context struct {
	Now      time.Time
	Locale   string
	Timezone string
	Currency string
}

// Normalize fills defaults and moves Now into the requested timezone
func (c Context) Normalize(fallback time.Time) Context {
	if c.Now.IsZero() {
		c.Now = fallback
	}
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			c.Now = c.Now.In(loc)
		}
	}
	c.Locale = normalizeLocale(c.Locale)
	if c.Currency == "" {
		c.Currency = "USD"
	}
	return c
}

func normalizeLocale(locale string) string {
	l := strings.ToLower(strings.TrimSpace(locale))
	if strings.HasPrefix(l, "zh") {
		return LocaleZH
	}
	return LocaleEN
}

type example struct {
	input  string
	output string
}

var workflowExamples = []example{
	{
		input: "create session for Nova today 10:00-12:00, type piano, rate 80",
		output: `{"description":"Create a piano session for Nova","requiresConfirmation":false,"commands":[` +
			`{"operation":"search","entity":"client","conditions":{"name":"Nova"}},` +
			`{"operation":"search","entity":"sessionType","conditions":{"name":"piano"}},` +
			`{"operation":"search","entity":"rate","conditions":{"clientName":"Nova","sessionTypeName":"piano"}},` +
			`{"operation":"create","entity":"session","data":{"clientName":"Nova","sessionTypeName":"piano","date":"{today}","startTime":"10:00","endTime":"12:00","hourlyRate":80}}]}`,
	},
	{
		input: "total for Alex this month",
		output: `{"description":"Total billed to Alex this month","requiresConfirmation":false,"commands":[` +
			`{"operation":"aggregate","entity":"session","conditions":{"clientName":"Alex","startDate":"{monthStart}","endDate":"{monthEnd}"},` +
			`"aggregations":[{"function":"sum","field":"totalAmount"},{"function":"count","field":"id"}]}]}`,
	},
	{
		input: "mark Kai's sessions from last week as billed",
		output: `{"description":"Mark Kai's sessions from last week as billed","requiresConfirmation":false,"commands":[` +
			`{"operation":"update","entity":"session","conditions":{"clientName":"Kai","startDate":"{lastWeekStart}","endDate":"{lastWeekEnd}"},"data":{"billingStatus":"billed"}}]}`,
	},
	{
		input: "delete yesterday's expenses",
		output: `{"description":"Delete expenses recorded yesterday","requiresConfirmation":true,"commands":[` +
			`{"operation":"delete","entity":"expense","conditions":{"startDate":"{yesterday}","endDate":"{yesterday}"}}]}`,
	},
}

// BuildPrompt renders the instruction block for text. The output depends
// only on the registry, the context and the text.
func BuildPrompt(registry *domain.Registry, text string, cctx Context) string {
	phrases := DatePhrases(cctx.Now)
	var b strings.Builder

	b.WriteString("You translate an operator's request into a JSON workflow for a studio records system.\n")
	b.WriteString("Reply with one JSON object and nothing else.\n\n")

	b.WriteString("JSON shape:\n")
	b.WriteString(`{"description": string, "requiresConfirmation": boolean, "commands": [{"operation": string, "entity": string, "data": object, "conditions": object, "aggregations": [{"function": string, "field": string}], "metadata": {"confidence": number, "dependency": boolean}}]}`)
	b.WriteString("\n\n")

	ops := make([]string, len(domain.Operations))
	for i, op := range domain.Operations {
		ops[i] = string(op)
	}
	fmt.Fprintf(&b, "Operations: %s.\n", strings.Join(ops, ", "))
	b.WriteString("Aggregation functions: sum, count, avg, min, max. Use count with field \"id\".\n\n")

	b.WriteString("Entities:\n")
	b.WriteString(DescribeEntities(registry))
	b.WriteString("\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Refer to other records by name with the reference fields listed above (for example clientName); never invent ids.\n")
	b.WriteString("- Before creating a record that references others by name, add a search for each referenced record.\n")
	b.WriteString("- Date ranges go in conditions as startDate and endDate (inclusive, YYYY-MM-DD).\n")
	b.WriteString("- Times are HH:MM in 24-hour form.\n")
	b.WriteString("- update and delete must carry conditions that select the records.\n")
	b.WriteString("- Set requiresConfirmation to true whenever a command deletes records.\n")
	b.WriteString("- Do not group results; aggregate returns one total.\n\n")

	fmt.Fprintf(&b, "Current date: %s (%s). Timezone: %s. Currency: %s.\n",
		day(cctx.Now), cctx.Now.Weekday(), cctx.Now.Location(), cctx.Currency)
	b.WriteString("Date phrases:\n")
	for _, p := range phrases {
		if p.Start == p.End {
			fmt.Fprintf(&b, "- %q = %s\n", p.Phrase, p.Start)
			continue
		}
		fmt.Fprintf(&b, "- %q = %s to %s\n", p.Phrase, p.Start, p.End)
	}
	if cctx.Locale == LocaleZH {
		b.WriteString("The request may be in Chinese (今天 = today, 昨天 = yesterday, 本周 = this week, 上周 = last week, 本月 = this month, 上个月 = last month, 今年 = this year). Keep names as written.\n")
	}
	b.WriteString("\n")

	b.WriteString("Examples:\n")
	replacer := exampleDates(phrases)
	for _, ex := range workflowExamples {
		fmt.Fprintf(&b, "Input: %s\nOutput: %s\n\n", ex.input, replacer.Replace(ex.output))
	}

	fmt.Fprintf(&b, "Input: %s\nOutput:", strings.TrimSpace(text))
	return b.String()
}

// DescribeEntities lists every entity with its collection and fields
func DescribeEntities(registry *domain.Registry) string {
	var b strings.Builder
	for _, t := range registry.Types() {
		schema, _ := registry.Lookup(t)
		fmt.Fprintf(&b, "- %s (collection %s): %s.", t, schema.Collection, schema.Description)
		if len(schema.Required) > 0 {
			fmt.Fprintf(&b, " Required: %s.", strings.Join(schema.Required, ", "))
		}
		if len(schema.Optional) > 0 {
			fmt.Fprintf(&b, " Optional: %s.", strings.Join(schema.Optional, ", "))
		}
		if len(schema.References) > 0 {
			refs := make([]string, len(schema.References))
			for i, ref := range schema.References {
				refs[i] = fmt.Sprintf("%s -> %s", ref.Field, ref.Entity)
			}
			fmt.Fprintf(&b, " References: %s.", strings.Join(refs, ", "))
		}
		if schema.DateField != "" {
			fmt.Fprintf(&b, " Date field: %s.", schema.DateField)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func exampleDates(phrases []DatePhrase) *strings.Replacer {
	byPhrase := make(map[string]DatePhrase, len(phrases))
	for _, p := range phrases {
		byPhrase[p.Phrase] = p
	}
	return strings.NewReplacer(
		"{today}", byPhrase["today"].Start,
		"{yesterday}", byPhrase["yesterday"].Start,
		"{monthStart}", byPhrase["this month"].Start,
		"{monthEnd}", byPhrase["this month"].End,
		"{lastWeekStart}", byPhrase["last week"].Start,
		"{lastWeekEnd}", byPhrase["last week"].End,
	)
}

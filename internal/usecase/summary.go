package usecase

import (
	"fmt"
	"strings"

	"github.com/Borui-Eduation/student-records-sub000/internal/compiler"
	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/dynamic"
	"github.com/Borui-Eduation/student-records-sub000/internal/executor"
)

type summaryTemplates struct {
	created     string
	autoCreated string
	found       string
	updated     string
	deleted     string
	aggregate   string
	groups      string
	failed      string
	skipped     string
	confirm     string
	nothing     string
	separator   string
}

var templates = map[string]summaryTemplates{
	compiler.LocaleEN: {
		created:     "Created %s %s.",
		autoCreated: "Also created %s %q.",
		found:       "Found %d %s record(s).",
		updated:     "Updated %d %s record(s).",
		deleted:     "Deleted %d %s record(s).",
		aggregate:   "%s over %d %s record(s): %s.",
		groups:      "%d group(s) of %s.",
		failed:      "Step %d failed: %s.",
		skipped:     "Step %d was skipped.",
		confirm:     "This request deletes data and was not run. Confirm to proceed.",
		nothing:     "Nothing was done.",
		separator:   " ",
	},
	compiler.LocaleZH: {
		created:     "已创建%s %s。",
		autoCreated: "同时创建了%s「%s」。",
		found:       "找到 %d 条%s记录。",
		updated:     "已更新 %d 条%s记录。",
		deleted:     "已删除 %d 条%s记录。",
		aggregate:   "%s（%d 条%s记录）：%s。",
		groups:      "%d 个%s分组。",
		failed:      "第 %d 步失败：%s。",
		skipped:     "第 %d 步已跳过。",
		confirm:     "此请求会删除数据，尚未执行，请确认后继续。",
		nothing:     "未执行任何操作。",
		separator:   "",
	},
}

func templatesFor(locale string) summaryTemplates {
	if t, ok := templates[locale]; ok {
		return t
	}
	return templates[compiler.LocaleEN]
}

// SummarizeWorkflow describes an executed workflow in the operator's language
func SummarizeWorkflow(locale string, res *executor.Result) string {
	t := templatesFor(locale)
	if res == nil || len(res.Steps) == 0 {
		return t.nothing
	}

	var parts []string
	for _, step := range res.Steps {
		switch step.Status {
		case executor.StepFailed:
			msg := "unknown error"
			if step.Error != nil {
				msg = step.Error.Message
			}
			parts = append(parts, fmt.Sprintf(t.failed, step.Index+1, msg))
			continue
		case executor.StepSkipped:
			parts = append(parts, fmt.Sprintf(t.skipped, step.Index+1))
			continue
		}

		entity := string(step.Entity)
		switch step.Operation {
		case domain.OperationCreate:
			parts = append(parts, fmt.Sprintf(t.created, entity, step.ID))
		case domain.OperationUpdate:
			parts = append(parts, fmt.Sprintf(t.updated, step.Count, entity))
		case domain.OperationDelete:
			parts = append(parts, fmt.Sprintf(t.deleted, step.Count, entity))
		case domain.OperationAggregate:
			if step.Aggregate != nil {
				parts = append(parts, describeAggregate(t, entity, *step.Aggregate))
			}
		default:
			parts = append(parts, fmt.Sprintf(t.found, step.Count, entity))
		}
		for _, ac := range step.AutoCreated {
			parts = append(parts, fmt.Sprintf(t.autoCreated, string(ac.Entity), ac.Name))
		}
	}
	return strings.Join(parts, t.separator)
}

// SummarizePlan describes the result of a dynamic query plan
func SummarizePlan(locale string, res *dynamic.Result) string {
	t := templatesFor(locale)
	if res == nil || len(res.Operations) == 0 {
		return t.nothing
	}

	var parts []string
	for _, op := range res.Operations {
		switch {
		case op.Type == domain.QueryTypeCreate:
			parts = append(parts, fmt.Sprintf(t.created, op.Collection, op.ID))
		case op.Aggregate != nil:
			parts = append(parts, describeAggregate(t, op.Collection, *op.Aggregate))
		case op.Type == domain.QueryTypeAggregate:
			parts = append(parts, fmt.Sprintf(t.groups, len(op.Groups), op.Collection))
		default:
			parts = append(parts, fmt.Sprintf(t.found, op.Count, op.Collection))
		}
	}
	return strings.Join(parts, t.separator)
}

// SummarizeConfirmation is shown when a workflow waits for confirmation
func SummarizeConfirmation(locale string) string {
	return templatesFor(locale).confirm
}

func describeAggregate(t summaryTemplates, entity string, agg domain.AggregateResult) string {
	values := make([]string, 0, len(agg.Aggregations))
	for _, a := range agg.Aggregations {
		values = append(values, fmt.Sprintf("%s(%s) = %s", a.Function, a.Field, a.Result.String()))
	}
	label := "aggregate"
	if len(agg.Aggregations) == 1 {
		label = fmt.Sprintf("%s(%s)", agg.Aggregations[0].Function, agg.Aggregations[0].Field)
		values = []string{agg.Aggregations[0].Result.String()}
	}
	return fmt.Sprintf(t.aggregate, label, agg.Count, entity, strings.Join(values, ", "))
}

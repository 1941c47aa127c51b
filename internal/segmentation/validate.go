package segmentation

import (
	"fmt"

	"github.com/ignite/leadscore/internal/domain"
)

// ValidateRules reports data-quality problems in a rule list. Problems never
// stop evaluation; the offending rules simply never match.
func ValidateRules(rules []domain.Rule) []string {
	var problems []string

	for i, rule := range rules {
		fieldType, known := LeadFieldTypes[rule.Field]
		if !known {
			problems = append(problems, fmt.Sprintf("rule %d: unknown field %q", i, rule.Field))
			continue
		}

		meta := getOperatorMeta(rule.Operator)
		if meta == nil {
			problems = append(problems, fmt.Sprintf("rule %d: unknown operator %q", i, rule.Operator))
			continue
		}

		if !appliesTo(meta, fieldType) {
			problems = append(problems, fmt.Sprintf("rule %d: operator %s is not applicable to %s field %s", i, rule.Operator, fieldType, rule.Field))
		}

		if meta.RequiresValue && rule.Value == nil {
			problems = append(problems, fmt.Sprintf("rule %d: operator %s requires a value for field %s", i, rule.Operator, rule.Field))
		}

		if meta.RequiresArray {
			if _, ok := toList(rule.Value); !ok {
				problems = append(problems, fmt.Sprintf("rule %d: operator %s requires an array of values for field %s", i, rule.Operator, rule.Field))
			}
		}

		if meta.RequiresRange {
			start, end, ok := rangeBounds(rule.Value)
			if !ok {
				problems = append(problems, fmt.Sprintf("rule %d: operator %s requires start and end for field %s", i, rule.Operator, rule.Field))
			} else if !parsesAsDate(start) || !parsesAsDate(end) {
				problems = append(problems, fmt.Sprintf("rule %d: unparsable date range for field %s", i, rule.Field))
			}
		}

		switch rule.Operator {
		case domain.OpRegex:
			if p, ok := rule.Value.(string); !ok || compilePattern(p) == nil {
				problems = append(problems, fmt.Sprintf("rule %d: invalid pattern for field %s", i, rule.Field))
			}
		case domain.OpDateEquals, domain.OpDateAfter, domain.OpDateBefore:
			if !parsesAsDate(rule.Value) {
				problems = append(problems, fmt.Sprintf("rule %d: unparsable date %v for field %s", i, rule.Value, rule.Field))
			}
		}
	}

	return problems
}

func appliesTo(meta *OperatorMetadata, ft FieldType) bool {
	for _, t := range meta.ApplicableTypes {
		if t == ft {
			return true
		}
	}
	return false
}

func parsesAsDate(v any) bool {
	_, _, ok := toTime(v)
	return ok
}

package scoring

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/ignite/leadscore/internal/pkg/logger"
)

// CustomRule adds Points to a lead's score when the CEL expression in When
// evaluates to true. Points may be negative.
//
// Expressions see the lead through these variables: name, email,
// email_domain, phone, company, position, status, source (strings), score,
// activity_count, days_inactive (ints; days_inactive is -1 when unknown),
// tags (list of strings) and has_first_contact (bool).
//
//	when: 'status == "proposal" && "enterprise" in tags'
type CustomRule struct {
	Name   string `yaml:"name" json:"name"`
	When   string `yaml:"when" json:"when"`
	Points int    `yaml:"points" json:"points"`
	Active bool   `yaml:"active" json:"active"`
}

type compiledRule struct {
	name    string
	points  int
	program cel.Program
}

// NewRuleEnv declares the lead variables available to custom rules.
func NewRuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("email", cel.StringType),
		cel.Variable("email_domain", cel.StringType),
		cel.Variable("phone", cel.StringType),
		cel.Variable("company", cel.StringType),
		cel.Variable("position", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("score", cel.IntType),
		cel.Variable("activity_count", cel.IntType),
		cel.Variable("days_inactive", cel.IntType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("has_first_contact", cel.BoolType),
	)
}

// CompileRule parses and type-checks a single expression. It is used by
// config validation and by NewCalculator.
func CompileRule(env *cel.Env, expr string) (cel.Program, error) {
	ast, iss := env.Parse(expr)
	if iss.Err() != nil {
		return nil, iss.Err()
	}
	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return nil, iss.Err()
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", checked.OutputType())
	}
	return env.Program(checked)
}

func compileRules(rules []CustomRule) ([]*compiledRule, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	env, err := NewRuleEnv()
	if err != nil {
		return nil, fmt.Errorf("building rule environment: %w", err)
	}

	var out []*compiledRule
	for _, r := range rules {
		if !r.Active {
			continue
		}
		prg, err := CompileRule(env, r.When)
		if err != nil {
			return nil, fmt.Errorf("%w: custom rule %q: %v", ErrInvalidConfig, r.Name, err)
		}
		out = append(out, &compiledRule{name: r.Name, points: r.Points, program: prg})
	}
	return out, nil
}

// customPoints evaluates active rules. A rule that fails at runtime is
// skipped so one bad expression cannot break scoring.
func (c *Calculator) customPoints(lead *domain.Lead) map[string]int {
	if len(c.rules) == 0 {
		return nil
	}
	vars := c.ruleVars(lead)
	out := make(map[string]int)
	for _, r := range c.rules {
		val, _, err := r.program.Eval(vars)
		if err != nil {
			logger.Warn("custom score rule failed", "rule", r.name, "lead_id", lead.ID, "error", err)
			continue
		}
		if matched, ok := val.Value().(bool); ok && matched {
			out[r.name] += r.points
		}
	}
	return out
}

func (c *Calculator) ruleVars(lead *domain.Lead) map[string]any {
	days := int64(-1)
	if lead.LastActivityAt != nil || !lead.CreatedAt.IsZero() {
		d, _ := lead.DaysInactive(c.clock.Now())
		days = int64(d)
	}
	domainPart := ""
	if at := strings.LastIndex(lead.Email, "@"); at >= 0 {
		domainPart = strings.ToLower(lead.Email[at+1:])
	}
	tags := lead.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"name":              lead.Name,
		"email":             lead.Email,
		"email_domain":      domainPart,
		"phone":             lead.Phone,
		"company":           lead.Company,
		"position":          lead.Position,
		"status":            string(lead.Status),
		"source":            string(lead.Source),
		"score":             int64(lead.Score),
		"activity_count":    int64(lead.ActivityCount),
		"days_inactive":     days,
		"tags":              tags,
		"has_first_contact": lead.FirstContactAt != nil,
	}
}

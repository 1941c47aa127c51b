package segmentation

import "github.com/ignite/leadscore/internal/domain"

// Matcher decides segment membership for leads.
type Matcher struct {
	requireRules bool
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithRequireRules makes segments without rules match no lead instead of
// every lead.
func WithRequireRules(require bool) MatcherOption {
	return func(m *Matcher) { m.requireRules = require }
}

// NewMatcher creates a Matcher. By default a segment with zero rules
// matches every lead.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Matches reports whether every rule of seg holds for lead. Evaluation
// stops at the first rule that fails.
func (m *Matcher) Matches(lead *domain.Lead, seg *domain.Segment) bool {
	if lead == nil || seg == nil {
		return false
	}
	if len(seg.Rules) == 0 {
		return !m.requireRules
	}
	for _, rule := range seg.Rules {
		if !MatchRule(lead, rule) {
			return false
		}
	}
	return true
}

// EvaluateSegment returns the leads that match seg, preserving input order.
func (m *Matcher) EvaluateSegment(seg *domain.Segment, leads []domain.Lead) []domain.Lead {
	var matched []domain.Lead
	for i := range leads {
		if m.Matches(&leads[i], seg) {
			matched = append(matched, leads[i])
		}
	}
	return matched
}

// MatchingSegments returns the IDs of the segments in candidates that lead
// belongs to.
func (m *Matcher) MatchingSegments(lead *domain.Lead, candidates []domain.Segment) []string {
	ids := make([]string, 0)
	for i := range candidates {
		if m.Matches(lead, &candidates[i]) {
			ids = append(ids, candidates[i].ID)
		}
	}
	return ids
}

// MatchRule evaluates a single rule. Fields outside the lead allow-list
// never match.
func MatchRule(lead *domain.Lead, rule domain.Rule) bool {
	value, ok := lead.Field(rule.Field)
	if !ok {
		return false
	}
	return Evaluate(value, rule.Operator, rule.Value)
}

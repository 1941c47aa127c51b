package segmentation

import (
	"testing"
	"time"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLead() *domain.Lead {
	last := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	return &domain.Lead{
		ID:             "lead-1",
		Email:          "ana@acme.com",
		Company:        "Acme",
		Status:         domain.StatusQualified,
		Source:         domain.SourceReferral,
		Score:          72,
		Tags:           []string{"vip"},
		LastActivityAt: &last,
	}
}

func TestMatcher_AllRulesMustHold(t *testing.T) {
	m := NewMatcher()
	seg := &domain.Segment{ID: "hot", Rules: []domain.Rule{
		{Field: "score", Operator: domain.OpGte, Value: float64(70)},
		{Field: "status", Operator: domain.OpIn, Value: []any{"qualified", "proposal"}},
		{Field: "last_activity_at", Operator: domain.OpDateAfter, Value: "2024-03-01"},
	}}

	assert.True(t, m.Matches(sampleLead(), seg))

	cold := sampleLead()
	cold.Score = 30
	assert.False(t, m.Matches(cold, seg))
}

func TestMatcher_ImpossibleSegmentNeverMatches(t *testing.T) {
	m := NewMatcher()
	seg := &domain.Segment{Rules: []domain.Rule{
		{Field: "score", Operator: domain.OpGt, Value: 50},
		{Field: "score", Operator: domain.OpLt, Value: 50},
	}}

	for score := 0; score <= 100; score++ {
		lead := sampleLead()
		lead.Score = score
		assert.False(t, m.Matches(lead, seg), "score %d", score)
	}
}

func TestMatcher_EmptyRulesMatchEverything(t *testing.T) {
	seg := &domain.Segment{ID: "all"}

	assert.True(t, NewMatcher().Matches(sampleLead(), seg))
	assert.True(t, NewMatcher().Matches(&domain.Lead{}, seg))
	assert.False(t, NewMatcher(WithRequireRules(true)).Matches(sampleLead(), seg))
}

func TestMatcher_UnknownFieldNeverMatches(t *testing.T) {
	m := NewMatcher()
	seg := &domain.Segment{Rules: []domain.Rule{
		{Field: "password_hash", Operator: domain.OpIsNull},
	}}
	assert.False(t, m.Matches(sampleLead(), seg))
}

func TestMatcher_MalformedRuleIsFalseNotFatal(t *testing.T) {
	m := NewMatcher()
	seg := &domain.Segment{Rules: []domain.Rule{
		{Field: "company", Operator: domain.OpRegex, Value: "(["},
	}}
	assert.False(t, m.Matches(sampleLead(), seg))
}

func TestMatcher_NilInputs(t *testing.T) {
	m := NewMatcher()
	assert.False(t, m.Matches(nil, &domain.Segment{}))
	assert.False(t, m.Matches(sampleLead(), nil))
}

func TestMatcher_EvaluateSegment(t *testing.T) {
	m := NewMatcher()
	seg := &domain.Segment{Rules: []domain.Rule{
		{Field: "source", Operator: domain.OpEquals, Value: "referral"},
	}}

	a := *sampleLead()
	b := *sampleLead()
	b.ID = "lead-2"
	b.Source = domain.SourceColdCall
	c := *sampleLead()
	c.ID = "lead-3"

	got := m.EvaluateSegment(seg, []domain.Lead{a, b, c})
	require.Len(t, got, 2)
	assert.Equal(t, "lead-1", got[0].ID)
	assert.Equal(t, "lead-3", got[1].ID)

	assert.Empty(t, m.EvaluateSegment(seg, nil))
}

func TestMatcher_MatchingSegments(t *testing.T) {
	m := NewMatcher()
	segs := []domain.Segment{
		{ID: "vip", Rules: []domain.Rule{{Field: "tags", Operator: domain.OpIn, Value: []any{"vip"}}}},
		{ID: "lost", Rules: []domain.Rule{{Field: "status", Operator: domain.OpEquals, Value: "lost"}}},
		{ID: "everyone"},
	}

	assert.Equal(t, []string{"vip", "everyone"}, m.MatchingSegments(sampleLead(), segs))
}

// Package scoring computes 0-100 lead quality scores from lead attributes
// and behaviour. Scoring touches no store: it reads only the lead it is
// given and the current time from an injected clock.
package scoring

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/ignite/leadscore/internal/pkg/clock"
)

var (
	// ErrCalculationFailed marks a score that defaulted to zero because the
	// calculation could not complete.
	ErrCalculationFailed = errors.New("score calculation failed")
	// ErrInvalidConfig is returned by NewCalculator for unusable tables.
	ErrInvalidConfig = errors.New("invalid scoring config")
)

// Breakdown component names.
const (
	PartStatus       = "status"
	PartEmail        = "email_domain"
	PartCompany      = "company"
	PartPhone        = "phone"
	PartActivity     = "activity"
	PartSource       = "source"
	PartResponseTime = "response_time"
	PartTags         = "tags"
	PartInactivity   = "inactivity"
	partCustomPrefix = "rule:"
)

// Result is the outcome of scoring one lead. Err is set when the score
// defaulted to zero, so callers can tell it apart from a computed zero.
type Result struct {
	Score     int            `json:"score"`
	Raw       int            `json:"raw"`
	Breakdown map[string]int `json:"breakdown"`
	Err       error          `json:"-"`
}

// LeadScore pairs a lead with its calculated score.
type LeadScore struct {
	LeadID string `json:"lead_id"`
	Score  int    `json:"score"`
	// Error is set when the calculation failed and Score defaulted to 0.
	Error string `json:"error,omitempty"`
}

// ScoreStatistics summarizes calculated scores for a set of leads.
type ScoreStatistics struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	Median  float64 `json:"median"`
}

// Calculator scores leads from injected lookup tables.
type Calculator struct {
	cfg         Config
	clock       clock.Clock
	statuses    map[string]int
	sources     map[string]int
	freeDomains map[string]struct{}
	highValue   map[string]struct{}
	tokens      []string
	tiers       []ResponseTier
	landline    *regexp.Regexp
	rules       []*compiledRule
}

// NewCalculator validates cfg, compiles its custom rules and returns a
// ready Calculator.
func NewCalculator(cfg Config, clk clock.Clock) (*Calculator, error) {
	if clk == nil {
		clk = clock.System()
	}
	landline, err := regexp.Compile(cfg.LandlinePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: landline pattern: %v", ErrInvalidConfig, err)
	}

	c := &Calculator{
		cfg:         cfg,
		clock:       clk,
		statuses:    lowerKeys(cfg.StatusScores),
		sources:     lowerKeys(cfg.SourceScores),
		freeDomains: toSet(cfg.FreeEmailDomains),
		highValue:   toSet(cfg.HighValueTags),
		landline:    landline,
	}
	for _, tok := range cfg.LargeCompanyTokens {
		if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" {
			c.tokens = append(c.tokens, tok)
		}
	}
	c.tiers = append(c.tiers, cfg.ResponseTimeTiers...)
	sort.Slice(c.tiers, func(i, j int) bool { return c.tiers[i].MaxHours < c.tiers[j].MaxHours })

	c.rules, err = compileRules(cfg.CustomRules)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Calculate scores a single lead. It never panics; any internal failure
// yields a zero score with Err set.
func (c *Calculator) Calculate(lead *domain.Lead) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%w: %v", ErrCalculationFailed, r)}
		}
	}()
	if lead == nil {
		return Result{Err: fmt.Errorf("%w: nil lead", ErrCalculationFailed)}
	}

	parts := map[string]int{
		PartStatus:       c.statuses[strings.ToLower(string(lead.Status))],
		PartEmail:        c.emailPoints(lead.Email),
		PartCompany:      c.companyPoints(lead.Company),
		PartPhone:        c.phonePoints(lead.Phone),
		PartActivity:     c.activityPoints(lead.ActivityCount),
		PartSource:       c.sources[strings.ToLower(string(lead.Source))],
		PartResponseTime: c.responsePoints(lead),
		PartTags:         c.tagPoints(lead.Tags),
		PartInactivity:   -c.inactivityPenalty(lead),
	}
	for name, pts := range c.customPoints(lead) {
		parts[partCustomPrefix+name] = pts
	}

	raw := 0
	for _, pts := range parts {
		raw += pts
	}
	return Result{Score: domain.ClampScore(raw), Raw: raw, Breakdown: parts}
}

// CalculateMultiple scores every lead independently.
func (c *Calculator) CalculateMultiple(leads []domain.Lead) []LeadScore {
	out := make([]LeadScore, 0, len(leads))
	for i := range leads {
		res := c.Calculate(&leads[i])
		ls := LeadScore{LeadID: leads[i].ID, Score: res.Score}
		if res.Err != nil {
			ls.Error = res.Err.Error()
		}
		out = append(out, ls)
	}
	return out
}

// Statistics aggregates calculated scores. An empty input yields zero values.
func (c *Calculator) Statistics(leads []domain.Lead) ScoreStatistics {
	if len(leads) == 0 {
		return ScoreStatistics{}
	}
	scores := make([]int, 0, len(leads))
	sum := 0
	for _, ls := range c.CalculateMultiple(leads) {
		scores = append(scores, ls.Score)
		sum += ls.Score
	}
	sort.Ints(scores)

	n := len(scores)
	median := float64(scores[n/2])
	if n%2 == 0 {
		median = float64(scores[n/2-1]+scores[n/2]) / 2
	}
	return ScoreStatistics{
		Count:   n,
		Average: float64(sum) / float64(n),
		Min:     scores[0],
		Max:     scores[n-1],
		Median:  median,
	}
}

func (c *Calculator) emailPoints(email string) int {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return 0
	}
	labels := strings.Split(email[at+1:], ".")
	if len(labels) < 2 || labels[0] == "" || labels[len(labels)-1] == "" {
		return 0
	}
	// Any label but the TLD, so mail.gmail.com and yahoo.com.br both count.
	for _, label := range labels[:len(labels)-1] {
		if _, free := c.freeDomains[label]; free {
			return 0
		}
	}
	return c.cfg.CorporateEmailBonus
}

func (c *Calculator) companyPoints(company string) int {
	company = strings.ToLower(strings.TrimSpace(company))
	if company == "" {
		return 0
	}
	pts := c.cfg.CompanyPresentBonus
	for _, tok := range c.tokens {
		if strings.Contains(company, tok) {
			pts += c.cfg.LargeCompanyBonus
			break
		}
	}
	return pts
}

func (c *Calculator) phonePoints(phone string) int {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return 0
	}
	pts := c.cfg.PhonePresentBonus
	if c.landline.MatchString(phone) {
		pts += c.cfg.LandlineBonus
	}
	return pts
}

func (c *Calculator) activityPoints(count int) int {
	if count <= 0 {
		return 0
	}
	pts := count * c.cfg.PointsPerActivity
	if pts > c.cfg.MaxActivityPoints {
		return c.cfg.MaxActivityPoints
	}
	return pts
}

func (c *Calculator) responsePoints(lead *domain.Lead) int {
	if lead.FirstContactAt == nil || lead.CreatedAt.IsZero() {
		return 0
	}
	hours := lead.FirstContactAt.Sub(lead.CreatedAt).Hours()
	if hours < 0 {
		return 0
	}
	for _, tier := range c.tiers {
		if hours <= tier.MaxHours {
			return tier.Points
		}
	}
	return 0
}

func (c *Calculator) tagPoints(tags []string) int {
	seen := make(map[string]struct{}, len(tags))
	pts := 0
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		if _, ok := c.highValue[tag]; ok {
			pts += c.cfg.HighValueTagBonus
		} else {
			pts += c.cfg.OtherTagBonus
		}
	}
	return pts
}

func (c *Calculator) inactivityPenalty(lead *domain.Lead) int {
	if lead.LastActivityAt == nil {
		return 0
	}
	days, _ := lead.DaysInactive(c.clock.Now())
	if days <= c.cfg.InactivityGraceDays {
		return 0
	}
	penalty := days - c.cfg.InactivityGraceDays
	if penalty > c.cfg.MaxInactivityPenalty {
		return c.cfg.MaxInactivityPenalty
	}
	return penalty
}

func lowerKeys(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}

package scoring

import "time"

// Config holds every weight and lookup table used by the Calculator. Values
// are injected so they can be tuned per deployment without code changes.
type Config struct {
	StatusScores map[string]int `yaml:"status_scores"`
	SourceScores map[string]int `yaml:"source_scores"`

	FreeEmailDomains    []string `yaml:"free_email_domains"`
	CorporateEmailBonus int      `yaml:"corporate_email_bonus"`

	CompanyPresentBonus int      `yaml:"company_present_bonus"`
	LargeCompanyTokens  []string `yaml:"large_company_tokens"`
	LargeCompanyBonus   int      `yaml:"large_company_bonus"`

	PhonePresentBonus int    `yaml:"phone_present_bonus"`
	LandlinePattern   string `yaml:"landline_pattern"`
	LandlineBonus     int    `yaml:"landline_bonus"`

	PointsPerActivity int `yaml:"points_per_activity"`
	MaxActivityPoints int `yaml:"max_activity_points"`

	ResponseTimeTiers []ResponseTier `yaml:"response_time_tiers"`

	HighValueTags     []string `yaml:"high_value_tags"`
	HighValueTagBonus int      `yaml:"high_value_tag_bonus"`
	OtherTagBonus     int      `yaml:"other_tag_bonus"`

	InactivityGraceDays  int `yaml:"inactivity_grace_days"`
	MaxInactivityPenalty int `yaml:"max_inactivity_penalty"`

	CustomRules []CustomRule `yaml:"custom_rules"`
}

// ResponseTier awards Points when the first contact happened within
// MaxHours of the lead being created.
type ResponseTier struct {
	MaxHours float64 `yaml:"max_hours"`
	Points   int     `yaml:"points"`
}

// DefaultConfig returns the standard scoring tables.
func DefaultConfig() Config {
	return Config{
		StatusScores: map[string]int{
			"new":          10,
			"contacted":    20,
			"follow_up":    25,
			"qualified":    40,
			"proposal":     60,
			"negotiation":  80,
			"converted":    100,
			"lost":         0,
			"disqualified": 0,
		},
		SourceScores: map[string]int{
			"referral":       25,
			"event":          20,
			"website":        15,
			"social_media":   10,
			"email_campaign": 8,
			"cold_call":      5,
		},
		FreeEmailDomains:    []string{"gmail", "yahoo", "hotmail", "outlook"},
		CorporateEmailBonus: 15,
		CompanyPresentBonus: 10,
		LargeCompanyTokens: []string{
			"microsoft", "google", "amazon", "apple", "meta", "ibm", "oracle",
			"petrobras", "vale", "itau", "bradesco", "ambev", "natura", "embraer",
		},
		LargeCompanyBonus: 20,
		PhonePresentBonus: 5,
		LandlinePattern:   `^\(\d{2}\) \d{4}-\d{4}$`,
		LandlineBonus:     10,
		PointsPerActivity: 2,
		MaxActivityPoints: 20,
		ResponseTimeTiers: []ResponseTier{
			{MaxHours: 1, Points: 15},
			{MaxHours: 24, Points: 10},
			{MaxHours: 72, Points: 5},
		},
		HighValueTags:        []string{"vip", "enterprise", "decision_maker", "budget_approved"},
		HighValueTagBonus:    15,
		OtherTagBonus:        3,
		InactivityGraceDays:  30,
		MaxInactivityPenalty: 30,
	}
}

// DecayPolicy controls how much score an inactive lead loses per decay pass.
type DecayPolicy struct {
	// InactivityDays is the number of idle days before a lead is eligible.
	InactivityDays int `yaml:"inactivity_days" validate:"min=1"`
	// BaseAmount is subtracted from every eligible lead.
	BaseAmount int `yaml:"base_amount" validate:"min=0"`
	// Tiers add extra decay for longer inactivity; every tier whose Days is
	// exceeded applies.
	Tiers []DecayTier `yaml:"tiers" validate:"dive"`
	// Window is the minimum time between two decays of the same lead.
	Window time.Duration `yaml:"window"`
}

// DecayTier adds Amount once inactivity exceeds Days.
type DecayTier struct {
	Days   int `yaml:"days" validate:"min=1"`
	Amount int `yaml:"amount" validate:"min=0"`
}

// DefaultDecayPolicy returns the standard decay schedule: 5 points after 30
// idle days, 10 after 60 and 20 after 90.
func DefaultDecayPolicy() DecayPolicy {
	return DecayPolicy{
		InactivityDays: 30,
		BaseAmount:     5,
		Tiers: []DecayTier{
			{Days: 60, Amount: 5},
			{Days: 90, Amount: 10},
		},
		Window: 24 * time.Hour,
	}
}

// Amount returns the decay for a lead idle for daysInactive days, before
// capping at the lead's current score.
func (p DecayPolicy) Amount(daysInactive int) int {
	amount := p.BaseAmount
	for _, tier := range p.Tiers {
		if daysInactive > tier.Days {
			amount += tier.Amount
		}
	}
	return amount
}

// Decay returns the score after one decay pass. The result never goes
// below zero.
func (p DecayPolicy) Decay(current, daysInactive int) int {
	amount := p.Amount(daysInactive)
	if amount > current {
		amount = current
	}
	return current - amount
}

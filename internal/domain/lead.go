package domain

import "time"

// LeadStatus is the pipeline stage of a lead.
type LeadStatus string

const (
	StatusNew          LeadStatus = "new"
	StatusContacted    LeadStatus = "contacted"
	StatusFollowUp     LeadStatus = "follow_up"
	StatusQualified    LeadStatus = "qualified"
	StatusProposal     LeadStatus = "proposal"
	StatusNegotiation  LeadStatus = "negotiation"
	StatusConverted    LeadStatus = "converted"
	StatusLost         LeadStatus = "lost"
	StatusDisqualified LeadStatus = "disqualified"
)

// LeadSource indicates where a lead came from.
type LeadSource string

const (
	SourceReferral      LeadSource = "referral"
	SourceEvent         LeadSource = "event"
	SourceWebsite       LeadSource = "website"
	SourceSocialMedia   LeadSource = "social_media"
	SourceEmailCampaign LeadSource = "email_campaign"
	SourceColdCall      LeadSource = "cold_call"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Lead is a prospective customer tracked through the sales pipeline.
// Score is owned by the scoring engine; every other attribute is written
// by the CRM layer.
type Lead struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	Name           string     `json:"name" db:"name"`
	Email          string     `json:"email,omitempty" db:"email"`
	Phone          string     `json:"phone,omitempty" db:"phone"`
	Company        string     `json:"company,omitempty" db:"company"`
	Position       string     `json:"position,omitempty" db:"position"`
	Tags           []string   `json:"tags" db:"tags"`
	Status         LeadStatus `json:"status" db:"status"`
	Source         LeadSource `json:"source" db:"source"`
	ActivityCount  int        `json:"activity_count" db:"activity_count"`
	Score          int        `json:"score" db:"score"`
	FirstContactAt *time.Time `json:"first_contact_at,omitempty" db:"first_contact_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty" db:"last_activity_at"`
	LastDecayedAt  *time.Time `json:"last_decayed_at,omitempty" db:"last_decayed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// DaysInactive returns the number of whole days between the lead's last
// activity and now. Leads that never had activity are measured from their
// creation time. The second result is false when neither timestamp is known.
func (l *Lead) DaysInactive(now time.Time) (int, bool) {
	ref := l.LastActivityAt
	if ref == nil {
		if l.CreatedAt.IsZero() {
			return 0, false
		}
		ref = &l.CreatedAt
	}
	d := now.Sub(*ref)
	if d < 0 {
		return 0, true
	}
	return int(d.Hours() / 24), true
}

// HasTag reports whether the lead carries the given tag.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// LeadQuery selects a page of leads using keyset pagination on ID.
type LeadQuery struct {
	AfterID string
	Limit   int
	// UserID restricts the page to a single owner's leads.
	UserID string
	// MinScore keeps only leads whose score is at least this value.
	MinScore int
	// InactiveBefore keeps only leads whose last activity (or creation time
	// when there was none) is before this instant.
	InactiveBefore *time.Time
}

// ClampScore restricts v to the valid score range.
func ClampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

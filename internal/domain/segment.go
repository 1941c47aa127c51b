package domain

import "time"

// Operator names a predicate used by segment rules.
type Operator string

const (
	OpEquals      Operator = "="
	OpNotEquals   Operator = "!="
	OpGt          Operator = ">"
	OpGte         Operator = ">="
	OpLt          Operator = "<"
	OpLte         Operator = "<="
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpIsNull      Operator = "is_null"
	OpIsNotNull   Operator = "is_not_null"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
	OpRegex       Operator = "regex"
	OpDateEquals  Operator = "date_equals"
	OpDateAfter   Operator = "date_after"
	OpDateBefore  Operator = "date_before"
	OpDateBetween Operator = "date_between"
)

// Rule is a single (field, operator, value) predicate. Value is whatever the
// rule JSON carried: a scalar, an array for in/not_in, or an object with
// start and end for date_between.
type Rule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// Segment is a named, user-owned group of leads defined by an ordered rule
// list. A lead belongs to an active segment when every rule matches.
type Segment struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	Name         string     `json:"name" db:"name"`
	Description  string     `json:"description,omitempty" db:"description"`
	Rules        []Rule     `json:"rules" db:"rules"`
	Active       bool       `json:"active" db:"active"`
	LeadCount    int        `json:"lead_count" db:"lead_count"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// SegmentQuery selects a page of segments using keyset pagination on ID.
type SegmentQuery struct {
	AfterID    string
	Limit      int
	ActiveOnly bool
	UserID     string
}

// Association links a lead to a segment it currently belongs to.
type Association struct {
	LeadID    string    `json:"lead_id" db:"lead_id"`
	SegmentID string    `json:"segment_id" db:"segment_id"`
	AddedAt   time.Time `json:"added_at" db:"added_at"`
}

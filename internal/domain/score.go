package domain

import "time"

// ScoreUpdate is the write a ScoreUpdateFunc asks the lead store to apply.
// Only the score, the decay timestamp and updated_at are persisted; Reason
// travels with the resulting change event.
type ScoreUpdate struct {
	Score     int
	DecayedAt *time.Time
	Reason    string
}

// ScoreUpdateFunc computes the new score from the lead as currently stored.
// It runs while the store holds the row for update, so it must not block.
// Returning a nil update leaves the lead untouched.
type ScoreUpdateFunc func(current Lead) (*ScoreUpdate, error)

// ItemFailure records one lead that failed inside a bulk operation.
type ItemFailure struct {
	LeadID string `json:"lead_id"`
	Error  string `json:"error"`
}

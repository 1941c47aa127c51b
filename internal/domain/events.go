package domain

import "time"

// ScoreOperation identifies which mutation produced a score change.
type ScoreOperation string

const (
	ScoreAdjust    ScoreOperation = "adjust"
	ScoreSet       ScoreOperation = "set"
	ScoreMultiply  ScoreOperation = "multiply"
	ScoreRecompute ScoreOperation = "recompute"
	ScoreDecay     ScoreOperation = "decay"
)

// ScoreChangeEvent is emitted after every persisted score write.
type ScoreChangeEvent struct {
	ID         string         `json:"id"`
	LeadID     string         `json:"lead_id"`
	OldScore   int            `json:"old_score"`
	NewScore   int            `json:"new_score"`
	Reason     string         `json:"reason"`
	Operation  ScoreOperation `json:"operation"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// LeadSegmentsSynchronized is emitted after a lead's segment associations
// were fully reconciled.
type LeadSegmentsSynchronized struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"lead_id"`
	SegmentIDs []string  `json:"segment_ids"`
	Added      []string  `json:"added,omitempty"`
	Removed    []string  `json:"removed,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

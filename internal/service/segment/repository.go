package segment

import (
	"context"
	"time"

	"github.com/ignite/leadscore/internal/domain"
)

// LeadRepository is the read side of the lead store.
type LeadRepository interface {
	// GetLead returns domain.ErrNotFound when the lead does not exist.
	GetLead(ctx context.Context, id string) (*domain.Lead, error)

	// ListLeads returns one keyset page of leads ordered by ID.
	ListLeads(ctx context.Context, q domain.LeadQuery) ([]domain.Lead, error)
}

// SegmentRepository reads segments and records their statistics.
type SegmentRepository interface {
	// GetSegment returns domain.ErrNotFound when the segment does not exist.
	GetSegment(ctx context.Context, id string) (*domain.Segment, error)

	// ListSegments returns one keyset page of segments ordered by ID.
	ListSegments(ctx context.Context, q domain.SegmentQuery) ([]domain.Segment, error)

	// UpdateStats records the member count and the time of the last sync.
	UpdateStats(ctx context.Context, id string, leadCount int, syncedAt time.Time) error
}

// AssociationRepository stores lead-segment membership.
type AssociationRepository interface {
	// ReplaceForLead makes segmentIDs the lead's complete membership and
	// reports which segments were added and removed.
	ReplaceForLead(ctx context.Context, leadID string, segmentIDs []string) (added, removed []string, err error)

	// Add attaches the lead. It reports false when the pair already existed.
	Add(ctx context.Context, leadID, segmentID string) (bool, error)

	// Remove detaches the lead. It reports false when the pair did not exist.
	Remove(ctx context.Context, leadID, segmentID string) (bool, error)

	ListForLead(ctx context.Context, leadID string) ([]string, error)
	ListForSegment(ctx context.Context, segmentID, afterLeadID string, limit int) ([]string, error)
	CountForSegment(ctx context.Context, segmentID string) (int, error)
}

// Package events delivers score and segment events to downstream consumers
// (notifications, audit, analytics). Delivery is fire-and-forget: a sink
// failure is logged and counted but never fails the operation that
// produced the event.
package events

import (
	"context"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/ignite/leadscore/internal/pkg/logger"
)

// Event type names used on the wire and in metrics.
const (
	TypeScoreChanged         = "lead.score_changed"
	TypeSegmentsSynchronized = "lead.segments_synchronized"
)

// Sink receives domain events.
type Sink interface {
	PublishScoreChange(ctx context.Context, ev domain.ScoreChangeEvent)
	PublishSegmentsSynchronized(ctx context.Context, ev domain.LeadSegmentsSynchronized)
}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) PublishScoreChange(ctx context.Context, ev domain.ScoreChangeEvent) {
	for _, s := range m {
		s.PublishScoreChange(ctx, ev)
	}
}

func (m Multi) PublishSegmentsSynchronized(ctx context.Context, ev domain.LeadSegmentsSynchronized) {
	for _, s := range m {
		s.PublishSegmentsSynchronized(ctx, ev)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) PublishScoreChange(context.Context, domain.ScoreChangeEvent) {}

func (Discard) PublishSegmentsSynchronized(context.Context, domain.LeadSegmentsSynchronized) {}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) PublishScoreChange(_ context.Context, ev domain.ScoreChangeEvent) {
	logger.Info("score changed",
		"lead_id", ev.LeadID,
		"operation", ev.Operation,
		"old_score", ev.OldScore,
		"new_score", ev.NewScore,
		"reason", ev.Reason,
	)
}

func (LogSink) PublishSegmentsSynchronized(_ context.Context, ev domain.LeadSegmentsSynchronized) {
	logger.Info("lead segments synchronized",
		"lead_id", ev.LeadID,
		"segments", len(ev.SegmentIDs),
		"added", len(ev.Added),
		"removed", len(ev.Removed),
	)
}

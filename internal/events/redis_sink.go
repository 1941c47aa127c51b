package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/ignite/leadscore/internal/metrics"
	"github.com/ignite/leadscore/internal/pkg/logger"
)

// DefaultQueue is the Redis list events are pushed to when none is configured.
const DefaultQueue = "leadscore:events"

// Envelope wraps every event pushed to Redis so consumers can dispatch on
// Type before decoding Payload.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// RedisSink pushes JSON envelopes onto a Redis list with LPUSH. Consumers
// pop from the other end (BRPOP) to get events in order.
type RedisSink struct {
	rdb     *redis.Client
	queue   string
	maxLen  int64
	timeout time.Duration
}

// NewRedisSink creates a sink targeting queue. When maxLen is positive the
// list is trimmed to that many entries after each push.
func NewRedisSink(rdb *redis.Client, queue string, maxLen int64) *RedisSink {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisSink{
		rdb:     rdb,
		queue:   queue,
		maxLen:  maxLen,
		timeout: 2 * time.Second,
	}
}

func (s *RedisSink) PublishScoreChange(ctx context.Context, ev domain.ScoreChangeEvent) {
	s.deliver(ctx, ev.ID, TypeScoreChanged, ev.OccurredAt, ev)
}

func (s *RedisSink) PublishSegmentsSynchronized(ctx context.Context, ev domain.LeadSegmentsSynchronized) {
	s.deliver(ctx, ev.ID, TypeSegmentsSynchronized, ev.OccurredAt, ev)
}

func (s *RedisSink) deliver(ctx context.Context, id, eventType string, at time.Time, payload any) {
	if err := s.Publish(ctx, id, eventType, at, payload); err != nil {
		metrics.EventsPublished.WithLabelValues(eventType, "error").Inc()
		logger.Error("event publish failed", "type", eventType, "event_id", id, "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(eventType, "ok").Inc()
}

// Publish pushes one envelope and returns any Redis error.
func (s *RedisSink) Publish(ctx context.Context, id, eventType string, at time.Time, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	env, err := json.Marshal(Envelope{ID: id, Type: eventType, OccurredAt: at, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// Detached from the caller's cancellation; bounded by s.timeout.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	pipe := s.rdb.TxPipeline()
	pipe.LPush(pubCtx, s.queue, env)
	if s.maxLen > 0 {
		pipe.LTrim(pubCtx, s.queue, 0, s.maxLen-1)
	}
	if _, err := pipe.Exec(pubCtx); err != nil {
		return fmt.Errorf("push to %s: %w", s.queue, err)
	}
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadscore/internal/domain"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr, func() {
		client.Close()
		mr.Close()
	}
}

func TestRedisSink_PushesEnvelope(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	sink := NewRedisSink(rdb, "", 0)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sink.PublishScoreChange(context.Background(), domain.ScoreChangeEvent{
		ID:         "ev-1",
		LeadID:     "lead-1",
		OldScore:   50,
		NewScore:   30,
		Reason:     "inactivity decay",
		Operation:  domain.ScoreDecay,
		OccurredAt: at,
	})

	items, err := mr.List(DefaultQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &env))
	assert.Equal(t, "ev-1", env.ID)
	assert.Equal(t, TypeScoreChanged, env.Type)
	assert.True(t, at.Equal(env.OccurredAt))

	var ev domain.ScoreChangeEvent
	require.NoError(t, json.Unmarshal(env.Payload, &ev))
	assert.Equal(t, "lead-1", ev.LeadID)
	assert.Equal(t, 30, ev.NewScore)
	assert.Equal(t, domain.ScoreDecay, ev.Operation)
}

func TestRedisSink_TrimsToMaxLen(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	sink := NewRedisSink(rdb, "q", 2)
	for _, id := range []string{"a", "b", "c"} {
		sink.PublishSegmentsSynchronized(context.Background(), domain.LeadSegmentsSynchronized{ID: id, LeadID: "lead-1"})
	}

	items, err := mr.List("q")
	require.NoError(t, err)
	require.Len(t, items, 2)

	var newest Envelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &newest))
	assert.Equal(t, "c", newest.ID)
	assert.Equal(t, TypeSegmentsSynchronized, newest.Type)
}

func TestRedisSink_FailureDoesNotPanic(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	mr.Close()

	sink := NewRedisSink(rdb, "q", 0)
	sink.PublishScoreChange(context.Background(), domain.ScoreChangeEvent{ID: "x"})

	err := sink.Publish(context.Background(), "y", TypeScoreChanged, time.Time{}, struct{}{})
	assert.Error(t, err)
}

func TestRedisSink_SurvivesCancelledContext(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := NewRedisSink(rdb, "q", 0)
	require.NoError(t, sink.Publish(ctx, "", TypeScoreChanged, time.Time{}, map[string]int{"n": 1}))

	items, err := mr.List("q")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &env))
	assert.NotEmpty(t, env.ID)
	assert.False(t, env.OccurredAt.IsZero())
}

type recordingSink struct {
	scores []domain.ScoreChangeEvent
	syncs  []domain.LeadSegmentsSynchronized
}

func (r *recordingSink) PublishScoreChange(_ context.Context, ev domain.ScoreChangeEvent) {
	r.scores = append(r.scores, ev)
}

func (r *recordingSink) PublishSegmentsSynchronized(_ context.Context, ev domain.LeadSegmentsSynchronized) {
	r.syncs = append(r.syncs, ev)
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := Multi{a, Discard{}, LogSink{}, b}

	m.PublishScoreChange(context.Background(), domain.ScoreChangeEvent{LeadID: "l1"})
	m.PublishSegmentsSynchronized(context.Background(), domain.LeadSegmentsSynchronized{LeadID: "l1"})

	assert.Len(t, a.scores, 1)
	assert.Len(t, b.scores, 1)
	assert.Len(t, a.syncs, 1)
	assert.Len(t, b.syncs, 1)
}

func TestReasons_Defaults(t *testing.T) {
	r := NewReasons(nil)
	require.NoError(t, r.Validate())

	got := r.Format(ReasonDecay, map[string]any{"days_inactive": 95, "amount": 20})
	assert.Equal(t, "inactivity decay: 95 days without activity (-20)", got)

	got = r.Format(ReasonDecayThreshold, map[string]any{"threshold": 1, "days_inactive": 3, "amount": 5})
	assert.Equal(t, "inactivity decay past 1 day: 3 days without activity (-5)", got)

	got = r.Format(ReasonRecomputeFailed, map[string]any{"error": "boom"})
	assert.Equal(t, "recalculation failed, defaulted to 0: boom", got)
}

func TestReasons_OverridesAndFallbacks(t *testing.T) {
	r := NewReasons(map[string]string{
		ReasonRecompute: "rescored ({{ score }})",
		"broken":        "{% if score %}open",
	})

	assert.Equal(t, "rescored (42)", r.Format(ReasonRecompute, map[string]any{"score": 42}))
	assert.Equal(t, "{% if score %}open", r.Format("broken", nil))
	assert.Equal(t, "unknown_kind", r.Format("unknown_kind", nil))
	assert.Error(t, r.Validate())
}

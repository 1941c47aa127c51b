package score

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/ignite/leadscore/internal/events"
	"github.com/ignite/leadscore/internal/metrics"
	"github.com/ignite/leadscore/internal/pkg/clock"
	"github.com/ignite/leadscore/internal/pkg/logger"
)

// Adjustment is one item of a batch adjust.
type Adjustment struct {
	LeadID string `json:"lead_id"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// AdjustmentResult reports the outcome of one batch item.
type AdjustmentResult struct {
	LeadID   string `json:"lead_id"`
	Success  bool   `json:"success"`
	NewScore int    `json:"new_score,omitempty"`
	Error    string `json:"error,omitempty"`
	Err      error  `json:"-"`
}

// Mutator applies score changes and emits an event for each persisted one.
// It is safe for concurrent use.
type Mutator struct {
	repo    LeadRepository
	calc    Calculator
	sink    events.Sink
	clock   clock.Clock
	reasons *events.Reasons
	log     *logger.Logger
}

// NewMutator creates a Mutator. A nil sink discards events, a nil clock uses
// the wall clock and nil reasons use the default templates.
func NewMutator(repo LeadRepository, calc Calculator, sink events.Sink, clk clock.Clock, reasons *events.Reasons) *Mutator {
	if sink == nil {
		sink = events.Discard{}
	}
	if clk == nil {
		clk = clock.System()
	}
	if reasons == nil {
		reasons = events.NewReasons(nil)
	}
	return &Mutator{
		repo:    repo,
		calc:    calc,
		sink:    sink,
		clock:   clk,
		reasons: reasons,
		log:     logger.With("score"),
	}
}

// Adjust adds delta to the current score. The result is floored at zero
// but not capped at the maximum.
func (m *Mutator) Adjust(ctx context.Context, leadID string, delta int, reason string) (*domain.Lead, error) {
	_, after, err := m.Apply(ctx, leadID, domain.ScoreAdjust, func(cur domain.Lead) (*domain.ScoreUpdate, error) {
		next := cur.Score + delta
		if next < domain.MinScore {
			next = domain.MinScore
		}
		return &domain.ScoreUpdate{Score: next, Reason: reason}, nil
	})
	return after, err
}

// Set replaces the score with value clamped to the valid range.
func (m *Mutator) Set(ctx context.Context, leadID string, value int, reason string) (*domain.Lead, error) {
	_, after, err := m.Apply(ctx, leadID, domain.ScoreSet, func(domain.Lead) (*domain.ScoreUpdate, error) {
		return &domain.ScoreUpdate{Score: domain.ClampScore(value), Reason: reason}, nil
	})
	return after, err
}

// Multiply scales the current score by factor, rounding half away from zero
// and clamping to the valid range.
func (m *Mutator) Multiply(ctx context.Context, leadID string, factor float64, reason string) (*domain.Lead, error) {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFactor, factor)
	}
	_, after, err := m.Apply(ctx, leadID, domain.ScoreMultiply, func(cur domain.Lead) (*domain.ScoreUpdate, error) {
		next := math.Round(float64(cur.Score) * factor)
		if next > domain.MaxScore {
			next = domain.MaxScore
		}
		return &domain.ScoreUpdate{Score: domain.ClampScore(int(next)), Reason: reason}, nil
	})
	return after, err
}

// AdjustMany applies each adjustment independently. A failed item is
// reported in its result and does not stop the batch.
func (m *Mutator) AdjustMany(ctx context.Context, items []Adjustment) []AdjustmentResult {
	results := make([]AdjustmentResult, 0, len(items))
	for _, it := range items {
		res := AdjustmentResult{LeadID: it.LeadID}
		lead, err := m.Adjust(ctx, it.LeadID, it.Delta, it.Reason)
		if err != nil {
			res.Err = err
			res.Error = err.Error()
			m.log.Warn("batch adjust item failed", "lead_id", it.LeadID, "error", err)
		} else {
			res.Success = true
			res.NewScore = lead.Score
		}
		results = append(results, res)
	}
	return results
}

// Recompute scores the lead from its stored attributes and sets the result.
// When the calculation fails the lead is set to zero and the event reason
// records the failure.
func (m *Mutator) Recompute(ctx context.Context, leadID string) (*domain.Lead, error) {
	_, after, err := m.Apply(ctx, leadID, domain.ScoreRecompute, func(cur domain.Lead) (*domain.ScoreUpdate, error) {
		res := m.calc.Calculate(&cur)
		if res.Err != nil {
			m.log.Error("score calculation failed, defaulting to 0", "lead_id", cur.ID, "error", res.Err)
			reason := m.reasons.Format(events.ReasonRecomputeFailed, map[string]any{"error": res.Err.Error()})
			return &domain.ScoreUpdate{Score: 0, Reason: reason}, nil
		}
		reason := m.reasons.Format(events.ReasonRecompute, map[string]any{
			"score": res.Score,
			"raw":   res.Raw,
		})
		return &domain.ScoreUpdate{Score: res.Score, Reason: reason}, nil
	})
	return after, err
}

// Apply runs fn against the stored lead inside the store's atomic update and
// publishes a change event when a write happened. after is nil when fn
// declined to write.
func (m *Mutator) Apply(ctx context.Context, leadID string, op domain.ScoreOperation, fn domain.ScoreUpdateFunc) (before, after *domain.Lead, err error) {
	var applied *domain.ScoreUpdate
	before, after, err = m.repo.UpdateScore(ctx, leadID, func(cur domain.Lead) (*domain.ScoreUpdate, error) {
		u, err := fn(cur)
		applied = u
		return u, err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrLeadNotFound, leadID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s score of lead %s: %w", op, leadID, err)
	}
	if after == nil || applied == nil {
		return before, nil, nil
	}

	metrics.ScoreChanges.WithLabelValues(string(op)).Inc()
	m.sink.PublishScoreChange(ctx, domain.ScoreChangeEvent{
		ID:         uuid.NewString(),
		LeadID:     leadID,
		OldScore:   before.Score,
		NewScore:   after.Score,
		Reason:     applied.Reason,
		Operation:  op,
		OccurredAt: m.clock.Now(),
	})
	return before, after, nil
}

package score

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/ignite/leadscore/internal/events"
	"github.com/ignite/leadscore/internal/metrics"
	"github.com/ignite/leadscore/internal/scoring"
)

const defaultPageSize = 500

// SweepResult summarizes one bulk decay pass. When the sweep stopped early,
// LastLeadID is the last lead that was fully processed.
type SweepResult struct {
	Scanned     int                  `json:"scanned"`
	Affected    int                  `json:"affected"`
	Skipped     int                  `json:"skipped"`
	Failed      int                  `json:"failed"`
	PointsTaken int                  `json:"points_taken"`
	Failures    []domain.ItemFailure `json:"failures,omitempty"`
	LastLeadID  string               `json:"last_lead_id,omitempty"`
	Interrupted bool                 `json:"interrupted"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// DecayStatistics is a read-only projection over the lead population.
type DecayStatistics struct {
	TotalLeads         int     `json:"total_leads"`
	EligibleForDecay   int     `json:"eligible_for_decay"`
	AverageScore       float64 `json:"average_score"`
	EligiblePercentage float64 `json:"eligible_percentage"`
}

// DecayOption configures a DecayEngine.
type DecayOption func(*DecayEngine)

// WithPageSize sets how many leads are loaded per page.
func WithPageSize(n int) DecayOption {
	return func(e *DecayEngine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithThrottle paces the sweep, waiting on t before every page after the first.
func WithThrottle(t Throttle) DecayOption {
	return func(e *DecayEngine) { e.throttle = t }
}

// DecayEngine lowers the score of inactive leads through the Mutator.
type DecayEngine struct {
	repo     LeadRepository
	mutator  *Mutator
	policy   scoring.DecayPolicy
	pageSize int
	throttle Throttle
}

// NewDecayEngine creates a DecayEngine that writes through mutator.
func NewDecayEngine(repo LeadRepository, mutator *Mutator, policy scoring.DecayPolicy, opts ...DecayOption) *DecayEngine {
	e := &DecayEngine{
		repo:     repo,
		mutator:  mutator,
		policy:   policy,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the decay schedule in use.
func (e *DecayEngine) Policy() scoring.DecayPolicy { return e.policy }

// DecayAll runs one decay pass over every lead. On cancellation or a page
// read failure it returns the partial result together with the error.
func (e *DecayEngine) DecayAll(ctx context.Context) (*SweepResult, error) {
	return e.sweep(ctx, e.policy.InactivityDays)
}

// DecayInactiveForDays runs a decay pass using days as the inactivity
// threshold instead of the configured one.
func (e *DecayEngine) DecayInactiveForDays(ctx context.Context, days int) (*SweepResult, error) {
	if days < 0 {
		return nil, fmt.Errorf("inactivity threshold must not be negative, got %d", days)
	}
	return e.sweep(ctx, days)
}

// DecayOne decays a single lead if it is eligible. It reports whether the
// score was lowered.
func (e *DecayEngine) DecayOne(ctx context.Context, leadID string) (bool, error) {
	before, after, err := e.mutator.Apply(ctx, leadID, domain.ScoreDecay, e.decayFunc(e.policy.InactivityDays))
	if err != nil {
		return false, err
	}
	if after == nil {
		return false, nil
	}
	metrics.DecayPoints.Add(float64(before.Score - after.Score))
	return true, nil
}

// Statistics counts leads and decay-eligible leads without writing anything.
func (e *DecayEngine) Statistics(ctx context.Context) (*DecayStatistics, error) {
	stats := &DecayStatistics{}
	now := e.mutator.clock.Now()
	sum := 0
	after := ""
	for {
		page, err := e.repo.ListLeads(ctx, domain.LeadQuery{AfterID: after, Limit: e.pageSize})
		if err != nil {
			return nil, fmt.Errorf("list leads: %w", err)
		}
		for i := range page {
			stats.TotalLeads++
			sum += page[i].Score
			if _, ok := e.eligible(&page[i], e.policy.InactivityDays, now); ok {
				stats.EligibleForDecay++
			}
		}
		if len(page) < e.pageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	if stats.TotalLeads > 0 {
		stats.AverageScore = round2(float64(sum) / float64(stats.TotalLeads))
		stats.EligiblePercentage = round2(float64(stats.EligibleForDecay) * 100 / float64(stats.TotalLeads))
	}
	return stats, nil
}

func (e *DecayEngine) sweep(ctx context.Context, threshold int) (*SweepResult, error) {
	res := &SweepResult{StartedAt: e.mutator.clock.Now()}
	defer func() { res.FinishedAt = e.mutator.clock.Now() }()

	log := e.mutator.log
	fn := e.decayFunc(threshold)
	after := ""
	interrupted := func(err error) (*SweepResult, error) {
		res.Interrupted = true
		log.Warn("decay sweep interrupted", "scanned", res.Scanned, "last_lead_id", res.LastLeadID)
		return res, err
	}
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return interrupted(err)
		}
		if page > 0 && e.throttle != nil {
			if err := e.throttle.Wait(ctx); err != nil {
				return interrupted(err)
			}
		}

		leads, err := e.repo.ListLeads(ctx, domain.LeadQuery{AfterID: after, Limit: e.pageSize, MinScore: 1})
		if err != nil {
			return res, fmt.Errorf("list leads after %q: %w", after, err)
		}

		now := e.mutator.clock.Now()
		for i := range leads {
			if err := ctx.Err(); err != nil {
				return interrupted(err)
			}
			lead := &leads[i]
			res.Scanned++
			if _, ok := e.eligible(lead, threshold, now); !ok {
				res.Skipped++
				metrics.SweepLeads.WithLabelValues("decay", "skipped").Inc()
				res.LastLeadID = lead.ID
				continue
			}
			before, changed, err := e.mutator.Apply(ctx, lead.ID, domain.ScoreDecay, fn)
			if err != nil && ctx.Err() != nil {
				// Not written; the cursor stays on the previous lead.
				res.Scanned--
				return interrupted(ctx.Err())
			}
			switch {
			case err != nil:
				res.Failed++
				res.Failures = append(res.Failures, domain.ItemFailure{LeadID: lead.ID, Error: err.Error()})
				metrics.SweepLeads.WithLabelValues("decay", "failed").Inc()
				log.Warn("decay failed", "lead_id", lead.ID, "error", err)
			case changed != nil:
				res.Affected++
				res.PointsTaken += before.Score - changed.Score
				metrics.DecayPoints.Add(float64(before.Score - changed.Score))
				metrics.SweepLeads.WithLabelValues("decay", "affected").Inc()
			default:
				res.Skipped++
				metrics.SweepLeads.WithLabelValues("decay", "skipped").Inc()
			}
			res.LastLeadID = lead.ID
		}

		if len(leads) < e.pageSize {
			break
		}
		after = leads[len(leads)-1].ID
	}

	log.Info("decay sweep complete",
		"threshold_days", threshold,
		"scanned", res.Scanned,
		"affected", res.Affected,
		"failed", res.Failed,
		"points", res.PointsTaken,
	)
	return res, nil
}

// decayFunc re-checks eligibility on the locked row so concurrent sweeps
// cannot decay the same lead twice inside one window.
func (e *DecayEngine) decayFunc(threshold int) domain.ScoreUpdateFunc {
	return func(cur domain.Lead) (*domain.ScoreUpdate, error) {
		now := e.mutator.clock.Now()
		days, ok := e.eligible(&cur, threshold, now)
		if !ok {
			return nil, nil
		}
		next := e.policy.Decay(cur.Score, days)
		if next >= cur.Score {
			return nil, nil
		}

		key, vars := events.ReasonDecay, map[string]any{
			"days_inactive": days,
			"amount":        cur.Score - next,
			"threshold":     threshold,
		}
		if threshold != e.policy.InactivityDays {
			key = events.ReasonDecayThreshold
		}
		return &domain.ScoreUpdate{
			Score:     next,
			DecayedAt: &now,
			Reason:    e.mutator.reasons.Format(key, vars),
		}, nil
	}
}

// eligible reports whether lead may decay now and returns its inactivity in
// days. A lead with no recorded activity is always eligible and its
// inactivity is measured from creation.
func (e *DecayEngine) eligible(lead *domain.Lead, threshold int, now time.Time) (int, bool) {
	if lead.Score <= domain.MinScore {
		return 0, false
	}
	if lead.LastDecayedAt != nil && e.policy.Window > 0 && now.Sub(*lead.LastDecayedAt) < e.policy.Window {
		return 0, false
	}
	days, _ := lead.DaysInactive(now)
	if lead.LastActivityAt == nil {
		return days, true
	}
	return days, days > threshold
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

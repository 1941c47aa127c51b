package score

import (
	"context"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/ignite/leadscore/internal/scoring"
)

// LeadRepository defines the lead store operations the score service needs.
type LeadRepository interface {
	// GetLead returns domain.ErrNotFound when the lead does not exist.
	GetLead(ctx context.Context, id string) (*domain.Lead, error)

	// ListLeads returns one keyset page of leads ordered by ID.
	ListLeads(ctx context.Context, q domain.LeadQuery) ([]domain.Lead, error)

	// UpdateScore locks the lead, passes its current state to fn and writes
	// the returned update. after is nil when fn returned no update. Returns
	// domain.ErrNotFound when the lead does not exist.
	UpdateScore(ctx context.Context, id string, fn domain.ScoreUpdateFunc) (before, after *domain.Lead, err error)
}

// Calculator scores a lead from its attributes.
type Calculator interface {
	Calculate(lead *domain.Lead) scoring.Result
}

// Throttle paces bulk sweeps between pages. *rate.Limiter satisfies it.
type Throttle interface {
	Wait(ctx context.Context) error
}

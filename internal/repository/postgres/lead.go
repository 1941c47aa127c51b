package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/leadscore/internal/domain"
)

const leadColumns = `id, user_id, name, email, phone, company, position, tags, status, source,
	activity_count, score, first_contact_at, last_activity_at, last_decayed_at, created_at, updated_at`

// LeadRepo implements the score and segment services' lead stores against
// PostgreSQL. Only score columns are ever written.
type LeadRepo struct{ db *sql.DB }

// NewLeadRepo creates a Postgres-backed lead repository.
func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*domain.Lead, error) {
	var (
		l                                   domain.Lead
		email, phone, company, position     sql.NullString
		firstContact, lastActivity, decayed sql.NullTime
		tags                                pq.StringArray
	)
	if err := row.Scan(
		&l.ID, &l.UserID, &l.Name, &email, &phone, &company, &position, &tags, &l.Status, &l.Source,
		&l.ActivityCount, &l.Score, &firstContact, &lastActivity, &decayed, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	l.Email = email.String
	l.Phone = phone.String
	l.Company = company.String
	l.Position = position.String
	l.Tags = []string(tags)
	l.FirstContactAt = nullTime(firstContact)
	l.LastActivityAt = nullTime(lastActivity)
	l.LastDecayedAt = nullTime(decayed)
	return &l, nil
}

func (r *LeadRepo) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// ListLeads returns leads with ID greater than q.AfterID in ID order.
func (r *LeadRepo) ListLeads(ctx context.Context, q domain.LeadQuery) ([]domain.Lead, error) {
	where := []string{"id > $1"}
	args := []any{q.AfterID}
	if q.UserID != "" {
		args = append(args, q.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if q.MinScore > 0 {
		args = append(args, q.MinScore)
		where = append(where, fmt.Sprintf("score >= $%d", len(args)))
	}
	if q.InactiveBefore != nil {
		args = append(args, *q.InactiveBefore)
		where = append(where, fmt.Sprintf("COALESCE(last_activity_at, created_at) < $%d", len(args)))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM leads WHERE %s ORDER BY id LIMIT $%d`,
		leadColumns, strings.Join(where, " AND "), len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// UpdateScore locks the lead row, lets fn compute the new score from the
// locked state and writes it in the same transaction.
func (r *LeadRepo) UpdateScore(ctx context.Context, id string, fn domain.ScoreUpdateFunc) (*domain.Lead, *domain.Lead, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin score update: %w", err)
	}
	defer tx.Rollback()

	before, err := scanLead(tx.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock lead: %w", err)
	}

	u, err := fn(*before)
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		return before, nil, nil
	}

	after := *before
	after.Score = u.Score
	var decayedAt any
	if u.DecayedAt != nil {
		decayedAt = *u.DecayedAt
		after.LastDecayedAt = u.DecayedAt
	}
	if err := tx.QueryRowContext(ctx, `
		UPDATE leads
		SET score = $2, last_decayed_at = COALESCE($3, last_decayed_at), updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, id, u.Score, decayedAt).Scan(&after.UpdatedAt); err != nil {
		return nil, nil, fmt.Errorf("update score: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit score update: %w", err)
	}
	return before, &after, nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadscore/internal/domain"
)

const segmentColumns = `id, user_id, name, description, rules, active, lead_count, last_synced_at, created_at, updated_at`

// SegmentRepo stores segments and their rule sets. Rules are kept as JSONB.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

func scanSegment(row rowScanner) (*domain.Segment, error) {
	var (
		s      domain.Segment
		rules  []byte
		synced sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Description, &rules, &s.Active,
		&s.LeadCount, &synced, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &s.Rules); err != nil {
			return nil, fmt.Errorf("decode rules of segment %s: %w", s.ID, err)
		}
	}
	s.LastSyncedAt = nullTime(synced)
	return &s, nil
}

func (r *SegmentRepo) GetSegment(ctx context.Context, id string) (*domain.Segment, error) {
	s, err := scanSegment(r.db.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return s, nil
}

func (r *SegmentRepo) ListSegments(ctx context.Context, q domain.SegmentQuery) ([]domain.Segment, error) {
	where := []string{"id > $1"}
	args := []any{q.AfterID}
	if q.ActiveOnly {
		where = append(where, "active")
	}
	if q.UserID != "" {
		args = append(args, q.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM segments WHERE %s ORDER BY id LIMIT $%d`,
		segmentColumns, strings.Join(where, " AND "), len(args),
	), args...)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SegmentRepo) CreateSegment(ctx context.Context, s *domain.Segment) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	rules, err := marshalRules(s.Rules)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO segments (id, user_id, name, description, rules, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`, s.ID, s.UserID, s.Name, s.Description, rules, s.Active).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	return nil
}

func (r *SegmentRepo) UpdateSegment(ctx context.Context, s *domain.Segment) error {
	rules, err := marshalRules(s.Rules)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		UPDATE segments
		SET name = $2, description = $3, rules = $4, active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, s.ID, s.Name, s.Description, rules, s.Active).Scan(&s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}
	return nil
}

func (r *SegmentRepo) DeleteSegment(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM segments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SegmentRepo) UpdateStats(ctx context.Context, id string, leadCount int, syncedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE segments SET lead_count = $2, last_synced_at = $3 WHERE id = $1`,
		id, leadCount, syncedAt,
	)
	if err != nil {
		return fmt.Errorf("update segment stats: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func marshalRules(rules []domain.Rule) ([]byte, error) {
	if rules == nil {
		rules = []domain.Rule{}
	}
	b, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	return b, nil
}

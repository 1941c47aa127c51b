package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// AssociationRepo stores lead-segment membership in lead_segments.
type AssociationRepo struct{ db *sql.DB }

// NewAssociationRepo creates a Postgres-backed association repository.
func NewAssociationRepo(db *sql.DB) *AssociationRepo { return &AssociationRepo{db: db} }

// ReplaceForLead diffs the stored membership against segmentIDs inside one
// transaction, holding the lead's rows locked.
func (r *AssociationRepo) ReplaceForLead(ctx context.Context, leadID string, segmentIDs []string) ([]string, []string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	current, err := queryIDs(ctx, tx,
		`SELECT segment_id FROM lead_segments WHERE lead_id = $1 ORDER BY segment_id FOR UPDATE`, leadID)
	if err != nil {
		return nil, nil, fmt.Errorf("load associations: %w", err)
	}

	want := make(map[string]struct{}, len(segmentIDs))
	var added []string
	have := make(map[string]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}
	for _, id := range segmentIDs {
		if _, dup := want[id]; dup {
			continue
		}
		want[id] = struct{}{}
		if _, ok := have[id]; !ok {
			added = append(added, id)
		}
	}
	var removed []string
	for _, id := range current {
		if _, ok := want[id]; !ok {
			removed = append(removed, id)
		}
	}

	if len(removed) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM lead_segments WHERE lead_id = $1 AND segment_id = ANY($2)`,
			leadID, pq.Array(removed),
		); err != nil {
			return nil, nil, fmt.Errorf("remove associations: %w", err)
		}
	}
	if len(added) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lead_segments (lead_id, segment_id, added_at)
			SELECT $1, unnest($2::text[]), NOW()
			ON CONFLICT (lead_id, segment_id) DO NOTHING
		`, leadID, pq.Array(added)); err != nil {
			return nil, nil, fmt.Errorf("add associations: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit replace: %w", err)
	}
	return added, removed, nil
}

func (r *AssociationRepo) Add(ctx context.Context, leadID, segmentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_segments (lead_id, segment_id, added_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (lead_id, segment_id) DO NOTHING
	`, leadID, segmentID)
	if err != nil {
		return false, fmt.Errorf("add association: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *AssociationRepo) Remove(ctx context.Context, leadID, segmentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM lead_segments WHERE lead_id = $1 AND segment_id = $2`,
		leadID, segmentID,
	)
	if err != nil {
		return false, fmt.Errorf("remove association: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *AssociationRepo) ListForLead(ctx context.Context, leadID string) ([]string, error) {
	ids, err := queryIDs(ctx, r.db,
		`SELECT segment_id FROM lead_segments WHERE lead_id = $1 ORDER BY segment_id`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list lead associations: %w", err)
	}
	return ids, nil
}

func (r *AssociationRepo) ListForSegment(ctx context.Context, segmentID, afterLeadID string, limit int) ([]string, error) {
	ids, err := queryIDs(ctx, r.db, `
		SELECT lead_id FROM lead_segments
		WHERE segment_id = $1 AND lead_id > $2
		ORDER BY lead_id
		LIMIT $3
	`, segmentID, afterLeadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list segment members: %w", err)
	}
	return ids, nil
}

func (r *AssociationRepo) CountForSegment(ctx context.Context, segmentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lead_segments WHERE segment_id = $1`, segmentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count segment members: %w", err)
	}
	return n, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

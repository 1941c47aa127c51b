package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadscore/internal/domain"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var leadCols = []string{
	"id", "user_id", "name", "email", "phone", "company", "position", "tags", "status", "source",
	"activity_count", "score", "first_contact_at", "last_activity_at", "last_decayed_at", "created_at", "updated_at",
}

func leadRow(id string, score int, lastActivity any) *sqlmock.Rows {
	return sqlmock.NewRows(leadCols).AddRow(
		id, "u1", "Ana", "ana@acme.com", nil, "Acme", nil, "{vip,enterprise}", "qualified", "referral",
		3, score, nil, lastActivity, nil, testNow.Add(-100*24*time.Hour), testNow,
	)
}

// =============================================================================
// LEADS
// =============================================================================

func TestLeadRepo_GetLead(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)
	last := testNow.Add(-95 * 24 * time.Hour)

	mock.ExpectQuery(`SELECT id, user_id, .+ FROM leads WHERE id = \$1`).
		WithArgs("l1").
		WillReturnRows(leadRow("l1", 50, last))

	lead, err := repo.GetLead(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, "l1", lead.ID)
	assert.Equal(t, domain.StatusQualified, lead.Status)
	assert.Equal(t, []string{"vip", "enterprise"}, lead.Tags)
	assert.Equal(t, "", lead.Phone)
	require.NotNil(t, lead.LastActivityAt)
	assert.True(t, lead.LastActivityAt.Equal(last))
	assert.Nil(t, lead.FirstContactAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepo_GetLead_NotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)

	mock.ExpectQuery(`FROM leads WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(leadCols))

	_, err := repo.GetLead(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLeadRepo_ListLeads_BuildsFilters(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)
	cutoff := testNow.Add(-30 * 24 * time.Hour)

	mock.ExpectQuery(`FROM leads WHERE id > \$1 AND user_id = \$2 AND score >= \$3 AND COALESCE\(last_activity_at, created_at\) < \$4 ORDER BY id LIMIT \$5`).
		WithArgs("l1", "u1", 1, cutoff, 2).
		WillReturnRows(leadRow("l2", 10, nil).AddRow(
			"l3", "u1", "Bia", nil, nil, nil, nil, "{}", "new", "event",
			0, 5, nil, nil, nil, testNow, testNow,
		))

	leads, err := repo.ListLeads(context.Background(), domain.LeadQuery{
		AfterID:        "l1",
		Limit:          2,
		UserID:         "u1",
		MinScore:       1,
		InactiveBefore: &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "l3", leads[1].ID)
	assert.Empty(t, leads[1].Tags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepo_ListLeads_DefaultLimit(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)

	mock.ExpectQuery(`FROM leads WHERE id > \$1 ORDER BY id LIMIT \$2`).
		WithArgs("", 500).
		WillReturnRows(sqlmock.NewRows(leadCols))

	leads, err := repo.ListLeads(context.Background(), domain.LeadQuery{})
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestLeadRepo_UpdateScore_WritesInsideTransaction(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)
	decayedAt := testNow

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM leads WHERE id = \$1 FOR UPDATE`).
		WithArgs("l1").
		WillReturnRows(leadRow("l1", 50, nil))
	mock.ExpectQuery(`UPDATE leads`).
		WithArgs("l1", 30, decayedAt).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(testNow.Add(time.Second)))
	mock.ExpectCommit()

	before, after, err := repo.UpdateScore(context.Background(), "l1", func(cur domain.Lead) (*domain.ScoreUpdate, error) {
		assert.Equal(t, 50, cur.Score)
		return &domain.ScoreUpdate{Score: 30, DecayedAt: &decayedAt}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 50, before.Score)
	assert.Equal(t, 30, after.Score)
	require.NotNil(t, after.LastDecayedAt)
	assert.True(t, after.UpdatedAt.Equal(testNow.Add(time.Second)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepo_UpdateScore_NoUpdateRollsBack(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("l1").WillReturnRows(leadRow("l1", 0, nil))
	mock.ExpectRollback()

	before, after, err := repo.UpdateScore(context.Background(), "l1", func(domain.Lead) (*domain.ScoreUpdate, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.NotNil(t, before)
	assert.Nil(t, after)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepo_UpdateScore_NotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("ghost").WillReturnRows(sqlmock.NewRows(leadCols))
	mock.ExpectRollback()

	called := false
	_, _, err := repo.UpdateScore(context.Background(), "ghost", func(domain.Lead) (*domain.ScoreUpdate, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepo_UpdateScore_FuncErrorRollsBack(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLeadRepo(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("l1").WillReturnRows(leadRow("l1", 10, nil))
	mock.ExpectRollback()

	_, _, err := repo.UpdateScore(context.Background(), "l1", func(domain.Lead) (*domain.ScoreUpdate, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// SEGMENTS
// =============================================================================

var segmentCols = []string{
	"id", "user_id", "name", "description", "rules", "active", "lead_count", "last_synced_at", "created_at", "updated_at",
}

func TestSegmentRepo_GetSegment_DecodesRules(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSegmentRepo(db)

	mock.ExpectQuery(`FROM segments WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(segmentCols).AddRow(
			"s1", "u1", "Qualified", "", []byte(`[{"field":"status","operator":"=","value":"qualified"},{"field":"score","operator":">","value":50}]`),
			true, 12, nil, testNow, testNow,
		))

	seg, err := repo.GetSegment(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, seg.Rules, 2)
	assert.Equal(t, domain.OpEquals, seg.Rules[0].Operator)
	assert.Equal(t, "qualified", seg.Rules[0].Value)
	assert.Equal(t, float64(50), seg.Rules[1].Value)
	assert.Equal(t, 12, seg.LeadCount)
	assert.Nil(t, seg.LastSyncedAt)
}

func TestSegmentRepo_ListSegments_ActiveOnly(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSegmentRepo(db)

	mock.ExpectQuery(`FROM segments WHERE id > \$1 AND active ORDER BY id LIMIT \$2`).
		WithArgs("", 100).
		WillReturnRows(sqlmock.NewRows(segmentCols).
			AddRow("s1", "u1", "A", "", []byte(`[]`), true, 0, nil, testNow, testNow).
			AddRow("s2", "u1", "B", "", []byte(`[]`), true, 0, testNow, testNow, testNow))

	segs, err := repo.ListSegments(context.Background(), domain.SegmentQuery{ActiveOnly: true, Limit: 100})
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.NotNil(t, segs[1].LastSyncedAt)
}

func TestSegmentRepo_CreateAssignsID(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSegmentRepo(db)

	mock.ExpectQuery(`INSERT INTO segments`).
		WithArgs(sqlmock.AnyArg(), "u1", "VIPs", "", []byte(`[{"field":"tags","operator":"in","value":["vip"]}]`), true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(testNow, testNow))

	seg := &domain.Segment{
		UserID: "u1",
		Name:   "VIPs",
		Active: true,
		Rules:  []domain.Rule{{Field: "tags", Operator: domain.OpIn, Value: []string{"vip"}}},
	}
	require.NoError(t, repo.CreateSegment(context.Background(), seg))
	assert.NotEmpty(t, seg.ID)
	assert.True(t, seg.CreatedAt.Equal(testNow))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSegmentRepo_UpdateAndDeleteNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSegmentRepo(db)

	mock.ExpectQuery(`UPDATE segments`).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))
	mock.ExpectExec(`DELETE FROM segments WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSegment(context.Background(), &domain.Segment{ID: "ghost", Name: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = repo.DeleteSegment(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSegmentRepo_UpdateStats(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSegmentRepo(db)

	mock.ExpectExec(`UPDATE segments SET lead_count = \$2, last_synced_at = \$3 WHERE id = \$1`).
		WithArgs("s1", 42, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStats(context.Background(), "s1", 42, testNow))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// ASSOCIATIONS
// =============================================================================

func TestAssociationRepo_ReplaceForLead(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewAssociationRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT segment_id FROM lead_segments WHERE lead_id = \$1 ORDER BY segment_id FOR UPDATE`).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"segment_id"}).AddRow("s1").AddRow("s2"))
	mock.ExpectExec(`DELETE FROM lead_segments WHERE lead_id = \$1 AND segment_id = ANY\(\$2\)`).
		WithArgs("l1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO lead_segments`).
		WithArgs("l1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	added, removed, err := repo.ReplaceForLead(context.Background(), "l1", []string{"s2", "s3", "s3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, added)
	assert.Equal(t, []string{"s1"}, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssociationRepo_ReplaceForLead_Unchanged(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewAssociationRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT segment_id FROM lead_segments`).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"segment_id"}).AddRow("s1"))
	mock.ExpectCommit()

	added, removed, err := repo.ReplaceForLead(context.Background(), "l1", []string{"s1"})
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Empty(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssociationRepo_AddRemove(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewAssociationRepo(db)

	mock.ExpectExec(`INSERT INTO lead_segments`).WithArgs("l1", "s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO lead_segments`).WithArgs("l1", "s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM lead_segments`).WithArgs("l1", "s1").WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := repo.Add(context.Background(), "l1", "s1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.Add(context.Background(), "l1", "s1")
	require.NoError(t, err)
	assert.False(t, added)
	removed, err := repo.Remove(context.Background(), "l1", "s1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAssociationRepo_Listing(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewAssociationRepo(db)

	mock.ExpectQuery(`SELECT lead_id FROM lead_segments`).
		WithArgs("s1", "l1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"lead_id"}).AddRow("l2").AddRow("l7"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM lead_segments WHERE segment_id = \$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))

	ids, err := repo.ListForSegment(context.Background(), "s1", "l1", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"l2", "l7"}, ids)

	n, err := repo.CountForSegment(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

// =============================================================================
// MIGRATIONS
// =============================================================================

func TestMigrate_AppliesPendingOnly(t *testing.T) {
	db, mock := setupTestDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("001_leads").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("002_segments").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS segments`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_segments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := Migrate(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, []string{"002_segments"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package segment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/ignite/leadscore/internal/events"
	"github.com/ignite/leadscore/internal/metrics"
	"github.com/ignite/leadscore/internal/pkg/clock"
	"github.com/ignite/leadscore/internal/pkg/logger"
	"github.com/ignite/leadscore/internal/segmentation"
)

const (
	defaultPageSize    = 500
	defaultConcurrency = 8
	snapshotKey        = "active_segments"
)

// LeadSyncResult is the outcome of synchronizing one lead.
type LeadSyncResult struct {
	LeadID  string   `json:"lead_id"`
	Found   bool     `json:"found"`
	Matched []string `json:"matched"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// BulkResult summarizes a multi-lead synchronization. LastLeadID is the
// resume cursor: every lead up to and including it was processed.
type BulkResult struct {
	Found       bool                 `json:"found"`
	Segments    int                  `json:"segments"`
	Processed   int                  `json:"processed"`
	Matched     int                  `json:"matched"`
	Added       int                  `json:"added"`
	Removed     int                  `json:"removed"`
	Failed      int                  `json:"failed"`
	Failures    []domain.ItemFailure `json:"failures,omitempty"`
	LastLeadID  string               `json:"last_lead_id,omitempty"`
	Interrupted bool                 `json:"interrupted"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

func (r *BulkResult) fail(leadID string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, domain.ItemFailure{LeadID: leadID, Error: err.Error()})
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithPageSize sets how many leads or segments are loaded per page.
func WithPageSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithConcurrency bounds how many leads of one page SynchronizeAll
// reconciles at once.
func WithConcurrency(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSnapshotTTL caches the active-segment snapshot used by SynchronizeLead
// for ttl. Zero disables the cache.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(s *Synchronizer) {
		if ttl > 0 {
			s.snapshots = cache.New(ttl, 2*ttl)
		} else {
			s.snapshots = nil
		}
	}
}

// WithOwnerScope restricts matching to leads and segments of the same owner.
func WithOwnerScope(enabled bool) Option {
	return func(s *Synchronizer) { s.scopeToOwner = enabled }
}

// WithMatcher replaces the default rule matcher.
func WithMatcher(m *segmentation.Matcher) Option {
	return func(s *Synchronizer) { s.matcher = m }
}

// WithSink sets where LeadSegmentsSynchronized events go.
func WithSink(sink events.Sink) Option {
	return func(s *Synchronizer) { s.sink = sink }
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Synchronizer) { s.clock = clk }
}

// Synchronizer reconciles stored associations with rule evaluation. It is
// safe for concurrent use.
type Synchronizer struct {
	leads        LeadRepository
	segments     SegmentRepository
	assoc        AssociationRepository
	matcher      *segmentation.Matcher
	sink         events.Sink
	clock        clock.Clock
	snapshots    *cache.Cache
	pageSize     int
	concurrency  int
	scopeToOwner bool
	log          *logger.Logger
}

// NewSynchronizer creates a Synchronizer over the given stores.
func NewSynchronizer(leads LeadRepository, segments SegmentRepository, assoc AssociationRepository, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		leads:       leads,
		segments:    segments,
		assoc:       assoc,
		matcher:     segmentation.NewMatcher(),
		sink:        events.Discard{},
		clock:       clock.System(),
		pageSize:    defaultPageSize,
		concurrency: defaultConcurrency,
		log:         logger.With("segment-sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InvalidateSnapshot drops the cached active-segment snapshot so the next
// SynchronizeLead sees segment changes immediately.
func (s *Synchronizer) InvalidateSnapshot() {
	if s.snapshots != nil {
		s.snapshots.Delete(snapshotKey)
	}
}

// SynchronizeLead replaces the lead's associations with exactly the active
// segments it matches. A missing lead is logged and reported with
// Found=false.
func (s *Synchronizer) SynchronizeLead(ctx context.Context, leadID string) (*LeadSyncResult, error) {
	lead, err := s.leads.GetLead(ctx, leadID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("synchronize lead: lead not found", "lead_id", leadID)
		return &LeadSyncResult{LeadID: leadID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead %s: %w", leadID, err)
	}

	segs, err := s.activeSegments(ctx, true)
	if err != nil {
		return nil, err
	}
	res, err := s.syncLead(ctx, lead, segs)
	if err != nil {
		metrics.SegmentSyncs.WithLabelValues("lead", "error").Inc()
		return nil, err
	}
	metrics.SegmentSyncs.WithLabelValues("lead", "ok").Inc()
	return res, nil
}

// SynchronizeSegment attaches every lead that matches the segment. Leads
// that no longer match keep their association; only SynchronizeLead removes
// memberships. A missing segment is logged and reported with Found=false.
func (s *Synchronizer) SynchronizeSegment(ctx context.Context, segmentID string) (*BulkResult, error) {
	res := &BulkResult{StartedAt: s.clock.Now()}
	defer func() { res.FinishedAt = s.clock.Now() }()

	seg, err := s.segments.GetSegment(ctx, segmentID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("synchronize segment: segment not found", "segment_id", segmentID)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get segment %s: %w", segmentID, err)
	}
	res.Found = true
	res.Segments = 1
	s.checkRules(seg)

	q := domain.LeadQuery{Limit: s.pageSize}
	if s.scopeToOwner {
		q.UserID = seg.UserID
	}
	err = s.pageLeads(ctx, q, res, func(page []domain.Lead) error {
		for i := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			lead := &page[i]
			if s.matcher.Matches(lead, seg) {
				added, err := s.assoc.Add(ctx, lead.ID, seg.ID)
				if err != nil && ctx.Err() != nil {
					return ctx.Err()
				}
				res.Matched++
				if err != nil {
					res.fail(lead.ID, err)
					s.log.Warn("attach lead failed", "lead_id", lead.ID, "segment_id", seg.ID, "error", err)
				} else if added {
					res.Added++
				}
			}
			res.Processed++
			res.LastLeadID = lead.ID
		}
		return nil
	})
	s.recordStats(ctx, seg.ID)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SegmentSyncs.WithLabelValues("segment", outcome).Inc()
	s.log.Info("segment synchronized",
		"segment_id", seg.ID,
		"processed", res.Processed,
		"matched", res.Matched,
		"added", res.Added,
		"failed", res.Failed,
	)
	return res, err
}

// SynchronizeAll runs SynchronizeLead for every lead against one snapshot of
// the active segments.
func (s *Synchronizer) SynchronizeAll(ctx context.Context) (*BulkResult, error) {
	return s.SynchronizeAllFrom(ctx, "")
}

// SynchronizeAllFrom is SynchronizeAll starting after the lead afterLeadID,
// typically the LastLeadID of an interrupted run. Per-lead failures are
// recorded and do not stop the sweep. On cancellation the partial result is
// returned with the context error.
func (s *Synchronizer) SynchronizeAllFrom(ctx context.Context, afterLeadID string) (*BulkResult, error) {
	res := &BulkResult{Found: true, StartedAt: s.clock.Now(), LastLeadID: afterLeadID}
	defer func() { res.FinishedAt = s.clock.Now() }()

	segs, err := s.activeSegments(ctx, false)
	if err != nil {
		return nil, err
	}
	res.Segments = len(segs)

	var mu sync.Mutex
	err = s.pageLeads(ctx, domain.LeadQuery{AfterID: afterLeadID, Limit: s.pageSize}, res, func(page []domain.Lead) error {
		done := make([]bool, len(page))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for i := range page {
			lead := &page[i]
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				lr, err := s.syncLead(gctx, lead, segs)
				if err != nil && gctx.Err() != nil {
					// Aborted by cancellation, not a store failure.
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				done[i] = true
				res.Processed++
				if err != nil {
					res.fail(lead.ID, err)
					metrics.SweepLeads.WithLabelValues("sync", "failed").Inc()
					s.log.Warn("lead synchronization failed", "lead_id", lead.ID, "error", err)
					return nil
				}
				res.Matched += len(lr.Matched)
				res.Added += len(lr.Added)
				res.Removed += len(lr.Removed)
				metrics.SweepLeads.WithLabelValues("sync", "ok").Inc()
				return nil
			})
		}
		_ = g.Wait()

		// The cursor only passes leads that were attempted without a gap, so
		// a resumed run revisits everything a cancellation skipped.
		for i := range page {
			if !done[i] {
				break
			}
			res.LastLeadID = page[i].ID
		}
		return ctx.Err()
	})
	if err != nil {
		metrics.SegmentSyncs.WithLabelValues("all", "error").Inc()
		s.log.Warn("full synchronization stopped", "processed", res.Processed, "resume_after", res.LastLeadID, "error", err)
		return res, err
	}

	for i := range segs {
		s.recordStats(ctx, segs[i].ID)
	}
	metrics.SegmentSyncs.WithLabelValues("all", "ok").Inc()
	s.log.Info("full synchronization complete",
		"segments", res.Segments,
		"processed", res.Processed,
		"added", res.Added,
		"removed", res.Removed,
		"failed", res.Failed,
	)
	return res, nil
}

// AddLeadToSegment attaches the lead only if it currently matches the
// segment's rules. It reports whether the lead is a member afterwards.
func (s *Synchronizer) AddLeadToSegment(ctx context.Context, leadID, segmentID string) (bool, error) {
	lead, seg, err := s.loadPair(ctx, leadID, segmentID)
	if err != nil || lead == nil || seg == nil {
		return false, err
	}
	if !s.matcher.Matches(lead, seg) {
		s.log.Info("refusing to attach non-matching lead", "lead_id", leadID, "segment_id", segmentID)
		return false, nil
	}
	if _, err := s.assoc.Add(ctx, leadID, segmentID); err != nil {
		return false, fmt.Errorf("attach lead %s to segment %s: %w", leadID, segmentID, err)
	}
	return true, nil
}

// RemoveLeadFromSegment detaches the lead regardless of whether it still
// matches. It reports whether an association was removed.
func (s *Synchronizer) RemoveLeadFromSegment(ctx context.Context, leadID, segmentID string) (bool, error) {
	lead, seg, err := s.loadPair(ctx, leadID, segmentID)
	if err != nil || lead == nil || seg == nil {
		return false, err
	}
	removed, err := s.assoc.Remove(ctx, leadID, segmentID)
	if err != nil {
		return false, fmt.Errorf("detach lead %s from segment %s: %w", leadID, segmentID, err)
	}
	return removed, nil
}

// EvaluateSegment returns the IDs of all leads that currently match the
// segment without touching stored associations.
func (s *Synchronizer) EvaluateSegment(ctx context.Context, segmentID string) ([]string, error) {
	seg, err := s.segments.GetSegment(ctx, segmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, segmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get segment %s: %w", segmentID, err)
	}
	s.checkRules(seg)

	q := domain.LeadQuery{Limit: s.pageSize}
	if s.scopeToOwner {
		q.UserID = seg.UserID
	}
	ids := make([]string, 0)
	err = s.pageLeads(ctx, q, &BulkResult{}, func(page []domain.Lead) error {
		for _, lead := range s.matcher.EvaluateSegment(seg, page) {
			ids = append(ids, lead.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Members lists the stored members of a segment in lead ID order.
func (s *Synchronizer) Members(ctx context.Context, segmentID, afterLeadID string, limit int) ([]string, error) {
	if _, err := s.segments.GetSegment(ctx, segmentID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, segmentID)
		}
		return nil, fmt.Errorf("get segment %s: %w", segmentID, err)
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	return s.assoc.ListForSegment(ctx, segmentID, afterLeadID, limit)
}

func (s *Synchronizer) syncLead(ctx context.Context, lead *domain.Lead, segs []domain.Segment) (*LeadSyncResult, error) {
	candidates := segs
	if s.scopeToOwner {
		candidates = make([]domain.Segment, 0, len(segs))
		for i := range segs {
			if segs[i].UserID == lead.UserID {
				candidates = append(candidates, segs[i])
			}
		}
	}

	matched := s.matcher.MatchingSegments(lead, candidates)
	added, removed, err := s.assoc.ReplaceForLead(ctx, lead.ID, matched)
	if err != nil {
		return nil, fmt.Errorf("replace associations for lead %s: %w", lead.ID, err)
	}

	s.sink.PublishSegmentsSynchronized(ctx, domain.LeadSegmentsSynchronized{
		ID:         uuid.NewString(),
		LeadID:     lead.ID,
		SegmentIDs: matched,
		Added:      added,
		Removed:    removed,
		OccurredAt: s.clock.Now(),
	})
	return &LeadSyncResult{
		LeadID:  lead.ID,
		Found:   true,
		Matched: matched,
		Added:   added,
		Removed: removed,
	}, nil
}

// pageLeads feeds keyset pages to fn, checking ctx before each page. An
// error from fn stops paging and marks res interrupted. Cursor bookkeeping
// in res is left to fn.
func (s *Synchronizer) pageLeads(ctx context.Context, q domain.LeadQuery, res *BulkResult, fn func([]domain.Lead) error) error {
	for {
		if err := ctx.Err(); err != nil {
			res.Interrupted = true
			return err
		}
		page, err := s.leads.ListLeads(ctx, q)
		if err != nil {
			return fmt.Errorf("list leads after %q: %w", q.AfterID, err)
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				res.Interrupted = true
				return err
			}
		}
		if len(page) < q.Limit {
			return nil
		}
		q.AfterID = page[len(page)-1].ID
	}
}

// activeSegments loads every active segment. cached selects the TTL
// snapshot used by single-lead syncs; bulk runs always read fresh.
func (s *Synchronizer) activeSegments(ctx context.Context, cached bool) ([]domain.Segment, error) {
	if cached && s.snapshots != nil {
		if v, ok := s.snapshots.Get(snapshotKey); ok {
			return v.([]domain.Segment), nil
		}
	}

	var segs []domain.Segment
	q := domain.SegmentQuery{ActiveOnly: true, Limit: s.pageSize}
	for {
		page, err := s.segments.ListSegments(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list active segments: %w", err)
		}
		for i := range page {
			if page[i].Active {
				segs = append(segs, page[i])
				s.checkRules(&page[i])
			}
		}
		if len(page) < q.Limit {
			break
		}
		q.AfterID = page[len(page)-1].ID
	}

	if s.snapshots != nil {
		s.snapshots.Set(snapshotKey, segs, cache.DefaultExpiration)
	}
	return segs, nil
}

func (s *Synchronizer) checkRules(seg *domain.Segment) {
	warnings := segmentation.ValidateRules(seg.Rules)
	if len(seg.Rules) == 0 {
		warnings = append(warnings, "segment has no rules and matches every lead unless rules are required")
	}
	if len(warnings) == 0 {
		return
	}
	metrics.RuleWarnings.Add(float64(len(warnings)))
	for _, w := range warnings {
		s.log.Warn("segment rule problem", "segment_id", seg.ID, "warning", w)
	}
}

func (s *Synchronizer) recordStats(ctx context.Context, segmentID string) {
	count, err := s.assoc.CountForSegment(ctx, segmentID)
	if err == nil {
		err = s.segments.UpdateStats(ctx, segmentID, count, s.clock.Now())
	}
	if err != nil {
		s.log.Warn("updating segment statistics failed", "segment_id", segmentID, "error", err)
	}
}

// loadPair returns nil values with a nil error when either record is
// missing; the miss is logged.
func (s *Synchronizer) loadPair(ctx context.Context, leadID, segmentID string) (*domain.Lead, *domain.Segment, error) {
	lead, err := s.leads.GetLead(ctx, leadID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("lead not found", "lead_id", leadID, "segment_id", segmentID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get lead %s: %w", leadID, err)
	}
	seg, err := s.segments.GetSegment(ctx, segmentID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("segment not found", "lead_id", leadID, "segment_id", segmentID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get segment %s: %w", segmentID, err)
	}
	return lead, seg, nil
}

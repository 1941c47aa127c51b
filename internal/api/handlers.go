package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/leadscore/internal/domain"
	"github.com/ignite/leadscore/internal/pkg/httputil"
	"github.com/ignite/leadscore/internal/service/score"
	"github.com/ignite/leadscore/internal/service/segment"
	"github.com/ignite/leadscore/internal/storage"
)

// maxBatchItems bounds POST /api/scores/adjust-batch.
const maxBatchItems = 1000

// ScoreService mutates lead scores.
type ScoreService interface {
	Recompute(ctx context.Context, leadID string) (*domain.Lead, error)
	Adjust(ctx context.Context, leadID string, delta int, reason string) (*domain.Lead, error)
	Set(ctx context.Context, leadID string, value int, reason string) (*domain.Lead, error)
	Multiply(ctx context.Context, leadID string, factor float64, reason string) (*domain.Lead, error)
	AdjustMany(ctx context.Context, items []score.Adjustment) []score.AdjustmentResult
}

// DecayService applies and reports on inactivity decay.
type DecayService interface {
	DecayOne(ctx context.Context, leadID string) (bool, error)
	Statistics(ctx context.Context) (*score.DecayStatistics, error)
}

// SegmentService maintains lead-segment membership.
type SegmentService interface {
	SynchronizeLead(ctx context.Context, leadID string) (*segment.LeadSyncResult, error)
	SynchronizeSegment(ctx context.Context, segmentID string) (*segment.BulkResult, error)
	EvaluateSegment(ctx context.Context, segmentID string) ([]string, error)
	Members(ctx context.Context, segmentID, afterLeadID string, limit int) ([]string, error)
	AddLeadToSegment(ctx context.Context, leadID, segmentID string) (bool, error)
	RemoveLeadFromSegment(ctx context.Context, leadID, segmentID string) (bool, error)
}

// Handlers holds the services behind the /api routes.
type Handlers struct {
	scores   ScoreService
	decay    DecayService
	segments SegmentService
	reports  storage.Archive
	sweeps   SweepRunner
}

// NewHandlers creates the API handlers. reports may be nil.
func NewHandlers(scores ScoreService, decay DecayService, segments SegmentService, reports storage.Archive) *Handlers {
	return &Handlers{scores: scores, decay: decay, segments: segments, reports: reports}
}

// LeadScoreResponse is returned by every single-lead score mutation.
type LeadScoreResponse struct {
	LeadID        string     `json:"lead_id"`
	Score         int        `json:"score"`
	LastDecayedAt *time.Time `json:"last_decayed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func leadScore(l *domain.Lead) LeadScoreResponse {
	return LeadScoreResponse{LeadID: l.ID, Score: l.Score, LastDecayedAt: l.LastDecayedAt, UpdatedAt: l.UpdatedAt}
}

type adjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type setRequest struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

type multiplyRequest struct {
	Factor float64 `json:"factor"`
	Reason string  `json:"reason"`
}

type batchRequest struct {
	Items []score.Adjustment `json:"items"`
}

type batchResponse struct {
	Results   []score.AdjustmentResult `json:"results"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

// RecomputeScore handles POST /api/leads/{id}/score/recompute
func (h *Handlers) RecomputeScore(w http.ResponseWriter, r *http.Request) {
	lead, err := h.scores.Recompute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, leadScore(lead))
}

// AdjustScore handles POST /api/leads/{id}/score/adjust
func (h *Handlers) AdjustScore(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	lead, err := h.scores.Adjust(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, leadScore(lead))
}

// SetScore handles POST /api/leads/{id}/score/set
func (h *Handlers) SetScore(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	lead, err := h.scores.Set(r.Context(), chi.URLParam(r, "id"), req.Score, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, leadScore(lead))
}

// MultiplyScore handles POST /api/leads/{id}/score/multiply
func (h *Handlers) MultiplyScore(w http.ResponseWriter, r *http.Request) {
	var req multiplyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	lead, err := h.scores.Multiply(r.Context(), chi.URLParam(r, "id"), req.Factor, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, leadScore(lead))
}

// AdjustBatch handles POST /api/scores/adjust-batch. Item failures are
// reported per item with a 200.
func (h *Handlers) AdjustBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		httputil.BadRequest(w, "items must not be empty")
		return
	}
	if len(req.Items) > maxBatchItems {
		httputil.BadRequest(w, "too many items, max "+strconv.Itoa(maxBatchItems))
		return
	}

	results := h.scores.AdjustMany(r.Context(), req.Items)
	resp := batchResponse{Results: results}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	httputil.OK(w, resp)
}

// DecayLead handles POST /api/leads/{id}/decay
func (h *Handlers) DecayLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	decayed, err := h.decay.DecayOne(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"lead_id": id, "decayed": decayed})
}

// DecayStatistics handles GET /api/scores/decay-statistics
func (h *Handlers) DecayStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.decay.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, stats)
}

// SyncLeadSegments handles POST /api/leads/{id}/segments/sync
func (h *Handlers) SyncLeadSegments(w http.ResponseWriter, r *http.Request) {
	res, err := h.segments.SynchronizeLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !res.Found {
		httputil.NotFound(w, "lead not found")
		return
	}
	httputil.OK(w, res)
}

// SyncSegment handles POST /api/segments/{id}/sync
func (h *Handlers) SyncSegment(w http.ResponseWriter, r *http.Request) {
	res, err := h.segments.SynchronizeSegment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !res.Found {
		httputil.NotFound(w, "segment not found")
		return
	}
	httputil.OK(w, res)
}

// SegmentMembers handles GET /api/segments/{id}/leads?after=&limit=
func (h *Handlers) SegmentMembers(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	after := r.URL.Query().Get("after")
	ids, err := h.segments.Members(r.Context(), chi.URLParam(r, "id"), after, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := map[string]any{"lead_ids": ids}
	if len(ids) > 0 {
		resp["next_after"] = ids[len(ids)-1]
	}
	httputil.OK(w, resp)
}

// PreviewSegment handles GET /api/segments/{id}/preview. It evaluates the
// rules without changing membership.
func (h *Handlers) PreviewSegment(w http.ResponseWriter, r *http.Request) {
	ids, err := h.segments.EvaluateSegment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"lead_ids": ids, "count": len(ids)})
}

// AddSegmentLead handles PUT /api/segments/{id}/leads/{leadID}. A lead that
// does not match the rules is rejected with 409.
func (h *Handlers) AddSegmentLead(w http.ResponseWriter, r *http.Request) {
	segID, leadID := chi.URLParam(r, "id"), chi.URLParam(r, "leadID")
	member, err := h.segments.AddLeadToSegment(r.Context(), leadID, segID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !member {
		httputil.Conflict(w, "lead does not match segment rules or does not exist")
		return
	}
	httputil.OK(w, map[string]any{"lead_id": leadID, "segment_id": segID, "member": true})
}

// RemoveSegmentLead handles DELETE /api/segments/{id}/leads/{leadID}
func (h *Handlers) RemoveSegmentLead(w http.ResponseWriter, r *http.Request) {
	segID, leadID := chi.URLParam(r, "id"), chi.URLParam(r, "leadID")
	removed, err := h.segments.RemoveLeadFromSegment(r.Context(), leadID, segID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"lead_id": leadID, "segment_id": segID, "removed": removed})
}

// ListReports handles GET /api/reports?kind=&limit=
func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		httputil.OK(w, map[string]any{"reports": []storage.Report{}})
		return
	}
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	reports, err := h.reports.ListReports(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if reports == nil {
		reports = []storage.Report{}
	}
	httputil.OK(w, map[string]any{"reports": reports})
}

func intQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		httputil.BadRequest(w, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, score.ErrLeadNotFound):
		httputil.NotFound(w, "lead not found")
	case errors.Is(err, segment.ErrSegmentNotFound):
		httputil.NotFound(w, "segment not found")
	case errors.Is(err, score.ErrInvalidFactor):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.Error(w, http.StatusServiceUnavailable, "timeout", "request cancelled before completion")
	default:
		httputil.InternalError(w, r, err)
	}
}

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/leadscore/internal/pkg/httputil"
	"github.com/ignite/leadscore/internal/pkg/logger"
	"github.com/ignite/leadscore/internal/storage"
	"github.com/ignite/leadscore/internal/worker"
)

// SweepRunner runs lock-guarded bulk sweeps and archives their reports.
type SweepRunner interface {
	RunDecay(ctx context.Context, trigger string) (*storage.Report, error)
	RunSync(ctx context.Context, trigger, fromLeadID string) (*storage.Report, error)
}

// WithSweeps enables POST /api/sweeps/{job}.
func (h *Handlers) WithSweeps(s SweepRunner) *Handlers {
	h.sweeps = s
	return h
}

// TriggerSweep handles POST /api/sweeps/{job}. The sweep runs in the
// background; its outcome lands in /api/reports.
func (h *Handlers) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeps == nil {
		httputil.NotFound(w, "sweeps are not enabled on this server")
		return
	}
	job := chi.URLParam(r, "job")
	var run func(context.Context) (*storage.Report, error)
	switch job {
	case worker.JobDecay:
		run = func(ctx context.Context) (*storage.Report, error) {
			return h.sweeps.RunDecay(ctx, worker.TriggerAPI)
		}
	case worker.JobSync:
		from := r.URL.Query().Get("from")
		run = func(ctx context.Context) (*storage.Report, error) {
			return h.sweeps.RunSync(ctx, worker.TriggerAPI, from)
		}
	default:
		httputil.BadRequest(w, "unknown sweep "+job)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		rep, err := run(ctx)
		switch {
		case errors.Is(err, worker.ErrSweepInProgress):
			logger.Info("api sweep skipped, already running", "job", job)
		case err != nil:
			logger.Error("api sweep failed", "job", job, "error", err)
		default:
			logger.Info("api sweep finished", "job", job, "report_id", rep.ID)
		}
	}()
	httputil.Accepted(w, map[string]string{"job": job, "status": "started"})
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/leadscore/internal/metrics"
	"github.com/ignite/leadscore/internal/pkg/distlock"
	"github.com/ignite/leadscore/internal/pkg/logger"
	"github.com/ignite/leadscore/internal/service/score"
	"github.com/ignite/leadscore/internal/service/segment"
	"github.com/ignite/leadscore/internal/storage"
)

// ErrSweepInProgress is returned when another worker holds the sweep lock.
var ErrSweepInProgress = errors.New("sweep already running on another worker")

// Lock names. Both decay variants share one lock so they never overlap.
const (
	JobDecay = "decay"
	JobSync  = "sync"
)

// Triggers recorded on reports.
const (
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
)

// Decayer runs decay sweeps.
type Decayer interface {
	DecayAll(ctx context.Context) (*score.SweepResult, error)
	DecayInactiveForDays(ctx context.Context, days int) (*score.SweepResult, error)
}

// SegmentSyncer runs full segment synchronizations.
type SegmentSyncer interface {
	SynchronizeAllFrom(ctx context.Context, afterLeadID string) (*segment.BulkResult, error)
}

// LockFunc returns a fresh lock instance for a sweep name.
type LockFunc func(name string) distlock.DistLock

// Sweeper runs decay and full-sync sweeps on a schedule or on demand. Every
// run holds a distributed lock and is archived as a storage.Report.
type Sweeper struct {
	decayer Decayer
	syncer  SegmentSyncer
	archive storage.Archive
	newLock LockFunc

	decayInterval time.Duration
	syncInterval  time.Duration
	lockTTL       time.Duration
	runOnStart    bool
	workerID      string

	// syncCursor is the LastLeadID of an interrupted scheduled sync.
	cursorMu   sync.Mutex
	syncCursor string

	// Stats
	decayRuns int64
	syncRuns  int64
	skipped   int64
	failures  int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex

	log *logger.Logger
}

// SweeperStats are counters since process start.
type SweeperStats struct {
	WorkerID  string `json:"worker_id"`
	Running   bool   `json:"running"`
	DecayRuns int64  `json:"decay_runs"`
	SyncRuns  int64  `json:"sync_runs"`
	Skipped   int64  `json:"skipped"`
	Failures  int64  `json:"failures"`
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithDecayInterval schedules DecayAll every d. Zero disables it.
func WithDecayInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.decayInterval = d }
}

// WithSyncInterval schedules a full synchronization every d. Zero disables it.
func WithSyncInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.syncInterval = d }
}

// WithLockTTL sets how long a sweep lock lives between refreshes.
func WithLockTTL(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithRunOnStart runs each scheduled sweep once immediately on Start.
func WithRunOnStart(b bool) SweeperOption {
	return func(s *Sweeper) { s.runOnStart = b }
}

// NewSweeper creates a sweeper. archive may be nil, in which case reports
// are returned but not stored.
func NewSweeper(decayer Decayer, syncer SegmentSyncer, archive storage.Archive, newLock LockFunc, opts ...SweeperOption) *Sweeper {
	hostname, _ := os.Hostname()
	s := &Sweeper{
		decayer:  decayer,
		syncer:   syncer,
		archive:  archive,
		newLock:  newLock,
		lockTTL:  10 * time.Minute,
		workerID: fmt.Sprintf("sweeper-%s-%d", hostname, time.Now().UnixNano()%10000),
		log:      logger.With("sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches one loop per enabled schedule.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.log.Info("starting", "worker_id", s.workerID, "decay_interval", s.decayInterval.String(), "sync_interval", s.syncInterval.String())

	if s.decayInterval > 0 {
		s.wg.Add(1)
		go s.loop(JobDecay, s.decayInterval, func(ctx context.Context) error {
			_, err := s.RunDecay(ctx, TriggerSchedule)
			return err
		})
	}
	if s.syncInterval > 0 {
		s.wg.Add(1)
		go s.loop(JobSync, s.syncInterval, s.scheduledSync)
	}
	return nil
}

// Stop cancels running sweeps and waits for the loops to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("stopped", "worker_id", s.workerID)
}

// Stats returns run counters.
func (s *Sweeper) Stats() SweeperStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SweeperStats{
		WorkerID:  s.workerID,
		Running:   running,
		DecayRuns: atomic.LoadInt64(&s.decayRuns),
		SyncRuns:  atomic.LoadInt64(&s.syncRuns),
		Skipped:   atomic.LoadInt64(&s.skipped),
		Failures:  atomic.LoadInt64(&s.failures),
	}
}

func (s *Sweeper) loop(job string, interval time.Duration, run func(context.Context) error) {
	defer s.wg.Done()

	tick := func() {
		err := run(s.ctx)
		switch {
		case errors.Is(err, ErrSweepInProgress):
			s.log.Info("sweep skipped, lock held elsewhere", "job", job)
		case err != nil && s.ctx.Err() == nil:
			s.log.Error("scheduled sweep failed", "job", job, "error", err)
		}
	}

	if s.runOnStart {
		tick()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// scheduledSync resumes after the last lead of an interrupted run.
func (s *Sweeper) scheduledSync(ctx context.Context) error {
	s.cursorMu.Lock()
	from := s.syncCursor
	s.cursorMu.Unlock()

	rep, err := s.RunSync(ctx, TriggerSchedule, from)
	if rep == nil {
		return err
	}

	var res segment.BulkResult
	cursor := ""
	if rep.Interrupted && json.Unmarshal(rep.Detail, &res) == nil {
		cursor = res.LastLeadID
	}
	s.cursorMu.Lock()
	s.syncCursor = cursor
	s.cursorMu.Unlock()
	return err
}

// RunDecay runs DecayAll under the decay lock.
func (s *Sweeper) RunDecay(ctx context.Context, trigger string) (*storage.Report, error) {
	return s.run(ctx, JobDecay, storage.KindDecay, trigger, func(ctx context.Context) (any, error) {
		res, err := s.decayer.DecayAll(ctx)
		return res, err
	})
}

// RunDecayInactive runs a decay pass with a custom inactivity threshold
// under the decay lock.
func (s *Sweeper) RunDecayInactive(ctx context.Context, trigger string, days int) (*storage.Report, error) {
	return s.run(ctx, JobDecay, storage.KindDecayInactive, trigger, func(ctx context.Context) (any, error) {
		res, err := s.decayer.DecayInactiveForDays(ctx, days)
		return res, err
	})
}

// RunSync synchronizes every lead after fromLeadID under the sync lock.
func (s *Sweeper) RunSync(ctx context.Context, trigger, fromLeadID string) (*storage.Report, error) {
	return s.run(ctx, JobSync, storage.KindSync, trigger, func(ctx context.Context) (any, error) {
		res, err := s.syncer.SynchronizeAllFrom(ctx, fromLeadID)
		return res, err
	})
}

func (s *Sweeper) run(ctx context.Context, job, kind, trigger string, sweep func(context.Context) (any, error)) (*storage.Report, error) {
	var rep *storage.Report
	ran, err := distlock.WithLock(ctx, s.newLock(job), s.lockTTL, func(ctx context.Context) error {
		start := time.Now()
		res, runErr := sweep(ctx)
		metrics.SweepDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())

		rep = newReport(kind, trigger, start, res)
		if runErr != nil {
			rep.Error = runErr.Error()
		}
		if s.archive != nil {
			if err := s.archive.SaveReport(context.WithoutCancel(ctx), rep); err != nil {
				s.log.Error("archiving sweep report failed", "job", job, "report_id", rep.ID, "error", err)
			}
		}
		return runErr
	})
	if !ran && err == nil {
		atomic.AddInt64(&s.skipped, 1)
		metrics.SweepsSkipped.WithLabelValues(job).Inc()
		return nil, ErrSweepInProgress
	}

	if job == JobDecay {
		atomic.AddInt64(&s.decayRuns, 1)
	} else {
		atomic.AddInt64(&s.syncRuns, 1)
	}
	if err != nil {
		atomic.AddInt64(&s.failures, 1)
	}
	return rep, err
}

// newReport summarizes a sweep result. res may be a nil pointer when the
// sweep failed before doing any work.
func newReport(kind, trigger string, start time.Time, res any) *storage.Report {
	rep := &storage.Report{Kind: kind, Trigger: trigger, StartedAt: start, FinishedAt: time.Now()}
	switch r := res.(type) {
	case *score.SweepResult:
		if r == nil {
			return rep
		}
		rep.StartedAt, rep.FinishedAt = r.StartedAt, r.FinishedAt
		rep.Scanned, rep.Affected, rep.Failed = r.Scanned, r.Affected, r.Failed
		rep.Interrupted = r.Interrupted
	case *segment.BulkResult:
		if r == nil {
			return rep
		}
		rep.StartedAt, rep.FinishedAt = r.StartedAt, r.FinishedAt
		rep.Scanned, rep.Affected, rep.Failed = r.Processed, r.Added+r.Removed, r.Failed
		rep.Interrupted = r.Interrupted
	default:
		return rep
	}
	if detail, err := json.Marshal(res); err == nil {
		rep.Detail = detail
	}
	return rep
}

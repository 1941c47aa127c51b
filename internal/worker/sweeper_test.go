package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadscore/internal/config"
	"github.com/ignite/leadscore/internal/pkg/distlock"
	"github.com/ignite/leadscore/internal/service/score"
	"github.com/ignite/leadscore/internal/service/segment"
	"github.com/ignite/leadscore/internal/storage"
)

var sweepStart = time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

type fakeDecayer struct {
	mu       sync.Mutex
	calls    int
	lastDays int
	err      error
}

func (f *fakeDecayer) DecayAll(ctx context.Context) (*score.SweepResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return &score.SweepResult{Scanned: 3, Failed: 1, StartedAt: sweepStart, FinishedAt: sweepStart.Add(time.Second)}, f.err
	}
	return &score.SweepResult{Scanned: 10, Affected: 4, PointsTaken: 40, StartedAt: sweepStart, FinishedAt: sweepStart.Add(time.Minute)}, nil
}

func (f *fakeDecayer) DecayInactiveForDays(ctx context.Context, days int) (*score.SweepResult, error) {
	f.mu.Lock()
	f.lastDays = days
	f.mu.Unlock()
	if days < 0 {
		return nil, errors.New("inactivity threshold must not be negative")
	}
	return &score.SweepResult{Scanned: 5, Affected: 5, StartedAt: sweepStart, FinishedAt: sweepStart.Add(time.Second)}, nil
}

func (f *fakeDecayer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSyncer struct {
	mu    sync.Mutex
	froms []string
	// interruptAt makes the next call stop after this lead.
	interruptAt string
}

func (f *fakeSyncer) SynchronizeAllFrom(ctx context.Context, after string) (*segment.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.froms = append(f.froms, after)
	if f.interruptAt != "" {
		last := f.interruptAt
		f.interruptAt = ""
		return &segment.BulkResult{Found: true, Processed: 2, LastLeadID: last, Interrupted: true,
			StartedAt: sweepStart, FinishedAt: sweepStart.Add(time.Second)}, context.Canceled
	}
	return &segment.BulkResult{Found: true, Segments: 3, Processed: 6, Added: 2, Removed: 1, LastLeadID: "l6",
		StartedAt: sweepStart, FinishedAt: sweepStart.Add(time.Second)}, nil
}

func newTestSweeper(t *testing.T, opts ...SweeperOption) (*Sweeper, *fakeDecayer, *fakeSyncer, *storage.Storage, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	archive, err := storage.New(context.Background(), config.StorageConfig{Type: "none"})
	require.NoError(t, err)

	d, sy := &fakeDecayer{}, &fakeSyncer{}
	lockFn := func(name string) distlock.DistLock { return distlock.NewRedisLock(client, name, time.Minute) }
	return NewSweeper(d, sy, archive, lockFn, opts...), d, sy, archive, client
}

func TestSweeper_RunDecayArchivesReport(t *testing.T) {
	sw, _, _, archive, _ := newTestSweeper(t)
	ctx := context.Background()

	rep, err := sw.RunDecay(ctx, TriggerCLI)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, storage.KindDecay, rep.Kind)
	assert.Equal(t, TriggerCLI, rep.Trigger)
	assert.Equal(t, 10, rep.Scanned)
	assert.Equal(t, 4, rep.Affected)
	assert.Equal(t, time.Minute, rep.Duration())
	assert.Contains(t, string(rep.Detail), `"points_taken":40`)

	stored, err := archive.ListReports(ctx, storage.KindDecay, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, rep.ID, stored[0].ID)
	assert.Equal(t, int64(1), sw.Stats().DecayRuns)
}

func TestSweeper_SkipsWhenLockHeld(t *testing.T) {
	sw, d, _, archive, client := newTestSweeper(t)
	ctx := context.Background()

	other := distlock.NewRedisLock(client, JobDecay, time.Minute)
	ok, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	rep, err := sw.RunDecayInactive(ctx, TriggerAPI, 10)
	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.Nil(t, rep)
	assert.Equal(t, 0, d.count())

	stored, err := archive.ListReports(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, int64(1), sw.Stats().Skipped)

	// sync uses its own lock
	_, err = sw.RunSync(ctx, TriggerAPI, "")
	assert.NoError(t, err)
}

func TestSweeper_FailureStillArchived(t *testing.T) {
	sw, d, _, archive, _ := newTestSweeper(t)
	d.err = errors.New("store unavailable")
	ctx := context.Background()

	rep, err := sw.RunDecay(ctx, TriggerSchedule)
	require.Error(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, "store unavailable", rep.Error)
	assert.Equal(t, 1, rep.Failed)

	stored, err := archive.ListReports(ctx, storage.KindDecay, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "store unavailable", stored[0].Error)
	assert.Equal(t, int64(1), sw.Stats().Failures)
}

func TestSweeper_RunDecayInactive(t *testing.T) {
	sw, d, _, _, _ := newTestSweeper(t)

	rep, err := sw.RunDecayInactive(context.Background(), TriggerCLI, 45)
	require.NoError(t, err)
	assert.Equal(t, storage.KindDecayInactive, rep.Kind)
	assert.Equal(t, 45, d.lastDays)

	rep, err = sw.RunDecayInactive(context.Background(), TriggerCLI, -1)
	assert.Error(t, err)
	require.NotNil(t, rep)
	assert.Zero(t, rep.Scanned)
	assert.Empty(t, rep.Detail)
}

func TestSweeper_RunSyncSummary(t *testing.T) {
	sw, _, sy, _, _ := newTestSweeper(t)

	rep, err := sw.RunSync(context.Background(), TriggerCLI, "l2")
	require.NoError(t, err)
	assert.Equal(t, storage.KindSync, rep.Kind)
	assert.Equal(t, 6, rep.Scanned)
	assert.Equal(t, 3, rep.Affected)
	assert.Equal(t, []string{"l2"}, sy.froms)
}

func TestSweeper_ScheduledSyncResumesAfterInterruption(t *testing.T) {
	sw, _, sy, _, _ := newTestSweeper(t)
	sy.interruptAt = "l4"
	ctx := context.Background()

	assert.ErrorIs(t, sw.scheduledSync(ctx), context.Canceled)
	require.NoError(t, sw.scheduledSync(ctx))
	require.NoError(t, sw.scheduledSync(ctx))

	assert.Equal(t, []string{"", "l4", ""}, sy.froms)
}

func TestSweeper_StartStop(t *testing.T) {
	sw, d, _, _, _ := newTestSweeper(t,
		WithDecayInterval(20*time.Millisecond),
		WithRunOnStart(true),
	)

	require.NoError(t, sw.Start())
	assert.Error(t, sw.Start())
	assert.True(t, sw.Stats().Running)

	require.Eventually(t, func() bool { return d.count() >= 2 }, 2*time.Second, 10*time.Millisecond)

	sw.Stop()
	assert.False(t, sw.Stats().Running)
	n := d.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, d.count())

	// second Stop is a no-op
	sw.Stop()
}

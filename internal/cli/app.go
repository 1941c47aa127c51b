package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ignite/leadscore/internal/config"
	"github.com/ignite/leadscore/internal/events"
	"github.com/ignite/leadscore/internal/pkg/clock"
	"github.com/ignite/leadscore/internal/pkg/distlock"
	"github.com/ignite/leadscore/internal/pkg/logger"
	"github.com/ignite/leadscore/internal/repository/postgres"
	"github.com/ignite/leadscore/internal/scoring"
	"github.com/ignite/leadscore/internal/segmentation"
	"github.com/ignite/leadscore/internal/service/score"
	"github.com/ignite/leadscore/internal/service/segment"
	"github.com/ignite/leadscore/internal/storage"
	"github.com/ignite/leadscore/internal/worker"
)

// app is the fully wired engine shared by every subcommand.
type app struct {
	cfg   *config.Config
	db    *sql.DB
	redis *redis.Client

	mutator *score.Mutator
	decay   *score.DecayEngine
	sync    *segment.Synchronizer
	archive *storage.Storage
	sweeper *worker.Sweeper

	logCloser io.Closer
}

// loadConfig reads the config file and sets up logging.
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.LoadFromEnv(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", cfgFile, err)
	}
	return cfg, logger.Setup(cfg.Logging.Options()), nil
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openRedis returns nil when Redis is not configured or unreachable; the
// engine then falls back to the log sink and Postgres advisory locks.
func openRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		logger.Info("redis not configured, using postgres advisory locks")
		return nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, falling back to postgres advisory locks", "error", err)
		client.Close()
		return nil
	}
	return client
}

// buildSink fans events out to every configured sink. A redis sink without
// a client is skipped.
func buildSink(cfg config.EventsConfig, rdb *redis.Client) events.Sink {
	var sinks events.Multi
	for _, name := range cfg.Sinks {
		switch name {
		case "redis":
			if rdb == nil {
				logger.Warn("redis event sink configured but redis is unavailable")
				continue
			}
			sinks = append(sinks, events.NewRedisSink(rdb, cfg.Queue, cfg.MaxLen))
		case "log":
			sinks = append(sinks, events.LogSink{})
		}
	}
	switch len(sinks) {
	case 0:
		return events.Discard{}
	case 1:
		return sinks[0]
	}
	return sinks
}

func decayOptions(cfg config.DecayConfig) []score.DecayOption {
	opts := []score.DecayOption{score.WithPageSize(cfg.PageSize)}
	if cfg.PagesPerSecond > 0 {
		opts = append(opts, score.WithThrottle(rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), 1)))
	}
	return opts
}

func syncOptions(cfg config.SegmentsConfig, sink events.Sink, clk clock.Clock) []segment.Option {
	return []segment.Option{
		segment.WithPageSize(cfg.PageSize),
		segment.WithConcurrency(cfg.Concurrency),
		segment.WithSnapshotTTL(cfg.SnapshotTTL),
		segment.WithOwnerScope(cfg.OwnerScope),
		segment.WithMatcher(segmentation.NewMatcher(segmentation.WithRequireRules(cfg.RequireRules))),
		segment.WithSink(sink),
		segment.WithClock(clk),
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, closer, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logCloser: closer}

	a.db, err = openDB(ctx, cfg.Database)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.redis = openRedis(ctx, cfg.Redis)

	clk := clock.System()
	calc, err := scoring.NewCalculator(cfg.Scoring, clk)
	if err != nil {
		a.Close()
		return nil, err
	}
	reasons := events.NewReasons(cfg.Events.ReasonTemplates)
	if err := reasons.Validate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("reason templates: %w", err)
	}
	sink := buildSink(cfg.Events, a.redis)

	leads := postgres.NewLeadRepo(a.db)
	a.mutator = score.NewMutator(leads, calc, sink, clk, reasons)
	a.decay = score.NewDecayEngine(leads, a.mutator, cfg.Decay.DecayPolicy, decayOptions(cfg.Decay)...)
	a.sync = segment.NewSynchronizer(leads, postgres.NewSegmentRepo(a.db), postgres.NewAssociationRepo(a.db),
		syncOptions(cfg.Segments, sink, clk)...)

	a.archive, err = storage.New(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}

	lockFn := func(name string) distlock.DistLock {
		return distlock.NewLock(a.redis, a.db, name, cfg.Worker.LockTTL)
	}
	a.sweeper = worker.NewSweeper(a.decay, a.sync, a.archive, lockFn,
		worker.WithDecayInterval(cfg.Worker.DecayInterval),
		worker.WithSyncInterval(cfg.Worker.SyncInterval),
		worker.WithLockTTL(cfg.Worker.LockTTL),
		worker.WithRunOnStart(cfg.Worker.RunOnStart),
	)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

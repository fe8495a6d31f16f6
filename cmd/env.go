package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/config"
	"github.com/access-atlas/atlas/internal/db"
	"github.com/access-atlas/atlas/internal/facility"
	"github.com/access-atlas/atlas/internal/importer"
	"github.com/access-atlas/atlas/internal/normalize"
	"github.com/access-atlas/atlas/internal/overpass"
	"github.com/access-atlas/atlas/internal/resilience"
	"github.com/access-atlas/atlas/internal/search"
)

// env holds the components a command runs against.
type env struct {
	Store    facility.Store
	Pool     *pgxpool.Pool
	Client   *overpass.Client
	Searcher search.Searcher
	Cache    *search.CachedSearcher
	Importer *importer.Importer
	RunLog   *importer.RunLog

	redis *redis.Client
}

// openStore connects the configured driver and brings its schema up to date.
func openStore(ctx context.Context, c *config.Config) (facility.Store, *pgxpool.Pool, error) {
	switch c.Store.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, c.Store.DatabaseURL, db.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := facility.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return facility.NewPostgresStore(pool), pool, nil
	case "sqlite":
		st, err := facility.NewSQLiteStore(c.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		return st, nil, nil
	case "memory":
		return facility.NewMemoryStore(), nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// newClient builds the Overpass client. One client, and so one rate gate, is
// shared by every import in the process.
func newClient(c *config.Config) *overpass.Client {
	return overpass.NewClient(overpass.Options{
		Endpoint:  c.Overpass.Endpoint,
		UserAgent: c.Overpass.UserAgent,
		Timeout:   c.Overpass.Timeout(),
		Retry: resilience.FromRetrySettings(
			c.Overpass.MaxAttempts,
			msDuration(c.Overpass.InitialBackoffMs),
			msDuration(c.Overpass.MaxBackoffMs),
		),
		Breaker: resilience.FromCircuitSettings(
			c.Overpass.BreakerThreshold,
			secDuration(c.Overpass.BreakerResetSecs),
		),
	}, overpass.NewIntervalGate(c.Overpass.MinInterval()))
}

// initEnv wires store, search, cache and importer from c.
func initEnv(ctx context.Context, c *config.Config) (*env, error) {
	st, pool, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	e := &env{Store: st, Pool: pool}

	engine := search.NewEngine(st, search.Options{
		MaxRadiusMeters: c.Search.MaxRadiusMeters,
		DefaultLimit:    c.Search.DefaultLimit,
		MaxLimit:        c.Search.MaxLimit,
	})
	e.Searcher = engine

	if c.Cache.Enabled {
		client, err := search.OpenRedis(ctx, c.Cache.URL)
		if err != nil {
			// Searches still work without the cache.
			zap.L().Warn("search cache disabled", zap.Error(err))
		} else {
			e.redis = client
			e.Cache = search.NewCachedSearcher(engine, client, c.Cache.TTL())
			e.Searcher = e.Cache
		}
	}

	opts := importer.Options{
		MaxRadiusMeters: c.Import.MaxRadiusMeters,
		RunTimeout:      c.Import.RunTimeout(),
		Concurrency:     c.Import.Concurrency,
	}
	if pool != nil {
		e.RunLog = importer.NewRunLog(pool)
		if c.Import.RecordRuns {
			opts.Recorder = e.RunLog
		}
	}

	e.Client = newClient(c)
	norm := normalize.New(normalize.Options{
		SkipUnclassified: c.Normalize.SkipUnclassified,
		QualityScores:    c.Normalize.QualityScores,
	})
	e.Importer = importer.New(st, e.Client, norm, opts)
	return e, nil
}

// purgeCache drops cached searches after a write. Failures are logged.
func (e *env) purgeCache(ctx context.Context) {
	if e.Cache == nil {
		return
	}
	if _, err := e.Cache.Purge(ctx); err != nil {
		zap.L().Warn("purge search cache", zap.Error(err))
	}
}

// Close releases the store and the cache connection.
func (e *env) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func secDuration(s int) time.Duration { return time.Duration(s) * time.Second }

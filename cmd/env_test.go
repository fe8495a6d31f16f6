package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/config"
	"github.com/access-atlas/atlas/internal/facility"
	"github.com/access-atlas/atlas/internal/resilience"
	"github.com/access-atlas/atlas/internal/search"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig(driver string) *config.Config {
	c := &config.Config{}
	c.Store.Driver = driver
	c.Overpass.MaxAttempts = 2
	c.Overpass.MinIntervalMs = 10
	c.Import.MaxRadiusMeters = 5000
	c.Import.Concurrency = 2
	c.Search.MaxRadiusMeters = 50000
	c.Search.DefaultLimit = 20
	c.Search.MaxLimit = 100
	return c
}

func TestOpenStore_Memory(t *testing.T) {
	st, pool, err := openStore(context.Background(), testConfig("memory"))
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.IsType(t, &facility.MemoryStore{}, st)
}

func TestOpenStore_SQLite(t *testing.T) {
	c := testConfig("sqlite")
	c.Store.SQLitePath = filepath.Join(t.TempDir(), "atlas.db")

	st, _, err := openStore(context.Background(), c)
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &facility.SQLiteStore{}, st)

	types, err := st.ListTypes(context.Background())
	require.NoError(t, err)
	assert.Len(t, types, 6)
}

func TestOpenStore_Errors(t *testing.T) {
	_, _, err := openStore(context.Background(), testConfig("mongo"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")

	_, _, err = openStore(context.Background(), testConfig("postgres"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty database url")
}

func TestInitEnv_Memory(t *testing.T) {
	env, err := initEnv(context.Background(), testConfig("memory"))
	require.NoError(t, err)
	defer env.Close()

	assert.IsType(t, &search.Engine{}, env.Searcher)
	assert.Nil(t, env.Cache)
	assert.Nil(t, env.RunLog)
	assert.NotNil(t, env.Importer)
	assert.Equal(t, resilience.CircuitClosed, env.Client.BreakerState())
}

func TestInitEnv_WithCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c := testConfig("memory")
	c.Cache.Enabled = true
	c.Cache.URL = "redis://" + mr.Addr() + "/0"
	c.Cache.TTLSecs = 30

	env, err := initEnv(context.Background(), c)
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Cache)
	assert.Same(t, env.Cache, env.Searcher)
	env.purgeCache(context.Background())
}

func TestInitEnv_UnreachableCacheFallsBack(t *testing.T) {
	c := testConfig("memory")
	c.Cache.Enabled = true
	c.Cache.URL = "redis://127.0.0.1:1/0"

	env, err := initEnv(context.Background(), c)
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.Cache)
	assert.IsType(t, &search.Engine{}, env.Searcher)
}

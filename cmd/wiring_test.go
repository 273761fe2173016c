package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/proximity-cli/internal/config"
	"github.com/sells-group/proximity-cli/internal/discovery"
	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
	"github.com/sells-group/proximity-cli/internal/store"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.Store.Driver = config.DriverMemory
	c.Search.Tiers = []float64{2, 4, 8, 16, 32}
	c.Search.Unit = "miles"
	c.Search.ProviderTimeoutSecs = 1
	c.Search.BucketConcurrency = 4
	c.Google.Query = "CVS Pharmacy"
	c.Google.Radius = 16
	c.Backfill.EligibleAttribute = "name"
	return c
}

func TestInitStore(t *testing.T) {
	ctx := context.Background()

	c := testConfig()
	s, err := initStore(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)

	c.Store.Driver = config.DriverSQLite
	c.Store.SQLitePath = filepath.Join(t.TempDir(), "index.db")
	s, err = initStore(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, s)
	require.NoError(t, s.Close())

	c.Store.Driver = "cassandra"
	_, err = initStore(ctx, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitProvider(t *testing.T) {
	c := testConfig()
	assert.IsType(t, discovery.Nop{}, initProvider(c, geo.Miles))

	c.Google.Key = "AIza-test"
	p := initProvider(c, geo.Miles)
	assert.IsType(t, &discovery.PlacesProvider{}, p)
	assert.Equal(t, "google_places", p.Name())
}

func TestInitMerger_Eligibility(t *testing.T) {
	c := testConfig()
	c.Backfill.EligibleValues = []string{"CVS"}
	s := store.NewMemory()

	res := initMerger(c, s).Merge(context.Background(), []model.RawCandidate{
		{ExternalID: "a", Location: geo.Point{Lat: 1, Lon: 1}, Attributes: map[string]string{"name": "cvs"}},
		{ExternalID: "b", Location: geo.Point{Lat: 1, Lon: 1}, Attributes: map[string]string{"name": "Rite Aid"}},
	})
	assert.Len(t, res.Inserted, 1)
	assert.Equal(t, 1, res.Rejected)
}

func TestInitEngine(t *testing.T) {
	c := testConfig()
	e, err := initEngine(c, store.NewMemory())
	require.NoError(t, err)

	res, err := e.Search(context.Background(), model.SearchRequest{Point: geo.Point{Lat: 42.3397, Lon: -71.0917}, MinCount: 1})
	require.NoError(t, err)
	assert.True(t, res.Escalated)
	assert.Equal(t, 32.0, res.Radius)

	c.Search.Unit = "leagues"
	_, err = initEngine(c, store.NewMemory())
	assert.Error(t, err)
}

func TestAPIOptions(t *testing.T) {
	c := testConfig()
	c.Server.CORSOrigins = []string{"https://maps.example.com"}
	c.Server.RequestTimeoutSecs = 15

	opts := apiOptions(c)
	assert.Equal(t, []string{"https://maps.example.com"}, opts.CORSOrigins)
	assert.Equal(t, 15*time.Second, opts.RequestTimeout)

	c.Server.RequestTimeoutSecs = 0
	assert.Zero(t, apiOptions(c).RequestTimeout)
}

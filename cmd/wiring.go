package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/proximity-cli/internal/api"
	"github.com/sells-group/proximity-cli/internal/backfill"
	"github.com/sells-group/proximity-cli/internal/config"
	"github.com/sells-group/proximity-cli/internal/db"
	"github.com/sells-group/proximity-cli/internal/discovery"
	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/resilience"
	"github.com/sells-group/proximity-cli/internal/search"
	"github.com/sells-group/proximity-cli/internal/store"
	"github.com/sells-group/proximity-cli/pkg/google"
)

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverSQLite:
		return store.NewSQLite(c.Store.SQLitePath)
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, c.Store.DatabaseURL, db.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		var opts []store.PostgresOption
		if c.Store.PostGIS {
			opts = append(opts, store.WithPostGIS())
		}
		return store.NewPostgres(pool, opts...), nil
	case config.DriverFirestore:
		return store.NewFirestore(ctx, store.FirestoreConfig{
			ProjectID:       c.Store.Firestore.ProjectID,
			Collection:      c.Store.Firestore.Collection,
			CredentialsFile: c.Store.Firestore.CredentialsFile,
		})
	case config.DriverDynamoDB:
		return store.NewDynamo(ctx, store.DynamoConfig{
			Table:    c.Store.DynamoDB.Table,
			Region:   c.Store.DynamoDB.Region,
			Endpoint: c.Store.DynamoDB.Endpoint,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func initProvider(c *config.Config, unit geo.Unit) discovery.Provider {
	if c.Google.Key == "" {
		zap.L().Warn("google.key not set, searches will not backfill from an external provider")
		return discovery.Nop{}
	}

	var opts []google.Option
	if c.Google.BaseURL != "" {
		opts = append(opts, google.WithBaseURL(c.Google.BaseURL))
	}

	retry := resilience.DefaultRetryConfig()
	if c.Google.RetryAttempts > 0 {
		retry.MaxAttempts = c.Google.RetryAttempts
	}
	breaker := resilience.DefaultCircuitBreakerConfig()
	if c.Google.CircuitThreshold > 0 {
		breaker.FailureThreshold = c.Google.CircuitThreshold
	}
	if c.Google.CircuitResetTimeSecs > 0 {
		breaker.ResetTimeout = time.Duration(c.Google.CircuitResetTimeSecs) * time.Second
	}

	return discovery.NewPlacesProvider(google.NewClient(c.Google.Key, opts...), discovery.PlacesConfig{
		Query:        c.Google.Query,
		RadiusMeters: min(unit.ToMeters(c.Google.Radius), google.MaxBiasRadiusMeters),
		MaxResults:   c.Google.MaxResults,
		RatePerSec:   c.Google.RatePerSec,
		Burst:        c.Google.Burst,
		Retry:        retry,
		Breaker:      breaker,
	})
}

func initMerger(c *config.Config, s store.Store) *backfill.Merger {
	return backfill.NewMerger(s, backfill.WithEligibility(
		backfill.AllowAttribute(c.Backfill.EligibleAttribute, c.Backfill.EligibleValues...),
	))
}

func initEngine(c *config.Config, s store.Store) (*search.Engine, error) {
	unit, err := geo.ParseUnit(c.Search.Unit)
	if err != nil {
		return nil, err
	}
	table := c.Search.PrecisionTable
	if len(table) == 0 {
		table = geo.DefaultPrecisionTable(unit)
	}

	return search.NewEngine(s, initProvider(c, unit), initMerger(c, s), search.Config{
		Tiers:             c.Search.Tiers,
		Unit:              unit,
		Table:             table,
		ProviderTimeout:   time.Duration(c.Search.ProviderTimeoutSecs) * time.Second,
		BucketConcurrency: c.Search.BucketConcurrency,
	})
}

func apiOptions(c *config.Config) api.Options {
	return api.Options{
		CORSOrigins:    c.Server.CORSOrigins,
		RequestTimeout: time.Duration(c.Server.RequestTimeoutSecs) * time.Second,
	}
}

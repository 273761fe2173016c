package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/proximity-cli/internal/geo"
)

// Store drivers.
const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
	DriverDynamoDB  = "dynamodb"
)

// Validate checks the settings a command mode depends on. Known modes are
// serve, search, seed, and migrate.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RequestTimeoutSecs < 0 {
			errs = append(errs, "server.request_timeout_secs must be >= 0")
		}
		errs = append(errs, c.validateSearch()...)
		errs = append(errs, c.validateGoogle()...)
	case "search":
		errs = append(errs, c.validateSearch()...)
		errs = append(errs, c.validateGoogle()...)
	case "seed", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	errs = append(errs, c.validateStore()...)

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Store.MaxConns < 0 || c.Store.MinConns < 0 || (c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns) {
			errs = append(errs, "store.min_conns must be between 0 and store.max_conns")
		}
	case DriverFirestore:
		if c.Store.Firestore.ProjectID == "" {
			errs = append(errs, "store.firestore.project_id is required")
		}
	case DriverDynamoDB:
		if c.Store.DynamoDB.Table == "" {
			errs = append(errs, "store.dynamodb.table is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, sqlite, postgres, firestore, dynamodb", c.Store.Driver))
	}
	return errs
}

func (c *Config) validateSearch() []string {
	var errs []string
	if _, err := geo.ParseUnit(c.Search.Unit); err != nil {
		errs = append(errs, fmt.Sprintf("search.unit %q is not supported", c.Search.Unit))
	}
	if len(c.Search.Tiers) == 0 {
		errs = append(errs, "search.tiers must not be empty")
	}
	for i, t := range c.Search.Tiers {
		if t <= 0 {
			errs = append(errs, "search.tiers values must be > 0")
			break
		}
		if i > 0 && t <= c.Search.Tiers[i-1] {
			errs = append(errs, "search.tiers must be strictly increasing")
			break
		}
	}
	if len(c.Search.PrecisionTable) > 0 {
		if err := c.Search.PrecisionTable.Validate(); err != nil {
			errs = append(errs, "search.precision_table: "+err.Error())
		}
	}
	if c.Search.ProviderTimeoutSecs <= 0 {
		errs = append(errs, "search.provider_timeout_secs must be > 0")
	}
	if c.Search.BucketConcurrency < 1 || c.Search.BucketConcurrency > 64 {
		errs = append(errs, "search.bucket_concurrency must be between 1 and 64")
	}
	return errs
}

// validateGoogle only checks provider settings when a key is configured;
// without one the search runs with no external provider.
func (c *Config) validateGoogle() []string {
	if c.Google.Key == "" {
		return nil
	}
	var errs []string
	if strings.TrimSpace(c.Google.Query) == "" {
		errs = append(errs, "google.query is required when google.key is set")
	}
	if c.Google.Radius <= 0 {
		errs = append(errs, "google.radius must be > 0")
	}
	if c.Google.RatePerSec < 0 {
		errs = append(errs, "google.rate_per_sec must be >= 0")
	}
	if c.Google.RetryAttempts < 1 || c.Google.RetryAttempts > 5 {
		errs = append(errs, "google.retry_attempts must be between 1 and 5")
	}
	return errs
}

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, newTestSQLite(t))
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
}

func TestSQLiteStore_ConcurrentDuplicateInserts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		existing int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Insert(ctx, testEntity(uuid.NewString(), "same-place", fenway, nil))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case IsAlreadyExists(err):
				existing++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Equal(t, 7, existing)

	got, err := s.QueryByBucket(ctx, 6, fenway6())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStore_QueryBeforeMigrate(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.QueryByBucket(context.Background(), 5, "drt2y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: query bucket")
}

func fenway6() string {
	return testEntity("", "", fenway, nil).Geohashes[6]
}

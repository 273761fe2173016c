package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
	"github.com/sells-group/proximity-cli/internal/store"
)

var (
	fenway  = geo.Point{Lat: 42.3467, Lon: -71.0972}
	backBay = geo.Point{Lat: 42.3503, Lon: -71.0810}
	fixed   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func candidate(ext string, p geo.Point, name string) model.RawCandidate {
	return model.RawCandidate{ExternalID: ext, Location: p, Attributes: map[string]string{"name": name}}
}

// faultyStore wraps a MemoryStore and injects errors by external id.
type faultyStore struct {
	*store.MemoryStore
	lookupErr map[string]error
	insertErr map[string]error
	// hideOnLookup simulates a concurrent writer: the lookup misses but the
	// insert collides.
	hideOnLookup map[string]bool
}

func (f *faultyStore) QueryByExternalID(ctx context.Context, ext string) (*model.Entity, error) {
	if err := f.lookupErr[ext]; err != nil {
		return nil, err
	}
	if f.hideOnLookup[ext] {
		return nil, nil
	}
	return f.MemoryStore.QueryByExternalID(ctx, ext)
}

func (f *faultyStore) Insert(ctx context.Context, e *model.Entity) error {
	if err := f.insertErr[e.ExternalID]; err != nil {
		return err
	}
	return f.MemoryStore.Insert(ctx, e)
}

func TestMerge_InsertsNewCandidates(t *testing.T) {
	s := store.NewMemory()
	m := NewMerger(s, WithClock(func() time.Time { return fixed }), WithIDFunc(sequentialIDs()))

	res := m.Merge(context.Background(), []model.RawCandidate{
		candidate("ext-a", fenway, "CVS"),
		candidate("ext-b", backBay, "CVS Pharmacy"),
	})

	require.Len(t, res.Inserted, 2)
	assert.Empty(t, res.Existing)
	assert.Empty(t, res.Skipped)
	assert.Zero(t, res.Rejected)

	a := res.Inserted[0]
	assert.Equal(t, "id-1", a.ID)
	assert.Equal(t, "ext-a", a.ExternalID)
	assert.Equal(t, geo.Hashes(fenway), a.Geohashes)
	assert.Equal(t, fixed, a.CreatedAt)
	assert.Equal(t, "CVS", a.Attr("name"))

	got, err := s.QueryByBucket(context.Background(), 5, "drt2y")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMerge_Idempotent(t *testing.T) {
	s := store.NewMemory()
	m := NewMerger(s)
	batch := []model.RawCandidate{candidate("ext-a", fenway, "CVS"), candidate("ext-b", backBay, "CVS")}

	first := m.Merge(context.Background(), batch)
	require.Len(t, first.Inserted, 2)

	second := m.Merge(context.Background(), batch)
	assert.Empty(t, second.Inserted)
	assert.Equal(t, []string{"ext-a", "ext-b"}, second.Existing)
	assert.Equal(t, 2, s.Len())
}

func TestMerge_DuplicateWithinBatch(t *testing.T) {
	s := store.NewMemory()
	res := NewMerger(s).Merge(context.Background(), []model.RawCandidate{
		candidate("ext-a", fenway, "CVS"),
		candidate("ext-a", fenway, "CVS"),
	})
	assert.Len(t, res.Inserted, 1)
	assert.Equal(t, []string{"ext-a"}, res.Existing)
	assert.Equal(t, 1, s.Len())
}

func TestMerge_InvalidLocation(t *testing.T) {
	res := NewMerger(store.NewMemory()).Merge(context.Background(), []model.RawCandidate{
		candidate("ext-bad", geo.Point{Lat: 91, Lon: 0}, "CVS"),
		candidate("ext-a", fenway, "CVS"),
	})
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, Skip{ExternalID: "ext-bad", Reason: ReasonInvalidLocation}, res.Skipped[0])
	assert.Len(t, res.Inserted, 1)
}

func TestMerge_Eligibility(t *testing.T) {
	s := store.NewMemory()
	m := NewMerger(s, WithEligibility(AllowAttribute("name", "CVS", "CVS Pharmacy")))

	res := m.Merge(context.Background(), []model.RawCandidate{
		candidate("ext-a", fenway, "cvs pharmacy"),
		candidate("ext-b", backBay, "Walgreens"),
	})
	require.Len(t, res.Inserted, 1)
	assert.Equal(t, "ext-a", res.Inserted[0].ExternalID)
	assert.Equal(t, 1, res.Rejected)
	assert.Empty(t, res.Skipped)

	found, err := s.QueryByExternalID(context.Background(), "ext-b")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMerge_LookupAndInsertFailures(t *testing.T) {
	s := &faultyStore{
		MemoryStore: store.NewMemory(),
		lookupErr:   map[string]error{"ext-a": errors.New("lookup timeout")},
		insertErr:   map[string]error{"ext-b": errors.New("disk full")},
	}
	res := NewMerger(s).Merge(context.Background(), []model.RawCandidate{
		candidate("ext-a", fenway, "CVS"),
		candidate("ext-b", backBay, "CVS"),
		candidate("ext-c", backBay, "CVS"),
	})

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, Skip{ExternalID: "ext-a", Reason: ReasonLookupFailed, Error: "lookup timeout"}, res.Skipped[0])
	assert.Equal(t, Skip{ExternalID: "ext-b", Reason: ReasonInsertFailed, Error: "disk full"}, res.Skipped[1])
	require.Len(t, res.Inserted, 1)
	assert.Equal(t, "ext-c", res.Inserted[0].ExternalID)
}

func TestMerge_ConcurrentWriterCountsAsExisting(t *testing.T) {
	s := &faultyStore{
		MemoryStore:  store.NewMemory(),
		hideOnLookup: map[string]bool{"ext-a": true},
	}
	first := NewMerger(s).Merge(context.Background(), []model.RawCandidate{candidate("ext-a", fenway, "CVS")})
	require.Len(t, first.Inserted, 1)

	second := NewMerger(s).Merge(context.Background(), []model.RawCandidate{candidate("ext-a", fenway, "CVS")})
	assert.Empty(t, second.Inserted)
	assert.Equal(t, []string{"ext-a"}, second.Existing)
	assert.Empty(t, second.Skipped)
}

func TestMerge_ParallelMergersInsertOnce(t *testing.T) {
	s := store.NewMemory()
	batch := []model.RawCandidate{candidate("ext-a", fenway, "CVS")}

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = NewMerger(s).Merge(context.Background(), batch)
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, r := range results {
		inserted += len(r.Inserted)
	}
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, s.Len())
}

func TestMerge_DoesNotAliasCandidateAttributes(t *testing.T) {
	c := candidate("ext-a", fenway, "CVS")
	res := NewMerger(store.NewMemory()).Merge(context.Background(), []model.RawCandidate{c})
	require.Len(t, res.Inserted, 1)
	c.Attributes["name"] = "changed"
	assert.Equal(t, "CVS", res.Inserted[0].Attr("name"))
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
)

var (
	fenway   = geo.Point{Lat: 42.3467, Lon: -71.0972}
	backBay  = geo.Point{Lat: 42.3503, Lon: -71.0810}
	cambridg = geo.Point{Lat: 42.3736, Lon: -71.1097}
)

func testEntity(id, ext string, p geo.Point, attrs map[string]string) *model.Entity {
	return &model.Entity{
		ID:         id,
		ExternalID: ext,
		Location:   p,
		Geohashes:  geo.Hashes(p),
		Attributes: attrs,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))

	a := testEntity("id-a", "ext-a", fenway, map[string]string{"name": "CVS", "phone": "+16175550100"})
	b := testEntity("id-b", "ext-b", backBay, nil)
	c := testEntity("id-c", "ext-c", cambridg, map[string]string{"name": "CVS"})
	for _, e := range []*model.Entity{a, b, c} {
		require.NoError(t, s.Insert(ctx, e))
	}

	t.Run("query by external id", func(t *testing.T) {
		got, err := s.QueryByExternalID(ctx, "ext-a")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "id-a", got.ID)
		assert.Equal(t, fenway, got.Location)
		assert.Equal(t, "CVS", got.Attr("name"))
		assert.Equal(t, geo.Hashes(fenway), got.Geohashes)
		assert.True(t, a.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("absent external id", func(t *testing.T) {
		got, err := s.QueryByExternalID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("query by bucket", func(t *testing.T) {
		got, err := s.QueryByBucket(ctx, 4, geo.Encode(fenway, 4))
		require.NoError(t, err)
		ids := entityIDs(got)
		assert.Contains(t, ids, "id-a")
		assert.Contains(t, ids, "id-b")

		got, err = s.QueryByBucket(ctx, 6, geo.Encode(fenway, 6))
		require.NoError(t, err)
		assert.Equal(t, []string{"id-a"}, entityIDs(got))

		got, err = s.QueryByBucket(ctx, 5, "zzzzz")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("precision outside index", func(t *testing.T) {
		_, err := s.QueryByBucket(ctx, 7, "drt2y7x")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPrecision))
	})

	t.Run("duplicate external id", func(t *testing.T) {
		dup := testEntity("id-a2", "ext-a", backBay, nil)
		err := s.Insert(ctx, dup)
		require.Error(t, err)
		assert.True(t, IsAlreadyExists(err))

		got, err := s.QueryByExternalID(ctx, "ext-a")
		require.NoError(t, err)
		assert.Equal(t, "id-a", got.ID)
	})

	t.Run("rejects incomplete entity", func(t *testing.T) {
		assert.Error(t, s.Insert(ctx, &model.Entity{ExternalID: "x"}))
		assert.Error(t, s.Insert(ctx, nil))
	})
}

func entityIDs(es []model.Entity) []string {
	ids := make([]string, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	return ids
}

func TestMemoryStore_Contract(t *testing.T) {
	s := NewMemory()
	runStoreContract(t, s)
	assert.Equal(t, 3, s.Len())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Insert(ctx, testEntity("id-a", "ext-a", fenway, map[string]string{"name": "CVS"})))

	got, err := s.QueryByExternalID(ctx, "ext-a")
	require.NoError(t, err)
	got.Attributes["name"] = "changed"

	again, err := s.QueryByExternalID(ctx, "ext-a")
	require.NoError(t, err)
	assert.Equal(t, "CVS", again.Attr("name"))
}

func TestMemoryStore_FillsMissingGeohashes(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	e := &model.Entity{ID: "id", ExternalID: "ext", Location: fenway}
	require.NoError(t, s.Insert(ctx, e))

	got, err := s.QueryByBucket(ctx, 5, geo.Encode(fenway, 5))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, geo.Hashes(fenway), got[0].Geohashes)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemory()
	_, err := s.QueryByBucket(ctx, 5, "drt2y")
	assert.Error(t, err)
}

func TestIsAlreadyExists_Wrapped(t *testing.T) {
	assert.True(t, IsAlreadyExists(eris.Wrap(ErrAlreadyExists, "insert")))
	assert.False(t, IsAlreadyExists(eris.New("other")))
}

func TestDecodeAttributes(t *testing.T) {
	attrs, err := decodeAttributes([]byte(`{"name":"CVS"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "CVS"}, attrs)

	attrs, err = decodeAttributes([]byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, attrs)

	_, err = decodeAttributes([]byte(`[`))
	assert.Error(t, err)
}

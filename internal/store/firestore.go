package store

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
)

// externalIDSpace namespaces deterministic Firestore document ids.
var externalIDSpace = uuid.MustParse("5f0c1a3e-8f57-4b8e-9d0c-4a1f6a3b2c10")

// FirestoreStore implements Store over a Firestore collection. Documents are
// keyed by a UUIDv5 of the external id so Create enforces uniqueness.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// FirestoreConfig configures the Firestore backend.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Collection      string `yaml:"collection" mapstructure:"collection"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// NewFirestore connects to Firestore. FIRESTORE_EMULATOR_HOST is honored by
// the client library.
func NewFirestore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, eris.New("firestore: project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "firestore: create client")
	}
	return NewFirestoreWithClient(client, cfg.Collection), nil
}

// NewFirestoreWithClient wraps an existing client.
func NewFirestoreWithClient(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "entities"
	}
	return &FirestoreStore{client: client, collection: collection}
}

type firestoreLocation struct {
	Lat      float64 `firestore:"lat"`
	Lon      float64 `firestore:"lon"`
	Geohash2 string  `firestore:"geohash_2"`
	Geohash3 string  `firestore:"geohash_3"`
	Geohash4 string  `firestore:"geohash_4"`
	Geohash5 string  `firestore:"geohash_5"`
	Geohash6 string  `firestore:"geohash_6"`
}

type firestoreEntity struct {
	ID         string            `firestore:"id"`
	ExternalID string            `firestore:"external_id"`
	Location   firestoreLocation `firestore:"location"`
	Attributes map[string]string `firestore:"attributes"`
	CreatedAt  time.Time         `firestore:"created_at"`
}

// FirestoreDocID returns the document id for an external id.
func FirestoreDocID(externalID string) string {
	return uuid.NewSHA1(externalIDSpace, []byte(externalID)).String()
}

func toFirestore(e *model.Entity) firestoreEntity {
	h := indexHashes(e)
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return firestoreEntity{
		ID:         e.ID,
		ExternalID: e.ExternalID,
		Location: firestoreLocation{
			Lat: e.Location.Lat, Lon: e.Location.Lon,
			Geohash2: h[0], Geohash3: h[1], Geohash4: h[2], Geohash5: h[3], Geohash6: h[4],
		},
		Attributes: nonNilAttrs(e.Attributes),
		CreatedAt:  created,
	}
}

func (d firestoreEntity) entity() model.Entity {
	l := d.Location
	e := model.Entity{
		ID:         d.ID,
		ExternalID: d.ExternalID,
		Location:   geo.Point{Lat: l.Lat, Lon: l.Lon},
		Geohashes:  hashMap([]string{l.Geohash2, l.Geohash3, l.Geohash4, l.Geohash5, l.Geohash6}),
		Attributes: d.Attributes,
		CreatedAt:  d.CreatedAt,
	}
	if len(e.Attributes) == 0 {
		e.Attributes = nil
	}
	return e
}

func (s *FirestoreStore) QueryByBucket(ctx context.Context, precision int, bucket string) ([]model.Entity, error) {
	if err := checkPrecision(precision); err != nil {
		return nil, err
	}

	iter := s.client.Collection(s.collection).
		Where("location."+geohashColumn(precision), "==", bucket).
		Documents(ctx)
	defer iter.Stop()

	var out []model.Entity
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "firestore: query bucket %s", bucket)
		}
		var doc firestoreEntity
		if err := snap.DataTo(&doc); err != nil {
			return nil, eris.Wrapf(err, "firestore: decode %s", snap.Ref.ID)
		}
		out = append(out, doc.entity())
	}
	return out, nil
}

func (s *FirestoreStore) QueryByExternalID(ctx context.Context, externalID string) (*model.Entity, error) {
	snap, err := s.client.Collection(s.collection).Doc(FirestoreDocID(externalID)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "firestore: get %s", externalID)
	}
	var doc firestoreEntity
	if err := snap.DataTo(&doc); err != nil {
		return nil, eris.Wrapf(err, "firestore: decode %s", externalID)
	}
	e := doc.entity()
	return &e, nil
}

func (s *FirestoreStore) Insert(ctx context.Context, e *model.Entity) error {
	if err := checkEntity(e); err != nil {
		return err
	}
	_, err := s.client.Collection(s.collection).Doc(FirestoreDocID(e.ExternalID)).Create(ctx, toFirestore(e))
	if status.Code(err) == codes.AlreadyExists {
		return ErrAlreadyExists
	}
	return eris.Wrapf(err, "firestore: create %s", e.ExternalID)
}

// Migrate is a no-op; Firestore collections and single-field indexes are
// created implicitly.
func (s *FirestoreStore) Migrate(context.Context) error { return nil }

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

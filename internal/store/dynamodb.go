package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rotisserie/eris"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
)

// DynamoStore implements Store on a DynamoDB table.
//
// Table schema:
//   - Partition key: external_id (string)
//   - One GSI per index precision named geohash_N-index, partitioned on
//     geohash_N with projection ALL
//
// Inserts use attribute_not_exists(external_id), so uniqueness is enforced
// by the table.
type DynamoStore struct {
	client DDBClient
	table  string
}

// DDBClient is the subset of the DynamoDB API the store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoConfig configures the DynamoDB backend.
type DynamoConfig struct {
	Table    string `yaml:"table" mapstructure:"table"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// NewDynamo builds a client from the default AWS credential chain.
func NewDynamo(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "dynamodb: load aws config")
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoWithClient(client, cfg.Table), nil
}

// NewDynamoWithClient wraps an existing client.
func NewDynamoWithClient(client DDBClient, table string) *DynamoStore {
	if table == "" {
		table = "entities"
	}
	return &DynamoStore{client: client, table: table}
}

func dynamoIndexName(precision int) string {
	return geohashColumn(precision) + "-index"
}

func (s *DynamoStore) QueryByBucket(ctx context.Context, precision int, bucket string) ([]model.Entity, error) {
	if err := checkPrecision(precision); err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		IndexName:                aws.String(dynamoIndexName(precision)),
		KeyConditionExpression:   aws.String("#gh = :bucket"),
		ExpressionAttributeNames: map[string]string{"#gh": geohashColumn(precision)},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":bucket": &types.AttributeValueMemberS{Value: bucket},
		},
	}

	var out []model.Entity
	for {
		resp, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, eris.Wrapf(err, "dynamodb: query bucket %s", bucket)
		}
		for _, item := range resp.Items {
			e, err := fromDynamoItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, *e)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
	return out, nil
}

func (s *DynamoStore) QueryByExternalID(ctx context.Context, externalID string) (*model.Entity, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"external_id": &types.AttributeValueMemberS{Value: externalID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dynamodb: get %s", externalID)
	}
	if len(resp.Item) == 0 {
		return nil, nil
	}
	return fromDynamoItem(resp.Item)
}

func (s *DynamoStore) Insert(ctx context.Context, e *model.Entity) error {
	if err := checkEntity(e); err != nil {
		return err
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                toDynamoItem(e),
		ConditionExpression: aws.String("attribute_not_exists(external_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return eris.Wrapf(err, "dynamodb: put %s", e.ExternalID)
	}
	return nil
}

// Migrate creates the table and its geohash indexes when absent.
func (s *DynamoStore) Migrate(ctx context.Context) error {
	defs := []types.AttributeDefinition{
		{AttributeName: aws.String("external_id"), AttributeType: types.ScalarAttributeTypeS},
	}
	var gsis []types.GlobalSecondaryIndex
	for _, p := range geo.IndexPrecisions {
		col := geohashColumn(p)
		defs = append(defs, types.AttributeDefinition{AttributeName: aws.String(col), AttributeType: types.ScalarAttributeTypeS})
		gsis = append(gsis, types.GlobalSecondaryIndex{
			IndexName:  aws.String(dynamoIndexName(p)),
			KeySchema:  []types.KeySchemaElement{{AttributeName: aws.String(col), KeyType: types.KeyTypeHash}},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:              aws.String(s.table),
		AttributeDefinitions:   defs,
		KeySchema:              []types.KeySchemaElement{{AttributeName: aws.String("external_id"), KeyType: types.KeyTypeHash}},
		GlobalSecondaryIndexes: gsis,
		BillingMode:            types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	return eris.Wrapf(err, "dynamodb: create table %s", s.table)
}

func (s *DynamoStore) Close() error { return nil }

func toDynamoItem(e *model.Entity) map[string]types.AttributeValue {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	attrs := make(map[string]types.AttributeValue, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = &types.AttributeValueMemberS{Value: v}
	}

	item := map[string]types.AttributeValue{
		"id":          &types.AttributeValueMemberS{Value: e.ID},
		"external_id": &types.AttributeValueMemberS{Value: e.ExternalID},
		"lat":         &types.AttributeValueMemberN{Value: strconv.FormatFloat(e.Location.Lat, 'f', -1, 64)},
		"lon":         &types.AttributeValueMemberN{Value: strconv.FormatFloat(e.Location.Lon, 'f', -1, 64)},
		"attributes":  &types.AttributeValueMemberM{Value: attrs},
		"created_at":  &types.AttributeValueMemberS{Value: created.Format(time.RFC3339Nano)},
	}
	for i, h := range indexHashes(e) {
		item[geohashColumn(geo.IndexPrecisions[i])] = &types.AttributeValueMemberS{Value: h}
	}
	return item
}

func fromDynamoItem(item map[string]types.AttributeValue) (*model.Entity, error) {
	var (
		e   model.Entity
		err error
	)
	e.ID = dynamoString(item, "id")
	e.ExternalID = dynamoString(item, "external_id")
	if e.Location.Lat, err = dynamoNumber(item, "lat"); err != nil {
		return nil, err
	}
	if e.Location.Lon, err = dynamoNumber(item, "lon"); err != nil {
		return nil, err
	}

	e.Geohashes = make(map[int]string, len(geo.IndexPrecisions))
	for _, p := range geo.IndexPrecisions {
		e.Geohashes[p] = dynamoString(item, geohashColumn(p))
	}

	if m, ok := item["attributes"].(*types.AttributeValueMemberM); ok && len(m.Value) > 0 {
		e.Attributes = make(map[string]string, len(m.Value))
		for k, v := range m.Value {
			if sv, ok := v.(*types.AttributeValueMemberS); ok {
				e.Attributes[k] = sv.Value
			}
		}
	}

	if ts := dynamoString(item, "created_at"); ts != "" {
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, eris.Wrap(err, "dynamodb: parse created_at")
		}
	}
	return &e, nil
}

func dynamoString(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func dynamoNumber(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key].(*types.AttributeValueMemberN)
	if !ok {
		return 0, eris.Errorf("dynamodb: item missing number %s", key)
	}
	f, err := strconv.ParseFloat(v.Value, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "dynamodb: parse %s", key)
	}
	return f, nil
}

package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentCommit is returned when another writer published the same
// version first.
var ErrConcurrentCommit = errors.New("s3: concurrent snapshot commit detected")

// ErrNoCommit is returned when a collection has no published snapshot.
var ErrNoCommit = errors.New("s3: no committed snapshot")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore publishes snapshot keys through DynamoDB conditional writes.
//
// S3 has no compare-and-swap, so concurrent writers cannot safely agree on
// "the latest snapshot" with S3 alone. The commit store keeps a version row
// per collection; readers resolve the highest committed version to a blob
// key.
//
// Table schema:
//   - Partition key: collection (string)
//   - Sort key: version (number), monotonically increasing
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name embeddb-commits \
//	  --attribute-definitions AttributeName=collection,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=collection,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	client    DDBClient
	tableName string
}

// NewCommitStore creates a commit store over the given table.
func NewCommitStore(client DDBClient, tableName string) *CommitStore {
	return &CommitStore{client: client, tableName: tableName}
}

// Publish records that the snapshot under key is the next version of the
// collection. It returns the committed version, or ErrConcurrentCommit when
// another writer claimed it first.
func (c *CommitStore) Publish(ctx context.Context, collection, key string) (uint64, error) {
	version, _, err := c.latest(ctx, collection)
	if err != nil && !errors.Is(err, ErrNoCommit) {
		return 0, err
	}
	next := version + 1

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"collection": &types.AttributeValueMemberS{Value: collection},
			"version":    &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"key":        &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return 0, ErrConcurrentCommit
		}

		return 0, fmt.Errorf("s3: commit failed: %w", err)
	}

	return next, nil
}

// Latest resolves the blob key of the most recently committed snapshot.
func (c *CommitStore) Latest(ctx context.Context, collection string) (string, error) {
	_, key, err := c.latest(ctx, collection)

	return key, err
}

func (c *CommitStore) latest(ctx context.Context, collection string) (uint64, string, error) {
	resp, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("#c = :c"),
		ExpressionAttributeNames: map[string]string{
			"#c": "collection",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: collection},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: commit query failed: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", ErrNoCommit
	}

	item := resp.Items[0]

	verAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", fmt.Errorf("s3: malformed commit row for %q", collection)
	}

	version, err := strconv.ParseUint(verAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: malformed commit version: %w", err)
	}

	keyAttr, ok := item["key"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", fmt.Errorf("s3: malformed commit row for %q", collection)
	}

	return version, keyAttr.Value, nil
}

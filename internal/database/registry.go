package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/models"
)

// registryDocumentID is the partition key of the single registry item
const registryDocumentID = "registry"

// registryItem is the stored shape of the registry document
type registryItem struct {
	Id      string                       `dynamodbav:"Id"`
	Version int64                        `dynamodbav:"Version"`
	Apps    map[string]*models.AppRecord `dynamodbav:"Apps"`
}

// RegistryOperations stores the whole registry document as one DynamoDB item
type RegistryOperations struct {
	client    *Client
	tableName string
}

// NewRegistryOperations creates a new RegistryOperations instance
func NewRegistryOperations(client *Client, tableName string) *RegistryOperations {
	return &RegistryOperations{
		client:    client,
		tableName: tableName,
	}
}

// GetRegistry loads the registry document. A missing item is ErrNotFound.
func (ro *RegistryOperations) GetRegistry(ctx context.Context) (*models.Registry, error) {
	result, err := ro.client.DynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(ro.tableName),
		Key: map[string]types.AttributeValue{
			"Id": &types.AttributeValueMemberS{Value: registryDocumentID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	if len(result.Item) == 0 {
		return nil, ErrNotFound
	}

	var item registryItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry: %w", err)
	}

	reg := &models.Registry{Version: item.Version, Apps: item.Apps}
	if reg.Apps == nil {
		reg.Apps = make(map[string]*models.AppRecord)
	}
	return reg, nil
}

// PutRegistry overwrites the registry document if nobody else wrote it since
// reg was read. On success reg.Version is advanced.
func (ro *RegistryOperations) PutRegistry(ctx context.Context, reg *models.Registry) error {
	next := reg.Version + 1
	av, err := attributevalue.MarshalMap(registryItem{
		Id:      registryDocumentID,
		Version: next,
		Apps:    reg.Apps,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	_, err = ro.client.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(ro.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(Id) OR Version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(reg.Version, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			logger.WithFields(map[string]interface{}{
				"table":   ro.tableName,
				"version": reg.Version,
			}).Warn("Registry write rejected: stale version")
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to put registry: %w", err)
	}

	reg.Version = next
	logger.WithFields(map[string]interface{}{
		"table":   ro.tableName,
		"version": next,
		"apps":    len(reg.Apps),
	}).Debug("Registry written to DynamoDB")
	return nil
}

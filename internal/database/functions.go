package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrItemNotFound    = errors.New("item not found")
	ErrConditionFailed = errors.New("condition check failed")
)

type PaginatedQueryResult struct {
	Items            []map[string]types.AttributeValue
	LastEvaluatedKey map[string]types.AttributeValue
	HasMore          bool
}

// Condition guards a write. The write fails with ErrConditionFailed when the
// expression does not hold.
type Condition struct {
	Expression string
	Values     map[string]types.AttributeValue
	Names      map[string]string
}

func AttrString(value string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: value}
}

func conditionErr(op, tableName string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s %s: %w", op, tableName, ErrConditionFailed)
	}
	return fmt.Errorf("%s %s: %w", op, tableName, err)
}

func mergeValues(dst, src map[string]types.AttributeValue) map[string]types.AttributeValue {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]types.AttributeValue, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func mergeNames(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (c *DynamoDBClient) PutItem(
	ctx context.Context,
	tableName string,
	item interface{},
	cond *Condition,
) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      av,
	}
	if cond != nil {
		input.ConditionExpression = aws.String(cond.Expression)
		input.ExpressionAttributeValues = cond.Values
		input.ExpressionAttributeNames = cond.Names
	}

	if _, err := c.svc.PutItem(ctx, input); err != nil {
		return conditionErr("put item", tableName, err)
	}
	return nil
}

func (c *DynamoDBClient) GetItem(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	out interface{},
) error {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(tableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	}

	res, err := c.svc.GetItem(ctx, input)
	if err != nil {
		return fmt.Errorf("get item %s: %w", tableName, err)
	}
	if res.Item == nil {
		return fmt.Errorf("get item %s: %w", tableName, ErrItemNotFound)
	}

	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshal item: %w", err)
	}
	return nil
}

// UpdateItem applies updateExpr and unmarshals the item's new attributes into
// out when it is not nil.
func (c *DynamoDBClient) UpdateItem(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	updateExpr string,
	exprAttrValues map[string]types.AttributeValue,
	exprAttrNames map[string]string,
	cond *Condition,
	out interface{},
) error {
	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(tableName),
		Key:                       key,
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeValues: exprAttrValues,
		ReturnValues:              types.ReturnValueAllNew,
	}
	if exprAttrNames != nil {
		input.ExpressionAttributeNames = exprAttrNames
	}
	if cond != nil {
		input.ConditionExpression = aws.String(cond.Expression)
		input.ExpressionAttributeValues = mergeValues(input.ExpressionAttributeValues, cond.Values)
		input.ExpressionAttributeNames = mergeNames(input.ExpressionAttributeNames, cond.Names)
	}

	res, err := c.svc.UpdateItem(ctx, input)
	if err != nil {
		return conditionErr("update item", tableName, err)
	}

	if out != nil {
		if err := attributevalue.UnmarshalMap(res.Attributes, out); err != nil {
			return fmt.Errorf("unmarshal updated item: %w", err)
		}
	}
	return nil
}

func (c *DynamoDBClient) QueryItems(
	ctx context.Context,
	tableName string,
	indexName *string,
	keyCondExpr string,
	exprAttrValues map[string]types.AttributeValue,
	exprAttrNames map[string]string,
	scanIndexForward *bool,
) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(tableName),
		KeyConditionExpression:    aws.String(keyCondExpr),
		ExpressionAttributeValues: exprAttrValues,
	}
	if indexName != nil {
		input.IndexName = indexName
	}
	if exprAttrNames != nil {
		input.ExpressionAttributeNames = exprAttrNames
	}
	if scanIndexForward != nil {
		input.ScanIndexForward = aws.Bool(*scanIndexForward)
	}

	out, err := c.svc.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query %s[%s]: %w", tableName, aws.ToString(indexName), err)
	}

	return out.Items, nil
}

func (c *DynamoDBClient) QueryItemsWithFilter(
	ctx context.Context,
	tableName string,
	indexName *string,
	keyCondExpr string,
	filterExpr *string,
	exprAttrValues map[string]types.AttributeValue,
	exprAttrNames map[string]string,
) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(tableName),
			KeyConditionExpression:    aws.String(keyCondExpr),
			ExpressionAttributeValues: exprAttrValues,
			ExclusiveStartKey:         lastEvaluatedKey,
		}
		if indexName != nil {
			input.IndexName = indexName
		}
		if filterExpr != nil {
			input.FilterExpression = filterExpr
		}
		if exprAttrNames != nil {
			input.ExpressionAttributeNames = exprAttrNames
		}

		out, err := c.svc.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s[%s]: %w", tableName, aws.ToString(indexName), err)
		}
		items = append(items, out.Items...)

		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		lastEvaluatedKey = out.LastEvaluatedKey
	}
}

// QueryPaginated returns one page of a key-condition query. DynamoDB applies
// Limit before any filter, so a page can be shorter than pageSize while more
// items remain; HasMore reports that.
func (c *DynamoDBClient) QueryPaginated(
	ctx context.Context,
	tableName string,
	indexName *string,
	keyCondExpr string,
	exprAttrValues map[string]types.AttributeValue,
	exprAttrNames map[string]string,
	pageSize int,
	lastEvaluatedKey map[string]types.AttributeValue,
	scanIndexForward *bool,
) (*PaginatedQueryResult, error) {
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(tableName),
		KeyConditionExpression:    aws.String(keyCondExpr),
		ExpressionAttributeValues: exprAttrValues,
		Limit:                     aws.Int32(int32(pageSize)),
	}
	if indexName != nil {
		input.IndexName = indexName
	}
	if exprAttrNames != nil {
		input.ExpressionAttributeNames = exprAttrNames
	}
	if lastEvaluatedKey != nil {
		input.ExclusiveStartKey = lastEvaluatedKey
	}
	if scanIndexForward != nil {
		input.ScanIndexForward = aws.Bool(*scanIndexForward)
	}

	result, err := c.svc.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query paginated %s[%s]: %w", tableName, aws.ToString(indexName), err)
	}

	return &PaginatedQueryResult{
		Items:            result.Items,
		LastEvaluatedKey: result.LastEvaluatedKey,
		HasMore:          result.LastEvaluatedKey != nil,
	}, nil
}

// ScanAll scans the whole table with an optional filter, following
// pagination internally.
func (c *DynamoDBClient) ScanAll(
	ctx context.Context,
	tableName string,
	filterExpr string,
	exprAttrValues map[string]types.AttributeValue,
	exprAttrNames map[string]string,
) ([]map[string]types.AttributeValue, error) {
	var allItems []map[string]types.AttributeValue
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName: aws.String(tableName),
		}
		if filterExpr != "" {
			input.FilterExpression = aws.String(filterExpr)
			input.ExpressionAttributeValues = exprAttrValues
		}
		if exprAttrNames != nil {
			input.ExpressionAttributeNames = exprAttrNames
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := c.svc.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan all %s: %w", tableName, err)
		}

		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

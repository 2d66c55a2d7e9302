// Package dynamo implements adapter.ResultStore on a DynamoDB table.
//
// Table layout: partition key "pk" is the sheet name and sort key "sk" is
// the row's leading cell (the document id). Sheet definitions live in the
// reserved "__sheets__" partition. Rows are written with a conditional put,
// so a document id can only ever be recorded once per sheet.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/invoicescout/internal/adapter"
)

const registryPartition = "__sheets__"

// Client is the subset of *dynamodb.Client used by Store.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type rowItem struct {
	PK        string    `dynamodbav:"pk"`
	SK        string    `dynamodbav:"sk"`
	Cells     []string  `dynamodbav:"cells"`
	CreatedAt time.Time `dynamodbav:"created_at"`
}

type sheetItem struct {
	PK        string    `dynamodbav:"pk"`
	SK        string    `dynamodbav:"sk"`
	Header    []string  `dynamodbav:"header"`
	CreatedAt time.Time `dynamodbav:"created_at"`
}

// Store is a DynamoDB-backed result store.
type Store struct {
	client Client
	table  string
	now    func() time.Time
}

// NewStore creates a Store on table.
func NewStore(client Client, table string) *Store {
	return &Store{client: client, table: table, now: time.Now}
}

// Title returns the table name.
func (s *Store) Title(context.Context) (string, error) {
	return s.table, nil
}

// ListSheets returns the registered sheet names ordered by name.
func (s *Store) ListSheets(ctx context.Context) ([]string, error) {
	var names []string
	var start map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, s.partitionQuery(registryPartition, start, 0))
		if err != nil {
			return nil, fmt.Errorf("failed to list sheets: %w", err)
		}
		for _, item := range out.Items {
			var sh sheetItem
			if err := attributevalue.UnmarshalMap(item, &sh); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sheet: %w", err)
			}
			names = append(names, sh.SK)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return names, nil
		}
		start = out.LastEvaluatedKey
	}
}

// EnsureSheet registers the sheet on first use and keeps its header current.
func (s *Store) EnsureSheet(ctx context.Context, name string, header []string) (bool, error) {
	if name == registryPartition {
		return false, fmt.Errorf("sheet name %q is reserved", name)
	}
	item, err := attributevalue.MarshalMap(sheetItem{
		PK:        registryPartition,
		SK:        name,
		Header:    header,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal sheet: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(sk)"),
	})
	if err == nil {
		return true, nil
	}
	if !isConditionFailed(err) {
		return false, fmt.Errorf("failed to register sheet: %w", err)
	}

	headerAV, err := attributevalue.Marshal(header)
	if err != nil {
		return false, fmt.Errorf("failed to marshal header: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              key(registryPartition, name),
		UpdateExpression: aws.String("SET header = :h"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": headerAV,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to update sheet header: %w", err)
	}
	return false, nil
}

// ReadRows pages through a sheet's rows in sort-key order. The cursor is the
// last sort key of the previous page.
func (s *Store) ReadRows(ctx context.Context, sheet, cursor string, limit int) (adapter.RowPage, error) {
	var start map[string]types.AttributeValue
	if cursor != "" {
		start = key(sheet, cursor)
	}
	out, err := s.client.Query(ctx, s.partitionQuery(sheet, start, limit))
	if err != nil {
		return adapter.RowPage{}, fmt.Errorf("failed to read rows: %w", err)
	}

	page := adapter.RowPage{Rows: make([][]string, 0, len(out.Items))}
	for _, item := range out.Items {
		var row rowItem
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			return adapter.RowPage{}, fmt.Errorf("failed to unmarshal row: %w", err)
		}
		page.Rows = append(page.Rows, row.Cells)
	}
	if sk, ok := out.LastEvaluatedKey["sk"].(*types.AttributeValueMemberS); ok {
		page.NextCursor = sk.Value
	}
	return page, nil
}

// AppendRows writes each row unless a row with the same leading cell already
// exists. Every row is attempted; ErrAlreadyExists is returned if any was
// skipped.
func (s *Store) AppendRows(ctx context.Context, sheet string, rows [][]string) error {
	skipped := 0
	for _, cells := range rows {
		if len(cells) == 0 || cells[0] == "" {
			return errors.New("row has no leading id cell")
		}
		item, err := attributevalue.MarshalMap(rowItem{
			PK:        sheet,
			SK:        cells[0],
			Cells:     cells,
			CreatedAt: s.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(sk)"),
		})
		if isConditionFailed(err) {
			skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if skipped > 0 {
		return fmt.Errorf("%d row(s) in %s: %w", skipped, sheet, adapter.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) partitionQuery(pk string, start map[string]types.AttributeValue, limit int) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ExclusiveStartKey: start,
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	return in
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

const (
	appointmentIndex = "appointmentId-index"
	dueIndex         = "status-sendAt-index"
	scheduleTTL      = 30 * 24 * time.Hour
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoScheduleStore keeps scheduled notifications in DynamoDB so they survive restarts.
// The table is keyed by id with two GSIs: appointmentId and (status, sendAt).
type DynamoScheduleStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

type dynamoScheduleItem struct {
	ScheduledNotification
	ExpiresAt int64 `dynamodbav:"expiresAt,omitempty"`
}

func NewDynamoScheduleStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoScheduleStore {
	if client == nil {
		panic("notify: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("notify: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoScheduleStore{client: client, tableName: tableName, logger: logger}
}

func (s *DynamoScheduleStore) Put(ctx context.Context, item *ScheduledNotification) error {
	if item == nil || item.ID == "" {
		return errors.New("notify: scheduled notification id required")
	}
	av, err := attributevalue.MarshalMap(dynamoScheduleItem{
		ScheduledNotification: *item,
		ExpiresAt:             item.SendAt.Add(scheduleTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("notify: failed to marshal scheduled notification: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("notify: failed to persist scheduled notification: %w", err)
	}
	return nil
}

func (s *DynamoScheduleStore) ListByAppointment(ctx context.Context, appointmentID string) ([]ScheduledNotification, error) {
	return s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(appointmentIndex),
		KeyConditionExpression: aws.String("appointmentId = :appt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":appt": &types.AttributeValueMemberS{Value: appointmentID},
		},
	}, 0)
}

func (s *DynamoScheduleStore) ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledNotification, error) {
	return s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(dueIndex),
		KeyConditionExpression: aws.String("#status = :status AND sendAt <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(ScheduleStatusScheduled)},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}, limit)
}

func (s *DynamoScheduleStore) query(ctx context.Context, input *dynamodb.QueryInput, limit int) ([]ScheduledNotification, error) {
	var out []ScheduledNotification
	for {
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("notify: query scheduled notifications: %w", err)
		}
		var items []ScheduledNotification
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("notify: failed to unmarshal scheduled notifications: %w", err)
		}
		out = append(out, items...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

func (s *DynamoScheduleStore) UpdateStatus(ctx context.Context, id string, status ScheduleStatus, attempts int, lastErr string, at time.Time) error {
	if id == "" {
		return errors.New("notify: scheduled notification id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
		UpdateExpression:    aws.String("SET #status = :status, attempts = :attempts, lastError = :err, updatedAt = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: string(status)},
			":attempts": &types.AttributeValueMemberN{Value: strconv.Itoa(attempts)},
			":err":      &types.AttributeValueMemberS{Value: lastErr},
			":updated":  &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrScheduleNotFound
		}
		return fmt.Errorf("notify: failed to update scheduled notification: %w", err)
	}
	return nil
}

var _ ScheduleStore = (*DynamoScheduleStore)(nil)

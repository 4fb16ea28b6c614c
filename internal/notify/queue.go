package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueNotifier hands notifications to an external delivery service over SQS.
type QueueNotifier struct {
	client   sqsAPI
	queueURL string
	logger   *logging.Logger
}

// NewQueueNotifier panics on a missing client or queue URL.
func NewQueueNotifier(client sqsAPI, queueURL string, logger *logging.Logger) *QueueNotifier {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueNotifier{client: client, queueURL: queueURL, logger: logger}
}

func (q *QueueNotifier) Send(ctx context.Context, note Notification) (Result, error) {
	note.Recipients = dedupe(note.Recipients)
	if len(note.Recipients) == 0 {
		return Result{}, ErrNoRecipients
	}
	if note.Priority == "" {
		note.Priority = PriorityNormal
	}

	body, err := json.Marshal(note)
	if err != nil {
		return Result{}, fmt.Errorf("notify: marshal notification: %w", err)
	}
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type":     {DataType: aws.String("String"), StringValue: aws.String(string(note.Type))},
			"priority": {DataType: aws.String("String"), StringValue: aws.String(string(note.Priority))},
		},
	})
	if err != nil {
		return Result{Failed: note.Recipients}, fmt.Errorf("notify: failed to send SQS message: %w", err)
	}
	q.logger.Debug("notification queued", "type", note.Type, "appointment_id", note.AppointmentID,
		"message_id", aws.ToString(out.MessageId))
	return Result{Delivered: note.Recipients}, nil
}

var _ Notifier = (*QueueNotifier)(nil)

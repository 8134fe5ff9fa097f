package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/medihim/ippo-platform/pkg/logging"
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue transports pipeline jobs over an SQS queue, for deployments where
// intake and pipeline workers are separate processes.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	logger   *logging.Logger
}

// NewSQSQueue creates an SQS-backed job queue.
func NewSQSQueue(client SQSAPI, queueURL string, logger *logging.Logger) *SQSQueue {
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSQueue{client: client, queueURL: queueURL, logger: logger}
}

var _ Queue = (*SQSQueue)(nil)

// Enqueue sends the job as a JSON message.
func (q *SQSQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("pipeline: marshal job: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("pipeline: sqs send: %w", err)
	}
	return nil
}

// Receive long-polls for one job. The ack deletes the message; an unacked
// message reappears after the visibility timeout, giving crashed workers
// at-least-once redelivery.
func (q *SQSQueue) Receive(ctx context.Context) (Job, func(), error) {
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			return Job{}, nil, fmt.Errorf("pipeline: sqs receive: %w", err)
		}
		if len(out.Messages) == 0 {
			if ctx.Err() != nil {
				return Job{}, nil, ctx.Err()
			}
			continue
		}

		msg := out.Messages[0]
		var job Job
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
			// Poison message: drop it so it cannot wedge the queue.
			q.logger.Error("dropping undecodable pipeline job", "error", err)
			q.delete(ctx, msg.ReceiptHandle)
			continue
		}

		receipt := msg.ReceiptHandle
		ack := func() { q.delete(context.WithoutCancel(ctx), receipt) }
		return job, ack, nil
	}
}

func (q *SQSQueue) delete(ctx context.Context, receiptHandle *string) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		q.logger.Error("failed to delete sqs message", "error", err)
	}
}
